package nettap

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// responseBody abstracts over the two underlying response
// representations: the legacy already-decoded text form and the
// stream form whose body may only be consumed once unless cloned.
type responseBody interface {
	bytes() ([]byte, error)
	contentType() string
}

type textBody struct {
	res *TextResponse
}

func (b textBody) bytes() ([]byte, error) { return []byte(b.res.Text), nil }

func (b textBody) contentType() string {
	if b.res.ContentType != "" {
		return b.res.ContentType
	}
	return b.res.Header.Get("Content-Type")
}

// streamBody clones an *http.Response body: it drains the stream and
// puts an equivalent reader back so the page's real consumer still
// sees the full payload.
type streamBody struct {
	res *http.Response
}

func (b streamBody) bytes() ([]byte, error) {
	if b.res.Body == nil {
		return nil, nil
	}
	raw, err := io.ReadAll(b.res.Body)
	b.res.Body.Close()
	b.res.Body = io.NopCloser(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func (b streamBody) contentType() string {
	return b.res.Header.Get("Content-Type")
}

func serialize(mode SerializationMode, body responseBody) (any, error) {
	switch mode {
	case ModeJSON:
		raw, err := body.bytes()
		if err != nil {
			return nil, err
		}
		var out any
		err = json.Unmarshal(raw, &out)
		if err != nil {
			return nil, err
		}
		return out, nil
	case ModeText:
		raw, err := body.bytes()
		if err != nil {
			return nil, err
		}
		return string(raw), nil
	case ModeDataURI:
		raw, err := body.bytes()
		if err != nil {
			return nil, err
		}
		ctype := body.contentType()
		if ctype == "" {
			ctype = "application/octet-stream"
		}
		return fmt.Sprintf(
			"data:%s;base64,%s",
			ctype,
			base64.StdEncoding.EncodeToString(raw),
		), nil
	default:
		return nil, fmt.Errorf("unknown serialization mode %q", string(mode))
	}
}
