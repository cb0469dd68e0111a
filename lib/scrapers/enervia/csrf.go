package enervia

import (
	"context"
	"fmt"
	"strconv"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/codes"

	"docharvest/lib/timezone"
)

// CSRFToken fetches a fresh anti-forgery token. The portal treats
// tokens as short-lived and consumed on use, so there is deliberately
// no caching here: call it immediately before building each document
// url, never in a batch up front.
func (c *Client) CSRFToken(ctx context.Context) (string, error) {
	ctx, span := tracer.Start(ctx, "CSRFToken")
	defer span.End()

	res, err := c.Http.R().
		SetContext(ctx).
		SetQueryParam("_", strconv.FormatInt(timezone.Now().UnixMilli(), 10)).
		Get("/services/rest/init/initPage")
	if err != nil {
		span.SetStatus(codes.Error, "failed to fetch csrf token")
		return "", fmt.Errorf("%w: %s", ErrVendorUnavailable, err)
	}
	if res.StatusCode() != 200 {
		span.SetStatus(codes.Error, "csrf endpoint returned an error status")
		return "", fmt.Errorf("%w: csrf endpoint returned status %d", ErrVendorUnavailable, res.StatusCode())
	}

	token := gjson.GetBytes(res.Body(), "data").String()
	if token == "" {
		span.SetStatus(codes.Error, "csrf token missing from payload")
		return "", fmt.Errorf("%w: no csrf token in payload", ErrMalformedResponse)
	}
	return token, nil
}
