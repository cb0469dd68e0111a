package htmlutil

import (
	"bytes"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

const autoSubmitPage = `<html>
<body onload="document.forms[0].submit()">
<form action="https://client.enervia.fr/espace-client/continue" method="post">
<input type="hidden" name="SAMLResponse" value="b64payload"/>
<input type="hidden" name="RelayState" value="/accueil"/>
<input type="hidden" value="anonymous"/>
</form>
</body>
</html>`

func TestExtractAutoSubmitForm(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewBufferString(autoSubmitPage))
	require.NoError(t, err)

	require.True(t, IsAutoSubmit(doc))

	form, ok := ExtractForm(doc)
	require.True(t, ok)
	require.Equal(t, "https://client.enervia.fr/espace-client/continue", form.Action)
	require.Equal(t, map[string]string{
		"SAMLResponse": "b64payload",
		"RelayState":   "/accueil",
	}, form.Fields)
}

func TestExtractFormMissing(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewBufferString(`<html><body><p>hi</p></body></html>`))
	require.NoError(t, err)

	require.False(t, IsAutoSubmit(doc))
	_, ok := ExtractForm(doc)
	require.False(t, ok)
}
