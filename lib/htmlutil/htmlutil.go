package htmlutil

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		buffer.WriteString(node.Data)
		return
	}
	child := node.FirstChild
	for child != nil {
		getTextRecursive(child, buffer)
		child = child.NextSibling
	}
}

// Form is a flattened html form: its action url and every named
// input's value.
type Form struct {
	Action string
	Fields map[string]string
}

// IsAutoSubmit reports whether the document is one of those
// "continue" pages that posts itself from the body onload handler
// instead of answering with an http redirect.
func IsAutoSubmit(doc *goquery.Document) bool {
	onload := doc.Find("body").AttrOr("onload", "")
	return strings.Contains(onload, ".submit()")
}

// ExtractForm flattens the first form of the document. Unnamed inputs
// are dropped, later duplicates of a name win, matching what a browser
// would serialize on submit.
func ExtractForm(doc *goquery.Document) (Form, bool) {
	sel := doc.Find("form").First()
	if len(sel.Nodes) == 0 {
		return Form{}, false
	}

	form := Form{
		Action: sel.AttrOr("action", ""),
		Fields: map[string]string{},
	}
	sel.Find("input").Each(func(_ int, input *goquery.Selection) {
		name := input.AttrOr("name", "")
		if name == "" {
			return
		}
		form.Fields[name] = input.AttrOr("value", "")
	})
	return form, true
}
