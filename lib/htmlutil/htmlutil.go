// Package htmlutil holds small helpers shared by the HTML scraping
// packages.
package htmlutil

import (
	"bytes"

	"github.com/PuerkitoBio/goquery"
)

// ParseDocument wraps goquery parsing of a raw response body.
func ParseDocument(body []byte) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(bytes.NewBuffer(body))
}

// OuterHTML renders the first node of a selection, including the node
// itself. Returns "" when the selection is empty or rendering fails.
func OuterHTML(sel *goquery.Selection) string {
	if len(sel.Nodes) == 0 {
		return ""
	}
	out, err := goquery.OuterHtml(sel.First())
	if err != nil {
		return ""
	}
	return out
}
