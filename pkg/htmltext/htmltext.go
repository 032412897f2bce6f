// Package htmltext flattens rendered HTML back into plain text.
package htmltext

import (
	"strings"

	"golang.org/x/net/html"
)

// PlainText returns the text content of s with tags removed and whitespace collapsed.
// Block-level boundaries become single spaces.
func PlainText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.Join(strings.Fields(s), " ")
	}
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(b.String()), " ")
		case html.TextToken:
			b.Write(z.Text())
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			b.WriteByte(' ')
		}
	}
}
