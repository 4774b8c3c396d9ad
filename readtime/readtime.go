// Package readtime estimates how long a post takes to read.
package readtime

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/eringen/spacetraveling/content"
)

// WordsPerMinute is the assumed reading speed.
const WordsPerMinute = 150

// Minutes returns the whole minutes needed to read blocks, rounded down.
// Posts shorter than WordsPerMinute words report zero.
func Minutes(blocks []content.Block) int {
	return Words(blocks) / WordsPerMinute
}

// Words counts the whitespace-separated words across every heading and body
// of blocks. Markup embedded in the text is not counted.
func Words(blocks []content.Block) int {
	n := 0
	for _, b := range blocks {
		n += Count(b.Heading)
		for _, el := range b.Body {
			n += Count(el.Text)
		}
	}
	return n
}

// Count returns the number of words in s after removing HTML tags.
func Count(s string) int {
	return len(strings.Fields(StripTags(s)))
}

// StripTags returns the text content of s with entities decoded. Tags are
// replaced by a space so adjacent elements do not merge into one word.
func StripTags(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return s
	}
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			b.Write(z.Text())
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			b.WriteByte(' ')
		}
	}
}
