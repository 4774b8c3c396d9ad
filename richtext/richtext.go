// Package richtext models Prismic structured text and renders it to HTML as a
// templ component.
package richtext

import (
	"bytes"
	"context"
	"html"
	"io"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/a-h/templ"
)

// Element types emitted by the content service.
const (
	TypeParagraph    = "paragraph"
	TypePreformatted = "preformatted"
	TypeHeading1     = "heading1"
	TypeHeading2     = "heading2"
	TypeHeading3     = "heading3"
	TypeHeading4     = "heading4"
	TypeHeading5     = "heading5"
	TypeHeading6     = "heading6"
	TypeListItem     = "list-item"
	TypeOListItem    = "o-list-item"
	TypeImage        = "image"
)

// Span types.
const (
	SpanStrong    = "strong"
	SpanEm        = "em"
	SpanHyperlink = "hyperlink"
)

// SpanData carries the payload of a hyperlink span.
type SpanData struct {
	LinkType string `json:"link_type,omitempty"`
	URL      string `json:"url,omitempty"`
	Target   string `json:"target,omitempty"`
}

// Span marks a formatted range of an element's text. Start and End are
// UTF-16 code unit offsets, as produced by the content service.
type Span struct {
	Start int       `json:"start"`
	End   int       `json:"end"`
	Type  string    `json:"type"`
	Data  *SpanData `json:"data,omitempty"`
}

// Element is one block of structured text.
type Element struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Spans []Span `json:"spans"`

	// image elements
	URL        string      `json:"url,omitempty"`
	Alt        string      `json:"alt,omitempty"`
	Dimensions *Dimensions `json:"dimensions,omitempty"`
}

// Dimensions of an image element.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// RichText is an ordered sequence of elements.
type RichText []Element

// Text joins the plain text of every element with a single space.
func (rt RichText) Text() string {
	parts := make([]string, 0, len(rt))
	for _, el := range rt {
		if el.Text != "" {
			parts = append(parts, el.Text)
		}
	}
	return strings.Join(parts, " ")
}

// Render returns a templ.Component that writes rt as HTML.
func Render(rt RichText) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var buf bytes.Buffer
		RenderHTML(&buf, rt)
		_, err := w.Write(buf.Bytes())
		return err
	})
}

// RenderHTML writes the HTML representation of rt to buf. Consecutive list
// items are grouped into a single list.
func RenderHTML(buf *bytes.Buffer, rt RichText) {
	inList := false
	inOrderedList := false

	flushList := func() {
		if inList {
			buf.WriteString("</ul>")
			inList = false
		}
	}
	flushOrderedList := func() {
		if inOrderedList {
			buf.WriteString("</ol>")
			inOrderedList = false
		}
	}

	for _, el := range rt {
		switch el.Type {
		case TypeListItem:
			flushOrderedList()
			if !inList {
				buf.WriteString("<ul>")
				inList = true
			}
			buf.WriteString("<li>")
			buf.WriteString(FormatSpans(el.Text, el.Spans))
			buf.WriteString("</li>")
			continue
		case TypeOListItem:
			flushList()
			if !inOrderedList {
				buf.WriteString("<ol>")
				inOrderedList = true
			}
			buf.WriteString("<li>")
			buf.WriteString(FormatSpans(el.Text, el.Spans))
			buf.WriteString("</li>")
			continue
		}

		flushList()
		flushOrderedList()

		switch el.Type {
		case TypeHeading1, TypeHeading2, TypeHeading3, TypeHeading4, TypeHeading5, TypeHeading6:
			tag := "h" + el.Type[len(el.Type)-1:]
			buf.WriteString("<" + tag + ">")
			buf.WriteString(FormatSpans(el.Text, el.Spans))
			buf.WriteString("</" + tag + ">")
		case TypePreformatted:
			buf.WriteString("<pre>")
			buf.WriteString(html.EscapeString(el.Text))
			buf.WriteString("</pre>")
		case TypeImage:
			src := SafeURL(el.URL)
			if src == "" {
				continue
			}
			buf.WriteString(`<img src="` + src + `" alt="` + html.EscapeString(el.Alt) + `"`)
			if el.Dimensions != nil {
				buf.WriteString(` width="` + strconv.Itoa(el.Dimensions.Width) + `" height="` + strconv.Itoa(el.Dimensions.Height) + `"`)
			}
			buf.WriteString(` loading="lazy" decoding="async"/>`)
		default:
			buf.WriteString("<p>")
			buf.WriteString(FormatSpans(el.Text, el.Spans))
			buf.WriteString("</p>")
		}
	}
	flushList()
	flushOrderedList()
}

// FormatSpans escapes text and wraps the ranges covered by spans in their
// inline tags. Overlapping spans are closed and reopened so the output is
// always well nested.
func FormatSpans(text string, spans []Span) string {
	units := utf16.Encode([]rune(text))
	valid := make([]Span, 0, len(spans))
	for _, s := range spans {
		if s.Start < 0 || s.End > len(units) || s.Start >= s.End {
			continue
		}
		if s.Type != SpanStrong && s.Type != SpanEm && s.Type != SpanHyperlink {
			continue
		}
		valid = append(valid, s)
	}
	if len(valid) == 0 {
		return html.EscapeString(text)
	}
	sort.SliceStable(valid, func(i, j int) bool {
		if valid[i].Start != valid[j].Start {
			return valid[i].Start < valid[j].Start
		}
		return valid[i].End > valid[j].End
	})

	bounds := map[int]struct{}{0: {}, len(units): {}}
	for _, s := range valid {
		bounds[s.Start] = struct{}{}
		bounds[s.End] = struct{}{}
	}
	points := make([]int, 0, len(bounds))
	for p := range bounds {
		points = append(points, p)
	}
	sort.Ints(points)

	var b strings.Builder
	var open []int // indexes into valid, outermost first
	for i := 0; i+1 < len(points); i++ {
		from, to := points[i], points[i+1]
		var active []int
		for idx, s := range valid {
			if s.Start <= from && s.End >= to {
				active = append(active, idx)
			}
		}
		common := 0
		for common < len(open) && common < len(active) && open[common] == active[common] {
			common++
		}
		for j := len(open) - 1; j >= common; j-- {
			b.WriteString(closeTag(valid[open[j]]))
		}
		for _, idx := range active[common:] {
			b.WriteString(openTag(valid[idx]))
		}
		open = active
		b.WriteString(html.EscapeString(string(utf16.Decode(units[from:to]))))
	}
	for j := len(open) - 1; j >= 0; j-- {
		b.WriteString(closeTag(valid[open[j]]))
	}
	return b.String()
}

func openTag(s Span) string {
	switch s.Type {
	case SpanStrong:
		return "<strong>"
	case SpanEm:
		return "<em>"
	default:
		href := ""
		target := ""
		if s.Data != nil {
			href = SafeURL(s.Data.URL)
			target = s.Data.Target
		}
		if href == "" {
			return "<a>"
		}
		attrs := `href="` + href + `"`
		if target == "_blank" {
			attrs += ` target="_blank" rel="noopener noreferrer"`
		}
		return "<a " + attrs + ">"
	}
}

func closeTag(s Span) string {
	switch s.Type {
	case SpanStrong:
		return "</strong>"
	case SpanEm:
		return "</em>"
	default:
		return "</a>"
	}
}

// SafeURL validates and sanitizes a URL for use in HTML attributes.
func SafeURL(raw string) string {
	val := strings.TrimSpace(raw)
	if val == "" {
		return ""
	}
	if strings.HasPrefix(val, "/") || strings.HasPrefix(val, "#") {
		return html.EscapeString(val)
	}
	parsed, err := url.Parse(val)
	if err != nil || parsed.Scheme == "" {
		return ""
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https", "mailto", "tel":
		return html.EscapeString(val)
	default:
		return ""
	}
}
