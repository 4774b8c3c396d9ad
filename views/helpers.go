package views

import (
	"encoding/json"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/a-h/templ"

	"github.com/eringen/spacetraveling/content"
	"github.com/eringen/spacetraveling/readtime"
)

// ptBRMonths are the abbreviated month names used by pt-BR dates.
var ptBRMonths = [...]string{"jan", "fev", "mar", "abr", "mai", "jun", "jul", "ago", "set", "out", "nov", "dez"}

// buildURL joins path segments onto a base URL, ensuring a trailing slash.
// It matches spacetraveling.BuildURL so canonical links agree with the sitemap.
func buildURL(base string, pathSegments ...string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	u.Path = path.Join(u.Path, path.Join(pathSegments...))
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return u.String()
}

// PostPath is the site-relative link to a post.
func PostPath(uid string) string {
	return "/post/" + url.PathEscape(uid) + "/"
}

// FormatDate renders t as "15 mar 2021". A nil time renders empty.
func FormatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return twoDigits(t.Day()) + " " + ptBRMonths[t.Month()-1] + " " + strconv.Itoa(t.Year())
}

// FormatEdited renders the edition note of a republished post,
// "* editado em 19 mar 2021, às 15:49".
func FormatEdited(t *time.Time) string {
	if t == nil {
		return ""
	}
	return "* editado em " + FormatDate(t) + ", às " + twoDigits(t.Hour()) + ":" + twoDigits(t.Minute())
}

// ReadingTime renders the estimated reading time, "4 min".
func ReadingTime(blocks []content.Block) string {
	return strconv.Itoa(readtime.Minutes(blocks)) + " min"
}

func homeMeta(site SiteConfig) PageMeta {
	return PageMeta{
		Title:       "Home | " + site.Name,
		Description: site.Description,
		URL:         buildURL(site.URL),
		OGType:      "website",
		JSONLD:      WebsiteJsonLD(site),
	}
}

func postMeta(site SiteConfig, post content.Post) PageMeta {
	return PageMeta{
		Title:       post.Title + " | " + site.Name,
		Description: post.Subtitle,
		URL:         buildURL(site.URL, "post", post.UID),
		OGType:      "article",
		Image:       post.Banner.URL,
		JSONLD:      BlogPostingJsonLD(site, post),
	}
}

// jsonLDScript wraps an encoded JSON-LD document in its script element.
// The document comes from marshalJSONLD, which escapes '<'.
func jsonLDScript(doc string) templ.Component {
	return templ.Raw(`<script type="application/ld+json">` + doc + `</script>`)
}

func twoDigits(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}

// WebsiteJsonLD produces a Schema.org WebSite JSON-LD block using cfg values.
func WebsiteJsonLD(cfg SiteConfig) string {
	data := map[string]interface{}{
		"@context":   "https://schema.org",
		"@type":      "WebSite",
		"name":       cfg.Name,
		"url":        buildURL(cfg.URL),
		"inLanguage": "pt-BR",
	}
	if cfg.Description != "" {
		data["description"] = cfg.Description
	}
	if cfg.Author != "" {
		data["author"] = map[string]string{
			"@type": "Person",
			"name":  cfg.Author,
		}
	}
	return marshalJSONLD(data)
}

// BlogPostingJsonLD produces a Schema.org BlogPosting JSON-LD block for a post.
func BlogPostingJsonLD(cfg SiteConfig, post content.Post) string {
	postURL := buildURL(cfg.URL, "post", post.UID)
	data := map[string]interface{}{
		"@context":     "https://schema.org",
		"@type":        "BlogPosting",
		"headline":     post.Title,
		"description":  post.Subtitle,
		"url":          postURL,
		"inLanguage":   "pt-BR",
		"timeRequired": "PT" + strconv.Itoa(readtime.Minutes(post.Content)) + "M",
		"publisher": map[string]string{
			"@type": "Organization",
			"name":  cfg.Name,
		},
		"mainEntityOfPage": map[string]string{
			"@type": "WebPage",
			"@id":   postURL,
		},
	}
	if post.FirstPublicationDate != nil {
		data["datePublished"] = post.FirstPublicationDate.Format(time.RFC3339)
	}
	if post.Edited() {
		data["dateModified"] = post.LastPublicationDate.Format(time.RFC3339)
	}
	if post.Author != "" {
		data["author"] = map[string]string{
			"@type": "Person",
			"name":  post.Author,
		}
	}
	if post.Banner.URL != "" {
		data["image"] = post.Banner.URL
	}
	return marshalJSONLD(data)
}

// marshalJSONLD encodes v for a <script> element; HTML-sensitive characters
// are escaped by encoding/json.
func marshalJSONLD(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
