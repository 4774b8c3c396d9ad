// Package views holds the default templates of the site. The pages are
// templ components in pages.templ; pages_templ.go is generated from it.
package views

import "github.com/eringen/spacetraveling/content"

// SiteConfig holds the site-wide settings templates need.
// Every handler passes this to templates so nothing is hardcoded.
type SiteConfig struct {
	Name          string // SITE_NAME
	URL           string // SITE_URL
	Description   string // SITE_DESCRIPTION
	Author        string // SITE_AUTHOR
	CommentsRepo  string // utterances repository, empty disables comments
	CommentsTheme string
}

// PageMeta carries per-page OpenGraph and SEO metadata into the <head> template.
type PageMeta struct {
	Title       string
	Description string
	URL         string // canonical + og:url
	OGType      string // "website" or "article"
	Image       string
	JSONLD      string
}

// HomeData is rendered by Home.
type HomeData struct {
	Site    SiteConfig
	Posts   []content.Post
	HasMore bool
	Preview bool
	CSRF    string
}

// MoreData is rendered by MorePosts, the fragment appended by load more.
type MoreData struct {
	Posts   []content.Post
	HasMore bool
}

// PostData is rendered by Post.
type PostData struct {
	Site      SiteConfig
	Post      content.Post
	BannerURL string
	Preview   bool
}
