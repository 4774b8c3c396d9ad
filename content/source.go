// Package content defines the post model consumed by the site and the
// adapters that fetch it from a headless content service.
package content

import (
	"context"
	"errors"
	"time"

	"github.com/eringen/spacetraveling/richtext"
)

var (
	// ErrSourceUnavailable is returned when the content service cannot be
	// reached or answers with a failure status.
	ErrSourceUnavailable = errors.New("content: source unavailable")
	// ErrSourceMalformed is returned when a response cannot be decoded into
	// the Post/Page shape.
	ErrSourceMalformed = errors.New("content: malformed response")
	// ErrNotFound is returned by FetchByKey for an unknown uid.
	ErrNotFound = errors.New("content: post not found")
)

// Cursor is an opaque pagination token. The zero value means there are no
// further pages (or, when passed to FetchPage, requests the first page).
type Cursor string

// NoCursor requests the first page and marks an exhausted listing.
const NoCursor Cursor = ""

// IsZero reports whether c is the empty cursor.
func (c Cursor) IsZero() bool {
	return c == NoCursor
}

// Image is a banner or inline image reference.
type Image struct {
	URL    string `json:"url,omitempty"`
	Alt    string `json:"alt,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// Block is one section of a post body: a heading followed by rich text.
type Block struct {
	Heading string            `json:"heading"`
	Body    richtext.RichText `json:"body"`
}

// Post is a published document. Listing pages may carry only the summary
// fields; FetchByKey returns the full document.
type Post struct {
	UID                  string     `json:"uid"`
	FirstPublicationDate *time.Time `json:"first_publication_date"`
	LastPublicationDate  *time.Time `json:"last_publication_date,omitempty"`
	Title                string     `json:"title"`
	Subtitle             string     `json:"subtitle"`
	Author               string     `json:"author"`
	Banner               Image      `json:"banner"`
	Content              []Block    `json:"content,omitempty"`
}

// Edited reports whether the post was republished after its first
// publication.
func (p Post) Edited() bool {
	if p.FirstPublicationDate == nil || p.LastPublicationDate == nil {
		return false
	}
	return p.LastPublicationDate.After(*p.FirstPublicationDate)
}

// Page is one fetch worth of posts in source order.
type Page struct {
	Results    []Post `json:"results"`
	NextCursor Cursor `json:"next_cursor,omitempty"`
}

// Source fetches posts from a content repository. Implementations own all
// query parameters; callers only pass cursors and keys.
type Source interface {
	// FetchPage returns the page starting at cursor; NoCursor requests the
	// first page.
	FetchPage(ctx context.Context, cursor Cursor) (Page, error)

	// FetchByKey returns the full post with the given uid.
	FetchByKey(ctx context.Context, uid string) (Post, error)
}

// Versioned is implemented by sources whose published content is identified
// by a ref that changes on every publish.
type Versioned interface {
	MasterRef(ctx context.Context) (string, error)
}

// PreviewResolver is implemented by sources that support preview sessions.
type PreviewResolver interface {
	// ResolvePreview returns the uid of documentID as seen through the
	// preview token.
	ResolvePreview(ctx context.Context, token, documentID string) (string, error)
}

type refKey struct{}

// WithRef returns a context that asks sources to read content at ref
// instead of the published version.
func WithRef(ctx context.Context, ref string) context.Context {
	if ref == "" {
		return ctx
	}
	return context.WithValue(ctx, refKey{}, ref)
}

// RefFrom returns the preview ref carried by ctx, if any.
func RefFrom(ctx context.Context) string {
	ref, _ := ctx.Value(refKey{}).(string)
	return ref
}
