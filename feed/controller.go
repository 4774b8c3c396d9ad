// Package feed holds the incremental post listing behind the home page: a
// controller seeded with a first page that appends further pages on demand.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/eringen/spacetraveling/content"
)

var (
	// ErrNoMorePages is returned by LoadMore once the cursor is exhausted.
	ErrNoMorePages = errors.New("feed: no more pages")
	// ErrLoadInProgress is returned by LoadMore while another call is pending.
	ErrLoadInProgress = errors.New("feed: load in progress")
	// ErrNotInitialized is returned by LoadMore before Initialize.
	ErrNotInitialized = errors.New("feed: not initialized")
	// ErrAlreadyInitialized is returned by a second Initialize.
	ErrAlreadyInitialized = errors.New("feed: already initialized")
	// ErrClosed is returned after Close, including by a LoadMore whose fetch
	// was pending when Close was called.
	ErrClosed = errors.New("feed: closed")
)

// LoadError reports a failed LoadMore. Cursor is the cursor that was
// requested; the controller still holds it so the call can be retried.
type LoadError struct {
	Cursor content.Cursor
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("feed: load more: %v", e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

var tracer = otel.Tracer("github.com/eringen/spacetraveling/feed")

// Controller owns the posts loaded so far and the cursor of the next page.
// Posts are append-only, in source order, and never deduplicated.
// It is safe for concurrent use; at most one LoadMore runs at a time.
type Controller struct {
	src content.Source
	log *slog.Logger

	mu       sync.Mutex
	posts    []content.Post
	cursor   content.Cursor
	loaded   bool
	inFlight bool
	closed   bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger used for load diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		c.log = l
	}
}

// NewController returns an idle controller that loads further pages from src.
func NewController(src content.Source, opts ...Option) *Controller {
	c := &Controller{src: src, log: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Initialize seeds the controller with a first page obtained by the caller.
// It may be called once.
func (c *Controller) Initialize(page content.Page) error {
	if err := validate(page.Results); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.closed:
		return ErrClosed
	case c.loaded:
		return ErrAlreadyInitialized
	}
	c.posts = slices.Clone(page.Results)
	c.cursor = page.NextCursor
	c.loaded = true
	return nil
}

// LoadMore fetches the page at the current cursor and appends its posts.
// It returns the appended posts. On failure the loaded posts and the cursor
// are left untouched and a *LoadError is returned.
func (c *Controller) LoadMore(ctx context.Context) ([]content.Post, error) {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return nil, ErrClosed
	case !c.loaded:
		c.mu.Unlock()
		return nil, ErrNotInitialized
	case c.cursor.IsZero():
		c.mu.Unlock()
		return nil, ErrNoMorePages
	case c.inFlight:
		c.mu.Unlock()
		return nil, ErrLoadInProgress
	}
	c.inFlight = true
	cursor := c.cursor
	c.mu.Unlock()

	ctx, span := tracer.Start(ctx, "feed.LoadMore")
	defer span.End()

	page, err := c.src.FetchPage(ctx, cursor)
	if err == nil {
		err = validate(page.Results)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.inFlight = false

	if c.closed {
		span.SetStatus(codes.Error, "closed while loading")
		return nil, ErrClosed
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		c.log.Warn("load more failed", "error", err)
		return nil, &LoadError{Cursor: cursor, Err: err}
	}

	c.posts = append(c.posts, page.Results...)
	c.cursor = page.NextCursor
	span.SetAttributes(
		attribute.Int("feed.appended", len(page.Results)),
		attribute.Int("feed.total", len(c.posts)),
		attribute.Bool("feed.has_more", !c.cursor.IsZero()),
	)
	c.log.Debug("loaded more posts", "appended", len(page.Results), "total", len(c.posts), "has_more", !c.cursor.IsZero())
	return slices.Clone(page.Results), nil
}

// CurrentPosts returns a copy of the posts loaded so far.
func (c *Controller) CurrentPosts() []content.Post {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.posts)
}

// HasMore reports whether a further page exists.
func (c *Controller) HasMore() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.cursor.IsZero()
}

// Loading reports whether a LoadMore call is pending.
func (c *Controller) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// Close disposes the controller. A pending LoadMore discards its result.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.posts = nil
	c.cursor = content.NoCursor
	c.mu.Unlock()
}

func validate(posts []content.Post) error {
	for i, p := range posts {
		if p.UID == "" {
			return fmt.Errorf("%w: post %d has no uid", content.ErrSourceMalformed, i)
		}
	}
	return nil
}
