package feed

import (
	"context"
	"errors"

	"github.com/eringen/spacetraveling/content"
)

// Start fetches the first page from src and returns a controller seeded
// with it. It is meant for callers without an out-of-band first page, such
// as build-time jobs.
func Start(ctx context.Context, src content.Source, opts ...Option) (*Controller, error) {
	page, err := src.FetchPage(ctx, content.NoCursor)
	if err != nil {
		return nil, &LoadError{Err: err}
	}
	c := NewController(src, opts...)
	if err := c.Initialize(page); err != nil {
		return nil, err
	}
	return c, nil
}

// Drain calls LoadMore until the listing is exhausted and returns every
// loaded post. It stops at the first error.
func Drain(ctx context.Context, c *Controller) ([]content.Post, error) {
	for c.HasMore() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, err := c.LoadMore(ctx); err != nil {
			if errors.Is(err, ErrNoMorePages) {
				break
			}
			return nil, err
		}
	}
	return c.CurrentPosts(), nil
}

// All fetches every post from src, page by page.
func All(ctx context.Context, src content.Source, opts ...Option) ([]content.Post, error) {
	c, err := Start(ctx, src, opts...)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	return Drain(ctx, c)
}
