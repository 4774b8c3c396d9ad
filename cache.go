package spacetraveling

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/eringen/spacetraveling/content"
	"github.com/eringen/spacetraveling/feed"
)

// PageCache is an in-memory TTL cache of the first listing page, the full
// post list and individual posts. Concurrent misses for the same entry share
// one fetch. Requests carrying a preview ref bypass it.
type PageCache struct {
	src   content.Source
	ttl   time.Duration
	log   *slog.Logger
	group singleflight.Group

	mu    sync.RWMutex
	gen   uint64
	first entry[content.Page]
	all   entry[[]content.Post]
	posts map[string]entry[content.Post]
}

type entry[T any] struct {
	value   T
	fetched time.Time
	ok      bool
}

func (e entry[T]) fresh(ttl time.Duration) bool {
	return e.ok && time.Since(e.fetched) < ttl
}

// NewPageCache creates a PageCache in front of src.
func NewPageCache(src content.Source, ttl time.Duration, log *slog.Logger) *PageCache {
	if log == nil {
		log = slog.Default()
	}
	return &PageCache{
		src:   src,
		ttl:   ttl,
		log:   log.With("component", "page-cache"),
		posts: make(map[string]entry[content.Post]),
	}
}

// Invalidate clears the cache so the next read triggers a fresh load.
// Loads already in flight are not stored.
func (c *PageCache) Invalidate() {
	c.mu.Lock()
	c.gen++
	c.first = entry[content.Page]{}
	c.all = entry[[]content.Post]{}
	c.posts = make(map[string]entry[content.Post])
	c.mu.Unlock()
}

// FirstPage returns the first listing page.
func (c *PageCache) FirstPage(ctx context.Context) (content.Page, error) {
	if content.RefFrom(ctx) != "" {
		return c.src.FetchPage(ctx, content.NoCursor)
	}
	c.mu.RLock()
	if c.first.fresh(c.ttl) {
		page := c.first.value
		c.mu.RUnlock()
		return clonePage(page), nil
	}
	gen := c.gen
	c.mu.RUnlock()

	v, err, _ := c.group.Do("first", func() (any, error) {
		page, err := c.src.FetchPage(context.WithoutCancel(ctx), content.NoCursor)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.gen == gen {
			c.first = entry[content.Page]{value: page, fetched: time.Now(), ok: true}
		}
		c.mu.Unlock()
		return page, nil
	})
	if err != nil {
		return content.Page{}, err
	}
	return clonePage(v.(content.Page)), nil
}

// AllPosts returns every post, following the listing until it is exhausted.
func (c *PageCache) AllPosts(ctx context.Context) ([]content.Post, error) {
	if content.RefFrom(ctx) != "" {
		return feed.All(ctx, c.src, feed.WithLogger(c.log))
	}
	c.mu.RLock()
	if c.all.fresh(c.ttl) {
		posts := c.all.value
		c.mu.RUnlock()
		return slices.Clone(posts), nil
	}
	gen := c.gen
	c.mu.RUnlock()

	v, err, _ := c.group.Do("all", func() (any, error) {
		posts, err := feed.All(context.WithoutCancel(ctx), c.src, feed.WithLogger(c.log))
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.gen == gen {
			c.all = entry[[]content.Post]{value: posts, fetched: time.Now(), ok: true}
		}
		c.mu.Unlock()
		c.log.Debug("loaded all posts", "count", len(posts))
		return posts, nil
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(v.([]content.Post)), nil
}

// Post returns the full post with the given uid. Misses are not cached.
func (c *PageCache) Post(ctx context.Context, uid string) (content.Post, error) {
	if content.RefFrom(ctx) != "" {
		return c.src.FetchByKey(ctx, uid)
	}
	c.mu.RLock()
	if e, ok := c.posts[uid]; ok && e.fresh(c.ttl) {
		c.mu.RUnlock()
		return e.value, nil
	}
	gen := c.gen
	c.mu.RUnlock()

	v, err, _ := c.group.Do("post:"+uid, func() (any, error) {
		post, err := c.src.FetchByKey(context.WithoutCancel(ctx), uid)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.gen == gen {
			c.posts[uid] = entry[content.Post]{value: post, fetched: time.Now(), ok: true}
		}
		c.mu.Unlock()
		return post, nil
	})
	if err != nil {
		return content.Post{}, err
	}
	return v.(content.Post), nil
}

func clonePage(p content.Page) content.Page {
	return content.Page{Results: slices.Clone(p.Results), NextCursor: p.NextCursor}
}
