package content

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultCachePrefix = "spacetraveling:"

// CachedSource stores pages and posts fetched from another Source in Redis
// so that several site instances share one copy. Preview requests are never
// cached.
type CachedSource struct {
	next   Source
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
	log    *slog.Logger
}

// NewCachedSource wraps next with a Redis cache. An empty prefix defaults to
// "spacetraveling:".
func NewCachedSource(next Source, rdb *redis.Client, ttl time.Duration, prefix string, log *slog.Logger) *CachedSource {
	if prefix == "" {
		prefix = defaultCachePrefix
	}
	if log == nil {
		log = slog.Default()
	}
	return &CachedSource{
		next:   next,
		rdb:    rdb,
		ttl:    ttl,
		prefix: prefix,
		log:    log.With("component", "redis-cache"),
	}
}

// FetchPage implements Source.
func (c *CachedSource) FetchPage(ctx context.Context, cursor Cursor) (Page, error) {
	if RefFrom(ctx) != "" {
		return c.next.FetchPage(ctx, cursor)
	}
	ref, ok := c.version(ctx)
	if !ok {
		return c.next.FetchPage(ctx, cursor)
	}
	key := c.pageKey(ref, cursor)
	var page Page
	if c.lookup(ctx, key, &page) {
		return page, nil
	}
	page, err := c.next.FetchPage(ctx, cursor)
	if err != nil {
		return Page{}, err
	}
	c.store(ctx, key, page)
	return page, nil
}

// FetchByKey implements Source.
func (c *CachedSource) FetchByKey(ctx context.Context, uid string) (Post, error) {
	if RefFrom(ctx) != "" {
		return c.next.FetchByKey(ctx, uid)
	}
	ref, ok := c.version(ctx)
	if !ok {
		return c.next.FetchByKey(ctx, uid)
	}
	key := c.postKey(ref, uid)
	var post Post
	if c.lookup(ctx, key, &post) {
		return post, nil
	}
	post, err := c.next.FetchByKey(ctx, uid)
	if err != nil {
		return Post{}, err
	}
	c.store(ctx, key, post)
	return post, nil
}

// ResolvePreview delegates to the wrapped source when it supports previews.
func (c *CachedSource) ResolvePreview(ctx context.Context, token, documentID string) (string, error) {
	r, ok := c.next.(PreviewResolver)
	if !ok {
		return "", ErrNotFound
	}
	return r.ResolvePreview(ctx, token, documentID)
}

// Invalidate removes every cached entry under the prefix.
func (c *CachedSource) Invalidate(ctx context.Context) error {
	iter := c.rdb.Scan(ctx, 0, c.prefix+"*", 200).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}

// version returns the wrapped source's current ref, or "" when it is not
// Versioned. ok is false when the ref cannot be resolved; the cache is
// skipped then.
func (c *CachedSource) version(ctx context.Context) (ref string, ok bool) {
	v, isVersioned := c.next.(Versioned)
	if !isVersioned {
		return "", true
	}
	ref, err := v.MasterRef(ctx)
	if err != nil {
		c.log.Warn("resolve ref failed, skipping cache", "error", err)
		return "", false
	}
	return ref, true
}

// pageKey folds the ref into the key so a publish starts a new cache
// generation without waiting for the TTL.
func (c *CachedSource) pageKey(ref string, cursor Cursor) string {
	return c.prefix + "page:" + digest(ref+"\x00"+string(cursor))
}

func (c *CachedSource) postKey(ref, uid string) string {
	if ref == "" {
		return c.prefix + "post:" + uid
	}
	return c.prefix + "post:" + digest(ref) + ":" + uid
}

func (c *CachedSource) lookup(ctx context.Context, key string, out any) bool {
	b, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("cache read failed", "key", key, "error", err)
		}
		return false
	}
	if err := json.Unmarshal(b, out); err != nil {
		c.log.Warn("cache entry corrupt", "key", key, "error", err)
		return false
	}
	return true
}

func (c *CachedSource) store(ctx context.Context, key string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key, b, c.ttl).Err(); err != nil {
		c.log.Warn("cache write failed", "key", key, "error", err)
	}
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}
