package content

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type countingSource struct {
	pages int
	posts int
}

func (s *countingSource) FetchPage(ctx context.Context, cursor Cursor) (Page, error) {
	s.pages++
	return Page{Results: []Post{{UID: "a", Title: "A"}}, NextCursor: "next"}, nil
}

func (s *countingSource) FetchByKey(ctx context.Context, uid string) (Post, error) {
	s.posts++
	return Post{UID: uid, Title: "T"}, nil
}

// versionedSource reports a master ref that tests bump to simulate a publish.
type versionedSource struct {
	countingSource
	ref string
	err error
}

func (s *versionedSource) MasterRef(ctx context.Context) (string, error) {
	return s.ref, s.err
}

// newTestRedis connects to REDIS_ADDR; tests are skipped when it is unset.
func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not reachable: %v", err)
	}
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestCachedSourceCachesPagesAndPosts(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()
	next := &countingSource{}
	c := NewCachedSource(next, rdb, time.Minute, "spacetraveling-test:"+t.Name()+":", nil)
	t.Cleanup(func() { _ = c.Invalidate(ctx) })

	for i := 0; i < 3; i++ {
		page, err := c.FetchPage(ctx, NoCursor)
		if err != nil {
			t.Fatalf("FetchPage: %v", err)
		}
		if len(page.Results) != 1 || page.NextCursor != "next" {
			t.Fatalf("page = %+v", page)
		}
		if _, err := c.FetchByKey(ctx, "a"); err != nil {
			t.Fatalf("FetchByKey: %v", err)
		}
	}
	if next.pages != 1 || next.posts != 1 {
		t.Errorf("upstream calls pages=%d posts=%d, want 1/1", next.pages, next.posts)
	}

	if err := c.Invalidate(ctx); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, err := c.FetchPage(ctx, NoCursor); err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if next.pages != 2 {
		t.Errorf("after invalidate upstream page calls = %d, want 2", next.pages)
	}
}

func TestCachedSourceBypassesPreview(t *testing.T) {
	rdb := newTestRedis(t)
	next := &countingSource{}
	c := NewCachedSource(next, rdb, time.Minute, "spacetraveling-test:"+t.Name()+":", nil)
	ctx := WithRef(context.Background(), "preview")
	t.Cleanup(func() { _ = c.Invalidate(context.Background()) })

	for i := 0; i < 2; i++ {
		if _, err := c.FetchPage(ctx, NoCursor); err != nil {
			t.Fatalf("FetchPage: %v", err)
		}
	}
	if next.pages != 2 {
		t.Errorf("preview page calls = %d, want 2", next.pages)
	}
}

func TestCachedSourceKeysFollowRef(t *testing.T) {
	c := NewCachedSource(&countingSource{}, nil, time.Minute, "", nil)
	if c.pageKey("M1", NoCursor) == c.pageKey("M2", NoCursor) {
		t.Error("first page key should change with the ref")
	}
	if c.pageKey("M1", NoCursor) == c.pageKey("M1", "next") {
		t.Error("page key should change with the cursor")
	}
	if c.postKey("M1", "a") == c.postKey("M2", "a") {
		t.Error("post key should change with the ref")
	}
	if got := c.postKey("", "a"); got != "spacetraveling:post:a" {
		t.Errorf("unversioned post key = %q", got)
	}
}

func TestCachedSourceSkipsCacheWhenRefFails(t *testing.T) {
	next := &versionedSource{err: ErrSourceUnavailable}
	// A nil client would panic if the cache were touched.
	c := NewCachedSource(next, nil, time.Minute, "", nil)
	for i := 0; i < 2; i++ {
		if _, err := c.FetchPage(context.Background(), NoCursor); err != nil {
			t.Fatalf("FetchPage: %v", err)
		}
	}
	if next.pages != 2 {
		t.Errorf("upstream page calls = %d, want 2", next.pages)
	}
}

func TestCachedSourceNewRefMissesCache(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()
	next := &versionedSource{ref: "M1"}
	c := NewCachedSource(next, rdb, time.Minute, "spacetraveling-test:"+t.Name()+":", nil)
	t.Cleanup(func() { _ = c.Invalidate(ctx) })

	for i := 0; i < 2; i++ {
		if _, err := c.FetchPage(ctx, NoCursor); err != nil {
			t.Fatalf("FetchPage: %v", err)
		}
		if _, err := c.FetchByKey(ctx, "a"); err != nil {
			t.Fatalf("FetchByKey: %v", err)
		}
	}
	if next.pages != 1 || next.posts != 1 {
		t.Fatalf("upstream calls pages=%d posts=%d, want 1/1", next.pages, next.posts)
	}

	next.ref = "M2"
	if _, err := c.FetchPage(ctx, NoCursor); err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if _, err := c.FetchByKey(ctx, "a"); err != nil {
		t.Fatalf("FetchByKey: %v", err)
	}
	if next.pages != 2 || next.posts != 2 {
		t.Errorf("after publish upstream calls pages=%d posts=%d, want 2/2", next.pages, next.posts)
	}
}

func TestRefContext(t *testing.T) {
	ctx := context.Background()
	if RefFrom(ctx) != "" {
		t.Error("empty context should carry no ref")
	}
	if got := RefFrom(WithRef(ctx, "abc")); got != "abc" {
		t.Errorf("RefFrom = %q, want abc", got)
	}
	if WithRef(ctx, "") != ctx {
		t.Error("WithRef with empty ref should return ctx unchanged")
	}
}
