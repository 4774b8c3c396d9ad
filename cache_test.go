package spacetraveling

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eringen/spacetraveling/content"
)

// memSource serves posts in pages of pageSize with decimal offset cursors.
// Token "good" resolves document "doc-<uid>" to uid in previews.
type memSource struct {
	mu        sync.Mutex
	posts     []content.Post
	pageSize  int
	fail      error
	refs      []string
	pageCalls atomic.Int32
	postCalls atomic.Int32
	delay     time.Duration

	// When hold is set, fetches past the first page signal held and wait
	// until hold is closed.
	hold chan struct{}
	held chan struct{}
}

func newMemSource(pageSize int, posts ...content.Post) *memSource {
	return &memSource{posts: posts, pageSize: pageSize}
}

func (s *memSource) setFail(err error) {
	s.mu.Lock()
	s.fail = err
	s.mu.Unlock()
}

func (s *memSource) lastRef() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.refs) == 0 {
		return ""
	}
	return s.refs[len(s.refs)-1]
}

func (s *memSource) FetchPage(ctx context.Context, cursor content.Cursor) (content.Page, error) {
	s.pageCalls.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.hold != nil && !cursor.IsZero() {
		s.held <- struct{}{}
		<-s.hold
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs = append(s.refs, content.RefFrom(ctx))
	if s.fail != nil {
		return content.Page{}, s.fail
	}
	offset := 0
	if !cursor.IsZero() {
		n, err := strconv.Atoi(string(cursor))
		if err != nil {
			return content.Page{}, fmt.Errorf("%w: cursor %q", content.ErrSourceMalformed, cursor)
		}
		offset = n
	}
	end := min(offset+s.pageSize, len(s.posts))
	page := content.Page{Results: append([]content.Post(nil), s.posts[offset:end]...)}
	if end < len(s.posts) {
		page.NextCursor = content.Cursor(strconv.Itoa(end))
	}
	return page, nil
}

func (s *memSource) FetchByKey(ctx context.Context, uid string) (content.Post, error) {
	s.postCalls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs = append(s.refs, content.RefFrom(ctx))
	if s.fail != nil {
		return content.Post{}, s.fail
	}
	for _, p := range s.posts {
		if p.UID == uid {
			return p, nil
		}
	}
	return content.Post{}, fmt.Errorf("%w: %s", content.ErrNotFound, uid)
}

func (s *memSource) ResolvePreview(ctx context.Context, token, documentID string) (string, error) {
	if token != "good" {
		return "", content.ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.posts {
		if "doc-"+p.UID == documentID {
			return p.UID, nil
		}
	}
	return "", content.ErrNotFound
}

func TestPageCacheFirstPage(t *testing.T) {
	src := newMemSource(2, testPost("a", 3), testPost("b", 2), testPost("c", 1))
	c := NewPageCache(src, time.Minute, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		page, err := c.FirstPage(ctx)
		if err != nil {
			t.Fatalf("FirstPage: %v", err)
		}
		if len(page.Results) != 2 || page.NextCursor != "2" {
			t.Fatalf("page = %+v", page)
		}
	}
	if got := src.pageCalls.Load(); got != 1 {
		t.Errorf("source page calls = %d, want 1", got)
	}

	page, _ := c.FirstPage(ctx)
	page.Results[0].Title = "mutated"
	again, _ := c.FirstPage(ctx)
	if again.Results[0].Title == "mutated" {
		t.Error("cached page was mutated through a returned copy")
	}
}

func TestPageCacheAllPosts(t *testing.T) {
	src := newMemSource(2, testPost("a", 3), testPost("b", 2), testPost("c", 1))
	c := NewPageCache(src, time.Minute, nil)
	posts, err := c.AllPosts(context.Background())
	if err != nil {
		t.Fatalf("AllPosts: %v", err)
	}
	if len(posts) != 3 || posts[2].UID != "c" {
		t.Fatalf("posts = %v", posts)
	}
	if _, err := c.AllPosts(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := src.pageCalls.Load(); got != 2 {
		t.Errorf("source page calls = %d, want 2", got)
	}
}

func TestPageCachePostAndMiss(t *testing.T) {
	src := newMemSource(2, testPost("a", 1))
	c := NewPageCache(src, time.Minute, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := c.Post(ctx, "a"); err != nil {
			t.Fatalf("Post: %v", err)
		}
	}
	for i := 0; i < 2; i++ {
		if _, err := c.Post(ctx, "nope"); !errors.Is(err, content.ErrNotFound) {
			t.Fatalf("Post(nope) = %v, want ErrNotFound", err)
		}
	}
	if got := src.postCalls.Load(); got != 3 {
		t.Errorf("source post calls = %d, want 3 (misses are not cached)", got)
	}
}

func TestPageCacheExpiresAndInvalidates(t *testing.T) {
	src := newMemSource(2, testPost("a", 1))
	c := NewPageCache(src, 50*time.Millisecond, nil)
	ctx := context.Background()

	_, _ = c.FirstPage(ctx)
	time.Sleep(80 * time.Millisecond)
	_, _ = c.FirstPage(ctx)
	if got := src.pageCalls.Load(); got != 2 {
		t.Errorf("after expiry page calls = %d, want 2", got)
	}

	c.ttl = time.Hour
	_, _ = c.FirstPage(ctx)
	if got := src.pageCalls.Load(); got != 2 {
		t.Errorf("fresh entry page calls = %d, want 2", got)
	}
	c.Invalidate()
	_, _ = c.FirstPage(ctx)
	if got := src.pageCalls.Load(); got != 3 {
		t.Errorf("after invalidate page calls = %d, want 3", got)
	}
}

func TestPageCacheSharesConcurrentMisses(t *testing.T) {
	src := newMemSource(2, testPost("a", 1))
	src.delay = 50 * time.Millisecond
	c := NewPageCache(src, time.Minute, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.FirstPage(context.Background()); err != nil {
				t.Errorf("FirstPage: %v", err)
			}
		}()
	}
	wg.Wait()
	if got := src.pageCalls.Load(); got != 1 {
		t.Errorf("source page calls = %d, want 1", got)
	}
}

func TestPageCacheBypassedInPreview(t *testing.T) {
	src := newMemSource(2, testPost("a", 1))
	c := NewPageCache(src, time.Minute, nil)
	ctx := content.WithRef(context.Background(), "good")

	for i := 0; i < 2; i++ {
		if _, err := c.FirstPage(ctx); err != nil {
			t.Fatal(err)
		}
		if _, err := c.Post(ctx, "a"); err != nil {
			t.Fatal(err)
		}
	}
	if src.pageCalls.Load() != 2 || src.postCalls.Load() != 2 {
		t.Errorf("preview reads were cached: pages=%d posts=%d", src.pageCalls.Load(), src.postCalls.Load())
	}
	if src.lastRef() != "good" {
		t.Errorf("source saw ref %q, want good", src.lastRef())
	}

	// Preview reads must not fill the published cache.
	_, _ = c.FirstPage(context.Background())
	if src.pageCalls.Load() != 3 {
		t.Errorf("published read served from preview data")
	}
}
