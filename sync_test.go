package spacetraveling

import (
	"context"
	"errors"
	"testing"

	"github.com/eringen/spacetraveling/content"
)

func TestSync(t *testing.T) {
	store := setupTestStore(t, 10)
	src := newMemSource(2, testPost("a", 5), testPost("b", 4), testPost("c", 3), testPost("d", 2), testPost("e", 1))

	n, err := Sync(context.Background(), src, store, nil)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if n != 5 {
		t.Errorf("Sync wrote %d posts, want 5", n)
	}
	if got := src.pageCalls.Load(); got != 3 {
		t.Errorf("source pages read = %d, want 3", got)
	}
	page, err := store.FetchPage(context.Background(), content.NoCursor)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Results) != 5 || page.Results[0].UID != "a" || page.Results[4].UID != "e" {
		t.Errorf("snapshot order = %v", page.Results)
	}
	post, err := store.FetchByKey(context.Background(), "c")
	if err != nil || len(post.Content) != 1 {
		t.Errorf("synced post = %+v, %v", post, err)
	}
}

func TestSyncKeepsSnapshotOnSourceFailure(t *testing.T) {
	store := setupTestStore(t, 10)
	src := newMemSource(2, testPost("a", 2), testPost("b", 1))
	if _, err := Sync(context.Background(), src, store, nil); err != nil {
		t.Fatal(err)
	}

	src.setFail(content.ErrSourceUnavailable)
	if _, err := Sync(context.Background(), src, store, nil); !errors.Is(err, content.ErrSourceUnavailable) {
		t.Fatalf("Sync = %v, want ErrSourceUnavailable", err)
	}
	if n, _ := store.Count(context.Background()); n != 2 {
		t.Errorf("snapshot has %d posts after a failed sync, want 2", n)
	}
}
