package spacetraveling

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/eringen/spacetraveling/content"
	"github.com/eringen/spacetraveling/feed"
)

// Sync reads every post from src through a feed controller and replaces the
// snapshot in store. It returns the number of posts written. Listing pages
// of src must carry full documents.
func Sync(ctx context.Context, src content.Source, store *Store, log *slog.Logger) (int, error) {
	if log == nil {
		log = slog.Default()
	}
	start := time.Now()
	posts, err := feed.All(ctx, src, feed.WithLogger(log))
	if err != nil {
		return 0, fmt.Errorf("sync: read source: %w", err)
	}
	if err := store.ReplaceAll(ctx, posts); err != nil {
		return 0, fmt.Errorf("sync: write snapshot: %w", err)
	}
	log.Info("snapshot synced", "posts", len(posts), "took", time.Since(start).Round(time.Millisecond))
	return len(posts), nil
}
