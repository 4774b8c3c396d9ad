package spacetraveling

import (
	"context"
	"time"
)

// Banner is a resized banner rendition stored next to the post snapshot.
type Banner struct {
	UID       string
	SourceURL string
	Width     int
	Height    int
	Data      []byte // JPEG
	FetchedAt time.Time
}

// Invalidator clears a cache layer outside the process on revalidation.
type Invalidator func(ctx context.Context) error
