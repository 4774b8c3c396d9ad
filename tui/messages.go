// Package tui is a terminal browser for the post listing, built with Bubble
// Tea on top of a feed.Controller.
package tui

import "github.com/eringen/spacetraveling/content"

// PostsLoaded is sent when a load more request finishes.
type PostsLoaded struct {
	Appended []content.Post
	Err      error
}

// PostOpened is sent when the full document of the selected post arrives.
type PostOpened struct {
	Post content.Post
	Err  error
}
