package spacetraveling

import "embed"

// EmbeddedAssets contains static assets shipped with the site:
// feed.js, styles.css, logo.svg
//
//go:embed embedded/*
var EmbeddedAssets embed.FS
