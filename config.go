package spacetraveling

import (
	"log/slog"
	"time"

	"github.com/eringen/spacetraveling/content"
	"github.com/eringen/spacetraveling/views"
)

// SiteConfig holds all configuration for a spacetraveling site. The struct
// tags let the CLI load it with cleanenv from the environment or a YAML file.
type SiteConfig struct {
	Name        string `yaml:"name" env:"SITE_NAME"`               // Site name (default "spacetraveling")
	URL         string `yaml:"url" env:"SITE_URL"`                 // Canonical URL (default "http://localhost:3000")
	Description string `yaml:"description" env:"SITE_DESCRIPTION"` // RSS and meta description
	Author      string `yaml:"author" env:"SITE_AUTHOR"`           // JSON-LD author

	Addr         string `yaml:"addr" env:"ADDR"`                   // Listen address (default ":3000")
	DatabasePath string `yaml:"database_path" env:"DATABASE_PATH"` // SQLite path (default "data/spacetraveling.db")

	SessionSecret    string `yaml:"session_secret" env:"SESSION_SECRET"`       // Required: cookie session secret
	CookieSecure     bool   `yaml:"cookie_secure" env:"COOKIE_SECURE"`         // Set true for HTTPS
	RevalidateSecret string `yaml:"revalidate_secret" env:"REVALIDATE_SECRET"` // Enables POST /api/revalidate/

	PageCacheTTL    time.Duration `yaml:"page_cache_ttl" env:"PAGE_CACHE_TTL"`       // default 5m
	FeedSessionTTL  time.Duration `yaml:"feed_session_ttl" env:"FEED_SESSION_TTL"`   // default 30m
	MaxFeedSessions int           `yaml:"max_feed_sessions" env:"MAX_FEED_SESSIONS"` // default 10000
	SnapshotPage    int           `yaml:"snapshot_page_size" env:"SNAPSHOT_PAGE_SIZE"`

	BannerMaxWidth int      `yaml:"banner_max_width" env:"BANNER_MAX_WIDTH"` // default 1440
	BannerHosts    []string `yaml:"banner_hosts" env:"BANNER_HOSTS"`         // default images.prismic.io

	CommentsRepo  string `yaml:"comments_repo" env:"COMMENTS_REPO"`   // utterances repository, owner/name
	CommentsTheme string `yaml:"comments_theme" env:"COMMENTS_THEME"` // default "github-dark"
}

func (c *SiteConfig) setDefaults() {
	if c.Name == "" {
		c.Name = "spacetraveling"
	}
	if c.URL == "" {
		c.URL = "http://localhost:3000"
	}
	if c.Addr == "" {
		c.Addr = ":3000"
	}
	if c.DatabasePath == "" {
		c.DatabasePath = "data/spacetraveling.db"
	}
	if c.PageCacheTTL == 0 {
		c.PageCacheTTL = 5 * time.Minute
	}
	if c.FeedSessionTTL == 0 {
		c.FeedSessionTTL = 30 * time.Minute
	}
	if c.MaxFeedSessions == 0 {
		c.MaxFeedSessions = 10000
	}
	if c.SnapshotPage == 0 {
		c.SnapshotPage = 20
	}
	if c.BannerMaxWidth == 0 {
		c.BannerMaxWidth = 1440
	}
	if len(c.BannerHosts) == 0 {
		c.BannerHosts = []string{"images.prismic.io"}
	}
	if c.CommentsTheme == "" {
		c.CommentsTheme = "github-dark"
	}
}

// Defaults returns a copy of c with unset fields filled in.
func (c SiteConfig) Defaults() SiteConfig {
	c.setDefaults()
	return c
}

// View returns the subset of the configuration the templates need.
func (c SiteConfig) View() views.SiteConfig {
	return views.SiteConfig{
		Name:          c.Name,
		URL:           c.URL,
		Description:   c.Description,
		Author:        c.Author,
		CommentsRepo:  c.CommentsRepo,
		CommentsTheme: c.CommentsTheme,
	}
}

// Option configures additional App behavior.
type Option func(*App)

// WithSource sets the content source. Without it the app serves the local
// SQLite snapshot.
func WithSource(src content.Source) Option {
	return func(a *App) {
		a.Source = src
	}
}

// WithStore supplies an already opened store instead of opening
// SiteConfig.DatabasePath.
func WithStore(s *Store) Option {
	return func(a *App) {
		a.Store = s
	}
}

// WithLogger sets the structured logger used outside request logging.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) {
		a.log = l
	}
}

// WithInvalidator registers a hook run on every revalidation, such as
// clearing a shared Redis cache.
func WithInvalidator(fn Invalidator) Option {
	return func(a *App) {
		a.invalidators = append(a.invalidators, fn)
	}
}

// WithRevalidator broadcasts revalidations to, and receives them from,
// other instances.
func WithRevalidator(r *Revalidator) Option {
	return func(a *App) {
		a.revalidator = r
	}
}

// WithCustomRoutes registers additional routes on the Echo instance.
// The callback receives the App before the server starts.
func WithCustomRoutes(fn func(*App)) Option {
	return func(a *App) {
		a.customRoutes = append(a.customRoutes, fn)
	}
}

// WithStaticDir sets the directory for user-owned static assets (default "public").
func WithStaticDir(dir string) Option {
	return func(a *App) {
		a.staticDir = dir
	}
}
