// Package spacetraveling is a blog front-end for posts kept in a headless
// content service. It renders an incrementally loaded post listing, post
// pages with reading time and comments, preview sessions, RSS and a sitemap.
//
// Templates are supplied through the ViewFuncs struct; the views package
// provides the defaults.
package spacetraveling

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/a-h/templ"
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/singleflight"

	"github.com/eringen/spacetraveling/content"
	"github.com/eringen/spacetraveling/views"
)

// ViewFuncs holds the templ components the handlers render. Nil fields fall
// back to the views package defaults.
type ViewFuncs struct {
	Home        func(data views.HomeData) templ.Component
	MorePosts   func(data views.MoreData) templ.Component
	MoreError   func(expired bool) templ.Component
	Post        func(data views.PostData) templ.Component
	NotFound    func() templ.Component
	ServerError func() templ.Component
}

// DefaultViews returns the built-in templates.
func DefaultViews() ViewFuncs {
	return ViewFuncs{
		Home:        views.Home,
		MorePosts:   views.MorePosts,
		MoreError:   views.MoreError,
		Post:        views.Post,
		NotFound:    views.NotFound,
		ServerError: views.ServerError,
	}
}

func (v *ViewFuncs) fill() {
	d := DefaultViews()
	if v.Home == nil {
		v.Home = d.Home
	}
	if v.MorePosts == nil {
		v.MorePosts = d.MorePosts
	}
	if v.MoreError == nil {
		v.MoreError = d.MoreError
	}
	if v.Post == nil {
		v.Post = d.Post
	}
	if v.NotFound == nil {
		v.NotFound = d.NotFound
	}
	if v.ServerError == nil {
		v.ServerError = d.ServerError
	}
}

// App is the central spacetraveling application. It wires together the
// content source, caches, feed sessions, handlers and middleware.
type App struct {
	Config SiteConfig
	Echo   *echo.Echo
	Source content.Source
	Store  *Store
	Cache  *PageCache
	Feeds  *FeedSessions
	Views  ViewFuncs

	log          *slog.Logger
	attempts     *AttemptLimiter
	invalidators []Invalidator
	revalidator  *Revalidator
	banners      singleflight.Group
	bannerClient *http.Client
	customRoutes []func(*App)
	staticDir    string
	ownsStore    bool
	ready        bool
}

// New creates an App with the given configuration and view functions.
func New(cfg SiteConfig, vf ViewFuncs, opts ...Option) *App {
	cfg.setDefaults()
	vf.fill()

	a := &App{
		Config:    cfg,
		Echo:      echo.New(),
		Views:     vf,
		log:       slog.Default(),
		staticDir: "public",
		bannerClient: &http.Client{
			Timeout:   20 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	a.Echo.HideBanner = true

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Setup opens the store, builds caches and feed sessions, and registers
// middleware and routes. It is called by Start and may be called directly
// when the caller runs its own http.Server around Handler.
func (a *App) Setup() error {
	if a.ready {
		return nil
	}
	if a.Config.SessionSecret == "" {
		return errors.New("spacetraveling: SessionSecret is required")
	}

	if a.Store == nil {
		store, err := NewStore(a.Config.DatabasePath, a.Config.SnapshotPage)
		if err != nil {
			return fmt.Errorf("spacetraveling: init store: %w", err)
		}
		a.Store = store
		a.ownsStore = true
	}
	if a.Source == nil {
		a.Source = a.Store
	}

	a.Cache = NewPageCache(a.Source, a.Config.PageCacheTTL, a.log)
	a.Feeds = NewFeedSessions(a.Source, a.Config.FeedSessionTTL, a.Config.MaxFeedSessions, a.log)
	a.attempts = NewAttemptLimiter(5, time.Minute)

	if a.revalidator != nil {
		if err := a.revalidator.Subscribe(func(ev RevalidateEvent) {
			a.invalidateLocal()
		}); err != nil {
			return fmt.Errorf("spacetraveling: subscribe revalidations: %w", err)
		}
	}

	a.setupMiddleware()
	a.setupRoutes()

	for _, fn := range a.customRoutes {
		fn(a)
	}
	a.ready = true
	return nil
}

// Handler returns the HTTP handler after Setup.
func (a *App) Handler() http.Handler {
	return a.Echo
}

// Start sets the app up and serves on Config.Addr until the server closes.
func (a *App) Start() error {
	if err := a.Setup(); err != nil {
		return err
	}
	if err := a.Echo.Start(a.Config.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *App) setupRoutes() {
	e := a.Echo

	// Embedded framework assets fall through to the user's static dir.
	embeddedFS, _ := fs.Sub(EmbeddedAssets, "embedded")
	embeddedHandler := http.FileServer(http.FS(embeddedFS))
	e.GET("/public/feed.js", echo.WrapHandler(http.StripPrefix("/public/", embeddedHandler)))
	e.GET("/public/styles.css", echo.WrapHandler(http.StripPrefix("/public/", embeddedHandler)))
	e.GET("/public/logo.svg", echo.WrapHandler(http.StripPrefix("/public/", embeddedHandler)))

	e.Static("/public", a.staticDir)
	e.GET("/robots.txt", a.handleRobots)

	e.GET("/sitemap.xml", a.handleSitemap)
	e.GET("/feed.xml", a.handleFeed)
	e.GET("/", a.handleHome)
	e.POST("/posts/more/", a.handleMore)
	e.GET("/post/:uid/", a.handlePost)
	e.GET("/banner/:uid/", a.handleBanner)

	e.GET("/api/preview/", a.handlePreview)
	e.GET("/api/exit-preview/", a.handleExitPreview)
	e.POST("/api/revalidate/", a.handleRevalidate)
}

// Close cleans up resources. Call this when the app is shutting down.
func (a *App) Close() error {
	if a.revalidator != nil {
		_ = a.revalidator.Close()
	}
	if a.Feeds != nil {
		a.Feeds.Close()
	}
	if a.attempts != nil {
		a.attempts.Stop()
	}
	if a.Store != nil && a.ownsStore {
		return a.Store.Close()
	}
	return nil
}
