package spacetraveling

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/eringen/spacetraveling/content"
	"github.com/eringen/spacetraveling/feed"
	"github.com/eringen/spacetraveling/views"
)

// HeaderHasMore tells the load-more script whether to keep its button.
const HeaderHasMore = "X-Has-More"

func (a *App) handleHome(c echo.Context) error {
	ctx := c.Request().Context()
	page, err := a.Cache.FirstPage(ctx)
	if err != nil {
		return err
	}
	id, ctrl, err := a.Feeds.Open(page, feedSessionID(c))
	if err != nil {
		return err
	}
	if err := setFeedSessionID(c, id); err != nil {
		a.Feeds.Drop(id)
		return err
	}
	return Render(c, a.Views.Home(views.HomeData{
		Site:    a.Config.View(),
		Posts:   ctrl.CurrentPosts(),
		HasMore: ctrl.HasMore(),
		Preview: InPreview(c),
		CSRF:    CsrfToken(c),
	}))
}

func (a *App) handleMore(c echo.Context) error {
	ctrl, ok := a.Feeds.Get(feedSessionID(c))
	if !ok {
		return RenderStatus(c, http.StatusGone, a.Views.MoreError(true))
	}
	posts, err := ctrl.LoadMore(c.Request().Context())
	var loadErr *feed.LoadError
	switch {
	case err == nil:
		c.Response().Header().Set(HeaderHasMore, strconv.FormatBool(ctrl.HasMore()))
		return Render(c, a.Views.MorePosts(views.MoreData{Posts: posts, HasMore: ctrl.HasMore()}))
	case errors.Is(err, feed.ErrNoMorePages):
		c.Response().Header().Set(HeaderHasMore, "false")
		return c.NoContent(http.StatusNoContent)
	case errors.Is(err, feed.ErrLoadInProgress):
		return c.NoContent(http.StatusConflict)
	case errors.Is(err, feed.ErrClosed), errors.Is(err, feed.ErrNotInitialized):
		return RenderStatus(c, http.StatusGone, a.Views.MoreError(true))
	case errors.As(err, &loadErr):
		c.Logger().Warnf("load more failed at cursor %q: %v", loadErr.Cursor, loadErr.Err)
		return RenderStatus(c, http.StatusBadGateway, a.Views.MoreError(false))
	default:
		return err
	}
}

func (a *App) handlePost(c echo.Context) error {
	uid := c.Param("uid")
	post, err := a.Cache.Post(c.Request().Context(), uid)
	if err != nil {
		return err
	}
	preview := InPreview(c)
	banner := ""
	if post.Banner.URL != "" {
		banner = BuildURL(a.Config.URL, "banner", post.UID)
		if preview {
			banner = post.Banner.URL
		}
	}
	return Render(c, a.Views.Post(views.PostData{
		Site:      a.Config.View(),
		Post:      post,
		BannerURL: banner,
		Preview:   preview,
	}))
}

func (a *App) handleSitemap(c echo.Context) error {
	posts, err := a.Cache.AllPosts(c.Request().Context())
	if err != nil {
		return err
	}
	return a.renderSitemap(c, posts)
}

func (a *App) handleFeed(c echo.Context) error {
	posts, err := a.Cache.AllPosts(c.Request().Context())
	if err != nil {
		return err
	}
	return a.renderRSS(c, posts)
}

func (a *App) handleRobots(c echo.Context) error {
	var b strings.Builder
	b.WriteString("User-agent: *\nAllow: /\nDisallow: /api/\n")
	b.WriteString("Sitemap: " + strings.TrimSuffix(a.Config.URL, "/") + "/sitemap.xml\n")
	return c.String(http.StatusOK, b.String())
}

func (a *App) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	switch {
	case errors.Is(err, content.ErrNotFound):
		_ = RenderStatus(c, http.StatusNotFound, a.Views.NotFound())
		return
	case errors.Is(err, content.ErrSourceUnavailable), errors.Is(err, content.ErrSourceMalformed):
		c.Logger().Errorf("content source: %v", err)
		_ = RenderStatus(c, http.StatusBadGateway, a.Views.ServerError())
		return
	}
	he, ok := err.(*echo.HTTPError)
	if ok && he.Code == http.StatusNotFound {
		_ = RenderStatus(c, http.StatusNotFound, a.Views.NotFound())
		return
	}
	code := http.StatusInternalServerError
	if ok {
		code = he.Code
	}
	if code >= 500 {
		c.Logger().Errorf("server error: %v", err)
		_ = RenderStatus(c, code, a.Views.ServerError())
		return
	}
	a.Echo.DefaultHTTPErrorHandler(err, c)
}
