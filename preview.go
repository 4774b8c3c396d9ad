package spacetraveling

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/eringen/spacetraveling/content"
)

// HeaderRevalidateSecret carries the shared secret of POST /api/revalidate/.
const HeaderRevalidateSecret = "X-Revalidate-Secret"

func (a *App) handlePreview(c echo.Context) error {
	ip := c.RealIP()
	if !a.attempts.Check(ip) {
		return c.String(http.StatusTooManyRequests, "Too many preview attempts. Try again later.")
	}
	resolver, ok := a.Source.(content.PreviewResolver)
	if !ok {
		return RenderStatus(c, http.StatusNotFound, a.Views.NotFound())
	}
	token := c.QueryParam("token")
	documentID := c.QueryParam("documentId")
	if token == "" || documentID == "" {
		a.attempts.Record(ip)
		return c.String(http.StatusBadRequest, "Missing token or documentId")
	}

	uid, err := resolver.ResolvePreview(c.Request().Context(), token, documentID)
	if err != nil {
		a.attempts.Record(ip)
		if errors.Is(err, content.ErrNotFound) {
			return c.String(http.StatusUnauthorized, "Invalid preview token")
		}
		return err
	}
	if err := setPreviewRef(c, token); err != nil {
		return err
	}
	c.Logger().Infof("preview started for %s", uid)
	return c.Redirect(http.StatusTemporaryRedirect, "/post/"+PathEscape(uid)+"/")
}

func (a *App) handleExitPreview(c echo.Context) error {
	if err := clearPreviewRef(c); err != nil {
		return err
	}
	return c.Redirect(http.StatusTemporaryRedirect, "/")
}

func (a *App) handleRevalidate(c echo.Context) error {
	if a.Config.RevalidateSecret == "" {
		return echo.ErrNotFound
	}
	ip := c.RealIP()
	if !a.attempts.Check(ip) {
		return c.String(http.StatusTooManyRequests, "Too many attempts. Try again later.")
	}
	secret := c.Request().Header.Get(HeaderRevalidateSecret)
	if subtle.ConstantTimeCompare([]byte(secret), []byte(a.Config.RevalidateSecret)) != 1 {
		a.attempts.Record(ip)
		return c.String(http.StatusUnauthorized, "Invalid secret")
	}
	if err := a.Revalidate(c.Request().Context(), "webhook"); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"revalidated": true,
		"now":         time.Now().UTC().Format(time.RFC3339),
	})
}

// Revalidate drops every cache layer and tells the other instances to do
// the same. Failures of external layers are logged and reported after all
// layers were tried.
func (a *App) Revalidate(ctx context.Context, reason string) error {
	a.invalidateLocal()
	var errs []error
	for _, fn := range a.invalidators {
		if err := fn(ctx); err != nil {
			a.log.Warn("cache invalidation failed", "error", err)
			errs = append(errs, err)
		}
	}
	if a.revalidator != nil {
		if err := a.revalidator.Publish(ctx, reason); err != nil {
			a.log.Warn("revalidate broadcast failed", "error", err)
			errs = append(errs, err)
		}
	}
	a.log.Info("content revalidated", "reason", reason)
	return errors.Join(errs...)
}

// invalidateLocal drops the in-process caches. Open feed sessions keep their
// loaded posts; they refresh when the visitor returns to the home page.
func (a *App) invalidateLocal() {
	if a.Cache != nil {
		a.Cache.Invalidate()
	}
}
