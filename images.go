package spacetraveling

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/image/draw"

	"github.com/eringen/spacetraveling/content"
)

const (
	jpegQuality   = 82
	maxBannerSize = 15 << 20 // 15MB
)

var errBannerHost = errors.New("banner host not allowed")

// processBanner decodes an image from src, shrinks it to maxWidth when it is
// wider, and encodes it as JPEG.
func processBanner(src io.Reader, maxWidth int) ([]byte, int, int, error) {
	img, _, err := image.Decode(src)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	if maxWidth > 0 && w > maxWidth {
		newH := h * maxWidth / w
		dst := image.NewRGBA(image.Rect(0, 0, maxWidth, newH))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
		img = dst
		w = maxWidth
		h = newH
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, 0, 0, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), w, h, nil
}

func (a *App) handleBanner(c echo.Context) error {
	ctx := c.Request().Context()
	uid := c.Param("uid")
	post, err := a.Cache.Post(ctx, uid)
	if err != nil {
		return err
	}
	if post.Banner.URL == "" {
		return echo.ErrNotFound
	}

	if b, err := a.Store.GetBanner(ctx, uid); err == nil && b.SourceURL == post.Banner.URL {
		return c.Blob(http.StatusOK, "image/jpeg", b.Data)
	} else if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	v, err, _ := a.banners.Do(uid, func() (any, error) {
		return a.fetchBanner(context.WithoutCancel(ctx), post)
	})
	if err != nil {
		if errors.Is(err, errBannerHost) {
			return echo.ErrNotFound
		}
		return fmt.Errorf("banner %s: %w", uid, err)
	}
	return c.Blob(http.StatusOK, "image/jpeg", v.(Banner).Data)
}

// fetchBanner downloads the post's banner, stores a resized rendition and
// returns it.
func (a *App) fetchBanner(ctx context.Context, post content.Post) (Banner, error) {
	u, err := url.Parse(post.Banner.URL)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") {
		return Banner{}, fmt.Errorf("%w: %q", errBannerHost, post.Banner.URL)
	}
	if !slices.ContainsFunc(a.Config.BannerHosts, func(h string) bool { return strings.EqualFold(h, u.Hostname()) }) {
		return Banner{}, fmt.Errorf("%w: %s", errBannerHost, u.Hostname())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Banner{}, err
	}
	resp, err := a.bannerClient.Do(req)
	if err != nil {
		return Banner{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Banner{}, fmt.Errorf("fetch: status %d", resp.StatusCode)
	}

	data, w, h, err := processBanner(io.LimitReader(resp.Body, maxBannerSize), a.Config.BannerMaxWidth)
	if err != nil {
		return Banner{}, err
	}
	b := Banner{
		UID:       post.UID,
		SourceURL: post.Banner.URL,
		Width:     w,
		Height:    h,
		Data:      data,
		FetchedAt: time.Now(),
	}
	if err := a.Store.SaveBanner(ctx, b); err != nil {
		a.log.Warn("banner not cached", "uid", post.UID, "error", err)
	}
	return b, nil
}
