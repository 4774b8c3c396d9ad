package spacetraveling

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/labstack/echo/v4"
	"github.com/mmcdole/gofeed"

	"github.com/eringen/spacetraveling/content"
)

const testSecret = "webhook-secret"

func setupTestApp(t *testing.T, src content.Source, opts ...Option) *App {
	t.Helper()
	cfg := SiteConfig{
		Name:             "spacetraveling",
		URL:              "https://blog.example.com",
		Description:      "Blog de teste",
		SessionSecret:    "test-session-secret",
		RevalidateSecret: testSecret,
		DatabasePath:     filepath.Join(t.TempDir(), "site.db"),
	}
	opts = append([]Option{WithSource(src)}, opts...)
	a := New(cfg, ViewFuncs{}, opts...)
	if err := a.Setup(); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

// browser replays cookies between requests like a visitor's browser.
type browser struct {
	t       *testing.T
	app     *App
	cookies map[string]*http.Cookie
	ip      string
}

func newBrowser(t *testing.T, a *App) *browser {
	return &browser{t: t, app: a, cookies: make(map[string]*http.Cookie), ip: "192.0.2.10"}
}

func (b *browser) do(req *http.Request) *httptest.ResponseRecorder {
	b.t.Helper()
	req.RemoteAddr = b.ip + ":4711"
	for _, c := range b.cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	b.app.Echo.ServeHTTP(rec, req)
	for _, c := range rec.Result().Cookies() {
		if c.MaxAge < 0 {
			delete(b.cookies, c.Name)
			continue
		}
		b.cookies[c.Name] = c
	}
	return rec
}

func (b *browser) get(target string) *httptest.ResponseRecorder {
	return b.do(httptest.NewRequest(http.MethodGet, target, nil))
}

func (b *browser) post(target, csrf string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, nil)
	if csrf != "" {
		req.Header.Set("X-CSRF-Token", csrf)
	}
	return b.do(req)
}

func parseHTML(t *testing.T, rec *httptest.ResponseRecorder) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(rec.Body)
	if err != nil {
		t.Fatalf("parse html: %v", err)
	}
	return doc
}

// openHome loads the home page and returns the CSRF token of the load-more
// button.
func openHome(t *testing.T, b *browser) (*goquery.Document, string) {
	t.Helper()
	rec := b.get("/")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET / = %d", rec.Code)
	}
	doc := parseHTML(t, rec)
	csrf, _ := doc.Find("#load-more").Attr("data-csrf")
	return doc, csrf
}

func threePostSource() *memSource {
	return newMemSource(2, testPost("a", 3), testPost("b", 2), testPost("c", 1))
}

func TestHomeAndLoadMore(t *testing.T) {
	a := setupTestApp(t, threePostSource())
	b := newBrowser(t, a)

	doc, csrf := openHome(t, b)
	if n := doc.Find("#posts a.post").Length(); n != 2 {
		t.Fatalf("first page cards = %d, want 2", n)
	}
	if csrf == "" {
		t.Fatal("load more button missing its CSRF token")
	}

	rec := b.post("/posts/more/", csrf)
	if rec.Code != http.StatusOK {
		t.Fatalf("load more = %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get(HeaderHasMore); got != "false" {
		t.Errorf("%s = %q, want false", HeaderHasMore, got)
	}
	more := parseHTML(t, rec)
	if href, _ := more.Find("a.post").Attr("href"); href != "/post/c/" {
		t.Errorf("appended card href = %q", href)
	}

	rec = b.post("/posts/more/", csrf)
	if rec.Code != http.StatusNoContent {
		t.Errorf("load more past the end = %d, want 204", rec.Code)
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "no-store" {
		t.Errorf("Cache-Control = %q", cc)
	}
}

func TestLoadMoreWhileLoadingConflicts(t *testing.T) {
	src := threePostSource()
	a := setupTestApp(t, src)
	b := newBrowser(t, a)
	_, csrf := openHome(t, b)

	src.hold = make(chan struct{})
	src.held = make(chan struct{}, 1)
	first := make(chan *httptest.ResponseRecorder, 1)
	go func() { first <- b.post("/posts/more/", csrf) }()
	<-src.held

	rec := b.post("/posts/more/", csrf)
	close(src.hold)
	if rec.Code != http.StatusConflict {
		t.Errorf("second load more while loading = %d, want 409", rec.Code)
	}

	rec = <-first
	if rec.Code != http.StatusOK {
		t.Fatalf("first load more = %d, want 200", rec.Code)
	}
	if n := parseHTML(t, rec).Find("a.post").Length(); n != 1 {
		t.Errorf("first load more appended %d cards, want 1", n)
	}
	if got := src.pageCalls.Load(); got != 2 {
		t.Errorf("source page calls = %d, want 2", got)
	}
}

func TestHomeRestartsFeed(t *testing.T) {
	a := setupTestApp(t, threePostSource())
	b := newBrowser(t, a)

	_, csrf := openHome(t, b)
	if rec := b.post("/posts/more/", csrf); rec.Code != http.StatusOK {
		t.Fatalf("load more = %d", rec.Code)
	}
	_, csrf = openHome(t, b)
	if rec := b.post("/posts/more/", csrf); rec.Code != http.StatusOK {
		t.Errorf("load more after revisiting home = %d, want 200", rec.Code)
	}
	if n := a.Feeds.Len(); n != 1 {
		t.Errorf("feed sessions = %d, want 1", n)
	}
}

func TestLoadMoreWithoutFeedSession(t *testing.T) {
	a := setupTestApp(t, threePostSource())
	b := newBrowser(t, a)

	_, csrf := openHome(t, b)
	a.Feeds.Reset()

	rec := b.post("/posts/more/", csrf)
	if rec.Code != http.StatusGone {
		t.Fatalf("load more after expiry = %d, want 410", rec.Code)
	}
	if href, _ := parseHTML(t, rec).Find("a").Attr("href"); href != "/" {
		t.Errorf("expired message should link home, got %q", href)
	}
}

func TestLoadMoreRequiresCSRF(t *testing.T) {
	a := setupTestApp(t, threePostSource())
	b := newBrowser(t, a)
	openHome(t, b)

	if rec := b.post("/posts/more/", ""); rec.Code != http.StatusForbidden {
		t.Errorf("load more without token = %d, want 403", rec.Code)
	}
}

func TestLoadMoreFailureCanBeRetried(t *testing.T) {
	src := threePostSource()
	a := setupTestApp(t, src)
	b := newBrowser(t, a)
	_, csrf := openHome(t, b)

	src.setFail(content.ErrSourceUnavailable)
	rec := b.post("/posts/more/", csrf)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("failing load more = %d, want 502", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Tente novamente") {
		t.Errorf("retry message missing: %s", rec.Body.String())
	}

	src.setFail(nil)
	rec = b.post("/posts/more/", csrf)
	if rec.Code != http.StatusOK {
		t.Fatalf("retry = %d, want 200", rec.Code)
	}
	if n := parseHTML(t, rec).Find("a.post").Length(); n != 1 {
		t.Errorf("retry appended %d cards, want 1", n)
	}
}

func TestPostPage(t *testing.T) {
	a := setupTestApp(t, threePostSource())
	b := newBrowser(t, a)

	rec := b.get("/post/a/")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /post/a/ = %d", rec.Code)
	}
	doc := parseHTML(t, rec)
	if got := doc.Find("h1").Text(); got != "Post a" {
		t.Errorf("title = %q", got)
	}
	if src, _ := doc.Find("img.banner").Attr("src"); src != "https://blog.example.com/banner/a/" {
		t.Errorf("banner src = %q", src)
	}
	if doc.Find("section.content strong").Text() != "Lorem" {
		t.Error("rich text spans not rendered")
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "public, max-age=3600" {
		t.Errorf("Cache-Control = %q", cc)
	}

	if rec := b.get("/post/missing/"); rec.Code != http.StatusNotFound {
		t.Errorf("unknown post = %d, want 404", rec.Code)
	}
	if rec := b.get("/post/a"); rec.Code != http.StatusMovedPermanently {
		t.Errorf("missing trailing slash = %d, want 301", rec.Code)
	}
}

func TestSourceFailureRendersErrorPage(t *testing.T) {
	src := threePostSource()
	src.setFail(content.ErrSourceUnavailable)
	a := setupTestApp(t, src)

	rec := newBrowser(t, a).get("/")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("GET / with a failing source = %d, want 502", rec.Code)
	}
	if got := parseHTML(t, rec).Find("h1").Text(); got != "Algo deu errado" {
		t.Errorf("error page = %q", got)
	}
}

func TestFeedAndSitemap(t *testing.T) {
	a := setupTestApp(t, threePostSource())
	b := newBrowser(t, a)

	rec := b.get("/feed.xml")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /feed.xml = %d", rec.Code)
	}
	f, err := gofeed.NewParser().ParseString(rec.Body.String())
	if err != nil {
		t.Fatalf("parse feed: %v", err)
	}
	if len(f.Items) != 3 {
		t.Fatalf("feed items = %d, want 3", len(f.Items))
	}
	item := f.Items[0]
	if item.Title != "Post a" || item.Link != "https://blog.example.com/post/a/" {
		t.Errorf("first item = %q %q", item.Title, item.Link)
	}
	if item.PublishedParsed == nil || item.PublishedParsed.Day() != 3 {
		t.Errorf("published = %v", item.PublishedParsed)
	}
	if len(item.Authors) == 0 || item.Authors[0].Name != "Joseph Oliveira" {
		t.Errorf("authors = %v", item.Authors)
	}

	rec = b.get("/sitemap.xml")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /sitemap.xml = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"<loc>https://blog.example.com/</loc>",
		"<loc>https://blog.example.com/post/c/</loc>",
		"<lastmod>2021-03-07</lastmod>",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("sitemap missing %s", want)
		}
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "public, max-age=86400" {
		t.Errorf("Cache-Control = %q", cc)
	}
}

func TestRobots(t *testing.T) {
	a := setupTestApp(t, threePostSource())
	rec := newBrowser(t, a).get("/robots.txt")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /robots.txt = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Sitemap: https://blog.example.com/sitemap.xml") {
		t.Errorf("robots = %q", rec.Body.String())
	}
}

func TestPreviewFlow(t *testing.T) {
	src := threePostSource()
	a := setupTestApp(t, src)
	b := newBrowser(t, a)

	rec := b.get("/api/preview/?token=good&documentId=doc-b")
	if rec.Code != http.StatusTemporaryRedirect {
		t.Fatalf("preview = %d, want 307", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/post/b/" {
		t.Errorf("Location = %q", loc)
	}

	rec = b.get("/post/b/")
	if rec.Code != http.StatusOK {
		t.Fatalf("preview post = %d", rec.Code)
	}
	if src.lastRef() != "good" {
		t.Errorf("source saw ref %q, want good", src.lastRef())
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "no-store" {
		t.Errorf("preview Cache-Control = %q", cc)
	}
	doc := parseHTML(t, rec)
	if doc.Find(".preview-exit").Length() != 1 {
		t.Error("exit preview link missing")
	}
	if img, _ := doc.Find("img.banner").Attr("src"); img != "https://images.prismic.io/b.png" {
		t.Errorf("preview banner = %q, want the source image", img)
	}

	rec = b.get("/api/exit-preview/")
	if rec.Code != http.StatusTemporaryRedirect || rec.Header().Get("Location") != "/" {
		t.Fatalf("exit preview = %d %q", rec.Code, rec.Header().Get("Location"))
	}
	b.get("/post/b/")
	if src.lastRef() != "" {
		t.Errorf("ref %q still sent after exiting preview", src.lastRef())
	}
}

func TestPreviewRejectsBadTokens(t *testing.T) {
	a := setupTestApp(t, threePostSource())
	b := newBrowser(t, a)

	if rec := b.get("/api/preview/"); rec.Code != http.StatusBadRequest {
		t.Errorf("preview without params = %d, want 400", rec.Code)
	}
	for i := 0; i < 4; i++ {
		if rec := b.get("/api/preview/?token=bad&documentId=doc-a"); rec.Code != http.StatusUnauthorized {
			t.Errorf("bad token attempt %d = %d, want 401", i+1, rec.Code)
		}
	}
	if rec := b.get("/api/preview/?token=good&documentId=doc-a"); rec.Code != http.StatusTooManyRequests {
		t.Errorf("after 5 failures = %d, want 429", rec.Code)
	}

	other := newBrowser(t, a)
	other.ip = "192.0.2.20"
	if rec := other.get("/api/preview/?token=good&documentId=doc-a"); rec.Code != http.StatusTemporaryRedirect {
		t.Errorf("other client = %d, want 307", rec.Code)
	}
}

func TestRevalidate(t *testing.T) {
	src := threePostSource()
	var invalidated atomic.Int32
	a := setupTestApp(t, src, WithInvalidator(func(ctx context.Context) error {
		invalidated.Add(1)
		return nil
	}))
	b := newBrowser(t, a)

	b.get("/")
	b.get("/")
	if got := src.pageCalls.Load(); got != 1 {
		t.Fatalf("first page fetched %d times before revalidation, want 1", got)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/revalidate/", nil)
	req.Header.Set(HeaderRevalidateSecret, "wrong")
	if rec := b.do(req); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong secret = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/revalidate/", nil)
	req.Header.Set(HeaderRevalidateSecret, testSecret)
	rec := b.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("revalidate = %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Revalidated bool   `json:"revalidated"`
		Now         string `json:"now"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || !body.Revalidated || body.Now == "" {
		t.Errorf("body = %s (%v)", rec.Body.String(), err)
	}
	if invalidated.Load() != 1 {
		t.Errorf("invalidator calls = %d, want 1", invalidated.Load())
	}

	b.get("/")
	if got := src.pageCalls.Load(); got != 2 {
		t.Errorf("first page fetched %d times after revalidation, want 2", got)
	}
}

func TestRevalidateReportsInvalidatorErrors(t *testing.T) {
	a := setupTestApp(t, threePostSource(),
		WithInvalidator(func(ctx context.Context) error { return errors.New("redis down") }))

	if err := a.Revalidate(context.Background(), "test"); err == nil || !strings.Contains(err.Error(), "redis down") {
		t.Errorf("Revalidate = %v, want the invalidator error", err)
	}
}

func TestRevalidateDisabledWithoutSecret(t *testing.T) {
	a := New(SiteConfig{
		SessionSecret: "s",
		DatabasePath:  filepath.Join(t.TempDir(), "site.db"),
	}, ViewFuncs{}, WithSource(threePostSource()))
	if err := a.Setup(); err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/revalidate/", nil)
	rec := httptest.NewRecorder()
	a.Echo.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("revalidate without secret = %d, want 404", rec.Code)
	}
}

func TestSetupRequiresSessionSecret(t *testing.T) {
	a := New(SiteConfig{DatabasePath: filepath.Join(t.TempDir(), "site.db")}, ViewFuncs{})
	if err := a.Setup(); err == nil {
		t.Fatal("Setup without a session secret should fail")
	}
}

func TestStoreBackedSite(t *testing.T) {
	store := setupTestStore(t, 2)
	if err := store.ReplaceAll(context.Background(), threePostSource().posts); err != nil {
		t.Fatal(err)
	}
	a := New(SiteConfig{SessionSecret: "s"}, ViewFuncs{}, WithStore(store))
	if err := a.Setup(); err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	b := newBrowser(t, a)

	_, csrf := openHome(t, b)
	rec := b.post("/posts/more/", csrf)
	if rec.Code != http.StatusOK || rec.Header().Get(HeaderHasMore) != "false" {
		t.Fatalf("load more from store = %d, has more %q", rec.Code, rec.Header().Get(HeaderHasMore))
	}
	if rec := b.get("/post/c/"); rec.Code != http.StatusOK {
		t.Errorf("post from store = %d", rec.Code)
	}
}

func TestStaticAssetsAndCustomRoutes(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "favicon.txt"), []byte("icon"), 0o644); err != nil {
		t.Fatal(err)
	}
	a := setupTestApp(t, threePostSource(),
		WithStaticDir(dir),
		WithCustomRoutes(func(a *App) {
			a.Echo.GET("/about/", func(c echo.Context) error {
				return c.String(http.StatusOK, "about "+a.Config.Name)
			})
		}),
	)
	b := newBrowser(t, a)

	if rec := b.get("/public/feed.js"); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "load-more") {
		t.Errorf("embedded feed.js = %d", rec.Code)
	}
	if rec := b.get("/public/favicon.txt"); rec.Code != http.StatusOK || rec.Body.String() != "icon" {
		t.Errorf("static file = %d %q", rec.Code, rec.Body.String())
	}
	if rec := b.get("/about/"); rec.Code != http.StatusOK || rec.Body.String() != "about spacetraveling" {
		t.Errorf("custom route = %d %q", rec.Code, rec.Body.String())
	}
}
