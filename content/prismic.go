package content

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/eringen/spacetraveling/richtext"
)

const (
	prismicDefaultType      = "post"
	prismicDefaultPageSize  = 20
	prismicDefaultOrderings = "[document.first_publication_date desc]"
	prismicDefaultRefTTL    = 30 * time.Second
	prismicDefaultRate      = 100 * time.Millisecond
	prismicFetchTimeout     = 15 * time.Second
	prismicMaxBody          = 8 << 20
	prismicDateLayout       = "2006-01-02T15:04:05-0700"
)

var prismicListingFields = []string{"title", "subtitle", "author"}

// PrismicConfig configures the Prismic adapter.
type PrismicConfig struct {
	Endpoint      string        // API v2 URL, e.g. https://repo.prismic.io/api/v2
	AccessToken   string        // optional, for private repositories
	DocumentType  string        // default "post"
	PageSize      int           // default 20
	Fields        []string      // listing field selection (without type prefix)
	FullDocuments bool          // disable field selection on listing pages
	Orderings     string        // default "[document.first_publication_date desc]"
	RefTTL        time.Duration // master ref cache lifetime (default 30s)
	RateInterval  time.Duration // minimum spacing between requests (default 100ms)
	HTTPClient    *http.Client
	Logger        *slog.Logger
}

// Prismic reads posts from a Prismic repository over its REST API.
type Prismic struct {
	cfg     PrismicConfig
	base    *url.URL
	client  *http.Client
	limiter *rate.Limiter
	log     *slog.Logger

	mu         sync.Mutex
	masterRef  string
	refFetched time.Time
}

// NewPrismic creates a Prismic adapter. Endpoint is required.
func NewPrismic(cfg PrismicConfig) (*Prismic, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("prismic: endpoint is required")
	}
	base, err := url.Parse(strings.TrimSuffix(cfg.Endpoint, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("prismic: invalid endpoint %q", cfg.Endpoint)
	}
	if cfg.DocumentType == "" {
		cfg.DocumentType = prismicDefaultType
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = prismicDefaultPageSize
	}
	if cfg.Fields == nil {
		cfg.Fields = prismicListingFields
	}
	if cfg.Orderings == "" {
		cfg.Orderings = prismicDefaultOrderings
	}
	if cfg.RefTTL <= 0 {
		cfg.RefTTL = prismicDefaultRefTTL
	}
	if cfg.RateInterval <= 0 {
		cfg.RateInterval = prismicDefaultRate
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{
			Timeout:   prismicFetchTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Prismic{
		cfg:     cfg,
		base:    base,
		client:  client,
		limiter: rate.NewLimiter(rate.Every(cfg.RateInterval), 1),
		log:     log.With("component", "prismic"),
	}, nil
}

// FetchPage implements Source. The cursor is the next_page URL returned by
// the previous search.
func (p *Prismic) FetchPage(ctx context.Context, cursor Cursor) (Page, error) {
	var target string
	if cursor.IsZero() {
		ref, err := p.ref(ctx)
		if err != nil {
			return Page{}, err
		}
		predicate := fmt.Sprintf("[at(document.type,%s)]", strconv.Quote(p.cfg.DocumentType))
		var fields []string
		if !p.cfg.FullDocuments {
			for _, f := range p.cfg.Fields {
				fields = append(fields, p.cfg.DocumentType+"."+f)
			}
		}
		target = p.searchURL(ref, predicate, fields, p.cfg.PageSize)
	} else {
		u, err := p.cursorURL(cursor)
		if err != nil {
			return Page{}, err
		}
		target = u
	}

	var res prismicSearch
	if err := p.get(ctx, target, &res); err != nil {
		return Page{}, err
	}
	page := Page{Results: make([]Post, 0, len(res.Results))}
	for _, doc := range res.Results {
		post, err := doc.post()
		if err != nil {
			return Page{}, err
		}
		page.Results = append(page.Results, post)
	}
	if res.NextPage != nil && *res.NextPage != "" {
		page.NextCursor = Cursor(*res.NextPage)
	}
	p.log.Debug("fetched page", "page", res.Page, "results", len(page.Results), "has_next", !page.NextCursor.IsZero())
	return page, nil
}

// FetchByKey implements Source.
func (p *Prismic) FetchByKey(ctx context.Context, uid string) (Post, error) {
	if uid == "" {
		return Post{}, ErrNotFound
	}
	ref, err := p.ref(ctx)
	if err != nil {
		return Post{}, err
	}
	predicate := fmt.Sprintf("[at(my.%s.uid,%s)]", p.cfg.DocumentType, strconv.Quote(uid))
	var res prismicSearch
	if err := p.get(ctx, p.searchURL(ref, predicate, nil, 1), &res); err != nil {
		return Post{}, err
	}
	if len(res.Results) == 0 {
		return Post{}, fmt.Errorf("%w: %s", ErrNotFound, uid)
	}
	return res.Results[0].post()
}

// ResolvePreview implements PreviewResolver.
func (p *Prismic) ResolvePreview(ctx context.Context, token, documentID string) (string, error) {
	if token == "" || documentID == "" {
		return "", ErrNotFound
	}
	predicate := fmt.Sprintf("[at(document.id,%s)]", strconv.Quote(documentID))
	var res prismicSearch
	if err := p.get(ctx, p.searchURL(token, predicate, nil, 1), &res); err != nil {
		return "", err
	}
	if len(res.Results) == 0 || res.Results[0].UID == nil || *res.Results[0].UID == "" {
		return "", fmt.Errorf("%w: document %s", ErrNotFound, documentID)
	}
	return *res.Results[0].UID, nil
}

// ref returns the preview ref from ctx or the repository's master ref.
func (p *Prismic) ref(ctx context.Context) (string, error) {
	if ref := RefFrom(ctx); ref != "" {
		return ref, nil
	}
	return p.MasterRef(ctx)
}

// MasterRef implements Versioned. The ref is fetched at most once per
// RefTTL; it changes whenever content is published.
func (p *Prismic) MasterRef(ctx context.Context) (string, error) {
	p.mu.Lock()
	if p.masterRef != "" && time.Since(p.refFetched) < p.cfg.RefTTL {
		ref := p.masterRef
		p.mu.Unlock()
		return ref, nil
	}
	p.mu.Unlock()

	u := *p.base
	q := url.Values{}
	if p.cfg.AccessToken != "" {
		q.Set("access_token", p.cfg.AccessToken)
	}
	u.RawQuery = q.Encode()

	var api prismicAPI
	if err := p.get(ctx, u.String(), &api); err != nil {
		return "", err
	}
	for _, r := range api.Refs {
		if r.IsMasterRef && r.Ref != "" {
			p.mu.Lock()
			p.masterRef = r.Ref
			p.refFetched = time.Now()
			p.mu.Unlock()
			return r.Ref, nil
		}
	}
	return "", fmt.Errorf("%w: no master ref", ErrSourceMalformed)
}

func (p *Prismic) searchURL(ref, predicate string, fields []string, pageSize int) string {
	u := *p.base
	u.Path = strings.TrimSuffix(u.Path, "/") + "/documents/search"
	q := url.Values{}
	q.Set("ref", ref)
	q.Set("q", "["+predicate+"]")
	q.Set("pageSize", strconv.Itoa(pageSize))
	q.Set("orderings", p.cfg.Orderings)
	if len(fields) > 0 {
		q.Set("fetch", strings.Join(fields, ","))
	}
	if p.cfg.AccessToken != "" {
		q.Set("access_token", p.cfg.AccessToken)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// cursorURL checks that a next_page cursor points at the configured
// repository before it is requested.
func (p *Prismic) cursorURL(cursor Cursor) (string, error) {
	u, err := url.Parse(string(cursor))
	if err != nil {
		return "", fmt.Errorf("%w: cursor: %w", ErrSourceMalformed, err)
	}
	if !strings.EqualFold(u.Host, p.base.Host) || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("%w: cursor points at %q", ErrSourceMalformed, u.Host)
	}
	if p.cfg.AccessToken != "" {
		q := u.Query()
		if q.Get("access_token") == "" {
			q.Set("access_token", p.cfg.AccessToken)
			u.RawQuery = q.Encode()
		}
	}
	return u.String(), nil
}

func (p *Prismic) get(ctx context.Context, target string, out any) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limiter: %w", ErrSourceUnavailable, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("%w: create request: %w", ErrSourceUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("%w: status %d", ErrSourceUnavailable, resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, prismicMaxBody)).Decode(out); err != nil {
		return fmt.Errorf("%w: decode: %w", ErrSourceMalformed, err)
	}
	return nil
}

// --- wire types ---

type prismicAPI struct {
	Refs []struct {
		ID          string `json:"id"`
		Ref         string `json:"ref"`
		IsMasterRef bool   `json:"isMasterRef"`
	} `json:"refs"`
}

type prismicSearch struct {
	Page     int               `json:"page"`
	NextPage *string           `json:"next_page"`
	Results  []prismicDocument `json:"results"`
}

type prismicDocument struct {
	ID                   string      `json:"id"`
	UID                  *string     `json:"uid"`
	Type                 string      `json:"type"`
	FirstPublicationDate *string     `json:"first_publication_date"`
	LastPublicationDate  *string     `json:"last_publication_date"`
	Data                 prismicData `json:"data"`
}

type prismicData struct {
	Title    prismicText `json:"title"`
	Subtitle prismicText `json:"subtitle"`
	Author   prismicText `json:"author"`
	Banner   struct {
		URL        string               `json:"url"`
		Alt        string               `json:"alt"`
		Dimensions *richtext.Dimensions `json:"dimensions"`
	} `json:"banner"`
	Content []struct {
		Heading prismicText       `json:"heading"`
		Body    richtext.RichText `json:"body"`
	} `json:"content"`
}

// prismicText accepts key text (a JSON string), rich text (an array of
// elements) or null.
type prismicText string

func (t *prismicText) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*t = ""
		return nil
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = prismicText(s)
		return nil
	case b[0] == '[':
		var rt richtext.RichText
		if err := json.Unmarshal(b, &rt); err != nil {
			return err
		}
		*t = prismicText(rt.Text())
		return nil
	default:
		return fmt.Errorf("unexpected text value %s", b)
	}
}

func (d prismicDocument) post() (Post, error) {
	if d.UID == nil || *d.UID == "" {
		return Post{}, fmt.Errorf("%w: document %q has no uid", ErrSourceMalformed, d.ID)
	}
	first, err := parsePrismicDate(d.FirstPublicationDate)
	if err != nil {
		return Post{}, err
	}
	last, err := parsePrismicDate(d.LastPublicationDate)
	if err != nil {
		return Post{}, err
	}
	post := Post{
		UID:                  *d.UID,
		FirstPublicationDate: first,
		LastPublicationDate:  last,
		Title:                string(d.Data.Title),
		Subtitle:             string(d.Data.Subtitle),
		Author:               string(d.Data.Author),
		Banner: Image{
			URL: d.Data.Banner.URL,
			Alt: d.Data.Banner.Alt,
		},
	}
	if dim := d.Data.Banner.Dimensions; dim != nil {
		post.Banner.Width = dim.Width
		post.Banner.Height = dim.Height
	}
	for _, c := range d.Data.Content {
		post.Content = append(post.Content, Block{
			Heading: string(c.Heading),
			Body:    c.Body,
		})
	}
	return post, nil
}

func parsePrismicDate(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := time.Parse(prismicDateLayout, *s)
	if err != nil {
		// Some endpoints emit RFC 3339 offsets with a colon.
		if t2, err2 := time.Parse(time.RFC3339, *s); err2 == nil {
			return &t2, nil
		}
		return nil, fmt.Errorf("%w: publication date %q", ErrSourceMalformed, *s)
	}
	return &t, nil
}
