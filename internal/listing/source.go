// Package listing fetches and parses the expired-domain listing pages.
package listing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/keenturbo/dropradar/internal/config"
	"github.com/keenturbo/dropradar/internal/logger"
	"github.com/keenturbo/dropradar/internal/metrics"
	"github.com/keenturbo/dropradar/internal/models"
)

var (
	// ErrCredentialInvalid means the listing redirected to a login surface or
	// refused the session. Retrying will not help; the cookie must be rotated.
	ErrCredentialInvalid = errors.New("listing credentials invalid")

	// ErrSourceUnavailable means no page produced a usable row.
	ErrSourceUnavailable = errors.New("listing source unavailable")
)

// Config holds the runtime settings of a Source.
type Config struct {
	URL         string
	Cookie      string
	UserAgent   string
	ProxyURL    string
	PageSize    int
	Workers     int
	PageDelay   time.Duration
	MaxRetries  int
	RetryDelay  time.Duration
	Timeout     time.Duration
	RowSelector string
}

// ConfigFrom copies the listing section of the application config.
func ConfigFrom(c config.ListingConfig) Config {
	return Config{
		URL:         c.URL,
		Cookie:      c.Cookie,
		UserAgent:   c.UserAgent,
		ProxyURL:    c.ProxyURL,
		PageSize:    c.PageSize,
		Workers:     c.Workers,
		PageDelay:   c.PageDelay,
		MaxRetries:  c.MaxRetries,
		RetryDelay:  c.RetryDelay,
		Timeout:     c.Timeout,
		RowSelector: c.RowSelector,
	}
}

// Source fetches listing pages with bounded concurrency and pacing.
type Source struct {
	cfg        Config
	layout     ColumnLayout
	httpClient *http.Client
	limiter    *rate.Limiter
	metrics    *metrics.Metrics
	now        func() time.Time
}

// Option configures a Source.
type Option func(*Source)

// WithHTTPClient replaces the HTTP client. Its redirect policy is overridden
// so login redirects stay observable.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Source) { s.httpClient = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Source) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Source) { s.now = now }
}

// New creates a listing source.
func New(cfg Config, layout ColumnLayout, opts ...Option) (*Source, error) {
	if cfg.PageSize < 1 {
		cfg.PageSize = 25
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if cfg.RowSelector == "" {
		cfg.RowSelector = DefaultRowSelector
	}

	s := &Source{
		cfg:    cfg,
		layout: layout,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.httpClient == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if cfg.ProxyURL != "" {
			proxy, err := url.Parse(cfg.ProxyURL)
			if err != nil {
				return nil, fmt.Errorf("invalid listing proxy url: %w", err)
			}
			transport.Proxy = http.ProxyURL(proxy)
		}
		s.httpClient = &http.Client{Timeout: cfg.Timeout, Transport: transport}
	}
	s.httpClient.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	limit := rate.Inf
	if cfg.PageDelay > 0 {
		limit = rate.Every(cfg.PageDelay)
	}
	s.limiter = rate.NewLimiter(limit, 1)

	return s, nil
}

// FetchPage fetches one zero-based page, retrying transient failures with
// linear backoff. Credential failures are returned immediately.
func (s *Source) FetchPage(ctx context.Context, page int) ([]RawRow, error) {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxRetries; attempt++ {
		rows, err := s.fetchOnce(ctx, page)
		if err == nil {
			return rows, nil
		}
		if errors.Is(err, ErrCredentialInvalid) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
		logger.Debug("Listing page %d attempt %d/%d failed: %v", page, attempt, s.cfg.MaxRetries, err)

		if attempt < s.cfg.MaxRetries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * s.cfg.RetryDelay):
			}
		}
	}
	return nil, fmt.Errorf("page %d: max retries exceeded: %w", page, lastErr)
}

// FetchPages fetches pages 0..n-1 on a bounded worker pool. A page that keeps
// failing contributes no rows; a credential failure stops every page.
// Rows are returned in page order.
func (s *Source) FetchPages(ctx context.Context, n int) ([]RawRow, error) {
	results := make([][]RawRow, n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)

	for page := 0; page < n; page++ {
		g.Go(func() error {
			if err := s.limiter.Wait(gctx); err != nil {
				return err
			}
			rows, err := s.FetchPage(gctx, page)
			switch {
			case err == nil:
				results[page] = rows
				return nil
			case errors.Is(err, ErrCredentialInvalid):
				s.metrics.ListingPageFailed("credential")
				return err
			case gctx.Err() != nil:
				return gctx.Err()
			default:
				s.metrics.ListingPageFailed("exhausted")
				logger.Warn("Abandoning listing page %d: %v", page, err)
				return nil
			}
		})
	}

	if err := g.Wait(); err != nil {
		if errors.Is(err, ErrCredentialInvalid) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	var all []RawRow
	for _, rows := range results {
		all = append(all, rows...)
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("%w: no rows across %d pages", ErrSourceUnavailable, n)
	}
	return all, nil
}

// Candidates fetches n pages and maps rows through the column layout,
// dropping unusable rows and duplicate names.
func (s *Source) Candidates(ctx context.Context, n int) ([]models.Candidate, error) {
	rows, err := s.FetchPages(ctx, n)
	if err != nil {
		return nil, err
	}

	now := s.now()
	seen := make(map[string]bool, len(rows))
	candidates := make([]models.Candidate, 0, len(rows))
	for _, row := range rows {
		c, ok := s.layout.Map(row, now)
		if !ok || seen[c.Name] {
			continue
		}
		seen[c.Name] = true
		candidates = append(candidates, c)
	}

	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: %d rows but no usable domains", ErrSourceUnavailable, len(rows))
	}
	logger.Debug("Listing produced %d candidates from %d rows", len(candidates), len(rows))
	return candidates, nil
}

func (s *Source) pageURL(page int) (string, error) {
	u, err := url.Parse(s.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("failed to parse URL: %w", err)
	}
	q := u.Query()
	q.Set("start", strconv.Itoa(page*s.cfg.PageSize))
	q.Set("flimit", strconv.Itoa(s.cfg.PageSize))
	q.Set("fwhois", "1")
	q.Set("fmarket", "0")
	q.Set("flast24", "1")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *Source) fetchOnce(ctx context.Context, page int) ([]RawRow, error) {
	pageURL, err := s.pageURL(page)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/html")
	if s.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", s.cfg.UserAgent)
	}
	if s.cfg.Cookie != "" {
		req.Header.Set("Cookie", s.cfg.Cookie)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("%w: status %d", ErrCredentialInvalid, resp.StatusCode)
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		loc := resp.Header.Get("Location")
		if resp.StatusCode == http.StatusFound || strings.Contains(strings.ToLower(loc), "login") {
			return nil, fmt.Errorf("%w: redirected to %q", ErrCredentialInvalid, loc)
		}
		return nil, fmt.Errorf("unexpected redirect %d to %q", resp.StatusCode, loc)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse listing html: %w", err)
	}
	if looksLikeLogin(doc) {
		return nil, fmt.Errorf("%w: login form served", ErrCredentialInvalid)
	}
	return rowsFromDocument(doc, s.cfg.RowSelector, s.layout.MinColumns), nil
}
