package authority

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/keenturbo/dropradar/internal/config"
	"github.com/keenturbo/dropradar/internal/logger"
	"github.com/keenturbo/dropradar/internal/metrics"
)

// maxBatchSize is the OpenPageRank per-request domain limit.
const maxBatchSize = 100

// OpenPageRank queries the OpenPageRank API in sequential, paced batches.
type OpenPageRank struct {
	apiURL     string
	apiKey     string
	batchSize  int
	httpClient *http.Client
	limiter    *rate.Limiter
	retryDelay time.Duration
	metrics    *metrics.Metrics
}

type oprResponse struct {
	StatusCode int       `json:"status_code"`
	Response   []oprItem `json:"response"`
}

type oprItem struct {
	StatusCode      int        `json:"status_code"`
	Error           string     `json:"error"`
	PageRankDecimal looseFloat `json:"page_rank_decimal"`
	Domain          string     `json:"domain"`
}

// looseFloat accepts a JSON number, a quoted number, or "" (treated as 0).
type looseFloat float64

func (f *looseFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = looseFloat(v)
	return nil
}

// NewOpenPageRank creates an estimator from the authority config section.
func NewOpenPageRank(cfg config.AuthorityConfig, m *metrics.Metrics) *OpenPageRank {
	size := cfg.BatchSize
	if size < 1 || size > maxBatchSize {
		size = maxBatchSize
	}
	limit := rate.Inf
	if cfg.BatchDelay > 0 {
		limit = rate.Every(cfg.BatchDelay)
	}
	return &OpenPageRank{
		apiURL:     cfg.APIURL,
		apiKey:     cfg.APIKey,
		batchSize:  size,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, 1),
		retryDelay: time.Second,
		metrics:    m,
	}
}

// BatchEstimate never omits a name: failed batches and failed items map to 0
// and are listed in Result.Failed.
func (o *OpenPageRank) BatchEstimate(ctx context.Context, names []string) Result {
	res := newResult(true, len(names))

	for start := 0; start < len(names); start += o.batchSize {
		end := min(start+o.batchSize, len(names))
		batch := names[start:end]

		if err := o.limiter.Wait(ctx); err != nil {
			markFailed(res, names[start:])
			break
		}

		scores, err := o.fetchBatch(ctx, batch)
		if err != nil {
			o.metrics.AuthorityBatchFailed()
			logger.Warn("Authority batch %d-%d failed, defaulting to 0: %v", start, end, err)
			markFailed(res, batch)
			continue
		}

		for _, name := range batch {
			da, ok := scores[strings.ToLower(name)]
			if !ok {
				res.Scores[name] = 0
				res.Failed[name] = true
				continue
			}
			res.Scores[name] = da
		}
	}

	return res
}

func markFailed(res Result, names []string) {
	for _, name := range names {
		res.Scores[name] = 0
		res.Failed[name] = true
	}
}

// fetchBatch returns DA per lowercase domain for items the API resolved.
func (o *OpenPageRank) fetchBatch(ctx context.Context, batch []string) (map[string]int, error) {
	u, err := url.Parse(o.apiURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	q := u.Query()
	for _, name := range batch {
		q.Add("domains[]", name)
	}
	u.RawQuery = q.Encode()

	resp, err := o.doRequest(ctx, u.String())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var body oprResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if body.StatusCode != 0 && body.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("api status: %d", body.StatusCode)
	}

	scores := make(map[string]int, len(body.Response))
	for _, item := range body.Response {
		if item.StatusCode != http.StatusOK {
			logger.Debug("Authority lookup for %s failed: %s", item.Domain, item.Error)
			continue
		}
		scores[strings.ToLower(item.Domain)] = scaleDA(float64(item.PageRankDecimal))
	}
	return scores, nil
}

// scaleDA converts a 0-10 page rank decimal into a 0-100 DA.
func scaleDA(decimal float64) int {
	da := int(decimal * 10)
	if da < 0 {
		return 0
	}
	if da > 100 {
		return 100
	}
	return da
}

// doRequest performs HTTP request with retry logic
func (o *OpenPageRank) doRequest(ctx context.Context, urlStr string) (*http.Response, error) {
	maxRetries := 3
	var lastErr error

	for i := 0; i < maxRetries; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return nil, err
		}

		req.Header.Set("Accept", "application/json")
		req.Header.Set("API-OPR", o.apiKey)

		resp, err := o.httpClient.Do(req)
		if err != nil {
			lastErr = err
		} else if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
		} else {
			return resp, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(i+1) * o.retryDelay):
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
