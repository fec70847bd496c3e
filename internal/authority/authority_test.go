package authority

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keenturbo/dropradar/internal/config"
	"github.com/keenturbo/dropradar/internal/models"
)

func newTestOPR(url string, batchSize int) *OpenPageRank {
	o := NewOpenPageRank(config.AuthorityConfig{
		APIURL:    url,
		APIKey:    "opr-key",
		BatchSize: batchSize,
		Timeout:   2 * time.Second,
	}, nil)
	o.retryDelay = time.Millisecond
	return o
}

func names(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("domain%03d.com", i)
	}
	return out
}

// echoServer answers every requested domain with page_rank_decimal 4.2,
// except the ones in failing which get a per-item 404.
func echoServer(t *testing.T, requests *atomic.Int32, failing map[string]bool) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		assert.Equal(t, "opr-key", r.Header.Get("API-OPR"))

		var items []map[string]any
		for _, d := range r.URL.Query()["domains[]"] {
			if failing[d] {
				items = append(items, map[string]any{
					"status_code": 404, "error": "Domain not found", "page_rank_decimal": "", "domain": d,
				})
				continue
			}
			items = append(items, map[string]any{
				"status_code": 200, "error": "", "page_rank_decimal": 4.2, "domain": d,
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"status_code": 200, "response": items})
	}))
}

func TestOpenPageRank_BatchesEveryName(t *testing.T) {
	var requests atomic.Int32
	server := echoServer(t, &requests, nil)
	defer server.Close()

	in := names(250)
	res := newTestOPR(server.URL, 100).BatchEstimate(context.Background(), in)

	assert.Equal(t, int32(3), requests.Load())
	require.Len(t, res.Scores, 250)
	assert.Empty(t, res.Failed)
	for _, n := range in {
		assert.Equal(t, 42, res.Scores[n])
		assert.True(t, res.Known(n))
	}
}

func TestOpenPageRank_PerItemFailure(t *testing.T) {
	var requests atomic.Int32
	server := echoServer(t, &requests, map[string]bool{"domain001.com": true})
	defer server.Close()

	res := newTestOPR(server.URL, 100).BatchEstimate(context.Background(), names(3))

	require.Len(t, res.Scores, 3)
	assert.Equal(t, 0, res.Scores["domain001.com"])
	assert.True(t, res.Failed["domain001.com"])
	assert.False(t, res.Known("domain001.com"))
	assert.Equal(t, 42, res.Scores["domain002.com"])
}

func TestOpenPageRank_TotalFailureStillMapsEveryName(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	in := names(150)
	res := newTestOPR(server.URL, 100).BatchEstimate(context.Background(), in)

	require.Len(t, res.Scores, 150)
	require.Len(t, res.Failed, 150)
	for _, n := range in {
		assert.Equal(t, 0, res.Scores[n])
	}
	// two batches, three attempts each
	assert.Equal(t, int32(6), requests.Load())
}

func TestOpenPageRank_MalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "not json")
	}))
	defer server.Close()

	res := newTestOPR(server.URL, 10).BatchEstimate(context.Background(), names(2))
	assert.Len(t, res.Scores, 2)
	assert.Len(t, res.Failed, 2)
}

func TestOpenPageRank_CancelledContext(t *testing.T) {
	var requests atomic.Int32
	server := echoServer(t, &requests, nil)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := newTestOPR(server.URL, 10).BatchEstimate(ctx, names(25))
	assert.Len(t, res.Scores, 25)
	assert.Len(t, res.Failed, 25)
}

func TestScaleDA(t *testing.T) {
	assert.Equal(t, 0, scaleDA(-1))
	assert.Equal(t, 36, scaleDA(3.66))
	assert.Equal(t, 100, scaleDA(10))
	assert.Equal(t, 100, scaleDA(12))
}

func TestStableEstimate(t *testing.T) {
	low, high := 0, 0
	for _, n := range names(500) {
		da := StableEstimate(n)
		require.Equal(t, da, StableEstimate(n), "must be deterministic")
		switch {
		case da >= 0 && da <= 15:
			low++
		case da >= 20 && da <= 50:
			high++
		default:
			t.Fatalf("estimate %d for %s outside both bands", da, n)
		}
	}
	assert.Greater(t, low, high)
}

func TestHeuristicIsNeverKnown(t *testing.T) {
	cs := []models.Candidate{{Name: "alpha.com"}, {Name: "beta.io"}}
	res := Heuristic{}.BatchEstimate(context.Background(), []string{"alpha.com", "beta.io"})
	res.Apply(cs)

	assert.Equal(t, StableEstimate("alpha.com"), cs[0].DAScore)
	assert.False(t, cs[0].AuthorityKnown)
	assert.False(t, cs[1].AuthorityKnown)
}
