package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keenturbo/dropradar/internal/config"
	"github.com/keenturbo/dropradar/internal/models"
	"github.com/keenturbo/dropradar/internal/reconcile"
	"github.com/keenturbo/dropradar/internal/storage/memory"
)

type recordingSink struct {
	name  string
	err   error
	sent  []string
	links []string
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Send(_ context.Context, title, _, link string) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, title)
	s.links = append(s.links, link)
	return nil
}

func notifyConfig() config.NotifyConfig {
	return config.NotifyConfig{
		MinDA:        40,
		MaxSpam:      10,
		MaxPerScan:   3,
		LinkTemplate: "https://registrar.example/search?domain=%s",
	}
}

func scraped(name string, da, spam int) models.Candidate {
	c := models.NewCandidate(name, models.TierScraped)
	c.DAScore = da
	c.SpamScore = spam
	c.AuthorityKnown = true
	return c
}

func TestAlerter_Qualifies(t *testing.T) {
	a := NewAlerter(notifyConfig(), nil)

	synthetic := models.NewCandidate("gen.io", models.TierFallback)
	synthetic.DAScore = 45

	heuristic := scraped("guess.com", 45, 0)
	heuristic.AuthorityKnown = false

	tests := []struct {
		name string
		c    models.Candidate
		want bool
	}{
		{"above threshold", scraped("a.com", 40, 9), true},
		{"low da", scraped("b.com", 39, 0), false},
		{"spam at bound", scraped("c.com", 60, 10), false},
		{"synthetic tier", synthetic, false},
		{"estimated authority", heuristic, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, a.Qualifies(tt.c))
		})
	}

	cfg := notifyConfig()
	cfg.IncludeSynthetic = true
	assert.True(t, NewAlerter(cfg, nil).Qualifies(synthetic))
}

func TestAlerter_DispatchCapsAndMarks(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	ranked := []models.Candidate{
		scraped("one.com", 80, 1),
		scraped("low.com", 10, 1),
		scraped("two.com", 70, 1),
		scraped("three.com", 60, 1),
		scraped("four.com", 50, 1),
	}
	_, err := reconcile.New(repo).Reconcile(ctx, "s1", ranked)
	require.NoError(t, err)

	sink := &recordingSink{name: "rec"}
	a := NewAlerter(notifyConfig(), repo, sink)

	n, err := a.Dispatch(ctx, ranked)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{
		"High-value domain: one.com",
		"High-value domain: two.com",
		"High-value domain: three.com",
	}, sink.sent)
	assert.Equal(t, "https://registrar.example/search?domain=one.com", sink.links[0])

	d, err := repo.GetDomain(ctx, "two.com")
	require.NoError(t, err)
	assert.True(t, d.Notified)

	// a second pass only reaches the record that was not notified yet
	sink.sent = nil
	n, err = a.Dispatch(ctx, ranked)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"High-value domain: four.com"}, sink.sent)
}

func TestAlerter_DispatchSinkFailure(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	ranked := []models.Candidate{scraped("one.com", 80, 1)}
	_, err := reconcile.New(repo).Reconcile(ctx, "s1", ranked)
	require.NoError(t, err)

	failing := &recordingSink{name: "down", err: errors.New("unreachable")}
	working := &recordingSink{name: "up"}

	n, err := NewAlerter(notifyConfig(), repo, failing, working).Dispatch(ctx, ranked)
	assert.Error(t, err)
	assert.Equal(t, 1, n)

	d, err := repo.GetDomain(ctx, "one.com")
	require.NoError(t, err)
	assert.True(t, d.Notified)

	n, err = NewAlerter(notifyConfig(), memory.New(), failing).Dispatch(ctx, ranked)
	assert.Error(t, err)
	assert.Zero(t, n)
}

func TestAlerter_NoSinks(t *testing.T) {
	n, err := NewAlerter(notifyConfig(), nil).Dispatch(context.Background(), []models.Candidate{scraped("a.com", 90, 0)})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBark_Send(t *testing.T) {
	var gotPath, gotURL, gotSound string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotURL = r.URL.Query().Get("url")
		gotSound = r.URL.Query().Get("sound")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	b := NewBark(config.BarkConfig{BaseURL: server.URL + "/", Key: "devkey", Sound: "alarm"})
	err := b.Send(context.Background(), "High-value domain: a.com", "DA 40", "https://r.example/?domain=a.com")
	require.NoError(t, err)

	assert.Equal(t, "/devkey/High-value domain: a.com/DA 40", gotPath)
	assert.Equal(t, "https://r.example/?domain=a.com", gotURL)
	assert.Equal(t, "alarm", gotSound)
}

func TestBark_SendErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	b := NewBark(config.BarkConfig{BaseURL: server.URL, Key: "devkey"})
	err := b.Send(context.Background(), "t", "b", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}
