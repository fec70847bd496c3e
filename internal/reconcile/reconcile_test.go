package reconcile

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keenturbo/dropradar/internal/models"
	"github.com/keenturbo/dropradar/internal/storage"
	"github.com/keenturbo/dropradar/internal/storage/memory"
)

func candidates(names ...string) []models.Candidate {
	out := make([]models.Candidate, 0, len(names))
	for i, n := range names {
		c := models.NewCandidate(n, models.TierScraped)
		c.DAScore = 10 * (i + 1)
		c.Status = models.StatusAvailable
		out = append(out, c)
	}
	return out
}

// stores returns every Repository implementation that runs without external services.
func stores(t *testing.T) map[string]storage.Repository {
	t.Helper()
	sqlStore, err := storage.New("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sqlStore.Close() })

	return map[string]storage.Repository{
		"sqlite": sqlStore,
		"memory": memory.New(),
	}
}

func steppingClock(start time.Time) func() time.Time {
	now := start
	return func() time.Time {
		now = now.Add(time.Minute)
		return now
	}
}

func newNames(t *testing.T, repo storage.Repository) []string {
	t.Helper()
	list, err := repo.ListDomains(context.Background(), storage.DomainFilter{OnlyNew: true})
	require.NoError(t, err)
	names := make([]string, 0, len(list))
	for _, d := range list {
		names = append(names, d.Name)
	}
	sort.Strings(names)
	return names
}

func TestReconcile_IsNewAcrossRuns(t *testing.T) {
	for name, repo := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			r := New(repo, WithClock(steppingClock(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))))

			statsA, err := r.Reconcile(ctx, "scan-a", candidates("x.com", "y.com"))
			require.NoError(t, err)
			assert.Equal(t, 2, statsA.Inserted)
			assert.Equal(t, []string{"x.com", "y.com"}, newNames(t, repo))

			firstY, err := repo.GetDomain(ctx, "y.com")
			require.NoError(t, err)

			statsB, err := r.Reconcile(ctx, "scan-b", candidates("y.com", "z.com"))
			require.NoError(t, err)
			assert.Equal(t, 1, statsB.Inserted)
			assert.Equal(t, 1, statsB.Updated)
			assert.Equal(t, int64(1), statsB.Staled)
			assert.Equal(t, []string{"y.com", "z.com"}, newNames(t, repo))

			x, err := repo.GetDomain(ctx, "x.com")
			require.NoError(t, err)
			assert.False(t, x.IsNew)

			y, err := repo.GetDomain(ctx, "y.com")
			require.NoError(t, err)
			assert.Equal(t, firstY.ID, y.ID)
			assert.True(t, firstY.CreatedAt.Equal(y.CreatedAt))
			assert.True(t, firstY.FirstSeen.Equal(y.FirstSeen))
			assert.True(t, y.LastSeen.After(firstY.LastSeen))
			assert.Equal(t, "scan-b", y.ScanID)
			assert.Equal(t, 10, y.DAScore)
		})
	}
}

func TestReconcile_Idempotent(t *testing.T) {
	for name, repo := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			r := New(repo)
			batch := candidates("a.com", "b.com", "c.com")

			_, err := r.Reconcile(ctx, "s1", batch)
			require.NoError(t, err)
			once := newNames(t, repo)

			stats, err := r.Reconcile(ctx, "s2", batch)
			require.NoError(t, err)
			assert.Equal(t, 0, stats.Inserted)
			assert.Equal(t, 3, stats.Updated)
			assert.Equal(t, once, newNames(t, repo))
		})
	}
}

func TestReconcile_EmptyBatchClearsNew(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()
	r := New(repo)

	_, err := r.Reconcile(ctx, "s1", candidates("a.com"))
	require.NoError(t, err)

	stats, err := r.Reconcile(ctx, "s2", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Staled)
	assert.Empty(t, newNames(t, repo))
}

func TestReconcile_DuplicateNamesInBatch(t *testing.T) {
	repo := memory.New()
	stats, err := New(repo).Reconcile(context.Background(), "s1", candidates("a.com", "a.com"))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Inserted)
	assert.Equal(t, 0, stats.Updated)
}

// failingRepo fails the insert of one name inside the transaction.
type failingRepo struct {
	storage.Repository
	failOn string
}

func (f *failingRepo) InTx(ctx context.Context, fn func(storage.Tx) error) error {
	return f.Repository.InTx(ctx, func(tx storage.Tx) error {
		return fn(&failingTx{Tx: tx, failOn: f.failOn})
	})
}

type failingTx struct {
	storage.Tx
	failOn string
}

func (f *failingTx) Insert(ctx context.Context, d *models.Domain) error {
	if d.Name == f.failOn {
		return errors.New("disk full")
	}
	return f.Tx.Insert(ctx, d)
}

func TestReconcile_FailureIsAtomic(t *testing.T) {
	for name, repo := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := New(repo).Reconcile(ctx, "s1", candidates("keep.com"))
			require.NoError(t, err)

			r := New(&failingRepo{Repository: repo, failOn: "bad.com"})
			stats, err := r.Reconcile(ctx, "s2", candidates("fresh.com", "bad.com"))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrPersistence)
			assert.Zero(t, stats.Total())

			_, err = repo.GetDomain(ctx, "fresh.com")
			assert.ErrorIs(t, err, storage.ErrNotFound)
			assert.Equal(t, []string{"keep.com"}, newNames(t, repo))
		})
	}
}
