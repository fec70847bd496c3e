package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/keenturbo/dropradar/internal/models"
	"github.com/keenturbo/dropradar/internal/storage"
)

// setupTestStore starts a PostgreSQL container and returns a migrated store.
func setupTestStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	store, err := Open(ctx, dsn)
	require.NoError(t, err, "failed to open store")
	t.Cleanup(func() { _ = store.Close() })

	// applying the schema twice must be harmless
	require.NoError(t, store.pool.Migrate(ctx))
	return store
}

func testDomain(name string, da int, now time.Time) *models.Domain {
	c := models.NewCandidate(name, models.TierScraped)
	c.DAScore = da
	c.QualityScore = float64(da) * 0.3
	return &models.Domain{
		Candidate: c,
		ScanID:    "scan-a",
		FirstSeen: now,
		LastSeen:  now,
		CreatedAt: now,
		UpdatedAt: now,
		IsNew:     true,
	}
}

func TestStore_DomainLifecycle(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	expiry := now.AddDate(0, 0, -40)

	x := testDomain("x.com", 30, now)
	y := testDomain("y.com", 50, now)
	y.RealExpiry = &expiry

	err := store.InTx(ctx, func(tx storage.Tx) error {
		require.NoError(t, tx.Insert(ctx, x))
		return tx.Insert(ctx, y)
	})
	require.NoError(t, err)
	assert.NotZero(t, x.ID)

	err = store.InTx(ctx, func(tx storage.Tx) error {
		return tx.Insert(ctx, testDomain("x.com", 1, now))
	})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	got, err := store.GetDomain(ctx, "y.com")
	require.NoError(t, err)
	assert.Equal(t, 50, got.DAScore)
	require.NotNil(t, got.RealExpiry)
	assert.True(t, expiry.Equal(*got.RealExpiry))
	assert.True(t, got.DropDate.IsZero())

	later := now.Add(time.Hour)
	err = store.InTx(ctx, func(tx storage.Tx) error {
		d, err := tx.FindByName(ctx, "y.com")
		if err != nil {
			return err
		}
		c := d.Candidate
		c.DAScore = 60
		d.Refresh(c, "scan-b", later)
		if err := tx.Update(ctx, d); err != nil {
			return err
		}
		_, err = tx.MarkStale(ctx, []string{"y.com"})
		return err
	})
	require.NoError(t, err)

	x2, err := store.GetDomain(ctx, "x.com")
	require.NoError(t, err)
	assert.False(t, x2.IsNew)

	y2, err := store.GetDomain(ctx, "y.com")
	require.NoError(t, err)
	assert.True(t, y2.IsNew)
	assert.Equal(t, 60, y2.DAScore)
	assert.True(t, now.Equal(y2.CreatedAt))
	assert.True(t, later.Equal(y2.LastSeen))

	news, err := store.ListDomains(ctx, storage.DomainFilter{OnlyNew: true, MinDA: 40})
	require.NoError(t, err)
	require.Len(t, news, 1)
	assert.Equal(t, "y.com", news[0].Name)

	require.NoError(t, store.MarkNotified(ctx, []string{"y.com"}))
	y3, err := store.GetDomain(ctx, "y.com")
	require.NoError(t, err)
	assert.True(t, y3.Notified)

	_, err = store.GetDomain(ctx, "missing.com")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_MarkStaleEmptyKeep(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.InTx(ctx, func(tx storage.Tx) error {
		return tx.Insert(ctx, testDomain("solo.com", 10, now))
	}))

	var n int64
	require.NoError(t, store.InTx(ctx, func(tx storage.Tx) error {
		var err error
		n, err = tx.MarkStale(ctx, nil)
		return err
	}))
	assert.Equal(t, int64(1), n)
}

func TestStore_ScanRuns(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	run := &models.ScanRun{
		ID:         "0b7f1c1e-1111-4a4a-9c9c-000000000001",
		StartedAt:  time.Now().UTC(),
		FinishedAt: time.Now().UTC(),
		Outcome:    models.OutcomeSuccess,
		Candidates: 8,
		Persisted:  5,
	}
	require.NoError(t, store.SaveScanRun(ctx, run))
	assert.ErrorIs(t, store.SaveScanRun(ctx, run), storage.ErrDuplicateKey)

	runs, err := store.ListScanRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
	assert.Equal(t, models.OutcomeSuccess, runs[0].Outcome)
	assert.Equal(t, 5, runs[0].Persisted)
}
