// Package reconcile upserts a scan's candidates into storage and maintains the is_new flag.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/keenturbo/dropradar/internal/logger"
	"github.com/keenturbo/dropradar/internal/metrics"
	"github.com/keenturbo/dropradar/internal/models"
	"github.com/keenturbo/dropradar/internal/storage"
)

// ErrPersistence wraps every storage failure seen during reconciliation.
var ErrPersistence = errors.New("persistence failed")

// Stats counts the writes of one reconciliation.
type Stats struct {
	Inserted int
	Updated  int
	Staled   int64
}

// Total is the number of candidate records written.
func (s Stats) Total() int {
	return s.Inserted + s.Updated
}

type Reconciler struct {
	repo    storage.Repository
	metrics *metrics.Metrics
	now     func() time.Time
}

type Option func(*Reconciler)

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

func New(repo storage.Repository, opts ...Option) *Reconciler {
	r := &Reconciler{repo: repo, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile writes cs in a single transaction. Existing records keep their id,
// created_at and first_seen; every record not in cs loses is_new. On error
// nothing is written.
func (r *Reconciler) Reconcile(ctx context.Context, scanID string, cs []models.Candidate) (Stats, error) {
	var stats Stats
	now := r.now().UTC()

	err := r.repo.InTx(ctx, func(tx storage.Tx) error {
		stats = Stats{}
		seen := make(map[string]bool, len(cs))
		names := make([]string, 0, len(cs))

		for _, c := range cs {
			if seen[c.Name] {
				continue
			}
			seen[c.Name] = true
			names = append(names, c.Name)

			existing, err := tx.FindByName(ctx, c.Name)
			switch {
			case err == nil:
				existing.Refresh(c, scanID, now)
				if err := tx.Update(ctx, existing); err != nil {
					return fmt.Errorf("update %s: %w", c.Name, err)
				}
				stats.Updated++
			case errors.Is(err, storage.ErrNotFound):
				d := &models.Domain{
					Candidate: c,
					ScanID:    scanID,
					FirstSeen: now,
					LastSeen:  now,
					CreatedAt: now,
					UpdatedAt: now,
					IsNew:     true,
				}
				if err := tx.Insert(ctx, d); err != nil {
					return fmt.Errorf("insert %s: %w", c.Name, err)
				}
				stats.Inserted++
			default:
				return fmt.Errorf("find %s: %w", c.Name, err)
			}
		}

		n, err := tx.MarkStale(ctx, names)
		if err != nil {
			return fmt.Errorf("mark stale: %w", err)
		}
		stats.Staled = n
		return nil
	})
	if err != nil {
		r.metrics.ReconcileFailed()
		return Stats{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	r.metrics.Persisted(stats.Inserted, stats.Updated)
	logger.Info("Reconciled scan %s: %d inserted, %d updated, %d no longer new",
		scanID, stats.Inserted, stats.Updated, stats.Staled)
	return stats, nil
}
