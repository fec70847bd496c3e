// Package memory provides an in-memory storage.Repository for tests and dry runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/keenturbo/dropradar/internal/models"
	"github.com/keenturbo/dropradar/internal/storage"
)

// Store is an in-memory implementation of storage.Repository. Transactions
// work on a staged copy that replaces the live data only on success.
type Store struct {
	mu     sync.RWMutex
	data   map[string]*models.Domain // keyed by name
	runs   map[string]models.ScanRun
	nextID int64
}

// Compile-time interface check.
var _ storage.Repository = (*Store)(nil)

func New() *Store {
	return &Store{
		data: make(map[string]*models.Domain),
		runs: make(map[string]models.ScanRun),
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) InTx(ctx context.Context, fn func(storage.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := &memTx{data: make(map[string]*models.Domain, len(s.data)), nextID: s.nextID}
	for k, v := range s.data {
		staged.data[k] = copyDomain(v)
	}

	if err := fn(staged); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.data = staged.data
	s.nextID = staged.nextID
	return nil
}

func (s *Store) GetDomain(_ context.Context, name string) (*models.Domain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.data[name]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyDomain(d), nil
}

func (s *Store) ListDomains(_ context.Context, f storage.DomainFilter) ([]*models.Domain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*models.Domain{}
	for _, d := range s.data {
		if f.MinDA > 0 && d.DAScore < f.MinDA {
			continue
		}
		if f.MaxSpam > 0 && d.SpamScore >= f.MaxSpam {
			continue
		}
		if f.Status != "" && d.Status != f.Status {
			continue
		}
		if f.Tier != "" && d.SourceTier != f.Tier {
			continue
		}
		if f.OnlyNew && !d.IsNew {
			continue
		}
		out = append(out, copyDomain(d))
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].DAScore != out[j].DAScore {
			return out[i].DAScore > out[j].DAScore
		}
		return out[i].Name < out[j].Name
	})

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return []*models.Domain{}, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) MarkNotified(_ context.Context, names []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, n := range names {
		if d, ok := s.data[n]; ok {
			d.Notified = true
			d.UpdatedAt = now
		}
	}
	return nil
}

func (s *Store) SaveScanRun(_ context.Context, run *models.ScanRun) error {
	if run == nil || run.ID == "" {
		return storage.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; exists {
		return storage.ErrDuplicateKey
	}
	s.runs[run.ID] = *run
	return nil
}

func (s *Store) ListScanRuns(_ context.Context, limit int) ([]models.ScanRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.ScanRun, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memTx struct {
	data   map[string]*models.Domain
	nextID int64
}

func (t *memTx) FindByName(_ context.Context, name string) (*models.Domain, error) {
	d, ok := t.data[name]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyDomain(d), nil
}

func (t *memTx) Insert(_ context.Context, d *models.Domain) error {
	if d == nil {
		return storage.ErrInvalidInput
	}
	if err := d.Validate(); err != nil {
		return storage.ErrInvalidInput
	}
	if _, exists := t.data[d.Name]; exists {
		return storage.ErrDuplicateKey
	}
	t.nextID++
	d.ID = t.nextID
	t.data[d.Name] = copyDomain(d)
	return nil
}

func (t *memTx) Update(_ context.Context, d *models.Domain) error {
	if d == nil {
		return storage.ErrInvalidInput
	}
	if err := d.Validate(); err != nil {
		return storage.ErrInvalidInput
	}
	existing, ok := t.data[d.Name]
	if !ok {
		return storage.ErrNotFound
	}
	updated := copyDomain(d)
	updated.ID = existing.ID
	t.data[d.Name] = updated
	return nil
}

func (t *memTx) MarkStale(_ context.Context, keep []string) (int64, error) {
	kept := make(map[string]bool, len(keep))
	for _, n := range keep {
		kept[n] = true
	}
	var n int64
	for name, d := range t.data {
		if d.IsNew && !kept[name] {
			d.IsNew = false
			n++
		}
	}
	return n, nil
}

// copyDomain returns a deep copy so callers cannot mutate stored records.
func copyDomain(d *models.Domain) *models.Domain {
	c := *d
	if d.RealExpiry != nil {
		exp := *d.RealExpiry
		c.RealExpiry = &exp
	}
	return &c
}
