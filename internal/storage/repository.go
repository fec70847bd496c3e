package storage

import (
	"context"
	"errors"

	"github.com/keenturbo/dropradar/internal/models"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicateKey = errors.New("duplicate key")
	ErrInvalidInput = errors.New("invalid input")
)

// Repository is the persistence contract used by reconciliation, alerting
// and the CLI.
type Repository interface {
	// InTx runs fn in one transaction; any error from fn rolls back every write.
	InTx(ctx context.Context, fn func(Tx) error) error
	GetDomain(ctx context.Context, name string) (*models.Domain, error)
	ListDomains(ctx context.Context, f DomainFilter) ([]*models.Domain, error)
	MarkNotified(ctx context.Context, names []string) error
	SaveScanRun(ctx context.Context, run *models.ScanRun) error
	// ListScanRuns returns at most limit runs, newest first.
	ListScanRuns(ctx context.Context, limit int) ([]models.ScanRun, error)
	Close() error
}

// Tx is the set of writes reconciliation performs inside one transaction.
type Tx interface {
	FindByName(ctx context.Context, name string) (*models.Domain, error)
	Insert(ctx context.Context, d *models.Domain) error
	Update(ctx context.Context, d *models.Domain) error
	// MarkStale clears is_new on every record whose name is not in keep.
	MarkStale(ctx context.Context, keep []string) (int64, error)
}

// DomainFilter narrows ListDomains. Zero values disable a condition.
type DomainFilter struct {
	MinDA   int
	MaxSpam int // exclusive upper bound
	Status  models.Status
	Tier    models.SourceTier
	OnlyNew bool
	Limit   int
	Offset  int
}

// DomainColumns is the column order shared by every SQL implementation.
const DomainColumns = `id, name, tld, name_length, da_score, authority_known, backlinks,
	referring_domains, spam_score, domain_age_years, auction_price, bid_count,
	encyclopedia_links, drop_date, real_expiry, quality_score, source_tier, status,
	scan_id, first_seen, last_seen, created_at, updated_at, is_new, notified`
