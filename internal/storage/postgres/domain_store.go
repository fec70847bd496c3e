package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/keenturbo/dropradar/internal/models"
	"github.com/keenturbo/dropradar/internal/storage"
)

// Store implements storage.Repository using PostgreSQL.
type Store struct {
	pool *Pool
}

// Compile-time interface check.
var _ storage.Repository = (*Store)(nil)

// Open connects, applies the schema and returns a ready Store.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := NewPool(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// NewStore wraps an existing pool. The schema must already be applied.
func NewStore(pool *Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// InTx runs fn in a transaction, committing only if fn succeeds.
func (s *Store) InTx(ctx context.Context, fn func(storage.Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&pgTx{q: tx})
	})
}

func (s *Store) GetDomain(ctx context.Context, name string) (*models.Domain, error) {
	return findByName(ctx, s.pool, name)
}

func (s *Store) ListDomains(ctx context.Context, f storage.DomainFilter) ([]*models.Domain, error) {
	where, args := storage.FilterClause(f, func(i int) string { return fmt.Sprintf("$%d", i) }, true)
	query := `SELECT ` + storage.DomainColumns + ` FROM domains` + where + ` ORDER BY da_score DESC, name ASC`
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", f.Limit, max(f.Offset, 0))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query domains: %w", err)
	}
	defer rows.Close()

	domains := []*models.Domain{}
	for rows.Next() {
		d, err := scanDomain(rows)
		if err != nil {
			return nil, fmt.Errorf("scan domain: %w", err)
		}
		domains = append(domains, d)
	}
	return domains, rows.Err()
}

func (s *Store) MarkNotified(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE domains SET notified = TRUE, updated_at = $1 WHERE name = ANY($2)`,
		time.Now().UTC(), names)
	if err != nil {
		return fmt.Errorf("mark notified: %w", err)
	}
	return nil
}

func (s *Store) SaveScanRun(ctx context.Context, run *models.ScanRun) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("%w: scan run id is required", storage.ErrInvalidInput)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO scan_runs (id, started_at, finished_at, outcome, reason, candidates, persisted)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID, run.StartedAt, run.FinishedAt, string(run.Outcome), run.Reason, run.Candidates, run.Persisted,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert scan run: %w", err)
	}
	return nil
}

func (s *Store) ListScanRuns(ctx context.Context, limit int) ([]models.ScanRun, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, started_at, finished_at, outcome, reason, candidates, persisted
		FROM scan_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query scan runs: %w", err)
	}
	defer rows.Close()

	runs := []models.ScanRun{}
	for rows.Next() {
		var r models.ScanRun
		var outcome string
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &outcome, &r.Reason, &r.Candidates, &r.Persisted); err != nil {
			return nil, fmt.Errorf("scan scan run: %w", err)
		}
		r.Outcome = models.ScanOutcome(outcome)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// pgTx implements storage.Tx inside a pgx transaction.
type pgTx struct {
	q querier
}

func (t *pgTx) FindByName(ctx context.Context, name string) (*models.Domain, error) {
	return findByName(ctx, t.q, name)
}

func (t *pgTx) Insert(ctx context.Context, d *models.Domain) error {
	if err := d.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	err := t.q.QueryRow(ctx, `
		INSERT INTO domains (
			name, tld, name_length, da_score, authority_known, backlinks,
			referring_domains, spam_score, domain_age_years, auction_price, bid_count,
			encyclopedia_links, drop_date, real_expiry, quality_score, source_tier, status,
			scan_id, first_seen, last_seen, created_at, updated_at, is_new, notified
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22, $23, $24)
		RETURNING id`,
		domainArgs(d)...,
	).Scan(&d.ID)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert domain: %w", err)
	}
	return nil
}

func (t *pgTx) Update(ctx context.Context, d *models.Domain) error {
	if err := d.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	tag, err := t.q.Exec(ctx, `
		UPDATE domains SET
			tld = $2, name_length = $3, da_score = $4, authority_known = $5, backlinks = $6,
			referring_domains = $7, spam_score = $8, domain_age_years = $9, auction_price = $10,
			bid_count = $11, encyclopedia_links = $12, drop_date = $13, real_expiry = $14,
			quality_score = $15, source_tier = $16, status = $17, scan_id = $18, first_seen = $19,
			last_seen = $20, created_at = $21, updated_at = $22, is_new = $23, notified = $24
		WHERE name = $1`,
		domainArgs(d)...,
	)
	if err != nil {
		return fmt.Errorf("update domain: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (t *pgTx) MarkStale(ctx context.Context, keep []string) (int64, error) {
	if keep == nil {
		keep = []string{}
	}
	tag, err := t.q.Exec(ctx,
		`UPDATE domains SET is_new = FALSE WHERE is_new AND name <> ALL($1)`, keep)
	if err != nil {
		return 0, fmt.Errorf("mark stale domains: %w", err)
	}
	return tag.RowsAffected(), nil
}

func findByName(ctx context.Context, q querier, name string) (*models.Domain, error) {
	row := q.QueryRow(ctx, `SELECT `+storage.DomainColumns+` FROM domains WHERE name = $1`, name)
	d, err := scanDomain(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get domain: %w", err)
	}
	return d, nil
}

// domainArgs returns values in storage.DomainColumns order, id excluded.
func domainArgs(d *models.Domain) []any {
	var dropDate *time.Time
	if !d.DropDate.IsZero() {
		dropDate = &d.DropDate
	}
	return []any{
		d.Name, d.TLD, d.NameLength, d.DAScore, d.AuthorityKnown, d.Backlinks,
		d.ReferringDomains, d.SpamScore, d.DomainAgeYears, d.AuctionPrice, d.BidCount,
		d.EncyclopediaLinks, dropDate, d.RealExpiry, d.QualityScore,
		string(d.SourceTier), string(d.Status),
		d.ScanID, d.FirstSeen, d.LastSeen, d.CreatedAt, d.UpdatedAt, d.IsNew, d.Notified,
	}
}

func scanDomain(row pgx.Row) (*models.Domain, error) {
	var d models.Domain
	var tier, status string
	var dropDate *time.Time

	err := row.Scan(
		&d.ID, &d.Name, &d.TLD, &d.NameLength, &d.DAScore, &d.AuthorityKnown, &d.Backlinks,
		&d.ReferringDomains, &d.SpamScore, &d.DomainAgeYears, &d.AuctionPrice, &d.BidCount,
		&d.EncyclopediaLinks, &dropDate, &d.RealExpiry, &d.QualityScore, &tier, &status,
		&d.ScanID, &d.FirstSeen, &d.LastSeen, &d.CreatedAt, &d.UpdatedAt, &d.IsNew, &d.Notified,
	)
	if err != nil {
		return nil, err
	}
	d.SourceTier = models.SourceTier(tier)
	d.Status = models.Status(status)
	if dropDate != nil {
		d.DropDate = *dropDate
	}
	d.Scored = true
	return &d, nil
}
