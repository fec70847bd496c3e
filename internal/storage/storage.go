// Package storage provides SQL persistence for domains and scan history.
// SQLite and MySQL share this implementation; PostgreSQL lives in storage/postgres.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	"github.com/keenturbo/dropradar/internal/models"
)

// Storage wraps a database/sql handle for SQLite or MySQL.
type Storage struct {
	db     *sql.DB
	driver string
}

// New opens the database for driver "sqlite" (dsn is a file path, ":memory:"
// allowed) or "mysql" (dsn is a go-sql-driver DSN) and creates missing tables.
func New(driver, dsn string) (*Storage, error) {
	var db *sql.DB
	var err error

	switch driver {
	case "sqlite":
		db, err = openSQLite(dsn)
	case "mysql":
		db, err = openMySQL(dsn)
	default:
		return nil, fmt.Errorf("%w: unsupported driver %q", ErrInvalidInput, driver)
	}
	if err != nil {
		return nil, err
	}

	s := &Storage{db: db, driver: driver}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func openSQLite(path string) (*sql.DB, error) {
	if path == "" {
		path = filepath.Join(os.TempDir(), "dropradar", "dropradar.db")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	return db, nil
}

func openMySQL(dsn string) (*sql.DB, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid mysql dsn: %w", err)
	}
	cfg.ParseTime = false
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create mysql connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping mysql: %w", err)
	}
	return db, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	idCol := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.driver == "mysql" {
		idCol = "BIGINT AUTO_INCREMENT PRIMARY KEY"
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS domains (
			id                 ` + idCol + `,
			name               VARCHAR(253) NOT NULL UNIQUE,
			tld                VARCHAR(63) NOT NULL,
			name_length        INTEGER NOT NULL DEFAULT 0,
			da_score           INTEGER NOT NULL DEFAULT 0,
			authority_known    INTEGER NOT NULL DEFAULT 0,
			backlinks          INTEGER NOT NULL DEFAULT 0,
			referring_domains  INTEGER NOT NULL DEFAULT 0,
			spam_score         INTEGER NOT NULL DEFAULT 0,
			domain_age_years   INTEGER NOT NULL DEFAULT 0,
			auction_price      INTEGER NOT NULL DEFAULT 0,
			bid_count          INTEGER NOT NULL DEFAULT 0,
			encyclopedia_links INTEGER NOT NULL DEFAULT 0,
			drop_date          BIGINT NOT NULL DEFAULT 0,
			real_expiry        BIGINT NULL,
			quality_score      DOUBLE PRECISION NOT NULL DEFAULT 0,
			source_tier        VARCHAR(32) NOT NULL,
			status             VARCHAR(32) NOT NULL,
			scan_id            VARCHAR(36) NOT NULL,
			first_seen         BIGINT NOT NULL,
			last_seen          BIGINT NOT NULL,
			created_at         BIGINT NOT NULL,
			updated_at         BIGINT NOT NULL,
			is_new             INTEGER NOT NULL DEFAULT 0,
			notified           INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS scan_runs (
			id          VARCHAR(36) PRIMARY KEY,
			started_at  BIGINT NOT NULL,
			finished_at BIGINT NOT NULL,
			outcome     VARCHAR(32) NOT NULL,
			reason      TEXT,
			candidates  INTEGER NOT NULL DEFAULT 0,
			persisted   INTEGER NOT NULL DEFAULT 0
		)`,
	}
	if s.driver == "sqlite" {
		// MySQL has no CREATE INDEX IF NOT EXISTS; the UNIQUE key covers lookups there.
		stmts = append(stmts,
			`CREATE INDEX IF NOT EXISTS idx_domains_da ON domains(da_score DESC)`,
			`CREATE INDEX IF NOT EXISTS idx_domains_is_new ON domains(is_new)`,
		)
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// InTx runs fn inside a transaction, committing only if fn succeeds.
func (s *Storage) InTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(&sqlTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Storage) GetDomain(ctx context.Context, name string) (*models.Domain, error) {
	return findByName(ctx, s.db, name)
}

func (s *Storage) ListDomains(ctx context.Context, f DomainFilter) ([]*models.Domain, error) {
	where, args := FilterClause(f, func(int) string { return "?" }, 1)
	query := `SELECT ` + DomainColumns + ` FROM domains` + where + ` ORDER BY da_score DESC, name ASC`
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", f.Limit, max(f.Offset, 0))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query domains: %w", err)
	}
	defer rows.Close()

	domains := []*models.Domain{}
	for rows.Next() {
		d, err := scanDomain(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan domain: %w", err)
		}
		domains = append(domains, d)
	}
	return domains, rows.Err()
}

func (s *Storage) MarkNotified(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return nil
	}
	query := `UPDATE domains SET notified = 1, updated_at = ? WHERE name IN (` + placeholders(len(names)) + `)`
	args := append([]any{time.Now().UnixNano()}, stringArgs(names)...)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to mark notified: %w", err)
	}
	return nil
}

func (s *Storage) SaveScanRun(ctx context.Context, run *models.ScanRun) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("%w: scan run id is required", ErrInvalidInput)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scan_runs (id, started_at, finished_at, outcome, reason, candidates, persisted)
		VALUES (?,?,?,?,?,?,?)`,
		run.ID, run.StartedAt.UnixNano(), run.FinishedAt.UnixNano(), string(run.Outcome),
		run.Reason, run.Candidates, run.Persisted,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("%w: scan run %s", ErrDuplicateKey, run.ID)
		}
		return fmt.Errorf("failed to insert scan run: %w", err)
	}
	return nil
}

// ListScanRuns returns the most recent scan runs, newest first.
func (s *Storage) ListScanRuns(ctx context.Context, limit int) ([]models.ScanRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, outcome, reason, candidates, persisted
		FROM scan_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query scan runs: %w", err)
	}
	defer rows.Close()

	var runs []models.ScanRun
	for rows.Next() {
		var r models.ScanRun
		var started, finished int64
		var outcome string
		var reason sql.NullString
		if err := rows.Scan(&r.ID, &started, &finished, &outcome, &reason, &r.Candidates, &r.Persisted); err != nil {
			return nil, fmt.Errorf("failed to scan scan run: %w", err)
		}
		r.StartedAt = time.Unix(0, started)
		r.FinishedAt = time.Unix(0, finished)
		r.Outcome = models.ScanOutcome(outcome)
		r.Reason = reason.String
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// sqlTx implements Tx on a database/sql transaction.
type sqlTx struct {
	tx *sql.Tx
}

func (t *sqlTx) FindByName(ctx context.Context, name string) (*models.Domain, error) {
	return findByName(ctx, t.tx, name)
}

func (t *sqlTx) Insert(ctx context.Context, d *models.Domain) error {
	if err := d.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO domains
			(name, tld, name_length, da_score, authority_known, backlinks,
			 referring_domains, spam_score, domain_age_years, auction_price, bid_count,
			 encyclopedia_links, drop_date, real_expiry, quality_score, source_tier, status,
			 scan_id, first_seen, last_seen, created_at, updated_at, is_new, notified)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		domainArgs(d)...,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("%w: domain %s", ErrDuplicateKey, d.Name)
		}
		return fmt.Errorf("failed to insert domain: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		d.ID = id
	}
	return nil
}

func (t *sqlTx) Update(ctx context.Context, d *models.Domain) error {
	if err := d.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	args := append(domainArgs(d)[1:], d.Name)
	res, err := t.tx.ExecContext(ctx, `
		UPDATE domains SET
			tld=?, name_length=?, da_score=?, authority_known=?, backlinks=?,
			referring_domains=?, spam_score=?, domain_age_years=?, auction_price=?, bid_count=?,
			encyclopedia_links=?, drop_date=?, real_expiry=?, quality_score=?, source_tier=?, status=?,
			scan_id=?, first_seen=?, last_seen=?, created_at=?, updated_at=?, is_new=?, notified=?
		WHERE name=?`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("failed to update domain: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: domain %s", ErrNotFound, d.Name)
	}
	return nil
}

func (t *sqlTx) MarkStale(ctx context.Context, keep []string) (int64, error) {
	query := `UPDATE domains SET is_new = 0 WHERE is_new = 1`
	if len(keep) > 0 {
		query += ` AND name NOT IN (` + placeholders(len(keep)) + `)`
	}
	res, err := t.tx.ExecContext(ctx, query, stringArgs(keep)...)
	if err != nil {
		return 0, fmt.Errorf("failed to mark stale domains: %w", err)
	}
	return res.RowsAffected()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func findByName(ctx context.Context, q queryer, name string) (*models.Domain, error) {
	row := q.QueryRowContext(ctx, `SELECT `+DomainColumns+` FROM domains WHERE name = ?`, name)
	d, err := scanDomain(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: domain %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get domain: %w", err)
	}
	return d, nil
}

// domainArgs returns values in DomainColumns order, id excluded.
func domainArgs(d *models.Domain) []any {
	var realExpiry any
	if d.RealExpiry != nil {
		realExpiry = d.RealExpiry.UnixNano()
	}
	return []any{
		d.Name, d.TLD, d.NameLength, d.DAScore, boolToInt(d.AuthorityKnown), d.Backlinks,
		d.ReferringDomains, d.SpamScore, d.DomainAgeYears, d.AuctionPrice, d.BidCount,
		d.EncyclopediaLinks, unixNanoOrZero(d.DropDate), realExpiry, d.QualityScore,
		string(d.SourceTier), string(d.Status),
		d.ScanID, d.FirstSeen.UnixNano(), d.LastSeen.UnixNano(), d.CreatedAt.UnixNano(),
		d.UpdatedAt.UnixNano(), boolToInt(d.IsNew), boolToInt(d.Notified),
	}
}

func scanDomain(scan func(...any) error) (*models.Domain, error) {
	var d models.Domain
	var tier, status string
	var dropDate, firstSeen, lastSeen, createdAt, updatedAt int64
	var realExpiry sql.NullInt64
	var authorityKnown, isNew, notified int

	err := scan(
		&d.ID, &d.Name, &d.TLD, &d.NameLength, &d.DAScore, &authorityKnown, &d.Backlinks,
		&d.ReferringDomains, &d.SpamScore, &d.DomainAgeYears, &d.AuctionPrice, &d.BidCount,
		&d.EncyclopediaLinks, &dropDate, &realExpiry, &d.QualityScore, &tier, &status,
		&d.ScanID, &firstSeen, &lastSeen, &createdAt, &updatedAt, &isNew, &notified,
	)
	if err != nil {
		return nil, err
	}

	d.AuthorityKnown = authorityKnown != 0
	d.SourceTier = models.SourceTier(tier)
	d.Status = models.Status(status)
	if dropDate != 0 {
		d.DropDate = time.Unix(0, dropDate).UTC()
	}
	if realExpiry.Valid {
		t := time.Unix(0, realExpiry.Int64).UTC()
		d.RealExpiry = &t
	}
	d.FirstSeen = time.Unix(0, firstSeen)
	d.LastSeen = time.Unix(0, lastSeen)
	d.CreatedAt = time.Unix(0, createdAt)
	d.UpdatedAt = time.Unix(0, updatedAt)
	d.IsNew = isNew != 0
	d.Notified = notified != 0
	d.Scored = true
	return &d, nil
}

// FilterClause renders f as a WHERE clause. ph formats the i-th (1-based)
// placeholder and truth is the driver's value for a true flag column.
func FilterClause(f DomainFilter, ph func(i int) string, truth any) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, ph(len(args))))
	}

	if f.MinDA > 0 {
		add("da_score >= %s", f.MinDA)
	}
	if f.MaxSpam > 0 {
		add("spam_score < %s", f.MaxSpam)
	}
	if f.Status != "" {
		add("status = %s", string(f.Status))
	}
	if f.Tier != "" {
		add("source_tier = %s", string(f.Tier))
	}
	if f.OnlyNew {
		add("is_new = %s", truth)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func isDuplicateKeyError(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "PRIMARY KEY constraint failed")
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(ss []string) []any {
	args := make([]any, len(ss))
	for i, s := range ss {
		args[i] = s
	}
	return args
}

func unixNanoOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
