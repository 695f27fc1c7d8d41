// Package store persists execution plan snapshots and audit ledger entries
// in SQL. PostgreSQL (lib/pq) and SQLite (modernc.org/sqlite) are supported.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/Mindburn-Labs/helm-guardian/pkg/contracts"
	"github.com/Mindburn-Labs/helm-guardian/pkg/ledger"
)

// Dialect selects placeholder syntax and driver.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

var ErrPlanNotFound = errors.New("plan snapshot not found")

// SQLStore implements the plan snapshotter and the audit entry store.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// New wraps an open database.
func New(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

// Open connects to databaseURL. postgres:// and postgresql:// URLs use
// lib/pq; "sqlite:<path>" and ":memory:" use SQLite.
func Open(ctx context.Context, databaseURL string) (*SQLStore, error) {
	var (
		driver  string
		dsn     string
		dialect Dialect
	)
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		driver, dsn, dialect = "postgres", databaseURL, DialectPostgres
	case databaseURL == ":memory:":
		driver, dsn, dialect = "sqlite", ":memory:", DialectSQLite
	case strings.HasPrefix(databaseURL, "sqlite:"):
		driver, dsn, dialect = "sqlite", strings.TrimPrefix(databaseURL, "sqlite:"), DialectSQLite
	default:
		return nil, fmt.Errorf("unsupported database url %q", databaseURL)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if dialect == DialectSQLite {
		// A second connection to :memory: would see an empty database.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	s := New(db, dialect)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

// Migrate creates the tables if they do not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS execution_plans (
			execution_id TEXT PRIMARY KEY,
			emergency_id TEXT NOT NULL,
			status TEXT NOT NULL,
			phase TEXT NOT NULL,
			snapshot TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS audit_entries (
			sequence BIGINT PRIMARY KEY,
			kind TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			prev_hash TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			payload TEXT NOT NULL
		)`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SavePlan upserts the latest snapshot of a plan.
func (s *SQLStore) SavePlan(ctx context.Context, plan contracts.ExecutionPlan) error {
	snap, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("encode plan %s: %w", plan.ExecutionID, err)
	}
	query := s.rebind(`INSERT INTO execution_plans (execution_id, emergency_id, status, phase, snapshot, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (execution_id) DO UPDATE SET
			status = EXCLUDED.status,
			phase = EXCLUDED.phase,
			snapshot = EXCLUDED.snapshot,
			updated_at = EXCLUDED.updated_at`)
	_, err = s.db.ExecContext(ctx, query,
		plan.ExecutionID, plan.EmergencyID, string(plan.Status), string(plan.Phase), string(snap),
		plan.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to persist plan %s: %w", plan.ExecutionID, err)
	}
	return nil
}

// LoadPlan returns the stored snapshot of a plan.
func (s *SQLStore) LoadPlan(ctx context.Context, executionID string) (contracts.ExecutionPlan, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT snapshot FROM execution_plans WHERE execution_id = ?`), executionID)
	var snap string
	if err := row.Scan(&snap); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return contracts.ExecutionPlan{}, contracts.WrapError(contracts.KindNotFound, "", ErrPlanNotFound, "execution %s", executionID)
		}
		return contracts.ExecutionPlan{}, fmt.Errorf("failed to load plan %s: %w", executionID, err)
	}
	var plan contracts.ExecutionPlan
	if err := json.Unmarshal([]byte(snap), &plan); err != nil {
		return contracts.ExecutionPlan{}, fmt.Errorf("decode plan %s: %w", executionID, err)
	}
	return plan, nil
}

// ListPlans returns snapshots with the given status, or all when status is empty.
func (s *SQLStore) ListPlans(ctx context.Context, status contracts.ExecutionStatus) ([]contracts.ExecutionPlan, error) {
	query := `SELECT snapshot FROM execution_plans ORDER BY updated_at, execution_id`
	var args []any
	if status != "" {
		query = `SELECT snapshot FROM execution_plans WHERE status = ? ORDER BY updated_at, execution_id`
		args = append(args, string(status))
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var plans []contracts.ExecutionPlan
	for rows.Next() {
		var snap string
		if err := rows.Scan(&snap); err != nil {
			return nil, err
		}
		var p contracts.ExecutionPlan
		if err := json.Unmarshal([]byte(snap), &p); err != nil {
			return nil, fmt.Errorf("decode plan: %w", err)
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

// SaveEntry appends one audit ledger entry.
func (s *SQLStore) SaveEntry(ctx context.Context, e ledger.Entry) error {
	query := s.rebind(`INSERT INTO audit_entries (sequence, kind, content_hash, prev_hash, timestamp, payload)
		VALUES (?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query,
		int64(e.Sequence), e.Kind, e.ContentHash, e.PrevHash, //nolint:gosec // sequences stay far below MaxInt64
		e.Timestamp.UTC().Format(time.RFC3339Nano), string(e.Payload),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry %d: %w", e.Sequence, err)
	}
	return nil
}

// LoadEntries returns every audit entry in sequence order, ready for
// ledger.Restore.
func (s *SQLStore) LoadEntries(ctx context.Context) ([]ledger.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sequence, kind, content_hash, prev_hash, timestamp, payload FROM audit_entries ORDER BY sequence`)
	if err != nil {
		return nil, fmt.Errorf("failed to load audit entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []ledger.Entry
	for rows.Next() {
		var (
			seq     int64
			e       ledger.Entry
			ts      string
			payload string
		)
		if err := rows.Scan(&seq, &e.Kind, &e.ContentHash, &e.PrevHash, &ts, &payload); err != nil {
			return nil, err
		}
		e.Sequence = uint64(seq) //nolint:gosec // written from a uint64
		e.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("audit entry %d timestamp: %w", seq, err)
		}
		e.Payload = json.RawMessage(payload)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
