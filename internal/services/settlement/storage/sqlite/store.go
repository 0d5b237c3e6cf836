package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/louisbranch/settlement/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/settlement/internal/services/settlement/abuse"
	"github.com/louisbranch/settlement/internal/services/settlement/idempotency"
	"github.com/louisbranch/settlement/internal/services/settlement/storage"
	"github.com/louisbranch/settlement/internal/services/settlement/storage/sqlite/migrations"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// fromMillis restores millisecond precision and keeps UTC normalization.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func nullMillis(value time.Time) sql.NullInt64 {
	if value.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(value), Valid: true}
}

func fromNullMillis(value sql.NullInt64) time.Time {
	if !value.Valid {
		return time.Time{}
	}
	return fromMillis(value.Int64)
}

// Money columns hold fixed two-place strings; rates keep their own scale.
func moneyText(value decimal.Decimal) string {
	return value.StringFixed(2)
}

func parseDecimal(column, raw string) (decimal.Decimal, error) {
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse %s %q: %w", column, raw, err)
	}
	return value, nil
}

// periodBounds turns a half-open filter period into millisecond bounds. A
// zero From or To leaves that side open.
func periodBounds(filter storage.FinanceFilter) (int64, int64) {
	from := int64(math.MinInt64)
	to := int64(math.MaxInt64)
	if !filter.From.IsZero() {
		from = toMillis(filter.From)
	}
	if !filter.To.IsZero() {
		to = toMillis(filter.To)
	}
	return from, to
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner func(dest ...any) error

// Store implements settlement persistence over SQLite.
//
// Every table lives in one file so a state change, its financial effects
// and its outbox events commit in the same transaction.
type Store struct {
	sqlDB *sql.DB
	q     querier
	inTx  bool
}

// Open opens a settlement SQLite store and applies bundled migrations.
//
// Write transactions begin IMMEDIATE so concurrent writers queue on the
// database lock instead of failing on upgrade.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := "file:" + cleanPath + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB, q: sqlDB}
	if err := sqlitemigrate.ApplyMigrations(context.Background(), sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// Close releases the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// DB returns the raw database handle.
func (s *Store) DB() *sql.DB {
	if s == nil {
		return nil
	}
	return s.sqlDB
}

func (s *Store) withTx(tx *sql.Tx) *Store {
	if s == nil || tx == nil {
		return s
	}
	cloned := *s
	cloned.q = tx
	cloned.inTx = true
	return &cloned
}

// InTx runs fn inside one transaction. Calls made on a store already bound
// to a transaction join it.
func (s *Store) InTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if s.inTx {
		return fn(s)
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(s.withTx(tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.q == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}

func affected(result sql.Result, what string) (int64, error) {
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s rows affected: %w", what, err)
	}
	return rows, nil
}

func notFoundOr(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	return fmt.Errorf("%s: %w", what, err)
}

var (
	_ storage.Store      = (*Store)(nil)
	_ idempotency.Store  = (*Store)(nil)
	_ abuse.RiskRecorder = (*Store)(nil)
)
