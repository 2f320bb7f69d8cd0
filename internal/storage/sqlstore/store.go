// Package sqlstore implements storage.Adapter on database/sql.
//
// Two backends are supported:
//   - SQLite via OpenSQLite. The driver is mattn/go-sqlite3 by default; build
//     with -tags purego_sqlite to use the pure-Go modernc.org/sqlite driver.
//   - PostgreSQL via OpenPostgres, using the pgx stdlib driver.
//
// SQL text comes from querysql; this package executes it, scans results
// back into schema rows and manages context-scoped transactions.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/roach88/ormso/internal/querysql"
	"github.com/roach88/ormso/internal/storage"
)

// postgresDriverName is the database/sql name registered by pgx/v5/stdlib.
const postgresDriverName = "pgx"

// Store is a SQL storage adapter.
type Store struct {
	db       *sql.DB
	dialect  querysql.Dialect
	compiler *querysql.Compiler
	ddl      ddl
	logger   *slog.Logger
}

var _ storage.Adapter = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for statement tracing at debug level.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New wraps an open database handle.
func New(db *sql.DB, dialect querysql.Dialect, opts ...Option) (*Store, error) {
	var d ddl
	switch dialect.(type) {
	case querysql.SQLite:
		d = sqliteDDL{dialect: dialect}
	case querysql.Postgres:
		d = postgresDDL{dialect: dialect}
	default:
		return nil, fmt.Errorf("unsupported dialect %q", dialect.Name())
	}
	s := &Store{
		db:       db,
		dialect:  dialect,
		compiler: querysql.NewCompiler(dialect),
		ddl:      d,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// OpenSQLite creates or opens a SQLite database at path.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//   - foreign key enforcement
//
// SQLite allows a single writer, so the pool is limited to one connection.
// Every statement of a transaction must therefore use the transaction's
// context.
func OpenSQLite(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open(sqliteDriverName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	s, err := New(db, querysql.SQLite{}, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// OpenPostgres connects to PostgreSQL with a pgx connection string.
func OpenPostgres(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open(postgresDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s, err := New(db, querysql.Postgres{}, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Open opens a store for the named driver ("sqlite" or "postgres").
func Open(ctx context.Context, driver, dsn string, opts ...Option) (*Store, error) {
	dialect, err := querysql.DialectFor(driver)
	if err != nil {
		return nil, err
	}
	switch dialect.(type) {
	case querysql.Postgres:
		return OpenPostgres(ctx, dsn, opts...)
	default:
		return OpenSQLite(dsn, opts...)
	}
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect returns the SQL dialect of the store.
func (s *Store) Dialect() querysql.Dialect {
	return s.dialect
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn returns the transaction carried by ctx, or the database handle.
func (s *Store) conn(ctx context.Context) queryer {
	if st := txFrom(ctx, s); st != nil && !st.done {
		return st.tx
	}
	return s.db
}

func (s *Store) trace(ctx context.Context, op string, st querysql.Statement) {
	s.logger.DebugContext(ctx, "sql",
		"op", op,
		"statement", st.SQL,
		"args", len(st.Args),
	)
}

func storageError(op, table string, st querysql.Statement, err error) error {
	return &storage.StorageError{
		Op:        op,
		Table:     table,
		Statement: st.SQL,
		Args:      st.Args,
		Err:       err,
	}
}

// SQLiteDriver names the SQLite driver package compiled into the binary.
func SQLiteDriver() string {
	return sqliteDriverPackage
}
