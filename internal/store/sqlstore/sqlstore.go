// Package sqlstore implements store.Store on SQLite (modernc.org/sqlite) and
// PostgreSQL (jackc/pgx stdlib). Shadow tuples are stored as columns on the
// datapoint row so every granularity is written by one statement.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	_ "modernc.org/sqlite"             // registers the "sqlite" driver

	"github.com/lifelog/lifelog/internal/logging"
	"github.com/lifelog/lifelog/internal/store"
)

// dialect captures the differences between the supported databases
type dialect struct {
	backend      string
	driver       string
	numbered     bool // $1, $2 placeholders instead of ?
	readOnlyTxns bool // View runs inside a read-only transaction
}

var dialects = map[string]dialect{
	store.BackendSQLite:   {backend: store.BackendSQLite, driver: "sqlite"},
	store.BackendPostgres: {backend: store.BackendPostgres, driver: "pgx", numbered: true, readOnlyTxns: true},
}

// rebind rewrites ? placeholders for dialects that number them
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// SQLiteDSN builds a modernc.org/sqlite DSN for a database file with WAL
// journaling, foreign keys and immediate write transactions.
func SQLiteDSN(path string) string {
	return "file:" + path +
		"?_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=foreign_keys(1)" +
		"&_txlock=immediate"
}

// Store is a database/sql backed store.Store
type Store struct {
	db      *sql.DB
	dialect dialect
	logger  *logging.Logger
}

var _ store.Store = &Store{} // Compile-time check

// Open connects to the database. For sqlite dsn is a file path or a full DSN.
func Open(ctx context.Context, backend, dsn string) (*Store, error) {
	d, ok := dialects[backend]
	if !ok {
		return nil, fmt.Errorf("unsupported store backend: %s", backend)
	}
	if backend == store.BackendSQLite && !strings.HasPrefix(dsn, "file:") {
		dsn = SQLiteDSN(dsn)
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", backend, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", backend, err)
	}

	return &Store{
		db:      db,
		dialect: d,
		logger:  logging.Global().With("component", "sqlstore", "backend", backend),
	}, nil
}

// DB returns the underlying connection pool
func (s *Store) DB() *sql.DB {
	return s.db
}

// Backend returns the backend name
func (s *Store) Backend() string {
	return s.dialect.backend
}

// Migrate applies the embedded schema migrations up to the latest version
func (s *Store) Migrate() error {
	_, err := Migrate(s.db, s.dialect.backend, -1)
	return err
}

// View runs fn against committed state
func (s *Store) View(ctx context.Context, fn func(store.Reader) error) error {
	if !s.dialect.readOnlyTxns {
		return fn(&sqlTx{ctx: ctx, q: s.db, d: s.dialect})
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true, Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return storeFailure("begin read transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&sqlTx{ctx: ctx, q: tx, d: s.dialect}); err != nil {
		return err
	}
	return nil
}

// Update runs fn in a read-write transaction
func (s *Store) Update(ctx context.Context, fn func(store.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeFailure("begin transaction", err)
	}

	if err := fn(&sqlTx{ctx: ctx, q: tx, d: s.dialect}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			s.logger.Warn("Rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return storeFailure("commit", err)
	}
	return nil
}

// Close closes the connection pool
func (s *Store) Close() error {
	return s.db.Close()
}
