// Package sqlstore persists the session record in a SQL table.
// SQLite (modernc.org/sqlite) and PostgreSQL (pgx stdlib) are supported.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	// Register the pgx database/sql driver.
	_ "github.com/jackc/pgx/v5/stdlib"
	// Register the pure Go SQLite driver.
	_ "modernc.org/sqlite"

	domainauth "github.com/target/sessionkeeper/internal/domain/auth"
	apperrors "github.com/target/sessionkeeper/internal/errors"
	"github.com/target/sessionkeeper/internal/ports"
)

// Dialect selects driver name and placeholder style.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// DriverName returns the database/sql driver registered for d.
func (d Dialect) DriverName() string {
	if d == DialectPostgres {
		return "pgx"
	}
	return "sqlite"
}

func (d Dialect) placeholder(n int) string {
	if d == DialectPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

const schema = `CREATE TABLE IF NOT EXISTS session_state (
	storage_key TEXT PRIMARY KEY,
	payload     TEXT NOT NULL,
	updated_at  BIGINT NOT NULL
)`

// Options configures a Store.
type Options struct {
	DB      *sql.DB
	Dialect Dialect
	Key     string
	Now     func() time.Time
}

// Store is a SQL-backed ports.StatePersister.
type Store struct {
	db      *sql.DB
	dialect Dialect
	key     string
	now     func() time.Time

	selectSQL string
	upsertSQL string
}

var _ ports.StatePersister = (*Store)(nil)

// New constructs a Store over an existing connection pool.
func New(opts Options) (*Store, error) {
	if opts.DB == nil {
		return nil, errors.New("sqlstore: db is required")
	}
	if opts.Key == "" {
		return nil, errors.New("sqlstore: key is required")
	}
	d := opts.Dialect
	if d == "" {
		d = DialectSQLite
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		db:      opts.DB,
		dialect: d,
		key:     opts.Key,
		now:     now,
		selectSQL: fmt.Sprintf("SELECT payload FROM session_state WHERE storage_key = %s",
			d.placeholder(1)),
		upsertSQL: fmt.Sprintf(`INSERT INTO session_state (storage_key, payload, updated_at) VALUES (%s, %s, %s)
ON CONFLICT (storage_key) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
			d.placeholder(1), d.placeholder(2), d.placeholder(3)),
	}, nil
}

// Open opens a connection pool for dialect at dsn and creates the schema.
func Open(ctx context.Context, dialect Dialect, dsn string) (*sql.DB, error) {
	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		// SQLite serialises writers; a single connection also keeps
		// ":memory:" databases alive across calls.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, errors.Join(apperrors.MapDBError(err), db.Close())
	}
	if err := EnsureSchema(ctx, db); err != nil {
		return nil, errors.Join(err, db.Close())
	}
	return db, nil
}

// EnsureSchema creates the session_state table when missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create session_state: %w", apperrors.MapDBError(err))
	}
	return nil
}

func (s *Store) Load(ctx context.Context) (domainauth.PersistedState, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, s.selectSQL, s.key).Scan(&payload)
	if err != nil {
		mapped := apperrors.MapDBError(err)
		if apperrors.IsNotFound(mapped) {
			return domainauth.PersistedState{}, ports.ErrNotFound
		}
		return domainauth.PersistedState{}, fmt.Errorf("select session: %w", mapped)
	}

	var st domainauth.PersistedState
	if err := json.Unmarshal([]byte(payload), &st); err != nil {
		return domainauth.PersistedState{}, fmt.Errorf("unmarshal session: %w", err)
	}
	return st, nil
}

func (s *Store) Save(ctx context.Context, state domainauth.PersistedState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.upsertSQL, s.key, string(data), s.now().UnixMilli()); err != nil {
		return fmt.Errorf("upsert session: %w", apperrors.MapDBError(err))
	}
	return nil
}

// UpdatedAt returns when the record was last written.
func (s *Store) UpdatedAt(ctx context.Context) (time.Time, error) {
	var ms int64
	q := fmt.Sprintf("SELECT updated_at FROM session_state WHERE storage_key = %s", s.dialect.placeholder(1))
	if err := s.db.QueryRowContext(ctx, q, s.key).Scan(&ms); err != nil {
		return time.Time{}, apperrors.MapDBError(err)
	}
	return time.UnixMilli(ms), nil
}
