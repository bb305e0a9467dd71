package persist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

// SQLStorage stores records in a SQL table.
// It works with any database/sql driver; SQLite (mattn/go-sqlite3) and
// PostgreSQL dialects are supported. Schema:
//
//	CREATE TABLE sharedstate_records (
//	    id TEXT PRIMARY KEY,
//	    value BLOB NOT NULL,
//	    version TEXT NOT NULL DEFAULT '',
//	    last_modified BIGINT NOT NULL
//	);
type SQLStorage struct {
	db        *sql.DB
	tableName string
	dialect   SQLDialect

	mu     sync.RWMutex
	closed bool
}

// SQLDialect represents the SQL dialect for query generation.
type SQLDialect int

const (
	// DialectSQLite uses SQLite syntax (? placeholders).
	DialectSQLite SQLDialect = iota
	// DialectPostgreSQL uses PostgreSQL syntax ($1, $2 placeholders).
	DialectPostgreSQL
)

// SQLOption configures SQLStorage behavior.
type SQLOption func(*sqlConfig)

type sqlConfig struct {
	tableName string
	dialect   SQLDialect
}

// WithSQLTableName sets the table name.
// Default: "sharedstate_records".
func WithSQLTableName(name string) SQLOption {
	return func(c *sqlConfig) {
		c.tableName = name
	}
}

// WithSQLDialect sets the SQL dialect for query generation.
// Default: DialectSQLite.
func WithSQLDialect(dialect SQLDialect) SQLOption {
	return func(c *sqlConfig) {
		c.dialect = dialect
	}
}

// NewSQLStorage creates a SQL-backed storage and makes sure its table exists.
func NewSQLStorage(ctx context.Context, db *sql.DB, opts ...SQLOption) (*SQLStorage, error) {
	cfg := &sqlConfig{
		tableName: "sharedstate_records",
		dialect:   DialectSQLite,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	s := &SQLStorage{
		db:        db,
		tableName: cfg.tableName,
		dialect:   cfg.dialect,
	}
	if err := s.CreateTable(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// placeholder returns the placeholder syntax for the dialect.
func (s *SQLStorage) placeholder(n int) string {
	if s.dialect == DialectPostgreSQL {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (s *SQLStorage) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Get returns the record under key.
func (s *SQLStorage) Get(ctx context.Context, key string) (*Record, error) {
	if s.isClosed() {
		return nil, ErrStoreClosed{}
	}

	query := fmt.Sprintf(`SELECT value, version, last_modified FROM %s WHERE id = %s`,
		s.tableName, s.placeholder(1))

	var (
		value   []byte
		version string
		rec     Record
	)
	err := s.db.QueryRowContext(ctx, query, key).Scan(&value, &version, &rec.LastModified)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	rec.Value = value
	rec.Version = version
	return &rec, nil
}

// Set upserts rec under key.
func (s *SQLStorage) Set(ctx context.Context, key string, rec Record) error {
	if s.isClosed() {
		return ErrStoreClosed{}
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, value, version, last_modified)
		VALUES (%s, %s, %s, %s)
		ON CONFLICT (id) DO UPDATE SET
			value = excluded.value,
			version = excluded.version,
			last_modified = excluded.last_modified
	`, s.tableName, s.placeholder(1), s.placeholder(2), s.placeholder(3), s.placeholder(4))

	_, err := s.db.ExecContext(ctx, query, key, []byte(rec.Value), rec.Version, rec.LastModified)
	return err
}

// Delete removes key.
func (s *SQLStorage) Delete(ctx context.Context, key string) error {
	if s.isClosed() {
		return ErrStoreClosed{}
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = %s`, s.tableName, s.placeholder(1))
	_, err := s.db.ExecContext(ctx, query, key)
	return err
}

// Close marks the storage as closed.
// Note: This does not close the underlying database connection,
// as it may be shared with other components.
func (s *SQLStorage) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// CreateTable creates the record table if it doesn't exist.
func (s *SQLStorage) CreateTable(ctx context.Context) error {
	var query string
	switch s.dialect {
	case DialectPostgreSQL:
		query = fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id TEXT PRIMARY KEY,
				value BYTEA NOT NULL,
				version TEXT NOT NULL DEFAULT '',
				last_modified BIGINT NOT NULL
			)
		`, s.tableName)
	default:
		query = fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id TEXT PRIMARY KEY,
				value BLOB NOT NULL,
				version TEXT NOT NULL DEFAULT '',
				last_modified INTEGER NOT NULL
			)
		`, s.tableName)
	}

	_, err := s.db.ExecContext(ctx, query)
	return err
}

var _ Storage = (*SQLStorage)(nil)
