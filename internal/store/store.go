package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

//go:embed schema_postgres.sql
var postgresSchema string

// Schema version tracking (SQLite user_version):
// 1 - rooms, history, settlements
// 2 - rooms.version
const currentSchemaVersion = 2

// Driver names accepted by OpenDriver.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

// ErrNotFound is returned when a room does not exist.
var ErrNotFound = errors.New("not found")

// Store provides durable storage for rooms, history and settlements.
type Store struct {
	db      *sql.DB
	dialect dialect
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and the schema automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement (history and settlements cascade)
//   - IMMEDIATE transactions so a writer holds the lock from BEGIN
//
// This function is idempotent - safe to call multiple times.
func Open(path string) (*Store, error) {
	db, err := sql.Open(DriverSQLite, sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time; a single connection also
	// serializes UpdateRoom calls within the process.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	s := &Store{db: db, dialect: sqliteDialect}
	if err := s.applySchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	if err := setUserVersion(db); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// OpenPostgres connects to Postgres using pgx and applies the schema.
func OpenPostgres(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open(DriverPostgres, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &Store{db: db, dialect: postgresDialect}
	if err := s.applySchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return s, nil
}

// OpenDriver opens a store for the named driver. dsn is a file path for
// SQLite and a connection string for Postgres.
func OpenDriver(ctx context.Context, driver, dsn string) (*Store, error) {
	switch driver {
	case "", DriverSQLite, "sqlite":
		return Open(dsn)
	case DriverPostgres, "postgres":
		return OpenPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
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
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Driver returns the database/sql driver name in use.
func (s *Store) Driver() string {
	return s.dialect.driver
}

func sqliteDSN(path string) string {
	params := "_txlock=immediate&_foreign_keys=on&_busy_timeout=5000"
	if path == ":memory:" {
		return "file::memory:?" + params
	}
	return "file:" + path + "?" + params
}

// applyPragmas sets required SQLite configuration.
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

// applySchema creates tables if they don't exist. Idempotent.
func (s *Store) applySchema(ctx context.Context) error {
	for _, stmt := range splitStatements(s.dialect.schema) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute schema: %w", err)
		}
	}
	return nil
}

func setUserVersion(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version >= currentSchemaVersion {
		return nil
	}
	// A fresh database (user_version 0) already has every column from the
	// embedded schema; only files created at version 1 need the ALTER.
	if version == 1 {
		if _, err := db.Exec("ALTER TABLE rooms ADD COLUMN version INTEGER NOT NULL DEFAULT 0"); err != nil {
			return fmt.Errorf("migrate rooms.version: %w", err)
		}
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

func splitStatements(schema string) []string {
	var out []string
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		out = append(out, stmt)
	}
	return out
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
