// Package store provides SQL implementations of the domain repositories on
// PostgreSQL (lib/pq) and SQLite (modernc.org/sqlite). One schema serves
// both; queries are written with '?' placeholders and rebound per dialect.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"  // PostgreSQL driver
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/onnwee/scanara/internal/tracing"
)

// Dialect identifies the SQL backend.
type Dialect string

const (
	DialectPostgres Dialect = "postgresql"
	DialectSQLite   Dialect = "sqlite"
)

// ErrUnsupportedURL is returned for database URLs with an unknown scheme.
var ErrUnsupportedURL = errors.New("unsupported database url")

// DB wraps a connection pool with its dialect.
type DB struct {
	*sql.DB
	dialect Dialect
}

// Open connects to rawURL. postgres:// and postgresql:// select lib/pq;
// sqlite: and file: select SQLite.
func Open(ctx context.Context, rawURL string) (*DB, error) {
	driver, dsn, dialect, err := parseURL(rawURL)
	if err != nil {
		return nil, err
	}

	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dialect == DialectSQLite {
		// A single connection keeps in-memory databases shared and
		// serializes writers.
		sqlDB.SetMaxOpenConns(1)
		if _, err := sqlDB.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &DB{DB: sqlDB, dialect: dialect}, nil
}

func parseURL(rawURL string) (driver, dsn string, dialect Dialect, err error) {
	switch {
	case strings.HasPrefix(rawURL, "postgres://"), strings.HasPrefix(rawURL, "postgresql://"):
		return "postgres", rawURL, DialectPostgres, nil
	case strings.HasPrefix(rawURL, "sqlite:"):
		return "sqlite", strings.TrimPrefix(strings.TrimPrefix(rawURL, "sqlite:"), "//"), DialectSQLite, nil
	case strings.HasPrefix(rawURL, "file:"):
		return "sqlite", rawURL, DialectSQLite, nil
	}
	return "", "", "", fmt.Errorf("%w: %q", ErrUnsupportedURL, redact(rawURL))
}

func redact(rawURL string) string {
	if i := strings.Index(rawURL, "@"); i >= 0 {
		if j := strings.Index(rawURL, "://"); j >= 0 && j < i {
			return rawURL[:j+3] + "***" + rawURL[i:]
		}
	}
	return rawURL
}

// Dialect returns the backend dialect.
func (db *DB) Dialect() Dialect {
	return db.dialect
}

// rebind rewrites '?' placeholders to $n for PostgreSQL.
func (db *DB) rebind(query string) string {
	if db.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
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

func (db *DB) exec(ctx context.Context, table string, op tracing.DBOperation, query string, args ...any) (_ sql.Result, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, string(db.dialect), table, op)
	defer func() { endSpan(err) }()
	return db.ExecContext(ctx, db.rebind(query), args...)
}

func (db *DB) query(ctx context.Context, table, query string, args ...any) (_ *sql.Rows, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, string(db.dialect), table, tracing.DBOperationQuery)
	defer func() { endSpan(err) }()
	return db.QueryContext(ctx, db.rebind(query), args...)
}

func (db *DB) queryRow(ctx context.Context, table, query string, args ...any) *sql.Row {
	ctx, endSpan := tracing.StartDBSpan(ctx, string(db.dialect), table, tracing.DBOperationQuery)
	defer endSpan(nil)
	return db.QueryRowContext(ctx, db.rebind(query), args...)
}

// schema is applied in order; every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		api_key TEXT NOT NULL,
		status TEXT NOT NULL,
		codebase_snapshot_id TEXT NOT NULL DEFAULT '',
		latest_audit_id TEXT NOT NULL DEFAULT '',
		latest_audit_score DOUBLE PRECISION,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_projects_owner ON projects (owner_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS api_credentials (
		id TEXT PRIMARY KEY,
		app_id TEXT NOT NULL DEFAULT '',
		owner_id TEXT NOT NULL,
		api_key TEXT NOT NULL,
		active BOOLEAN NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_api_credentials_key ON api_credentials (api_key, active)`,
	`CREATE INDEX IF NOT EXISTS idx_api_credentials_app ON api_credentials (app_id)`,

	`CREATE TABLE IF NOT EXISTS snapshots (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL REFERENCES projects (id),
		owner_id TEXT NOT NULL,
		source TEXT NOT NULL,
		origin TEXT NOT NULL DEFAULT '',
		files TEXT NOT NULL,
		file_count INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS audits (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL REFERENCES projects (id),
		owner_id TEXT NOT NULL,
		snapshot_id TEXT NOT NULL,
		status TEXT NOT NULL,
		compliance_score DOUBLE PRECISION NOT NULL DEFAULT 0,
		compliance_tier TEXT NOT NULL DEFAULT '',
		result TEXT NOT NULL DEFAULT '{}',
		error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audits_project ON audits (project_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS github_tokens (
		owner_id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL DEFAULT '',
		access_token TEXT NOT NULL,
		username TEXT NOT NULL DEFAULT '',
		github_user_id BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
}

// Migrate applies the schema. It is safe to run repeatedly.
func (db *DB) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := db.exec(ctx, "", tracing.DBOperationExec, stmt); err != nil {
			return fmt.Errorf("migration step %d: %w", i+1, err)
		}
	}
	return nil
}
