package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const defaultDBName = "pfmt.db"

// Dialect selects SQL placeholder style and migration set.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// ParseDialect accepts the driver names used in settings.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	default:
		return "", fmt.Errorf("unsupported db driver %q", s)
	}
}

type Config struct {
	Driver    string
	Workspace string
	URL       string

	MaxRetries   int
	RetryBackoff time.Duration
	Logger       *zap.Logger
}

func dbPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".pfmt", defaultDBName)
}

// EnsureWorkspace creates workspace directory if missing.
func EnsureWorkspace(workspace string) (string, error) {
	if workspace == "" {
		workspace = "."
	}
	path := filepath.Join(workspace, ".pfmt")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// Path returns the db path for the workspace.
func Path(workspace string) string {
	return dbPath(workspace)
}

// Open connects to the configured store and returns a gateway over it.
// SQLite runs on a single connection so transactions serialize.
func Open(ctx context.Context, cfg Config) (*Gateway, error) {
	dialect, err := ParseDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}
	var conn *sql.DB
	switch dialect {
	case Postgres:
		if cfg.URL == "" {
			return nil, fmt.Errorf("database url is required for postgres")
		}
		conn, err = sql.Open("pgx", cfg.URL)
		if err != nil {
			return nil, err
		}
		conn.SetMaxOpenConns(10)
		conn.SetMaxIdleConns(2)
		conn.SetConnMaxLifetime(30 * time.Minute)
		conn.SetConnMaxIdleTime(5 * time.Minute)
	default:
		if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
			return nil, err
		}
		dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate", dbPath(cfg.Workspace))
		conn, err = sql.Open("sqlite", dsn)
		if err != nil {
			return nil, err
		}
		conn.SetMaxOpenConns(1)
	}
	g := New(conn, dialect, cfg.Logger)
	if cfg.MaxRetries > 0 {
		g.MaxRetries = cfg.MaxRetries
	}
	if cfg.RetryBackoff > 0 {
		g.RetryBackoff = cfg.RetryBackoff
	}
	if err := g.retry(ctx, "ping", func() error { return conn.PingContext(ctx) }); err != nil {
		conn.Close()
		return nil, fmt.Errorf("connect %s: %w", dialect, err)
	}
	return g, nil
}
