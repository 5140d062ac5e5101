package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Querier is the part of *sql.DB and *sql.Tx the repository needs.
// Statements are written with ? placeholders.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const (
	defaultMaxRetries   = 3
	defaultRetryBackoff = 50 * time.Millisecond
)

// Gateway owns the connection pool. Its direct Exec/Query calls retry
// transient connection failures; statements inside Transaction do not.
type Gateway struct {
	DB      *sql.DB
	Dialect Dialect

	MaxRetries   int
	RetryBackoff time.Duration

	log *zap.Logger
}

func New(conn *sql.DB, dialect Dialect, log *zap.Logger) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{
		DB:           conn,
		Dialect:      dialect,
		MaxRetries:   defaultMaxRetries,
		RetryBackoff: defaultRetryBackoff,
		log:          log,
	}
}

func (g *Gateway) Close() error {
	return g.DB.Close()
}

func (g *Gateway) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	q := Rebind(g.Dialect, query)
	var res sql.Result
	err := g.retry(ctx, "exec", func() error {
		var err error
		res, err = g.DB.ExecContext(ctx, q, args...)
		return err
	})
	return res, err
}

func (g *Gateway) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	q := Rebind(g.Dialect, query)
	var rows *sql.Rows
	err := g.retry(ctx, "query", func() error {
		var err error
		rows, err = g.DB.QueryContext(ctx, q, args...)
		return err
	})
	return rows, err
}

// QueryRowContext defers its error to Scan, so it is not retried.
func (g *Gateway) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return g.DB.QueryRowContext(ctx, Rebind(g.Dialect, query), args...)
}

// Transaction runs fn inside one transaction. Any error returned by fn, or a
// panic, rolls everything back; the error is returned unchanged.
func (g *Gateway) Transaction(ctx context.Context, fn func(q Querier) error) (err error) {
	var tx *sql.Tx
	if err := g.retry(ctx, "begin", func() error {
		var err error
		tx, err = g.DB.BeginTx(ctx, nil)
		return err
	}); err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
				g.log.Warn("rollback failed", zap.Error(rbErr))
			}
		}
	}()
	if err = fn(txQuerier{tx: tx, dialect: g.Dialect}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (g *Gateway) retry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt <= g.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := g.RetryBackoff * time.Duration(1<<(attempt-1))
			g.log.Warn("retrying transient db error",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(err))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		err = fn()
		if err == nil || !IsTransient(err) {
			return err
		}
	}
	return fmt.Errorf("%s: max retries exceeded: %w", op, err)
}

type txQuerier struct {
	tx      *sql.Tx
	dialect Dialect
}

func (t txQuerier) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, Rebind(t.dialect, query), args...)
}

func (t txQuerier) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, Rebind(t.dialect, query), args...)
}

func (t txQuerier) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, Rebind(t.dialect, query), args...)
}

// Rebind rewrites ? placeholders to $N for postgres. Question marks inside
// single-quoted literals are left alone.
func Rebind(d Dialect, query string) string {
	if d != Postgres || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
