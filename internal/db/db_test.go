package db

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebind(t *testing.T) {
	q := "SELECT id FROM projects WHERE lower(name)=lower(?) AND code <> '?' AND id=?"
	assert.Equal(t, q, Rebind(SQLite, q))
	assert.Equal(t,
		"SELECT id FROM projects WHERE lower(name)=lower($1) AND code <> '?' AND id=$2",
		Rebind(Postgres, q))
}

func TestErrorClassification(t *testing.T) {
	unique := fmt.Errorf("insert project: %w", &pgconn.PgError{Code: "23505"})
	assert.True(t, IsUniqueViolation(unique))
	assert.False(t, IsTransient(unique))

	for _, code := range []string{"08006", "40001", "40P01", "57P01"} {
		assert.True(t, IsTransient(&pgconn.PgError{Code: code}), code)
	}
	assert.True(t, IsTransient(driver.ErrBadConn))
	assert.False(t, IsTransient(errors.New("boom")))
	assert.False(t, IsUniqueViolation(errors.New("boom")))
	assert.Equal(t, "projects_name_lower", ViolatedConstraint(&pgconn.PgError{Code: "23505", ConstraintName: "projects_name_lower"}))
	assert.Equal(t, "", ViolatedConstraint(errors.New("boom")))
}

func TestParseDialect(t *testing.T) {
	d, err := ParseDialect("pgx")
	require.NoError(t, err)
	assert.Equal(t, Postgres, d)
	d, err = ParseDialect("")
	require.NoError(t, err)
	assert.Equal(t, SQLite, d)
	_, err = ParseDialect("mysql")
	assert.Error(t, err)
}

func TestTransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	g, err := Open(ctx, Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer g.Close()

	_, err = g.ExecContext(ctx, `CREATE TABLE items(id TEXT PRIMARY KEY)`)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = g.Transaction(ctx, func(q Querier) error {
		if _, err := q.ExecContext(ctx, `INSERT INTO items(id) VALUES (?)`, "a"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var n int
	require.NoError(t, g.QueryRowContext(ctx, `SELECT COUNT(*) FROM items`).Scan(&n))
	assert.Equal(t, 0, n)

	err = g.Transaction(ctx, func(q Querier) error {
		if _, err := q.ExecContext(ctx, `INSERT INTO items(id) VALUES (?)`, "a"); err != nil {
			return err
		}
		_, err := q.ExecContext(ctx, `INSERT INTO items(id) VALUES (?)`, "a")
		return err
	})
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))
	assert.Contains(t, ViolatedConstraint(err), "items.id")
	require.NoError(t, g.QueryRowContext(ctx, `SELECT COUNT(*) FROM items`).Scan(&n))
	assert.Equal(t, 0, n)
}

func TestTransactionRollsBackOnPanic(t *testing.T) {
	ctx := context.Background()
	g, err := Open(ctx, Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer g.Close()
	_, err = g.ExecContext(ctx, `CREATE TABLE items(id TEXT PRIMARY KEY)`)
	require.NoError(t, err)

	assert.Panics(t, func() {
		_ = g.Transaction(ctx, func(q Querier) error {
			_, _ = q.ExecContext(ctx, `INSERT INTO items(id) VALUES (?)`, "a")
			panic("boom")
		})
	})
	var n int
	require.NoError(t, g.QueryRowContext(ctx, `SELECT COUNT(*) FROM items`).Scan(&n))
	assert.Equal(t, 0, n)
}
