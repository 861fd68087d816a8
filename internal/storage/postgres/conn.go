// Package postgres implements storage.Conn for Postgres-protocol databases
// (Postgres proper and CockroachDB) on a single pgx connection.
package postgres

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"foodb/internal/storage"
)

func init() {
	storage.Register("postgres", New)
}

// Conn wraps one exclusively-owned *pgx.Conn. No pooling: the import
// pipeline owns the connection for the whole run and commits chunks
// strictly sequentially.
type Conn struct {
	conn *pgx.Conn
}

// New dials the database. DSN is a postgres:// URL or keyword string.
func New(ctx context.Context, dsn string) (storage.Conn, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.RuntimeParams == nil {
		cfg.RuntimeParams = map[string]string{}
	}
	if _, ok := cfg.RuntimeParams["application_name"]; !ok {
		cfg.RuntimeParams["application_name"] = "foodb-import"
	}

	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	return &Conn{conn: conn}, nil
}

func (c *Conn) Kind() string { return "postgres" }

func (c *Conn) Exec(ctx context.Context, sql string, args ...any) error {
	_, err := c.conn.Exec(ctx, sql, args...)
	return classify(err)
}

func (c *Conn) QueryInt64(ctx context.Context, sql string, args ...any) (int64, error) {
	var n int64
	if err := c.conn.QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		return 0, classify(err)
	}
	return n, nil
}

// CopyChunk streams one buffered chunk through the COPY text protocol inside
// its own transaction. The buffer is never partially committed: any failure
// rolls back before returning.
func (c *Conn) CopyChunk(ctx context.Context, spec storage.CopySpec, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	tx, err := c.conn.Begin(ctx)
	if err != nil {
		return classify(err)
	}

	stmt := copySQL(spec)
	if _, err := tx.Conn().PgConn().CopyFrom(ctx, bytes.NewReader(data), stmt); err != nil {
		_ = tx.Rollback(ctx)
		return classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		_ = tx.Rollback(ctx)
		return classify(err)
	}
	return nil
}

func (c *Conn) Close(ctx context.Context) error {
	return c.conn.Close(ctx)
}

func copySQL(spec storage.CopySpec) string {
	cols := make([]string, len(spec.Columns))
	for i, c := range spec.Columns {
		cols[i] = quoteIdent(c)
	}
	return fmt.Sprintf("COPY %s (%s) FROM STDIN", spec.Qualified("postgres"), strings.Join(cols, ", "))
}

func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// classify wraps retryable server errors in storage.TransientError.
// SQLSTATE 40001 is serialization_failure; CockroachDB uses it for every
// "restart transaction" conflict.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "40001" {
		return &storage.TransientError{Err: err}
	}
	return err
}
