// Package sqlite implements storage.Conn on modernc.org/sqlite (cgo-free).
//
// SQLite has no COPY protocol, so CopyChunk replays the COPY text rows as
// prepared inserts inside one transaction. It exists for local development
// and integration tests; a single-writer database file never reports
// transient conflicts, so the retry path is effectively disabled here.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"foodb/internal/copytext"
	"foodb/internal/storage"
)

func init() {
	storage.Register("sqlite", New)
}

type Conn struct {
	db *sql.DB
}

// New opens (or creates) the database file named by dsn.
func New(ctx context.Context, dsn string) (storage.Conn, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// One exclusively-owned connection, mirroring the pipeline contract.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Conn{db: db}, nil
}

func (c *Conn) Kind() string { return "sqlite" }

func (c *Conn) Exec(ctx context.Context, sqlText string, args ...any) error {
	// SQLite natively supports the $N placeholder form.
	_, err := c.db.ExecContext(ctx, sqlText, args...)
	return err
}

func (c *Conn) QueryInt64(ctx context.Context, sqlText string, args ...any) (int64, error) {
	var n int64
	if err := c.db.QueryRowContext(ctx, sqlText, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (c *Conn) CopyChunk(ctx context.Context, spec storage.CopySpec, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, insertSQL(spec))
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	for i, line := range lines {
		fields, err := copytext.DecodeRow(line)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("chunk row %d: %w", i+1, err)
		}
		if len(fields) != len(spec.Columns) {
			_ = tx.Rollback()
			return fmt.Errorf("chunk row %d: %d fields, want %d", i+1, len(fields), len(spec.Columns))
		}
		args := make([]any, len(fields))
		for j, f := range fields {
			if f != nil {
				args[j] = *f
			}
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("chunk row %d: %w", i+1, err)
		}
	}

	return tx.Commit()
}

func (c *Conn) Close(ctx context.Context) error {
	return c.db.Close()
}

func insertSQL(spec storage.CopySpec) string {
	cols := make([]string, len(spec.Columns))
	ph := make([]string, len(spec.Columns))
	for i, col := range spec.Columns {
		cols[i] = quoteIdent(col)
		ph[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(spec.Qualified("sqlite")), strings.Join(cols, ", "), strings.Join(ph, ", "),
	)
}

func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
