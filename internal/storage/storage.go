// Package storage defines the database collaborator surface consumed by the
// importers: statement execution, a transactional bulk-load chunk call, and a
// transient-error classification used by the retry policy.
//
// Backends register themselves with the factory from an init() function in
// their own package; binaries blank-import internal/storage/all to pull in
// every supported backend.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Conn is the minimal connection interface the import pipeline needs.
//
// IMPORTANT: A Conn represents one exclusively-owned database connection.
// The pipeline is single-threaded and issues chunk commits strictly
// sequentially; implementations must not multiplex or pool.
type Conn interface {
	// Kind returns the registered backend kind (e.g. "postgres", "sqlite").
	// Callers use it only for dialect-specific statement generation.
	Kind() string

	// Exec runs one statement. Placeholders use the $1 form, which both
	// Postgres and SQLite accept natively.
	Exec(ctx context.Context, sql string, args ...any) error

	// QueryInt64 runs a single-value query (row counts, etc).
	QueryInt64(ctx context.Context, sql string, args ...any) (int64, error)

	// CopyChunk loads one chunk of COPY-text rows into the target table as a
	// single transaction: begin, bulk-load, commit. On error the transaction
	// is rolled back before returning; a retryable failure is reported as a
	// *TransientError so the caller can replay the identical chunk.
	CopyChunk(ctx context.Context, spec CopySpec, data []byte) error

	// Close releases the connection. Call once, on every code path.
	Close(ctx context.Context) error
}

// CopySpec names the bulk-load target.
type CopySpec struct {
	Schema  string
	Table   string
	Columns []string
}

// Qualified returns the backend-appropriate table reference. SQLite has no
// schemas, so the schema collapses into the table name.
func (s CopySpec) Qualified(kind string) string {
	return QualifiedTable(kind, s.Schema, s.Table)
}

// QualifiedTable renders schema.table for backends with schema support and
// schema_table otherwise.
func QualifiedTable(kind, schema, table string) string {
	if schema == "" {
		return table
	}
	if kind == "sqlite" {
		return schema + "_" + table
	}
	return schema + "." + table
}

// TransientError marks a failure that is safe to retry with the same chunk
// (e.g. a serialization conflict with a concurrent writer). Everything not
// wrapped in TransientError aborts the run immediately.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// ---- backend factory ----

type factory func(ctx context.Context, dsn string) (Conn, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register installs a backend factory under a kind. Call from init();
// duplicate registration panics to fail fast on ambiguous wiring.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// Open connects using the registered backend for kind.
func Open(ctx context.Context, kind, dsn string) (Conn, error) {
	if strings.TrimSpace(kind) == "" {
		return nil, fmt.Errorf("storage: missing backend kind")
	}

	mu.RLock()
	f := factories[kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage kind=%s", kind)
	}
	return f(ctx, dsn)
}

// Kinds returns the registered backend kinds, for flag usage strings.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	return out
}
