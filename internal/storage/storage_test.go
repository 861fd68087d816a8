package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

type nopConn struct{}

func (nopConn) Kind() string                                        { return "nop" }
func (nopConn) Exec(context.Context, string, ...any) error          { return nil }
func (nopConn) QueryInt64(context.Context, string, ...any) (int64, error) { return 0, nil }
func (nopConn) CopyChunk(context.Context, CopySpec, []byte) error   { return nil }
func (nopConn) Close(context.Context) error                         { return nil }

func TestRegisterAndOpen(t *testing.T) {
	Register("nop", func(ctx context.Context, dsn string) (Conn, error) {
		return nopConn{}, nil
	})

	c, err := Open(context.Background(), "nop", "dsn")
	if err != nil {
		t.Fatal(err)
	}
	if c.Kind() != "nop" {
		t.Errorf("kind = %q", c.Kind())
	}

	if _, err := Open(context.Background(), "unknown", "dsn"); err == nil {
		t.Error("expected error for unregistered kind")
	}
	if _, err := Open(context.Background(), "", "dsn"); err == nil {
		t.Error("expected error for empty kind")
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	f := func(ctx context.Context, dsn string) (Conn, error) { return nopConn{}, nil }
	Register("dup", f)
	Register("dup", f)
}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	base := errors.New("restart transaction")
	te := &TransientError{Err: base}

	if !IsTransient(te) {
		t.Error("TransientError not classified as transient")
	}
	if !IsTransient(fmt.Errorf("chunk: %w", te)) {
		t.Error("wrapped TransientError not classified as transient")
	}
	if IsTransient(base) {
		t.Error("plain error classified as transient")
	}
	if !errors.Is(te, base) {
		t.Error("Unwrap broken")
	}
}

func TestQualifiedTable(t *testing.T) {
	t.Parallel()

	if got := QualifiedTable("postgres", "openfoodfacts", "product_raw"); got != "openfoodfacts.product_raw" {
		t.Errorf("postgres: %q", got)
	}
	if got := QualifiedTable("sqlite", "openfoodfacts", "product_raw"); got != "openfoodfacts_product_raw" {
		t.Errorf("sqlite: %q", got)
	}
	if got := QualifiedTable("postgres", "", "t"); got != "t" {
		t.Errorf("no schema: %q", got)
	}
}
