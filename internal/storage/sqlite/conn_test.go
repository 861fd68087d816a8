package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"foodb/internal/storage"
)

func openTestConn(t *testing.T) storage.Conn {
	t.Helper()
	conn, err := New(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(context.Background()) })
	return conn
}

func TestInsertSQL(t *testing.T) {
	t.Parallel()

	spec := storage.CopySpec{Schema: "off", Table: "product_raw", Columns: []string{"code", "product_name"}}
	got := insertSQL(spec)
	want := `INSERT INTO "off_product_raw" ("code", "product_name") VALUES ($1, $2)`
	if got != want {
		t.Fatalf("insertSQL = %q, want %q", got, want)
	}
}

func TestCopyChunkRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	conn := openTestConn(t)

	ddl := `CREATE TABLE "off_product_raw" (code TEXT PRIMARY KEY, product_name TEXT, quantity TEXT)`
	if err := conn.Exec(ctx, ddl); err != nil {
		t.Fatalf("create table: %v", err)
	}

	spec := storage.CopySpec{Schema: "off", Table: "product_raw", Columns: []string{"code", "product_name", "quantity"}}
	data := []byte("123\tMilk\t\\N\n456\ttab\\there\t500 g\n")
	if err := conn.CopyChunk(ctx, spec, data); err != nil {
		t.Fatalf("CopyChunk: %v", err)
	}

	n, err := conn.QueryInt64(ctx, `SELECT count(*) FROM "off_product_raw"`)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("count = %d, want 2", n)
	}

	n, err = conn.QueryInt64(ctx, `SELECT count(*) FROM "off_product_raw" WHERE quantity IS NULL`)
	if err != nil {
		t.Fatalf("null count: %v", err)
	}
	if n != 1 {
		t.Fatalf("null quantity count = %d, want 1", n)
	}

	var name string
	row := conn.(*Conn).db.QueryRowContext(ctx, `SELECT product_name FROM "off_product_raw" WHERE code = $1`, "456")
	if err := row.Scan(&name); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if name != "tab\there" {
		t.Fatalf("product_name = %q, want tab<TAB>here", name)
	}
}

func TestCopyChunkFieldCountMismatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	conn := openTestConn(t)
	if err := conn.Exec(ctx, `CREATE TABLE "off_t" (a TEXT, b TEXT)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	spec := storage.CopySpec{Schema: "off", Table: "t", Columns: []string{"a", "b"}}
	err := conn.CopyChunk(ctx, spec, []byte("only-one-field\n"))
	if err == nil {
		t.Fatal("expected error for field count mismatch")
	}
	if storage.IsTransient(err) {
		t.Fatal("sqlite errors must not be transient")
	}
}

func TestCopyChunkEmpty(t *testing.T) {
	t.Parallel()

	conn := openTestConn(t)
	spec := storage.CopySpec{Schema: "off", Table: "t", Columns: []string{"a"}}
	if err := conn.CopyChunk(context.Background(), spec, nil); err != nil {
		t.Fatalf("empty chunk: %v", err)
	}
}

func TestRegistered(t *testing.T) {
	t.Parallel()

	for _, kind := range storage.Kinds() {
		if kind == "sqlite" {
			return
		}
	}
	t.Fatal("sqlite backend not registered")
}
