package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"foodb/internal/storage"
)

func TestCopySQL(t *testing.T) {
	t.Parallel()

	spec := storage.CopySpec{
		Schema:  "openfoodfacts",
		Table:   "nutrient_100g",
		Columns: []string{"code_norm", "nutrient_key", "value", "unit", "source_field"},
	}
	got := copySQL(spec)
	want := `COPY openfoodfacts.nutrient_100g ("code_norm", "nutrient_key", "value", "unit", "source_field") FROM STDIN`
	if got != want {
		t.Errorf("copySQL = %q, want %q", got, want)
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	serialization := &pgconn.PgError{Code: "40001", Message: "restart transaction"}
	if !storage.IsTransient(classify(serialization)) {
		t.Error("40001 should classify as transient")
	}
	if !storage.IsTransient(classify(fmt.Errorf("copy: %w", serialization))) {
		t.Error("wrapped 40001 should classify as transient")
	}

	unique := &pgconn.PgError{Code: "23505", Message: "duplicate key"}
	if storage.IsTransient(classify(unique)) {
		t.Error("23505 must not be transient")
	}
	if storage.IsTransient(classify(errors.New("io timeout"))) {
		t.Error("non-pg error must not be transient")
	}
	if classify(nil) != nil {
		t.Error("classify(nil) != nil")
	}
}

func TestQuoteIdent(t *testing.T) {
	t.Parallel()

	if got := quoteIdent(`weird"name`); got != `"weird""name"` {
		t.Errorf("got %q", got)
	}
}
