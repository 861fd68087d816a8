package ingest

import (
	"fmt"

	"foodb/internal/storage"
)

// SchemaDDL returns the idempotent statements that create the target schema
// and tables for the given backend kind.
func SchemaDDL(kind, schema string) []string {
	q := func(table string) string { return storage.QualifiedTable(kind, schema, table) }

	str, i64, f64 := "STRING", "INT8", "FLOAT8"
	if kind == "sqlite" {
		str, i64, f64 = "TEXT", "INTEGER", "REAL"
	}

	var stmts []string
	if kind != "sqlite" {
		stmts = append(stmts, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema))
	}
	stmts = append(stmts, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    code_norm %s NOT NULL,
    code_raw %s,
    product_name %s,
    brands %s,
    categories %s,
    quantity %s,
    serving_size %s,
    last_modified_t %s,
    energy_kcal_100g %s,
    energy_kj_100g %s,
    fat_100g %s,
    saturated_fat_100g %s,
    carbohydrates_100g %s,
    sugars_100g %s,
    fiber_100g %s,
    protein_100g %s,
    sodium_100g %s,
    salt_100g %s,
    PRIMARY KEY (code_norm)
)`, q("product_raw"), str, str, str, str, str, str, str, i64,
		f64, f64, f64, f64, f64, f64, f64, f64, f64, f64))
	stmts = append(stmts, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    code_norm %s NOT NULL,
    nutrient_key %s NOT NULL,
    value %s,
    unit %s,
    source_field %s,
    PRIMARY KEY (code_norm, nutrient_key)
)`, q("nutrient_100g"), str, str, f64, str, str))

	tsDefault := "TIMESTAMPTZ NOT NULL DEFAULT now()"
	idType := "UUID"
	if kind == "sqlite" {
		tsDefault = "TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP"
		idType = "TEXT"
	}
	stmts = append(stmts, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id %s PRIMARY KEY,
    imported_at %s,
    source_url %s,
    file_path %s,
    file_sha256 %s,
    file_bytes %s,
    delimiter %s,
    nutrients_mode %s
)`, q("import_metadata"), idType, tsDefault, str, str, str, i64, str, str))

	return stmts
}

// IndexDDL returns the idempotent secondary index statements created after a
// successful load.
func IndexDDL(kind, schema string) []string {
	product := storage.QualifiedTable(kind, schema, "product_raw")
	nutrient := storage.QualifiedTable(kind, schema, "nutrient_100g")
	prefix := schema + "_"
	if kind != "sqlite" {
		prefix = ""
	}
	return []string{
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %sproduct_raw_brands_idx ON %s (brands)", prefix, product),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %sproduct_raw_product_name_idx ON %s (product_name)", prefix, product),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %snutrient_100g_nutrient_key_idx ON %s (nutrient_key)", prefix, nutrient),
	}
}

// TruncateDDL empties a table. SQLite has no TRUNCATE statement.
func TruncateDDL(kind, schema, table string) string {
	q := storage.QualifiedTable(kind, schema, table)
	if kind == "sqlite" {
		return fmt.Sprintf("DELETE FROM %s", q)
	}
	return fmt.Sprintf("TRUNCATE TABLE %s", q)
}
