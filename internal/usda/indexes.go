package usda

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"foodb/internal/eventlog"
	"foodb/internal/storage"
)

// IndexSpec names one recommended index over the imported tables.
type IndexSpec struct {
	Name    string
	Table   string
	Columns []string
}

// SQL renders an idempotent CREATE INDEX for the backend dialect. SQLite has
// no schemas, so both the index name and table collapse to prefixed names.
func (s IndexSpec) SQL(kind, schema string) string {
	name := s.Name
	if kind == "sqlite" && schema != "" {
		name = schema + "_" + name
	}
	cols := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		cols[i] = quoteIdent(c)
	}
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
		quoteIdent(name),
		storage.QualifiedTable(kind, schema, s.Table),
		strings.Join(cols, ", "))
}

// IndexCatalog returns the recommended indexes in creation order.
func IndexCatalog() []IndexSpec {
	return []IndexSpec{
		{Name: "food_description_idx", Table: "food", Columns: []string{"description"}},
		{Name: "food_fdc_id_idx", Table: "food", Columns: []string{"fdc_id"}},
		{Name: "branded_food_gtin_upc_idx", Table: "branded_food", Columns: []string{"gtin_upc"}},
		// Critical for app lookups: nutrients by food.
		{Name: "food_nutrient_fdc_id_idx", Table: "food_nutrient", Columns: []string{"fdc_id"}},
		{Name: "food_portion_fdc_id_idx", Table: "food_portion", Columns: []string{"fdc_id"}},
		{Name: "survey_fndds_food_food_code_idx", Table: "survey_fndds_food", Columns: []string{"food_code"}},
		{Name: "survey_fndds_food_wweia_category_code_idx", Table: "survey_fndds_food", Columns: []string{"wweia_category_code"}},
	}
}

// SelectIndexes applies --only/--skip filters by normalized index name.
func SelectIndexes(only, skip []string) ([]IndexSpec, error) {
	onlySet := map[string]bool{}
	for _, n := range only {
		onlySet[normalizeName(n)] = true
	}
	skipSet := map[string]bool{}
	for _, n := range skip {
		skipSet[normalizeName(n)] = true
	}
	var out []IndexSpec
	for _, s := range IndexCatalog() {
		if len(onlySet) > 0 && !onlySet[normalizeName(s.Name)] {
			continue
		}
		if skipSet[normalizeName(s.Name)] {
			continue
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, errors.New("no indexes selected")
	}
	return out, nil
}

func normalizeName(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
}

// CreateIndexes builds the selected indexes, skipping any whose table does not
// exist in the target schema.
func CreateIndexes(ctx context.Context, conn storage.Conn, logger *eventlog.Logger, schema string, specs []IndexSpec) error {
	names := make([]string, len(specs))
	for i, s := range specs {
		names[i] = s.Name
	}
	logger.Event("index_run_start",
		"schema", schema,
		"indexes", len(specs),
		"selected", strings.Join(names, ","),
	)

	existing, err := existingTables(ctx, conn, schema)
	if err != nil {
		return err
	}

	for _, spec := range specs {
		if !existing[spec.Table] {
			logger.Event("index_skip_missing_table", "index", spec.Name, "table", spec.Table)
			continue
		}
		logger.Event("index_start", "index", spec.Name, "table", spec.Table)
		t0 := time.Now()
		if err := conn.Exec(ctx, spec.SQL(conn.Kind(), schema)); err != nil {
			return fmt.Errorf("index %s: %w", spec.Name, err)
		}
		logger.Event("index_done",
			"index", spec.Name,
			"seconds", math.Round(time.Since(t0).Seconds()*100)/100,
		)
	}

	logger.Event("index_run_done")
	return nil
}

// existingTables lists base tables in the schema, keyed by bare table name.
func existingTables(ctx context.Context, conn storage.Conn, schema string) (map[string]bool, error) {
	out := map[string]bool{}
	if conn.Kind() == "sqlite" {
		for _, spec := range IndexCatalog() {
			n, err := conn.QueryInt64(ctx,
				"SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = $1",
				storage.QualifiedTable("sqlite", schema, spec.Table))
			if err != nil {
				return nil, err
			}
			if n > 0 {
				out[spec.Table] = true
			}
		}
		return out, nil
	}
	for _, spec := range IndexCatalog() {
		n, err := conn.QueryInt64(ctx,
			`SELECT count(*) FROM information_schema.tables
			 WHERE table_schema = $1 AND table_name = $2 AND table_type = 'BASE TABLE'`,
			schema, spec.Table)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			out[spec.Table] = true
		}
	}
	return out, nil
}
