// Package usda imports the USDA FoodData Central CSV bundle. Table schemas
// are inferred from the CSV files themselves: filenames become table names,
// headers become columns, and a curated type catalog assigns column types.
package usda

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"foodb/internal/storage"
)

// RecordCountsFile is the bundle's row-count inventory; it is metadata, not a
// data table.
const RecordCountsFile = "all_downloaded_table_record_counts.csv"

var (
	nonAlnumRe   = regexp.MustCompile(`[^a-z0-9]+`)
	underscoreRe = regexp.MustCompile(`_+`)
	intRe        = regexp.MustCompile(`^-?\d+$`)
	floatRe      = regexp.MustCompile(`^-?(?:\d+(?:\.\d*)?|\.\d+)(?:[eE]-?\d+)?$`)
	dateISORe    = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	dateSlashRe  = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`)
)

// NormalizeIdentifier turns an arbitrary CSV header or filename stem into a
// safe SQL identifier.
func NormalizeIdentifier(raw string) string {
	v := strings.ToLower(strings.TrimSpace(raw))
	v = strings.ReplaceAll(v, "\uFEFF", "")
	v = strings.ReplaceAll(v, ".", "_")
	v = nonAlnumRe.ReplaceAllString(v, "_")
	v = strings.Trim(underscoreRe.ReplaceAllString(v, "_"), "_")
	if v == "" {
		v = "col"
	}
	if v[0] >= '0' && v[0] <= '9' {
		v = "c_" + v
	}
	return v
}

// UniqueIdentifiers normalizes headers and suffixes repeats (_2, _3, ...) so
// every column name is unique within a table.
func UniqueIdentifiers(rawHeaders []string) []string {
	used := map[string]int{}
	out := make([]string, 0, len(rawHeaders))
	for _, raw := range rawHeaders {
		base := NormalizeIdentifier(raw)
		n := used[base]
		if n == 0 {
			used[base] = 1
			out = append(out, base)
		} else {
			used[base] = n + 1
			out = append(out, fmt.Sprintf("%s_%d", base, n+1))
		}
	}
	return out
}

// NormalizeDate accepts ISO dates as-is and converts m/d/yyyy to ISO.
func NormalizeDate(value string) (string, error) {
	value = strings.TrimSpace(value)
	if dateISORe.MatchString(value) {
		return value, nil
	}
	if m := dateSlashRe.FindStringSubmatch(value); m != nil {
		month, day, year := m[1], m[2], m[3]
		return year + "-" + pad2(month) + "-" + pad2(day), nil
	}
	return "", fmt.Errorf("invalid DATE value %q", value)
}

func pad2(s string) string {
	if len(s) == 1 {
		return "0" + s
	}
	return s
}

var dateCols = map[string]bool{
	"acquisition_date":  true,
	"available_date":    true,
	"discontinued_date": true,
	"end_date":          true,
	"expiration_date":   true,
	"last_updated":      true,
	"modified_date":     true,
	"publication_date":  true,
	"sell_by_date":      true,
	"start_date":        true,
}

var floatCols = map[string]bool{
	"adjusted_amount":     true,
	"amount":              true,
	"carbohydrate_value":  true,
	"fat_value":           true,
	"gram_weight":         true,
	"loq":                 true,
	"max":                 true,
	"median":              true,
	"min":                 true,
	"nutrient_nbr":        true,
	"nutrient_value":      true,
	"pct_weight":          true,
	"percent_daily_value": true,
	"protein_value":       true,
	"rank":                true,
	"serving_size":        true,
	"value":               true,
}

var intCols = map[string]bool{
	"data_points":         true,
	"food_group_id":       true,
	"min_year_acquired":   true,
	"seq_num":             true,
	"sr_addmod_year":      true,
	"wweia_category_code": true,
}

var textForceCols = map[string]bool{
	"gtin_upc":   true,
	"ndb_number": true,
	"upc_code":   true,
}

// ColumnType assigns the logical column type: STRING, INT8, FLOAT8 or DATE.
func ColumnType(table, column string) string {
	// Recent releases mix branded category names and numeric FKs in
	// food.food_category_id, so it cannot be an integer.
	if table == "food" && column == "food_category_id" {
		return "STRING"
	}

	if dateCols[column] || strings.HasSuffix(column, "_date") {
		return "DATE"
	}
	if textForceCols[column] {
		return "STRING"
	}
	if floatCols[column] {
		return "FLOAT8"
	}
	if intCols[column] {
		return "INT8"
	}

	if column == "id" || strings.HasSuffix(column, "_id") || column == "fdc_id" || column == "foodid" {
		if strings.HasSuffix(column, "_code") || strings.HasSuffix(column, "_number") || strings.HasSuffix(column, "_nbr") {
			return "STRING"
		}
		return "INT8"
	}

	return "STRING"
}

// PrimaryKeyFor returns the primary key columns for a table, or nil when no
// safe key is known.
func PrimaryKeyFor(table string, columns []string) []string {
	has := func(name string) bool {
		for _, c := range columns {
			if c == name {
				return true
			}
		}
		return false
	}

	if has("id") {
		return []string{"id"}
	}
	if has("fdc_id") {
		switch table {
		case "branded_food", "foundation_food", "sr_legacy_food", "survey_fndds_food":
			return []string{"fdc_id"}
		}
		if len(columns) == 1 {
			return []string{"fdc_id"}
		}
	}
	switch table {
	case "acquisition_samples":
		return []string{"fdc_id_of_sample_food", "fdc_id_of_acquisition_food"}
	case "lab_method_code":
		return []string{"lab_method_id", "code"}
	case "lab_method_nutrient":
		return []string{"lab_method_id", "nutrient_id"}
	case "sub_sample_result":
		return []string{"food_nutrient_id", "lab_method_id"}
	case "market_acquisition":
		if has("acquisition_number") && has("fdc_id") {
			return []string{"fdc_id", "acquisition_number"}
		}
	case "food_calorie_conversion_factor", "food_protein_conversion_factor":
		if has("food_nutrient_conversion_factor_id") {
			return []string{"food_nutrient_conversion_factor_id"}
		}
	}
	return nil
}

// TableSpec describes one inferred table.
type TableSpec struct {
	Table      string
	CSVPath    string
	RawHeaders []string
	Columns    []string
	PrimaryKey []string
}

// ReadCSVHeader returns the first record of a CSV file.
func ReadCSVHeader(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("empty CSV: %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("read header %s: %w", path, err)
	}
	return header, nil
}

// CountCSVDataRows counts data rows (excluding the header).
func CountCSVDataRows(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	if _, err := r.Read(); err == io.EOF {
		return 0, nil
	} else if err != nil {
		return 0, err
	}
	var n int64
	for {
		if _, err := r.Read(); err == io.EOF {
			return n, nil
		} else if err != nil {
			return 0, err
		}
		n++
	}
}

// TableSpecs scans csvDir and builds a spec per data CSV, sorted by filename.
func TableSpecs(csvDir string) ([]TableSpec, error) {
	paths, err := filepath.Glob(filepath.Join(csvDir, "*.csv"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	var specs []TableSpec
	for _, path := range paths {
		if filepath.Base(path) == RecordCountsFile {
			continue
		}
		stem := strings.TrimSuffix(filepath.Base(path), ".csv")
		table := NormalizeIdentifier(stem)
		rawHeaders, err := ReadCSVHeader(path)
		if err != nil {
			return nil, err
		}
		columns := UniqueIdentifiers(rawHeaders)
		specs = append(specs, TableSpec{
			Table:      table,
			CSVPath:    path,
			RawHeaders: rawHeaders,
			Columns:    columns,
			PrimaryKey: PrimaryKeyFor(table, columns),
		})
	}
	return specs, nil
}

// DDLForTable renders the backend-appropriate CREATE TABLE statement.
func DDLForTable(kind, schema string, spec TableSpec) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n",
		storage.QualifiedTable(kind, schema, spec.Table))
	for i, col := range spec.Columns {
		if i > 0 {
			b.WriteString(",\n")
		}
		fmt.Fprintf(&b, "  %s %s", quoteIdent(col), typeName(kind, ColumnType(spec.Table, col)))
	}
	if len(spec.PrimaryKey) > 0 {
		quoted := make([]string, len(spec.PrimaryKey))
		for i, c := range spec.PrimaryKey {
			quoted[i] = quoteIdent(c)
		}
		fmt.Fprintf(&b, ",\n  PRIMARY KEY (%s)", strings.Join(quoted, ", "))
	}
	b.WriteString("\n)")
	return b.String()
}

func typeName(kind, logical string) string {
	if kind != "sqlite" {
		return logical
	}
	switch logical {
	case "INT8":
		return "INTEGER"
	case "FLOAT8":
		return "REAL"
	default:
		return "TEXT"
	}
}

func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// ReorderSpecs sorts specs so tables named in only come first, in the order
// given, with the remainder alphabetical.
func ReorderSpecs(specs []TableSpec, only []string) []TableSpec {
	if len(only) == 0 {
		return specs
	}
	index := map[string]int{}
	for _, raw := range only {
		name := NormalizeIdentifier(raw)
		if _, ok := index[name]; !ok {
			index[name] = len(index)
		}
	}
	out := append([]TableSpec(nil), specs...)
	sort.SliceStable(out, func(i, j int) bool {
		ri, iOK := index[out[i].Table]
		rj, jOK := index[out[j].Table]
		if !iOK {
			ri = 1 << 30
		}
		if !jOK {
			rj = 1 << 30
		}
		if ri != rj {
			return ri < rj
		}
		return out[i].Table < out[j].Table
	})
	return out
}
