package ingest

import (
	"strconv"
	"strings"

	"foodb/internal/barcode"
	"foodb/internal/copytext"
	"foodb/internal/dialect"
	"foodb/internal/nutrients"
)

// NutrientMode selects which _100g columns become nutrient observations.
type NutrientMode string

const (
	NutrientsMinimal NutrientMode = "minimal"
	NutrientsAll     NutrientMode = "all"
)

// ProductCols is the COPY column order for product_raw.
var ProductCols = []string{
	"code_norm",
	"code_raw",
	"product_name",
	"brands",
	"categories",
	"quantity",
	"serving_size",
	"last_modified_t",
	"energy_kcal_100g",
	"energy_kj_100g",
	"fat_100g",
	"saturated_fat_100g",
	"carbohydrates_100g",
	"sugars_100g",
	"fiber_100g",
	"protein_100g",
	"sodium_100g",
	"salt_100g",
}

// NutrientCols is the COPY column order for nutrient_100g.
var NutrientCols = []string{"code_norm", "nutrient_key", "value", "unit", "source_field"}

// productNumericCols maps to SQL numeric types, so COPY must render empty as
// NULL instead of the empty string.
var productNumericCols = map[string]bool{
	"last_modified_t":    true,
	"energy_kcal_100g":   true,
	"energy_kj_100g":     true,
	"fat_100g":           true,
	"saturated_fat_100g": true,
	"carbohydrates_100g": true,
	"sugars_100g":        true,
	"fiber_100g":         true,
	"protein_100g":       true,
	"sodium_100g":        true,
	"salt_100g":          true,
}

var productNullIfEmpty = func() []bool {
	out := make([]bool, len(ProductCols))
	for i, c := range ProductCols {
		out[i] = productNumericCols[c]
	}
	return out
}()

// productNutrientCols aliases source columns onto the denormalized product
// columns. Both energy-kj_100g and energy_100g land in energy_kj_100g; the
// explicit column wins when both are present.
var productNutrientCols = map[string]string{
	"energy-kcal_100g":   "energy_kcal_100g",
	"energy-kj_100g":     "energy_kj_100g",
	"energy_100g":        "energy_kj_100g",
	"fat_100g":           "fat_100g",
	"saturated-fat_100g": "saturated_fat_100g",
	"carbohydrates_100g": "carbohydrates_100g",
	"sugars_100g":        "sugars_100g",
	"fiber_100g":         "fiber_100g",
	"proteins_100g":      "protein_100g",
	"sodium_100g":        "sodium_100g",
	"salt_100g":          "salt_100g",
}

// scoreFields are the product columns counted toward completeness when
// resolving duplicate codes.
var scoreFields = []string{
	"product_name",
	"brands",
	"categories",
	"quantity",
	"serving_size",
	"last_modified_t",
}

// floatOrEmpty keeps value only if it parses as a float; trimmed.
func floatOrEmpty(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if _, err := strconv.ParseFloat(value, 64); err != nil {
		return ""
	}
	return value
}

// intOrEmpty keeps value only if it is an optionally-signed digit string.
func intOrEmpty(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	digits := value
	if strings.HasPrefix(digits, "-") {
		digits = digits[1:]
	}
	if digits == "" {
		return ""
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return ""
		}
	}
	return value
}

// Record is the transformed output of one input row, ready to buffer.
type Record struct {
	CodeNorm      string
	ProductLine   string
	NutrientLines []string
	Score         Score
}

// Transformer turns raw delimited rows into COPY-ready records.
type Transformer struct {
	index   map[string]int
	mode    NutrientMode
	fields  []string
	byField map[string]nutrients.Spec
}

// NewTransformer builds a transformer for the given header. In minimal mode
// the curated nutrient set is used; in all mode every header column ending in
// _100g becomes a candidate observation.
func NewTransformer(headers []string, mode NutrientMode, includeSalt bool) *Transformer {
	t := &Transformer{
		index:   dialect.HeaderIndex(headers),
		mode:    mode,
		byField: map[string]nutrients.Spec{},
	}
	if mode == NutrientsMinimal {
		for _, s := range nutrients.Minimal(includeSalt) {
			t.fields = append(t.fields, s.SourceField)
			t.byField[s.SourceField] = s
		}
	} else {
		for _, h := range headers {
			if strings.HasSuffix(h, "_100g") {
				t.fields = append(t.fields, h)
			}
		}
	}
	return t
}

func (t *Transformer) get(row []string, name string) string {
	idx, ok := t.index[name]
	if !ok || idx >= len(row) {
		return ""
	}
	return row[idx]
}

// Row transforms one input row. ok is false when the row has no usable code
// and must be counted as skipped.
func (t *Transformer) Row(row []string) (Record, bool) {
	rawCode := strings.TrimSpace(t.get(row, "code"))
	codeNorm := barcode.Normalize(rawCode).Normalized
	if codeNorm == "" {
		return Record{}, false
	}

	base := map[string]string{
		"code_norm":       codeNorm,
		"code_raw":        rawCode,
		"product_name":    strings.TrimSpace(t.get(row, "product_name")),
		"brands":          strings.TrimSpace(t.get(row, "brands")),
		"categories":      strings.TrimSpace(t.get(row, "categories")),
		"quantity":        strings.TrimSpace(t.get(row, "quantity")),
		"serving_size":    strings.TrimSpace(t.get(row, "serving_size")),
		"last_modified_t": intOrEmpty(t.get(row, "last_modified_t")),
	}
	for _, c := range ProductCols[8:] {
		base[c] = ""
	}

	var nutrientLines []string
	for _, field := range t.fields {
		val := t.get(row, field)
		if val == "" {
			continue
		}
		cleaned := floatOrEmpty(val)
		if cleaned == "" {
			continue
		}

		var key, unit string
		if spec, ok := t.byField[field]; ok {
			key, unit = spec.NutrientKey, spec.Unit
		} else {
			key = nutrients.KeyFromField(field)
			unit = nutrients.UnitForField(field)
		}

		if col, ok := productNutrientCols[field]; ok {
			if !(col == "energy_kj_100g" && field == "energy_100g" && base[col] != "") {
				base[col] = cleaned
			}
		}

		// In minimal mode energy_100g is only a fallback observation for
		// energy_kj; when the explicit column is present, skip it.
		if t.mode == NutrientsMinimal && field == "energy_100g" && t.get(row, "energy-kj_100g") != "" {
			continue
		}

		nutrientLines = append(nutrientLines,
			copytext.EncodeRow([]string{codeNorm, key, cleaned, unit, field}, nil))
	}

	fields := make([]string, len(ProductCols))
	for i, c := range ProductCols {
		fields[i] = base[c]
	}
	productLine := copytext.EncodeRow(fields, productNullIfEmpty)

	lastModified := int64(-1)
	if base["last_modified_t"] != "" {
		if n, err := strconv.ParseInt(base["last_modified_t"], 10, 64); err == nil {
			lastModified = n
		}
	}
	nonEmpty := 0
	for _, f := range scoreFields {
		if base[f] != "" {
			nonEmpty++
		}
	}

	return Record{
		CodeNorm:      codeNorm,
		ProductLine:   productLine,
		NutrientLines: nutrientLines,
		Score: Score{
			LastModified: lastModified,
			Nutrients:    len(nutrientLines),
			Fields:       nonEmpty,
		},
	}, true
}
