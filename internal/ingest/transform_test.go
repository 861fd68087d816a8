package ingest

import (
	"strings"
	"testing"
)

func TestFloatOrEmpty(t *testing.T) {
	t.Parallel()

	cases := []struct{ in, want string }{
		{"1.5", "1.5"},
		{" 1.5 ", "1.5"},
		{"1e3", "1e3"},
		{"-0.2", "-0.2"},
		{"", ""},
		{"abc", ""},
		{"1,5", ""},
	}
	for _, c := range cases {
		if got := floatOrEmpty(c.in); got != c.want {
			t.Errorf("floatOrEmpty(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestIntOrEmpty(t *testing.T) {
	t.Parallel()

	cases := []struct{ in, want string }{
		{"123", "123"},
		{"-123", "-123"},
		{" 42 ", "42"},
		{"", ""},
		{"-", ""},
		{"1.5", ""},
		{"12a", ""},
		{"+5", ""},
	}
	for _, c := range cases {
		if got := intOrEmpty(c.in); got != c.want {
			t.Errorf("intOrEmpty(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func headerRow(headers string) []string {
	return strings.Split(headers, "\t")
}

func TestRowBasicProduct(t *testing.T) {
	t.Parallel()

	headers := headerRow("code\tproduct_name")
	tr := NewTransformer(headers, NutrientsMinimal, false)

	rec, ok := tr.Row([]string{"1234567890123", "Widget"})
	if !ok {
		t.Fatal("row unexpectedly skipped")
	}
	if rec.CodeNorm != "1234567890123" {
		t.Fatalf("CodeNorm = %q", rec.CodeNorm)
	}
	if len(rec.NutrientLines) != 0 {
		t.Fatalf("NutrientLines = %v, want none", rec.NutrientLines)
	}

	fields := strings.Split(strings.TrimSuffix(rec.ProductLine, "\n"), "\t")
	if len(fields) != len(ProductCols) {
		t.Fatalf("product line has %d fields, want %d", len(fields), len(ProductCols))
	}
	if fields[0] != "1234567890123" || fields[2] != "Widget" {
		t.Fatalf("product line = %v", fields)
	}
	// Text columns stay empty; numeric columns are NULL.
	if fields[3] != "" {
		t.Fatalf("brands = %q, want empty", fields[3])
	}
	if fields[7] != `\N` {
		t.Fatalf("last_modified_t = %q, want NULL", fields[7])
	}
	if fields[len(fields)-1] != `\N` {
		t.Fatalf("salt_100g = %q, want NULL", fields[len(fields)-1])
	}
}

func TestRowNoCodeSkipped(t *testing.T) {
	t.Parallel()

	tr := NewTransformer(headerRow("code\tproduct_name"), NutrientsMinimal, false)
	if _, ok := tr.Row([]string{"", "Widget"}); ok {
		t.Fatal("row without code not skipped")
	}
	if _, ok := tr.Row([]string{"no-digits-here", "Widget"}); ok {
		t.Fatal("row with digitless code not skipped")
	}
}

func TestRowEnergyKJWinsOverFallback(t *testing.T) {
	t.Parallel()

	headers := headerRow("code\tenergy-kj_100g\tenergy_100g")
	tr := NewTransformer(headers, NutrientsMinimal, false)

	rec, ok := tr.Row([]string{"111", "500", "2000"})
	if !ok {
		t.Fatal("row skipped")
	}
	if len(rec.NutrientLines) != 1 {
		t.Fatalf("NutrientLines = %v, want exactly one", rec.NutrientLines)
	}
	line := rec.NutrientLines[0]
	if !strings.Contains(line, "energy_kj\t500\tkJ\tenergy-kj_100g") {
		t.Fatalf("observation = %q", line)
	}

	// Product column keeps the kJ-specific value too.
	fields := strings.Split(strings.TrimSuffix(rec.ProductLine, "\n"), "\t")
	kjIdx := colIndex(t, "energy_kj_100g")
	if fields[kjIdx] != "500" {
		t.Fatalf("energy_kj_100g = %q, want 500", fields[kjIdx])
	}
}

func TestRowEnergyFallbackUsedWhenAlone(t *testing.T) {
	t.Parallel()

	headers := headerRow("code\tenergy_100g")
	tr := NewTransformer(headers, NutrientsMinimal, false)

	rec, _ := tr.Row([]string{"111", "2000"})
	if len(rec.NutrientLines) != 1 {
		t.Fatalf("NutrientLines = %v, want one", rec.NutrientLines)
	}
	if !strings.Contains(rec.NutrientLines[0], "energy_kj\t2000\tkJ\tenergy_100g") {
		t.Fatalf("observation = %q", rec.NutrientLines[0])
	}
	fields := strings.Split(strings.TrimSuffix(rec.ProductLine, "\n"), "\t")
	if fields[colIndex(t, "energy_kj_100g")] != "2000" {
		t.Fatalf("energy_kj_100g = %q, want 2000", fields[colIndex(t, "energy_kj_100g")])
	}
}

func TestRowMinimalSetAndSalt(t *testing.T) {
	t.Parallel()

	headers := headerRow("code\tfat_100g\tproteins_100g\tsalt_100g")
	row := []string{"42", "3.5", "12", "1.1"}

	noSalt := NewTransformer(headers, NutrientsMinimal, false)
	rec, _ := noSalt.Row(row)
	if len(rec.NutrientLines) != 2 {
		t.Fatalf("without salt: %d observations, want 2", len(rec.NutrientLines))
	}

	withSalt := NewTransformer(headers, NutrientsMinimal, true)
	rec, _ = withSalt.Row(row)
	if len(rec.NutrientLines) != 3 {
		t.Fatalf("with salt: %d observations, want 3", len(rec.NutrientLines))
	}
	// proteins_100g maps onto protein.
	joined := strings.Join(rec.NutrientLines, "")
	if !strings.Contains(joined, "protein\t12\tg\tproteins_100g") {
		t.Fatalf("observations = %q", joined)
	}
}

func TestRowAllModeDiscoversColumns(t *testing.T) {
	t.Parallel()

	headers := headerRow("code\tvitamin-c_100g\tbogus")
	tr := NewTransformer(headers, NutrientsAll, false)

	rec, _ := tr.Row([]string{"7", "0.05", "x"})
	if len(rec.NutrientLines) != 1 {
		t.Fatalf("NutrientLines = %v, want one", rec.NutrientLines)
	}
	if !strings.Contains(rec.NutrientLines[0], "vitamin_c\t0.05\t\tvitamin-c_100g") {
		t.Fatalf("observation = %q", rec.NutrientLines[0])
	}
}

func TestRowNonNumericNutrientDropped(t *testing.T) {
	t.Parallel()

	tr := NewTransformer(headerRow("code\tfat_100g"), NutrientsMinimal, false)
	rec, _ := tr.Row([]string{"9", "lots"})
	if len(rec.NutrientLines) != 0 {
		t.Fatalf("non-numeric value produced observation: %v", rec.NutrientLines)
	}
}

func TestRowScore(t *testing.T) {
	t.Parallel()

	headers := headerRow("code\tproduct_name\tbrands\tlast_modified_t\tfat_100g")
	tr := NewTransformer(headers, NutrientsMinimal, false)

	rec, _ := tr.Row([]string{"5", "Thing", "Acme", "1700000000", "2.2"})
	if rec.Score.LastModified != 1700000000 {
		t.Errorf("LastModified = %d", rec.Score.LastModified)
	}
	if rec.Score.Nutrients != 1 {
		t.Errorf("Nutrients = %d, want 1", rec.Score.Nutrients)
	}
	// product_name, brands, last_modified_t are non-empty.
	if rec.Score.Fields != 3 {
		t.Errorf("Fields = %d, want 3", rec.Score.Fields)
	}

	rec, _ = tr.Row([]string{"6", "", "", "not-a-time", ""})
	if rec.Score.LastModified != -1 {
		t.Errorf("missing last_modified score = %d, want -1", rec.Score.LastModified)
	}
	if rec.Score.Fields != 0 {
		t.Errorf("Fields = %d, want 0", rec.Score.Fields)
	}
}

func TestRowEscapesControlCharacters(t *testing.T) {
	t.Parallel()

	tr := NewTransformer(headerRow("code\tproduct_name"), NutrientsMinimal, false)
	rec, _ := tr.Row([]string{"8", "line\nbreak\tand\\slash"})
	if !strings.Contains(rec.ProductLine, `line\nbreak\tand\\slash`) {
		t.Fatalf("product line = %q", rec.ProductLine)
	}
	// One logical row stays one physical line.
	if strings.Count(rec.ProductLine, "\n") != 1 {
		t.Fatalf("product line spans multiple lines: %q", rec.ProductLine)
	}
}

func colIndex(t *testing.T, name string) int {
	t.Helper()
	for i, c := range ProductCols {
		if c == name {
			return i
		}
	}
	t.Fatalf("unknown product column %q", name)
	return -1
}
