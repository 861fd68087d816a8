// Package nutrients maps OpenFoodFacts per-100g export columns onto
// normalized nutrient keys and units.
package nutrients

import "strings"

// Spec binds one export column to the nutrient key and unit it is stored under.
type Spec struct {
	SourceField string
	NutrientKey string
	Unit        string
}

// Minimal returns the curated nutrient set loaded in minimal mode.
func Minimal(includeSalt bool) []Spec {
	specs := []Spec{
		{SourceField: "energy-kcal_100g", NutrientKey: "energy_kcal", Unit: "kcal"},
		{SourceField: "energy-kj_100g", NutrientKey: "energy_kj", Unit: "kJ"},
		// Some exports only carry energy_100g; OFF documents _100g energy as kJ.
		{SourceField: "energy_100g", NutrientKey: "energy_kj", Unit: "kJ"},
		{SourceField: "fat_100g", NutrientKey: "fat", Unit: "g"},
		{SourceField: "saturated-fat_100g", NutrientKey: "saturated_fat", Unit: "g"},
		{SourceField: "carbohydrates_100g", NutrientKey: "carbohydrates", Unit: "g"},
		{SourceField: "sugars_100g", NutrientKey: "sugars", Unit: "g"},
		{SourceField: "fiber_100g", NutrientKey: "fiber", Unit: "g"},
		{SourceField: "proteins_100g", NutrientKey: "protein", Unit: "g"},
		{SourceField: "sodium_100g", NutrientKey: "sodium", Unit: "g"},
	}
	if includeSalt {
		specs = append(specs, Spec{SourceField: "salt_100g", NutrientKey: "salt", Unit: "g"})
	}
	return specs
}

// KeyFromField derives the nutrient key for an arbitrary _100g column,
// used in full mode where every per-100g column becomes an observation.
func KeyFromField(sourceField string) string {
	key := strings.TrimSuffix(sourceField, "_100g")
	return strings.ToLower(strings.ReplaceAll(key, "-", "_"))
}

// UnitForField returns the unit recorded for a column discovered in full
// mode. Only the energy columns have a known unit.
func UnitForField(sourceField string) string {
	switch sourceField {
	case "energy-kj_100g", "energy_100g":
		return "kJ"
	case "energy-kcal_100g":
		return "kcal"
	}
	return ""
}
