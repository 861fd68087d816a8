package nutrients

import "testing"

func TestMinimal(t *testing.T) {
	t.Parallel()

	base := Minimal(false)
	if len(base) != 10 {
		t.Fatalf("minimal set has %d entries, want 10", len(base))
	}
	withSalt := Minimal(true)
	if len(withSalt) != 11 {
		t.Fatalf("minimal+salt set has %d entries, want 11", len(withSalt))
	}
	last := withSalt[len(withSalt)-1]
	if last.SourceField != "salt_100g" || last.NutrientKey != "salt" || last.Unit != "g" {
		t.Fatalf("salt entry = %+v", last)
	}

	// Both energy-kj_100g and energy_100g feed the same key.
	kj := 0
	for _, s := range base {
		if s.NutrientKey == "energy_kj" {
			kj++
			if s.Unit != "kJ" {
				t.Fatalf("energy_kj unit = %q", s.Unit)
			}
		}
	}
	if kj != 2 {
		t.Fatalf("energy_kj sources = %d, want 2", kj)
	}
}

func TestKeyFromField(t *testing.T) {
	t.Parallel()

	cases := []struct{ field, want string }{
		{"saturated-fat_100g", "saturated_fat"},
		{"energy-kcal_100g", "energy_kcal"},
		{"Vitamin-C_100g", "vitamin_c"},
		{"sodium_100g", "sodium"},
		{"omega-3-fat", "omega_3_fat"},
	}
	for _, c := range cases {
		if got := KeyFromField(c.field); got != c.want {
			t.Errorf("KeyFromField(%q) = %q, want %q", c.field, got, c.want)
		}
	}
}

func TestUnitForField(t *testing.T) {
	t.Parallel()

	cases := []struct{ field, want string }{
		{"energy-kj_100g", "kJ"},
		{"energy_100g", "kJ"},
		{"energy-kcal_100g", "kcal"},
		{"fat_100g", ""},
		{"unknown_100g", ""},
	}
	for _, c := range cases {
		if got := UnitForField(c.field); got != c.want {
			t.Errorf("UnitForField(%q) = %q, want %q", c.field, got, c.want)
		}
	}
}
