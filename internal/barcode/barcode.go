// Package barcode canonicalizes raw product codes into the digit-only form
// used as the primary key across all target tables.
//
// Normalization is deliberately permissive: no checksum or length validation
// is performed, because OpenFoodFacts exports contain EAN-8, EAN-13, UPC and
// plain internal codes side by side. Any non-empty digit string is a valid
// key; a code with no digits marks the row as unkeyed.
package barcode

import "strings"

// Normalized is the canonical form of a raw product code.
type Normalized struct {
	// Raw is the input after surrounding whitespace was trimmed.
	Raw string
	// Normalized contains only the decimal digits of Raw, in original order.
	// Empty means the row is unkeyed and must be excluded downstream.
	Normalized string
	// Digits is len(Normalized).
	Digits int
}

// Normalize trims the raw code and extracts its decimal digits.
func Normalize(raw string) Normalized {
	raw = strings.TrimSpace(raw)

	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	norm := b.String()

	return Normalized{
		Raw:        raw,
		Normalized: norm,
		Digits:     len(norm),
	}
}
