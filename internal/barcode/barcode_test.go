package barcode

import (
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		raw    string
		want   string
		digits int
	}{
		{name: "plain ean13", raw: "1234567890123", want: "1234567890123", digits: 13},
		{name: "surrounding whitespace", raw: "  0012345 \t", want: "0012345", digits: 7},
		{name: "embedded separators", raw: "00-123.45", want: "0012345", digits: 7},
		{name: "check digit artifact", raw: "4056489098768✓", want: "4056489098768", digits: 13},
		{name: "letters only", raw: "no-digits-here", want: "", digits: 0},
		{name: "empty", raw: "", want: "", digits: 0},
		{name: "leading zeros kept", raw: "000042", want: "000042", digits: 6},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Normalize(tc.raw)
			if got.Normalized != tc.want {
				t.Errorf("Normalize(%q).Normalized = %q, want %q", tc.raw, got.Normalized, tc.want)
			}
			if got.Digits != tc.digits {
				t.Errorf("Normalize(%q).Digits = %d, want %d", tc.raw, got.Digits, tc.digits)
			}
			if got.Raw != strings.TrimSpace(tc.raw) {
				t.Errorf("Normalize(%q).Raw = %q, want trimmed input", tc.raw, got.Raw)
			}
		})
	}
}

// The normalized key must be a digit-only subsequence of the input, in the
// original order.
func TestNormalizePreservesDigitOrder(t *testing.T) {
	t.Parallel()

	inputs := []string{"a1b2c3", "9 8 7", "x0y0z1", "31415926"}
	for _, in := range inputs {
		got := Normalize(in).Normalized
		for _, r := range got {
			if r < '0' || r > '9' {
				t.Fatalf("Normalize(%q) produced non-digit %q", in, r)
			}
		}
		// Verify subsequence: walk the input consuming matched digits.
		i := 0
		for _, r := range in {
			if i < len(got) && byte(r) == got[i] {
				i++
			}
		}
		if i != len(got) {
			t.Errorf("Normalize(%q) = %q is not an in-order subsequence", in, got)
		}
	}
}
