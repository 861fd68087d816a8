package copytext

import (
	"strings"
	"testing"
)

func TestEscape(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"a\tb", `a\tb`},
		{"line1\nline2", `line1\nline2`},
		{"back\\slash", `back\\slash`},
		{"cr\rlf\n", `cr\rlf\n`},
		{"bell\bformfeed\fvtab\v", `bell\bformfeed\fvtab\v`},
		{"nul\x00byte", "nulbyte"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := Escape(tc.in); got != tc.want {
			t.Errorf("Escape(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestCellNullSemantics(t *testing.T) {
	t.Parallel()

	// Empty maps to NULL only for numeric columns.
	if got := Cell("", true); got != Null {
		t.Errorf("numeric empty = %q, want %q", got, Null)
	}
	if got := Cell("", false); got != "" {
		t.Errorf("text empty = %q, want empty string", got)
	}
	if got := Cell("1.5", true); got != "1.5" {
		t.Errorf("numeric value = %q", got)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	fields := []string{"0012345", "Widget\twith tab", "", "98.6"}
	nulls := []bool{false, false, true, true}

	row := EncodeRow(fields, nulls)
	if !strings.HasSuffix(row, "\n") {
		t.Fatalf("row missing newline: %q", row)
	}

	decoded, err := DecodeRow(strings.TrimSuffix(row, "\n"))
	if err != nil {
		t.Fatal(err)
	}
	if len(decoded) != 4 {
		t.Fatalf("got %d fields", len(decoded))
	}
	if decoded[0] == nil || *decoded[0] != "0012345" {
		t.Errorf("field 0 = %v", decoded[0])
	}
	if decoded[1] == nil || *decoded[1] != "Widget\twith tab" {
		t.Errorf("field 1 = %v", decoded[1])
	}
	if decoded[2] != nil {
		t.Errorf("field 2 should be NULL, got %q", *decoded[2])
	}
	if decoded[3] == nil || *decoded[3] != "98.6" {
		t.Errorf("field 3 = %v", decoded[3])
	}
}

func TestDecodeRowErrors(t *testing.T) {
	t.Parallel()

	if _, err := DecodeRow(`trailing\`); err == nil {
		t.Error("expected error for dangling backslash")
	}
	if _, err := DecodeRow(`bad\q`); err == nil {
		t.Error("expected error for unknown escape")
	}
}
