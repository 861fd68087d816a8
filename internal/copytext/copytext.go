// Package copytext encodes and decodes rows in the Postgres COPY text
// format: tab-separated fields, backslash escapes for control characters,
// \N for SQL NULL, newline-terminated rows.
//
// Encoding additionally strips NUL bytes, which Postgres rejects in text
// columns and which occasionally appear in OpenFoodFacts exports.
package copytext

import (
	"fmt"
	"strings"
)

// Null is the COPY text representation of SQL NULL.
const Null = `\N`

var escaper = strings.NewReplacer(
	"\\", "\\\\",
	"\t", "\\t",
	"\n", "\\n",
	"\r", "\\r",
	"\b", "\\b",
	"\f", "\\f",
	"\v", "\\v",
)

// Escape renders a single field value. NUL bytes are dropped before escaping.
func Escape(value string) string {
	if strings.IndexByte(value, 0) >= 0 {
		value = strings.ReplaceAll(value, "\x00", "")
	}
	return escaper.Replace(value)
}

// Cell renders a field, mapping empty string to NULL when nullIfEmpty is set.
// Columns with numeric target types pass nullIfEmpty=true; text columns keep
// the empty string distinct from NULL.
func Cell(value string, nullIfEmpty bool) string {
	if nullIfEmpty && value == "" {
		return Null
	}
	return Escape(value)
}

// EncodeRow renders one full row including the trailing newline.
func EncodeRow(fields []string, nullIfEmpty []bool) string {
	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteByte('\t')
		}
		null := i < len(nullIfEmpty) && nullIfEmpty[i]
		b.WriteString(Cell(f, null))
	}
	b.WriteByte('\n')
	return b.String()
}

// DecodeRow parses one row (without the trailing newline) back into field
// values. A nil pointer in the result marks SQL NULL. Used by backends that
// replay COPY text as parameterized inserts.
func DecodeRow(line string) ([]*string, error) {
	raw := strings.Split(line, "\t")
	out := make([]*string, len(raw))
	for i, f := range raw {
		if f == Null {
			continue
		}
		v, err := unescape(f)
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", i, err)
		}
		out[i] = &v
	}
	return out, nil
}

func unescape(s string) (string, error) {
	if !strings.ContainsRune(s, '\\') {
		return s, nil
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		i++
		if i >= len(s) {
			return "", fmt.Errorf("dangling backslash")
		}
		switch s[i] {
		case '\\':
			b.WriteByte('\\')
		case 't':
			b.WriteByte('\t')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 'b':
			b.WriteByte('\b')
		case 'f':
			b.WriteByte('\f')
		case 'v':
			b.WriteByte('\v')
		default:
			return "", fmt.Errorf("unknown escape \\%c", s[i])
		}
	}
	return b.String(), nil
}
