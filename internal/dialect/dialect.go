// Package dialect handles the messy edges of delimited-text inputs before any
// row is parsed: delimiter detection, the tab/comma override rule, UTF-8 BOM
// stripping, gzip transparency, and invalid-byte handling.
package dialect

import (
	"bufio"
	"compress/gzip"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// Delimiter values handled by this pipeline. Only tab and comma occur in
// OpenFoodFacts and USDA exports.
const (
	Tab   = '\t'
	Comma = ','
)

// Mode is the caller's delimiter choice. Auto defers to detection; Tab and
// Comma force the delimiter regardless of what the header looks like. The
// tri-state exists so "user explicitly chose tab" and "user accepted the
// default" are distinguishable.
type Mode int

const (
	ModeAuto Mode = iota
	ModeTab
	ModeComma
)

// ParseMode parses the --delimiter flag value. A literal tab is a valid
// value, so only spaces are trimmed.
func ParseMode(s string) (Mode, error) {
	switch strings.Trim(s, " ") {
	case "", "auto":
		return ModeAuto, nil
	case "tab", "\t", `\t`:
		return ModeTab, nil
	case "comma", ",":
		return ModeComma, nil
	}
	return ModeAuto, fmt.Errorf("invalid delimiter %q (want auto, tab or comma)", s)
}

func (m Mode) String() string {
	switch m {
	case ModeTab:
		return "tab"
	case ModeComma:
		return "comma"
	default:
		return "auto"
	}
}

// Detect infers the field delimiter from the raw header line. Comma wins only
// on a strict majority; everything else, including headers with no delimiter
// at all and exact ties, falls back to tab.
func Detect(headerLine string) rune {
	tabs := strings.Count(headerLine, "\t")
	commas := strings.Count(headerLine, ",")
	if commas > tabs && commas > 0 {
		return Comma
	}
	return Tab
}

// Resolve returns the delimiter to use given the caller's mode and the
// detected delimiter. Forced modes always win.
func (m Mode) Resolve(detected rune) rune {
	switch m {
	case ModeTab:
		return Tab
	case ModeComma:
		return Comma
	default:
		return detected
	}
}

// DecodeErrors selects how invalid UTF-8 in the input is handled.
// "strict" fails the run on the first ill-formed sequence; "replace"
// substitutes U+FFFD and continues.
type DecodeErrors string

const (
	DecodeStrict  DecodeErrors = "strict"
	DecodeReplace DecodeErrors = "replace"
)

// ParseDecodeErrors validates the --encoding-errors flag value.
func ParseDecodeErrors(s string) (DecodeErrors, error) {
	switch DecodeErrors(s) {
	case DecodeStrict, DecodeReplace:
		return DecodeErrors(s), nil
	}
	return "", fmt.Errorf("invalid encoding-errors %q (want strict or replace)", s)
}

type readCloser struct {
	io.Reader
	closers []io.Closer
}

func (r *readCloser) Close() error {
	var first error
	for _, c := range r.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// OpenText opens path for streaming text reads. Files ending in .gz are
// decompressed transparently. The decode mode wraps the stream with either a
// UTF-8 validator or an ill-formed-sequence replacer.
func OpenText(path string, decode DecodeErrors) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	var r io.Reader = f
	closers := []io.Closer{f}

	if strings.HasSuffix(path, ".gz") {
		zr, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("open gzip %s: %w", path, err)
		}
		r = zr
		closers = []io.Closer{zr, f}
	}

	switch decode {
	case DecodeReplace:
		r = transform.NewReader(r, runes.ReplaceIllFormed())
	default:
		r = transform.NewReader(r, encoding.UTF8Validator)
	}

	return &readCloser{Reader: r, closers: closers}, nil
}

// ReadHeaderLine reads the first line of the input (without the trailing
// newline) and strips a UTF-8 BOM if present. An empty file is an error.
func ReadHeaderLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	line = strings.TrimPrefix(line, "\uFEFF")
	if line == "" {
		return "", fmt.Errorf("empty file")
	}
	return line, nil
}

// SplitHeader parses the header line into column names using the resolved
// delimiter, honoring CSV quoting.
func SplitHeader(headerLine string, delim rune) ([]string, error) {
	cr := csv.NewReader(strings.NewReader(headerLine))
	cr.Comma = delim
	cr.FieldsPerRecord = -1
	fields, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("parse header: %w", err)
	}
	return fields, nil
}

// HeaderIndex maps column names to their positions. Later duplicates win,
// matching the original export semantics.
func HeaderIndex(headers []string) map[string]int {
	m := make(map[string]int, len(headers))
	for i, h := range headers {
		m[h] = i
	}
	return m
}

// CheckFieldLimit enforces the configured per-field size cap on a record.
func CheckFieldLimit(fields []string, limit int) error {
	if limit <= 0 {
		return nil
	}
	for i, f := range fields {
		if len(f) > limit {
			return fmt.Errorf("field %d exceeds size limit (%d > %d bytes)", i, len(f), limit)
		}
	}
	return nil
}
