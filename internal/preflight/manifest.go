package preflight

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ManifestFormatVersion is bumped whenever the manifest payload changes shape.
const ManifestFormatVersion = 1

// Manifest is the preflight summary the importer gates on.
type Manifest struct {
	FormatVersion        int      `json:"format_version"`
	CreatedAt            string   `json:"created_at"`
	FilePath             string   `json:"file_path"`
	FileBytes            int64    `json:"file_bytes"`
	FileSHA256           string   `json:"file_sha256"`
	Delimiter            string   `json:"delimiter"`
	DetectedDelimiter    string   `json:"detected_delimiter"`
	CodeTotal            int64    `json:"code_total"`
	CodeUnique           int64    `json:"code_unique"`
	DuplicateValues      int64    `json:"duplicate_values"`
	DuplicateOccurrences int64    `json:"duplicate_occurrences"`
	DuplicatesFound      bool     `json:"duplicates_found"`
	DuplicateSamples     []string `json:"duplicate_samples"`
	DuplicateCodesCount  int64    `json:"duplicate_codes_count"`
	DuplicateCodesPath   *string  `json:"duplicate_codes_path"`
	SkippedNoCode        int64    `json:"skipped_no_code"`
	SortSeconds          float64  `json:"sort_seconds"`
}

// WriteManifest writes the manifest as pretty JSON with sorted keys and a
// trailing newline, creating parent directories as needed.
func WriteManifest(path string, m Manifest) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	samples := m.DuplicateSamples
	if samples == nil {
		samples = []string{}
	}
	// Marshal via a map so keys come out sorted regardless of struct order.
	payload := map[string]any{
		"format_version":        m.FormatVersion,
		"created_at":            m.CreatedAt,
		"file_path":             m.FilePath,
		"file_bytes":            m.FileBytes,
		"file_sha256":           m.FileSHA256,
		"delimiter":             m.Delimiter,
		"detected_delimiter":    m.DetectedDelimiter,
		"code_total":            m.CodeTotal,
		"code_unique":           m.CodeUnique,
		"duplicate_values":      m.DuplicateValues,
		"duplicate_occurrences": m.DuplicateOccurrences,
		"duplicates_found":      m.DuplicatesFound,
		"duplicate_samples":     samples,
		"duplicate_codes_count": m.DuplicateCodesCount,
		"duplicate_codes_path":  m.DuplicateCodesPath,
		"skipped_no_code":       m.SkippedNoCode,
		"sort_seconds":          m.SortSeconds,
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// ReadManifest loads and validates a manifest written by a preflight run.
// Numeric and boolean fields also accept their string forms so manually
// edited manifests still load.
func ReadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Manifest{}, fmt.Errorf("manifest %s: %w", path, err)
	}

	var m Manifest
	var ferr error
	intField := func(name string) int64 {
		if ferr != nil {
			return 0
		}
		v, ok := raw[name]
		if !ok || v == nil {
			return 0
		}
		switch x := v.(type) {
		case float64:
			return int64(x)
		case string:
			var n int64
			if _, err := fmt.Sscanf(x, "%d", &n); err != nil {
				ferr = fmt.Errorf("manifest field %s: not an integer: %q", name, x)
				return 0
			}
			return n
		}
		ferr = fmt.Errorf("manifest field %s: not an integer: %v", name, v)
		return 0
	}
	boolField := func(name string) bool {
		if ferr != nil {
			return false
		}
		v, ok := raw[name]
		if !ok {
			ferr = fmt.Errorf("manifest is missing required field: %s", name)
			return false
		}
		switch x := v.(type) {
		case bool:
			return x
		case string:
			switch x {
			case "true", "True":
				return true
			case "false", "False":
				return false
			}
		}
		ferr = fmt.Errorf("manifest field %s: not a boolean: %v", name, v)
		return false
	}
	strField := func(name string) string {
		if v, ok := raw[name].(string); ok {
			return v
		}
		return ""
	}

	for _, required := range []string{"file_sha256", "file_bytes"} {
		if _, ok := raw[required]; !ok {
			return Manifest{}, fmt.Errorf("manifest is missing required field: %s", required)
		}
	}

	m.FormatVersion = int(intField("format_version"))
	m.CreatedAt = strField("created_at")
	m.FilePath = strField("file_path")
	m.FileBytes = intField("file_bytes")
	m.FileSHA256 = strField("file_sha256")
	m.Delimiter = strField("delimiter")
	m.DetectedDelimiter = strField("detected_delimiter")
	m.CodeTotal = intField("code_total")
	m.CodeUnique = intField("code_unique")
	m.DuplicateValues = intField("duplicate_values")
	m.DuplicateOccurrences = intField("duplicate_occurrences")
	m.DuplicatesFound = boolField("duplicates_found")
	m.DuplicateCodesCount = intField("duplicate_codes_count")
	m.SkippedNoCode = intField("skipped_no_code")
	if v, ok := raw["duplicate_codes_path"].(string); ok && v != "" {
		m.DuplicateCodesPath = &v
	}
	if v, ok := raw["duplicate_samples"].([]any); ok {
		for _, s := range v {
			if str, ok := s.(string); ok {
				m.DuplicateSamples = append(m.DuplicateSamples, str)
			}
		}
	}
	if v, ok := raw["sort_seconds"].(float64); ok {
		m.SortSeconds = v
	}
	if ferr != nil {
		return Manifest{}, ferr
	}
	return m, nil
}

// ResolveCodesPath resolves the duplicate-codes path recorded in a manifest
// relative to the manifest's own directory when it is not absolute.
func ResolveCodesPath(manifestPath, codesPath string) string {
	if filepath.IsAbs(codesPath) {
		return codesPath
	}
	return filepath.Join(filepath.Dir(manifestPath), codesPath)
}
