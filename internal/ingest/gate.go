package ingest

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"foodb/internal/preflight"
)

// GateOptions configures the pre-load identity and duplicate-policy check.
type GateOptions struct {
	Path           string
	ExpectedSHA256 string
	ManifestPath   string
	DuplicateCodes string
	DedupeMemory   bool
}

// GateResult carries the verified file identity plus the duplicate codes the
// load must hold back for resolution. Codes is nil when no list was loaded.
type GateResult struct {
	FileSHA256 string
	FileBytes  int64
	Codes      map[string]struct{}
}

// Gate verifies the input file against its preflight identity before any
// database work. A manifest that reports duplicates forces the caller to
// choose a duplicate strategy up front instead of failing mid-load on the
// primary key.
func Gate(opts GateOptions) (GateResult, error) {
	if opts.ExpectedSHA256 == "" && opts.ManifestPath == "" {
		return GateResult{}, errors.New("missing preflight identity: pass --expected-sha256 or --preflight-manifest")
	}
	if opts.DedupeMemory && opts.DuplicateCodes != "" {
		return GateResult{}, errors.New("use either --dedupe memory or --duplicate-codes, not both")
	}

	sha, bytes, err := hashFile(opts.Path)
	if err != nil {
		return GateResult{}, err
	}
	if opts.ExpectedSHA256 != "" && sha != opts.ExpectedSHA256 {
		return GateResult{}, fmt.Errorf("SHA-256 mismatch: expected %s, got %s", opts.ExpectedSHA256, sha)
	}

	manifestDuplicates := false
	codesPath := opts.DuplicateCodes
	if opts.ManifestPath != "" {
		m, err := preflight.ReadManifest(opts.ManifestPath)
		if err != nil {
			return GateResult{}, err
		}
		if m.FileSHA256 == "" {
			return GateResult{}, errors.New("preflight manifest missing file_sha256")
		}
		if m.FileSHA256 != sha {
			return GateResult{}, fmt.Errorf("preflight SHA-256 mismatch: manifest %s, file %s", m.FileSHA256, sha)
		}
		if m.FileBytes != bytes {
			return GateResult{}, fmt.Errorf("preflight byte-size mismatch: manifest %d, file %d", m.FileBytes, bytes)
		}
		manifestDuplicates = m.DuplicatesFound || m.DuplicateValues > 0 || m.DuplicateOccurrences > 0
		if codesPath == "" && m.DuplicateCodesPath != nil && *m.DuplicateCodesPath != "" {
			codesPath = preflight.ResolveCodesPath(opts.ManifestPath, *m.DuplicateCodesPath)
		}
	}

	var codes map[string]struct{}
	if codesPath != "" {
		codes, err = loadDuplicateCodes(codesPath)
		if err != nil {
			return GateResult{}, err
		}
	}

	if manifestDuplicates && !opts.DedupeMemory && len(codes) == 0 {
		return GateResult{}, errors.New(
			"preflight reported duplicates; pass --duplicate-codes from preflight (preferred) or use --dedupe memory")
	}

	return GateResult{FileSHA256: sha, FileBytes: bytes, Codes: codes}, nil
}

func hashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

func loadDuplicateCodes(path string) (map[string]struct{}, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("missing duplicate codes file: %s", path)
		}
		return nil, err
	}
	defer f.Close()

	codes := map[string]struct{}{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		code := strings.TrimSpace(sc.Text())
		if code != "" {
			codes[code] = struct{}{}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return codes, nil
}
