// Package preflight scans an OpenFoodFacts export once, before any database
// work, to fingerprint the file and find duplicate normalized barcodes. The
// codes are spilled to disk and sorted with the external sort(1) command so
// memory stays flat regardless of export size.
package preflight

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"foodb/internal/barcode"
	"foodb/internal/dialect"
	"foodb/internal/eventlog"
)

const (
	DefaultDuplicateSamples = 20
	DefaultFieldSizeLimit   = 2_000_000
)

// Options configures a preflight run.
type Options struct {
	Path              string
	Delimiter         dialect.Mode
	ManifestOut       string
	DuplicateCodesOut string
	SortTmpDir        string
	DuplicateSamples  int
	FieldSizeLimit    int
	Decode            dialect.DecodeErrors
}

// Run streams the export, sorts the normalized codes externally and writes
// the manifest. The returned manifest is the one written to ManifestOut.
func Run(ctx context.Context, logger *eventlog.Logger, opts Options) (Manifest, error) {
	if opts.DuplicateSamples == 0 {
		opts.DuplicateSamples = DefaultDuplicateSamples
	}
	if opts.FieldSizeLimit == 0 {
		opts.FieldSizeLimit = DefaultFieldSizeLimit
	}

	if _, err := os.Stat(opts.Path); err != nil {
		return Manifest{}, fmt.Errorf("missing input: %s", opts.Path)
	}

	fileSHA, fileBytes, err := digest(opts.Path)
	if err != nil {
		return Manifest{}, err
	}

	unsorted, codesTotal, skippedNoCode, delim, detected, err := spillCodes(logger, opts)
	if unsorted != "" {
		defer os.Remove(unsorted)
	}
	if err != nil {
		return Manifest{}, err
	}

	sorted := unsorted + ".sorted"
	defer os.Remove(sorted)

	t0 := time.Now()
	if err := externalSort(ctx, unsorted, sorted, opts.SortTmpDir); err != nil {
		return Manifest{}, err
	}

	dup, err := scanSorted(sorted, opts.DuplicateCodesOut, opts.DuplicateSamples)
	if err != nil {
		return Manifest{}, err
	}
	elapsed := math.Round(time.Since(t0).Seconds()*100) / 100

	var codesPath *string
	if opts.DuplicateCodesOut != "" {
		codesPath = &opts.DuplicateCodesOut
	}
	m := Manifest{
		FormatVersion:        ManifestFormatVersion,
		CreatedAt:            time.Now().UTC().Format("2006-01-02T15:04:05-07:00"),
		FilePath:             opts.Path,
		FileBytes:            fileBytes,
		FileSHA256:           fileSHA,
		Delimiter:            string(delim),
		DetectedDelimiter:    string(detected),
		CodeTotal:            codesTotal,
		CodeUnique:           codesTotal - dup.occurrences,
		DuplicateValues:      dup.values,
		DuplicateOccurrences: dup.occurrences,
		DuplicatesFound:      dup.values > 0,
		DuplicateSamples:     dup.samples,
		DuplicateCodesCount:  dup.codesWritten,
		DuplicateCodesPath:   codesPath,
		SkippedNoCode:        skippedNoCode,
		SortSeconds:          elapsed,
	}

	if err := WriteManifest(opts.ManifestOut, m); err != nil {
		return Manifest{}, err
	}
	logger.Event("preflight_done",
		"manifest", opts.ManifestOut,
		"codes_total", codesTotal,
		"duplicates_found", m.DuplicatesFound,
		"seconds", elapsed,
	)
	return m, nil
}

func digest(path string) (string, int64, error) {
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

// spillCodes reads the export once, normalizing each code and appending it to
// a temp spill file in input order.
func spillCodes(logger *eventlog.Logger, opts Options) (spill string, total, skipped int64, delim, detected rune, err error) {
	rc, err := dialect.OpenText(opts.Path, opts.Decode)
	if err != nil {
		return "", 0, 0, 0, 0, err
	}
	defer rc.Close()

	br := bufio.NewReaderSize(rc, 1<<20)
	headerLine, err := dialect.ReadHeaderLine(br)
	if err != nil {
		return "", 0, 0, 0, 0, fmt.Errorf("%s: %w", opts.Path, err)
	}

	detected = dialect.Detect(headerLine)
	delim = opts.Delimiter.Resolve(detected)
	logger.Event("dialect", "delimiter", delimName(delim), "detected", delimName(detected))

	headers, err := dialect.SplitHeader(headerLine, delim)
	if err != nil {
		return "", 0, 0, delim, detected, err
	}
	index := dialect.HeaderIndex(headers)
	codeIdx, ok := index["code"]
	if !ok {
		return "", 0, 0, delim, detected, errors.New("input is missing required column: code")
	}

	tmpDir := opts.SortTmpDir
	if tmpDir == "" {
		tmpDir = os.TempDir()
	}
	tmp, err := os.CreateTemp(tmpDir, "preflight-codes-*")
	if err != nil {
		return "", 0, 0, delim, detected, err
	}
	spill = tmp.Name()
	w := bufio.NewWriterSize(tmp, 1<<20)

	cr := csv.NewReader(br)
	cr.Comma = delim
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			tmp.Close()
			return spill, total, skipped, delim, detected, fmt.Errorf("read %s: %w", opts.Path, err)
		}
		if err := dialect.CheckFieldLimit(row, opts.FieldSizeLimit); err != nil {
			tmp.Close()
			return spill, total, skipped, delim, detected, fmt.Errorf("read %s: %w", opts.Path, err)
		}
		var raw string
		if codeIdx < len(row) {
			raw = row[codeIdx]
		}
		norm := barcode.Normalize(raw).Normalized
		if norm == "" {
			skipped++
			continue
		}
		w.WriteString(norm)
		w.WriteByte('\n')
		total++
	}

	if err := w.Flush(); err != nil {
		tmp.Close()
		return spill, total, skipped, delim, detected, err
	}
	if err := tmp.Close(); err != nil {
		return spill, total, skipped, delim, detected, err
	}
	return spill, total, skipped, delim, detected, nil
}

// externalSort shells out to sort(1) with a byte-order collation so runs of
// equal codes are adjacent in the output.
func externalSort(ctx context.Context, in, out, tmpDir string) error {
	args := []string{}
	if tmpDir != "" {
		args = append(args, "-T", tmpDir)
	}
	args = append(args, "-o", out, in)
	cmd := exec.CommandContext(ctx, "sort", args...)
	cmd.Env = append(os.Environ(), "LC_ALL=C")
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return errors.New("missing required external command: sort")
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("external sort failed with exit code %d", exitErr.ExitCode())
		}
		return err
	}
	return nil
}

type dupStats struct {
	values       int64
	occurrences  int64
	samples      []string
	codesWritten int64
}

// scanSorted run-length scans the sorted codes. A value is counted as a
// duplicate when its second occurrence appears; every occurrence past the
// first counts toward occurrences.
func scanSorted(sorted, codesOut string, sampleCap int) (dupStats, error) {
	f, err := os.Open(sorted)
	if err != nil {
		return dupStats{}, err
	}
	defer f.Close()

	var cf *os.File
	var codesW *bufio.Writer
	if codesOut != "" {
		if err := os.MkdirAll(filepath.Dir(codesOut), 0o755); err != nil {
			return dupStats{}, err
		}
		cf, err = os.Create(codesOut)
		if err != nil {
			return dupStats{}, err
		}
		defer cf.Close()
		codesW = bufio.NewWriter(cf)
	}

	var stats dupStats
	var prev string
	prevCount := 0
	havePrev := false

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		code := sc.Text()
		if havePrev && code == prev {
			stats.occurrences++
			prevCount++
			if prevCount == 2 {
				stats.values++
				if codesW != nil {
					codesW.WriteString(code)
					codesW.WriteByte('\n')
					stats.codesWritten++
				}
				if len(stats.samples) < sampleCap {
					stats.samples = append(stats.samples, code)
				}
			}
		} else {
			prev = code
			prevCount = 1
			havePrev = true
		}
	}
	if err := sc.Err(); err != nil {
		return dupStats{}, err
	}
	// A short sidecar would feed incomplete dedupe input to the importer, so
	// flush and close failures are fatal.
	if codesW != nil {
		if err := codesW.Flush(); err != nil {
			return dupStats{}, fmt.Errorf("write duplicate codes %s: %w", codesOut, err)
		}
		if err := cf.Close(); err != nil {
			return dupStats{}, fmt.Errorf("close duplicate codes %s: %w", codesOut, err)
		}
	}
	return stats, nil
}

func delimName(d rune) string {
	if d == dialect.Comma {
		return "comma"
	}
	return "tab"
}
