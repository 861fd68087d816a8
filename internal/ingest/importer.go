// Package ingest implements the OpenFoodFacts bulk import: manifest-gated
// identity checks, row transformation, duplicate resolution and chunked
// transactional COPY loading.
package ingest

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/google/uuid"

	"foodb/internal/dialect"
	"foodb/internal/eventlog"
	"foodb/internal/metrics"
	"foodb/internal/storage"
)

// DefaultSourceURL is recorded in import_metadata when no override is given.
const DefaultSourceURL = "https://static.openfoodfacts.org/data/en.openfoodfacts.org.products.csv.gz"

const (
	DefaultChunkRows      = 20_000
	DefaultRetries        = 10
	DefaultRetrySleep     = 500 * time.Millisecond
	DefaultFieldSizeLimit = 2_000_000
)

// Options configures one import run.
type Options struct {
	Path           string
	Schema         string
	Truncate       bool
	Delimiter      dialect.Mode
	Nutrients      NutrientMode
	IncludeSalt    bool
	ChunkRows      int
	MaxRows        int64
	Retry          RetryPolicy
	ExpectedSHA256 string
	ManifestPath   string
	DuplicateCodes string
	DedupeMemory   bool
	FieldSizeLimit int
	Decode         dialect.DecodeErrors
	SkipIndexes    bool
	SourceURL      string
}

// Summary reports what a completed run did.
type Summary struct {
	Products             int64
	Nutrients            int64
	SkippedNoCode        int64
	SkippedDuplicateCode int64
	DuplicatesResolved   int64
	Seconds              float64
}

// Run executes the full import against conn. The connection is used
// sequentially; every chunk is its own transaction, so a failed run leaves
// all previously committed chunks in place.
func Run(ctx context.Context, conn storage.Conn, logger *eventlog.Logger, opts Options) (Summary, error) {
	if opts.Schema == "" {
		opts.Schema = "openfoodfacts"
	}
	if opts.Nutrients == "" {
		opts.Nutrients = NutrientsMinimal
	}
	if opts.ChunkRows == 0 {
		opts.ChunkRows = DefaultChunkRows
	}
	opts.Retry = opts.Retry.withDefaults()
	if opts.FieldSizeLimit == 0 {
		opts.FieldSizeLimit = DefaultFieldSizeLimit
	}
	if opts.SourceURL == "" {
		opts.SourceURL = DefaultSourceURL
	}

	if _, err := os.Stat(opts.Path); err != nil {
		return Summary{}, fmt.Errorf("missing input: %s", opts.Path)
	}

	gate, err := Gate(GateOptions{
		Path:           opts.Path,
		ExpectedSHA256: opts.ExpectedSHA256,
		ManifestPath:   opts.ManifestPath,
		DuplicateCodes: opts.DuplicateCodes,
		DedupeMemory:   opts.DedupeMemory,
	})
	if err != nil {
		return Summary{}, err
	}

	rc, err := dialect.OpenText(opts.Path, opts.Decode)
	if err != nil {
		return Summary{}, err
	}
	defer rc.Close()

	br := bufio.NewReaderSize(rc, 1<<20)
	headerLine, err := dialect.ReadHeaderLine(br)
	if err != nil {
		return Summary{}, fmt.Errorf("%s: %w", opts.Path, err)
	}
	detected := dialect.Detect(headerLine)
	delim := opts.Delimiter.Resolve(detected)
	logger.Event("dialect", "delimiter", delimName(delim), "detected", delimName(detected))

	headers, err := dialect.SplitHeader(headerLine, delim)
	if err != nil {
		return Summary{}, err
	}
	if _, ok := dialect.HeaderIndex(headers)["code"]; !ok {
		return Summary{}, errors.New("input is missing required column: code")
	}
	transformer := NewTransformer(headers, opts.Nutrients, opts.IncludeSalt)

	kind := conn.Kind()
	for _, stmt := range SchemaDDL(kind, opts.Schema) {
		if err := conn.Exec(ctx, stmt); err != nil {
			return Summary{}, fmt.Errorf("schema ddl: %w", err)
		}
	}
	if opts.Truncate {
		for _, table := range []string{"nutrient_100g", "product_raw"} {
			if err := conn.Exec(ctx, TruncateDDL(kind, opts.Schema, table)); err != nil {
				return Summary{}, fmt.Errorf("truncate %s: %w", table, err)
			}
		}
	}

	productLoader := newChunkLoader(conn, logger, storage.CopySpec{
		Schema: opts.Schema, Table: "product_raw", Columns: ProductCols,
	}, opts.Retry)
	nutrientLoader := newChunkLoader(conn, logger, storage.CopySpec{
		Schema: opts.Schema, Table: "nutrient_100g", Columns: NutrientCols,
	}, opts.Retry)

	var sum Summary
	var seen map[string]struct{}
	if opts.DedupeMemory {
		seen = map[string]struct{}{}
	}
	resolver := NewResolver()
	rowsInChunk := 0

	buffer := func(rec Record) error {
		productLoader.add(rec.ProductLine)
		for _, line := range rec.NutrientLines {
			nutrientLoader.add(line)
		}
		sum.Products++
		sum.Nutrients += int64(len(rec.NutrientLines))
		rowsInChunk++
		if rowsInChunk >= opts.ChunkRows {
			if err := productLoader.flush(ctx, rowsInChunk); err != nil {
				return err
			}
			if err := nutrientLoader.flush(ctx, rowsInChunk); err != nil {
				return err
			}
			rowsInChunk = 0
		}
		return nil
	}

	t0 := time.Now()
	cr := csv.NewReader(br)
	cr.Comma = delim
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	for {
		if opts.MaxRows > 0 && sum.Products >= opts.MaxRows {
			break
		}
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return sum, fmt.Errorf("read %s: %w", opts.Path, err)
		}
		if err := dialect.CheckFieldLimit(row, opts.FieldSizeLimit); err != nil {
			return sum, fmt.Errorf("read %s: %w", opts.Path, err)
		}

		rec, ok := transformer.Row(row)
		if !ok {
			sum.SkippedNoCode++
			continue
		}
		if seen != nil {
			if _, dup := seen[rec.CodeNorm]; dup {
				sum.SkippedDuplicateCode++
				continue
			}
			seen[rec.CodeNorm] = struct{}{}
		}
		if _, dup := gate.Codes[rec.CodeNorm]; dup {
			resolver.Offer(rec)
			continue
		}
		if err := buffer(rec); err != nil {
			return sum, err
		}
	}

	for _, rec := range resolver.Drain() {
		sum.DuplicatesResolved++
		if err := buffer(rec); err != nil {
			return sum, err
		}
	}
	if rowsInChunk > 0 {
		if err := productLoader.flush(ctx, rowsInChunk); err != nil {
			return sum, err
		}
		if err := nutrientLoader.flush(ctx, rowsInChunk); err != nil {
			return sum, err
		}
	}

	insertSQL := fmt.Sprintf(
		"INSERT INTO %s (id, source_url, file_path, file_sha256, file_bytes, delimiter, nutrients_mode) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7)",
		storage.QualifiedTable(kind, opts.Schema, "import_metadata"),
	)
	err = conn.Exec(ctx, insertSQL,
		uuid.NewString(), opts.SourceURL, opts.Path, gate.FileSHA256, gate.FileBytes,
		string(delim), string(opts.Nutrients))
	if err != nil {
		return sum, fmt.Errorf("import_metadata: %w", err)
	}

	if !opts.SkipIndexes {
		for _, stmt := range IndexDDL(kind, opts.Schema) {
			if err := conn.Exec(ctx, stmt); err != nil {
				return sum, fmt.Errorf("index ddl: %w", err)
			}
		}
	}

	sum.Seconds = math.Round(time.Since(t0).Seconds()*100) / 100
	metrics.IncCounterBy("records_total", metrics.Labels{"kind": "product"}, sum.Products)
	metrics.IncCounterBy("records_total", metrics.Labels{"kind": "nutrient"}, sum.Nutrients)
	metrics.ObserveDuration("import_seconds", sum.Seconds)
	logger.Event("done",
		"products", sum.Products,
		"nutrients", sum.Nutrients,
		"skipped_no_code", sum.SkippedNoCode,
		"skipped_duplicate_code", sum.SkippedDuplicateCode,
		"duplicates_resolved", sum.DuplicatesResolved,
		"seconds", sum.Seconds,
	)
	return sum, nil
}

func delimName(d rune) string {
	if d == dialect.Comma {
		return "comma"
	}
	return "tab"
}
