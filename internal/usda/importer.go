package usda

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"foodb/internal/copytext"
	"foodb/internal/eventlog"
	"foodb/internal/metrics"
	"foodb/internal/storage"
)

const (
	DefaultChunkRows     = 200_000
	DefaultProgressEvery = 10 * time.Second
	DefaultRetrySleep    = 2 * time.Second
	MinChunkRows         = 1000
)

// Options configures a USDA bundle import.
type Options struct {
	CSVDir        string
	Schema        string
	Only          []string
	Skip          []string
	DropSchema    bool
	Truncate      bool
	Resume        bool
	SkipIndexes   bool
	ChunkRows     int
	ProgressEvery time.Duration
	Retries       int
	RetrySleep    time.Duration

	// test seams
	sleep func(time.Duration)
	now   func() time.Time
}

// Run imports every selected CSV into its inferred table. Each table loads in
// COPY chunks; a failed table is truncated and replayed whole when retries
// remain, so committed chunks never duplicate.
func Run(ctx context.Context, conn storage.Conn, logger *eventlog.Logger, opts Options) error {
	if opts.Schema == "" {
		opts.Schema = "usda"
	}
	if opts.ChunkRows == 0 {
		opts.ChunkRows = DefaultChunkRows
	}
	if opts.ProgressEvery == 0 {
		opts.ProgressEvery = DefaultProgressEvery
	}
	if opts.RetrySleep == 0 {
		opts.RetrySleep = DefaultRetrySleep
	}
	if opts.sleep == nil {
		opts.sleep = time.Sleep
	}
	if opts.now == nil {
		opts.now = time.Now
	}

	if opts.ChunkRows < MinChunkRows {
		return fmt.Errorf("chunk-rows must be >= %d to avoid excessive transaction overhead", MinChunkRows)
	}
	if opts.Resume && (opts.DropSchema || opts.Truncate) {
		return errors.New("resume cannot be used with drop-schema or truncate")
	}
	if opts.Resume && opts.Retries != 0 {
		return errors.New("resume requires retries 0 (retry truncation would invalidate resume offsets)")
	}
	if _, err := os.Stat(opts.CSVDir); err != nil {
		return fmt.Errorf("CSV directory not found: %s", opts.CSVDir)
	}

	specs, err := TableSpecs(opts.CSVDir)
	if err != nil {
		return err
	}
	specs = filterSpecs(specs, opts.Only, opts.Skip)
	specs = ReorderSpecs(specs, opts.Only)
	if len(specs) == 0 {
		return fmt.Errorf("no CSV files found in: %s", opts.CSVDir)
	}

	expectedRows, err := readExpectedRows(filepath.Join(opts.CSVDir, RecordCountsFile))
	if err != nil {
		return err
	}

	var selectedBytes, selectedExpected int64
	for _, spec := range specs {
		if fi, err := os.Stat(spec.CSVPath); err == nil {
			selectedBytes += fi.Size()
		}
		selectedExpected += expectedRows[spec.Table]
	}

	kind := conn.Kind()
	t0 := opts.now()
	st := &runState{
		logger:       logger,
		expected:     expectedRows,
		knownTotal:   selectedExpected,
		progressNext: t0.Add(opts.ProgressEvery),
		t0:           t0,
		now:          opts.now,
	}

	logger.Event("run_start",
		"schema", opts.Schema,
		"tables", len(specs),
		"csv_dir", opts.CSVDir,
		"chunk_rows", opts.ChunkRows,
		"expected_rows_total", selectedExpected,
		"bytes_total", selectedBytes,
	)

	if opts.DropSchema {
		logger.Event("schema_drop", "schema", opts.Schema)
		if err := dropSchema(ctx, conn, kind, opts.Schema, specs); err != nil {
			return err
		}
	}
	if kind != "sqlite" {
		if err := conn.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+opts.Schema); err != nil {
			return err
		}
	}
	for _, spec := range specs {
		if err := conn.Exec(ctx, DDLForTable(kind, opts.Schema, spec)); err != nil {
			return fmt.Errorf("create %s: %w", spec.Table, err)
		}
	}

	existingRows := map[string]int64{}
	if opts.Resume {
		for _, spec := range specs {
			n, err := conn.QueryInt64(ctx,
				"SELECT count(*) FROM "+storage.QualifiedTable(kind, opts.Schema, spec.Table))
			if err != nil {
				return fmt.Errorf("count %s: %w", spec.Table, err)
			}
			existingRows[spec.Table] = n
		}
		for _, spec := range specs {
			existing := existingRows[spec.Table]
			expected, known := expectedRows[spec.Table]
			if known && existing > expected {
				csvRows, err := CountCSVDataRows(spec.CSVPath)
				if err != nil {
					return err
				}
				logger.Event("expected_rows_mismatch",
					"table", spec.Table,
					"expected_rows_file", expected,
					"csv_rows", csvRows,
					"existing_rows", existing,
				)
				expectedRows[spec.Table] = csvRows
				if existing > csvRows {
					return fmt.Errorf("%s.%s has %d rows but CSV has only %d",
						opts.Schema, spec.Table, existing, csvRows)
				}
			}
		}
		for _, n := range existingRows {
			st.overallLoaded += n
		}
		st.baselineLoaded = st.overallLoaded
		if st.overallLoaded > 0 {
			logger.Event("run_resume", "existing_rows", st.overallLoaded)
		}
	}

	for _, spec := range specs {
		if opts.Truncate {
			logger.Event("table_truncate", "table", spec.Table)
			if err := conn.Exec(ctx, truncateSQL(kind, opts.Schema, spec.Table)); err != nil {
				return fmt.Errorf("truncate %s: %w", spec.Table, err)
			}
		}

		expected, expectedKnown := expectedRows[spec.Table]
		var sizeMiB float64
		if fi, err := os.Stat(spec.CSVPath); err == nil {
			sizeMiB = math.Round(float64(fi.Size())/1024/1024*100) / 100
		}
		logger.Event("table_start", "table", spec.Table, "expected_rows", expected, "size_mib", sizeMiB)

		existing := int64(0)
		if opts.Resume {
			existing = existingRows[spec.Table]
		}
		if opts.Resume && expectedKnown && existing == expected && expected != 0 {
			logger.Event("table_already_loaded", "table", spec.Table, "rows", existing)
			continue
		}
		if opts.Resume && existing > 0 {
			logger.Event("table_resume", "table", spec.Table, "existing_rows", existing)
		}

		if err := loadTableWithRetry(ctx, conn, kind, spec, existing, expected, opts, st); err != nil {
			return err
		}
	}

	if !opts.SkipIndexes {
		created := map[string]bool{}
		for _, spec := range specs {
			created[spec.Table] = true
		}
		for _, idx := range IndexCatalog() {
			if !created[idx.Table] {
				continue
			}
			if err := conn.Exec(ctx, idx.SQL(kind, opts.Schema)); err != nil {
				return fmt.Errorf("index %s: %w", idx.Name, err)
			}
		}
	}

	seconds := math.Round(opts.now().Sub(t0).Seconds()*100) / 100
	metrics.IncCounterBy("records_total", metrics.Labels{"kind": "usda"}, st.overallLoaded-st.baselineLoaded)
	metrics.ObserveDuration("usda_import_seconds", seconds)
	logger.Event("run_done", "seconds", seconds)
	return nil
}

// runState tracks cross-table progress for the periodic progress events.
type runState struct {
	logger *eventlog.Logger

	expected       map[string]int64
	knownTotal     int64
	overallLoaded  int64
	baselineLoaded int64

	t0           time.Time
	progressNext time.Time
	now          func() time.Time
}

func loadTableWithRetry(ctx context.Context, conn storage.Conn, kind string, spec TableSpec, existing, expected int64, opts Options, st *runState) error {
	attempt := 0
	for {
		tableT0 := st.now()
		committed, err := loadTable(ctx, conn, kind, spec, existing, expected, opts, st)
		if err == nil {
			seconds := math.Round(st.now().Sub(tableT0).Seconds()*100) / 100
			st.logger.Event("table_done", "table", spec.Table, "seconds", seconds)
			return nil
		}

		attempt++
		st.logger.Event("table_error",
			"table", spec.Table,
			"attempt", attempt,
			"error", err.Error(),
		)
		if attempt > opts.Retries {
			return fmt.Errorf("table %s: %w", spec.Table, err)
		}
		// Replaying the whole table: clear the rows this run committed so the
		// retry cannot duplicate them.
		if committed > 0 {
			if cleanupErr := conn.Exec(ctx, truncateSQL(kind, opts.Schema, spec.Table)); cleanupErr != nil {
				st.logger.Event("table_retry_cleanup_failed",
					"table", spec.Table,
					"error", cleanupErr.Error(),
				)
				return fmt.Errorf("table %s retry cleanup: %w", spec.Table, cleanupErr)
			}
			st.overallLoaded -= committed
			st.logger.Event("table_truncate_for_retry", "table", spec.Table)
		}
		opts.sleep(opts.RetrySleep)
	}
}

// loadTable streams one CSV into its table. It returns the number of rows it
// committed this call, which the retry wrapper needs for cleanup.
func loadTable(ctx context.Context, conn storage.Conn, kind string, spec TableSpec, skipRows, expected int64, opts Options, st *runState) (int64, error) {
	f, err := os.Open(spec.CSVPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	if _, err := reader.Read(); err == io.EOF {
		return 0, fmt.Errorf("empty CSV: %s", spec.CSVPath)
	} else if err != nil {
		return 0, err
	}

	for i := int64(0); i < skipRows; i++ {
		if _, err := reader.Read(); err == io.EOF {
			break
		} else if err != nil {
			return 0, err
		}
	}

	columnTypes := make([]string, len(spec.Columns))
	for i, c := range spec.Columns {
		columnTypes[i] = ColumnType(spec.Table, c)
	}

	copySpec := storage.CopySpec{Schema: opts.Schema, Table: spec.Table, Columns: spec.Columns}
	var buf bytes.Buffer
	rowsInChunk := 0
	tableCommitted := skipRows
	var committedThisRun int64

	flush := func() error {
		if buf.Len() == 0 {
			return nil
		}
		if err := conn.CopyChunk(ctx, copySpec, buf.Bytes()); err != nil {
			return err
		}
		tableCommitted += int64(rowsInChunk)
		committedThisRun += int64(rowsInChunk)
		st.overallLoaded += int64(rowsInChunk)
		st.logger.Event("chunk_commit",
			"table", spec.Table,
			"rows", rowsInChunk,
			"table_rows_done", tableCommitted,
			"overall_rows_done", st.overallLoaded,
		)
		metrics.IncCounter("chunks_total", metrics.Labels{"table": spec.Table})
		rowsInChunk = 0
		buf.Reset()
		return nil
	}

	rowNumber := int64(1) + skipRows
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return committedThisRun, err
		}
		rowNumber++

		if len(row) != len(spec.Columns) {
			return committedThisRun, fmt.Errorf("%s row %d: expected %d columns, got %d",
				spec.CSVPath, rowNumber, len(spec.Columns), len(row))
		}

		for i, value := range row {
			if value == "" {
				buf.WriteString(copytext.Null)
			} else {
				cleaned, err := cleanValue(spec, columnTypes[i], spec.Columns[i], value, rowNumber)
				if err != nil {
					return committedThisRun, err
				}
				buf.WriteString(copytext.Escape(cleaned))
			}
			if i < len(row)-1 {
				buf.WriteByte('\t')
			}
		}
		buf.WriteByte('\n')
		rowsInChunk++

		if now := st.now(); now.After(st.progressNext) || now.Equal(st.progressNext) {
			st.emitProgress(spec.Table, tableCommitted+int64(rowsInChunk), expected)
			st.progressNext = now.Add(opts.ProgressEvery)
		}

		if rowsInChunk >= opts.ChunkRows {
			if err := flush(); err != nil {
				return committedThisRun, err
			}
		}
	}
	if err := flush(); err != nil {
		return committedThisRun, err
	}
	return committedThisRun, nil
}

// cleanValue validates a non-empty value against its column type and strips
// whitespace on typed columns.
func cleanValue(spec TableSpec, colType, colName, value string, rowNumber int64) (string, error) {
	if strings.ContainsRune(value, 0) {
		return "", fmt.Errorf("%s row %d col %s: NUL byte not allowed", spec.CSVPath, rowNumber, colName)
	}
	switch colType {
	case "INT8":
		value = strings.TrimSpace(value)
		if !intRe.MatchString(value) {
			return "", fmt.Errorf("%s row %d col %s: invalid INT8 value %q", spec.CSVPath, rowNumber, colName, value)
		}
	case "FLOAT8":
		value = strings.TrimSpace(value)
		if !floatRe.MatchString(value) {
			return "", fmt.Errorf("%s row %d col %s: invalid FLOAT8 value %q", spec.CSVPath, rowNumber, colName, value)
		}
	case "DATE":
		normalized, err := NormalizeDate(value)
		if err != nil {
			return "", fmt.Errorf("%s row %d col %s: %v", spec.CSVPath, rowNumber, colName, err)
		}
		value = normalized
	}
	return value, nil
}

func (st *runState) emitProgress(table string, tableRowsDone, expected int64) {
	elapsed := st.now().Sub(st.t0).Seconds()
	fields := []any{
		"table", table,
		"table_rows_done", tableRowsDone,
		"table_rows_expected", expected,
		"overall_rows_done", st.overallLoaded,
		"overall_rows_expected", st.knownTotal,
	}
	if st.knownTotal > 0 {
		pct := float64(st.overallLoaded) / float64(st.knownTotal) * 100
		fields = append(fields, "overall_pct", math.Round(pct*100)/100)
		runRows := st.overallLoaded - st.baselineLoaded
		if runRows > 0 && elapsed > 0 {
			etaS := float64(st.knownTotal-st.overallLoaded) / (float64(runRows) / elapsed)
			fields = append(fields, "eta", formatDuration(etaS))
		}
	}
	st.logger.Event("progress", fields...)
}

func formatDuration(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	if seconds < 90 {
		return fmt.Sprintf("%.1fs", seconds)
	}
	return fmt.Sprintf("%.1fm", seconds/60)
}

func filterSpecs(specs []TableSpec, only, skip []string) []TableSpec {
	onlySet := map[string]bool{}
	for _, t := range only {
		onlySet[NormalizeIdentifier(t)] = true
	}
	skipSet := map[string]bool{}
	for _, t := range skip {
		skipSet[NormalizeIdentifier(t)] = true
	}
	var out []TableSpec
	for _, s := range specs {
		if len(onlySet) > 0 && !onlySet[s.Table] {
			continue
		}
		if skipSet[s.Table] {
			continue
		}
		out = append(out, s)
	}
	return out
}

// readExpectedRows parses the bundle's record-counts inventory if present.
func readExpectedRows(path string) (map[string]int64, error) {
	out := map[string]int64{}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return out, nil
	}
	tableIdx, countIdx := -1, -1
	for i, h := range header {
		switch h {
		case "Table":
			tableIdx = i
		case "Number of Records":
			countIdx = i
		}
	}
	if tableIdx < 0 || countIdx < 0 {
		return out, nil
	}
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if tableIdx >= len(row) || countIdx >= len(row) {
			continue
		}
		name := row[tableIdx]
		if !strings.HasSuffix(name, ".csv") {
			continue
		}
		table := NormalizeIdentifier(strings.TrimSuffix(name, ".csv"))
		if table == "all_downloaded_table_record_counts" {
			continue
		}
		n, err := strconv.ParseInt(row[countIdx], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("record counts for %s: %w", name, err)
		}
		out[table] = n
	}
	return out, nil
}

func truncateSQL(kind, schema, table string) string {
	q := storage.QualifiedTable(kind, schema, table)
	if kind == "sqlite" {
		return "DELETE FROM " + q
	}
	return "TRUNCATE TABLE " + q
}

// dropSchema drops the target schema. SQLite has no schemas, so each selected
// table is dropped instead.
func dropSchema(ctx context.Context, conn storage.Conn, kind, schema string, specs []TableSpec) error {
	if kind != "sqlite" {
		return conn.Exec(ctx, "DROP SCHEMA IF EXISTS "+schema+" CASCADE")
	}
	for _, spec := range specs {
		stmt := "DROP TABLE IF EXISTS " + storage.QualifiedTable(kind, schema, spec.Table)
		if err := conn.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
