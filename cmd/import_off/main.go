// Command import_off loads an OpenFoodFacts TSV/CSV export into the target
// database using streaming COPY chunks. It verifies the preflight manifest,
// applies the duplicate resolution policy and records run metadata.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"foodb/internal/dbenv"
	"foodb/internal/dialect"
	"foodb/internal/eventlog"
	"foodb/internal/ingest"
	"foodb/internal/metrics"
	"foodb/internal/metrics/datadog"
	"foodb/internal/storage"

	// register all backends with the storage factory.
	_ "foodb/internal/storage/all"
)

// cliConfig holds the parsed and validated command line.
type cliConfig struct {
	opts           ingest.Options
	storageKind    string
	dbURLEnv       string
	envFile        string
	metricsBackend string
	logFile        string
	logFormat      eventlog.Format
}

// parseArgs parses and validates flags. Split from main so tests can check
// flag defaults and validation without spawning the process.
func parseArgs(args []string, stderr io.Writer) (cliConfig, error) {
	var (
		cfg            cliConfig
		delimiter      string
		nutrients      string
		retries        int
		retrySleepS    float64
		encodingErrors string
		dedupe         string
		logFormat      string
	)

	fs := flag.NewFlagSet("import_off", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&cfg.opts.Path, "tsv-path", "", "path to OFF export (.csv/.tsv, optionally .gz) (required)")
	fs.StringVar(&cfg.opts.Schema, "schema", "openfoodfacts", "target schema name")
	fs.BoolVar(&cfg.opts.Truncate, "truncate", false, "truncate OFF tables before import (recommended)")
	fs.StringVar(&delimiter, "delimiter", "auto", "field delimiter: auto, tab or comma")
	fs.StringVar(&nutrients, "nutrients", "minimal", "which nutrient fields to extract: minimal or all")
	fs.BoolVar(&cfg.opts.IncludeSalt, "include-salt", false, "include salt_100g in minimal nutrient extraction")
	fs.IntVar(&cfg.opts.ChunkRows, "chunk-rows", ingest.DefaultChunkRows, "rows per COPY transaction")
	fs.Int64Var(&cfg.opts.MaxRows, "max-rows", 0, "optional cap for testing (0 means no cap)")
	fs.IntVar(&retries, "retries", ingest.DefaultRetries, "retry count for transient transaction errors")
	fs.Float64Var(&retrySleepS, "retry-sleep-s", ingest.DefaultRetrySleep.Seconds(), "base sleep between retries (seconds), with exponential backoff and jitter")
	fs.StringVar(&cfg.opts.ExpectedSHA256, "expected-sha256", "", "require the input file SHA-256 to match this value (from preflight)")
	fs.StringVar(&cfg.opts.ManifestPath, "preflight-manifest", "", "path to preflight manifest JSON; importer refuses to run if it doesn't match")
	fs.StringVar(&cfg.opts.DuplicateCodes, "duplicate-codes", "", "path to duplicate code_norm list (one per line) from preflight")
	fs.IntVar(&cfg.opts.FieldSizeLimit, "field-size-limit", ingest.DefaultFieldSizeLimit, "per-field size limit to avoid large-field parse errors")
	fs.StringVar(&encodingErrors, "encoding-errors", "strict", "invalid UTF-8 handling: strict or replace")
	fs.BoolVar(&cfg.opts.SkipIndexes, "skip-indexes", false, "skip secondary index creation (primary key still enforced)")
	fs.StringVar(&dedupe, "dedupe", "none", "duplicate handling for code_norm: none (fast) or memory (skip duplicates)")
	fs.StringVar(&cfg.storageKind, "storage", "postgres", "storage backend kind")
	fs.StringVar(&cfg.dbURLEnv, "database-url-env", dbenv.DefaultVar, "env var name containing DB URL")
	fs.StringVar(&cfg.envFile, "env-file", ".env", "fallback env file for the DB URL")
	fs.StringVar(&cfg.metricsBackend, "metrics", "none", "metrics backend: datadog or none")
	fs.StringVar(&cfg.logFile, "log-file", "", "optional log file to append events to")
	fs.StringVar(&logFormat, "log-format", "text", "log output format: text or jsonl")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if cfg.opts.Path == "" {
		return cfg, fmt.Errorf("-tsv-path is required")
	}

	var err error
	if cfg.opts.Delimiter, err = dialect.ParseMode(delimiter); err != nil {
		return cfg, err
	}
	if cfg.opts.Decode, err = dialect.ParseDecodeErrors(encodingErrors); err != nil {
		return cfg, err
	}
	if cfg.logFormat, err = eventlog.ParseFormat(logFormat); err != nil {
		return cfg, err
	}
	switch nutrients {
	case "minimal":
		cfg.opts.Nutrients = ingest.NutrientsMinimal
	case "all":
		cfg.opts.Nutrients = ingest.NutrientsAll
	default:
		return cfg, fmt.Errorf("invalid -nutrients %q (want minimal or all)", nutrients)
	}
	switch dedupe {
	case "none":
	case "memory":
		cfg.opts.DedupeMemory = true
	default:
		return cfg, fmt.Errorf("invalid -dedupe %q (want none or memory)", dedupe)
	}
	cfg.opts.Retry = ingest.RetryPolicy{
		Retries:   retries,
		BaseSleep: time.Duration(retrySleepS * float64(time.Second)),
	}
	return cfg, nil
}

func main() {
	cfg, err := parseArgs(os.Args[1:], os.Stderr)
	if err != nil {
		fatalf("%v", err)
	}

	logger, err := eventlog.New(os.Stdout, cfg.logFormat, cfg.logFile)
	if err != nil {
		fatalf("%v", err)
	}
	defer logger.Close()

	closeMetrics := setupMetrics(cfg.metricsBackend, "import_off")
	defer closeMetrics()

	dsn, err := dbenv.Resolve(cfg.dbURLEnv, cfg.envFile)
	if err != nil {
		fatalf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := storage.Open(ctx, cfg.storageKind, dsn)
	if err != nil {
		fatalf("connect: %v", err)
	}
	defer conn.Close(context.Background())

	if _, err := ingest.Run(ctx, conn, logger, cfg.opts); err != nil {
		fatalf("%v", err)
	}
}

// setupMetrics installs the selected metrics backend and returns its shutdown
// function. The nop backend stays in place when metrics are disabled.
func setupMetrics(backend, jobName string) func() {
	switch backend {
	case "datadog":
		b, err := datadog.NewBackend(context.Background(), datadog.Options{
			JobName: jobName,
			Tags:    datadog.ParseTagsCSV(os.Getenv("METRICS_TAGS")),
		})
		if err != nil {
			log.Printf("metrics: failed to init datadog backend: %v; using nop", err)
			return func() {}
		}
		metrics.SetBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				log.Printf("metrics: datadog close/flush error: %v", err)
			}
		}
	case "", "none":
		return func() {}
	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", backend)
		return func() {}
	}
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
