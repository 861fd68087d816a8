// Command import_usda loads the USDA FoodData Central CSV bundle. Table
// schemas are inferred from the CSVs; rows stream in COPY chunks with
// periodic progress events and optional resume after an interrupted run.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"foodb/internal/dbenv"
	"foodb/internal/eventlog"
	"foodb/internal/metrics"
	"foodb/internal/metrics/datadog"
	"foodb/internal/storage"
	"foodb/internal/usda"

	// register all backends with the storage factory.
	_ "foodb/internal/storage/all"
)

// repeatable flag value (-only a -only b).
type stringList []string

func (l *stringList) String() string     { return strings.Join(*l, ",") }
func (l *stringList) Set(v string) error { *l = append(*l, v); return nil }

func main() {
	var (
		csvDir         string
		schema         string
		only           stringList
		skip           stringList
		dropSchema     bool
		truncate       bool
		resume         bool
		skipIndexes    bool
		chunkRows      int
		progressEveryS float64
		retries        int
		retrySleepS    float64
		storageKind    string
		dbURLEnv       string
		envFile        string
		metricsBackend string
		logFile        string
		logFormat      string
	)

	flag.StringVar(&csvDir, "csv-dir", "usda/FoodData_Central_csv_2025-12-18", "directory containing the USDA CSV files")
	flag.StringVar(&schema, "schema", "usda", "target schema name")
	flag.Var(&only, "only", "import only these tables (repeatable, matches CSV filename stem)")
	flag.Var(&skip, "skip", "skip these tables (repeatable, matches CSV filename stem)")
	flag.BoolVar(&dropSchema, "drop-schema", false, "drop and recreate the target schema before import (destructive)")
	flag.BoolVar(&truncate, "truncate", false, "truncate each table before loading it (avoids duplicate rows on re-run)")
	flag.BoolVar(&resume, "resume", false, "resume by skipping already-loaded rows (uses current table row count)")
	flag.BoolVar(&skipIndexes, "skip-indexes", false, "skip creating post-import indexes (you can add them later)")
	flag.IntVar(&chunkRows, "chunk-rows", usda.DefaultChunkRows, "rows per COPY transaction")
	flag.Float64Var(&progressEveryS, "progress-every-s", usda.DefaultProgressEvery.Seconds(), "emit periodic progress events while loading")
	flag.IntVar(&retries, "retries", 0, "per-table retry count")
	flag.Float64Var(&retrySleepS, "retry-sleep-s", usda.DefaultRetrySleep.Seconds(), "seconds to sleep between retries")
	flag.StringVar(&storageKind, "storage", "postgres", "storage backend kind")
	flag.StringVar(&dbURLEnv, "database-url-env", dbenv.DefaultVar, "env var name containing DB URL")
	flag.StringVar(&envFile, "env-file", ".env", "fallback env file for the DB URL")
	flag.StringVar(&metricsBackend, "metrics", "none", "metrics backend: datadog or none")
	flag.StringVar(&logFile, "log-file", "", "optional log file to append events to")
	flag.StringVar(&logFormat, "log-format", "text", "log output format: text or jsonl")
	flag.Parse()

	format, err := eventlog.ParseFormat(logFormat)
	if err != nil {
		fatalf("%v", err)
	}
	logger, err := eventlog.New(os.Stdout, format, logFile)
	if err != nil {
		fatalf("%v", err)
	}
	defer logger.Close()

	closeMetrics := setupMetrics(metricsBackend, "import_usda")
	defer closeMetrics()

	dsn, err := dbenv.Resolve(dbURLEnv, envFile)
	if err != nil {
		fatalf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := storage.Open(ctx, storageKind, dsn)
	if err != nil {
		fatalf("connect: %v", err)
	}
	defer conn.Close(context.Background())

	err = usda.Run(ctx, conn, logger, usda.Options{
		CSVDir:        csvDir,
		Schema:        schema,
		Only:          only,
		Skip:          skip,
		DropSchema:    dropSchema,
		Truncate:      truncate,
		Resume:        resume,
		SkipIndexes:   skipIndexes,
		ChunkRows:     chunkRows,
		ProgressEvery: time.Duration(progressEveryS * float64(time.Second)),
		Retries:       retries,
		RetrySleep:    time.Duration(retrySleepS * float64(time.Second)),
	})
	if err != nil {
		fatalf("%v", err)
	}
}

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
