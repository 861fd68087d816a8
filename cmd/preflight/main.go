// Command preflight streams an OpenFoodFacts export, normalizes every barcode
// and detects duplicate code_norm values with an external sort. It writes a
// manifest JSON that the importer later verifies before loading anything.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"foodb/internal/dialect"
	"foodb/internal/eventlog"
	"foodb/internal/preflight"
)

// cliConfig holds the parsed and validated command line.
type cliConfig struct {
	opts      preflight.Options
	logFile   string
	logFormat eventlog.Format
}

// parseArgs parses and validates flags. Split from main so tests can check
// flag defaults and validation without spawning the process.
func parseArgs(args []string, stderr io.Writer) (cliConfig, error) {
	var (
		cfg            cliConfig
		delimiter      string
		encodingErrors string
		logFormat      string
	)

	fs := flag.NewFlagSet("preflight", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&cfg.opts.Path, "tsv-path", "", "path to OFF export (.csv/.tsv, optionally .gz) (required)")
	fs.StringVar(&delimiter, "delimiter", "auto", "field delimiter: auto, tab or comma")
	fs.StringVar(&cfg.opts.ManifestOut, "manifest-out", "", "write preflight manifest JSON to this path (required)")
	fs.IntVar(&cfg.opts.FieldSizeLimit, "field-size-limit", 2_000_000, "per-field size limit to avoid large-field parse errors")
	fs.StringVar(&encodingErrors, "encoding-errors", "strict", "invalid UTF-8 handling: strict or replace")
	fs.IntVar(&cfg.opts.DuplicateSamples, "duplicate-samples", 20, "how many duplicate code_norm samples to include in the manifest")
	fs.StringVar(&cfg.opts.DuplicateCodesOut, "duplicate-codes-out", "", "write unique duplicate code_norm values to this path (one per line)")
	fs.StringVar(&cfg.opts.SortTmpDir, "sort-tmp-dir", "", "temporary directory for external sort spill files")
	fs.StringVar(&cfg.logFile, "log-file", "", "optional log file to append events to")
	fs.StringVar(&logFormat, "log-format", "text", "log output format: text or jsonl")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if cfg.opts.Path == "" {
		return cfg, fmt.Errorf("-tsv-path is required")
	}
	if cfg.opts.ManifestOut == "" {
		return cfg, fmt.Errorf("-manifest-out is required")
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := preflight.Run(ctx, logger, cfg.opts); err != nil {
		fatalf("%v", err)
	}
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
