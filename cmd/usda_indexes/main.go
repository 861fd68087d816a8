// Command usda_indexes creates the recommended secondary indexes over an
// imported USDA FoodData Central schema. Index creation is split out from the
// import so large loads can defer it.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"foodb/internal/dbenv"
	"foodb/internal/eventlog"
	"foodb/internal/storage"
	"foodb/internal/usda"

	// register all backends with the storage factory.
	_ "foodb/internal/storage/all"
)

type stringList []string

func (l *stringList) String() string     { return strings.Join(*l, ",") }
func (l *stringList) Set(v string) error { *l = append(*l, v); return nil }

func main() {
	var (
		schema      string
		only        stringList
		skip        stringList
		list        bool
		storageKind string
		dbURLEnv    string
		envFile     string
		logFile     string
		logFormat   string
	)

	flag.StringVar(&schema, "schema", "usda", "target schema name")
	flag.Var(&only, "only", "create only these indexes (repeatable; names printed by -list)")
	flag.Var(&skip, "skip", "skip these indexes (repeatable; names printed by -list)")
	flag.BoolVar(&list, "list", false, "list known index names and exit")
	flag.StringVar(&storageKind, "storage", "postgres", "storage backend kind")
	flag.StringVar(&dbURLEnv, "database-url-env", dbenv.DefaultVar, "env var name containing DB URL")
	flag.StringVar(&envFile, "env-file", ".env", "fallback env file for the DB URL")
	flag.StringVar(&logFile, "log-file", "", "optional log file to append events to")
	flag.StringVar(&logFormat, "log-format", "text", "log output format: text or jsonl")
	flag.Parse()

	if list {
		for _, spec := range usda.IndexCatalog() {
			fmt.Println(spec.Name)
		}
		return
	}

	specs, err := usda.SelectIndexes(only, skip)
	if err != nil {
		fatalf("%v (check -only/-skip or use -list)", err)
	}

	format, err := eventlog.ParseFormat(logFormat)
	if err != nil {
		fatalf("%v", err)
	}
	logger, err := eventlog.New(os.Stdout, format, logFile)
	if err != nil {
		fatalf("%v", err)
	}
	defer logger.Close()

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

	if err := usda.CreateIndexes(ctx, conn, logger, schema, specs); err != nil {
		fatalf("%v", err)
	}
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
