package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"foodb/internal/eventlog"
	"foodb/internal/metrics"
	"foodb/internal/storage"
)

const maxRetrySleep = 10 * time.Second

// RetryPolicy controls how chunk commits respond to transient failures.
type RetryPolicy struct {
	// Retries is the number of replays after the first attempt.
	Retries int
	// BaseSleep is doubled per attempt, capped at 10s, plus up to 50ms jitter.
	BaseSleep time.Duration
}

// withDefaults fills each unset field separately, so a caller setting only
// Retries keeps that count and only inherits the default sleep.
func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.Retries == 0 {
		p.Retries = DefaultRetries
	}
	if p.BaseSleep == 0 {
		p.BaseSleep = DefaultRetrySleep
	}
	return p
}

// chunkLoader buffers COPY text for one table and commits it in transactional
// chunks, replaying a chunk verbatim on transient failures.
type chunkLoader struct {
	conn   storage.Conn
	logger *eventlog.Logger
	spec   storage.CopySpec
	policy RetryPolicy

	buf bytes.Buffer

	// test seams
	sleep  func(time.Duration)
	jitter func() float64
}

func newChunkLoader(conn storage.Conn, logger *eventlog.Logger, spec storage.CopySpec, policy RetryPolicy) *chunkLoader {
	return &chunkLoader{
		conn:   conn,
		logger: logger,
		spec:   spec,
		policy: policy,
		sleep:  time.Sleep,
		jitter: rand.Float64,
	}
}

func (l *chunkLoader) add(line string) {
	l.buf.WriteString(line)
}

// flush commits the buffered rows as one chunk. rowsProducts is the product
// row count of the logical chunk, reported on both tables' events so the two
// flushes of one chunk correlate in the log.
func (l *chunkLoader) flush(ctx context.Context, rowsProducts int) error {
	if l.buf.Len() == 0 {
		return nil
	}
	data := l.buf.Bytes()

	for attempt := 0; ; attempt++ {
		err := l.conn.CopyChunk(ctx, l.spec, data)
		if err == nil {
			break
		}
		if !storage.IsTransient(err) || attempt >= l.policy.Retries {
			return err
		}
		sleep := time.Duration(math.Min(
			float64(l.policy.BaseSleep)*math.Pow(2, float64(attempt)),
			float64(maxRetrySleep),
		)) + time.Duration(l.jitter()*float64(50*time.Millisecond))
		l.logger.Event("retry",
			"kind", l.spec.Table,
			"rows_products", rowsProducts,
			"attempt", attempt+1,
			"sleep_s", math.Round(sleep.Seconds()*1000)/1000,
			"error_type", errorTypeName(err),
		)
		metrics.IncCounter("retries_total", metrics.Labels{"table": l.spec.Table})
		l.sleep(sleep)
	}

	l.logger.Event("chunk_commit", "kind", l.spec.Table, "rows_products", rowsProducts)
	metrics.IncCounter("chunks_total", metrics.Labels{"table": l.spec.Table})
	l.buf.Reset()
	return nil
}

// errorTypeName names the underlying driver error for the retry event.
func errorTypeName(err error) string {
	var te *storage.TransientError
	if errors.As(err, &te) {
		err = te.Err
	}
	name := fmt.Sprintf("%T", err)
	return strings.TrimPrefix(name, "*")
}
