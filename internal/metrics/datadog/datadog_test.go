package datadog

import (
	"context"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"

	"foodb/internal/metrics"
)

// fakeSubmitter captures payloads submitted by Backend.Flush().
type fakeSubmitter struct {
	mu       sync.Mutex
	payloads []datadogV2.MetricPayload
	err      error
}

func (f *fakeSubmitter) SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, body)
	return datadogV2.IntakePayloadAccepted{}, nil, f.err
}

func (f *fakeSubmitter) last(t *testing.T) datadogV2.MetricPayload {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.payloads) == 0 {
		t.Fatal("no payload submitted")
	}
	return f.payloads[len(f.payloads)-1]
}

func newTestBackend(t *testing.T) (*Backend, *fakeSubmitter) {
	t.Helper()
	fake := &fakeSubmitter{}
	b, err := NewBackend(context.Background(), Options{
		JobName:    "test",
		FlushEvery: time.Hour,
		now:        func() time.Time { return time.Unix(1700000000, 0) },
		submitter:  fake,
	})
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	return b, fake
}

func TestEnvTag(t *testing.T) {
	oldENV, oldDD := os.Getenv("ENV"), os.Getenv("DD_ENV")
	t.Cleanup(func() {
		_ = os.Setenv("ENV", oldENV)
		_ = os.Setenv("DD_ENV", oldDD)
	})

	tests := []struct {
		name string
		env  string
		dd   string
		want string
	}{
		{name: "ENV_wins", env: "prod", dd: "stage", want: "env:prod"},
		{name: "DD_ENV_fallback", env: "", dd: "stage", want: "env:stage"},
		{name: "default_unknown", env: "", dd: "", want: "env:unknown"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_ = os.Setenv("ENV", tc.env)
			_ = os.Setenv("DD_ENV", tc.dd)
			if got := envTag(); got != tc.want {
				t.Fatalf("envTag()=%q, want %q", got, tc.want)
			}
		})
	}
}

func TestFlushSubmitsCountersAndPercentiles(t *testing.T) {
	b, fake := newTestBackend(t)
	defer func() { _ = b.Close() }()

	b.IncCounter("chunks_total", 3, metrics.Labels{"table": "product_raw"})
	b.IncCounter("records_total", 100, metrics.Labels{"kind": "product"})
	b.ObserveHistogram("import_seconds", 1.5, nil)
	b.ObserveHistogram("import_seconds", 0.5, nil)

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	payload := fake.last(t)
	byMetric := map[string]datadogV2.MetricSeries{}
	for _, s := range payload.Series {
		byMetric[s.Metric] = s
	}

	chunk, ok := byMetric["foodb.chunks.total"]
	if !ok {
		t.Fatalf("missing chunks series; have %v", keys(byMetric))
	}
	if got := *chunk.Points[0].Value; got != 3 {
		t.Fatalf("chunks value = %v, want 3", got)
	}
	if !containsTag(chunk.Tags, "table:product_raw") {
		t.Fatalf("chunk tags = %v", chunk.Tags)
	}
	if !containsTag(chunk.Tags, "job:test") {
		t.Fatalf("chunk tags missing job: %v", chunk.Tags)
	}

	if _, ok := byMetric["foodb.import.seconds.p50"]; !ok {
		t.Fatalf("missing p50 gauge; have %v", keys(byMetric))
	}
	maxSeries := byMetric["foodb.import.seconds.max"]
	if got := *maxSeries.Points[0].Value; got != 1.5 {
		t.Fatalf("max = %v, want 1.5", got)
	}
	samples := byMetric["foodb.import.seconds.samples"]
	if got := *samples.Points[0].Value; got != 2 {
		t.Fatalf("samples = %v, want 2", got)
	}
}

func TestFlushEmptySubmitsNothing(t *testing.T) {
	b, fake := newTestBackend(t)
	defer func() { _ = b.Close() }()

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	fake.mu.Lock()
	n := len(fake.payloads)
	fake.mu.Unlock()
	if n != 0 {
		t.Fatalf("empty flush submitted %d payloads", n)
	}
}

func TestFlushResetsBuffers(t *testing.T) {
	b, fake := newTestBackend(t)
	defer func() { _ = b.Close() }()

	b.IncCounter("retries_total", 1, metrics.Labels{"table": "nutrient_100g"})
	if err := b.Flush(); err != nil {
		t.Fatalf("first flush: %v", err)
	}
	if err := b.Flush(); err != nil {
		t.Fatalf("second flush: %v", err)
	}
	fake.mu.Lock()
	n := len(fake.payloads)
	fake.mu.Unlock()
	if n != 1 {
		t.Fatalf("expected buffers reset after flush, got %d payloads", n)
	}
}

func TestIncCounterIgnoresNonPositive(t *testing.T) {
	b, fake := newTestBackend(t)
	defer func() { _ = b.Close() }()

	b.IncCounter("chunks_total", 0, nil)
	b.IncCounter("chunks_total", -5, nil)
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	fake.mu.Lock()
	n := len(fake.payloads)
	fake.mu.Unlock()
	if n != 0 {
		t.Fatalf("non-positive deltas were buffered")
	}
}

func TestParseTagsCSV(t *testing.T) {
	got := ParseTagsCSV(" env:prod , service:import ,, ")
	if len(got) != 2 || got[0] != "env:prod" || got[1] != "service:import" {
		t.Fatalf("ParseTagsCSV = %v", got)
	}
	if ParseTagsCSV("") != nil {
		t.Fatal("empty input should return nil")
	}
}

func containsTag(tags []string, want string) bool {
	for _, tag := range tags {
		if tag == want {
			return true
		}
	}
	return false
}

func keys(m map[string]datadogV2.MetricSeries) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
