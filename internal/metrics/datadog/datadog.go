// Package datadog implements a buffered Datadog backend for internal/metrics.
//
// Import runs range from seconds (small test files) to hours (full OFF or
// USDA exports), so the backend both flushes periodically on a ticker and
// flushes one final time on Close. Counters and duration samples are buffered
// in memory under a mutex; Flush snapshots and resets the buffers, then
// submits out of lock.
package datadog

import (
	"context"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"

	"foodb/internal/metrics"
)

// Options configures the backend.
type Options struct {
	// JobName becomes tag "job:<name>" on every metric. Defaults to "foodb".
	JobName string

	// Tags are extra Datadog tags (e.g. []string{"env:prod"}).
	Tags []string

	// FlushEvery controls periodic submission. Defaults to 60s.
	FlushEvery time.Duration

	// Unexported test seams; production never sets these.
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter metricsSubmitter
}

// metricsSubmitter wraps the one Datadog SDK call this backend makes, so
// tests can substitute a fake instead of doing real HTTP.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// Backend implements metrics.Backend for Datadog.
type Backend struct {
	api submitAPI

	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}

	baseTags []string

	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker

	mu       sync.Mutex
	counters map[counterKey]float64
	samples  map[string][]float64
}

type counterKey struct {
	name string
	tags string
}

type submitAPI struct {
	ctx context.Context
	s   metricsSubmitter
}

// NewBackend starts the flush loop and returns the backend. Credentials come
// from the standard DD_API_KEY/DD_APP_KEY environment variables.
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	job := opts.JobName
	if job == "" {
		job = "foodb"
	}
	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 60 * time.Second
	}

	baseTags := make([]string, 0, 2+len(opts.Tags))
	baseTags = append(baseTags, envTag(), "job:"+job)
	baseTags = append(baseTags, opts.Tags...)

	nowFn := opts.now
	if nowFn == nil {
		nowFn = time.Now
	}
	newTicker := opts.newTicker
	if newTicker == nil {
		newTicker = time.NewTicker
	}

	ctx := dd.NewDefaultContext(parent)
	submitter := opts.submitter
	if submitter == nil {
		client := dd.NewAPIClient(dd.NewConfiguration())
		submitter = datadogV2.NewMetricsApi(client)
	}

	b := &Backend{
		api:        submitAPI{ctx: ctx, s: submitter},
		flushEvery: flushEvery,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		baseTags:   baseTags,
		now:        nowFn,
		newTicker:  newTicker,
		counters:   make(map[counterKey]float64),
		samples:    make(map[string][]float64),
	}
	go b.loop()
	return b, nil
}

func envTag() string {
	if v := strings.TrimSpace(os.Getenv("ENV")); v != "" {
		return "env:" + v
	}
	if v := strings.TrimSpace(os.Getenv("DD_ENV")); v != "" {
		return "env:" + v
	}
	return "env:unknown"
}

func (b *Backend) loop() {
	defer close(b.doneCh)
	t := b.newTicker(b.flushEvery)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			_ = b.Flush()
		case <-b.stopCh:
			return
		}
	}
}

// Close stops the flush loop and performs one final Flush. Call once.
func (b *Backend) Close() error {
	close(b.stopCh)
	<-b.doneCh
	return b.Flush()
}

// IncCounter implements metrics.Backend.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}
	key := counterKey{name: name, tags: labelTags(labels)}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.counters[key] += delta
}

// ObserveHistogram implements metrics.Backend.
func (b *Backend) ObserveHistogram(name string, value float64, _ metrics.Labels) {
	if value < 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples[name] = append(b.samples[name], value)
}

// labelTags renders labels as sorted comma-joined Datadog tags.
func labelTags(labels metrics.Labels) string {
	if len(labels) == 0 {
		return ""
	}
	parts := make([]string, 0, len(labels))
	for k, v := range labels {
		parts = append(parts, k+":"+v)
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

type snapshot struct {
	counters map[counterKey]float64
	samples  map[string][]float64
}

func (b *Backend) snapshotAndReset() snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := snapshot{counters: b.counters, samples: b.samples}
	b.counters = make(map[counterKey]float64)
	b.samples = make(map[string][]float64)
	return s
}

func (s snapshot) isEmpty() bool {
	return len(s.counters) == 0 && len(s.samples) == 0
}

// Flush submits buffered metrics and resets local buffers. Buffers reset even
// when submission fails so the pipeline never blocks on the metrics path.
func (b *Backend) Flush() error {
	snap := b.snapshotAndReset()
	if snap.isEmpty() {
		return nil
	}
	payload := datadogV2.MetricPayload{Series: b.buildSeries(snap, b.now().Unix())}
	_, _, err := b.api.s.SubmitMetrics(b.api.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters())
	return err
}

// buildSeries is pure: no locks, clocks or network. Counter names like
// records_total become foodb.records.total; duration samples publish fixed
// percentile gauges.
func (b *Backend) buildSeries(s snapshot, nowUnix int64) []datadogV2.MetricSeries {
	series := make([]datadogV2.MetricSeries, 0, len(s.counters)+8*len(s.samples))

	for key, v := range s.counters {
		if v == 0 {
			continue
		}
		tags := b.baseTags
		if key.tags != "" {
			tags = withTags(b.baseTags, strings.Split(key.tags, ",")...)
		}
		series = append(series, countSeries(metricName(key.name), v, tags, nowUnix))
	}

	for name, samples := range s.samples {
		if len(samples) == 0 {
			continue
		}
		cp := append([]float64(nil), samples...)
		sort.Float64s(cp)
		prefix := metricName(name)
		series = append(series,
			gaugeSeries(prefix+".p50", percentileNearestRank(cp, 0.50), b.baseTags, nowUnix),
			gaugeSeries(prefix+".p95", percentileNearestRank(cp, 0.95), b.baseTags, nowUnix),
			gaugeSeries(prefix+".p99", percentileNearestRank(cp, 0.99), b.baseTags, nowUnix),
			gaugeSeries(prefix+".max", cp[len(cp)-1], b.baseTags, nowUnix),
			gaugeSeries(prefix+".samples", float64(len(cp)), b.baseTags, nowUnix),
		)
	}

	return series
}

func metricName(name string) string {
	return "foodb." + strings.ReplaceAll(name, "_", ".")
}

func countSeries(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   datadogV2.METRICINTAKETYPE_COUNT.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func gaugeSeries(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   datadogV2.METRICINTAKETYPE_GAUGE.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func withTags(base []string, extras ...string) []string {
	out := make([]string, 0, len(base)+len(extras))
	out = append(out, base...)
	out = append(out, extras...)
	return out
}

func percentileNearestRank(s []float64, p float64) float64 {
	n := len(s)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return s[0]
	}
	if p >= 1 {
		return s[n-1]
	}
	idx := int(p*float64(n-1) + 0.5)
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return s[idx]
}

var _ metrics.Backend = (*Backend)(nil)

// ParseTagsCSV parses comma-separated tags like "env:prod,service:import".
func ParseTagsCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
