// Package metrics decouples the import pipeline from any particular metrics
// vendor. The pipeline records counters and duration samples through
// package-level helpers; binaries install a backend at startup. The default
// backend discards everything.
package metrics

import "sync/atomic"

// Labels tag a metric sample.
type Labels map[string]string

// Backend receives metric samples. Implementations must be safe for
// concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush submits anything buffered. Called once at the end of a run.
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var backend atomic.Value

func init() {
	backend.Store(Backend(nopBackend{}))
}

// SetBackend installs b as the process-wide backend. Call before the
// pipeline starts; passing nil restores the discarding default.
func SetBackend(b Backend) {
	if b == nil {
		b = nopBackend{}
	}
	backend.Store(b)
}

func current() Backend {
	return backend.Load().(Backend)
}

// IncCounter adds 1 to a counter.
func IncCounter(name string, labels Labels) {
	current().IncCounter(name, 1, labels)
}

// IncCounterBy adds delta to a counter. Non-positive deltas are dropped.
func IncCounterBy(name string, labels Labels, delta int64) {
	if delta <= 0 {
		return
	}
	current().IncCounter(name, float64(delta), labels)
}

// ObserveDuration records one duration sample in seconds.
func ObserveDuration(name string, seconds float64) {
	current().ObserveHistogram(name, seconds, nil)
}

// Flush flushes the installed backend.
func Flush() error {
	return current().Flush()
}
