// Package eventlog emits named events with ordered key-value fields, either
// as human-readable text or as JSONL. Events always go to the primary writer
// (normally stdout) and are optionally appended to a log file.
package eventlog

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Format selects the output encoding.
type Format string

const (
	FormatText  Format = "text"
	FormatJSONL Format = "jsonl"
)

// ParseFormat validates the --log-format flag value.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatText, FormatJSONL:
		return Format(s), nil
	}
	return "", fmt.Errorf("invalid log format %q (want text or jsonl)", s)
}

// Logger writes events. The zero value is unusable; construct with New.
// Safe for use from the metrics flush goroutine alongside the main loop.
type Logger struct {
	mu     sync.Mutex
	format Format
	out    io.Writer
	file   *os.File

	// now is a test seam.
	now func() time.Time
}

// New creates a Logger writing to out. If logFile is non-empty the file is
// opened for append (parent directories created as needed) and every event is
// mirrored there until Close.
func New(out io.Writer, format Format, logFile string) (*Logger, error) {
	l := &Logger{format: format, out: out, now: time.Now}
	if logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		l.file = f
	}
	return l, nil
}

// Close closes the log file, if any. The primary writer is left open.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Event emits one event. kv must be alternating key, value pairs; keys are
// rendered in argument order in both formats.
func (l *Logger) Event(name string, kv ...any) {
	if l == nil {
		return
	}

	ts := l.now().UTC().Format("2006-01-02T15:04:05Z07:00")

	var line string
	if l.format == FormatJSONL {
		line = jsonLine(ts, name, kv)
	} else {
		line = textLine(ts, name, kv)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.out, line)
	if l.file != nil {
		fmt.Fprintln(l.file, line)
	}
}

func textLine(ts, name string, kv []any) string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(ts)
	b.WriteString("] ")
	b.WriteString(name)
	for i := 0; i+1 < len(kv); i += 2 {
		fmt.Fprintf(&b, " %v=%v", kv[i], kv[i+1])
	}
	return b.String()
}

// jsonLine hand-assembles the object so field order is ts, event, then the
// caller's keys in argument order. encoding/json handles each value.
func jsonLine(ts, name string, kv []any) string {
	var b strings.Builder
	b.WriteString(`{"ts":`)
	writeJSONValue(&b, ts)
	b.WriteString(`,"event":`)
	writeJSONValue(&b, name)
	for i := 0; i+1 < len(kv); i += 2 {
		b.WriteString(",")
		writeJSONValue(&b, fmt.Sprint(kv[i]))
		b.WriteString(":")
		writeJSONValue(&b, kv[i+1])
	}
	b.WriteString("}")
	return b.String()
}

func writeJSONValue(b *strings.Builder, v any) {
	enc, err := json.Marshal(v)
	if err != nil {
		enc, _ = json.Marshal(fmt.Sprint(v))
	}
	b.Write(enc)
}
