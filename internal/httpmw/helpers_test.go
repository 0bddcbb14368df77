package httpmw

import (
	"context"
	"sync"

	"github.com/keithlinneman/storyboard/internal/log"
)

type logEntry struct {
	level  string
	msg    string
	err    error
	fields []any
}

// recLogger records every call. With returns the same logger so fields
// and entries from a request land in one place.
type recLogger struct {
	mu      sync.Mutex
	entries []logEntry
	withs   [][]any
}

func (l *recLogger) With(kv ...any) log.Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.withs = append(l.withs, kv)
	return l
}

func (l *recLogger) add(e logEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
}

func (l *recLogger) Debug(_ context.Context, msg string, kv ...any) {
	l.add(logEntry{level: "debug", msg: msg, fields: kv})
}

func (l *recLogger) Info(_ context.Context, msg string, kv ...any) {
	l.add(logEntry{level: "info", msg: msg, fields: kv})
}

func (l *recLogger) Warn(_ context.Context, msg string, kv ...any) {
	l.add(logEntry{level: "warn", msg: msg, fields: kv})
}

func (l *recLogger) Error(_ context.Context, err error, msg string, kv ...any) {
	l.add(logEntry{level: "error", msg: msg, err: err, fields: kv})
}

func (l *recLogger) Sync() error { return nil }

func (l *recLogger) byLevel(level string) []logEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []logEntry
	for _, e := range l.entries {
		if e.level == level {
			out = append(out, e)
		}
	}
	return out
}

// withFields flattens every With call into one map.
func (l *recLogger) withFields() map[string]any {
	l.mu.Lock()
	defer l.mu.Unlock()
	return kvMap(flatten(l.withs))
}

func flatten(kvs [][]any) []any {
	var out []any
	for _, kv := range kvs {
		out = append(out, kv...)
	}
	return out
}

func kvMap(kv []any) map[string]any {
	m := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			m[k] = kv[i+1]
		}
	}
	return m
}
