// internal/logging/testing.go
package logging

import (
	"reflect"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger is a Logger that records every entry, down to TraceLevel, in
// memory. Entries go through the correlating core, so a logged context
// shows up as trace_id, span_id and request.id fields.
type TestLogger struct {
	*Logger
	observed *observer.ObservedLogs
}

func NewTestLogger() *TestLogger {
	core, observed := observer.New(TraceLevel)
	return &TestLogger{
		Logger:   &Logger{zap: zap.New(newCorrelatingCore(core)), config: NewDefaultConfig()},
		observed: observed,
	}
}

func (t *TestLogger) All() []observer.LoggedEntry { return t.observed.All() }

// FilterMessage returns entries whose message is exactly msg.
func (t *TestLogger) FilterMessage(msg string) *observer.ObservedLogs {
	return t.observed.FilterMessage(msg)
}

func (t *TestLogger) Reset() { t.observed.TakeAll() }

// AssertLogged fails tb unless an entry at level has a message containing
// snippet.
func (t *TestLogger) AssertLogged(tb testing.TB, level zapcore.Level, snippet string) {
	tb.Helper()
	if t.matching(level, snippet) == 0 {
		tb.Errorf("no %v entry containing %q; have %v", level, snippet, t.messages())
	}
}

// AssertNotLogged fails tb if an entry at level has a message containing
// snippet.
func (t *TestLogger) AssertNotLogged(tb testing.TB, level zapcore.Level, snippet string) {
	tb.Helper()
	if n := t.matching(level, snippet); n > 0 {
		tb.Errorf("%d unexpected %v entries containing %q", n, level, snippet)
	}
}

// AssertField fails tb unless some entry with message msg has field key
// equal to want. Values compare as zap encodes them: integers as int64,
// durations as time.Duration.
func (t *TestLogger) AssertField(tb testing.TB, msg, key string, want any) {
	tb.Helper()
	for _, e := range t.observed.FilterMessage(msg).All() {
		enc := zapcore.NewMapObjectEncoder()
		for _, f := range e.Context {
			f.AddTo(enc)
		}
		if got, ok := enc.Fields[key]; ok && reflect.DeepEqual(got, want) {
			return
		}
	}
	tb.Errorf("no %q entry with %s=%v", msg, key, want)
}

// AssertTraceCorrelation fails tb unless msg was logged inside the span
// identified by traceID and spanID.
func (t *TestLogger) AssertTraceCorrelation(tb testing.TB, msg, traceID, spanID string) {
	tb.Helper()
	t.AssertField(tb, msg, TraceIDKey, traceID)
	t.AssertField(tb, msg, SpanIDKey, spanID)
}

// AssertNoTraceCorrelation fails tb if any msg entry carries a trace or
// span ID.
func (t *TestLogger) AssertNoTraceCorrelation(tb testing.TB, msg string) {
	tb.Helper()
	for _, key := range []string{TraceIDKey, SpanIDKey} {
		if n := t.observed.FilterMessage(msg).FilterFieldKey(key).Len(); n > 0 {
			tb.Errorf("%d %q entries carry %s", n, msg, key)
		}
	}
}

func (t *TestLogger) matching(level zapcore.Level, snippet string) int {
	return t.observed.FilterLevelExact(level).FilterMessageSnippet(snippet).Len()
}

func (t *TestLogger) messages() []string {
	entries := t.observed.All()
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Level.String() + " " + e.Message
	}
	return out
}
