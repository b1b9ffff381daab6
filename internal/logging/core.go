// internal/logging/core.go
package logging

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const contextFieldKey = "context"

// Context returns a field carrying ctx to the cores. It is never encoded as
// is: the stdout core expands it via ContextFields and the OTEL core uses it
// as the emitted record's context.
func Context(ctx context.Context) zap.Field {
	return zap.Any(contextFieldKey, ctx)
}

// correlatingCore replaces context fields with the correlation fields they
// carry before handing the entry to the wrapped core.
type correlatingCore struct {
	zapcore.Core
}

func newCorrelatingCore(core zapcore.Core) zapcore.Core {
	return &correlatingCore{Core: core}
}

func (c *correlatingCore) With(fields []zapcore.Field) zapcore.Core {
	return &correlatingCore{Core: c.Core.With(expandContext(fields))}
}

func (c *correlatingCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(e.Level) {
		return ce.AddCore(e, c)
	}
	return ce
}

func (c *correlatingCore) Write(e zapcore.Entry, fields []zapcore.Field) error {
	return c.Core.Write(e, expandContext(fields))
}

// expandContext returns fields with every context.Context field replaced by
// ContextFields of that context. The input slice is not modified.
func expandContext(fields []zapcore.Field) []zapcore.Field {
	idx := -1
	for i := range fields {
		if _, ok := fields[i].Interface.(context.Context); ok {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fields
	}

	out := make([]zapcore.Field, 0, len(fields)+4)
	out = append(out, fields[:idx]...)
	for _, f := range fields[idx:] {
		if ctx, ok := f.Interface.(context.Context); ok {
			out = append(out, ContextFields(ctx)...)
			continue
		}
		out = append(out, f)
	}
	return out
}

// levelFilterCore gates a core that does not honor the configured level.
type levelFilterCore struct {
	zapcore.Core
	enabler zapcore.LevelEnabler
}

func (c *levelFilterCore) Enabled(lvl zapcore.Level) bool {
	return c.enabler.Enabled(lvl) && c.Core.Enabled(lvl)
}

func (c *levelFilterCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.enabler.Enabled(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

func (c *levelFilterCore) With(fields []zapcore.Field) zapcore.Core {
	return &levelFilterCore{
		Core:    c.Core.With(fields),
		enabler: c.enabler,
	}
}
