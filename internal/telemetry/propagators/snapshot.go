package propagators

import (
	"context"
	"maps"

	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/trace"
)

// Snapshot is a copy of the propagation state of one logical call.
type Snapshot struct {
	TraceID trace.TraceID
	SpanID  trace.SpanID
	Sampled bool
	Baggage map[string]string
}

// FromContext captures the span context and baggage active in ctx.
func FromContext(ctx context.Context) Snapshot {
	sc := trace.SpanContextFromContext(ctx)
	s := Snapshot{
		TraceID: sc.TraceID(),
		SpanID:  sc.SpanID(),
		Sampled: sc.IsSampled(),
	}

	members := baggage.FromContext(ctx).Members()
	if len(members) > 0 {
		s.Baggage = make(map[string]string, len(members))
		for _, m := range members {
			s.Baggage[m.Key()] = m.Value()
		}
	}
	return s
}

// Valid reports whether the snapshot carries a trace identity.
func (s Snapshot) Valid() bool {
	return s.TraceID.IsValid() && s.SpanID.IsValid()
}

// WithBaggage returns a copy of s with key set to value. s is not modified.
func (s Snapshot) WithBaggage(key, value string) Snapshot {
	out := s
	out.Baggage = make(map[string]string, len(s.Baggage)+1)
	maps.Copy(out.Baggage, s.Baggage)
	out.Baggage[key] = value
	return out
}

// ContextWith returns ctx carrying s as a remote span context and baggage.
// Baggage entries that are not valid W3C members are skipped.
func (s Snapshot) ContextWith(ctx context.Context) context.Context {
	if s.Valid() {
		var flags trace.TraceFlags
		if s.Sampled {
			flags = trace.FlagsSampled
		}
		ctx = trace.ContextWithRemoteSpanContext(ctx, trace.NewSpanContext(trace.SpanContextConfig{
			TraceID:    s.TraceID,
			SpanID:     s.SpanID,
			TraceFlags: flags,
			Remote:     true,
		}))
	}

	if len(s.Baggage) == 0 {
		return ctx
	}
	members := make([]baggage.Member, 0, len(s.Baggage))
	for k, v := range s.Baggage {
		m, err := baggage.NewMemberRaw(k, v)
		if err != nil {
			continue
		}
		members = append(members, m)
	}
	if bag, err := baggage.New(members...); err == nil {
		ctx = baggage.ContextWithBaggage(ctx, bag)
	}
	return ctx
}
