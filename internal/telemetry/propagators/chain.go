// Package propagators composes trace-context codecs into a single
// propagator that injects every format and extracts by priority.
package propagators

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/contrib/propagators/b3"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Codec names accepted by FromNames.
const (
	TraceContext = "tracecontext"
	Baggage      = "baggage"
	B3           = "b3"
	B3Multi      = "b3multi"
)

// DefaultNames is the codec order used when none is configured.
var DefaultNames = []string{TraceContext, Baggage, B3}

// Chain is an ordered list of codecs.
//
// Inject writes the context with every codec so one outgoing carrier
// satisfies all downstream formats. Extract takes trace identity from the
// first codec that recognizes the carrier, and baggage from the first codec
// that yields any. Unlike propagation.NewCompositeTextMapPropagator, a
// later codec never overrides an earlier one.
type Chain struct {
	codecs []propagation.TextMapPropagator
}

var _ propagation.TextMapPropagator = Chain{}

// New returns a chain trying codecs in the given order.
func New(codecs ...propagation.TextMapPropagator) Chain {
	return Chain{codecs: append([]propagation.TextMapPropagator(nil), codecs...)}
}

// Default returns W3C trace-context, W3C baggage and single-header B3.
func Default() Chain {
	c, _ := FromNames(DefaultNames)
	return c
}

// FromNames builds a chain from codec names in priority order.
func FromNames(names []string) (Chain, error) {
	if len(names) == 0 {
		names = DefaultNames
	}

	seen := make(map[string]bool, len(names))
	codecs := make([]propagation.TextMapPropagator, 0, len(names))
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		if seen[name] {
			return Chain{}, fmt.Errorf("propagator %q listed twice", name)
		}
		seen[name] = true

		codec, err := codecFor(name)
		if err != nil {
			return Chain{}, err
		}
		codecs = append(codecs, codec)
	}
	if seen[B3] && seen[B3Multi] {
		return Chain{}, fmt.Errorf("propagators %q and %q both write B3 headers", B3, B3Multi)
	}
	return New(codecs...), nil
}

func codecFor(name string) (propagation.TextMapPropagator, error) {
	switch name {
	case TraceContext:
		return propagation.TraceContext{}, nil
	case Baggage:
		return propagation.Baggage{}, nil
	case B3:
		return b3.New(b3.WithInjectEncoding(b3.B3SingleHeader)), nil
	case B3Multi:
		return b3.New(b3.WithInjectEncoding(b3.B3MultipleHeader)), nil
	default:
		return nil, fmt.Errorf("unknown propagator %q", name)
	}
}

// Inject writes ctx into carrier with every codec.
func (c Chain) Inject(ctx context.Context, carrier propagation.TextMapCarrier) {
	for _, codec := range c.codecs {
		codec.Inject(ctx, carrier)
	}
}

// Extract returns ctx carrying the remote span context and baggage found in
// carrier. If no codec yields a span context, any span already in ctx is
// cleared so the next span started from it is a new root.
func (c Chain) Extract(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	var (
		sc     trace.SpanContext
		bag    baggage.Baggage
		hasBag bool
	)

	for _, codec := range c.codecs {
		if sc.IsValid() && hasBag {
			break
		}
		probe := codec.Extract(context.Background(), carrier)

		if !sc.IsValid() {
			if found := trace.SpanContextFromContext(probe); found.IsValid() {
				sc = found
			}
		}
		if !hasBag {
			if found := baggage.FromContext(probe); found.Len() > 0 {
				bag, hasBag = found, true
			}
		}
	}

	if sc.IsValid() {
		ctx = trace.ContextWithRemoteSpanContext(ctx, sc)
	} else if trace.SpanContextFromContext(ctx).IsValid() {
		ctx = trace.ContextWithSpanContext(ctx, trace.SpanContext{})
	}
	if hasBag {
		ctx = baggage.ContextWithBaggage(ctx, bag)
	}
	return ctx
}

// Fields returns the carrier keys written by every codec.
func (c Chain) Fields() []string {
	seen := make(map[string]bool)
	var fields []string
	for _, codec := range c.codecs {
		for _, f := range codec.Fields() {
			if !seen[f] {
				seen[f] = true
				fields = append(fields, f)
			}
		}
	}
	return fields
}

// Len returns the number of codecs.
func (c Chain) Len() int {
	return len(c.codecs)
}
