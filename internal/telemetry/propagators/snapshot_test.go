package propagators

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestSnapshot_ContextRoundTrip(t *testing.T) {
	sc := spanContext(t, standardTrace, standardSpan)
	bag, _ := baggage.Parse("tenant=acme")
	ctx := baggage.ContextWithBaggage(trace.ContextWithSpanContext(context.Background(), sc), bag)

	snap := FromContext(ctx)
	assert.True(t, snap.Valid())
	assert.True(t, snap.Sampled)
	assert.Equal(t, map[string]string{"tenant": "acme"}, snap.Baggage)

	restored := snap.ContextWith(context.Background())
	got := trace.SpanContextFromContext(restored)
	assert.Equal(t, sc.TraceID(), got.TraceID())
	assert.Equal(t, sc.SpanID(), got.SpanID())
	assert.True(t, got.IsRemote())
	assert.Equal(t, "acme", baggage.FromContext(restored).Member("tenant").Value())
}

func TestSnapshot_WithBaggageCopies(t *testing.T) {
	orig := Snapshot{Baggage: map[string]string{"a": "1"}}

	next := orig.WithBaggage("b", "2")

	assert.Equal(t, map[string]string{"a": "1"}, orig.Baggage)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, next.Baggage)
}

func TestSnapshot_EmptyContext(t *testing.T) {
	snap := FromContext(context.Background())
	assert.False(t, snap.Valid())
	assert.Nil(t, snap.Baggage)

	ctx := snap.ContextWith(context.Background())
	assert.False(t, trace.SpanContextFromContext(ctx).IsValid())
}

func TestSnapshot_SurvivesChain(t *testing.T) {
	snap := FromContext(trace.ContextWithSpanContext(context.Background(),
		spanContext(t, standardTrace, standardSpan))).WithBaggage("user", "42")

	carrier := propagation.MapCarrier{}
	Default().Inject(snap.ContextWith(context.Background()), carrier)
	got := FromContext(Default().Extract(context.Background(), carrier))

	assert.Equal(t, snap, got)
}
