package redpanda

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestTraceHeadersRoundTrip(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	record := &kgo.Record{Topic: "t"}
	injectTraceHeaders(ctx, record)
	require.Len(t, record.Headers, 1)
	assert.Equal(t, "traceparent", record.Headers[0].Key)

	got := trace.SpanContextFromContext(extractTraceContext(context.Background(), record))
	assert.Equal(t, traceID, got.TraceID())
	assert.Equal(t, spanID, got.SpanID())
}

func TestHeaderCarrierSetReplaces(t *testing.T) {
	record := &kgo.Record{}
	c := headerCarrier{record}
	c.Set("a", "1")
	c.Set("a", "2")
	c.Set("b", "3")

	assert.Equal(t, "2", c.Get("a"))
	assert.Equal(t, []string{"a", "b"}, c.Keys())
	assert.Empty(t, c.Get("missing"))
}

func TestEventTopics(t *testing.T) {
	topics := EventTopics("intake.wizard-events", "intake.wizard-events.dead-letter")
	require.Len(t, topics, 2)
	assert.Equal(t, "intake.wizard-events", topics[0].Name)
	assert.Equal(t, "intake.wizard-events.dead-letter", topics[1].Name)
	assert.Equal(t, "delete", *topics[0].Configs["cleanup.policy"])
}

func TestProducerConfigOptions(t *testing.T) {
	cfg := DefaultProducerConfig([]string{"localhost:9092"})
	assert.Equal(t, int16(-1), cfg.RequiredAcks)
	assert.NotEmpty(t, cfg.opts())

	_, err := NewConsumer(ConsumerConfig{Brokers: cfg.Brokers, Topics: []string{"t"}}, nil, nil)
	assert.Error(t, err)
}
