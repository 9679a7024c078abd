package kafka

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const remoteTraceparent = "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"

func useTraceContext(t *testing.T) {
	t.Helper()
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })
}

func TestHeaderCarrier(t *testing.T) {
	msg := &kafka.Message{Headers: []kafka.Header{
		{Key: HeaderEventType, Value: []byte("voucher.redeemed")},
		{Key: "traceparent", Value: []byte("stale")},
	}}
	c := headerCarrier{msg}

	assert.Equal(t, "voucher.redeemed", c.Get(HeaderEventType))
	assert.Empty(t, c.Get("missing"))

	c.Set("traceparent", remoteTraceparent)
	c.Set("tracestate", "vendor=1")

	assert.Equal(t, remoteTraceparent, c.Get("traceparent"))
	assert.ElementsMatch(t, []string{HeaderEventType, "traceparent", "tracestate"}, c.Keys())
	assert.Len(t, msg.Headers, 3)
}

func TestHeaderCarrier_Empty(t *testing.T) {
	c := headerCarrier{&kafka.Message{}}
	assert.Empty(t, c.Keys())
	assert.Empty(t, c.Get("traceparent"))
}

func TestTraceContext_RoundTripsThroughHeaders(t *testing.T) {
	useTraceContext(t)

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	producerCtx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	msg := &kafka.Message{Topic: "voucher.events"}
	injectTraceContext(producerCtx, msg)
	require.Equal(t, remoteTraceparent, headerCarrier{msg}.Get("traceparent"))

	consumed := trace.SpanContextFromContext(extractTraceContext(context.Background(), msg))
	assert.True(t, consumed.IsRemote())
	assert.Equal(t, traceID, consumed.TraceID())
	assert.Equal(t, spanID, consumed.SpanID())
}

func TestTraceContext_ReinjectReplacesHeader(t *testing.T) {
	useTraceContext(t)

	msg := &kafka.Message{Headers: []kafka.Header{{Key: "traceparent", Value: []byte(remoteTraceparent)}}}
	ctx := extractTraceContext(context.Background(), msg)
	injectTraceContext(ctx, msg)

	count := 0
	for _, h := range msg.Headers {
		if h.Key == "traceparent" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}
