package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/utafrali/LoyaltyGo/pkg/logger"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func headerValue(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestNewEvent_Fields(t *testing.T) {
	type redeemed struct {
		VoucherID string `json:"voucher_id"`
		Granted   int64  `json:"granted"`
	}

	data := redeemed{VoucherID: "v-1", Granted: 500}
	event, err := NewEvent("voucher.redeemed", "v-1", "voucher", "voucher-service", data)
	require.NoError(t, err)

	assert.NotEmpty(t, event.EventID)
	assert.Equal(t, "voucher.redeemed", event.EventType)
	assert.Equal(t, "v-1", event.AggregateID)
	assert.Equal(t, 1, event.Version)
	assert.WithinDuration(t, time.Now().UTC(), event.Timestamp, 2*time.Second)

	var got redeemed
	require.NoError(t, event.UnmarshalData(&got))
	assert.Equal(t, data, got)
}

func TestNewEvent_InvalidData(t *testing.T) {
	_, err := NewEvent("test.event", "agg-1", "test", "test-service", make(chan int))
	require.Error(t, err)
}

func TestEvent_MarshalRoundTrip(t *testing.T) {
	original, err := NewEvent("voucher.created", "v-2", "voucher", "voucher-service", map[string]string{"name": "Welcome"})
	require.NoError(t, err)
	original.WithCorrelationID("corr-abc").WithMetadata("merchant_id", "m-1")

	raw, err := original.Marshal()
	require.NoError(t, err)

	restored, err := UnmarshalEvent(raw)
	require.NoError(t, err)
	assert.Equal(t, original.EventID, restored.EventID)
	assert.Equal(t, "corr-abc", restored.CorrelationID)
	assert.Equal(t, "m-1", restored.Metadata["merchant_id"])
	assert.JSONEq(t, `{"name":"Welcome"}`, string(restored.Data))

	_, err = UnmarshalEvent([]byte("{not json"))
	require.Error(t, err)
}

func TestTopic(t *testing.T) {
	assert.Equal(t, "loyalty", TopicPrefix)
	assert.Equal(t, "loyalty.voucher.redeemed", Topic("voucher", "redeemed"))
	assert.Equal(t, "loyalty.dlq.loyalty.voucher.credit_pending", DLQTopic(Topic("voucher", "credit_pending")))
}

func TestProducer_Publish_WritesHeadersAndTraceContext(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, span := tp.Tracer("test").Start(context.Background(), "redeem")
	defer span.End()

	w := &fakeWriter{}
	p := &Producer{writer: w, logger: testLogger()}

	event, err := NewEvent("voucher.redeemed", "v-1", "voucher", "voucher-service", map[string]int{"granted": 500})
	require.NoError(t, err)
	event.WithCorrelationID("corr-1")

	require.NoError(t, p.Publish(ctx, "loyalty.voucher.redeemed", event))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "loyalty.voucher.redeemed", msg.Topic)
	assert.Equal(t, []byte("v-1"), msg.Key)
	assert.Equal(t, "voucher.redeemed", headerValue(msg, "event_type"))
	assert.Equal(t, "corr-1", headerValue(msg, "correlation_id"))
	assert.Contains(t, headerValue(msg, "traceparent"), span.SpanContext().TraceID().String())

	var decoded Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, event.EventID, decoded.EventID)
}

func TestProducer_Publish_WriteError(t *testing.T) {
	w := &fakeWriter{err: errors.New("leader not available")}
	p := &Producer{writer: w, logger: testLogger()}

	event, err := NewEvent("voucher.created", "v-1", "voucher", "voucher-service", nil)
	require.NoError(t, err)

	err = p.Publish(context.Background(), "loyalty.voucher.created", event)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish event to loyalty.voucher.created")
}

func TestProducer_Publish_InheritsCorrelationFromContext(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{writer: w, logger: testLogger()}

	event, err := NewEvent("voucher.credit_pending", "v-9", "voucher", "voucher-service", map[string]string{"attempt_id": "a-1"})
	require.NoError(t, err)

	ctx := logger.WithCorrelationID(context.Background(), "req-77")
	require.NoError(t, p.Publish(ctx, "loyalty.voucher.credit_pending", event))

	msg := w.msgs[0]
	assert.Equal(t, "req-77", headerValue(msg, HeaderCorrelationID))
	assert.Equal(t, event.EventID, headerValue(msg, HeaderEventID))
	assert.Equal(t, "voucher-service", headerValue(msg, HeaderSource))

	restored, err := UnmarshalEvent(msg.Value)
	require.NoError(t, err)
	assert.Equal(t, "req-77", restored.CorrelationID)
}

func TestProducer_Publish_ExplicitCorrelationWins(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{writer: w, logger: testLogger()}

	event, err := NewEvent("voucher.updated", "v-1", "voucher", "voucher-service", nil)
	require.NoError(t, err)
	event.WithCorrelationID("from-event")

	require.NoError(t, p.Publish(logger.WithCorrelationID(context.Background(), "from-ctx"), "loyalty.voucher.updated", event))
	assert.Equal(t, "from-event", headerValue(w.msgs[0], HeaderCorrelationID))
}

func TestDefaultProducerConfig(t *testing.T) {
	cfg := DefaultProducerConfig([]string{"kafka:9092"})
	assert.Equal(t, []string{"kafka:9092"}, cfg.Brokers)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.WriteTimeout)
}

func TestPingBrokers_NoBrokers(t *testing.T) {
	err := PingBrokers(t.Context(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no brokers configured")
}
