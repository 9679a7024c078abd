package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

const (
	testTraceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	testSpanID  = "00f067aa0ba902b7"
)

func spanContext(t *testing.T) context.Context {
	t.Helper()
	traceID, err := trace.TraceIDFromHex(testTraceID)
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex(testSpanID)
	require.NoError(t, err)
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	return trace.ContextWithSpanContext(context.Background(), sc)
}

func lastLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &out))
	return out
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"ERROR":   slog.LevelError,
		" warn ":  slog.LevelWarn,
		"verbose": slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), "level %q", in)
	}
}

func TestNewWithWriter_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("voucher-service", "warn", &buf)

	l.Info("voucher created")
	assert.Empty(t, buf.String())

	l.Warn("redemption contended")
	out := lastLine(t, &buf)
	assert.Equal(t, "voucher-service", out["service"])
	assert.Equal(t, "redemption contended", out["msg"])
}

func TestContextRecords_CarryRequestIdentifiers(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("voucher-service", "info", &buf)

	ctx := WithCorrelationID(spanContext(t), "corr-1")
	ctx = WithUserID(ctx, "cust-9")
	ctx = WithMerchantID(ctx, "merch-3")
	l.InfoContext(ctx, "voucher redeemed")

	out := lastLine(t, &buf)
	assert.Equal(t, "corr-1", out["correlation_id"])
	assert.Equal(t, "cust-9", out["user_id"])
	assert.Equal(t, "merch-3", out["merchant_id"])
	assert.Equal(t, testTraceID, out["trace_id"])
	assert.Equal(t, testSpanID, out["span_id"])
}

func TestContextRecords_OmitMissingIdentifiers(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("voucher-service", "info", &buf)

	l.InfoContext(context.Background(), "template listed")

	out := lastLine(t, &buf)
	for _, k := range []string{"correlation_id", "user_id", "merchant_id", "trace_id", "span_id"} {
		assert.NotContains(t, out, k)
	}
}

func TestWithContext_BindsIdentifiers(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("voucher-service", "info", &buf)

	ctx := WithCorrelationID(spanContext(t), "corr-2")
	bound := WithContext(ctx, l)
	bound.Info("no context on this call")

	out := lastLine(t, &buf)
	assert.Equal(t, "corr-2", out["correlation_id"])
	assert.Equal(t, testTraceID, out["trace_id"])
}

func TestWithContext_NoDuplicateKeys(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("voucher-service", "info", &buf)

	ctx := WithCorrelationID(context.Background(), "corr-3")
	WithContext(ctx, l).With(slog.String("voucher_id", "v-1")).InfoContext(ctx, "stats read")

	assert.Equal(t, 1, strings.Count(buf.String(), `"correlation_id"`))
	assert.Equal(t, "v-1", lastLine(t, &buf)["voucher_id"])
}

func TestWithContext_EmptyContextReturnsSameLogger(t *testing.T) {
	l := NewWithWriter("voucher-service", "info", &bytes.Buffer{})
	assert.Same(t, l, WithContext(context.Background(), l))
}

func TestWithContext_ForeignHandler(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(slog.NewJSONHandler(&buf, nil))

	WithContext(WithUserID(context.Background(), "cust-4"), l).Info("plain handler")

	assert.Equal(t, "cust-4", lastLine(t, &buf)["user_id"])
}

func TestContextAccessors(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, CorrelationIDFromContext(ctx))
	assert.Empty(t, UserIDFromContext(ctx))
	assert.Empty(t, MerchantIDFromContext(ctx))

	ctx = WithMerchantID(WithUserID(WithCorrelationID(ctx, "c"), "u"), "m")
	assert.Equal(t, "c", CorrelationIDFromContext(ctx))
	assert.Equal(t, "u", UserIDFromContext(ctx))
	assert.Equal(t, "m", MerchantIDFromContext(ctx))
}

func TestFromContext(t *testing.T) {
	assert.Same(t, slog.Default(), FromContext(context.Background()))

	l := NewWithWriter("voucher-service", "info", &bytes.Buffer{})
	assert.Same(t, l, FromContext(NewContext(context.Background(), l)))
}
