package database

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func spanRecorder(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))

	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	})
	return exporter
}

func spanAttrs(s tracetest.SpanStub) map[string]string {
	out := make(map[string]string, len(s.Attributes))
	for _, a := range s.Attributes {
		out[string(a.Key)] = a.Value.Emit()
	}
	return out
}

// businessRejection stands in for a domain rejection decided under lock.
type businessRejection struct{}

func (businessRejection) Error() string         { return "QUOTA_EXHAUSTED_PER_CUSTOMER" }
func (businessRejection) ExpectedOutcome() bool { return true }

func TestOutcome(t *testing.T) {
	lockTimeout := &pgconn.PgError{Code: "55P03"}

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, OutcomeOK},
		{"no rows", fmt.Errorf("get voucher code: %w", pgx.ErrNoRows), OutcomeNoRows},
		{"rejection", fmt.Errorf("redeem: %w", businessRejection{}), OutcomeRejected},
		{"lock timeout", fmt.Errorf("lock voucher: %w", lockTimeout), OutcomeContention},
		{"deadline", context.DeadlineExceeded, OutcomeContention},
		{"other", errors.New("connection reset"), OutcomeError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Outcome(tc.err))
		})
	}
}

func TestTraceQuery_RecordsSpan(t *testing.T) {
	exporter := spanRecorder(t)

	_, end := TraceQuery(context.Background(), "GetVoucherByCode", "SELECT ... FROM voucher_codes WHERE code = $1")
	end(nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "db.GetVoucherByCode", spans[0].Name)
	assert.Equal(t, codes.Unset, spans[0].Status.Code)

	attrs := spanAttrs(spans[0])
	assert.Equal(t, "postgresql", attrs["db.system"])
	assert.Equal(t, "GetVoucherByCode", attrs["db.operation"])
	assert.Equal(t, OutcomeOK, attrs["db.outcome"])
}

func TestTraceQuery_RejectionIsNotAFailedSpan(t *testing.T) {
	exporter := spanRecorder(t)

	_, end := TraceQuery(context.Background(), "RedeemVoucher", "SELECT ... FOR UPDATE")
	end(businessRejection{})

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Unset, spans[0].Status.Code)
	assert.Empty(t, spans[0].Events)
	assert.Equal(t, OutcomeRejected, spanAttrs(spans[0])["db.outcome"])
}

func TestTraceQuery_ContentionMarksSpanFailed(t *testing.T) {
	exporter := spanRecorder(t)

	_, end := TraceQuery(context.Background(), "RedeemVoucher", "SELECT ... FOR UPDATE")
	end(&pgconn.PgError{Code: "55P03", Message: "canceling statement due to lock timeout"})

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.NotEmpty(t, spans[0].Events)
	assert.Equal(t, OutcomeContention, spanAttrs(spans[0])["db.outcome"])
}

func TestTraceQuery_ChildOfCallerSpan(t *testing.T) {
	exporter := spanRecorder(t)

	ctx, parent := otel.Tracer("test").Start(context.Background(), "POST /vouchers/redeem")
	_, end := TraceQuery(ctx, "RedeemVoucher", "SELECT ... FOR UPDATE")
	end(nil)
	parent.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, spans[1].SpanContext.SpanID(), spans[0].Parent.SpanID())
}

func TestSlowQueryLogging(t *testing.T) {
	spanRecorder(t)
	t.Cleanup(func() { SetSlowQueryLogging(0, nil) })

	var buf bytes.Buffer
	SetSlowQueryLogging(time.Nanosecond, slog.New(slog.NewJSONHandler(&buf, nil)))

	_, end := TraceQuery(context.Background(), "VoucherStats", "SELECT count(*) FROM voucher_usages")
	end(errors.New("statement timeout"))

	out := buf.String()
	assert.Contains(t, out, "slow query detected")
	assert.Contains(t, out, "VoucherStats")
	assert.Contains(t, out, "voucher_usages")
	assert.Contains(t, out, "statement timeout")
	assert.Contains(t, out, `"outcome":"error"`)
}

func TestSlowQueryLogging_BelowThreshold(t *testing.T) {
	spanRecorder(t)
	t.Cleanup(func() { SetSlowQueryLogging(0, nil) })

	var buf bytes.Buffer
	SetSlowQueryLogging(time.Hour, slog.New(slog.NewJSONHandler(&buf, nil)))

	_, end := TraceQuery(context.Background(), "GetVoucher", "SELECT 1")
	end(nil)

	assert.Empty(t, buf.String())
}

func TestSlowQueryLogging_DisabledWithoutLogger(t *testing.T) {
	spanRecorder(t)
	SetSlowQueryLogging(0, nil)

	_, end := TraceQuery(context.Background(), "GetVoucher", "SELECT 1")
	assert.NotPanics(t, func() { end(nil) })
}

func TestSetSlowQueryLogging_ConcurrentWithQueries(t *testing.T) {
	spanRecorder(t)
	t.Cleanup(func() { SetSlowQueryLogging(0, nil) })
	logger := slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			SetSlowQueryLogging(time.Duration(i)*time.Hour, logger)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			_, end := TraceQuery(context.Background(), "GetVoucher", "SELECT 1")
			end(nil)
		}
	}()
	wg.Wait()
}
