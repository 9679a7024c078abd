package database

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/utafrali/LoyaltyGo/pkg/database"

// Query outcomes recorded on spans and in db_query_duration_seconds.
const (
	OutcomeOK         = "ok"
	OutcomeNoRows     = "no_rows"
	OutcomeRejected   = "rejected"
	OutcomeContention = "contention"
	OutcomeError      = "error"
)

var queryDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "db_query_duration_seconds",
		Help:    "Duration of traced database operations",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 1.5, 3},
	},
	[]string{"operation", "outcome"},
)

// expectedOutcome is implemented by errors that end an operation normally,
// such as a redemption rejected by business rules while the rows were locked.
type expectedOutcome interface {
	ExpectedOutcome() bool
}

var slowQuery struct {
	mu        sync.RWMutex
	threshold time.Duration
	logger    *slog.Logger
}

// SetSlowQueryLogging logs operations slower than threshold as warnings.
// A zero threshold disables it.
func SetSlowQueryLogging(threshold time.Duration, logger *slog.Logger) {
	slowQuery.mu.Lock()
	defer slowQuery.mu.Unlock()
	slowQuery.threshold = threshold
	slowQuery.logger = logger
}

func slowQuerySettings() (time.Duration, *slog.Logger) {
	slowQuery.mu.RLock()
	defer slowQuery.mu.RUnlock()
	return slowQuery.threshold, slowQuery.logger
}

// Outcome classifies the error an operation ended with.
func Outcome(err error) string {
	var expected expectedOutcome
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, pgx.ErrNoRows):
		return OutcomeNoRows
	case IsContention(err) || errors.Is(err, context.DeadlineExceeded):
		return OutcomeContention
	case errors.As(err, &expected) && expected.ExpectedOutcome():
		return OutcomeRejected
	default:
		return OutcomeError
	}
}

// TraceQuery starts a client span for a database operation and returns a
// function that ends it:
//
//	ctx, end := database.TraceQuery(ctx, "RedeemVoucher", "SELECT ... FOR UPDATE")
//	defer func() { end(err) }()
//
// Only contention and unexpected errors mark the span as failed.
func TraceQuery(ctx context.Context, operation, statement string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "db."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", operation),
			attribute.String("db.statement", statement),
		),
	)

	return ctx, func(err error) {
		elapsed := time.Since(start)
		outcome := Outcome(err)

		span.SetAttributes(attribute.String("db.outcome", outcome))
		if outcome == OutcomeContention || outcome == OutcomeError {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		queryDuration.WithLabelValues(operation, outcome).Observe(elapsed.Seconds())

		threshold, logger := slowQuerySettings()
		if threshold <= 0 || logger == nil || elapsed < threshold {
			return
		}
		attrs := []any{
			slog.String("operation", operation),
			slog.String("statement", statement),
			slog.String("outcome", outcome),
			slog.Duration("duration", elapsed),
		}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		logger.WarnContext(ctx, "slow query detected", attrs...)
	}
}
