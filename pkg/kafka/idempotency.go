package kafka

import (
	"context"
	"log/slog"

	"github.com/utafrali/LoyaltyGo/pkg/idempotency"
)

// IdempotentHandler wraps a Handler with deduplication by EventID. Events
// already recorded in the store are skipped and nil is returned.
func IdempotentHandler(store idempotency.Store, inner Handler, logger *slog.Logger) Handler {
	return func(ctx context.Context, event *Event) error {
		if event.EventID == "" {
			return inner(ctx, event)
		}

		key := "event:" + event.EventID
		exists, err := store.Contains(ctx, key)
		if err != nil {
			// Processing twice is safer than dropping the event.
			logger.WarnContext(ctx, "idempotency store lookup failed, processing anyway",
				slog.String("event_id", event.EventID),
				slog.String("error", err.Error()),
			)
			return inner(ctx, event)
		}

		if exists {
			consumerDuplicates.WithLabelValues(event.EventType).Inc()
			logger.DebugContext(ctx, "skipping duplicate event",
				slog.String("event_id", event.EventID),
				slog.String("event_type", event.EventType),
				slog.String("aggregate_id", event.AggregateID),
			)
			return nil
		}

		if err := inner(ctx, event); err != nil {
			return err
		}

		if addErr := store.Add(ctx, key); addErr != nil {
			logger.WarnContext(ctx, "failed to record event ID in idempotency store",
				slog.String("event_id", event.EventID),
				slog.String("error", addErr.Error()),
			)
		}

		return nil
	}
}
