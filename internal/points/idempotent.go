package points

import (
	"context"
	"log/slog"

	"github.com/utafrali/LoyaltyGo/pkg/idempotency"
)

// IdempotentGateway skips transfers whose idempotency key already completed.
// The ledger deduplicates as well; the local store saves the round trip on
// replays and covers ledgers that only honor keys for a limited window.
type IdempotentGateway struct {
	inner  Gateway
	store  idempotency.Store
	logger *slog.Logger
}

// NewIdempotentGateway wraps inner with store-backed deduplication.
func NewIdempotentGateway(inner Gateway, store idempotency.Store, logger *slog.Logger) *IdempotentGateway {
	return &IdempotentGateway{inner: inner, store: store, logger: logger}
}

// Earn credits points once per idempotency key.
func (g *IdempotentGateway) Earn(ctx context.Context, t Transfer) error {
	return g.once(ctx, "earn:", t, g.inner.Earn)
}

// Redeem debits points once per idempotency key.
func (g *IdempotentGateway) Redeem(ctx context.Context, t Transfer) error {
	return g.once(ctx, "redeem:", t, g.inner.Redeem)
}

func (g *IdempotentGateway) once(ctx context.Context, prefix string, t Transfer, call func(context.Context, Transfer) error) error {
	if t.IdempotencyKey == "" {
		return call(ctx, t)
	}
	key := prefix + t.IdempotencyKey

	done, err := g.store.Contains(ctx, key)
	if err != nil {
		// the ledger still deduplicates by header
		g.logger.WarnContext(ctx, "idempotency store lookup failed, calling ledger",
			slog.String("idempotency_key", t.IdempotencyKey),
			slog.String("error", err.Error()),
		)
	} else if done {
		g.logger.DebugContext(ctx, "skipping completed points transfer",
			slog.String("idempotency_key", t.IdempotencyKey),
		)
		return nil
	}

	if err := call(ctx, t); err != nil {
		return err
	}

	if err := g.store.Add(ctx, key); err != nil {
		g.logger.WarnContext(ctx, "failed to record points transfer",
			slog.String("idempotency_key", t.IdempotencyKey),
			slog.String("error", err.Error()),
		)
	}
	return nil
}
