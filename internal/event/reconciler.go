package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/utafrali/LoyaltyGo/internal/domain"
	"github.com/utafrali/LoyaltyGo/internal/points"
	"github.com/utafrali/LoyaltyGo/pkg/idempotency"
	pkgkafka "github.com/utafrali/LoyaltyGo/pkg/kafka"
)

// CreditReconciler retries points credits that failed after their
// redemption was committed.
type CreditReconciler struct {
	gateway points.Gateway
	logger  *slog.Logger
}

// NewCreditReconciler creates a reconciler that credits through gateway.
func NewCreditReconciler(gateway points.Gateway, logger *slog.Logger) *CreditReconciler {
	return &CreditReconciler{gateway: gateway, logger: logger}
}

// Handle processes one credit_pending event. A returned error makes the
// consumer retry and eventually dead-letter the message. Payloads that can
// never be credited are dead-lettered without retries.
func (r *CreditReconciler) Handle(ctx context.Context, event *pkgkafka.Event) error {
	var credit domain.PendingCredit
	if err := event.UnmarshalData(&credit); err != nil {
		return pkgkafka.Permanent(fmt.Errorf("decode pending credit %s: %w", event.EventID, err))
	}
	if credit.IdempotencyKey == "" || credit.Amount <= 0 {
		return pkgkafka.Permanent(fmt.Errorf("pending credit for usage %s has no idempotency key or amount", credit.UsageID))
	}

	err := r.gateway.Earn(ctx, points.Transfer{
		CustomerID:     credit.CustomerID,
		MerchantID:     credit.MerchantID,
		Amount:         credit.Amount,
		IdempotencyKey: credit.IdempotencyKey,
		Reason:         "voucher:" + credit.VoucherID,
	})
	if err != nil {
		return fmt.Errorf("reconcile credit for usage %s: %w", credit.UsageID, err)
	}

	r.logger.InfoContext(ctx, "pending points credit reconciled",
		slog.String("voucher_id", credit.VoucherID),
		slog.String("usage_id", credit.UsageID),
		slog.String("customer_id", credit.CustomerID),
		slog.Int64("amount", credit.Amount),
	)
	return nil
}

// Handler returns the reconciler as a consumer handler deduplicated by
// event id.
func (r *CreditReconciler) Handler(store idempotency.Store) pkgkafka.Handler {
	return pkgkafka.IdempotentHandler(store, r.Handle, r.logger)
}
