package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/utafrali/LoyaltyGo/internal/domain"
	"github.com/utafrali/LoyaltyGo/internal/points"
	"github.com/utafrali/LoyaltyGo/internal/repository"
	apperrors "github.com/utafrali/LoyaltyGo/pkg/errors"
)

// RedeemInput holds the parameters of a redemption attempt.
type RedeemInput struct {
	Code           string
	MerchantID     string
	CustomerID     string
	PurchaseAmount *decimal.Decimal
	// AttemptID identifies the attempt across retries. OrderID is used when
	// it is empty; a fresh id is generated when both are.
	AttemptID string
	OrderID   string
	Metadata  map[string]any
}

// PreviewInput holds the parameters of a redemption preview.
type PreviewInput struct {
	Code           string
	MerchantID     string
	PurchaseAmount *decimal.Decimal
}

// Redeem validates the attempt, records the usage and moves the quota
// counters atomically, then credits points when the reward calls for it.
// A credit failure after the commit is reported as a partial failure; the
// credit is queued for reconciliation and the caller may retry with the same
// attempt id.
func (s *VoucherService) Redeem(ctx context.Context, input *RedeemInput) (*domain.Redemption, error) {
	start := time.Now()
	defer func() { redemptionDuration.Observe(time.Since(start).Seconds()) }()

	if input.MerchantID == "" {
		return nil, apperrors.InvalidInput("merchantId is required")
	}
	if input.PurchaseAmount != nil && input.PurchaseAmount.IsNegative() {
		return nil, apperrors.InvalidInput("purchaseAmount must not be negative")
	}

	attemptID := firstNonEmpty(input.AttemptID, input.OrderID, uuid.New().String())
	now := s.now()
	attempt := domain.RedemptionAttempt{
		MerchantID:     input.MerchantID,
		CustomerID:     input.CustomerID,
		PurchaseAmount: input.PurchaseAmount,
		Now:            now,
	}

	redeemCtx, cancel := context.WithTimeout(ctx, s.cfg.RedeemTimeout)
	defer cancel()

	out, err := s.repo.Redeem(redeemCtx, repository.RedeemRequest{
		Code:           normalizeCode(input.Code),
		MerchantID:     input.MerchantID,
		CustomerID:     input.CustomerID,
		AttemptID:      attemptID,
		PurchaseAmount: input.PurchaseAmount,
		Metadata:       input.Metadata,
		UsageID:        uuid.New().String(),
		Now:            now,
		LockTimeout:    s.cfg.LockTimeout,
	}, func(snapshot domain.RedemptionSnapshot) (domain.Reward, error) {
		return domain.EvaluateRedemption(snapshot, attempt)
	})
	if err != nil {
		if rej, ok := domain.AsRejection(err); ok {
			redemptionsTotal.WithLabelValues(kindUnknown, strings.ToLower(string(rej.Kind))).Inc()
			s.logger.InfoContext(ctx, "redemption rejected",
				slog.String("customer_id", input.CustomerID),
				slog.String("merchant_id", input.MerchantID),
				slog.String("attempt_id", attemptID),
				slog.String("reason", string(rej.Kind)),
			)
			return nil, err
		}
		redemptionsTotal.WithLabelValues(kindUnknown, outcomeError).Inc()
		return nil, fmt.Errorf("redeem voucher: %w", err)
	}

	v, usage := out.Voucher, out.Usage
	reward := domain.Reward{
		ValueType:    v.ValueType,
		Amount:       usage.GrantedAmount,
		CreditPoints: domain.ShouldCreditPoints(v.Kind, v.ValueType),
	}
	result := &domain.Redemption{
		Usage:     usage,
		Voucher:   v.View(),
		Reward:    reward,
		Replayed:  out.Replayed,
		Remaining: v.RemainingQuantity,
	}

	if out.Replayed {
		redemptionsTotal.WithLabelValues(string(v.Kind), outcomeReplayed).Inc()
		s.logger.InfoContext(ctx, "redemption replayed",
			slog.String("voucher_id", v.ID),
			slog.String("usage_id", usage.ID),
			slog.String("attempt_id", attemptID),
		)
	} else {
		redemptionsTotal.WithLabelValues(string(v.Kind), outcomeSuccess).Inc()
		if err := s.events.PublishVoucherRedeemed(ctx, v, usage); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish voucher.redeemed event",
				slog.String("voucher_id", v.ID),
				slog.String("usage_id", usage.ID),
				slog.String("error", err.Error()),
			)
		}
		s.logger.InfoContext(ctx, "voucher redeemed",
			slog.String("voucher_id", v.ID),
			slog.String("code_id", usage.CodeID),
			slog.String("customer_id", usage.CustomerID),
			slog.String("attempt_id", attemptID),
			slog.Int64("granted", usage.GrantedAmount),
			slog.Int("remaining", v.RemainingQuantity),
		)
	}

	if reward.CreditPoints && reward.Amount > 0 {
		if err := s.creditPoints(ctx, v, usage); err != nil {
			return nil, err
		}
	}

	return result, nil
}

// creditPoints credits the reward of a committed usage. On failure the
// credit is handed to the reconciler and a partial failure is returned.
func (s *VoucherService) creditPoints(ctx context.Context, v *domain.Voucher, usage *domain.VoucherUsage) error {
	key := domain.CreditKey(v.ID, usage.CodeID, usage.CustomerID, usage.AttemptID)

	err := s.points.Earn(ctx, points.Transfer{
		CustomerID:     usage.CustomerID,
		MerchantID:     v.MerchantID,
		Amount:         usage.GrantedAmount,
		IdempotencyKey: key,
		Reason:         "voucher:" + v.ID,
	})
	if err == nil {
		pointsCreditTotal.WithLabelValues("success").Inc()
		return nil
	}
	pointsCreditTotal.WithLabelValues("failed").Inc()

	s.logger.ErrorContext(ctx, "points credit failed after redemption",
		slog.String("voucher_id", v.ID),
		slog.String("usage_id", usage.ID),
		slog.String("customer_id", usage.CustomerID),
		slog.String("attempt_id", usage.AttemptID),
		slog.String("error", err.Error()),
	)

	pending := &domain.PendingCredit{
		VoucherID:      v.ID,
		CodeID:         usage.CodeID,
		UsageID:        usage.ID,
		CustomerID:     usage.CustomerID,
		MerchantID:     v.MerchantID,
		AttemptID:      usage.AttemptID,
		Amount:         usage.GrantedAmount,
		IdempotencyKey: key,
	}
	if pubErr := s.events.PublishCreditPending(context.WithoutCancel(ctx), pending); pubErr != nil {
		s.logger.ErrorContext(ctx, "failed to queue pending points credit",
			slog.String("usage_id", usage.ID),
			slog.String("error", pubErr.Error()),
		)
	}

	return domain.Reject(domain.RejectPartialFailurePointsCredit, domain.MsgCreditPending).
		WithDetails(map[string]any{
			"attemptId": usage.AttemptID,
			"amount":    usage.GrantedAmount,
		}).
		WithCause(err)
}

// CheckCode reports whether a code is currently redeemable without changing
// anything. Rejections are returned as an invalid verdict, not an error.
func (s *VoucherService) CheckCode(ctx context.Context, code, merchantID string) (*domain.CheckResult, error) {
	v, c, err := s.lookupCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("check code: %w", err)
	}

	result := domain.Verdict(v, c, merchantID, s.now())
	if result.Valid {
		checkRequestsTotal.WithLabelValues("valid").Inc()
	} else {
		checkRequestsTotal.WithLabelValues("invalid").Inc()
	}
	return result, nil
}

// PreviewRedemption quotes the reward a redemption would grant.
func (s *VoucherService) PreviewRedemption(ctx context.Context, input *PreviewInput) (*domain.Quote, error) {
	previewRequestsTotal.Inc()

	if input.MerchantID == "" {
		return nil, apperrors.InvalidInput("merchantId is required")
	}
	if input.PurchaseAmount != nil && input.PurchaseAmount.IsNegative() {
		return nil, apperrors.InvalidInput("purchaseAmount must not be negative")
	}

	v, c, err := s.lookupCode(ctx, input.Code)
	if err != nil {
		return nil, fmt.Errorf("preview redemption: %w", err)
	}

	reward, err := domain.Preview(v, c, domain.RedemptionAttempt{
		MerchantID:     input.MerchantID,
		PurchaseAmount: input.PurchaseAmount,
		Now:            s.now(),
	})
	if err != nil {
		return nil, err
	}
	return &domain.Quote{Amount: reward.Amount, CreditPoints: reward.CreditPoints, Voucher: v.View()}, nil
}

// lookupCode loads a code and its voucher. An unknown code yields nil values
// and no error so the guard chain reports it.
func (s *VoucherService) lookupCode(ctx context.Context, code string) (*domain.Voucher, *domain.VoucherCode, error) {
	type found struct {
		v *domain.Voucher
		c *domain.VoucherCode
	}
	f, err := retryRead(ctx, s.retryBackoff, func(ctx context.Context) (found, error) {
		v, c, err := s.repo.GetByCode(ctx, normalizeCode(code))
		return found{v: v, c: c}, err
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	return f.v, f.c, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
