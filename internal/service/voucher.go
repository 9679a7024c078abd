package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/utafrali/LoyaltyGo/internal/domain"
	"github.com/utafrali/LoyaltyGo/internal/points"
	"github.com/utafrali/LoyaltyGo/internal/repository"
	apperrors "github.com/utafrali/LoyaltyGo/pkg/errors"
)

// CreateVoucherInput holds the parameters for creating a voucher campaign.
// Zero values of the optional fields take their defaults.
type CreateVoucherInput struct {
	MerchantID            string
	Kind                  domain.Kind
	Name                  string
	Description           string
	ValueType             domain.ValueType
	Value                 int64
	Quantity              int
	ValidFrom             *time.Time
	ValidUntil            *time.Time
	MinPurchaseAmount     decimal.Decimal
	MaxUsesPerCustomer    int
	MaxTotalUses          int
	ApplicableProductIDs  []string
	ApplicableCategoryIDs []string
	Metadata              map[string]any
}

// CreateGiftCardInput holds the parameters for issuing a gift card.
type CreateGiftCardInput struct {
	MerchantID     string
	PurchaserID    string
	Value          int64
	Name           string
	Description    string
	ValidUntil     *time.Time
	RecipientName  string
	RecipientPhone string
	RecipientEmail string
	SenderName     string
	Message        string
}

// UpdateVoucherInput holds a partial update of a voucher's mutable fields.
type UpdateVoucherInput struct {
	Name                  *string
	Description           *string
	Kind                  *domain.Kind
	ValueType             *domain.ValueType
	Value                 *int64
	ValidFrom             *time.Time
	ValidUntil            *time.Time
	MinPurchaseAmount     *decimal.Decimal
	MaxUsesPerCustomer    *int
	MaxTotalUses          *int
	Status                *domain.Status
	ApplicableProductIDs  []string
	ApplicableCategoryIDs []string
	Metadata              map[string]any
}

// IssuedVoucher is a voucher together with the codes minted for it.
type IssuedVoucher struct {
	Voucher *domain.Voucher `json:"voucher"`
	Codes   []string        `json:"codes"`
}

// CreateVoucher creates a campaign and mints its initial codes.
func (s *VoucherService) CreateVoucher(ctx context.Context, input *CreateVoucherInput) (*IssuedVoucher, error) {
	quantity := input.Quantity
	if quantity == 0 {
		quantity = 1
	}
	if quantity < 1 {
		return nil, apperrors.InvalidInput("quantity must be at least 1")
	}
	if quantity > s.cfg.MaxCodesPerRequest {
		return nil, apperrors.InvalidInput(fmt.Sprintf(
			"quantity must not exceed %d, use generate-codes for larger batches", s.cfg.MaxCodesPerRequest))
	}

	now := s.now()
	v := &domain.Voucher{
		ID:                    uuid.New().String(),
		MerchantID:            input.MerchantID,
		Kind:                  input.Kind,
		Name:                  input.Name,
		Description:           input.Description,
		ValueType:             input.ValueType,
		Value:                 input.Value,
		TotalQuantity:         quantity,
		RemainingQuantity:     quantity,
		ValidFrom:             now,
		ValidUntil:            input.ValidUntil,
		MinPurchaseAmount:     input.MinPurchaseAmount,
		MaxUsesPerCustomer:    input.MaxUsesPerCustomer,
		MaxTotalUses:          input.MaxTotalUses,
		Status:                domain.StatusActive,
		ApplicableProductIDs:  input.ApplicableProductIDs,
		ApplicableCategoryIDs: input.ApplicableCategoryIDs,
		Metadata:              input.Metadata,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if input.ValidFrom != nil {
		v.ValidFrom = input.ValidFrom.UTC()
	}
	if v.MaxUsesPerCustomer == 0 {
		v.MaxUsesPerCustomer = 1
	}
	if v.MaxTotalUses == 0 {
		v.MaxTotalUses = quantity
	}
	if err := domain.ValidateDefinition(v); err != nil {
		return nil, err
	}

	codes, err := s.insertWithCodes(ctx, v, quantity, nil)
	if err != nil {
		return nil, fmt.Errorf("create voucher: %w", err)
	}

	if err := s.events.PublishVoucherCreated(ctx, v); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish voucher.created event",
			slog.String("voucher_id", v.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "voucher created",
		slog.String("voucher_id", v.ID),
		slog.String("merchant_id", v.MerchantID),
		slog.String("kind", string(v.Kind)),
		slog.Int("quantity", quantity),
	)

	return &IssuedVoucher{Voucher: v, Codes: codes}, nil
}

// CreateGiftCard issues a single-code gift card and debits its value from
// the purchaser's point balance. The card exists only if the debit went
// through, and a debit whose card was not committed is refunded.
func (s *VoucherService) CreateGiftCard(ctx context.Context, input *CreateGiftCardInput) (*IssuedVoucher, error) {
	if input.PurchaserID == "" {
		return nil, apperrors.InvalidInput("purchaserId is required")
	}

	now := s.now()
	validUntil := now.AddDate(0, 0, s.cfg.GiftCardValidityDays)
	if input.ValidUntil != nil {
		validUntil = input.ValidUntil.UTC()
	}
	name := input.Name
	if name == "" {
		name = fmt.Sprintf("Подарочная карта на %d баллов", input.Value)
	}

	v := &domain.Voucher{
		ID:                 uuid.New().String(),
		MerchantID:         input.MerchantID,
		Kind:               domain.KindGiftCard,
		Name:               name,
		Description:        input.Description,
		ValueType:          domain.ValuePoints,
		Value:              input.Value,
		TotalQuantity:      1,
		RemainingQuantity:  1,
		ValidFrom:          now,
		ValidUntil:         &validUntil,
		MinPurchaseAmount:  decimal.Zero,
		MaxUsesPerCustomer: 1,
		MaxTotalUses:       1,
		Status:             domain.StatusActive,
		Metadata: map[string]any{
			"purchaserId": input.PurchaserID,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := domain.ValidateDefinition(v); err != nil {
		return nil, err
	}

	debit := points.Transfer{
		CustomerID:     input.PurchaserID,
		MerchantID:     input.MerchantID,
		Amount:         input.Value,
		IdempotencyKey: domain.GiftCardDebitKey(v.ID),
		Reason:         "giftcard:" + v.ID,
	}
	state := debitNotApplied
	debitPurchaser := func(ctx context.Context) error {
		if err := s.points.Redeem(ctx, debit); err != nil {
			if errors.Is(err, points.ErrInsufficientBalance) {
				return domain.Reject(domain.RejectInsufficientBalance, domain.MsgInsufficientBalance).WithCause(err)
			}
			state = debitUnknown
			return fmt.Errorf("debit purchaser: %w", err)
		}
		state = debitApplied
		return nil
	}

	codes, err := s.insertWithCodes(ctx, v, 1, debitPurchaser)
	if err != nil {
		switch state {
		case debitApplied:
			s.refundGiftCard(ctx, v, debit)
		case debitUnknown:
			s.settleAndRefund(ctx, v, debit)
		}
		return nil, fmt.Errorf("create gift card: %w", err)
	}
	giftCardsIssued.Inc()

	if err := s.events.PublishGiftCardIssued(ctx, v, input.PurchaserID); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish giftcard.issued event",
			slog.String("voucher_id", v.ID),
			slog.String("error", err.Error()),
		)
	}
	if input.RecipientPhone != "" || input.RecipientEmail != "" {
		s.requestNotification(ctx, v, codes[0], input)
	}

	s.logger.InfoContext(ctx, "gift card issued",
		slog.String("voucher_id", v.ID),
		slog.String("merchant_id", v.MerchantID),
		slog.String("customer_id", input.PurchaserID),
		slog.Int64("value", v.Value),
	)

	return &IssuedVoucher{Voucher: v, Codes: codes}, nil
}

// debitState tracks what the ledger did with a gift card debit.
type debitState int

const (
	debitNotApplied debitState = iota
	debitApplied
	// the ledger may or may not have applied it
	debitUnknown
)

// settleAndRefund resolves a debit that failed without a verdict. The debit
// is re-sent under its own key, which the ledger applies at most once, and
// only a settled debit is refunded.
func (s *VoucherService) settleAndRefund(ctx context.Context, v *domain.Voucher, debit points.Transfer) {
	err := s.points.Redeem(context.WithoutCancel(ctx), debit)
	switch {
	case err == nil:
		s.refundGiftCard(ctx, v, debit)
	case errors.Is(err, points.ErrInsufficientBalance):
		s.logger.InfoContext(ctx, "gift card debit was never applied",
			slog.String("voucher_id", v.ID),
			slog.String("customer_id", debit.CustomerID),
		)
	default:
		s.logger.ErrorContext(ctx, "gift card debit state unknown, manual reconciliation needed",
			slog.String("voucher_id", v.ID),
			slog.String("customer_id", debit.CustomerID),
			slog.String("idempotency_key", debit.IdempotencyKey),
			slog.Int64("amount", debit.Amount),
			slog.String("error", err.Error()),
		)
	}
}

// refundGiftCard compensates a debit whose gift card could not be committed.
// A refund the ledger refuses is queued for the credit reconciler.
func (s *VoucherService) refundGiftCard(ctx context.Context, v *domain.Voucher, debit points.Transfer) {
	ctx = context.WithoutCancel(ctx)
	refund := debit
	refund.IdempotencyKey = domain.GiftCardRefundKey(v.ID)
	refund.Reason = "giftcard-refund:" + v.ID

	err := s.points.Earn(ctx, refund)
	if err == nil {
		s.logger.WarnContext(ctx, "gift card debit refunded",
			slog.String("voucher_id", v.ID),
			slog.String("customer_id", debit.CustomerID),
		)
		return
	}

	s.logger.ErrorContext(ctx, "failed to refund gift card debit, queueing",
		slog.String("voucher_id", v.ID),
		slog.String("customer_id", debit.CustomerID),
		slog.Int64("amount", debit.Amount),
		slog.String("error", err.Error()),
	)
	pending := &domain.PendingCredit{
		VoucherID:      v.ID,
		CustomerID:     refund.CustomerID,
		MerchantID:     refund.MerchantID,
		Amount:         refund.Amount,
		IdempotencyKey: refund.IdempotencyKey,
	}
	if pubErr := s.events.PublishCreditPending(ctx, pending); pubErr != nil {
		s.logger.ErrorContext(ctx, "failed to queue gift card refund",
			slog.String("voucher_id", v.ID),
			slog.String("error", pubErr.Error()),
		)
	}
}

func (s *VoucherService) requestNotification(ctx context.Context, v *domain.Voucher, code string, input *CreateGiftCardInput) {
	req := &domain.NotificationRequest{
		VoucherID:      v.ID,
		MerchantID:     v.MerchantID,
		Code:           code,
		Value:          v.Value,
		RecipientName:  input.RecipientName,
		RecipientPhone: input.RecipientPhone,
		RecipientEmail: input.RecipientEmail,
		SenderName:     input.SenderName,
		Message:        input.Message,
		ValidUntil:     *v.ValidUntil,
	}
	if err := s.events.RequestNotification(ctx, req); err != nil {
		s.logger.ErrorContext(ctx, "failed to request gift card notification",
			slog.String("voucher_id", v.ID),
			slog.String("error", err.Error()),
		)
	}
}

// insertWithCodes mints n codes and persists them with v. A batch that lost
// a uniqueness race with a concurrent insert is regenerated.
func (s *VoucherService) insertWithCodes(ctx context.Context, v *domain.Voucher, n int, beforeCommit func(context.Context) error) ([]string, error) {
	var lastErr error
	for attempt := 0; attempt < insertAttempts; attempt++ {
		codes, err := s.codes.GenerateBatch(ctx, v.MerchantID, v.Kind, n)
		if err != nil {
			return nil, err
		}

		lastErr = s.repo.CreateWithCodes(ctx, v, s.codeRows(v.ID, codes), beforeCommit)
		if lastErr == nil {
			return codes, nil
		}
		if !errors.Is(lastErr, apperrors.ErrAlreadyExists) {
			return nil, lastErr
		}
		s.logger.WarnContext(ctx, "generated code collided on insert, regenerating",
			slog.String("voucher_id", v.ID),
			slog.Int("attempt", attempt+1),
		)
	}
	return nil, domain.Reject(domain.RejectCodeSpaceExhausted, domain.MsgCodeSpaceExhausted).WithCause(lastErr)
}

func (s *VoucherService) codeRows(voucherID string, codes []string) []domain.VoucherCode {
	now := s.now()
	rows := make([]domain.VoucherCode, len(codes))
	for i, code := range codes {
		rows[i] = domain.VoucherCode{
			ID:        uuid.New().String(),
			VoucherID: voucherID,
			Code:      code,
			Status:    domain.CodeActive,
			CreatedAt: now,
		}
	}
	return rows
}

// GeneratePromoCodes mints n more codes for an existing voucher of the
// merchant and raises its quantity and total-use counters by n.
func (s *VoucherService) GeneratePromoCodes(ctx context.Context, merchantID, voucherID string, n int) (*IssuedVoucher, error) {
	if n < 1 || n > s.cfg.MaxCodesPerRequest {
		return nil, apperrors.InvalidInput(fmt.Sprintf("count must be between 1 and %d", s.cfg.MaxCodesPerRequest))
	}

	v, err := s.ownedVoucher(ctx, merchantID, voucherID)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < insertAttempts; attempt++ {
		codes, err := s.codes.GenerateBatch(ctx, v.MerchantID, v.Kind, n)
		if err != nil {
			return nil, fmt.Errorf("generate promo codes: %w", err)
		}

		updated, err := s.repo.AddCodes(ctx, v.ID, s.codeRows(v.ID, codes))
		if err == nil {
			s.publishUpdated(ctx, updated)
			s.logger.InfoContext(ctx, "promo codes generated",
				slog.String("voucher_id", v.ID),
				slog.String("merchant_id", v.MerchantID),
				slog.Int("count", n),
			)
			return &IssuedVoucher{Voucher: updated, Codes: codes}, nil
		}
		if !errors.Is(err, apperrors.ErrAlreadyExists) {
			return nil, fmt.Errorf("generate promo codes: %w", err)
		}
		lastErr = err
	}
	return nil, domain.Reject(domain.RejectCodeSpaceExhausted, domain.MsgCodeSpaceExhausted).WithCause(lastErr)
}

// UpdateVoucher applies a partial update to a voucher of the merchant.
func (s *VoucherService) UpdateVoucher(ctx context.Context, merchantID, voucherID string, input *UpdateVoucherInput) (*domain.Voucher, error) {
	return s.update(ctx, merchantID, voucherID, func(v *domain.Voucher) error {
		if input.Name != nil {
			if *input.Name == "" {
				return apperrors.InvalidInput("voucher name must not be empty")
			}
			v.Name = *input.Name
		}
		if input.Description != nil {
			v.Description = *input.Description
		}
		if input.Kind != nil && *input.Kind != v.Kind {
			if v.TotalUsed > 0 {
				return apperrors.Conflict("kind cannot change once the voucher has been used")
			}
			v.Kind = *input.Kind
		}
		if input.ValueType != nil && *input.ValueType != v.ValueType {
			if v.TotalUsed > 0 {
				return apperrors.Conflict("value type cannot change once the voucher has been used")
			}
			v.ValueType = *input.ValueType
		}
		if input.Value != nil {
			v.Value = *input.Value
		}
		if input.ValidFrom != nil {
			v.ValidFrom = input.ValidFrom.UTC()
		}
		if input.ValidUntil != nil {
			until := input.ValidUntil.UTC()
			v.ValidUntil = &until
		}
		if input.MinPurchaseAmount != nil {
			v.MinPurchaseAmount = *input.MinPurchaseAmount
		}
		if input.MaxUsesPerCustomer != nil {
			v.MaxUsesPerCustomer = *input.MaxUsesPerCustomer
		}
		if input.MaxTotalUses != nil {
			v.MaxTotalUses = *input.MaxTotalUses
		}
		if input.Status != nil {
			if !input.Status.Valid() {
				return apperrors.InvalidInput("unknown status " + string(*input.Status))
			}
			v.Status = *input.Status
		}
		if input.ApplicableProductIDs != nil {
			v.ApplicableProductIDs = input.ApplicableProductIDs
		}
		if input.ApplicableCategoryIDs != nil {
			v.ApplicableCategoryIDs = input.ApplicableCategoryIDs
		}
		if input.Metadata != nil {
			v.Metadata = input.Metadata
		}
		return domain.ValidateDefinition(v)
	})
}

// DeactivateVoucher stops all further redemptions of a voucher. Recorded
// usages are kept.
func (s *VoucherService) DeactivateVoucher(ctx context.Context, merchantID, voucherID string) (*domain.Voucher, error) {
	return s.setStatus(ctx, merchantID, voucherID, domain.StatusInactive)
}

// ActivateVoucher re-enables redemptions of a deactivated voucher.
func (s *VoucherService) ActivateVoucher(ctx context.Context, merchantID, voucherID string) (*domain.Voucher, error) {
	return s.setStatus(ctx, merchantID, voucherID, domain.StatusActive)
}

func (s *VoucherService) setStatus(ctx context.Context, merchantID, voucherID string, status domain.Status) (*domain.Voucher, error) {
	return s.update(ctx, merchantID, voucherID, func(v *domain.Voucher) error {
		v.Status = status
		return nil
	})
}

func (s *VoucherService) update(ctx context.Context, merchantID, voucherID string, mutate func(v *domain.Voucher) error) (*domain.Voucher, error) {
	v, err := s.repo.Update(ctx, voucherID, func(v *domain.Voucher) error {
		if merchantID != "" && v.MerchantID != merchantID {
			return campaignNotFound(nil)
		}
		if err := mutate(v); err != nil {
			return err
		}
		v.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, campaignNotFound(err)
		}
		return nil, fmt.Errorf("update voucher: %w", err)
	}

	s.publishUpdated(ctx, v)
	s.logger.InfoContext(ctx, "voucher updated",
		slog.String("voucher_id", v.ID),
		slog.String("merchant_id", v.MerchantID),
		slog.String("status", string(v.Status)),
	)
	return v, nil
}

func (s *VoucherService) publishUpdated(ctx context.Context, v *domain.Voucher) {
	if err := s.events.PublishVoucherUpdated(ctx, v); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish voucher.updated event",
			slog.String("voucher_id", v.ID),
			slog.String("error", err.Error()),
		)
	}
}

// GetVoucher returns a voucher of the merchant.
func (s *VoucherService) GetVoucher(ctx context.Context, merchantID, voucherID string) (*domain.Voucher, error) {
	return s.ownedVoucher(ctx, merchantID, voucherID)
}

// ListVouchers returns a filtered, paginated list of a merchant's vouchers.
func (s *VoucherService) ListVouchers(ctx context.Context, filter repository.VoucherFilter) ([]domain.Voucher, int, error) {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PerPage <= 0 {
		filter.PerPage = 20
	}
	if filter.PerPage > 100 {
		filter.PerPage = 100
	}

	type page struct {
		items []domain.Voucher
		total int
	}
	p, err := retryRead(ctx, s.retryBackoff, func(ctx context.Context) (page, error) {
		items, total, err := s.repo.ListByMerchant(ctx, filter)
		return page{items: items, total: total}, err
	})
	if err != nil {
		return nil, 0, fmt.Errorf("list vouchers: %w", err)
	}
	return p.items, p.total, nil
}
