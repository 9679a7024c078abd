package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/utafrali/LoyaltyGo/internal/domain"
)

// VoucherFilter defines filter criteria for listing a merchant's vouchers.
type VoucherFilter struct {
	MerchantID string
	Status     *domain.Status
	Kind       *domain.Kind
	Page       int
	PerPage    int
}

// RedeemRequest carries everything the atomic redemption needs besides the
// decision itself.
type RedeemRequest struct {
	Code           string
	MerchantID     string
	CustomerID     string
	AttemptID      string
	PurchaseAmount *decimal.Decimal
	Metadata       map[string]any
	UsageID        string
	Now            time.Time
	// LockTimeout bounds how long the transaction waits for row locks.
	LockTimeout time.Duration
}

// DecideFunc evaluates a locked snapshot. A non-nil error aborts the
// redemption without side effects.
type DecideFunc func(domain.RedemptionSnapshot) (domain.Reward, error)

// RedeemOutcome is the committed (or replayed) result of Redeem. Voucher and
// Code reflect the state after the redemption.
type RedeemOutcome struct {
	Voucher  *domain.Voucher
	Code     *domain.VoucherCode
	Usage    *domain.VoucherUsage
	Replayed bool
}

// VoucherRepository defines the persistence operations of the voucher engine.
type VoucherRepository interface {
	// CreateWithCodes inserts a voucher and its codes in one transaction.
	// beforeCommit, when set, runs inside the transaction after the inserts;
	// an error from it rolls everything back. A duplicate code yields
	// apperrors.ErrAlreadyExists.
	CreateWithCodes(ctx context.Context, v *domain.Voucher, codes []domain.VoucherCode, beforeCommit func(ctx context.Context) error) error

	// AddCodes mints additional codes for a voucher and raises its total,
	// remaining and max-total counters by len(codes).
	AddCodes(ctx context.Context, voucherID string, codes []domain.VoucherCode) (*domain.Voucher, error)

	// ExistingCodes returns the subset of codes already present globally.
	ExistingCodes(ctx context.Context, codes []string) ([]string, error)

	// GetByID retrieves a voucher by its identifier.
	GetByID(ctx context.Context, id string) (*domain.Voucher, error)

	// GetByCode looks a code up without any merchant filter and returns it
	// with its voucher.
	GetByCode(ctx context.Context, code string) (*domain.Voucher, *domain.VoucherCode, error)

	// ListByMerchant returns a merchant's vouchers, newest first, with the
	// total count.
	ListByMerchant(ctx context.Context, filter VoucherFilter) ([]domain.Voucher, int, error)

	// Update locks the voucher, applies mutate and persists the result.
	Update(ctx context.Context, id string, mutate func(v *domain.Voucher) error) (*domain.Voucher, error)

	// Redeem locks the voucher and code, asks decide for a verdict and, on
	// acceptance, records the usage and moves the counters, all in one
	// transaction. A replayed attempt ID returns the earlier usage untouched.
	Redeem(ctx context.Context, req RedeemRequest, decide DecideFunc) (*RedeemOutcome, error)

	// ListCustomerUsages returns a customer's redemptions, newest first.
	ListCustomerUsages(ctx context.Context, customerID string, page, perPage int) ([]domain.CustomerRedemption, int, error)

	// CodeCounts counts a voucher's codes by status.
	CodeCounts(ctx context.Context, voucherID string) (domain.CodeCounts, error)

	// UsageAggregate summarizes a voucher's usages.
	UsageAggregate(ctx context.Context, voucherID string) (domain.UsageAggregate, error)

	// TopCustomers ranks a voucher's customers by total granted amount.
	TopCustomers(ctx context.Context, voucherID string, limit int) ([]domain.TopCustomer, error)
}
