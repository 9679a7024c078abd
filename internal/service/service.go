// Package service orchestrates voucher issuance, redemption and reporting on
// top of the repository, the points ledger and the event producer.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/utafrali/LoyaltyGo/internal/domain"
	"github.com/utafrali/LoyaltyGo/internal/points"
	"github.com/utafrali/LoyaltyGo/internal/repository"
	apperrors "github.com/utafrali/LoyaltyGo/pkg/errors"
)

const (
	defaultRedeemTimeout      = 3 * time.Second
	defaultLockTimeout        = 1500 * time.Millisecond
	defaultMaxCodesPerRequest = 1000
	defaultGiftCardValidity   = 365
	defaultReadRetryBackoff   = 50 * time.Millisecond

	// insertAttempts bounds how often a batch is regenerated when a code
	// collides with one inserted concurrently.
	insertAttempts = 3
)

// EventPublisher publishes voucher domain events. Publishing failures never
// fail the operation that triggered them.
type EventPublisher interface {
	PublishVoucherCreated(ctx context.Context, v *domain.Voucher) error
	PublishVoucherUpdated(ctx context.Context, v *domain.Voucher) error
	PublishVoucherRedeemed(ctx context.Context, v *domain.Voucher, usage *domain.VoucherUsage) error
	PublishGiftCardIssued(ctx context.Context, v *domain.Voucher, purchaserID string) error
	PublishCreditPending(ctx context.Context, credit *domain.PendingCredit) error
	RequestNotification(ctx context.Context, req *domain.NotificationRequest) error
}

// CodeGenerator mints globally unique codes.
type CodeGenerator interface {
	GenerateBatch(ctx context.Context, merchantID string, kind domain.Kind, n int) ([]string, error)
}

// Config holds the tunables of the voucher service.
type Config struct {
	RedeemTimeout        time.Duration
	LockTimeout          time.Duration
	MaxCodesPerRequest   int
	GiftCardValidityDays int
}

func (c *Config) applyDefaults() {
	if c.RedeemTimeout <= 0 {
		c.RedeemTimeout = defaultRedeemTimeout
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = defaultLockTimeout
	}
	if c.MaxCodesPerRequest <= 0 {
		c.MaxCodesPerRequest = defaultMaxCodesPerRequest
	}
	if c.GiftCardValidityDays <= 0 {
		c.GiftCardValidityDays = defaultGiftCardValidity
	}
}

// VoucherService implements the business logic of the voucher engine.
type VoucherService struct {
	repo         repository.VoucherRepository
	codes        CodeGenerator
	points       points.Gateway
	events       EventPublisher
	cfg          Config
	logger       *slog.Logger
	now          func() time.Time
	retryBackoff time.Duration
}

// Option configures a VoucherService.
type Option func(*VoucherService)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *VoucherService) { s.now = now }
}

// WithReadRetryBackoff sets the pause before an idempotent read is retried.
func WithReadRetryBackoff(d time.Duration) Option {
	return func(s *VoucherService) { s.retryBackoff = d }
}

// NewVoucherService creates a new voucher service.
func NewVoucherService(
	repo repository.VoucherRepository,
	codes CodeGenerator,
	gateway points.Gateway,
	events EventPublisher,
	cfg Config,
	logger *slog.Logger,
	opts ...Option,
) *VoucherService {
	cfg.applyDefaults()
	s := &VoucherService{
		repo:         repo,
		codes:        codes,
		points:       gateway,
		events:       events,
		cfg:          cfg,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
		retryBackoff: defaultReadRetryBackoff,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// campaignNotFound hides other tenants' vouchers and missing ones behind the
// same rejection.
func campaignNotFound(cause error) error {
	rej := domain.Reject(domain.RejectCampaignNotFound, domain.MsgCampaignNotFound)
	if cause != nil {
		return rej.WithCause(cause)
	}
	return rej
}

// ownedVoucher loads a voucher and checks it belongs to merchantID. An empty
// merchantID skips the ownership check.
func (s *VoucherService) ownedVoucher(ctx context.Context, merchantID, voucherID string) (*domain.Voucher, error) {
	v, err := retryRead(ctx, s.retryBackoff, func(ctx context.Context) (*domain.Voucher, error) {
		return s.repo.GetByID(ctx, voucherID)
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, campaignNotFound(err)
		}
		return nil, err
	}
	if merchantID != "" && v.MerchantID != merchantID {
		return nil, campaignNotFound(nil)
	}
	return v, nil
}

// retryRead runs an idempotent read and retries it once after backoff when
// it failed for an infrastructure reason.
func retryRead[T any](ctx context.Context, backoff time.Duration, read func(context.Context) (T, error)) (T, error) {
	v, err := read(ctx)
	if err == nil || !retryable(err) {
		return v, err
	}

	select {
	case <-ctx.Done():
		return v, err
	case <-time.After(backoff):
	}
	return read(ctx)
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) || errors.Is(err, apperrors.ErrNotFound) {
		return false
	}
	_, rejected := domain.AsRejection(err)
	return !rejected
}
