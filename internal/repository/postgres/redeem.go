package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/utafrali/LoyaltyGo/internal/domain"
	"github.com/utafrali/LoyaltyGo/internal/repository"
	"github.com/utafrali/LoyaltyGo/pkg/database"
	apperrors "github.com/utafrali/LoyaltyGo/pkg/errors"
)

// Redeem runs the whole redemption inside one transaction. The voucher row
// is locked before the code row on every path so concurrent redemptions of
// the same campaign serialize on it.
func (r *VoucherRepository) Redeem(ctx context.Context, req repository.RedeemRequest, decide repository.DecideFunc) (_ *repository.RedeemOutcome, err error) {
	ctx, end := database.TraceQuery(ctx, "RedeemVoucher", "SELECT ... FROM vouchers FOR UPDATE")
	defer func() { end(err) }()

	out, err := r.redeem(ctx, req, decide)
	if err != nil {
		if database.IsContention(err) || errors.Is(err, context.DeadlineExceeded) {
			return nil, domain.Reject(domain.RejectQuotaExhaustedGlobal, domain.MsgRedeemBusy).WithCause(err)
		}
		return nil, err
	}
	return out, nil
}

func (r *VoucherRepository) redeem(ctx context.Context, req repository.RedeemRequest, decide repository.DecideFunc) (*repository.RedeemOutcome, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if req.LockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", req.LockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("set lock timeout: %w", err)
		}
	}

	var codeID, voucherID string
	err = tx.QueryRow(ctx, `SELECT id, voucher_id FROM voucher_codes WHERE code = $1`, req.Code).
		Scan(&codeID, &voucherID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, decideErr := decide(domain.RedemptionSnapshot{}); decideErr != nil {
				return nil, decideErr
			}
			return nil, domain.Reject(domain.RejectInvalidCode, domain.MsgCodeNotFound)
		}
		return nil, fmt.Errorf("find voucher code: %w", err)
	}

	v, err := lockVoucher(ctx, tx, voucherID)
	if err != nil {
		return nil, err
	}

	var code domain.VoucherCode
	err = tx.QueryRow(ctx, `
		SELECT id, voucher_id, code, status, created_at
		FROM voucher_codes
		WHERE id = $1
		FOR UPDATE`, codeID).
		Scan(&code.ID, &code.VoucherID, &code.Code, &code.Status, &code.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("lock voucher code: %w", err)
	}

	// Only the owning merchant gets replays. Anyone else runs the full
	// guard chain below and is rejected in guard order.
	if req.AttemptID != "" && domain.CheckOwnership(v, req.MerchantID) == nil {
		prior, err := findAttempt(ctx, tx, v.ID, req.CustomerID, req.AttemptID)
		if err != nil {
			return nil, err
		}
		if prior != nil {
			return &repository.RedeemOutcome{Voucher: v, Code: &code, Usage: prior, Replayed: true}, nil
		}
	}

	var customerUses int
	err = tx.QueryRow(ctx, `
		SELECT count(*)
		FROM voucher_usages
		WHERE code_id = $1 AND customer_id = $2`, code.ID, req.CustomerID).
		Scan(&customerUses)
	if err != nil {
		return nil, fmt.Errorf("count customer usages: %w", err)
	}

	reward, err := decide(domain.RedemptionSnapshot{Voucher: v, Code: &code, CustomerUses: customerUses})
	if err != nil {
		return nil, err
	}

	usage := &domain.VoucherUsage{
		ID:             req.UsageID,
		VoucherID:      v.ID,
		CodeID:         code.ID,
		CustomerID:     req.CustomerID,
		AttemptID:      req.AttemptID,
		GrantedAmount:  reward.Amount,
		PurchaseAmount: req.PurchaseAmount,
		Metadata:       req.Metadata,
		UsedAt:         req.Now,
	}
	if err := insertUsage(ctx, tx, usage); err != nil {
		return nil, err
	}

	err = tx.QueryRow(ctx, `
		UPDATE vouchers
		SET remaining_quantity = remaining_quantity - 1,
			total_used = total_used + 1,
			updated_at = $2
		WHERE id = $1 AND remaining_quantity > 0 AND total_used < max_total_uses
		RETURNING remaining_quantity, total_used`, v.ID, req.Now).
		Scan(&v.RemainingQuantity, &v.TotalUsed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.Reject(domain.RejectQuotaExhaustedGlobal, domain.MsgAllCodesUsed)
		}
		return nil, fmt.Errorf("decrement voucher quota: %w", err)
	}
	v.UpdatedAt = req.Now

	if v.OneShotCodes() {
		if _, err := tx.Exec(ctx, `UPDATE voucher_codes SET status = 'USED' WHERE id = $1`, code.ID); err != nil {
			return nil, fmt.Errorf("retire voucher code: %w", err)
		}
		code.Status = domain.CodeUsed
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return &repository.RedeemOutcome{Voucher: v, Code: &code, Usage: usage}, nil
}

func findAttempt(ctx context.Context, tx pgx.Tx, voucherID, customerID, attemptID string) (*domain.VoucherUsage, error) {
	var (
		u            domain.VoucherUsage
		purchase     *string
		metadataJSON []byte
	)
	err := tx.QueryRow(ctx, `
		SELECT id, voucher_id, code_id, customer_id, attempt_id, granted_amount,
			   purchase_amount::text, metadata, used_at
		FROM voucher_usages
		WHERE voucher_id = $1 AND customer_id = $2 AND attempt_id = $3`,
		voucherID, customerID, attemptID,
	).Scan(
		&u.ID,
		&u.VoucherID,
		&u.CodeID,
		&u.CustomerID,
		&u.AttemptID,
		&u.GrantedAmount,
		&purchase,
		&metadataJSON,
		&u.UsedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find redemption attempt: %w", err)
	}

	if purchase != nil {
		d, err := decimal.NewFromString(*purchase)
		if err != nil {
			return nil, fmt.Errorf("parse purchase_amount: %w", err)
		}
		u.PurchaseAmount = &d
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &u.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal usage metadata: %w", err)
		}
	}
	return &u, nil
}

func insertUsage(ctx context.Context, tx pgx.Tx, u *domain.VoucherUsage) error {
	metadataJSON, err := marshalMetadata(u.Metadata)
	if err != nil {
		return err
	}

	var purchase *string
	if u.PurchaseAmount != nil {
		s := u.PurchaseAmount.String()
		purchase = &s
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO voucher_usages (
			id, voucher_id, code_id, customer_id, attempt_id,
			granted_amount, purchase_amount, metadata, used_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		u.ID,
		u.VoucherID,
		u.CodeID,
		u.CustomerID,
		u.AttemptID,
		u.GrantedAmount,
		purchase,
		metadataJSON,
		u.UsedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return apperrors.Conflict("redemption attempt already recorded")
		}
		return fmt.Errorf("insert voucher usage: %w", err)
	}
	return nil
}
