package postgres

import (
	"context"
	"fmt"

	"github.com/utafrali/LoyaltyGo/internal/domain"
)

// ListCustomerUsages returns a customer's redemptions, newest first.
func (r *VoucherRepository) ListCustomerUsages(ctx context.Context, customerID string, page, perPage int) ([]domain.CustomerRedemption, int, error) {
	limit, offset := pageBounds(page, perPage)

	query := `
		SELECT u.id, u.voucher_id, v.name, v.kind, v.value_type, c.code,
			   u.granted_amount, u.used_at,
			   count(*) OVER() AS total_count
		FROM voucher_usages u
		JOIN vouchers v ON v.id = u.voucher_id
		JOIN voucher_codes c ON c.id = u.code_id
		WHERE u.customer_id = $1
		ORDER BY u.used_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.pool.Query(ctx, query, customerID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list customer usages: %w", err)
	}
	defer rows.Close()

	var (
		out        []domain.CustomerRedemption
		totalCount int
	)
	for rows.Next() {
		var cr domain.CustomerRedemption
		if err := rows.Scan(
			&cr.UsageID,
			&cr.VoucherID,
			&cr.VoucherName,
			&cr.Kind,
			&cr.ValueType,
			&cr.Code,
			&cr.GrantedAmount,
			&cr.UsedAt,
			&totalCount,
		); err != nil {
			return nil, 0, fmt.Errorf("scan customer usage: %w", err)
		}
		out = append(out, cr)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate customer usages: %w", err)
	}
	return out, totalCount, nil
}

// CodeCounts counts a voucher's codes by status.
func (r *VoucherRepository) CodeCounts(ctx context.Context, voucherID string) (domain.CodeCounts, error) {
	query := `
		SELECT count(*) FILTER (WHERE status = 'ACTIVE'),
			   count(*) FILTER (WHERE status = 'USED')
		FROM voucher_codes
		WHERE voucher_id = $1`

	var c domain.CodeCounts
	if err := r.pool.QueryRow(ctx, query, voucherID).Scan(&c.Active, &c.Used); err != nil {
		return domain.CodeCounts{}, fmt.Errorf("count voucher codes: %w", err)
	}
	return c, nil
}

// UsageAggregate summarizes a voucher's usages.
func (r *VoucherRepository) UsageAggregate(ctx context.Context, voucherID string) (domain.UsageAggregate, error) {
	query := `
		SELECT count(DISTINCT customer_id), COALESCE(sum(granted_amount), 0)
		FROM voucher_usages
		WHERE voucher_id = $1`

	var a domain.UsageAggregate
	if err := r.pool.QueryRow(ctx, query, voucherID).Scan(&a.UniqueCustomers, &a.TotalGranted); err != nil {
		return domain.UsageAggregate{}, fmt.Errorf("aggregate voucher usages: %w", err)
	}
	return a, nil
}

// TopCustomers ranks a voucher's customers by total granted amount. The
// display name is taken from the customerName usage metadata when present.
func (r *VoucherRepository) TopCustomers(ctx context.Context, voucherID string, limit int) ([]domain.TopCustomer, error) {
	query := `
		SELECT customer_id,
			   COALESCE(max(metadata->>'customerName'), ''),
			   count(*),
			   sum(granted_amount) AS total_granted
		FROM voucher_usages
		WHERE voucher_id = $1
		GROUP BY customer_id
		ORDER BY total_granted DESC, customer_id
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, voucherID, limit)
	if err != nil {
		return nil, fmt.Errorf("query top customers: %w", err)
	}
	defer rows.Close()

	var top []domain.TopCustomer
	for rows.Next() {
		var c domain.TopCustomer
		if err := rows.Scan(&c.CustomerID, &c.Name, &c.Usages, &c.TotalGranted); err != nil {
			return nil, fmt.Errorf("scan top customer: %w", err)
		}
		top = append(top, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate top customers: %w", err)
	}
	return top, nil
}
