package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/utafrali/LoyaltyGo/internal/domain"
	"github.com/utafrali/LoyaltyGo/internal/repository"
	"github.com/utafrali/LoyaltyGo/pkg/database"
	apperrors "github.com/utafrali/LoyaltyGo/pkg/errors"
)

const voucherColumns = `id, merchant_id, kind, name, description, value_type, value,
		total_quantity, remaining_quantity, valid_from, valid_until,
		min_purchase_amount::text, max_uses_per_customer, max_total_uses, total_used,
		status, applicable_product_ids, applicable_category_ids, metadata,
		created_at, updated_at`

// VoucherRepository implements repository.VoucherRepository using PostgreSQL.
type VoucherRepository struct {
	pool database.DBTX
}

// NewVoucherRepository creates a new PostgreSQL-backed voucher repository.
func NewVoucherRepository(pool database.DBTX) *VoucherRepository {
	return &VoucherRepository{pool: pool}
}

var _ repository.VoucherRepository = (*VoucherRepository)(nil)

// CreateWithCodes inserts a voucher with its codes in one transaction.
func (r *VoucherRepository) CreateWithCodes(ctx context.Context, v *domain.Voucher, codes []domain.VoucherCode, beforeCommit func(ctx context.Context) error) (err error) {
	ctx, end := database.TraceQuery(ctx, "CreateVoucher", "INSERT INTO vouchers")
	defer func() { end(err) }()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	metadataJSON, err := marshalMetadata(v.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO vouchers (
			id, merchant_id, kind, name, description, value_type, value,
			total_quantity, remaining_quantity, valid_from, valid_until,
			min_purchase_amount, max_uses_per_customer, max_total_uses, total_used,
			status, applicable_product_ids, applicable_category_ids, metadata,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`

	_, err = tx.Exec(ctx, query,
		v.ID,
		v.MerchantID,
		v.Kind,
		v.Name,
		v.Description,
		v.ValueType,
		v.Value,
		v.TotalQuantity,
		v.RemainingQuantity,
		v.ValidFrom,
		v.ValidUntil,
		v.MinPurchaseAmount.String(),
		v.MaxUsesPerCustomer,
		v.MaxTotalUses,
		v.TotalUsed,
		v.Status,
		nonNil(v.ApplicableProductIDs),
		nonNil(v.ApplicableCategoryIDs),
		metadataJSON,
		v.CreatedAt,
		v.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return apperrors.AlreadyExists("voucher", "id", v.ID)
		}
		return fmt.Errorf("insert voucher: %w", err)
	}

	if err = insertCodes(ctx, tx, codes); err != nil {
		return err
	}

	if beforeCommit != nil {
		if err = beforeCommit(ctx); err != nil {
			return err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// AddCodes mints codes for an existing voucher and raises its counters.
func (r *VoucherRepository) AddCodes(ctx context.Context, voucherID string, codes []domain.VoucherCode) (_ *domain.Voucher, err error) {
	ctx, end := database.TraceQuery(ctx, "AddVoucherCodes", "UPDATE vouchers SET total_quantity")
	defer func() { end(err) }()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	v, err := lockVoucher(ctx, tx, voucherID)
	if err != nil {
		return nil, err
	}

	if err = insertCodes(ctx, tx, codes); err != nil {
		return nil, err
	}

	query := `
		UPDATE vouchers
		SET total_quantity = total_quantity + $2,
			remaining_quantity = remaining_quantity + $2,
			max_total_uses = max_total_uses + $2,
			updated_at = NOW()
		WHERE id = $1
		RETURNING total_quantity, remaining_quantity, max_total_uses, updated_at`

	err = tx.QueryRow(ctx, query, voucherID, len(codes)).
		Scan(&v.TotalQuantity, &v.RemainingQuantity, &v.MaxTotalUses, &v.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("raise voucher counters: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return v, nil
}

// ExistingCodes returns the subset of codes that already exist.
func (r *VoucherRepository) ExistingCodes(ctx context.Context, codes []string) ([]string, error) {
	if len(codes) == 0 {
		return nil, nil
	}

	rows, err := r.pool.Query(ctx, `SELECT code FROM voucher_codes WHERE code = ANY($1)`, codes)
	if err != nil {
		return nil, fmt.Errorf("query existing codes: %w", err)
	}
	defer rows.Close()

	var existing []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scan code: %w", err)
		}
		existing = append(existing, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate codes: %w", err)
	}
	return existing, nil
}

// GetByID retrieves a voucher by its ID.
func (r *VoucherRepository) GetByID(ctx context.Context, id string) (*domain.Voucher, error) {
	query := `SELECT ` + voucherColumns + ` FROM vouchers WHERE id = $1`

	v, err := scanVoucher(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("voucher", id)
		}
		return nil, fmt.Errorf("get voucher by id: %w", err)
	}
	return v, nil
}

// GetByCode retrieves a code together with its voucher.
func (r *VoucherRepository) GetByCode(ctx context.Context, code string) (*domain.Voucher, *domain.VoucherCode, error) {
	query := `
		SELECT c.id, c.voucher_id, c.code, c.status, c.created_at
		FROM voucher_codes c
		WHERE c.code = $1`

	var c domain.VoucherCode
	err := r.pool.QueryRow(ctx, query, code).Scan(&c.ID, &c.VoucherID, &c.Code, &c.Status, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, apperrors.ErrNotFound
		}
		return nil, nil, fmt.Errorf("get voucher code: %w", err)
	}

	v, err := r.GetByID(ctx, c.VoucherID)
	if err != nil {
		return nil, nil, err
	}
	return v, &c, nil
}

// ListByMerchant returns a merchant's vouchers with the total count.
func (r *VoucherRepository) ListByMerchant(ctx context.Context, filter repository.VoucherFilter) ([]domain.Voucher, int, error) {
	conditions := []string{"merchant_id = $1"}
	args := []any{filter.MerchantID}
	argIndex := 2

	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIndex))
		args = append(args, *filter.Status)
		argIndex++
	}
	if filter.Kind != nil {
		conditions = append(conditions, fmt.Sprintf("kind = $%d", argIndex))
		args = append(args, *filter.Kind)
		argIndex++
	}

	query := fmt.Sprintf(`
		SELECT %s,
			   count(*) OVER() AS total_count
		FROM vouchers
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`,
		voucherColumns, strings.Join(conditions, " AND "), argIndex, argIndex+1,
	)

	limit, offset := pageBounds(filter.Page, filter.PerPage)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list vouchers: %w", err)
	}
	defer rows.Close()

	var (
		vouchers   []domain.Voucher
		totalCount int
	)
	for rows.Next() {
		v, err := scanVoucherWith(rows, &totalCount)
		if err != nil {
			return nil, 0, fmt.Errorf("scan voucher row: %w", err)
		}
		vouchers = append(vouchers, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate voucher rows: %w", err)
	}

	return vouchers, totalCount, nil
}

// Update locks the voucher row, applies mutate and writes the mutable fields.
func (r *VoucherRepository) Update(ctx context.Context, id string, mutate func(v *domain.Voucher) error) (_ *domain.Voucher, err error) {
	ctx, end := database.TraceQuery(ctx, "UpdateVoucher", "UPDATE vouchers SET")
	defer func() { end(err) }()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	v, err := lockVoucher(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err = mutate(v); err != nil {
		return nil, err
	}

	metadataJSON, err := marshalMetadata(v.Metadata)
	if err != nil {
		return nil, err
	}

	query := `
		UPDATE vouchers
		SET name = $2, description = $3, kind = $4, value_type = $5, value = $6,
			valid_from = $7, valid_until = $8, min_purchase_amount = $9,
			max_uses_per_customer = $10, max_total_uses = $11, status = $12,
			applicable_product_ids = $13, applicable_category_ids = $14,
			metadata = $15, updated_at = $16
		WHERE id = $1`

	_, err = tx.Exec(ctx, query,
		v.ID,
		v.Name,
		v.Description,
		v.Kind,
		v.ValueType,
		v.Value,
		v.ValidFrom,
		v.ValidUntil,
		v.MinPurchaseAmount.String(),
		v.MaxUsesPerCustomer,
		v.MaxTotalUses,
		v.Status,
		nonNil(v.ApplicableProductIDs),
		nonNil(v.ApplicableCategoryIDs),
		metadataJSON,
		v.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("update voucher: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return v, nil
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// lockVoucher selects a voucher row FOR UPDATE inside tx.
func lockVoucher(ctx context.Context, tx pgx.Tx, id string) (*domain.Voucher, error) {
	query := `SELECT ` + voucherColumns + ` FROM vouchers WHERE id = $1 FOR UPDATE`

	v, err := scanVoucher(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("voucher", id)
		}
		return nil, fmt.Errorf("lock voucher: %w", err)
	}
	return v, nil
}

func insertCodes(ctx context.Context, tx pgx.Tx, codes []domain.VoucherCode) error {
	if len(codes) == 0 {
		return nil
	}

	ids := make([]string, len(codes))
	values := make([]string, len(codes))
	for i, c := range codes {
		ids[i] = c.ID
		values[i] = c.Code
	}

	query := `
		INSERT INTO voucher_codes (id, voucher_id, code, status, created_at)
		SELECT unnest($1::uuid[]), $2, unnest($3::text[]), 'ACTIVE', $4`

	_, err := tx.Exec(ctx, query, ids, codes[0].VoucherID, values, codes[0].CreatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("insert voucher codes: %w", apperrors.ErrAlreadyExists)
		}
		return fmt.Errorf("insert voucher codes: %w", err)
	}
	return nil
}

func scanVoucher(row pgx.Row) (*domain.Voucher, error) {
	return scanVoucherWith(row)
}

// scanVoucherWith scans the voucherColumns followed by any extra targets.
func scanVoucherWith(row pgx.Row, extra ...any) (*domain.Voucher, error) {
	var (
		v            domain.Voucher
		minPurchase  string
		metadataJSON []byte
	)

	dest := []any{
		&v.ID,
		&v.MerchantID,
		&v.Kind,
		&v.Name,
		&v.Description,
		&v.ValueType,
		&v.Value,
		&v.TotalQuantity,
		&v.RemainingQuantity,
		&v.ValidFrom,
		&v.ValidUntil,
		&minPurchase,
		&v.MaxUsesPerCustomer,
		&v.MaxTotalUses,
		&v.TotalUsed,
		&v.Status,
		&v.ApplicableProductIDs,
		&v.ApplicableCategoryIDs,
		&metadataJSON,
		&v.CreatedAt,
		&v.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	amount, err := decimal.NewFromString(minPurchase)
	if err != nil {
		return nil, fmt.Errorf("parse min_purchase_amount: %w", err)
	}
	v.MinPurchaseAmount = amount

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &v.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &v, nil
}

func marshalMetadata(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return b, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func pageBounds(page, perPage int) (limit, offset int) {
	limit = perPage
	if limit <= 0 {
		limit = 20
	}
	if page > 1 {
		offset = (page - 1) * limit
	}
	return limit, offset
}
