// Package memory provides an in-process VoucherRepository for tests and
// single-instance development runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/utafrali/LoyaltyGo/internal/domain"
	"github.com/utafrali/LoyaltyGo/internal/repository"
	apperrors "github.com/utafrali/LoyaltyGo/pkg/errors"
)

// VoucherRepository keeps vouchers, codes and usages in maps guarded by one
// mutex, which stands in for the row locks of the SQL implementation.
type VoucherRepository struct {
	mu       sync.Mutex
	vouchers map[string]*domain.Voucher
	codes    map[string]*domain.VoucherCode // by code string
	usages   []*domain.VoucherUsage
}

// NewVoucherRepository creates an empty repository.
func NewVoucherRepository() *VoucherRepository {
	return &VoucherRepository{
		vouchers: make(map[string]*domain.Voucher),
		codes:    make(map[string]*domain.VoucherCode),
	}
}

var _ repository.VoucherRepository = (*VoucherRepository)(nil)

func (r *VoucherRepository) CreateWithCodes(ctx context.Context, v *domain.Voucher, codes []domain.VoucherCode, beforeCommit func(ctx context.Context) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.vouchers[v.ID]; ok {
		return apperrors.AlreadyExists("voucher", "id", v.ID)
	}
	if err := r.checkCodesFree(codes); err != nil {
		return err
	}
	if beforeCommit != nil {
		if err := beforeCommit(ctx); err != nil {
			return err
		}
	}

	r.vouchers[v.ID] = cloneVoucher(v)
	r.putCodes(codes)
	return nil
}

func (r *VoucherRepository) AddCodes(_ context.Context, voucherID string, codes []domain.VoucherCode) (*domain.Voucher, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.vouchers[voucherID]
	if !ok {
		return nil, apperrors.NotFound("voucher", voucherID)
	}
	if err := r.checkCodesFree(codes); err != nil {
		return nil, err
	}

	r.putCodes(codes)
	n := len(codes)
	v.TotalQuantity += n
	v.RemainingQuantity += n
	v.MaxTotalUses += n
	return cloneVoucher(v), nil
}

func (r *VoucherRepository) ExistingCodes(_ context.Context, codes []string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var existing []string
	for _, c := range codes {
		if _, ok := r.codes[c]; ok {
			existing = append(existing, c)
		}
	}
	return existing, nil
}

func (r *VoucherRepository) GetByID(_ context.Context, id string) (*domain.Voucher, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.vouchers[id]
	if !ok {
		return nil, apperrors.NotFound("voucher", id)
	}
	return cloneVoucher(v), nil
}

func (r *VoucherRepository) GetByCode(_ context.Context, code string) (*domain.Voucher, *domain.VoucherCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.codes[code]
	if !ok {
		return nil, nil, apperrors.ErrNotFound
	}
	cc := *c
	return cloneVoucher(r.vouchers[c.VoucherID]), &cc, nil
}

func (r *VoucherRepository) ListByMerchant(_ context.Context, filter repository.VoucherFilter) ([]domain.Voucher, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []domain.Voucher
	for _, v := range r.vouchers {
		if v.MerchantID != filter.MerchantID {
			continue
		}
		if filter.Status != nil && v.Status != *filter.Status {
			continue
		}
		if filter.Kind != nil && v.Kind != *filter.Kind {
			continue
		}
		matched = append(matched, *cloneVoucher(v))
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	return paginate(matched, filter.Page, filter.PerPage), len(matched), nil
}

func (r *VoucherRepository) Update(_ context.Context, id string, mutate func(v *domain.Voucher) error) (*domain.Voucher, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.vouchers[id]
	if !ok {
		return nil, apperrors.NotFound("voucher", id)
	}
	v := cloneVoucher(current)
	if err := mutate(v); err != nil {
		return nil, err
	}
	// counters are owned by redemption and top-up
	v.TotalQuantity = current.TotalQuantity
	v.RemainingQuantity = current.RemainingQuantity
	v.TotalUsed = current.TotalUsed

	r.vouchers[id] = v
	return cloneVoucher(v), nil
}

func (r *VoucherRepository) Redeem(_ context.Context, req repository.RedeemRequest, decide repository.DecideFunc) (*repository.RedeemOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.codes[req.Code]
	if !ok {
		if _, err := decide(domain.RedemptionSnapshot{}); err != nil {
			return nil, err
		}
		return nil, domain.Reject(domain.RejectInvalidCode, domain.MsgCodeNotFound)
	}
	v := r.vouchers[c.VoucherID]

	if req.AttemptID != "" && domain.CheckOwnership(v, req.MerchantID) == nil {
		for _, u := range r.usages {
			if u.VoucherID == v.ID && u.CustomerID == req.CustomerID && u.AttemptID == req.AttemptID {
				cc, uu := *c, *u
				return &repository.RedeemOutcome{Voucher: cloneVoucher(v), Code: &cc, Usage: &uu, Replayed: true}, nil
			}
		}
	}

	customerUses := 0
	for _, u := range r.usages {
		if u.CodeID == c.ID && u.CustomerID == req.CustomerID {
			customerUses++
		}
	}

	snapshot := domain.RedemptionSnapshot{Voucher: cloneVoucher(v), Code: ptr(*c), CustomerUses: customerUses}
	reward, err := decide(snapshot)
	if err != nil {
		return nil, err
	}
	if v.RemainingQuantity <= 0 || v.TotalUsed >= v.MaxTotalUses {
		return nil, domain.Reject(domain.RejectQuotaExhaustedGlobal, domain.MsgAllCodesUsed)
	}

	usage := &domain.VoucherUsage{
		ID:             req.UsageID,
		VoucherID:      v.ID,
		CodeID:         c.ID,
		CustomerID:     req.CustomerID,
		AttemptID:      req.AttemptID,
		GrantedAmount:  reward.Amount,
		PurchaseAmount: req.PurchaseAmount,
		Metadata:       req.Metadata,
		UsedAt:         req.Now,
	}
	r.usages = append(r.usages, usage)

	v.RemainingQuantity--
	v.TotalUsed++
	v.UpdatedAt = req.Now
	if v.OneShotCodes() {
		c.Status = domain.CodeUsed
	}

	cc, uu := *c, *usage
	return &repository.RedeemOutcome{Voucher: cloneVoucher(v), Code: &cc, Usage: &uu}, nil
}

func (r *VoucherRepository) ListCustomerUsages(_ context.Context, customerID string, page, perPage int) ([]domain.CustomerRedemption, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	codesByID := make(map[string]string, len(r.codes))
	for code, c := range r.codes {
		codesByID[c.ID] = code
	}

	var out []domain.CustomerRedemption
	for _, u := range r.usages {
		if u.CustomerID != customerID {
			continue
		}
		v := r.vouchers[u.VoucherID]
		out = append(out, domain.CustomerRedemption{
			UsageID:       u.ID,
			VoucherID:     v.ID,
			VoucherName:   v.Name,
			Kind:          v.Kind,
			ValueType:     v.ValueType,
			Code:          codesByID[u.CodeID],
			GrantedAmount: u.GrantedAmount,
			UsedAt:        u.UsedAt,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UsedAt.After(out[j].UsedAt) })

	return paginate(out, page, perPage), len(out), nil
}

func (r *VoucherRepository) CodeCounts(_ context.Context, voucherID string) (domain.CodeCounts, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var c domain.CodeCounts
	for _, code := range r.codes {
		if code.VoucherID != voucherID {
			continue
		}
		switch code.Status {
		case domain.CodeActive:
			c.Active++
		case domain.CodeUsed:
			c.Used++
		}
	}
	return c, nil
}

func (r *VoucherRepository) UsageAggregate(_ context.Context, voucherID string) (domain.UsageAggregate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var a domain.UsageAggregate
	customers := make(map[string]struct{})
	for _, u := range r.usages {
		if u.VoucherID != voucherID {
			continue
		}
		customers[u.CustomerID] = struct{}{}
		a.TotalGranted += u.GrantedAmount
	}
	a.UniqueCustomers = len(customers)
	return a, nil
}

func (r *VoucherRepository) TopCustomers(_ context.Context, voucherID string, limit int) ([]domain.TopCustomer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byCustomer := make(map[string]*domain.TopCustomer)
	for _, u := range r.usages {
		if u.VoucherID != voucherID {
			continue
		}
		tc, ok := byCustomer[u.CustomerID]
		if !ok {
			tc = &domain.TopCustomer{CustomerID: u.CustomerID}
			byCustomer[u.CustomerID] = tc
		}
		tc.Usages++
		tc.TotalGranted += u.GrantedAmount
		if name, ok := u.Metadata["customerName"].(string); ok && name != "" {
			tc.Name = name
		}
	}

	top := make([]domain.TopCustomer, 0, len(byCustomer))
	for _, tc := range byCustomer {
		top = append(top, *tc)
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].TotalGranted == top[j].TotalGranted {
			return top[i].CustomerID < top[j].CustomerID
		}
		return top[i].TotalGranted > top[j].TotalGranted
	})
	if limit > 0 && len(top) > limit {
		top = top[:limit]
	}
	return top, nil
}

func (r *VoucherRepository) checkCodesFree(codes []domain.VoucherCode) error {
	seen := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		if _, ok := r.codes[c.Code]; ok {
			return fmt.Errorf("insert voucher codes: %w", apperrors.ErrAlreadyExists)
		}
		if _, ok := seen[c.Code]; ok {
			return fmt.Errorf("insert voucher codes: %w", apperrors.ErrAlreadyExists)
		}
		seen[c.Code] = struct{}{}
	}
	return nil
}

func (r *VoucherRepository) putCodes(codes []domain.VoucherCode) {
	for _, c := range codes {
		c.Status = domain.CodeActive
		r.codes[c.Code] = ptr(c)
	}
}

func cloneVoucher(v *domain.Voucher) *domain.Voucher {
	cp := *v
	if v.ValidUntil != nil {
		until := *v.ValidUntil
		cp.ValidUntil = &until
	}
	cp.ApplicableProductIDs = append([]string(nil), v.ApplicableProductIDs...)
	cp.ApplicableCategoryIDs = append([]string(nil), v.ApplicableCategoryIDs...)
	if v.Metadata != nil {
		cp.Metadata = make(map[string]any, len(v.Metadata))
		for k, val := range v.Metadata {
			cp.Metadata[k] = val
		}
	}
	return &cp
}

func paginate[T any](items []T, page, perPage int) []T {
	if perPage <= 0 {
		perPage = 20
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * perPage
	if start >= len(items) {
		return []T{}
	}
	end := start + perPage
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

func ptr[T any](v T) *T {
	return &v
}
