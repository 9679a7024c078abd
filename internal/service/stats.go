package service

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/utafrali/LoyaltyGo/internal/domain"
	"github.com/utafrali/LoyaltyGo/internal/repository"
)

const exportPageSize = 100

var exportHeader = []string{
	"id", "kind", "name", "value_type", "value",
	"total_quantity", "remaining_quantity", "total_used",
	"status", "valid_from", "valid_until",
}

// VoucherStats aggregates code, usage and customer figures for a voucher of
// the merchant. The aggregate queries run concurrently.
func (s *VoucherService) VoucherStats(ctx context.Context, merchantID, voucherID string) (*domain.VoucherStats, error) {
	v, err := s.ownedVoucher(ctx, merchantID, voucherID)
	if err != nil {
		return nil, err
	}

	var (
		counts domain.CodeCounts
		agg    domain.UsageAggregate
		top    []domain.TopCustomer
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		counts, err = retryRead(gctx, s.retryBackoff, func(ctx context.Context) (domain.CodeCounts, error) {
			return s.repo.CodeCounts(ctx, v.ID)
		})
		return err
	})
	g.Go(func() error {
		var err error
		agg, err = retryRead(gctx, s.retryBackoff, func(ctx context.Context) (domain.UsageAggregate, error) {
			return s.repo.UsageAggregate(ctx, v.ID)
		})
		return err
	})
	g.Go(func() error {
		var err error
		top, err = retryRead(gctx, s.retryBackoff, func(ctx context.Context) ([]domain.TopCustomer, error) {
			return s.repo.TopCustomers(ctx, v.ID, domain.TopCustomersLimit)
		})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("voucher stats: %w", err)
	}

	return domain.BuildStats(v, counts, agg, top), nil
}

// CustomerHistory returns a customer's redemptions, newest first.
func (s *VoucherService) CustomerHistory(ctx context.Context, customerID string, page, perPage int) ([]domain.CustomerRedemption, int, error) {
	type result struct {
		items []domain.CustomerRedemption
		total int
	}
	r, err := retryRead(ctx, s.retryBackoff, func(ctx context.Context) (result, error) {
		items, total, err := s.repo.ListCustomerUsages(ctx, customerID, page, perPage)
		return result{items: items, total: total}, err
	})
	if err != nil {
		return nil, 0, fmt.Errorf("customer history: %w", err)
	}
	return r.items, r.total, nil
}

// ExportVouchers writes all of a merchant's vouchers to w as CSV.
func (s *VoucherService) ExportVouchers(ctx context.Context, merchantID string, w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for page := 1; ; page++ {
		vouchers, total, err := s.ListVouchers(ctx, repository.VoucherFilter{
			MerchantID: merchantID,
			Page:       page,
			PerPage:    exportPageSize,
		})
		if err != nil {
			return fmt.Errorf("export vouchers: %w", err)
		}
		for i := range vouchers {
			if err := cw.Write(exportRow(&vouchers[i])); err != nil {
				return fmt.Errorf("write csv row: %w", err)
			}
		}
		if len(vouchers) == 0 || page*exportPageSize >= total {
			break
		}
	}

	cw.Flush()
	return cw.Error()
}

func exportRow(v *domain.Voucher) []string {
	until := ""
	if v.ValidUntil != nil {
		until = v.ValidUntil.UTC().Format(time.RFC3339)
	}
	return []string{
		v.ID,
		string(v.Kind),
		v.Name,
		string(v.ValueType),
		strconv.FormatInt(v.Value, 10),
		strconv.Itoa(v.TotalQuantity),
		strconv.Itoa(v.RemainingQuantity),
		strconv.Itoa(v.TotalUsed),
		string(v.Status),
		v.ValidFrom.UTC().Format(time.RFC3339),
		until,
	}
}
