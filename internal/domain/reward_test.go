package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Reward Calculation Tests
// ============================================================================

func TestCalculateReward(t *testing.T) {
	tests := []struct {
		name     string
		vt       ValueType
		value    int64
		purchase *decimal.Decimal
		want     int64
	}{
		{"points ignore purchase", ValuePoints, 500, dec("10"), 500},
		{"points without purchase", ValuePoints, 500, nil, 500},
		{"fixed amount", ValueFixedAmount, 300, nil, 300},
		{"percent floors", ValuePercent, 10, dec("999"), 99},
		{"percent fractional purchase", ValuePercent, 15, dec("133.33"), 19},
		{"percent exact", ValuePercent, 50, dec("200"), 100},
		{"percent of zero", ValuePercent, 10, dec("0"), 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := CalculateReward(tc.vt, tc.value, tc.purchase)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCalculateReward_PercentWithoutPurchase(t *testing.T) {
	_, err := CalculateReward(ValuePercent, 10, nil)
	assert.True(t, IsRejection(err, RejectPurchaseAmountRequired))
}

func TestShouldCreditPoints(t *testing.T) {
	assert.True(t, ShouldCreditPoints(KindGiftCard, ValueFixedAmount))
	assert.True(t, ShouldCreditPoints(KindCoupon, ValuePoints))
	assert.True(t, ShouldCreditPoints(KindVoucher, ValuePoints))
	assert.False(t, ShouldCreditPoints(KindCoupon, ValuePercent))
	assert.False(t, ShouldCreditPoints(KindVoucher, ValueFixedAmount))
}

// ============================================================================
// Voucher Tests
// ============================================================================

func TestOneShotCodes(t *testing.T) {
	v := &Voucher{Kind: KindVoucher, MaxUsesPerCustomer: 1}
	assert.True(t, v.OneShotCodes())

	v.Kind = KindGiftCard
	assert.True(t, v.OneShotCodes())

	v.Kind = KindCoupon
	assert.False(t, v.OneShotCodes())

	v.Kind = KindVoucher
	v.MaxUsesPerCustomer = 3
	assert.False(t, v.OneShotCodes())
}

func TestVoucherView_HidesIdentifiers(t *testing.T) {
	v := newTestVoucher()
	view := v.View()
	assert.Equal(t, v.Name, view.Name)
	assert.Equal(t, v.RemainingQuantity, view.RemainingQuantity)
}

func TestValidateDefinition(t *testing.T) {
	until := testNow.Add(-48 * time.Hour)
	tests := []struct {
		name    string
		mutate  func(v *Voucher)
		wantErr string
	}{
		{"valid", func(*Voucher) {}, ""},
		{"bad kind", func(v *Voucher) { v.Kind = "BONUS" }, "unknown voucher kind"},
		{"bad value type", func(v *Voucher) { v.ValueType = "CASH" }, "unknown value type"},
		{"zero value", func(v *Voucher) { v.Value = 0 }, "greater than 0"},
		{"percent over 100", func(v *Voucher) { v.ValueType = ValuePercent; v.Value = 101 }, "(0, 100]"},
		{"negative min purchase", func(v *Voucher) { v.MinPurchaseAmount = decimal.NewFromInt(-1) }, "must not be negative"},
		{"window inverted", func(v *Voucher) { v.ValidUntil = &until }, "validUntil must be after validFrom"},
		{"zero per customer", func(v *Voucher) { v.MaxUsesPerCustomer = 0 }, "maxUsesPerCustomer"},
		{"total below used", func(v *Voucher) { v.TotalUsed = 3 }, "maxTotalUses"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v := newTestVoucher()
			tc.mutate(v)
			err := ValidateDefinition(v)
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

// ============================================================================
// Stats Tests
// ============================================================================

func TestBuildStats(t *testing.T) {
	v := newTestVoucher()
	v.TotalUsed = 2

	s := BuildStats(v, CodeCounts{Active: 1, Used: 2}, UsageAggregate{UniqueCustomers: 2, TotalGranted: 1001},
		[]TopCustomer{{CustomerID: "a", Name: "Анна", Usages: 1, TotalGranted: 501}, {CustomerID: "b", Usages: 1, TotalGranted: 500}})

	assert.Equal(t, 3, s.CodesIssued)
	assert.Equal(t, 2, s.TotalUsages)
	assert.Equal(t, "66.67", s.ConversionRate.String())
	assert.Equal(t, "500.5", s.AverageValue.String())
	require.Len(t, s.TopCustomers, 2)
	assert.Equal(t, "Анна", s.TopCustomers[0].Name)
	assert.Equal(t, AnonymousCustomer, s.TopCustomers[1].Name)
}

func TestBuildStats_Empty(t *testing.T) {
	v := newTestVoucher()
	s := BuildStats(v, CodeCounts{}, UsageAggregate{}, nil)
	assert.True(t, s.ConversionRate.IsZero())
	assert.True(t, s.AverageValue.IsZero())
	assert.NotNil(t, s.TopCustomers)
}

func TestIdempotencyKeys(t *testing.T) {
	assert.Equal(t, "credit:v:c:cust:a", CreditKey("v", "c", "cust", "a"))
	assert.Equal(t, "giftcard:v", GiftCardDebitKey("v"))
	assert.Equal(t, "giftcard-refund:v", GiftCardRefundKey("v"))
}
