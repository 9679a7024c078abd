package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// AnonymousCustomer is the display name of a customer with no name recorded.
const AnonymousCustomer = "Без имени"

// TopCustomersLimit is how many customers the stats report ranks.
const TopCustomersLimit = 5

// CodeCounts is the number of codes of a voucher by status.
type CodeCounts struct {
	Active int
	Used   int
}

// UsageAggregate summarizes the committed usages of a voucher.
type UsageAggregate struct {
	UniqueCustomers int
	TotalGranted    int64
}

// TopCustomer is one row of the top-by-granted ranking.
type TopCustomer struct {
	CustomerID   string `json:"customerId"`
	Name         string `json:"name"`
	Usages       int    `json:"usages"`
	TotalGranted int64  `json:"totalGranted"`
}

// VoucherStats is the read-side aggregation for one voucher.
type VoucherStats struct {
	VoucherID       string          `json:"voucherId"`
	Name            string          `json:"name"`
	CodesIssued     int             `json:"codesIssued"`
	CodesActive     int             `json:"codesActive"`
	CodesUsed       int             `json:"codesUsed"`
	TotalUsages     int             `json:"totalUsages"`
	UniqueCustomers int             `json:"uniqueCustomers"`
	TotalGranted    int64           `json:"totalGranted"`
	ConversionRate  decimal.Decimal `json:"conversionRate"`
	AverageValue    decimal.Decimal `json:"averageValue"`
	TopCustomers    []TopCustomer   `json:"topCustomers"`
}

// BuildStats assembles the stats report. The usage count is the voucher's
// TotalUsed counter; rates are rounded to two decimal places.
func BuildStats(v *Voucher, codes CodeCounts, agg UsageAggregate, top []TopCustomer) *VoucherStats {
	issued := codes.Active + codes.Used
	usages := v.TotalUsed

	s := &VoucherStats{
		VoucherID:       v.ID,
		Name:            v.Name,
		CodesIssued:     issued,
		CodesActive:     codes.Active,
		CodesUsed:       codes.Used,
		TotalUsages:     usages,
		UniqueCustomers: agg.UniqueCustomers,
		TotalGranted:    agg.TotalGranted,
		ConversionRate:  decimal.Zero,
		AverageValue:    decimal.Zero,
		TopCustomers:    make([]TopCustomer, 0, len(top)),
	}
	if issued > 0 {
		s.ConversionRate = decimal.NewFromInt(int64(usages)).
			Mul(hundred).
			Div(decimal.NewFromInt(int64(issued))).
			Round(2)
	}
	if usages > 0 {
		s.AverageValue = decimal.NewFromInt(agg.TotalGranted).
			Div(decimal.NewFromInt(int64(usages))).
			Round(2)
	}
	for _, c := range top {
		if c.Name == "" {
			c.Name = AnonymousCustomer
		}
		s.TopCustomers = append(s.TopCustomers, c)
	}
	return s
}

// CreditKey is the idempotency key of the points credit for one redemption.
func CreditKey(voucherID, codeID, customerID, attemptID string) string {
	return fmt.Sprintf("credit:%s:%s:%s:%s", voucherID, codeID, customerID, attemptID)
}

// GiftCardDebitKey is the idempotency key of a gift card purchase debit.
func GiftCardDebitKey(voucherID string) string {
	return "giftcard:" + voucherID
}

// GiftCardRefundKey is the idempotency key of the compensating refund issued
// when a debited gift card could not be committed.
func GiftCardRefundKey(voucherID string) string {
	return "giftcard-refund:" + voucherID
}
