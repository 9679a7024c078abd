package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind is the kind of offer a voucher campaign represents. It decides
// whether rewards are credited as points and whether a code retires after
// one use (see OneShotCodes).
type Kind string

const (
	// KindGiftCard is a single purchased code. It retires after its
	// first redemption when maxUsesPerCustomer is 1.
	KindGiftCard Kind = "GIFT_CARD"
	// KindVoucher codes are handed to individual customers. They retire
	// after their first redemption when maxUsesPerCustomer is 1.
	KindVoucher Kind = "VOUCHER"
	// KindCoupon codes are shared promo codes that many customers redeem.
	// Unlike the other kinds they never retire on first use, even with
	// maxUsesPerCustomer 1; the per-customer and campaign counters bound
	// them instead.
	KindCoupon Kind = "COUPON"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindGiftCard, KindVoucher, KindCoupon:
		return true
	}
	return false
}

// ValueType determines how the reward value is interpreted.
type ValueType string

const (
	ValuePoints      ValueType = "POINTS"
	ValuePercent     ValueType = "PERCENT"
	ValueFixedAmount ValueType = "FIXED_AMOUNT"
)

// Valid reports whether t is a known value type.
func (t ValueType) Valid() bool {
	switch t {
	case ValuePoints, ValuePercent, ValueFixedAmount:
		return true
	}
	return false
}

// Status is the lifecycle status of a voucher campaign.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusInactive Status = "INACTIVE"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusActive || s == StatusInactive
}

// CodeStatus is the status of a single redemption code.
type CodeStatus string

const (
	CodeActive CodeStatus = "ACTIVE"
	CodeUsed   CodeStatus = "USED"
)

// Voucher is a merchant-scoped campaign: a gift card, voucher or coupon
// offer together with its quota counters.
//
// At every committed state TotalUsed <= MaxTotalUses and
// RemainingQuantity = TotalQuantity - TotalUsed. TotalUsed is the
// authoritative usage count; it is only changed by a redemption.
type Voucher struct {
	ID                    string          `json:"id"`
	MerchantID            string          `json:"merchantId"`
	Kind                  Kind            `json:"kind"`
	Name                  string          `json:"name"`
	Description           string          `json:"description"`
	ValueType             ValueType       `json:"valueType"`
	Value                 int64           `json:"value"`
	TotalQuantity         int             `json:"totalQuantity"`
	RemainingQuantity     int             `json:"remainingQuantity"`
	ValidFrom             time.Time       `json:"validFrom"`
	ValidUntil            *time.Time      `json:"validUntil,omitempty"`
	MinPurchaseAmount     decimal.Decimal `json:"minPurchaseAmount"`
	MaxUsesPerCustomer    int             `json:"maxUsesPerCustomer"`
	MaxTotalUses          int             `json:"maxTotalUses"`
	TotalUsed             int             `json:"totalUsed"`
	Status                Status          `json:"status"`
	ApplicableProductIDs  []string        `json:"applicableProductIds,omitempty"`
	ApplicableCategoryIDs []string        `json:"applicableCategoryIds,omitempty"`
	Metadata              map[string]any  `json:"metadata,omitempty"`
	CreatedAt             time.Time       `json:"createdAt"`
	UpdatedAt             time.Time       `json:"updatedAt"`
}

// OneShotCodes reports whether codes of this voucher retire after their
// first redemption. The rule is keyed on the campaign-wide per-customer
// limit, so with a limit of 1 every voucher or gift card code serves exactly
// one customer. Coupon codes are shared promo codes and stay active; they are
// bounded by the per-customer and campaign counters instead.
func (v *Voucher) OneShotCodes() bool {
	return v.MaxUsesPerCustomer == 1 && v.Kind != KindCoupon
}

// VoucherCode is a globally unique redeemable string belonging to one voucher.
type VoucherCode struct {
	ID        string     `json:"id"`
	VoucherID string     `json:"voucherId"`
	Code      string     `json:"code"`
	Status    CodeStatus `json:"status"`
	CreatedAt time.Time  `json:"createdAt"`
}

// VoucherUsage is the append-only record of one successful redemption.
type VoucherUsage struct {
	ID             string           `json:"id"`
	VoucherID      string           `json:"voucherId"`
	CodeID         string           `json:"codeId"`
	CustomerID     string           `json:"customerId"`
	AttemptID      string           `json:"attemptId"`
	GrantedAmount  int64            `json:"grantedAmount"`
	PurchaseAmount *decimal.Decimal `json:"purchaseAmount,omitempty"`
	Metadata       map[string]any   `json:"metadata,omitempty"`
	UsedAt         time.Time        `json:"usedAt"`
}

// CustomerRedemption is a usage joined with the voucher and code it was made
// against, as shown in a customer's history.
type CustomerRedemption struct {
	UsageID       string    `json:"usageId"`
	VoucherID     string    `json:"voucherId"`
	VoucherName   string    `json:"voucherName"`
	Kind          Kind      `json:"kind"`
	ValueType     ValueType `json:"valueType"`
	Code          string    `json:"code"`
	GrantedAmount int64     `json:"grantedAmount"`
	UsedAt        time.Time `json:"usedAt"`
}

// VoucherView is the public projection of a voucher returned by code checks.
// It carries no internal identifiers.
type VoucherView struct {
	Kind              Kind            `json:"kind"`
	Name              string          `json:"name"`
	Description       string          `json:"description"`
	ValueType         ValueType       `json:"valueType"`
	Value             int64           `json:"value"`
	MinPurchaseAmount decimal.Decimal `json:"minPurchaseAmount"`
	ValidFrom         time.Time       `json:"validFrom"`
	ValidUntil        *time.Time      `json:"validUntil,omitempty"`
	RemainingQuantity int             `json:"remainingQuantity"`
}

// View returns the public projection of v.
func (v *Voucher) View() *VoucherView {
	return &VoucherView{
		Kind:              v.Kind,
		Name:              v.Name,
		Description:       v.Description,
		ValueType:         v.ValueType,
		Value:             v.Value,
		MinPurchaseAmount: v.MinPurchaseAmount,
		ValidFrom:         v.ValidFrom,
		ValidUntil:        v.ValidUntil,
		RemainingQuantity: v.RemainingQuantity,
	}
}

// CheckResult is the verdict of a non-mutating code check.
type CheckResult struct {
	Valid   bool         `json:"valid"`
	Message string       `json:"message"`
	Voucher *VoucherView `json:"voucher,omitempty"`
}

// Quote is the reward a redemption would grant, as computed by a preview.
type Quote struct {
	Amount       int64        `json:"amount"`
	CreditPoints bool         `json:"creditPoints"`
	Voucher      *VoucherView `json:"voucher"`
}

// Template is a starter campaign preset.
type Template struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Description        string    `json:"description"`
	Kind               Kind      `json:"kind"`
	ValueType          ValueType `json:"valueType"`
	Value              int64     `json:"value"`
	Quantity           int       `json:"quantity"`
	ValidityDays       int       `json:"validityDays"`
	MaxUsesPerCustomer int       `json:"maxUsesPerCustomer"`
}
