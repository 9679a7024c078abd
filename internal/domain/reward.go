package domain

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Reward is the outcome of the reward calculation for one redemption.
type Reward struct {
	ValueType ValueType `json:"valueType"`
	Amount    int64     `json:"amount"`
	// CreditPoints is true when Amount is credited to the customer's point
	// balance. Otherwise the amount is a discount the caller applies at the
	// point of sale.
	CreditPoints bool `json:"creditPoints"`
}

// CalculateReward computes the reward for a value type and value. PERCENT
// rewards need a purchase amount and are floored, never rounded.
func CalculateReward(vt ValueType, value int64, purchase *decimal.Decimal) (int64, error) {
	switch vt {
	case ValuePoints, ValueFixedAmount:
		return value, nil
	case ValuePercent:
		if purchase == nil {
			return 0, Reject(RejectPurchaseAmountRequired, MsgPurchaseRequired)
		}
		return purchase.Mul(decimal.NewFromInt(value)).Div(hundred).Floor().IntPart(), nil
	}
	return 0, Rejectf(RejectCampaignInactive, "Неизвестный тип ваучера: %s", vt)
}

// ShouldCreditPoints reports whether a reward is credited as points. Gift
// cards and POINTS vouchers are credited; PERCENT and FIXED_AMOUNT rewards on
// other kinds are point-of-sale discounts.
func ShouldCreditPoints(kind Kind, vt ValueType) bool {
	return kind == KindGiftCard || vt == ValuePoints
}

// RewardFor calculates the full reward for a redemption of v.
func (v *Voucher) RewardFor(purchase *decimal.Decimal) (Reward, error) {
	amount, err := CalculateReward(v.ValueType, v.Value, purchase)
	if err != nil {
		return Reward{}, err
	}
	return Reward{
		ValueType:    v.ValueType,
		Amount:       amount,
		CreditPoints: ShouldCreditPoints(v.Kind, v.ValueType),
	}, nil
}
