package domain

import (
	apperrors "github.com/utafrali/LoyaltyGo/pkg/errors"
)

// ValidateDefinition checks the business rules of a voucher definition that
// struct tags cannot express.
func ValidateDefinition(v *Voucher) error {
	if !v.Kind.Valid() {
		return apperrors.InvalidInput("unknown voucher kind " + string(v.Kind))
	}
	if !v.ValueType.Valid() {
		return apperrors.InvalidInput("unknown value type " + string(v.ValueType))
	}
	if v.Value <= 0 {
		return apperrors.InvalidInput("value must be greater than 0")
	}
	if v.ValueType == ValuePercent && v.Value > 100 {
		return apperrors.InvalidInput("percent value must be within (0, 100]")
	}
	if v.MinPurchaseAmount.IsNegative() {
		return apperrors.InvalidInput("minPurchaseAmount must not be negative")
	}
	if v.ValidUntil != nil && !v.ValidUntil.After(v.ValidFrom) {
		return apperrors.InvalidInput("validUntil must be after validFrom")
	}
	if v.MaxUsesPerCustomer < 1 {
		return apperrors.InvalidInput("maxUsesPerCustomer must be at least 1")
	}
	if v.MaxTotalUses < v.TotalUsed || v.MaxTotalUses < 1 {
		return apperrors.InvalidInput("maxTotalUses must not be below the number of uses already made")
	}
	return nil
}
