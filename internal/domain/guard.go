package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const dateLayout = "02.01.2006"

// RedemptionSnapshot is the locked state a redemption is decided on.
type RedemptionSnapshot struct {
	Voucher *Voucher
	Code    *VoucherCode
	// CustomerUses is the number of usages of this code by the customer.
	CustomerUses int
}

// RedemptionAttempt carries the caller-supplied inputs of a redemption.
type RedemptionAttempt struct {
	MerchantID     string
	CustomerID     string
	PurchaseAmount *decimal.Decimal
	Now            time.Time
}

// CheckCode runs the code-level guards in order: the code is active, belongs
// to the merchant, is inside its validity window, its campaign is active and
// has remaining quantity. An empty merchantID skips the ownership guard, so
// only read-only checks may call it without one. The first failing guard wins.
func CheckCode(v *Voucher, c *VoucherCode, merchantID string, now time.Time) *RejectionError {
	return checkCode(v, c, merchantID, now, merchantID == "")
}

// CheckOwnership rejects unless v belongs to merchantID. An empty
// merchantID never matches.
func CheckOwnership(v *Voucher, merchantID string) *RejectionError {
	if merchantID == "" || v.MerchantID != merchantID {
		return Reject(RejectMerchantMismatch, MsgWrongMerchant)
	}
	return nil
}

func checkCode(v *Voucher, c *VoucherCode, merchantID string, now time.Time, anyMerchant bool) *RejectionError {
	if v == nil || c == nil || c.Status != CodeActive {
		return Reject(RejectInvalidCode, MsgCodeNotFound)
	}
	if !anyMerchant {
		if rej := CheckOwnership(v, merchantID); rej != nil {
			return rej
		}
	}
	if now.Before(v.ValidFrom) {
		return Rejectf(RejectOutOfValidityWindow, "Код будет активен с %s", v.ValidFrom.Format(dateLayout)).
			WithDetails(map[string]any{"validFrom": v.ValidFrom})
	}
	if v.ValidUntil != nil && now.After(*v.ValidUntil) {
		return Reject(RejectOutOfValidityWindow, MsgCodeExpired).
			WithDetails(map[string]any{"validUntil": *v.ValidUntil})
	}
	if v.Status != StatusActive {
		return Reject(RejectCampaignInactive, MsgVoucherInactive)
	}
	if v.RemainingQuantity <= 0 {
		return Reject(RejectQuotaExhaustedGlobal, MsgAllCodesUsed)
	}
	return nil
}

// EvaluateRedemption runs the whole guard chain against a locked snapshot and
// returns the reward to grant. Ownership is always checked. It is pure;
// callers persist the outcome.
func EvaluateRedemption(s RedemptionSnapshot, a RedemptionAttempt) (Reward, error) {
	if rej := checkCode(s.Voucher, s.Code, a.MerchantID, a.Now, false); rej != nil {
		return Reward{}, rej
	}
	v := s.Voucher

	if s.CustomerUses >= v.MaxUsesPerCustomer {
		return Reward{}, Rejectf(RejectQuotaExhaustedPerCustomer, "Вы уже использовали этот код %d раз(а)", s.CustomerUses).
			WithDetails(map[string]any{"used": s.CustomerUses, "limit": v.MaxUsesPerCustomer})
	}
	if v.TotalUsed >= v.MaxTotalUses {
		return Reward{}, Reject(RejectQuotaExhaustedTotal, MsgTotalLimitReached).
			WithDetails(map[string]any{"used": v.TotalUsed, "limit": v.MaxTotalUses})
	}
	if rej := checkMinPurchase(v, a.PurchaseAmount); rej != nil {
		return Reward{}, rej
	}

	return v.RewardFor(a.PurchaseAmount)
}

// Preview quotes the reward a redemption would grant without the customer
// quota guards. FIXED_AMOUNT rewards are capped at the purchase amount.
func Preview(v *Voucher, c *VoucherCode, a RedemptionAttempt) (Reward, error) {
	if rej := checkCode(v, c, a.MerchantID, a.Now, false); rej != nil {
		return Reward{}, rej
	}
	if rej := checkMinPurchase(v, a.PurchaseAmount); rej != nil {
		return Reward{}, rej
	}

	r, err := v.RewardFor(a.PurchaseAmount)
	if err != nil {
		return Reward{}, err
	}
	if v.ValueType == ValueFixedAmount && a.PurchaseAmount != nil {
		if limit := a.PurchaseAmount.Floor().IntPart(); r.Amount > limit {
			r.Amount = limit
		}
	}
	return r, nil
}

// Verdict is the user-facing result of a non-mutating code check. Rejections
// become {valid: false, message} instead of errors.
func Verdict(v *Voucher, c *VoucherCode, merchantID string, now time.Time) *CheckResult {
	if rej := CheckCode(v, c, merchantID, now); rej != nil {
		return &CheckResult{Valid: false, Message: rej.Message}
	}
	return &CheckResult{Valid: true, Message: MsgCodeValid, Voucher: v.View()}
}

func checkMinPurchase(v *Voucher, purchase *decimal.Decimal) *RejectionError {
	if !v.MinPurchaseAmount.IsPositive() {
		return nil
	}
	if purchase == nil || purchase.LessThan(v.MinPurchaseAmount) {
		return Rejectf(RejectMinPurchaseNotMet, "Минимальная сумма покупки: %s", v.MinPurchaseAmount.String()).
			WithDetails(map[string]any{"minPurchaseAmount": v.MinPurchaseAmount.String()})
	}
	return nil
}
