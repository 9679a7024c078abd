package domain

import "time"

// NotificationRequest asks the notification dispatcher to reveal a gift card
// code to its recipient. Delivery is fire-and-forget.
type NotificationRequest struct {
	VoucherID      string    `json:"voucherId"`
	MerchantID     string    `json:"merchantId"`
	Code           string    `json:"code"`
	Value          int64     `json:"value"`
	RecipientName  string    `json:"recipientName,omitempty"`
	RecipientPhone string    `json:"recipientPhone,omitempty"`
	RecipientEmail string    `json:"recipientEmail,omitempty"`
	SenderName     string    `json:"senderName,omitempty"`
	Message        string    `json:"message,omitempty"`
	ValidUntil     time.Time `json:"validUntil"`
}

// PendingCredit is a points credit that failed after its redemption was
// committed. It is retried with the same idempotency key until it succeeds.
type PendingCredit struct {
	VoucherID      string `json:"voucherId"`
	CodeID         string `json:"codeId"`
	UsageID        string `json:"usageId"`
	CustomerID     string `json:"customerId"`
	MerchantID     string `json:"merchantId"`
	AttemptID      string `json:"attemptId"`
	Amount         int64  `json:"amount"`
	IdempotencyKey string `json:"idempotencyKey"`
}

// Redemption is the committed outcome of a redemption request.
type Redemption struct {
	Usage    *VoucherUsage `json:"usage"`
	Voucher  *VoucherView  `json:"voucher"`
	Reward   Reward        `json:"reward"`
	Replayed bool          `json:"replayed"`
	// Remaining is the voucher's remaining quantity after the redemption.
	Remaining int `json:"remainingQuantity"`
}
