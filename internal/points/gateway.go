// Package points talks to the external points ledger that owns customer
// balances.
package points

import (
	"context"
	"errors"
)

// ErrInsufficientBalance is returned by Redeem when the customer's balance
// does not cover the amount.
var ErrInsufficientBalance = errors.New("insufficient points balance")

// Transfer is one balance movement. The ledger deduplicates transfers by
// IdempotencyKey.
type Transfer struct {
	CustomerID     string `json:"customerId"`
	MerchantID     string `json:"merchantId"`
	Amount         int64  `json:"amount"`
	IdempotencyKey string `json:"-"`
	Reason         string `json:"reason,omitempty"`
}

// Gateway credits and debits customer point balances.
type Gateway interface {
	Earn(ctx context.Context, t Transfer) error
	Redeem(ctx context.Context, t Transfer) error
}
