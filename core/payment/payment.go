// Package payment takes locked carts through the PayPal and Stripe gateways
// and delivers them once the gateway reports the capture.
package payment

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	Pending   Status = "pending"
	Completed Status = "completed"
)

const (
	GatewayPaypal = "paypal"
	GatewayStripe = "stripe"
)

// Payment is a ledger row bound to one gateway order of a cart.
type Payment struct {
	ID          string          `json:"id" db:"payment_id"`
	CartID      string          `json:"cartId" db:"cart_id"`
	UserID      string          `json:"userId" db:"user_id"`
	Gateway     string          `json:"gateway" db:"gateway"`
	ProviderRef string          `json:"providerRef" db:"provider_ref"`
	Account     string          `json:"account" db:"account"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	Currency    string          `json:"currency" db:"currency"`
	Status      Status          `json:"status" db:"status"`
	CreatedAt   time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time       `json:"updatedAt" db:"updated_at"`
}

type StatusUp struct {
	ID        string    `db:"payment_id"`
	Status    Status    `db:"status"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Payable is what the gateway charges for a cart.
type Payable struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Account  string          `json:"account"`
}
