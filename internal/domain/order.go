package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatusPaid is the only status an order is recorded with; orders
// are written after the provider confirmed payment.
const PaymentStatusPaid = "paid"

// Order is a paid order as recorded at the end of checkout. CreatedAt is
// assigned by the store, not by the application clock.
type Order struct {
	ID              string          `json:"id"`
	UserID          string          `json:"userId"`
	Email           string          `json:"email"`
	Lines           []CartLine      `json:"items"`
	Total           decimal.Decimal `json:"total"`
	Currency        string          `json:"currency"`
	Address         string          `json:"address"`
	PaymentStatus   string          `json:"paymentStatus"`
	PaymentIntentID string          `json:"paymentIntentId,omitempty"`
	CheckoutID      string          `json:"checkoutId,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// Receipt is shown to the customer after a successful checkout.
type Receipt struct {
	OrderID   string          `json:"orderId"`
	Lines     []CartLine      `json:"items"`
	Total     decimal.Decimal `json:"total"`
	Currency  string          `json:"currency"`
	Address   string          `json:"address"`
	CreatedAt time.Time       `json:"createdAt,omitempty"`
}

// ReceiptFor builds the receipt of a stored order.
func ReceiptFor(o *Order) *Receipt {
	return &Receipt{
		OrderID:   o.ID,
		Lines:     Cart{Lines: o.Lines}.Clone().Lines,
		Total:     o.Total,
		Currency:  o.Currency,
		Address:   o.Address,
		CreatedAt: o.CreatedAt,
	}
}
