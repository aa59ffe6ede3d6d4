// Package payment owns orders, gateway webhook processing and the
// reconciliation job that corrects drift between orders and payments.
package payment

import (
	"errors"
	"time"
)

// Status is an order's lifecycle state. Transitions are monotonic: pending
// is the only state that permits a transition, so an order can never
// re-enter pending or flip between paid and cancelled.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
	StatusRefunded  Status = "refunded"
)

// Order is a checkout in flight. Prices are in minor units.
type Order struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	TicketID      string    `json:"ticket_id"`
	Quantity      int       `json:"quantity"`
	OriginalPrice int64     `json:"original_price"`
	FinalPrice    int64     `json:"final_price"`
	CouponCode    string    `json:"coupon_code,omitempty"`
	Status        Status    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// PaymentStatus is the gateway-reported state of a payment row.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentSuccess PaymentStatus = "success"
	PaymentFailed  PaymentStatus = "failed"
)

// Payment records one gateway event applied to an order. GatewayEventID is
// unique; it is the idempotency anchor that makes webhook redelivery safe.
type Payment struct {
	ID             string        `json:"id"`
	OrderID        string        `json:"order_id"`
	Gateway        string        `json:"gateway"`
	GatewayEventID string        `json:"gateway_event_id"`
	Amount         int64         `json:"amount"`
	Status         PaymentStatus `json:"status"`
	CreatedAt      time.Time     `json:"created_at"`
}

var (
	ErrOrderNotFound   = errors.New("payment: order not found")
	ErrStatusConflict  = errors.New("payment: order is not in the expected status")
	ErrDuplicateEvent  = errors.New("payment: gateway event already applied")
	ErrMissingMetadata = errors.New("payment: event metadata is missing order_id or amount")
	ErrBadSignature    = errors.New("payment: invalid webhook signature")
	ErrInvalidQuantity = errors.New("payment: quantity must be > 0")
)
