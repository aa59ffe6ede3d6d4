package payment

import (
	"context"
	"time"

	"doorlist.app/internal/ledger"
)

// Store is the persistence boundary for orders and payments. UpdateStatus
// is compare-and-swap: it moves an order from one status to another only
// if the current status matches, so concurrent writers cannot both win.
type Store interface {
	CreateOrder(ctx context.Context, o *Order) error
	FindOrder(ctx context.Context, id string) (*Order, error)
	ListOrders(ctx context.Context, userID string) ([]*Order, error)
	ListPendingBefore(ctx context.Context, cutoff time.Time) ([]*Order, error)
	UpdateStatus(ctx context.Context, orderID string, from, to Status, at time.Time) error

	FindPaymentByEvent(ctx context.Context, gatewayEventID string) (*Payment, error)
	ListPayments(ctx context.Context, orderID string) ([]*Payment, error)

	// Finalize applies a successful payment atomically: it inserts the
	// payment row, moves the order from pending to paid and appends the
	// ledger entry in one transaction. Returns ErrDuplicateEvent if the
	// gateway event was already recorded, ErrStatusConflict if the order
	// left pending in the meantime.
	Finalize(ctx context.Context, orderID string, p *Payment, entry *ledger.Entry) error

	// RecordPayment inserts a payment row without touching the order.
	// Used for failed or out-of-band events.
	RecordPayment(ctx context.Context, p *Payment) error
}
