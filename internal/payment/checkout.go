package payment

import (
	"context"
	"fmt"
	"time"

	"doorlist.app/internal/coupon"
	"doorlist.app/internal/ids"
	"doorlist.app/internal/ticket"
)

// Checkout creates pending orders: it reserves stock, applies a coupon if
// one is given, and writes the order. Reserved stock is released again if
// any later step fails.
type Checkout struct {
	store   Store
	tickets ticket.Store
	coupons coupon.Store
	now     func() time.Time
}

type CheckoutOption func(*Checkout)

func WithCheckoutClock(now func() time.Time) CheckoutOption {
	return func(c *Checkout) { c.now = now }
}

func NewCheckout(store Store, tickets ticket.Store, coupons coupon.Store, opts ...CheckoutOption) *Checkout {
	c := &Checkout{store: store, tickets: tickets, coupons: coupons, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateOrder reserves qty units of the ticket and records a pending
// order. The returned order's FinalPrice is what the gateway should charge.
func (c *Checkout) CreateOrder(ctx context.Context, userID, ticketID string, qty int, couponCode string) (*Order, error) {
	if qty <= 0 {
		return nil, ErrInvalidQuantity
	}
	t, err := c.tickets.Find(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	now := c.now().UTC()

	original := t.Price * int64(qty)
	final := original
	if couponCode != "" {
		cp, err := c.coupons.Find(ctx, couponCode)
		if err != nil {
			return nil, err
		}
		if !cp.Usable(now) {
			return nil, coupon.ErrInvalid
		}
		final = cp.Apply(t.Price) * int64(qty)
	}

	if err := c.tickets.Reserve(ctx, ticketID, qty); err != nil {
		return nil, err
	}

	if couponCode != "" {
		if err := c.coupons.Consume(ctx, couponCode, now); err != nil {
			c.release(ctx, ticketID, qty)
			return nil, err
		}
	}

	o := &Order{
		ID:            ids.New(),
		UserID:        userID,
		TicketID:      ticketID,
		Quantity:      qty,
		OriginalPrice: original,
		FinalPrice:    final,
		CouponCode:    coupon.NormalizeCode(couponCode),
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := c.store.CreateOrder(ctx, o); err != nil {
		c.release(ctx, ticketID, qty)
		return nil, fmt.Errorf("payment: create order: %w", err)
	}
	return o, nil
}

// release returns reserved stock after a failed step. Errors are dropped:
// any drift left behind is repaired by the reconciliation job.
func (c *Checkout) release(ctx context.Context, ticketID string, qty int) {
	_ = c.tickets.Restore(ctx, ticketID, qty)
}
