package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"doorlist.app/internal/coupon"
	"doorlist.app/internal/ticket"
)

func TestCreateOrderReservesStock(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(nil)
	tickets := testTicketStore(t, 3)
	coupons := coupon.NewMemory()
	co := NewCheckout(store, tickets, coupons)

	o, err := co.CreateOrder(ctx, "usr_1", "tkt_1", 2, "")
	if err != nil {
		t.Fatal(err)
	}
	if o.Status != StatusPending || o.FinalPrice != 9000 || o.OriginalPrice != 9000 {
		t.Fatalf("unexpected order: %+v", o)
	}
	tk, _ := tickets.Find(ctx, "tkt_1")
	if tk.Stock != 1 {
		t.Fatalf("stock = %d, want 1", tk.Stock)
	}
}

func TestCreateOrderAppliesCoupon(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(nil)
	tickets := testTicketStore(t, 5)
	coupons := coupon.NewMemory()
	err := coupons.Create(ctx, &coupon.Coupon{Code: "EARLY20", DiscountPercent: 20, MaxUses: 10, Active: true})
	if err != nil {
		t.Fatal(err)
	}
	co := NewCheckout(store, tickets, coupons)

	o, err := co.CreateOrder(ctx, "usr_1", "tkt_1", 2, "early20")
	if err != nil {
		t.Fatal(err)
	}
	if o.OriginalPrice != 9000 || o.FinalPrice != 7200 {
		t.Fatalf("prices = %d/%d, want 9000/7200", o.OriginalPrice, o.FinalPrice)
	}
	if o.CouponCode != "EARLY20" {
		t.Fatalf("coupon code = %q", o.CouponCode)
	}
	got, _ := coupons.Find(ctx, "EARLY20")
	if got.UsesCount != 1 {
		t.Fatalf("coupon uses = %d, want 1", got.UsesCount)
	}
}

func TestCreateOrderRejectsInvalidCoupon(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(nil)
	tickets := testTicketStore(t, 5)
	co := NewCheckout(store, tickets, coupon.NewMemory())

	if _, err := co.CreateOrder(ctx, "usr_1", "tkt_1", 1, "NOPE"); !errors.Is(err, coupon.ErrInvalid) {
		t.Fatalf("expected coupon.ErrInvalid, got %v", err)
	}
	// Stock untouched when validation fails before the reserve.
	tk, _ := tickets.Find(ctx, "tkt_1")
	if tk.Stock != 5 {
		t.Fatalf("stock = %d, want 5", tk.Stock)
	}
}

// consumeFailStore passes validation but fails at Consume, mimicking a
// coupon exhausted by a concurrent checkout between Find and Consume.
type consumeFailStore struct {
	coupon.Store
}

func (consumeFailStore) Consume(_ context.Context, _ string, _ time.Time) error {
	return coupon.ErrInvalid
}

func TestCreateOrderReleasesStockWhenCouponConsumeFails(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(nil)
	tickets := testTicketStore(t, 5)
	coupons := coupon.NewMemory()
	if err := coupons.Create(ctx, &coupon.Coupon{Code: "ONCE", DiscountPercent: 10, MaxUses: 1, Active: true}); err != nil {
		t.Fatal(err)
	}
	co := NewCheckout(store, tickets, consumeFailStore{coupons})

	if _, err := co.CreateOrder(ctx, "usr_1", "tkt_1", 1, "ONCE"); !errors.Is(err, coupon.ErrInvalid) {
		t.Fatalf("expected coupon.ErrInvalid, got %v", err)
	}

	tk, _ := tickets.Find(ctx, "tkt_1")
	if tk.Stock != 5 {
		t.Fatalf("stock = %d, want 5 (failed checkout must release its reservation)", tk.Stock)
	}
}

func TestCreateOrderSoldOut(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(nil)
	tickets := testTicketStore(t, 1)
	co := NewCheckout(store, tickets, coupon.NewMemory())

	if _, err := co.CreateOrder(ctx, "usr_1", "tkt_1", 2, ""); !errors.Is(err, ticket.ErrSoldOut) {
		t.Fatalf("expected ticket.ErrSoldOut, got %v", err)
	}
}

func TestCreateOrderRejectsNonPositiveQuantity(t *testing.T) {
	co := NewCheckout(NewMemory(nil), testTicketStore(t, 1), coupon.NewMemory())
	for _, qty := range []int{0, -1} {
		if _, err := co.CreateOrder(context.Background(), "usr_1", "tkt_1", qty, ""); !errors.Is(err, ErrInvalidQuantity) {
			t.Fatalf("qty %d: expected ErrInvalidQuantity, got %v", qty, err)
		}
	}
}
