package payment

import (
	"context"
	"sync"
	"testing"
	"time"

	"doorlist.app/internal/ledger"
	"doorlist.app/internal/ticket"
)

func testTicketStore(t *testing.T, stock int) ticket.Store {
	t.Helper()
	ts := ticket.NewMemory()
	if err := ts.Create(context.Background(), &ticket.Ticket{ID: "tkt_1", Name: "GA", Price: 4500, Stock: stock, Active: true}); err != nil {
		t.Fatal(err)
	}
	return ts
}

func TestReconcilerCancelsStalePendingOrders(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(nil)
	tickets := testTicketStore(t, 10)

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	stale := pendingOrder(t, store, 4500)
	stale.CreatedAt = start
	_ = store.CreateOrder(ctx, stale) // overwrite with the backdated copy
	_ = tickets.Reserve(ctx, "tkt_1", stale.Quantity)

	fresh := pendingOrder(t, store, 4500)
	fresh.CreatedAt = start.Add(29 * time.Minute)
	_ = store.CreateOrder(ctx, fresh)

	now := start.Add(31 * time.Minute)
	rec := NewReconciler(store, tickets, 30*time.Minute, WithReconcilerClock(func() time.Time { return now }))

	rep, err := rec.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rep.CancelledOrders != 1 || rep.RestoredStock != 1 || rep.ReconciledPayments != 0 {
		t.Fatalf("unexpected report: %+v", rep)
	}

	got, _ := store.FindOrder(ctx, stale.ID)
	if got.Status != StatusCancelled {
		t.Fatalf("stale order status = %q, want cancelled", got.Status)
	}
	got, _ = store.FindOrder(ctx, fresh.ID)
	if got.Status != StatusPending {
		t.Fatalf("fresh order status = %q, want pending", got.Status)
	}

	tk, _ := tickets.Find(ctx, "tkt_1")
	if tk.Stock != 10 {
		t.Fatalf("stock = %d, want 10 after restore", tk.Stock)
	}
}

func TestReconcilerSkipsOrderWithPendingPayment(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(nil)
	tickets := testTicketStore(t, 10)

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	o := pendingOrder(t, store, 4500)
	o.CreatedAt = start
	_ = store.CreateOrder(ctx, o)
	_ = tickets.Reserve(ctx, "tkt_1", o.Quantity)

	// A payment is still settling at the gateway.
	err := store.RecordPayment(ctx, &Payment{
		ID: "pay_1", OrderID: o.ID, GatewayEventID: "evt_inflight",
		Amount: 4500, Status: PaymentPending, CreatedAt: start.Add(time.Minute),
	})
	if err != nil {
		t.Fatal(err)
	}

	now := start.Add(2 * time.Hour)
	rec := NewReconciler(store, tickets, 30*time.Minute, WithReconcilerClock(func() time.Time { return now }))

	rep, err := rec.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rep.CancelledOrders != 0 || rep.RestoredStock != 0 || rep.ReconciledPayments != 0 {
		t.Fatalf("unexpected report: %+v", rep)
	}

	got, _ := store.FindOrder(ctx, o.ID)
	if got.Status != StatusPending {
		t.Fatalf("order status = %q, want pending while a payment settles", got.Status)
	}
	tk, _ := tickets.Find(ctx, "tkt_1")
	if tk.Stock != 9 {
		t.Fatalf("stock = %d, want 9 (reservation kept)", tk.Stock)
	}
}

func TestReconcilerForwardCorrectsPaidOrder(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(nil)
	tickets := testTicketStore(t, 10)

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	o := pendingOrder(t, store, 4500)
	o.CreatedAt = start
	_ = store.CreateOrder(ctx, o)

	// A successful payment exists but the order never left pending.
	err := store.RecordPayment(ctx, &Payment{
		ID: "pay_1", OrderID: o.ID, GatewayEventID: "evt_x",
		Amount: 4500, Status: PaymentSuccess, CreatedAt: start.Add(time.Minute),
	})
	if err != nil {
		t.Fatal(err)
	}

	now := start.Add(31 * time.Minute)
	rec := NewReconciler(store, tickets, 30*time.Minute, WithReconcilerClock(func() time.Time { return now }))
	rep, err := rec.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rep.ReconciledPayments != 1 || rep.CancelledOrders != 0 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	got, _ := store.FindOrder(ctx, o.ID)
	if got.Status != StatusPaid {
		t.Fatalf("order status = %q, want paid", got.Status)
	}
	// No stock restored for a paid order.
	tk, _ := tickets.Find(ctx, "tkt_1")
	if tk.Stock != 10 {
		t.Fatalf("stock = %d, want 10", tk.Stock)
	}
}

func TestReconcilerRunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(nil)
	tickets := testTicketStore(t, 10)

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	o := pendingOrder(t, store, 4500)
	o.CreatedAt = start
	_ = store.CreateOrder(ctx, o)
	_ = tickets.Reserve(ctx, "tkt_1", 1)

	now := start.Add(31 * time.Minute)
	rec := NewReconciler(store, tickets, 30*time.Minute, WithReconcilerClock(func() time.Time { return now }))

	if _, err := rec.Run(ctx); err != nil {
		t.Fatal(err)
	}
	rep, err := rec.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rep.CancelledOrders != 0 || rep.RestoredStock != 0 {
		t.Fatalf("second run changed state: %+v", rep)
	}
	tk, _ := tickets.Find(ctx, "tkt_1")
	if tk.Stock != 10 {
		t.Fatalf("stock = %d after double run, want 10", tk.Stock)
	}
}

// A webhook delivery racing the reconciler must settle the order exactly
// once: either paid via the webhook or cancelled via the sweep, never both
// and never pending.
func TestWebhookAndReconcilerRace(t *testing.T) {
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		store := NewMemory(ledger.NewInMemory())
		tickets := testTicketStore(t, 10)

		start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		o := pendingOrder(t, store, 4500)
		o.CreatedAt = start
		_ = store.CreateOrder(ctx, o)
		_ = tickets.Reserve(ctx, "tkt_1", 1)

		now := start.Add(31 * time.Minute)
		proc := NewProcessor(store, WithProcessorClock(func() time.Time { return now }))
		rec := NewReconciler(store, tickets, 30*time.Minute, WithReconcilerClock(func() time.Time { return now }))

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = proc.HandleEvent(ctx, completedEvent(o.ID, "45.00"))
		}()
		go func() {
			defer wg.Done()
			_, _ = rec.Run(ctx)
		}()
		wg.Wait()

		got, _ := store.FindOrder(ctx, o.ID)
		if got.Status != StatusPaid && got.Status != StatusCancelled {
			t.Fatalf("iteration %d: order left in %q", i, got.Status)
		}
	}
}

func TestRefund(t *testing.T) {
	ctx := context.Background()
	led := ledger.NewInMemory()
	store := NewMemory(led)
	tickets := testTicketStore(t, 10)
	_ = tickets.Reserve(ctx, "tkt_1", 1)

	o := pendingOrder(t, store, 4500)
	if err := store.UpdateStatus(ctx, o.ID, StatusPending, StatusPaid, time.Now()); err != nil {
		t.Fatal(err)
	}

	rec := NewReconciler(store, tickets, 30*time.Minute)
	if err := rec.Refund(ctx, led, o.ID); err != nil {
		t.Fatal(err)
	}

	got, _ := store.FindOrder(ctx, o.ID)
	if got.Status != StatusRefunded {
		t.Fatalf("order status = %q, want refunded", got.Status)
	}
	tk, _ := tickets.Find(ctx, "tkt_1")
	if tk.Stock != 10 {
		t.Fatalf("stock = %d, want 10", tk.Stock)
	}
	entries, _, _ := led.List(ctx, 10, 0)
	if len(entries) != 1 || entries[0].Type != ledger.EntryRefund {
		t.Fatalf("unexpected ledger entries: %+v", entries)
	}

	// Refunding twice fails the status guard.
	if err := rec.Refund(ctx, led, o.ID); err == nil {
		t.Fatal("double refund succeeded")
	}
}
