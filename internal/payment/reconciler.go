package payment

import (
	"context"
	"errors"
	"time"

	"doorlist.app/internal/audit"
	"doorlist.app/internal/ids"
	"doorlist.app/internal/ledger"
	"doorlist.app/internal/obs"
	"doorlist.app/internal/stream"
	"doorlist.app/internal/ticket"
)

// Report summarizes one reconciliation run.
type Report struct {
	CancelledOrders    int       `json:"cancelled_orders"`
	RestoredStock      int       `json:"restored_stock"`
	ReconciledPayments int       `json:"reconciled_payments"`
	Timestamp          time.Time `json:"timestamp"`
}

// Reconciler sweeps pending orders that outlived the payment window.
// Orders with a successful payment on record are forward-corrected to
// paid; the rest are cancelled and their stock restored. Each order is
// handled independently, so one failure does not stop the sweep.
type Reconciler struct {
	store   Store
	tickets ticket.Store
	events  *stream.Stream
	timeout time.Duration
	now     func() time.Time
}

type ReconcilerOption func(*Reconciler)

func WithReconcilerClock(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) { r.now = now }
}

func WithReconcilerStream(s *stream.Stream) ReconcilerOption {
	return func(r *Reconciler) { r.events = s }
}

func NewReconciler(store Store, tickets ticket.Store, timeout time.Duration, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{store: store, tickets: tickets, timeout: timeout, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run performs one sweep and returns what it changed.
func (r *Reconciler) Run(ctx context.Context) (Report, error) {
	now := r.now().UTC()
	rep := Report{Timestamp: now}

	stale, err := r.store.ListPendingBefore(ctx, now.Add(-r.timeout))
	if err != nil {
		return rep, err
	}
	for _, o := range stale {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if err := r.reconcileOrder(ctx, o, now, &rep); err != nil {
			_ = audit.LogEvent(ctx, "reconcile.error", map[string]any{
				"order_id": o.ID,
				"error":    err.Error(),
			})
		}
	}
	return rep, nil
}

func (r *Reconciler) reconcileOrder(ctx context.Context, o *Order, now time.Time, rep *Report) error {
	payments, err := r.store.ListPayments(ctx, o.ID)
	if err != nil {
		return err
	}
	pending := false
	for _, p := range payments {
		if p.Status == PaymentSuccess {
			return r.forwardCorrect(ctx, o, p, now, rep)
		}
		if p.Status == PaymentPending {
			pending = true
		}
	}
	if pending {
		// A payment is still settling at the gateway; cancelling now would
		// race its confirmation. Leave the order for the next sweep.
		return nil
	}
	return r.cancel(ctx, o, now, rep)
}

// forwardCorrect moves an order to paid when a successful payment exists
// but the webhook lost the race with a settle attempt.
func (r *Reconciler) forwardCorrect(ctx context.Context, o *Order, p *Payment, now time.Time, rep *Report) error {
	err := r.store.UpdateStatus(ctx, o.ID, StatusPending, StatusPaid, now)
	if errors.Is(err, ErrStatusConflict) {
		return nil // someone else settled it first
	}
	if err != nil {
		return err
	}
	rep.ReconciledPayments++
	obs.PaymentsReconciledTotal.Inc()
	_ = audit.LogEvent(ctx, "reconcile.paid", map[string]any{
		"order_id":   o.ID,
		"payment_id": p.ID,
	})
	r.publish(o, StatusPaid, "reconciled", now)
	return nil
}

func (r *Reconciler) cancel(ctx context.Context, o *Order, now time.Time, rep *Report) error {
	err := r.store.UpdateStatus(ctx, o.ID, StatusPending, StatusCancelled, now)
	if errors.Is(err, ErrStatusConflict) {
		return nil // paid or cancelled while we were looking
	}
	if err != nil {
		return err
	}
	rep.CancelledOrders++
	obs.OrdersCancelledTotal.Inc()

	if err := r.tickets.Restore(ctx, o.TicketID, o.Quantity); err != nil {
		_ = audit.LogEvent(ctx, "reconcile.restore_failed", map[string]any{
			"order_id":  o.ID,
			"ticket_id": o.TicketID,
			"error":     err.Error(),
		})
	} else {
		rep.RestoredStock += o.Quantity
	}

	_ = audit.LogEvent(ctx, "reconcile.cancelled", map[string]any{
		"order_id": o.ID,
		"reason":   "timeout",
	})
	r.publish(o, StatusCancelled, "timeout", now)
	return nil
}

func (r *Reconciler) publish(o *Order, st Status, reason string, now time.Time) {
	if r.events == nil {
		return
	}
	r.events.Publish(stream.OrderEvent{
		OrderID:   o.ID,
		TicketID:  o.TicketID,
		Status:    string(st),
		Amount:    o.FinalPrice,
		Reason:    reason,
		Timestamp: now,
	})
}

// Refund reverses a paid order: status moves paid -> refunded, stock is
// restored and a refund ledger entry is appended. Used by admin support.
func (r *Reconciler) Refund(ctx context.Context, led ledger.Service, orderID string) error {
	o, err := r.store.FindOrder(ctx, orderID)
	if err != nil {
		return err
	}
	now := r.now().UTC()
	if err := r.store.UpdateStatus(ctx, o.ID, StatusPaid, StatusRefunded, now); err != nil {
		return err
	}
	if err := r.tickets.Restore(ctx, o.TicketID, o.Quantity); err != nil {
		return err
	}
	if led != nil {
		_, err = led.Append(ctx, ledger.Entry{
			ID:        ids.New(),
			OrderID:   o.ID,
			Type:      ledger.EntryRefund,
			Amount:    o.FinalPrice,
			Currency:  "USD",
			CreatedAt: now,
		})
		if err != nil {
			return err
		}
	}
	r.publish(o, StatusRefunded, "refund", now)
	return nil
}
