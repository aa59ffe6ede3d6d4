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
)

// Processor turns verified gateway events into order state. It is safe to
// feed the same event any number of times: the first delivery wins, every
// replay reports success without a second write.
type Processor struct {
	store  Store
	events *stream.Stream
	now    func() time.Time
}

type ProcessorOption func(*Processor)

func WithProcessorClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) { p.now = now }
}

func WithEventStream(s *stream.Stream) ProcessorOption {
	return func(p *Processor) { p.events = s }
}

func NewProcessor(store Store, opts ...ProcessorOption) *Processor {
	p := &Processor{store: store, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// HandleEvent applies one gateway event. Event types other than
// checkout.session.completed are acknowledged without side effects so the
// gateway stops redelivering them.
func (p *Processor) HandleEvent(ctx context.Context, ev *Event) error {
	if ev.Type != "checkout.session.completed" {
		obs.WebhookEventsTotal.WithLabelValues("ignored").Inc()
		return nil
	}

	if _, err := p.store.FindPaymentByEvent(ctx, ev.ID); err == nil {
		obs.WebhookEventsTotal.WithLabelValues("duplicate").Inc()
		return nil
	}

	orderID, amount, err := ev.OrderRef()
	if err != nil {
		obs.WebhookEventsTotal.WithLabelValues("invalid").Inc()
		return err
	}

	order, err := p.store.FindOrder(ctx, orderID)
	if err != nil {
		obs.WebhookEventsTotal.WithLabelValues("invalid").Inc()
		return err
	}

	now := p.now().UTC()
	pay := &Payment{
		ID:             ids.New(),
		OrderID:        order.ID,
		Gateway:        "card",
		GatewayEventID: ev.ID,
		Amount:         amount,
		Status:         PaymentSuccess,
		CreatedAt:      now,
	}

	if order.Status != StatusPending {
		// Order already settled (paid, cancelled or refunded). Keep the
		// payment row for the reconciler and audit trail, but do not touch
		// the order here.
		if err := p.store.RecordPayment(ctx, pay); err != nil {
			if errors.Is(err, ErrDuplicateEvent) {
				obs.WebhookEventsTotal.WithLabelValues("duplicate").Inc()
				return nil
			}
			return err
		}
		obs.WebhookEventsTotal.WithLabelValues("late").Inc()
		_ = audit.LogEvent(ctx, "payment.late", map[string]any{
			"order_id": order.ID,
			"event_id": ev.ID,
			"status":   string(order.Status),
		})
		return nil
	}

	entry := &ledger.Entry{
		ID:        ids.New(),
		OrderID:   order.ID,
		PaymentID: pay.ID,
		Type:      ledger.EntrySale,
		Amount:    amount,
		Currency:  "USD",
		CreatedAt: now,
	}
	if err := p.store.Finalize(ctx, order.ID, pay, entry); err != nil {
		switch {
		case errors.Is(err, ErrDuplicateEvent):
			obs.WebhookEventsTotal.WithLabelValues("duplicate").Inc()
			return nil
		case errors.Is(err, ErrStatusConflict):
			// Lost a race with the reconciler or another delivery. Record
			// the payment so the reconciler can forward-correct the order.
			if rerr := p.store.RecordPayment(ctx, pay); rerr != nil && !errors.Is(rerr, ErrDuplicateEvent) {
				return rerr
			}
			obs.WebhookEventsTotal.WithLabelValues("late").Inc()
			return nil
		default:
			return err
		}
	}

	obs.WebhookEventsTotal.WithLabelValues("applied").Inc()
	_ = audit.LogEvent(ctx, "payment.applied", map[string]any{
		"order_id": order.ID,
		"event_id": ev.ID,
		"amount":   amount,
	})
	if p.events != nil {
		p.events.Publish(stream.OrderEvent{
			OrderID:   order.ID,
			TicketID:  order.TicketID,
			Status:    string(StatusPaid),
			Amount:    amount,
			Timestamp: now,
		})
	}
	return nil
}
