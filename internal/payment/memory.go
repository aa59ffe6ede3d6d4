package payment

import (
	"context"
	"sort"
	"sync"
	"time"

	"doorlist.app/internal/ledger"
)

// Memory is an in-memory Store for tests and local runs.
type Memory struct {
	mu       sync.Mutex
	orders   map[string]*Order
	payments map[string]*Payment // keyed by gateway event id
	ledger   *ledger.InMemory
}

func NewMemory(l *ledger.InMemory) *Memory {
	return &Memory{
		orders:   make(map[string]*Order),
		payments: make(map[string]*Payment),
		ledger:   l,
	}
}

func (m *Memory) CreateOrder(_ context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *o
	m.orders[o.ID] = &cp
	return nil
}

func (m *Memory) FindOrder(_ context.Context, id string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *Memory) ListOrders(_ context.Context, userID string) ([]*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Order
	for _, o := range m.orders {
		if userID == "" || o.UserID == userID {
			cp := *o
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ListPendingBefore(_ context.Context, cutoff time.Time) ([]*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Order
	for _, o := range m.orders {
		if o.Status == StatusPending && o.CreatedAt.Before(cutoff) {
			cp := *o
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) UpdateStatus(_ context.Context, orderID string, from, to Status, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	if o.Status != from {
		return ErrStatusConflict
	}
	o.Status = to
	o.UpdatedAt = at
	return nil
}

func (m *Memory) FindPaymentByEvent(_ context.Context, gatewayEventID string) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[gatewayEventID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) ListPayments(_ context.Context, orderID string) ([]*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Payment
	for _, p := range m.payments {
		if p.OrderID == orderID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) Finalize(ctx context.Context, orderID string, p *Payment, entry *ledger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.payments[p.GatewayEventID]; ok {
		return ErrDuplicateEvent
	}
	o, ok := m.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	if o.Status != StatusPending {
		return ErrStatusConflict
	}
	o.Status = StatusPaid
	o.UpdatedAt = p.CreatedAt
	cp := *p
	m.payments[p.GatewayEventID] = &cp
	if m.ledger != nil && entry != nil {
		if _, err := m.ledger.Append(ctx, *entry); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) RecordPayment(_ context.Context, p *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.payments[p.GatewayEventID]; ok {
		return ErrDuplicateEvent
	}
	cp := *p
	m.payments[p.GatewayEventID] = &cp
	return nil
}
