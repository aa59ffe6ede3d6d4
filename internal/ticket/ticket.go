// Package ticket manages the sellable inventory.
package ticket

import (
	"context"
	"errors"
	"sync"
	"time"

	"doorlist.app/internal/ids"
)

var (
	ErrNotFound = errors.New("ticket: not found")
	ErrSoldOut  = errors.New("ticket: sold out")
)

// Ticket is a sellable item. Price is in minor units.
type Ticket struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Price     int64     `json:"price"`
	Stock     int       `json:"stock"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is the persistence contract for tickets. Reserve must be a
// conditional decrement so stock never goes negative under concurrency;
// Restore is the compensating add used when an order is cancelled.
type Store interface {
	Create(ctx context.Context, t *Ticket) error
	Find(ctx context.Context, id string) (*Ticket, error)
	List(ctx context.Context) ([]*Ticket, error)
	Update(ctx context.Context, t *Ticket) error
	Reserve(ctx context.Context, id string, qty int) error
	Restore(ctx context.Context, id string, qty int) error
}

// Memory is an in-process Store used by tests and local development.
type Memory struct {
	mu      sync.Mutex
	tickets map[string]*Ticket
}

func NewMemory() *Memory {
	return &Memory{tickets: make(map[string]*Ticket)}
}

var _ Store = (*Memory)(nil)

func (m *Memory) Create(ctx context.Context, t *Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == "" {
		t.ID = ids.New()
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	cp := *t
	m.tickets[t.ID] = &cp
	return nil
}

func (m *Memory) Find(ctx context.Context, id string) (*Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *Memory) List(ctx context.Context) ([]*Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]*Ticket, 0, len(m.tickets))
	for _, t := range m.tickets {
		cp := *t
		res = append(res, &cp)
	}
	return res, nil
}

func (m *Memory) Update(ctx context.Context, t *Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.tickets[t.ID]
	if !ok {
		return ErrNotFound
	}
	cur.Name = t.Name
	cur.Price = t.Price
	cur.Stock = t.Stock
	cur.Active = t.Active
	cur.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) Reserve(ctx context.Context, id string, qty int) error {
	if qty <= 0 {
		return errors.New("ticket: quantity must be > 0")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok {
		return ErrNotFound
	}
	if !t.Active || t.Stock < qty {
		return ErrSoldOut
	}
	t.Stock -= qty
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) Restore(ctx context.Context, id string, qty int) error {
	if qty <= 0 {
		return errors.New("ticket: quantity must be > 0")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok {
		return ErrNotFound
	}
	t.Stock += qty
	t.UpdatedAt = time.Now().UTC()
	return nil
}
