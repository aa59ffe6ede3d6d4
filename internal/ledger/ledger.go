// Package ledger keeps the append-only record of balance-affecting events.
package ledger

import (
	"context"
	"errors"
	"sync"
	"time"

	"doorlist.app/internal/ids"
)

// EntryType classifies ledger entries.
type EntryType string

const (
	EntrySale       EntryType = "sale"
	EntryRefund     EntryType = "refund"
	EntryAdjustment EntryType = "adjustment"
)

// Entry is one immutable financial record. Amount is in minor units; no
// floats anywhere in money handling.
type Entry struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"order_id"`
	PaymentID string    `json:"payment_id,omitempty"`
	Type      EntryType `json:"type"`
	Amount    int64     `json:"amount"`
	Currency  string    `json:"currency"`
	CreatedAt time.Time `json:"created_at"`
	Sequence  uint64    `json:"sequence"` // monotonic sequence number
}

var (
	ErrInvalidAmount   = errors.New("ledger: invalid amount (must be > 0)")
	ErrInvalidCurrency = errors.New("ledger: invalid currency")
)

// Service defines ledger operations.
type Service interface {
	Append(ctx context.Context, e Entry) (Entry, error)
	List(ctx context.Context, limit int, afterSeq uint64) ([]Entry, uint64, error)
}

// InMemory implements Service with in-process concurrency safety.
type InMemory struct {
	mu      sync.RWMutex
	seq     uint64
	entries []Entry
}

// NewInMemory creates a fresh ledger.
func NewInMemory() *InMemory {
	return &InMemory{}
}

var _ Service = (*InMemory)(nil)

func (s *InMemory) Append(ctx context.Context, e Entry) (Entry, error) {
	if e.Amount <= 0 {
		return Entry{}, ErrInvalidAmount
	}
	if e.Currency == "" {
		return Entry{}, ErrInvalidCurrency
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	e.ID = ids.New()
	e.Sequence = s.seq
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	s.entries = append(s.entries, e)
	return e, nil
}

func (s *InMemory) List(ctx context.Context, limit int, afterSeq uint64) ([]Entry, uint64, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []Entry
	var last uint64
	for _, e := range s.entries {
		if e.Sequence <= afterSeq {
			continue
		}
		res = append(res, e)
		last = e.Sequence
		if len(res) >= limit {
			break
		}
	}
	return res, last, nil
}
