// Package stream fans out order lifecycle events to dashboard subscribers.
package stream

import (
	"context"
	"sync"
	"time"
)

// OrderEvent describes one order state change for the live admin feed.
type OrderEvent struct {
	OrderID   string    `json:"order_id"`
	TicketID  string    `json:"ticket_id"`
	Status    string    `json:"status"`
	Amount    int64     `json:"amount"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Stream fan-outs order events to all active subscribers (SSE clients).
// Slow subscribers drop events instead of blocking publishers.
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan OrderEvent
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan OrderEvent)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan OrderEvent {
	ch := make(chan OrderEvent, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish delivers the event to every subscriber without blocking.
func (s *Stream) Publish(ev OrderEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
