// Package invite manages the signup-gating invite codes.
package invite

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

var (
	// ErrInvalid covers unknown, inactive, expired and exhausted codes.
	// Callers surface one message for all of them so codes cannot be probed.
	ErrInvalid = errors.New("invite: invalid code")
	ErrExists  = errors.New("invite: code already exists")
)

// Invite gates signup. UsesCount never exceeds MaxUses.
type Invite struct {
	Code      string    `json:"code"`
	MaxUses   int       `json:"max_uses"`
	UsesCount int       `json:"uses_count"`
	ExpiresAt time.Time `json:"expires_at"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Usable reports whether the invite can still be redeemed at now.
func (i Invite) Usable(now time.Time) bool {
	if !i.Active {
		return false
	}
	if !i.ExpiresAt.IsZero() && now.After(i.ExpiresAt) {
		return false
	}
	return i.UsesCount < i.MaxUses
}

// Store is the persistence contract for invites. Consume must be atomic:
// a conditional increment that fails once uses_count reaches max_uses.
type Store interface {
	Create(ctx context.Context, inv *Invite) error
	Find(ctx context.Context, code string) (*Invite, error)
	List(ctx context.Context) ([]*Invite, error)
	Consume(ctx context.Context, code string, now time.Time) error
	Deactivate(ctx context.Context, code string) error
}

// NormalizeCode canonicalizes user-entered codes.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Memory is an in-process Store used by tests and local development.
type Memory struct {
	mu      sync.Mutex
	invites map[string]*Invite
}

func NewMemory() *Memory {
	return &Memory{invites: make(map[string]*Invite)}
}

var _ Store = (*Memory)(nil)

func (m *Memory) Create(ctx context.Context, inv *Invite) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	code := NormalizeCode(inv.Code)
	if code == "" {
		return errors.New("invite: code is required")
	}
	if _, ok := m.invites[code]; ok {
		return ErrExists
	}
	cp := *inv
	cp.Code = code
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	m.invites[code] = &cp
	return nil
}

func (m *Memory) Find(ctx context.Context, code string) (*Invite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invites[NormalizeCode(code)]
	if !ok {
		return nil, ErrInvalid
	}
	cp := *inv
	return &cp, nil
}

func (m *Memory) List(ctx context.Context) ([]*Invite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]*Invite, 0, len(m.invites))
	for _, inv := range m.invites {
		cp := *inv
		res = append(res, &cp)
	}
	return res, nil
}

// Consume increments uses_count only while the invite is still usable.
// Check and increment happen under one lock, mirroring the conditional
// UPDATE the Postgres store issues.
func (m *Memory) Consume(ctx context.Context, code string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invites[NormalizeCode(code)]
	if !ok || !inv.Usable(now) {
		return ErrInvalid
	}
	inv.UsesCount++
	return nil
}

func (m *Memory) Deactivate(ctx context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invites[NormalizeCode(code)]
	if !ok {
		return ErrInvalid
	}
	inv.Active = false
	return nil
}
