// Package coupon manages discount codes applied at checkout.
package coupon

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

var (
	ErrInvalid = errors.New("coupon: invalid code")
	ErrExists  = errors.New("coupon: code already exists")
)

// Coupon is a discount code. Exactly one of DiscountPercent or DiscountFixed
// is expected to be set; fixed amounts are in minor units.
type Coupon struct {
	Code            string    `json:"code"`
	DiscountPercent int       `json:"discount_percent,omitempty"`
	DiscountFixed   int64     `json:"discount_fixed,omitempty"`
	MaxUses         int       `json:"max_uses"`
	UsesCount       int       `json:"uses_count"`
	Active          bool      `json:"active"`
	ValidFrom       time.Time `json:"valid_from"`
	ValidUntil      time.Time `json:"valid_until"`
	CreatedAt       time.Time `json:"created_at"`
}

// Usable reports whether the coupon can be redeemed at now.
func (c Coupon) Usable(now time.Time) bool {
	if !c.Active {
		return false
	}
	if !c.ValidFrom.IsZero() && now.Before(c.ValidFrom) {
		return false
	}
	if !c.ValidUntil.IsZero() && now.After(c.ValidUntil) {
		return false
	}
	return c.UsesCount < c.MaxUses
}

// Apply returns the discounted price in minor units, clamped at zero.
func (c Coupon) Apply(price int64) int64 {
	out := price
	if c.DiscountPercent > 0 {
		out = price - price*int64(c.DiscountPercent)/100
	} else if c.DiscountFixed > 0 {
		out = price - c.DiscountFixed
	}
	if out < 0 {
		return 0
	}
	return out
}

// Store is the persistence contract for coupons. Consume carries the same
// atomicity requirement as invite consumption.
type Store interface {
	Create(ctx context.Context, c *Coupon) error
	Find(ctx context.Context, code string) (*Coupon, error)
	List(ctx context.Context) ([]*Coupon, error)
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
	coupons map[string]*Coupon
}

func NewMemory() *Memory {
	return &Memory{coupons: make(map[string]*Coupon)}
}

var _ Store = (*Memory)(nil)

func (m *Memory) Create(ctx context.Context, c *Coupon) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	code := NormalizeCode(c.Code)
	if code == "" {
		return errors.New("coupon: code is required")
	}
	if _, ok := m.coupons[code]; ok {
		return ErrExists
	}
	cp := *c
	cp.Code = code
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	m.coupons[code] = &cp
	return nil
}

func (m *Memory) Find(ctx context.Context, code string) (*Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.coupons[NormalizeCode(code)]
	if !ok {
		return nil, ErrInvalid
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) List(ctx context.Context) ([]*Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]*Coupon, 0, len(m.coupons))
	for _, c := range m.coupons {
		cp := *c
		res = append(res, &cp)
	}
	return res, nil
}

// Consume is a decrement-if-available under one lock.
func (m *Memory) Consume(ctx context.Context, code string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.coupons[NormalizeCode(code)]
	if !ok || !c.Usable(now) {
		return ErrInvalid
	}
	c.UsesCount++
	return nil
}

func (m *Memory) Deactivate(ctx context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.coupons[NormalizeCode(code)]
	if !ok {
		return ErrInvalid
	}
	c.Active = false
	return nil
}
