package coupon

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestApply(t *testing.T) {
	cases := []struct {
		name   string
		coupon Coupon
		price  int64
		want   int64
	}{
		{"ten percent", Coupon{DiscountPercent: 10}, 10000, 9000},
		{"hundred percent", Coupon{DiscountPercent: 100}, 10000, 0},
		{"fixed", Coupon{DiscountFixed: 2500}, 10000, 7500},
		{"fixed exceeds price", Coupon{DiscountFixed: 20000}, 10000, 0},
		{"no discount", Coupon{}, 10000, 10000},
	}
	for _, tc := range cases {
		if got := tc.coupon.Apply(tc.price); got != tc.want {
			t.Fatalf("%s: Apply(%d)=%d, want %d", tc.name, tc.price, got, tc.want)
		}
	}
}

func TestUsableValidityWindow(t *testing.T) {
	now := time.Now()
	c := Coupon{Active: true, MaxUses: 1, ValidFrom: now.Add(time.Hour)}
	if c.Usable(now) {
		t.Fatal("coupon usable before its validity window")
	}
	c = Coupon{Active: true, MaxUses: 1, ValidUntil: now.Add(-time.Hour)}
	if c.Usable(now) {
		t.Fatal("coupon usable after its validity window")
	}
	c = Coupon{Active: true, MaxUses: 1, ValidFrom: now.Add(-time.Hour), ValidUntil: now.Add(time.Hour)}
	if !c.Usable(now) {
		t.Fatal("coupon not usable inside its validity window")
	}
}

func TestConcurrentConsume(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	now := time.Now()

	const maxUses = 3
	if err := s.Create(ctx, &Coupon{Code: "SUMMER", DiscountPercent: 10, MaxUses: maxUses, Active: true}); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Consume(ctx, "summer", now); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != maxUses {
		t.Fatalf("%d consumptions succeeded, want %d", succeeded, maxUses)
	}
	c, _ := s.Find(ctx, "SUMMER")
	if c.UsesCount > c.MaxUses {
		t.Fatalf("uses_count %d exceeds max_uses %d", c.UsesCount, c.MaxUses)
	}
}

func TestConsumeUnknown(t *testing.T) {
	s := NewMemory()
	if err := s.Consume(context.Background(), "NOPE", time.Now()); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}
