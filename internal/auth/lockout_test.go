package auth

import (
	"testing"
	"time"
)

func failuresAt(base time.Time, offsets ...time.Duration) []SecurityEvent {
	events := make([]SecurityEvent, 0, len(offsets))
	for _, off := range offsets {
		events = append(events, SecurityEvent{Type: EventLogin, Success: false, At: base.Add(off)})
	}
	return events
}

func TestComputeLockoutThreshold(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Four failures: not locked.
	events := failuresAt(base, 0, time.Minute, 2*time.Minute, 3*time.Minute)
	if got := ComputeLockout(events, base.Add(4*time.Minute)); got.Locked {
		t.Fatal("locked after four failures")
	}

	// Fifth failure within the window locks for 30 minutes from the trigger.
	events = failuresAt(base, 0, time.Minute, 2*time.Minute, 3*time.Minute, 4*time.Minute)
	got := ComputeLockout(events, base.Add(5*time.Minute))
	if !got.Locked {
		t.Fatal("not locked after five failures")
	}
	wantUntil := base.Add(4*time.Minute + LockoutDuration)
	if !got.Until.Equal(wantUntil) {
		t.Fatalf("lock until %v, want %v", got.Until, wantUntil)
	}
}

func TestComputeLockoutSuccessesIgnored(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	events := failuresAt(base, 0, time.Minute, 2*time.Minute, 3*time.Minute)
	events = append(events, SecurityEvent{Type: EventLogin, Success: true, At: base.Add(4 * time.Minute)})
	if got := ComputeLockout(events, base.Add(5*time.Minute)); got.Locked {
		t.Fatal("successful attempt counted toward lockout")
	}
}

func TestComputeLockoutWindowSlides(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	// Five failures spread beyond 30 minutes never lock.
	events := failuresAt(base, 0, 10*time.Minute, 20*time.Minute, 31*time.Minute, 41*time.Minute)
	if got := ComputeLockout(events, base.Add(42*time.Minute)); got.Locked {
		t.Fatal("locked although no five failures share a 30 minute window")
	}
}

func TestComputeLockoutExtraFailuresDoNotExtend(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	events := failuresAt(base, 0, time.Minute, 2*time.Minute, 3*time.Minute, 4*time.Minute,
		// Sixth and seventh failures during the lock.
		10*time.Minute, 20*time.Minute)
	got := ComputeLockout(events, base.Add(21*time.Minute))
	if !got.Locked {
		t.Fatal("expected lock")
	}
	wantUntil := base.Add(4*time.Minute + LockoutDuration)
	if !got.Until.Equal(wantUntil) {
		t.Fatalf("lock extended to %v, want %v", got.Until, wantUntil)
	}
}

func TestComputeLockoutFreshCountAfterExpiry(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	events := failuresAt(base, 0, time.Minute, 2*time.Minute, 3*time.Minute, 4*time.Minute)
	// Lock ran 12:04 -> 12:34. One failure after expiry must not re-lock.
	events = append(events, failuresAt(base, 40*time.Minute)...)
	got := ComputeLockout(events, base.Add(41*time.Minute))
	if got.Locked {
		t.Fatal("single failure after lock expiry re-locked the account")
	}

	// But five fresh failures after expiry lock again.
	events = append(events, failuresAt(base, 42*time.Minute, 43*time.Minute, 44*time.Minute, 45*time.Minute)...)
	got = ComputeLockout(events, base.Add(46*time.Minute))
	if !got.Locked {
		t.Fatal("five fresh failures after expiry did not lock")
	}
	wantUntil := base.Add(45*time.Minute + LockoutDuration)
	if !got.Until.Equal(wantUntil) {
		t.Fatalf("lock until %v, want %v", got.Until, wantUntil)
	}
}

func TestComputeLockoutExpired(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	events := failuresAt(base, 0, time.Minute, 2*time.Minute, 3*time.Minute, 4*time.Minute)
	if got := ComputeLockout(events, base.Add(35*time.Minute)); got.Locked {
		t.Fatal("lock outlived its duration")
	}
}
