package auth

import (
	"sort"
	"time"
)

const (
	// LockoutThreshold failed attempts within LockoutWindow lock the account.
	LockoutThreshold = 5
	LockoutWindow    = 30 * time.Minute
	// LockoutDuration runs from the attempt that triggered the lock.
	LockoutDuration = 30 * time.Minute
)

// Lockout describes a derived lock state.
type Lockout struct {
	Locked bool
	Until  time.Time
}

// ComputeLockout derives the lock state from recorded attempts. It is a pure
// function of the attempt history: failures inside an active lock neither
// extend nor shorten it, and once a lock expires only later failures count.
func ComputeLockout(events []SecurityEvent, now time.Time) Lockout {
	failures := make([]time.Time, 0, len(events))
	for _, e := range events {
		if e.Success {
			continue
		}
		if e.Type != EventLogin && e.Type != EventTOTP {
			continue
		}
		failures = append(failures, e.At)
	}
	sort.Slice(failures, func(i, j int) bool { return failures[i].Before(failures[j]) })

	var lockUntil time.Time
	window := make([]time.Time, 0, LockoutThreshold)
	for _, at := range failures {
		if !lockUntil.IsZero() && !at.After(lockUntil) {
			continue // inside an active lock; does not extend it
		}
		if !lockUntil.IsZero() && at.After(lockUntil) {
			// Lock expired; this failure starts a fresh count.
			lockUntil = time.Time{}
			window = window[:0]
		}
		window = append(window, at)
		for len(window) > 0 && window[0].Before(at.Add(-LockoutWindow)) {
			window = window[1:]
		}
		if len(window) >= LockoutThreshold {
			lockUntil = at.Add(LockoutDuration)
			window = window[:0]
		}
	}

	if !lockUntil.IsZero() && now.Before(lockUntil) {
		return Lockout{Locked: true, Until: lockUntil}
	}
	return Lockout{}
}
