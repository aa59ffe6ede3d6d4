package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestComputeStep(t *testing.T) {
	mfaOn := &Profile{MFAEnabled: true}
	mfaOff := &Profile{MFAEnabled: false}
	verified := &Session{ProfileID: "p1", MFAVerified: true}
	unverified := &Session{ProfileID: "p1"}

	cases := []struct {
		name    string
		session *Session
		profile *Profile
		want    Step
	}{
		{"no session", nil, nil, StepInvite},
		{"session without profile", unverified, nil, StepLogin},
		{"mfa not enabled", unverified, mfaOff, StepMFASetup},
		{"mfa enabled not verified", unverified, mfaOn, StepMFAVerify},
		{"all satisfied", verified, mfaOn, StepAuthenticated},
		{"verified but mfa off", verified, mfaOff, StepMFASetup},
	}
	for _, tc := range cases {
		if got := ComputeStep(tc.session, tc.profile); got != tc.want {
			t.Fatalf("%s: ComputeStep = %s, want %s", tc.name, got, tc.want)
		}
	}
}

// blockingFetcher lets the test decide when each session's fetch returns.
type blockingFetcher struct {
	mu      sync.Mutex
	pending map[string]chan fetchResult
}

type fetchResult struct {
	profile *Profile
	err     error
}

func newBlockingFetcher() *blockingFetcher {
	return &blockingFetcher{pending: make(map[string]chan fetchResult)}
}

func (f *blockingFetcher) FetchProfile(ctx context.Context, session Session) (*Profile, error) {
	f.mu.Lock()
	ch, ok := f.pending[session.ID]
	if !ok {
		ch = make(chan fetchResult, 1)
		f.pending[session.ID] = ch
	}
	f.mu.Unlock()
	res := <-ch
	return res.profile, res.err
}

func (f *blockingFetcher) release(sessionID string, profile *Profile, err error) {
	f.mu.Lock()
	ch, ok := f.pending[sessionID]
	if !ok {
		ch = make(chan fetchResult, 1)
		f.pending[sessionID] = ch
	}
	f.mu.Unlock()
	ch <- fetchResult{profile: profile, err: err}
}

func TestFlowSessionChange(t *testing.T) {
	fetcher := newBlockingFetcher()
	flow := NewFlow(fetcher)

	if flow.Step() != StepInvite {
		t.Fatalf("initial step = %s, want invite", flow.Step())
	}

	flow.OnSessionChange(&Session{ID: "s1", ProfileID: "p1"})
	if flow.Step() != StepLogin {
		t.Fatalf("step during fetch = %s, want login", flow.Step())
	}

	fetcher.release("s1", &Profile{ID: "p1", MFAEnabled: false}, nil)
	flow.Wait()
	if flow.Step() != StepMFASetup {
		t.Fatalf("step = %s, want mfa_setup", flow.Step())
	}

	flow.CompleteMFASetup()
	if flow.Step() != StepAuthenticated {
		t.Fatalf("step after setup = %s, want authenticated", flow.Step())
	}
	// Idempotent.
	flow.CompleteMFASetup()
	if flow.Step() != StepAuthenticated {
		t.Fatalf("second setup completion changed step to %s", flow.Step())
	}
}

func TestFlowMFAVerifyPath(t *testing.T) {
	fetcher := newBlockingFetcher()
	flow := NewFlow(fetcher)

	flow.OnSessionChange(&Session{ID: "s1", ProfileID: "p1"})
	fetcher.release("s1", &Profile{ID: "p1", MFAEnabled: true}, nil)
	flow.Wait()

	if flow.Step() != StepMFAVerify {
		t.Fatalf("step = %s, want mfa_verify", flow.Step())
	}
	flow.CompleteMFAVerify()
	if flow.Step() != StepAuthenticated {
		t.Fatalf("step = %s, want authenticated", flow.Step())
	}
	flow.CompleteMFAVerify()
	if flow.Step() != StepAuthenticated {
		t.Fatalf("second verify completion changed step to %s", flow.Step())
	}
}

func TestFlowStaleFetchDiscarded(t *testing.T) {
	fetcher := newBlockingFetcher()
	flow := NewFlow(fetcher)

	// First session change; its fetch stays in flight.
	flow.OnSessionChange(&Session{ID: "s1", ProfileID: "p1"})
	// Second change supersedes the first.
	flow.OnSessionChange(&Session{ID: "s2", ProfileID: "p2"})

	// The newer fetch resolves first.
	fetcher.release("s2", &Profile{ID: "p2", MFAEnabled: true}, nil)
	// The stale fetch resolves late with conflicting state.
	fetcher.release("s1", &Profile{ID: "p1", MFAEnabled: false}, nil)
	flow.Wait()

	if flow.Step() != StepMFAVerify {
		t.Fatalf("stale fetch won: step = %s, want mfa_verify", flow.Step())
	}
	if s := flow.Session(); s == nil || s.ID != "s2" {
		t.Fatalf("unexpected session: %+v", s)
	}
}

func TestFlowFetchErrorKeepsLogin(t *testing.T) {
	fetcher := newBlockingFetcher()
	flow := NewFlow(fetcher)

	flow.OnSessionChange(&Session{ID: "s1", ProfileID: "p1"})
	fetcher.release("s1", nil, errors.New("network down"))
	flow.Wait()

	if flow.Step() != StepLogin {
		t.Fatalf("step = %s, want login", flow.Step())
	}
	if flow.Err() == nil {
		t.Fatal("expected recoverable error to be exposed")
	}
}

func TestFlowBindInviteAndSignOut(t *testing.T) {
	fetcher := newBlockingFetcher()
	flow := NewFlow(fetcher)

	flow.BindInvite("WELCOME1")
	if flow.Step() != StepSignup {
		t.Fatalf("step = %s, want signup", flow.Step())
	}
	if flow.BoundInvite() != "WELCOME1" {
		t.Fatalf("bound invite = %q", flow.BoundInvite())
	}

	flow.OnSessionChange(&Session{ID: "s1", ProfileID: "p1"})
	fetcher.release("s1", &Profile{ID: "p1", MFAEnabled: true}, nil)
	flow.Wait()

	flow.SignOut()
	if flow.Step() != StepInvite {
		t.Fatalf("step after sign-out = %s, want invite", flow.Step())
	}
	if flow.Session() != nil {
		t.Fatal("session survived sign-out")
	}
	if flow.BoundInvite() != "" {
		t.Fatal("invite binding survived sign-out")
	}
}

func TestFlowSignOutOrphansInflightFetch(t *testing.T) {
	fetcher := newBlockingFetcher()
	flow := NewFlow(fetcher)

	flow.OnSessionChange(&Session{ID: "s1", ProfileID: "p1"})
	flow.SignOut()
	fetcher.release("s1", &Profile{ID: "p1", MFAEnabled: true}, nil)
	flow.Wait()

	if flow.Step() != StepInvite {
		t.Fatalf("orphaned fetch mutated state: step = %s", flow.Step())
	}
}

type staticSource struct {
	fn func(*Session)
}

func (s *staticSource) Subscribe(fn func(*Session)) func() {
	s.fn = fn
	fn(nil)
	return func() { s.fn = nil }
}

func TestFlowInitTeardown(t *testing.T) {
	fetcher := newBlockingFetcher()
	flow := NewFlow(fetcher)
	src := &staticSource{}

	flow.Init(src)
	if flow.Step() != StepInvite {
		t.Fatalf("step = %s, want invite", flow.Step())
	}

	src.fn(&Session{ID: "s1", ProfileID: "p1"})
	fetcher.release("s1", &Profile{ID: "p1"}, nil)
	flow.Wait()
	if flow.Step() != StepMFASetup {
		t.Fatalf("step = %s, want mfa_setup", flow.Step())
	}

	flow.Teardown()
	if src.fn != nil {
		t.Fatal("teardown did not cancel the subscription")
	}
}
