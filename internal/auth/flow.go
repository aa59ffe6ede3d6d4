package auth

import (
	"context"
	"sync"
)

// Step is the client-facing authentication step.
type Step string

const (
	StepInvite        Step = "invite"
	StepLogin         Step = "login"
	StepSignup        Step = "signup"
	StepMFASetup      Step = "mfa_setup"
	StepMFAVerify     Step = "mfa_verify"
	StepAuthenticated Step = "authenticated"
)

// ComputeStep derives the authentication step from session and profile
// state. It is a pure function re-evaluated on every session change.
func ComputeStep(session *Session, profile *Profile) Step {
	switch {
	case session == nil:
		return StepInvite
	case profile == nil:
		// Profile fetch pending or failed; returning users land on login.
		return StepLogin
	case !profile.MFAEnabled:
		// MFA is mandatory; users may not skip setup.
		return StepMFASetup
	case !session.MFAVerified:
		return StepMFAVerify
	default:
		return StepAuthenticated
	}
}

// ProfileFetcher loads the profile for a session. Implementations are
// expected to be remote calls; the Flow discards results that arrive after
// a newer session change.
type ProfileFetcher interface {
	FetchProfile(ctx context.Context, session Session) (*Profile, error)
}

// ProfileFetcherFunc adapts a function to the ProfileFetcher interface.
type ProfileFetcherFunc func(ctx context.Context, session Session) (*Profile, error)

func (f ProfileFetcherFunc) FetchProfile(ctx context.Context, session Session) (*Profile, error) {
	return f(ctx, session)
}

// SessionSource is the external identity provider's session feed. Subscribe
// delivers the current session immediately and again on every change; the
// returned function cancels the subscription.
type SessionSource interface {
	Subscribe(fn func(*Session)) (cancel func())
}

// Flow is the authentication state container. It is injected with its
// collaborators rather than reading ambient globals, so the state machine
// can be driven deterministically in tests.
//
// Profile fetches triggered by session changes are keyed to the generation
// of the change that scheduled them; a fetch that completes after a newer
// change is discarded, so the last scheduled fetch always wins.
type Flow struct {
	mu sync.Mutex

	fetcher ProfileFetcher

	step        Step
	session     *Session
	profile     *Profile
	boundInvite string
	lastErr     error

	gen      uint64
	inflight sync.WaitGroup
	cancel   func()
	done     bool
}

// NewFlow constructs a Flow in the invite step.
func NewFlow(fetcher ProfileFetcher) *Flow {
	return &Flow{fetcher: fetcher, step: StepInvite}
}

// Init subscribes the flow to session changes.
func (f *Flow) Init(src SessionSource) {
	f.cancel = src.Subscribe(f.OnSessionChange)
}

// Teardown cancels the subscription and waits for in-flight fetches.
func (f *Flow) Teardown() {
	f.mu.Lock()
	f.done = true
	cancel := f.cancel
	f.cancel = nil
	f.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	f.inflight.Wait()
}

// Step returns the current step.
func (f *Flow) Step() Step {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.step
}

// Session returns the current session, nil when signed out.
func (f *Flow) Session() *Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.session == nil {
		return nil
	}
	cp := *f.session
	return &cp
}

// Err returns the last recoverable error, if any. Transient fetch failures
// leave the flow on the last-known-good step instead of crashing it.
func (f *Flow) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastErr
}

// BoundInvite returns the invite code bound by ValidateInvite, consumed
// server-side during signup.
func (f *Flow) BoundInvite() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.boundInvite
}

// BindInvite records a validated invite code and advances to signup.
func (f *Flow) BindInvite(code string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.boundInvite = code
	if f.session == nil {
		f.step = StepSignup
	}
}

// OnSessionChange reacts to a session change from the identity provider.
// It bumps the generation counter, recomputes the step and schedules a
// profile fetch whose result is discarded if a newer change arrives first.
func (f *Flow) OnSessionChange(session *Session) {
	f.mu.Lock()
	if f.done {
		f.mu.Unlock()
		return
	}
	f.gen++
	gen := f.gen
	f.profile = nil
	f.lastErr = nil
	if session == nil {
		f.session = nil
		f.step = StepInvite
		if f.boundInvite != "" {
			f.step = StepSignup
		}
		f.mu.Unlock()
		return
	}
	cp := *session
	f.session = &cp
	f.step = ComputeStep(f.session, nil)
	fetchSession := cp
	f.inflight.Add(1)
	f.mu.Unlock()

	go func() {
		defer f.inflight.Done()
		profile, err := f.fetcher.FetchProfile(context.Background(), fetchSession)

		f.mu.Lock()
		defer f.mu.Unlock()
		if f.gen != gen {
			return // a newer session change superseded this fetch
		}
		if err != nil {
			f.lastErr = err
			f.step = ComputeStep(f.session, nil)
			return
		}
		f.profile = profile
		f.step = ComputeStep(f.session, f.profile)
	}()
}

// Wait blocks until scheduled profile fetches settle. Tests use it to make
// the asynchronous fetch deterministic.
func (f *Flow) Wait() {
	f.inflight.Wait()
}

// CompleteMFASetup marks setup done and advances to authenticated. Calling
// it twice has no additional effect.
func (f *Flow) CompleteMFASetup() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.session == nil {
		return
	}
	f.session.MFAVerified = true
	if f.profile != nil {
		f.profile.MFAEnabled = true
	}
	f.step = ComputeStep(f.session, f.profile)
}

// CompleteMFAVerify marks this session's MFA check done. Idempotent.
func (f *Flow) CompleteMFAVerify() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.session == nil {
		return
	}
	f.session.MFAVerified = true
	f.step = ComputeStep(f.session, f.profile)
}

// SignOut clears local state. The remote invalidation is best-effort and
// performed by the caller; local state clears regardless of its outcome.
func (f *Flow) SignOut() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gen++ // orphan any in-flight fetch
	f.session = nil
	f.profile = nil
	f.boundInvite = ""
	f.lastErr = nil
	f.step = StepInvite
}
