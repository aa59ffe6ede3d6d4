package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"doorlist.app/internal/invite"
	"doorlist.app/internal/obs"
	"doorlist.app/internal/totp"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestService(t *testing.T, now func() time.Time) (*Service, *Memory, *invite.Memory) {
	t.Helper()
	invites := invite.NewMemory()
	store := NewMemory(invites)
	opts := []ServiceOption{WithTOTPIssuer("doorlist-test")}
	if now != nil {
		opts = append(opts, WithClock(now))
	}
	svc, err := NewService(store, invites, []byte(testSecret), opts...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, store, invites
}

func TestSignUpConsumesInviteOnce(t *testing.T) {
	svc, _, invites := newTestService(t, nil)
	ctx := context.Background()

	if err := invites.Create(ctx, &invite.Invite{Code: "WELCOME1", MaxUses: 1, Active: true}); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.ValidateInvite(ctx, "welcome1"); err != nil {
		t.Fatalf("ValidateInvite: %v", err)
	}

	res, err := svc.SignUp(ctx, "First@Example.com", "Str0ng!pass", "WELCOME1")
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if res.Step != StepMFASetup {
		t.Fatalf("step = %s, want mfa_setup", res.Step)
	}
	if res.Profile.Email != "first@example.com" {
		t.Fatalf("email not normalized: %s", res.Profile.Email)
	}
	if res.Profile.Role != RoleClient {
		t.Fatalf("role = %s, want client", res.Profile.Role)
	}

	inv, _ := invites.Find(ctx, "WELCOME1")
	if inv.UsesCount != 1 {
		t.Fatalf("uses_count = %d, want 1", inv.UsesCount)
	}

	// Second signup with the exhausted code fails.
	if _, err := svc.SignUp(ctx, "second@example.com", "Str0ng!pass", "WELCOME1"); !errors.Is(err, ErrInviteInvalid) {
		t.Fatalf("expected ErrInviteInvalid, got %v", err)
	}
}

func TestSignUpConcurrentSingleUseInvite(t *testing.T) {
	svc, _, invites := newTestService(t, nil)
	ctx := context.Background()

	if err := invites.Create(ctx, &invite.Invite{Code: "ONEUSE", MaxUses: 1, Active: true}); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			email := string(rune('a'+i)) + "@example.com"
			if _, err := svc.SignUp(ctx, email, "Str0ng!pass", "ONEUSE"); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if succeeded != 1 {
		t.Fatalf("%d signups succeeded on a single-use invite", succeeded)
	}
	inv, _ := invites.Find(ctx, "ONEUSE")
	if inv.UsesCount > inv.MaxUses {
		t.Fatalf("uses_count %d exceeds max_uses %d", inv.UsesCount, inv.MaxUses)
	}
}

func TestSignUpValidation(t *testing.T) {
	svc, _, invites := newTestService(t, nil)
	ctx := context.Background()
	if err := invites.Create(ctx, &invite.Invite{Code: "OK", MaxUses: 100, Active: true}); err != nil {
		t.Fatal(err)
	}

	weak := []string{"short1!", "alllower1!", "ALLUPPER1!", "NoDigits!!", "NoSymbol11"}
	for _, pw := range weak {
		if _, err := svc.SignUp(ctx, "x@example.com", pw, "OK"); !errors.Is(err, ErrWeakPassword) {
			t.Fatalf("password %q: expected ErrWeakPassword, got %v", pw, err)
		}
	}

	if _, err := svc.SignUp(ctx, "x@example.com", "Str0ng!pass", "NOPE"); !errors.Is(err, ErrInviteInvalid) {
		t.Fatalf("expected ErrInviteInvalid, got %v", err)
	}

	if _, err := svc.SignUp(ctx, "x@example.com", "Str0ng!pass", "OK"); err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if _, err := svc.SignUp(ctx, "X@Example.com", "Str0ng!pass", "OK"); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestSignInAndTokenRoundTrip(t *testing.T) {
	svc, _, invites := newTestService(t, nil)
	ctx := context.Background()
	if err := invites.Create(ctx, &invite.Invite{Code: "OK", MaxUses: 10, Active: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.SignUp(ctx, "user@example.com", "Str0ng!pass", "OK"); err != nil {
		t.Fatal(err)
	}

	res, err := svc.SignIn(ctx, "user@example.com", "Str0ng!pass")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if res.Step != StepMFASetup {
		t.Fatalf("step = %s, want mfa_setup before MFA is enabled", res.Step)
	}

	session, err := svc.VerifyToken(res.Token)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if session.ProfileID != res.Profile.ID {
		t.Fatalf("session profile = %s, want %s", session.ProfileID, res.Profile.ID)
	}
	if session.MFAVerified {
		t.Fatal("fresh sign-in token must not carry mfa=true")
	}

	if _, err := svc.SignIn(ctx, "user@example.com", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.SignIn(ctx, "ghost@example.com", "whatever"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}

	if _, err := svc.VerifyToken("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestSignInLockout(t *testing.T) {
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, _, invites := newTestService(t, func() time.Time { return current })
	ctx := context.Background()
	if err := invites.Create(ctx, &invite.Invite{Code: "OK", MaxUses: 10, Active: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.SignUp(ctx, "user@example.com", "Str0ng!pass", "OK"); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < LockoutThreshold; i++ {
		current = current.Add(time.Minute)
		if _, err := svc.SignIn(ctx, "user@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i, err)
		}
	}

	// Even the correct password is rejected while locked.
	current = current.Add(time.Minute)
	if _, err := svc.SignIn(ctx, "user@example.com", "Str0ng!pass"); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}

	// After the lock elapses the account works again.
	current = current.Add(LockoutDuration)
	if _, err := svc.SignIn(ctx, "user@example.com", "Str0ng!pass"); err != nil {
		t.Fatalf("sign-in after lock expiry: %v", err)
	}
}

func TestLockoutIncrementsCounterOnce(t *testing.T) {
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, _, invites := newTestService(t, func() time.Time { return current })
	ctx := context.Background()
	if err := invites.Create(ctx, &invite.Invite{Code: "OK", MaxUses: 10, Active: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.SignUp(ctx, "user@example.com", "Str0ng!pass", "OK"); err != nil {
		t.Fatal(err)
	}

	before := testutil.ToFloat64(obs.LockoutsTotal)

	for i := 0; i < LockoutThreshold; i++ {
		current = current.Add(time.Minute)
		if _, err := svc.SignIn(ctx, "user@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i, err)
		}
	}
	if got := testutil.ToFloat64(obs.LockoutsTotal) - before; got != 1 {
		t.Fatalf("lockouts counter delta = %v, want 1", got)
	}

	// Attempts while locked do not count additional lockouts.
	current = current.Add(time.Minute)
	if _, err := svc.SignIn(ctx, "user@example.com", "wrong"); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	if got := testutil.ToFloat64(obs.LockoutsTotal) - before; got != 1 {
		t.Fatalf("lockouts counter delta after locked attempt = %v, want 1", got)
	}
}

func TestMFASetupActivateVerify(t *testing.T) {
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, _, invites := newTestService(t, func() time.Time { return current })
	ctx := context.Background()
	if err := invites.Create(ctx, &invite.Invite{Code: "OK", MaxUses: 10, Active: true}); err != nil {
		t.Fatal(err)
	}
	res, err := svc.SignUp(ctx, "user@example.com", "Str0ng!pass", "OK")
	if err != nil {
		t.Fatal(err)
	}
	session, err := svc.VerifyToken(res.Token)
	if err != nil {
		t.Fatal(err)
	}

	setup, err := svc.SetupMFA(ctx, session)
	if err != nil {
		t.Fatalf("SetupMFA: %v", err)
	}
	if setup.Secret == "" || setup.URI == "" {
		t.Fatal("setup returned empty secret or URI")
	}

	// Wrong code does not activate.
	if _, err := svc.ActivateMFA(ctx, session, "000000"); !errors.Is(err, ErrInvalidMFACode) {
		t.Fatalf("expected ErrInvalidMFACode, got %v", err)
	}

	code, err := totp.Code(setup.Secret, current)
	if err != nil {
		t.Fatal(err)
	}
	activation, err := svc.ActivateMFA(ctx, session, code)
	if err != nil {
		t.Fatalf("ActivateMFA: %v", err)
	}
	if len(activation.BackupCodes) != 8 {
		t.Fatalf("expected 8 backup codes, got %d", len(activation.BackupCodes))
	}
	activated, err := svc.VerifyToken(activation.Token)
	if err != nil {
		t.Fatal(err)
	}
	if !activated.MFAVerified {
		t.Fatal("activation token must carry mfa=true")
	}

	// Scenario B: the next sign-in routes to mfa_verify, not mfa_setup.
	login, err := svc.SignIn(ctx, "user@example.com", "Str0ng!pass")
	if err != nil {
		t.Fatal(err)
	}
	if login.Step != StepMFAVerify {
		t.Fatalf("step = %s, want mfa_verify", login.Step)
	}

	loginSession, err := svc.VerifyToken(login.Token)
	if err != nil {
		t.Fatal(err)
	}
	code, err = totp.Code(setup.Secret, current)
	if err != nil {
		t.Fatal(err)
	}
	verified, err := svc.VerifyMFA(ctx, loginSession, code)
	if err != nil {
		t.Fatalf("VerifyMFA: %v", err)
	}
	vs, err := svc.VerifyToken(verified)
	if err != nil {
		t.Fatal(err)
	}
	if !vs.MFAVerified {
		t.Fatal("verified token must carry mfa=true")
	}

	if _, err := svc.VerifyMFA(ctx, loginSession, "111111"); !errors.Is(err, ErrInvalidMFACode) {
		t.Fatalf("expected ErrInvalidMFACode, got %v", err)
	}
}

func TestBackupCodeSingleUse(t *testing.T) {
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, _, invites := newTestService(t, func() time.Time { return current })
	ctx := context.Background()
	if err := invites.Create(ctx, &invite.Invite{Code: "OK", MaxUses: 10, Active: true}); err != nil {
		t.Fatal(err)
	}
	res, err := svc.SignUp(ctx, "user@example.com", "Str0ng!pass", "OK")
	if err != nil {
		t.Fatal(err)
	}
	session, _ := svc.VerifyToken(res.Token)
	setup, err := svc.SetupMFA(ctx, session)
	if err != nil {
		t.Fatal(err)
	}
	code, _ := totp.Code(setup.Secret, current)
	activation, err := svc.ActivateMFA(ctx, session, code)
	if err != nil {
		t.Fatal(err)
	}

	backup := activation.BackupCodes[0]
	if _, err := svc.VerifyMFA(ctx, session, backup); err != nil {
		t.Fatalf("backup code rejected: %v", err)
	}
	if _, err := svc.VerifyMFA(ctx, session, backup); !errors.Is(err, ErrInvalidMFACode) {
		t.Fatalf("backup code reused: %v", err)
	}
}

func TestSignOutRecordsEvent(t *testing.T) {
	svc, store, invites := newTestService(t, nil)
	ctx := context.Background()
	if err := invites.Create(ctx, &invite.Invite{Code: "OK", MaxUses: 10, Active: true}); err != nil {
		t.Fatal(err)
	}
	res, err := svc.SignUp(ctx, "user@example.com", "Str0ng!pass", "OK")
	if err != nil {
		t.Fatal(err)
	}
	session, _ := svc.VerifyToken(res.Token)
	if err := svc.SignOut(ctx, session); err != nil {
		t.Fatalf("SignOut: %v", err)
	}

	events, err := store.Events(ctx).ListSince(ctx, res.Profile.ID, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, e := range events {
		if e.Type == EventLogout && e.Success {
			found = true
		}
	}
	if !found {
		t.Fatal("logout event not recorded")
	}
}
