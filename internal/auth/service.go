package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"doorlist.app/internal/invite"
	"doorlist.app/internal/obs"
	"doorlist.app/internal/totp"
)

const (
	defaultSessionTTL  = 12 * time.Hour
	defaultIssuer      = "doorlist"
	backupCodeCount    = 8
	attemptHistorySpan = LockoutWindow + LockoutDuration
)

// Service implements signup, credential checks, MFA and session issuance.
// It is the server-side source of truth the browser flow treats as an
// opaque identity provider.
type Service struct {
	store   Store
	invites invite.Store

	secret     []byte
	issuer     string
	totpIssuer string
	sessionTTL time.Duration
	now        func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithSessionTTL configures session token lifetime.
func WithSessionTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.sessionTTL = ttl
		}
		return nil
	}
}

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) ServiceOption {
	return func(s *Service) error {
		if v := strings.TrimSpace(issuer); v != "" {
			s.issuer = v
		}
		return nil
	}
}

// WithTOTPIssuer sets the issuer shown in authenticator apps.
func WithTOTPIssuer(issuer string) ServiceOption {
	return func(s *Service) error {
		if v := strings.TrimSpace(issuer); v != "" {
			s.totpIssuer = v
		}
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs the auth service. The secret signs session tokens
// and seals MFA secrets at rest.
func NewService(store Store, invites invite.Store, secret []byte, opts ...ServiceOption) (*Service, error) {
	if len(secret) == 0 {
		return nil, errNoSecret
	}
	svc := &Service{
		store:      store,
		invites:    invites,
		secret:     secret,
		issuer:     defaultIssuer,
		totpIssuer: defaultIssuer,
		sessionTTL: defaultSessionTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// SignInResult carries the issued token and the step the client should
// render next.
type SignInResult struct {
	Token   string
	Profile *Profile
	Step    Step
}

// ValidateInvite checks that the code can still be redeemed. It does not
// consume the code; consumption happens transactionally during signup.
func (s *Service) ValidateInvite(ctx context.Context, code string) (*invite.Invite, error) {
	inv, err := s.invites.Find(ctx, code)
	if err != nil {
		return nil, ErrInviteInvalid
	}
	if !inv.Usable(s.now()) {
		return nil, ErrInviteInvalid
	}
	return inv, nil
}

// SignUp creates a profile, consuming the invite atomically with profile
// creation so concurrent signups cannot over-redeem a single-use code.
func (s *Service) SignUp(ctx context.Context, email, password, inviteCode string) (SignInResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return SignInResult{}, errors.New("auth: email is required")
	}
	if err := CheckPasswordPolicy(password); err != nil {
		return SignInResult{}, err
	}
	if _, err := s.ValidateInvite(ctx, inviteCode); err != nil {
		return SignInResult{}, err
	}
	if _, err := s.store.Profiles(ctx).FindByEmail(ctx, email); err == nil {
		return SignInResult{}, ErrEmailTaken
	}

	hash, err := HashPassword(password)
	if err != nil {
		return SignInResult{}, err
	}
	profile := &Profile{
		Email:        email,
		DisplayName:  email[:strings.Index(email, "@")],
		Role:         RoleClient,
		PasswordHash: hash,
	}
	if err := s.store.Profiles(ctx).CreateWithInvite(ctx, profile, invite.NormalizeCode(inviteCode), s.now()); err != nil {
		return SignInResult{}, err
	}

	s.recordEvent(ctx, profile.ID, EventSignup, true, map[string]string{"invite_code": invite.NormalizeCode(inviteCode)})

	token, err := s.mintToken(profile, false, s.now())
	if err != nil {
		return SignInResult{}, err
	}
	// A fresh account has no MFA yet, so the next step is always setup.
	return SignInResult{Token: token, Profile: profile, Step: StepMFASetup}, nil
}

// SignIn checks credentials and issues a session token with mfa=false.
// Every outcome is recorded as a security event.
func (s *Service) SignIn(ctx context.Context, email, password string) (SignInResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	profile, err := s.store.Profiles(ctx).FindByEmail(ctx, email)
	if err != nil {
		// Unknown account: record under the email so probing is visible.
		s.recordEvent(ctx, "email:"+email, EventLogin, false, map[string]string{"reason": "unknown_email"})
		return SignInResult{}, ErrInvalidCredentials
	}

	lock, err := s.lockoutFor(ctx, profile.ID)
	if err != nil {
		return SignInResult{}, err
	}
	if lock.Locked {
		s.recordEvent(ctx, profile.ID, EventLogin, false, map[string]string{"reason": "locked"})
		return SignInResult{}, ErrLocked
	}

	if err := VerifyPassword(profile.PasswordHash, password); err != nil {
		s.noteFailedAttempt(ctx, profile.ID, EventLogin, map[string]string{"reason": "bad_password"})
		return SignInResult{}, ErrInvalidCredentials
	}

	s.recordEvent(ctx, profile.ID, EventLogin, true, nil)

	token, err := s.mintToken(profile, false, s.now())
	if err != nil {
		return SignInResult{}, err
	}
	step := StepMFAVerify
	if !profile.MFAEnabled {
		step = StepMFASetup
	}
	return SignInResult{Token: token, Profile: profile, Step: step}, nil
}

// MFASetup holds a freshly generated secret awaiting activation.
type MFASetup struct {
	Secret string `json:"secret"`
	URI    string `json:"uri"`
}

// SetupMFA generates a TOTP secret for the session's profile and persists it
// sealed, with mfa_enabled still false until ActivateMFA verifies a code.
func (s *Service) SetupMFA(ctx context.Context, session Session) (MFASetup, error) {
	profile, err := s.store.Profiles(ctx).Find(ctx, session.ProfileID)
	if err != nil {
		return MFASetup{}, err
	}
	sec, err := totp.GenerateSecret(s.totpIssuer, profile.Email)
	if err != nil {
		return MFASetup{}, err
	}
	sealed, err := s.sealSecret(sec.Base32)
	if err != nil {
		return MFASetup{}, err
	}
	if err := s.store.Profiles(ctx).SetMFA(ctx, profile.ID, false, sealed); err != nil {
		return MFASetup{}, err
	}
	return MFASetup{Secret: sec.Base32, URI: sec.URI}, nil
}

// MFAActivation is returned once when MFA is first enabled.
type MFAActivation struct {
	Token       string   `json:"token"`
	BackupCodes []string `json:"backup_codes"`
}

// ActivateMFA verifies the code server-side against the pending secret and,
// on success, flips mfa_enabled and issues single-use backup codes. Any
// client-side check is a UX pre-check only; this is the authoritative one.
func (s *Service) ActivateMFA(ctx context.Context, session Session, code string) (MFAActivation, error) {
	profile, err := s.store.Profiles(ctx).Find(ctx, session.ProfileID)
	if err != nil {
		return MFAActivation{}, err
	}
	if profile.MFASecret == "" {
		return MFAActivation{}, ErrMFANotConfigured
	}
	secret, err := s.openSecret(profile.MFASecret)
	if err != nil {
		return MFAActivation{}, err
	}
	if !totp.Verify(code, secret, s.now()) {
		s.recordEvent(ctx, profile.ID, EventTOTP, false, map[string]string{"phase": "activate"})
		return MFAActivation{}, ErrInvalidMFACode
	}

	if err := s.store.Profiles(ctx).SetMFA(ctx, profile.ID, true, profile.MFASecret); err != nil {
		return MFAActivation{}, err
	}
	codes, err := totp.GenerateBackupCodes(backupCodeCount)
	if err != nil {
		return MFAActivation{}, err
	}
	hashes := make([]string, len(codes))
	for i, c := range codes {
		hashes[i] = hashBackupCode(c)
	}
	if err := s.store.BackupCodes(ctx).Replace(ctx, profile.ID, hashes); err != nil {
		return MFAActivation{}, err
	}

	s.recordEvent(ctx, profile.ID, EventTOTP, true, map[string]string{"phase": "activate"})

	token, err := s.mintToken(profile, true, s.now())
	if err != nil {
		return MFAActivation{}, err
	}
	return MFAActivation{Token: token, BackupCodes: codes}, nil
}

// VerifyMFA checks a TOTP code (or a backup code) for an established session
// and reissues the token with the mfa claim set. Failed codes count toward
// lockout exactly like failed passwords.
func (s *Service) VerifyMFA(ctx context.Context, session Session, code string) (string, error) {
	profile, err := s.store.Profiles(ctx).Find(ctx, session.ProfileID)
	if err != nil {
		return "", err
	}
	if !profile.MFAEnabled || profile.MFASecret == "" {
		return "", ErrMFANotConfigured
	}

	lock, err := s.lockoutFor(ctx, profile.ID)
	if err != nil {
		return "", err
	}
	if lock.Locked {
		s.recordEvent(ctx, profile.ID, EventTOTP, false, map[string]string{"reason": "locked"})
		return "", ErrLocked
	}

	ok := false
	if looksLikeBackupCode(code) {
		err := s.store.BackupCodes(ctx).Consume(ctx, profile.ID, hashBackupCode(code))
		ok = err == nil
	} else {
		secret, err := s.openSecret(profile.MFASecret)
		if err != nil {
			return "", err
		}
		ok = totp.Verify(code, secret, s.now())
	}
	if !ok {
		s.noteFailedAttempt(ctx, profile.ID, EventTOTP, nil)
		return "", ErrInvalidMFACode
	}

	s.recordEvent(ctx, profile.ID, EventTOTP, true, nil)
	return s.mintToken(profile, true, s.now())
}

// SignOut records the logout. Session tokens are stateless, so revocation is
// the client discarding its token; the event trail is the server-side record.
func (s *Service) SignOut(ctx context.Context, session Session) error {
	s.recordEvent(ctx, session.ProfileID, EventLogout, true, nil)
	return nil
}

// Profile returns the account for an authenticated session.
func (s *Service) Profile(ctx context.Context, session Session) (*Profile, error) {
	return s.store.Profiles(ctx).Find(ctx, session.ProfileID)
}

// ListProfiles returns every account, for the admin dashboard.
func (s *Service) ListProfiles(ctx context.Context) ([]*Profile, error) {
	return s.store.Profiles(ctx).List(ctx)
}

// SecurityEvents returns the event trail for one profile since the cutoff.
func (s *Service) SecurityEvents(ctx context.Context, profileID string, since time.Time) ([]SecurityEvent, error) {
	return s.store.Events(ctx).ListSince(ctx, profileID, since)
}

func (s *Service) lockoutFor(ctx context.Context, profileID string) (Lockout, error) {
	now := s.now()
	events, err := s.store.Events(ctx).ListSince(ctx, profileID, now.Add(-attemptHistorySpan))
	if err != nil {
		return Lockout{}, err
	}
	lock := ComputeLockout(events, now)
	if !lock.Locked && len(events) > 0 {
		// An expired lock clears the attempt history so the next failure
		// starts a fresh count. Derived-on-read, so this is housekeeping,
		// not authoritative state.
		if expired := expiredLockCutoff(events, now); !expired.IsZero() {
			if err := s.store.Events(ctx).ClearAttempts(ctx, profileID, expired); err != nil {
				obs.Warn("clear attempts failed", map[string]any{"error": err.Error()})
			}
		}
	}
	return lock, nil
}

// expiredLockCutoff returns the expiry of the most recent lock that has
// already elapsed, if any.
func expiredLockCutoff(events []SecurityEvent, now time.Time) time.Time {
	// Replay the lock computation at the time of the last event; if that
	// produced a lock which has since expired, attempts up to its expiry are
	// spent.
	var last time.Time
	for _, e := range events {
		if e.At.After(last) {
			last = e.At
		}
	}
	if last.IsZero() {
		return time.Time{}
	}
	lock := ComputeLockout(events, last)
	if lock.Locked && !now.Before(lock.Until) {
		return lock.Until
	}
	return time.Time{}
}

// noteFailedAttempt records the failure and counts a lockout when this
// attempt is the one that triggers it. Callers have already verified the
// account was not locked before the attempt.
func (s *Service) noteFailedAttempt(ctx context.Context, profileID string, typ EventType, meta map[string]string) {
	s.recordEvent(ctx, profileID, typ, false, meta)
	now := s.now()
	events, err := s.store.Events(ctx).ListSince(ctx, profileID, now.Add(-attemptHistorySpan))
	if err != nil {
		return
	}
	if ComputeLockout(events, now).Locked {
		obs.LockoutsTotal.Inc()
	}
}

func (s *Service) recordEvent(ctx context.Context, profileID string, typ EventType, success bool, meta map[string]string) {
	e := &SecurityEvent{
		ProfileID: profileID,
		Type:      typ,
		Success:   success,
		Metadata:  meta,
		At:        s.now(),
	}
	if err := s.store.Events(ctx).Append(ctx, e); err != nil {
		obs.Warn("security event append failed", map[string]any{"error": err.Error()})
	}
}

func hashBackupCode(code string) string {
	sum := sha256.Sum256([]byte(strings.ToUpper(strings.TrimSpace(code))))
	return hex.EncodeToString(sum[:])
}

func looksLikeBackupCode(code string) bool {
	return len(code) == 9 && code[4] == '-'
}
