package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	Profiles(ctx context.Context) ProfileStore
	Events(ctx context.Context) EventStore
	BackupCodes(ctx context.Context) BackupCodeStore
}

// ProfileStore manages account records. CreateWithInvite must create the
// profile and consume the invite inside one transaction so a single-use
// invite can never admit two concurrent signups.
type ProfileStore interface {
	Create(ctx context.Context, p *Profile) error
	CreateWithInvite(ctx context.Context, p *Profile, inviteCode string, now time.Time) error
	Find(ctx context.Context, id string) (*Profile, error)
	FindByEmail(ctx context.Context, email string) (*Profile, error)
	List(ctx context.Context) ([]*Profile, error)
	Update(ctx context.Context, p *Profile) error
	SetMFA(ctx context.Context, id string, enabled bool, encryptedSecret string) error
}

// EventStore appends security events and serves the attempt window that
// lockout is derived from.
type EventStore interface {
	Append(ctx context.Context, e *SecurityEvent) error
	ListSince(ctx context.Context, profileID string, since time.Time) ([]SecurityEvent, error)
	// ClearAttempts drops login/2fa attempts recorded before the cutoff so an
	// expired lock starts a fresh count.
	ClearAttempts(ctx context.Context, profileID string, before time.Time) error
}

// BackupCodeStore holds hashed single-use recovery codes.
type BackupCodeStore interface {
	Replace(ctx context.Context, profileID string, hashes []string) error
	// Consume marks the code used. ErrNotFound when absent or already used.
	Consume(ctx context.Context, profileID, hash string) error
}
