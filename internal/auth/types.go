package auth

import "time"

// Role separates the admin dashboard from the client purchase flow.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleClient Role = "client"
)

// Profile is the application-side account record. The MFA secret is stored
// encrypted; the service seals and opens it around store calls.
type Profile struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	Role         Role      `json:"role"`
	PasswordHash string    `json:"-"`
	MFAEnabled   bool      `json:"mfa_enabled"`
	MFASecret    string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Session is the verified state carried by a bearer token. MFAVerified is
// false until the TOTP code for this session has been checked.
type Session struct {
	ID          string `json:"id"`
	ProfileID   string `json:"profile_id"`
	Email       string `json:"email"`
	Role        Role   `json:"role"`
	MFAVerified bool   `json:"mfa_verified"`
}

// EventType classifies security events.
type EventType string

const (
	EventLogin  EventType = "login"
	EventTOTP   EventType = "2fa"
	EventLogout EventType = "logout"
	EventSignup EventType = "signup"
)

// SecurityEvent is an append-only record of an authentication attempt or
// other security-relevant action. Lockout is derived from these records,
// never persisted as its own flag.
type SecurityEvent struct {
	ID        string            `json:"id"`
	ProfileID string            `json:"profile_id"`
	Type      EventType         `json:"type"`
	Success   bool              `json:"success"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	At        time.Time         `json:"at"`
}
