package auth

import "errors"

var (
	ErrNotFound           = errors.New("auth: not found")
	ErrEmailTaken         = errors.New("auth: email already registered")
	ErrWeakPassword       = errors.New("auth: password does not meet the complexity policy")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrInviteInvalid      = errors.New("auth: invalid invite code")
	ErrLocked             = errors.New("auth: account temporarily locked")
	ErrInvalidToken       = errors.New("auth: invalid token")
	ErrInvalidMFACode     = errors.New("auth: invalid verification code")
	ErrMFANotConfigured   = errors.New("auth: mfa is not configured")
)
