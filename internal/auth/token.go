package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// sessionClaims are the JWT claims carried by a session token. The mfa claim
// records whether the TOTP code has been verified for this session, which is
// what separates the mfa_verify step from authenticated.
type sessionClaims struct {
	Role        string `json:"role"`
	Email       string `json:"email"`
	MFAVerified bool   `json:"mfa"`
	jwt.RegisteredClaims
}

func (s *Service) mintToken(p *Profile, mfaVerified bool, now time.Time) (string, error) {
	claims := sessionClaims{
		Role:        string(p.Role),
		Email:       p.Email,
		MFAVerified: mfaVerified,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			Issuer:    s.issuer,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.sessionTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// VerifyToken validates a bearer token and returns the session it encodes.
func (s *Service) VerifyToken(token string) (Session, error) {
	parsed, err := jwt.ParseWithClaims(token, &sessionClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithIssuer(s.issuer))
	if err != nil {
		return Session{}, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*sessionClaims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return Session{}, ErrInvalidToken
	}
	return Session{
		ID:          claims.ID,
		ProfileID:   claims.Subject,
		Email:       claims.Email,
		Role:        Role(claims.Role),
		MFAVerified: claims.MFAVerified,
	}, nil
}

var errNoSecret = errors.New("auth: session secret is not configured")
