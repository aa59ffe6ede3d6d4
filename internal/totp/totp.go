// Package totp implements RFC 6238 time-based one-time passwords.
package totp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"net/url"
	"time"
)

const (
	// Period is the TOTP time step in seconds.
	Period = 30
	// Digits is the code length.
	Digits = 6

	secretBytes = 20
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Secret is a provisioned TOTP secret together with its otpauth URI.
type Secret struct {
	Base32 string
	URI    string
}

// GenerateSecret produces a random 160-bit secret and the provisioning URI
// for authenticator apps. The label is typically the account email.
func GenerateSecret(issuer, label string) (Secret, error) {
	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		return Secret{}, fmt.Errorf("totp: read random: %w", err)
	}
	secret := encoding.EncodeToString(raw)
	return Secret{
		Base32: secret,
		URI:    ProvisioningURI(issuer, label, secret),
	}, nil
}

// ProvisioningURI builds the otpauth:// URI understood by authenticator apps.
func ProvisioningURI(issuer, label, secret string) string {
	q := url.Values{}
	q.Set("secret", secret)
	q.Set("issuer", issuer)
	q.Set("algorithm", "SHA1")
	q.Set("digits", fmt.Sprintf("%d", Digits))
	q.Set("period", fmt.Sprintf("%d", Period))
	return fmt.Sprintf("otpauth://totp/%s:%s?%s",
		url.PathEscape(issuer), url.PathEscape(label), q.Encode())
}

// Code computes the 6-digit code for the time step containing t.
// A malformed secret yields an error rather than a panic.
func Code(secret string, t time.Time) (string, error) {
	key, err := encoding.DecodeString(secret)
	if err != nil {
		return "", fmt.Errorf("totp: decode secret: %w", err)
	}
	step := uint64(t.Unix() / Period)
	var counter [8]byte
	binary.BigEndian.PutUint64(counter[:], step)

	mac := hmac.New(sha1.New, key)
	mac.Write(counter[:])
	sum := mac.Sum(nil)

	// Dynamic truncation per RFC 4226 §5.3.
	offset := sum[len(sum)-1] & 0x0f
	value := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff
	return fmt.Sprintf("%06d", value%1000000), nil
}

// Verify reports whether code matches the secret within a window of one time
// step either side of now. Malformed codes and secrets verify as false;
// Verify never returns an error.
func Verify(code, secret string, now time.Time) bool {
	if !isSixDigits(code) {
		return false
	}
	for _, delta := range []int{-1, 0, 1} {
		at := now.Add(time.Duration(delta) * Period * time.Second)
		want, err := Code(secret, at)
		if err != nil {
			return false
		}
		if subtle.ConstantTimeCompare([]byte(want), []byte(code)) == 1 {
			return true
		}
	}
	return false
}

func isSixDigits(code string) bool {
	if len(code) != Digits {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

// backupAlphabet omits easily confused characters.
const backupAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// GenerateBackupCodes produces n distinct single-use codes in XXXX-XXXX form.
// Duplicates within a batch are rejected and redrawn.
func GenerateBackupCodes(n int) ([]string, error) {
	seen := make(map[string]struct{}, n)
	codes := make([]string, 0, n)
	for len(codes) < n {
		code, err := backupCode()
		if err != nil {
			return nil, err
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}
	return codes, nil
}

func backupCode() (string, error) {
	raw := make([]byte, 8)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("totp: read random: %w", err)
	}
	buf := make([]byte, 9)
	for i, b := range raw {
		pos := i
		if i >= 4 {
			pos++
		}
		buf[pos] = backupAlphabet[int(b)%len(backupAlphabet)]
	}
	buf[4] = '-'
	return string(buf), nil
}
