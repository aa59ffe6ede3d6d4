package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader is the header carrying the webhook signature.
const SignatureHeader = "X-Webhook-Signature"

// Event is the decoded gateway webhook payload. Metadata carries the
// order reference and the charged amount as strings, the way gateways
// pass merchant-defined fields back.
type Event struct {
	ID       string            `json:"id"`
	Type     string            `json:"type"`
	Created  int64             `json:"created"`
	Metadata map[string]string `json:"metadata"`
}

// ParseEvent decodes a webhook body. It does not validate metadata; the
// processor decides which event types need which fields.
func ParseEvent(body []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("payment: decode event: %w", err)
	}
	if ev.ID == "" || ev.Type == "" {
		return nil, fmt.Errorf("payment: event missing id or type")
	}
	return &ev, nil
}

// OrderRef extracts the order id and amount from event metadata. The
// amount arrives as the gateway's decimal string ("90.00") and is
// converted to minor units without going through floats.
func (e *Event) OrderRef() (orderID string, amount int64, err error) {
	orderID = e.Metadata["order_id"]
	raw := e.Metadata["amount"]
	if orderID == "" || raw == "" {
		return "", 0, ErrMissingMetadata
	}
	amount, err = ParseAmount(raw)
	if err != nil {
		return "", 0, ErrMissingMetadata
	}
	return orderID, amount, nil
}

// ParseAmount converts a decimal amount string to minor units. At most two
// fractional digits are accepted; negatives are rejected.
func ParseAmount(raw string) (int64, error) {
	whole, frac, _ := strings.Cut(raw, ".")
	major, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || major < 0 || strings.HasPrefix(whole, "-") {
		return 0, fmt.Errorf("payment: bad amount %q", raw)
	}
	cents := int64(0)
	switch len(frac) {
	case 0:
	case 1:
		d, err := strconv.ParseInt(frac, 10, 64)
		if err != nil || d < 0 {
			return 0, fmt.Errorf("payment: bad amount %q", raw)
		}
		cents = d * 10
	case 2:
		d, err := strconv.ParseInt(frac, 10, 64)
		if err != nil || d < 0 {
			return 0, fmt.Errorf("payment: bad amount %q", raw)
		}
		cents = d
	default:
		return 0, fmt.Errorf("payment: bad amount %q", raw)
	}
	return major*100 + cents, nil
}

// Sign produces a signature header value for payload at time t:
//
//	t=<unix>,v1=<hex hmac-sha256 of "<t>.<payload>">
func Sign(secret string, payload []byte, t time.Time) string {
	ts := strconv.FormatInt(t.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	return "t=" + ts + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a signature header against the payload. The
// timestamp must be within tolerance of now, in either direction, to
// bound replay of captured deliveries.
func VerifySignature(secret string, payload []byte, header string, now time.Time, tolerance time.Duration) error {
	var ts int64
	var sig string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return ErrBadSignature
			}
			ts = n
		case "v1":
			sig = v
		}
	}
	if ts == 0 || sig == "" {
		return ErrBadSignature
	}
	at := time.Unix(ts, 0)
	if d := now.Sub(at); d > tolerance || d < -tolerance {
		return ErrBadSignature
	}
	want := Sign(secret, payload, at)
	_, wantSig, _ := strings.Cut(want, "v1=")
	if !hmac.Equal([]byte(sig), []byte(wantSig)) {
		return ErrBadSignature
	}
	return nil
}
