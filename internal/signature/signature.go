// Package signature authenticates inbound webhook deliveries.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/spec-kit/issue-bridge/pkg/util/errorutil"
)

// DefaultFreshnessWindow bounds the accepted clock skew.
const DefaultFreshnessWindow = 5 * time.Minute

// Verifier checks HMAC-SHA256 signatures over timestamp + body.
type Verifier struct {
	secret []byte
	window time.Duration
	now    func() time.Time
}

// NewVerifier creates a Verifier. A non-positive window falls back to DefaultFreshnessWindow.
func NewVerifier(secret string, window time.Duration) *Verifier {
	if window <= 0 {
		window = DefaultFreshnessWindow
	}
	return &Verifier{secret: []byte(secret), window: window, now: time.Now}
}

// WithClock replaces the time source.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	v.now = now
	return v
}

// Verify checks signature and freshness. Failures are authentication errors.
func (v *Verifier) Verify(timestamp, signature string, body []byte) error {
	if len(v.secret) == 0 {
		return apperrors.NewAuthenticationError("signing secret not configured", nil)
	}
	if timestamp == "" || signature == "" {
		return apperrors.NewAuthenticationError("missing signature headers", nil)
	}

	given, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(signature), "sha256="))
	if err != nil {
		return apperrors.NewAuthenticationError("malformed signature", err)
	}
	if !hmac.Equal(given, v.sign(timestamp, body)) {
		return apperrors.NewAuthenticationError("signature mismatch", nil)
	}

	sent, err := ParseTimestamp(timestamp)
	if err != nil {
		return apperrors.NewAuthenticationError("malformed timestamp", err)
	}
	skew := v.now().Sub(sent)
	if skew < 0 {
		skew = -skew
	}
	if skew > v.window {
		return apperrors.NewAuthenticationError("stale delivery", nil)
	}
	return nil
}

// Sign returns the hex signature a sender would attach.
func (v *Verifier) Sign(timestamp string, body []byte) string {
	return hex.EncodeToString(v.sign(timestamp, body))
}

func (v *Verifier) sign(timestamp string, body []byte) []byte {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return mac.Sum(nil)
}

// ParseTimestamp accepts unix seconds, unix milliseconds or RFC 3339.
func ParseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n), nil
		}
		return time.Unix(n, 0), nil
	}
	return time.Parse(time.RFC3339, raw)
}
