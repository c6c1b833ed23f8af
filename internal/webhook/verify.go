// Package webhook authenticates completion callbacks from the inference
// provider. Signatures follow the id.timestamp.body HMAC scheme with
// versioned, space-separated candidates in the signature header.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

const (
	secretPrefix = "whsec_"
	// Tolerance bounds how far a callback timestamp may drift from the
	// server clock before it is treated as a replay.
	Tolerance = 5 * time.Minute
)

var (
	ErrMissingHeaders = errors.New("webhook: missing signature headers")
	ErrBadSignature   = errors.New("webhook: signature mismatch")
	ErrStaleTimestamp = errors.New("webhook: timestamp outside tolerance")
)

// Verifier checks callback authenticity and freshness.
type Verifier struct {
	secret []byte
	now    func() time.Time
}

// NewVerifier creates a verifier for the given signing secret. A known
// "whsec_" prefix is stripped before the secret is used as the HMAC key.
func NewVerifier(secret string) *Verifier {
	return &Verifier{
		secret: []byte(strings.TrimPrefix(secret, secretPrefix)),
		now:    time.Now,
	}
}

// WithClock overrides the time source. Tests use it to pin freshness checks.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	v.now = now
	return v
}

// Verify validates the signature header against the untouched request body.
// The signed content is the exact concatenation id + "." + timestamp + "." +
// body; any re-serialization of the payload would invalidate it. The header
// may carry several space-separated "v1,<sig>" candidates and any
// constant-time match passes. Freshness and signature must both hold.
func (v *Verifier) Verify(body []byte, id, timestamp, signatureHeader string) error {
	if id == "" || timestamp == "" || signatureHeader == "" {
		return ErrMissingHeaders
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrStaleTimestamp
	}
	drift := v.now().Sub(time.Unix(ts, 0))
	if drift > Tolerance || drift < -Tolerance {
		return ErrStaleTimestamp
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(id))
	mac.Write([]byte("."))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	for _, candidate := range strings.Fields(signatureHeader) {
		parts := strings.SplitN(candidate, ",", 2)
		if len(parts) != 2 {
			continue
		}
		if hmac.Equal([]byte(parts[1]), []byte(expected)) {
			return nil
		}
	}
	return ErrBadSignature
}
