// Package ghost verifies and decodes webhooks sent by a Ghost CMS site.
package ghost

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"outpost/internal/models"
)

// SignatureHeader is the request header carrying the webhook signature.
const SignatureHeader = "X-Ghost-Signature"

// Signature is a parsed X-Ghost-Signature value.
type Signature struct {
	Digest    string
	Timestamp time.Time
	raw       string
}

// Key identifies the signature for replay detection.
func (s Signature) Key() string {
	return "ghost:sig:" + s.Digest
}

// ParseSignature parses "sha256=<hex>, t=<unix ms>".
func ParseSignature(header string) (Signature, error) {
	var sig Signature
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "sha256":
			sig.Digest = strings.ToLower(v)
		case "t":
			sig.raw = v
		}
	}
	if sig.Digest == "" || sig.raw == "" {
		return Signature{}, models.NewValidationError("malformed webhook signature")
	}
	if _, err := hex.DecodeString(sig.Digest); err != nil {
		return Signature{}, models.NewValidationError("malformed webhook signature")
	}
	ms, err := strconv.ParseInt(sig.raw, 10, 64)
	if err != nil {
		return Signature{}, models.NewValidationError("malformed webhook timestamp")
	}
	sig.Timestamp = time.UnixMilli(ms).UTC()
	return sig, nil
}

func digest(secret string, body []byte, ts string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	mac.Write([]byte(ts))
	return hex.EncodeToString(mac.Sum(nil))
}

// Sign returns the header value Ghost would send for body at ts.
func Sign(secret string, body []byte, ts time.Time) string {
	raw := strconv.FormatInt(ts.UnixMilli(), 10)
	return fmt.Sprintf("sha256=%s, t=%s", digest(secret, body, raw), raw)
}

// Verify checks header against body and rejects timestamps further than
// tolerance from now in either direction.
func Verify(secret string, body []byte, header string, now time.Time, tolerance time.Duration) (Signature, error) {
	if secret == "" {
		return Signature{}, models.NewUnauthorizedError("site has no webhook secret")
	}
	sig, err := ParseSignature(header)
	if err != nil {
		return Signature{}, err
	}
	age := now.Sub(sig.Timestamp)
	if age > tolerance || age < -tolerance {
		return Signature{}, models.NewValidationError("webhook signature is stale")
	}
	want := digest(secret, body, sig.raw)
	if !hmac.Equal([]byte(want), []byte(sig.Digest)) {
		return Signature{}, models.NewValidationError("webhook signature mismatch")
	}
	return sig, nil
}
