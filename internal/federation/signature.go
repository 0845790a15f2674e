package federation

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	"outpost/internal/activitypub"
	"outpost/internal/domain"
	"outpost/internal/keys"
	"outpost/internal/models"

	"github.com/go-fed/httpsig"
	"github.com/samber/lo"
)

// Headers covered by outgoing signatures.
var signedHeaders = []string{httpsig.RequestTarget, "host", "date", "digest"}

// KeyResolver finds the account that owns a signing key.
type KeyResolver interface {
	ResolveKey(ctx context.Context, keyID string) (*domain.Account, error)
	// RefreshKey refetches the owner, for when a cached key no longer verifies.
	RefreshKey(ctx context.Context, keyID string) (*domain.Account, error)
}

// Digest returns the Digest header value for body.
func Digest(body []byte) string {
	sum := sha256.Sum256(body)
	return "SHA-256=" + base64.StdEncoding.EncodeToString(sum[:])
}

// SignRequest signs r as account with rsa-sha256. A Digest of body is added.
func SignRequest(r *http.Request, body []byte, account *domain.Account) error {
	priv, err := keys.ParsePrivateKey(account.PrivateKeyPEM)
	if err != nil {
		return err
	}
	if r.Header.Get("Date") == "" {
		r.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	}
	if r.Header.Get("Host") == "" {
		r.Header.Set("Host", r.URL.Host)
	}

	signer, _, err := httpsig.NewSigner(
		[]httpsig.Algorithm{httpsig.RSA_SHA256},
		httpsig.DigestSha256,
		signedHeaders,
		httpsig.Signature,
		0,
	)
	if err != nil {
		return err
	}
	if body == nil {
		body = []byte{}
	}
	return signer.SignRequest(priv, activitypub.KeyID(account), r, body)
}

// Verifier checks inbound HTTP signatures.
type Verifier struct {
	keys      KeyResolver
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier returns a Verifier accepting Date headers within tolerance of now.
func NewVerifier(keys KeyResolver, tolerance time.Duration) *Verifier {
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}
	return &Verifier{keys: keys, tolerance: tolerance, now: time.Now}
}

// Verify checks the signature, Date and Digest of r and returns the signing account.
func (v *Verifier) Verify(ctx context.Context, r *http.Request, body []byte) (*domain.Account, error) {
	if r.Header.Get("Host") == "" && r.Host != "" {
		r.Header.Set("Host", r.Host)
	}

	sig, err := httpsig.NewVerifier(r)
	if err != nil {
		return nil, models.NewUnauthorizedError("missing or malformed signature")
	}

	date, err := http.ParseTime(r.Header.Get("Date"))
	if err != nil {
		return nil, models.NewUnauthorizedError("missing or malformed Date header")
	}
	if skew := v.now().Sub(date); skew > v.tolerance || skew < -v.tolerance {
		return nil, models.NewUnauthorizedError("signature date outside the accepted window")
	}

	if r.Method == http.MethodPost {
		if !lo.Contains(coveredHeaders(r), "digest") {
			return nil, models.NewUnauthorizedError("signature does not cover the Digest header")
		}
		if err := checkDigest(r.Header.Get("Digest"), body); err != nil {
			return nil, err
		}
	}

	owner, err := v.keys.ResolveKey(ctx, sig.KeyId())
	if err != nil {
		return nil, models.NewUnauthorizedError("signing key could not be resolved")
	}
	if err := verifyWith(sig, owner); err == nil {
		return owner, nil
	}

	// The key may have been rotated since it was cached.
	owner, err = v.keys.RefreshKey(ctx, sig.KeyId())
	if err != nil {
		return nil, models.NewUnauthorizedError("signing key could not be resolved")
	}
	if err := verifyWith(sig, owner); err != nil {
		return nil, models.NewUnauthorizedError("signature does not verify")
	}
	return owner, nil
}

func verifyWith(sig httpsig.Verifier, owner *domain.Account) error {
	if owner.PublicKeyPEM == "" {
		return errors.New("account has no public key")
	}
	pub, err := keys.ParsePublicKey(owner.PublicKeyPEM)
	if err != nil {
		return err
	}
	return sig.Verify(pub, httpsig.RSA_SHA256)
}

// coveredHeaders returns the lower-cased header names listed in the signature.
// A signature without a headers parameter covers only Date.
func coveredHeaders(r *http.Request) []string {
	raw := r.Header.Get("Signature")
	if raw == "" {
		raw = strings.TrimPrefix(r.Header.Get("Authorization"), "Signature ")
	}
	for _, part := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if ok && strings.EqualFold(k, "headers") {
			return strings.Fields(strings.ToLower(strings.Trim(v, `"`)))
		}
	}
	return []string{"date"}
}

func checkDigest(header string, body []byte) error {
	if header == "" {
		return models.NewUnauthorizedError("missing Digest header")
	}
	algo, value, ok := strings.Cut(header, "=")
	if !ok || !strings.EqualFold(algo, "SHA-256") {
		return models.NewUnauthorizedError("unsupported Digest algorithm")
	}
	_, want, _ := strings.Cut(Digest(body), "=")
	if value != want {
		return models.NewUnauthorizedError("Digest does not match body")
	}
	return nil
}
