package federation

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"outpost/internal/activitypub"
	"outpost/internal/domain"
	"outpost/internal/keys"
	"outpost/internal/models"

	"github.com/go-fed/httpsig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// keyStub resolves every key to owner; refresh returns refreshed when set.
type keyStub struct {
	owner     *domain.Account
	refreshed *domain.Account
	refreshes int
}

func (k *keyStub) ResolveKey(context.Context, string) (*domain.Account, error) {
	if k.owner == nil {
		return nil, models.NewNotFoundError("Account", "key")
	}
	return k.owner, nil
}

func (k *keyStub) RefreshKey(context.Context, string) (*domain.Account, error) {
	k.refreshes++
	if k.refreshed == nil {
		return nil, models.NewUpstreamError("refetch failed", nil)
	}
	return k.refreshed, nil
}

func signedInboxRequest(t *testing.T, signer *domain.Account, body []byte, mutate func(*http.Request)) *http.Request {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, "https://local.example/inbox", bytes.NewReader(body))
	if mutate != nil {
		mutate(r)
	}
	require.NoError(t, SignRequest(r, body, signer))
	return r
}

func TestDigest(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "SHA-256=47DEQpj8HBSa+/TImW+5JCeuQeRkm5NMpJWZG3hSuFU=", Digest([]byte{}))
}

func TestVerifier_AcceptsSignedRequest(t *testing.T) {
	fx := newFedFixture(t)
	body := []byte(`{"type":"Follow"}`)
	r := signedInboxRequest(t, fx.local, body, nil)

	assert.NotEmpty(t, r.Header.Get("Signature"))
	assert.Equal(t, Digest(body), r.Header.Get("Digest"))

	owner, err := NewVerifier(&keyStub{owner: fx.local}, 0).Verify(fx.ctx, r, body)
	require.NoError(t, err)
	assert.Equal(t, fx.local.ID, owner.ID)
}

func TestVerifier_Rejections(t *testing.T) {
	fx := newFedFixture(t)
	body := []byte(`{"type":"Follow"}`)

	tests := []struct {
		name string
		req  func() *http.Request
		body []byte
	}{
		{
			name: "unsigned",
			req: func() *http.Request {
				return httptest.NewRequest(http.MethodPost, "https://local.example/inbox", bytes.NewReader(body))
			},
			body: body,
		},
		{
			name: "body changed after signing",
			req:  func() *http.Request { return signedInboxRequest(t, fx.local, body, nil) },
			body: []byte(`{"type":"Delete"}`),
		},
		{
			name: "stale date",
			req: func() *http.Request {
				return signedInboxRequest(t, fx.local, body, func(r *http.Request) {
					r.Header.Set("Date", time.Now().Add(-time.Hour).UTC().Format(http.TimeFormat))
				})
			},
			body: body,
		},
		{
			name: "digest not covered by the signature",
			req: func() *http.Request {
				r := httptest.NewRequest(http.MethodPost, "https://local.example/inbox", bytes.NewReader(body))
				r.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
				r.Header.Set("Host", "local.example")
				signer, _, err := httpsig.NewSigner(
					[]httpsig.Algorithm{httpsig.RSA_SHA256},
					httpsig.DigestSha256,
					[]string{httpsig.RequestTarget, "host", "date"},
					httpsig.Signature,
					0,
				)
				require.NoError(t, err)
				priv, err := keys.ParsePrivateKey(fx.local.PrivateKeyPEM)
				require.NoError(t, err)
				require.NoError(t, signer.SignRequest(priv, activitypub.KeyID(fx.local), r, nil))
				r.Header.Set("Digest", Digest(body))
				return r
			},
			body: body,
		},
		{
			name: "digest header swapped",
			req: func() *http.Request {
				r := signedInboxRequest(t, fx.local, body, nil)
				r.Header.Set("Digest", Digest([]byte("other")))
				return r
			},
			body: []byte("other"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewVerifier(&keyStub{owner: fx.local}, 0).Verify(fx.ctx, tt.req(), tt.body)
			require.Error(t, err)
			assert.Equal(t, http.StatusUnauthorized, models.StatusFor(err))
		})
	}
}

func TestVerifier_RefreshesRotatedKey(t *testing.T) {
	fx := newFedFixture(t)
	oldPub, _, err := keys.Generate(keys.DefaultBits)
	require.NoError(t, err)
	cached := *fx.local
	cached.PublicKeyPEM = oldPub

	body := []byte(`{"type":"Like"}`)
	stub := &keyStub{owner: &cached, refreshed: fx.local}
	owner, err := NewVerifier(stub, 0).Verify(fx.ctx, signedInboxRequest(t, fx.local, body, nil), body)
	require.NoError(t, err)
	assert.Equal(t, fx.local.ID, owner.ID)
	assert.Equal(t, 1, stub.refreshes)

	stub = &keyStub{owner: &cached}
	_, err = NewVerifier(stub, 0).Verify(fx.ctx, signedInboxRequest(t, fx.local, body, nil), body)
	assert.Equal(t, http.StatusUnauthorized, models.StatusFor(err))
}

func TestVerifier_UnknownKeyIsUnauthorized(t *testing.T) {
	fx := newFedFixture(t)
	body := []byte(`{}`)
	_, err := NewVerifier(&keyStub{}, 0).Verify(fx.ctx, signedInboxRequest(t, fx.local, body, nil), body)
	assert.Equal(t, http.StatusUnauthorized, models.StatusFor(err))
}
