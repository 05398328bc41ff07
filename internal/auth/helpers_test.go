package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

var ginModeOnce sync.Once

func setupGinTestMode() {
	ginModeOnce.Do(func() {
		gin.SetMode(gin.TestMode)
	})
}

var (
	keyOnce   sync.Once
	testKeys  []*rsa.PrivateKey
	keyGenErr error
)

// rsaKeys returns process-wide test keys; generating them is slow.
func rsaKeys(t *testing.T) []*rsa.PrivateKey {
	t.Helper()
	keyOnce.Do(func() {
		for range 2 {
			k, err := rsa.GenerateKey(rand.Reader, 2048)
			if err != nil {
				keyGenErr = err
				return
			}
			testKeys = append(testKeys, k)
		}
	})
	require.NoError(t, keyGenErr)
	return testKeys
}

// fakeIdP serves discovery and a mutable key set.
type fakeIdP struct {
	srv          *httptest.Server
	issuer       string
	mu           sync.Mutex
	jwks         map[string]any
	jwksHits     atomic.Int32
	discoHits    atomic.Int32
	failDisco    atomic.Int32
	issuerInDisc string
}

func newFakeIdP(t *testing.T) *fakeIdP {
	t.Helper()
	idp := &fakeIdP{}

	mux := http.NewServeMux()
	mux.HandleFunc(discoveryPath, func(w http.ResponseWriter, r *http.Request) {
		idp.discoHits.Add(1)
		if idp.failDisco.Load() > 0 {
			idp.failDisco.Add(-1)
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		issuer := idp.issuer
		if idp.issuerInDisc != "" {
			issuer = idp.issuerInDisc
		}
		_ = json.NewEncoder(w).Encode(Discovery{
			Issuer:  issuer,
			JWKSURI: idp.srv.URL + "/jwks",
		})
	})
	mux.HandleFunc("/jwks", func(w http.ResponseWriter, r *http.Request) {
		idp.jwksHits.Add(1)
		idp.mu.Lock()
		defer idp.mu.Unlock()
		_ = json.NewEncoder(w).Encode(idp.jwks)
	})

	idp.srv = httptest.NewServer(mux)
	t.Cleanup(idp.srv.Close)
	idp.issuer = idp.srv.URL
	idp.setKeys(map[string]*rsa.PrivateKey{"k1": rsaKeys(t)[0]})
	return idp
}

func publicJWK(kid string, key *rsa.PrivateKey) map[string]any {
	return map[string]any{
		"kty": "RSA",
		"kid": kid,
		"use": "sig",
		"alg": "RS256",
		"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
	}
}

func (f *fakeIdP) setKeys(keys map[string]*rsa.PrivateKey) {
	jwks := make([]any, 0, len(keys))
	for kid, k := range keys {
		jwks = append(jwks, publicJWK(kid, k))
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jwks = map[string]any{"keys": jwks}
}

func (f *fakeIdP) config() Config {
	return Config{
		Enabled:       true,
		IssuerURL:     f.issuer,
		Audience:      "lellostore",
		AdminRole:     "admin",
		RoleClaimPath: "realm_access.roles",
		Leeway:        defaultLeeway,
	}
}

func noDelayBackOff() backoff.BackOff {
	return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, startupAttempts-1)
}

func newTestProvider(t *testing.T, idp *fakeIdP, opts ...ProviderOption) *Provider {
	t.Helper()
	opts = append([]ProviderOption{WithStartupBackOff(noDelayBackOff)}, opts...)
	p, err := NewProvider(context.Background(), idp.config(), opts...)
	require.NoError(t, err)
	return p
}

// claimsFor returns valid claims for idp; callers adjust them per case.
func claimsFor(idp *fakeIdP, now time.Time, roles ...string) jwt.MapClaims {
	rs := make([]any, 0, len(roles))
	for _, r := range roles {
		rs = append(rs, r)
	}
	return jwt.MapClaims{
		"sub":          "user-1",
		"iss":          idp.issuer,
		"aud":          "lellostore",
		"exp":          now.Add(time.Hour).Unix(),
		"iat":          now.Unix(),
		"email":        "user@example.com",
		"realm_access": map[string]any{"roles": rs},
	}
}

func signToken(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		tok.Header["kid"] = kid
	}
	s, err := tok.SignedString(key)
	require.NoError(t, err)
	return s
}
