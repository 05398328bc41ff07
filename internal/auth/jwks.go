package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	errors "github.com/Laisky/errors/v2"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"
	"golang.org/x/sync/singleflight"
)

const refreshTimeout = 15 * time.Second

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwksDocument struct {
	Keys []jwk `json:"keys"`
}

// signingKey is a verified RSA public key and the algorithm it signs with.
type signingKey struct {
	key *rsa.PublicKey
	alg string
}

// keySet is an immutable snapshot; refreshes replace it whole.
type keySet struct {
	keys      map[string]signingKey
	fetchedAt time.Time
}

// KeyCache holds the provider's signing keys.
type KeyCache struct {
	uri      string
	client   *http.Client
	logger   logSDK.Logger
	snapshot atomic.Pointer[keySet]
	group    singleflight.Group
}

// NewKeyCache creates an empty cache for the key set at uri.
func NewKeyCache(uri string, client *http.Client, logger logSDK.Logger) *KeyCache {
	return &KeyCache{
		uri:    uri,
		client: client,
		logger: logger,
	}
}

// Len returns the number of cached keys.
func (c *KeyCache) Len() int {
	if set := c.snapshot.Load(); set != nil {
		return len(set.keys)
	}
	return 0
}

// Refresh fetches the key set and swaps the snapshot. Concurrent callers
// share a single request.
func (c *KeyCache) Refresh(ctx context.Context) error {
	_, err, shared := c.group.Do("jwks", func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()

		raw, err := fetchDocument(fetchCtx, c.client, c.uri)
		if err != nil {
			return nil, wrapError(ErrCodeJwksFailed, "fetch key set", err)
		}
		keys, err := parseKeySet(raw, c.logger)
		if err != nil {
			return nil, err
		}

		c.snapshot.Store(&keySet{keys: keys, fetchedAt: time.Now()})
		c.logger.Debug("key set refreshed", zap.Int("keys", len(keys)))
		return nil, nil
	})
	if shared {
		c.logger.Debug("joined in-flight key set refresh")
	}
	return err
}

func (c *KeyCache) lookup(kid string) (signingKey, bool) {
	set := c.snapshot.Load()
	if set == nil {
		return signingKey{}, false
	}
	key, ok := set.keys[kid]
	return key, ok
}

// key returns the key for kid, refreshing once on a miss.
func (c *KeyCache) key(ctx context.Context, kid string) (signingKey, error) {
	if key, ok := c.lookup(kid); ok {
		return key, nil
	}

	c.logger.Debug("unknown key id, refreshing key set", zap.String("kid", kid))
	if err := c.Refresh(ctx); err != nil {
		return signingKey{}, err
	}

	if key, ok := c.lookup(kid); ok {
		return key, nil
	}
	return signingKey{}, NewError(ErrCodeKeyNotFound, "key not found: "+kid)
}

// parseKeySet keeps RSA signing keys that carry a kid.
func parseKeySet(raw []byte, logger logSDK.Logger) (map[string]signingKey, error) {
	doc := new(jwksDocument)
	if err := json.Unmarshal(raw, doc); err != nil {
		return nil, wrapError(ErrCodeJwksFailed, "decode key set", err)
	}

	keys := make(map[string]signingKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" {
			logger.Debug("skip non-RSA key", zap.String("kty", k.Kty))
			continue
		}
		if k.Kid == "" {
			logger.Warn("skip key without kid")
			continue
		}
		if k.Use == "enc" {
			logger.Debug("skip encryption key", zap.String("kid", k.Kid))
			continue
		}

		alg := k.Alg
		switch alg {
		case "":
			alg = "RS256"
		case "RS256", "RS384", "RS512":
		default:
			logger.Warn("skip key with unsupported algorithm",
				zap.String("kid", k.Kid), zap.String("alg", alg))
			continue
		}

		if k.N == "" || k.E == "" {
			logger.Warn("skip key missing n or e", zap.String("kid", k.Kid))
			continue
		}
		pub, err := rsaPublicKey(k.N, k.E)
		if err != nil {
			logger.Warn("skip malformed key", zap.String("kid", k.Kid), zap.Error(err))
			continue
		}

		keys[k.Kid] = signingKey{key: pub, alg: alg}
	}

	if len(keys) == 0 {
		return nil, NewError(ErrCodeJwksFailed, "no valid RSA signing keys in key set")
	}
	return keys, nil
}

func rsaPublicKey(n, e string) (*rsa.PublicKey, error) {
	nb, err := decodeSegment(n)
	if err != nil {
		return nil, errors.Wrap(err, "decode modulus")
	}
	eb, err := decodeSegment(e)
	if err != nil {
		return nil, errors.Wrap(err, "decode exponent")
	}

	exp := new(big.Int).SetBytes(eb)
	if !exp.IsInt64() || exp.Int64() < 3 || exp.Int64() > 1<<31-1 {
		return nil, errors.New("exponent out of range")
	}
	mod := new(big.Int).SetBytes(nb)
	if mod.BitLen() < 1024 {
		return nil, errors.Errorf("modulus too short: %d bits", mod.BitLen())
	}

	return &rsa.PublicKey{N: mod, E: int(exp.Int64())}, nil
}

// decodeSegment accepts base64url with or without padding.
func decodeSegment(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}
