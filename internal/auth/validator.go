package auth

import (
	"context"
	"time"

	errors "github.com/Laisky/errors/v2"
	"github.com/golang-jwt/jwt/v5"
)

var validMethods = []string{"RS256", "RS384", "RS512"}

// Validator verifies bearer tokens against the provider's key set.
type Validator struct {
	keys          *KeyCache
	issuer        string
	audience      string
	roleClaimPath string
	adminRole     string
	parser        *jwt.Parser
	now           func() time.Time
}

func newValidator(cfg Config, keys *KeyCache, now func() time.Time) *Validator {
	if now == nil {
		now = time.Now
	}
	return &Validator{
		keys:          keys,
		issuer:        normalizeIssuer(cfg.IssuerURL),
		audience:      cfg.Audience,
		roleClaimPath: cfg.RoleClaimPath,
		adminRole:     cfg.AdminRole,
		now:           now,
		parser: jwt.NewParser(
			jwt.WithValidMethods(validMethods),
			jwt.WithLeeway(cfg.Leeway),
			jwt.WithIssuedAt(),
			jwt.WithExpirationRequired(),
			jwt.WithAudience(cfg.Audience),
			jwt.WithTimeFunc(now),
		),
	}
}

// Validate verifies token and returns the user it identifies.
//
// The leeway covers iat and nbf only: a token is expired the moment its exp
// passes.
func (v *Validator) Validate(ctx context.Context, token string) (*AuthenticatedUser, error) {
	claims := jwt.MapClaims{}
	_, err := v.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, NewError(ErrCodeTokenInvalid, "token has no kid header")
		}

		key, err := v.keys.key(ctx, kid)
		if err != nil {
			return nil, err
		}
		if t.Method.Alg() != key.alg {
			return nil, NewError(ErrCodeTokenInvalid,
				"token algorithm "+t.Method.Alg()+" does not match key "+kid)
		}
		return key.key, nil
	})
	if err != nil {
		return nil, classifyParseError(err)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, wrapError(ErrCodeTokenInvalid, "invalid exp claim", err)
	}
	if !v.now().Before(exp.Time) {
		return nil, NewError(ErrCodeTokenExpired, "token expired")
	}

	iss, err := claims.GetIssuer()
	if err != nil {
		return nil, wrapError(ErrCodeTokenInvalid, "invalid iss claim", err)
	}
	if normalizeIssuer(iss) != v.issuer {
		return nil, NewError(ErrCodeTokenInvalid, "invalid issuer "+iss)
	}

	user := newUser(claims, v.roleClaimPath, v.adminRole)
	if user.Subject == "" {
		return nil, NewError(ErrCodeTokenInvalid, "token has no subject")
	}
	return user, nil
}

func classifyParseError(err error) error {
	if typed, ok := AsError(err); ok {
		return typed
	}

	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return wrapError(ErrCodeTokenExpired, "token expired", err)
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return wrapError(ErrCodeTokenInvalid, "invalid audience", err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return wrapError(ErrCodeTokenInvalid, "invalid signature", err)
	case errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return wrapError(ErrCodeTokenInvalid, "token issued in the future", err)
	default:
		return wrapError(ErrCodeTokenInvalid, "token validation failed", err)
	}
}
