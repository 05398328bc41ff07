package auth

import (
	"context"
	"net/http"
	"strings"

	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"
)

const ctxKeyUser = "lellostore.auth.user"

// TokenVerifier checks a raw bearer token.
type TokenVerifier interface {
	Validate(ctx context.Context, token string) (*AuthenticatedUser, error)
}

var _ TokenVerifier = new(Validator)

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", NewError(ErrCodeMissingToken, "missing authorization header")
	}

	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", NewError(ErrCodeInvalidAuthHeader, "authorization scheme must be Bearer")
	}
	if token = strings.TrimSpace(token); token == "" {
		return "", NewError(ErrCodeInvalidAuthHeader, "empty bearer token")
	}
	return token, nil
}

// RequireUser rejects requests without a valid bearer token and stores the
// user in the gin context.
func RequireUser(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := BearerToken(c.GetHeader("Authorization"))
		if err != nil {
			Abort(c, err)
			return
		}

		user, err := verifier.Validate(c.Request.Context(), token)
		if err != nil {
			Abort(c, err)
			return
		}

		gmw.GetLogger(c).Debug("authenticated",
			zap.String("subject", user.Subject),
			zap.Bool("admin", user.IsAdmin))
		c.Set(ctxKeyUser, user)
		c.Next()
	}
}

// RequireAdmin must run after RequireUser.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := UserFromContext(c)
		if !ok {
			Abort(c, NewError(ErrCodeMissingToken, "no authenticated user"))
			return
		}
		if !user.IsAdmin {
			Abort(c, NewError(ErrCodeForbidden, "user "+user.Subject+" is not an admin"))
			return
		}
		c.Next()
	}
}

// UserFromContext returns the user stored by RequireUser.
func UserFromContext(c *gin.Context) (*AuthenticatedUser, bool) {
	v, ok := c.Get(ctxKeyUser)
	if !ok {
		return nil, false
	}
	user, ok := v.(*AuthenticatedUser)
	return user, ok
}

// Abort writes the auth error response. Internal details go to the log only.
func Abort(c *gin.Context, err error) {
	typed, ok := AsError(err)
	if !ok {
		typed = wrapError(ErrCodeJwksFailed, "unexpected auth failure", err)
	}

	status := typed.HTTPStatus()
	logger := gmw.GetLogger(c).With(zap.String("code", string(typed.Code)), zap.Error(err))
	if status >= http.StatusInternalServerError {
		logger.Error("authentication failed")
	} else {
		logger.Debug("request rejected")
	}

	c.AbortWithStatusJSON(status, gin.H{
		"error":   http.StatusText(status),
		"message": typed.PublicMessage(),
	})
}
