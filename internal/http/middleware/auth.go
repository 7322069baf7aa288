package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-anon-backend/internal/domain"
	"github.com/tbourn/go-anon-backend/internal/services"
)

// Context keys set by Auth.
const (
	UserIDKey    = "userID"
	ShadowIDKey  = "shadowID"
	TokenHashKey = "tokenHash"
)

// Authenticator resolves a raw bearer token. Unknown tokens must be reported
// as services.ErrInvalidToken.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*domain.User, error)
}

// Auth requires "Authorization: Bearer <token>". On success the user id,
// shadow id, and stored token hash are put in the context and the request
// logger gains a user_id field. Missing, malformed, and unknown tokens all
// get the same 401 body.
func Auth(authn Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			unauthorized(c)
			return
		}

		u, err := authn.Authenticate(c.Request.Context(), token)
		if errors.Is(err, services.ErrInvalidToken) {
			unauthorized(c)
			return
		}
		if err != nil {
			LoggerFrom(c).Error().Err(err).Msg("token lookup failed")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "internal_error",
				"message":    "internal server error",
			})
			return
		}

		c.Set(UserIDKey, u.ID)
		c.Set(ShadowIDKey, u.ShadowID)
		c.Set(TokenHashKey, u.TokenHash)

		l := LoggerFrom(c).With().Str("user_id", u.ID).Logger()
		attachLogger(c, &l)
		c.Next()
	}
}

// UserID returns the authenticated user id, or "" outside Auth.
func UserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}

func bearerToken(h string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(h), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func unauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"request_id": c.Writer.Header().Get(requestIDHeader),
		"code":       "unauthorized",
		"message":    "invalid token",
	})
}
