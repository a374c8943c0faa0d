package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/bhartiyash03-sys/speedy-doc-link/internal/auth"
)

// Gin context keys for the authenticated caller.
const (
	ctxKeyUserID    = "userID"
	ctxKeyUserEmail = "userEmail"
	ctxKeyUserName  = "userName"
)

// TokenVerifier validates a bearer token and returns its claims.
type TokenVerifier interface {
	Parse(token string) (*auth.Claims, error)
}

// BearerAuth requires "Authorization: Bearer <jwt>" and stores the caller's
// identity in the Gin context. Missing or invalid tokens get 401.
func BearerAuth(v TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader("Authorization")
		scheme, token, found := strings.Cut(strings.TrimSpace(raw), " ")
		if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			abortUnauthorized(c, "missing bearer token")
			return
		}
		claims, err := v.Parse(strings.TrimSpace(token))
		if err != nil {
			abortUnauthorized(c, err.Error())
			return
		}
		c.Set(ctxKeyUserID, claims.Subject)
		c.Set(ctxKeyUserEmail, claims.Email)
		c.Set(ctxKeyUserName, claims.Name)
		c.Next()
	}
}

// UserID returns the authenticated user id, or "" when unauthenticated.
func UserID(c *gin.Context) string {
	return asString(c.Value(ctxKeyUserID))
}

// Identity returns the authenticated user's id, email and display name.
func Identity(c *gin.Context) (id, email, name string) {
	return UserID(c), asString(c.Value(ctxKeyUserEmail)), asString(c.Value(ctxKeyUserName))
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.Header("WWW-Authenticate", `Bearer realm="api"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"request_id": c.Writer.Header().Get(requestIDHeader),
		"code":       "unauthorized",
		"error":      msg,
	})
}
