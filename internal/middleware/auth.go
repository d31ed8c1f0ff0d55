// Package middleware provides Gin HTTP middleware for authentication, rate
// limiting, security headers, request IDs, metrics, and audit logging.
//
// Middleware ordering matters and is enforced in router.go:
//
//	RequestID → Security → RateLimit → Auth → Audit → Handler
//
// Security headers run first so they appear on all responses including errors.
// Rate limiting runs before auth to block brute-force attacks before any DB work.
// Auth resolves the session token into a user document; handlers and the
// permission resolver read that identity from the request context. Audit
// logging runs last so only authenticated mutations are recorded with a
// principal attached.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lmco/mcf-sub003/internal/auth"
	"github.com/lmco/mcf-sub003/internal/models"
	"github.com/lmco/mcf-sub003/internal/store"
)

// Context keys set by the auth middleware.
const (
	ContextUser     = "user"
	ContextUsername = "username"
)

// RequestUser returns the authenticated user document from the Gin context,
// or nil when the request is unauthenticated.
func RequestUser(c *gin.Context) *models.User {
	v, ok := c.Get(ContextUser)
	if !ok {
		return nil
	}
	u, _ := v.(*models.User)
	return u
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
}

// lookupUser loads the user document a token's claims name. A nil user with
// a nil error means the document does not exist.
func lookupUser(c *gin.Context, s store.Store, username string) (*models.User, error) {
	entity, err := s.FindOne(c.Request.Context(), models.KindUser, username)
	if err != nil {
		return nil, err
	}
	user, _ := entity.(*models.User)
	return user, nil
}

// setIdentity publishes the resolved user on the request context for
// handlers and the permission resolver.
func setIdentity(c *gin.Context, user *models.User) {
	c.Set(ContextUser, user)
	c.Set(ContextUsername, user.Username)
}

// AuthMiddleware validates the bearer session token and resolves the user
// document it names. The document is loaded per request rather than embedded
// in the token so admin-flag and archive changes apply immediately.
func AuthMiddleware(s store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			abortUnauthorized(c, "Missing or malformed authorization header")
			return
		}

		claims, err := auth.ValidateJWT(token)
		if err != nil {
			abortUnauthorized(c, "Invalid credentials")
			return
		}

		user, err := lookupUser(c, s, claims.Username)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to load user",
			})
			return
		}
		if user == nil {
			abortUnauthorized(c, "User not found")
			return
		}
		if user.Archived {
			// Archived users keep their documents but lose access.
			abortUnauthorized(c, "Account is archived")
			return
		}

		setIdentity(c, user)
		c.Next()
	}
}

// OptionalAuthMiddleware resolves the user when a valid token is supplied but
// lets unauthenticated requests through. Used on the login and health routes.
func OptionalAuthMiddleware(s store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token, ok := bearerToken(c); ok {
			if claims, err := auth.ValidateJWT(token); err == nil {
				if user, err := lookupUser(c, s, claims.Username); err == nil && user != nil && !user.Archived {
					setIdentity(c, user)
				}
			}
		}
		c.Next()
	}
}

// bearerToken extracts a non-empty bearer token from the Authorization header.
func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	return token, token != ""
}
