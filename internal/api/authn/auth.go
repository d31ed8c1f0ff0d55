// Package authn implements the login endpoints: the OIDC authorization-code
// flow, token refresh, the authenticated identity endpoint, and a
// development-only local login. Sessions are stateless JWTs; the only
// server-side login state is the short-lived CSRF state map for in-flight
// OIDC redirects.
package authn

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lmco/mcf-sub003/internal/auth"
	"github.com/lmco/mcf-sub003/internal/auth/oidc"
	"github.com/lmco/mcf-sub003/internal/config"
	"github.com/lmco/mcf-sub003/internal/controllers"
	"github.com/lmco/mcf-sub003/internal/middleware"
	"github.com/lmco/mcf-sub003/internal/models"
	"github.com/lmco/mcf-sub003/internal/store"
)

// stateTTL bounds how long an in-flight OIDC login may take before its CSRF
// state expires.
const stateTTL = 5 * time.Minute

// systemActor is the requester used for login-time user provisioning. It is
// never persisted; it only satisfies the controllers' permission checks.
var systemActor = &models.User{Username: "system", Admin: true}

// Handlers implements the authentication endpoints.
type Handlers struct {
	cfg   *config.Config
	store store.Store
	users *controllers.Users

	provider *oidc.OIDCProvider

	mu     sync.Mutex
	states map[string]time.Time
}

// New wires the authentication handlers. The OIDC provider is initialized
// eagerly when enabled so a misconfigured issuer fails at startup, not at
// first login.
func New(cfg *config.Config, s store.Store, users *controllers.Users) (*Handlers, error) {
	h := &Handlers{
		cfg:    cfg,
		store:  s,
		users:  users,
		states: map[string]time.Time{},
	}
	if cfg.Auth.OIDC.Enabled {
		provider, err := oidc.NewOIDCProvider(&cfg.Auth.OIDC)
		if err != nil {
			return nil, fmt.Errorf("initializing OIDC provider: %w", err)
		}
		h.provider = provider
	}
	return h, nil
}

// IsDevMode reports whether development-only endpoints are enabled. Requires
// explicit opt-in via DEV_MODE=true or DEV_MODE=1.
func IsDevMode() bool {
	devMode := os.Getenv("DEV_MODE")
	return devMode == "true" || devMode == "1"
}

func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// claimState consumes a CSRF state, reporting whether it was issued and still
// fresh. Expired states are swept opportunistically on every call.
func (h *Handlers) claimState(state string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := time.Now()
	for s, issued := range h.states {
		if now.Sub(issued) > stateTTL {
			delete(h.states, s)
		}
	}
	issued, ok := h.states[state]
	if !ok {
		return false
	}
	delete(h.states, state)
	return now.Sub(issued) <= stateTTL
}

// LoginHandler implements GET /api/v1/auth/login, redirecting the browser to
// the OIDC provider's authorization endpoint.
func (h *Handlers) LoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.provider == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "OIDC login is not configured"})
			return
		}
		state, err := generateState()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate state"})
			return
		}
		h.mu.Lock()
		h.states[state] = time.Now()
		h.mu.Unlock()

		c.Redirect(http.StatusFound, h.provider.GetAuthURL(state))
	}
}

// CallbackHandler implements GET /api/v1/auth/callback. It exchanges the
// authorization code, verifies the ID token, provisions or refreshes the user
// document and hands the browser a session JWT.
func (h *Handlers) CallbackHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		frontendBase := h.cfg.Server.GetPublicURL()

		// callbackError lands the browser on the frontend callback page with
		// error details, falling back to JSON when no frontend URL is known.
		callbackError := func(status int, errCode, description string) {
			if frontendBase == "" {
				c.JSON(status, gin.H{"error": description})
				return
			}
			c.Redirect(http.StatusFound, fmt.Sprintf(
				"%s/auth/callback?error=%s&error_description=%s",
				frontendBase, url.QueryEscape(errCode), url.QueryEscape(description),
			))
		}

		if h.provider == nil {
			callbackError(http.StatusBadRequest, "provider_not_configured", "OIDC login is not configured.")
			return
		}
		if !h.claimState(c.Query("state")) {
			callbackError(http.StatusBadRequest, "invalid_state", "Invalid or expired state parameter. Please try logging in again.")
			return
		}

		ctx := c.Request.Context()
		token, err := h.provider.ExchangeCode(ctx, c.Query("code"))
		if err != nil {
			callbackError(http.StatusUnauthorized, "token_exchange_failed", "Failed to exchange authorization code for token.")
			return
		}
		rawIDToken, ok := token.Extra("id_token").(string)
		if !ok {
			callbackError(http.StatusUnauthorized, "no_id_token", "The identity provider did not return an ID token.")
			return
		}
		idToken, err := h.provider.VerifyIDToken(ctx, rawIDToken)
		if err != nil {
			callbackError(http.StatusUnauthorized, "id_token_invalid", "The ID token could not be verified.")
			return
		}
		info, err := h.provider.ExtractUserInfo(idToken)
		if err != nil {
			callbackError(http.StatusUnauthorized, "user_info_failed", "Failed to extract user information from the ID token.")
			return
		}

		groups := h.provider.ExtractGroups(idToken, h.cfg.Auth.OIDC.GroupClaimName)
		isAdmin := h.cfg.Auth.OIDC.AdminGroup != "" && slices.Contains(groups, h.cfg.Auth.OIDC.AdminGroup)

		user, err := h.provisionUser(ctx, info, isAdmin)
		if err != nil {
			slog.Warn("login provisioning failed", "username", info.Username, "error", err)
			callbackError(http.StatusForbidden, "user_provisioning_failed", "Your account could not be provisioned.")
			return
		}

		jwtToken, err := auth.GenerateJWT(user.Username, user.Email, h.cfg.Auth.SessionTTL)
		if err != nil {
			callbackError(http.StatusInternalServerError, "jwt_failed", "Failed to generate an authentication token.")
			return
		}

		if frontendBase == "" {
			c.JSON(http.StatusOK, gin.H{"token": jwtToken, "user": user})
			return
		}
		c.Redirect(http.StatusFound, fmt.Sprintf("%s/auth/callback?token=%s", frontendBase, url.QueryEscape(jwtToken)))
	}
}

// provisionUser looks up the user document for a verified identity, creating
// it on first login when signup is open (or the identity is in the admin
// group) and reconciling email and admin drift on subsequent logins.
func (h *Handlers) provisionUser(ctx context.Context, info *oidc.UserInfo, isAdmin bool) (*models.User, error) {
	existing, err := h.store.FindOne(ctx, models.KindUser, info.Username)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		if !h.cfg.Tenancy.AllowPublicSignup && !isAdmin {
			return nil, fmt.Errorf("public signup is disabled and %q is not provisioned", info.Username)
		}
		created, err := h.users.Create(ctx, systemActor, []*models.User{{
			Username: info.Username,
			Email:    info.Email,
			FName:    info.GivenName,
			LName:    info.FamilyName,
			Admin:    isAdmin,
		}}, controllers.Options{})
		if err != nil {
			return nil, err
		}
		return created[0], nil
	}

	user := existing.(*models.User)
	if user.Meta().Archived {
		return nil, fmt.Errorf("user %q is archived", user.Username)
	}
	if user.Email == info.Email && user.Admin == isAdmin {
		return user, nil
	}
	updated, err := h.users.Update(ctx, systemActor, []controllers.Patch{{
		"username": user.Username,
		"email":    info.Email,
		"admin":    isAdmin,
	}}, controllers.Options{})
	if err != nil {
		// Drift reconciliation is best effort; the verified login stands.
		slog.Warn("failed to reconcile user document on login", "username", user.Username, "error", err)
		return user, nil
	}
	return updated[0], nil
}

// MeHandler implements GET /api/v1/auth/me behind the auth middleware.
func (h *Handlers) MeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, middleware.RequestUser(c))
	}
}

// RefreshHandler implements POST /api/v1/auth/refresh behind the auth
// middleware, exchanging a still-valid token for a fresh one.
func (h *Handlers) RefreshHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.RequestUser(c)
		jwtToken, err := auth.GenerateJWT(user.Username, user.Email, h.cfg.Auth.SessionTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate an authentication token"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": jwtToken})
	}
}

// LogoutHandler implements GET /api/v1/auth/logout. Tokens are stateless, so
// logout is client-side; the response carries the provider's end-session
// endpoint when one is advertised.
func (h *Handlers) LogoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := gin.H{"message": "logged out"}
		if h.provider != nil {
			if endpoint := h.provider.GetEndSessionEndpoint(); endpoint != "" {
				resp["end_session_endpoint"] = endpoint
			}
		}
		c.JSON(http.StatusOK, resp)
	}
}

// DevLoginHandler implements POST /api/v1/auth/dev-login, issuing a token for
// any username without an identity provider. Registered only in dev mode.
func (h *Handlers) DevLoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Username string `json:"username"`
			Admin    bool   `json:"admin"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Username) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "a username is required"})
			return
		}
		username := strings.ToLower(strings.TrimSpace(req.Username))

		user, err := h.provisionUser(c.Request.Context(), &oidc.UserInfo{
			Username: username,
			Email:    username + "@localhost",
		}, req.Admin)
		if err != nil {
			c.JSON(http.StatusForbidden, gin.H{"error": "failed to provision dev user"})
			return
		}
		jwtToken, err := auth.GenerateJWT(user.Username, user.Email, h.cfg.Auth.SessionTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate an authentication token"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": jwtToken, "user": user})
	}
}

// DevModeMiddleware blocks development-only endpoints outside dev mode.
func DevModeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsDevMode() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Development endpoints are disabled in production",
			})
			return
		}
		c.Next()
	}
}
