// Package auth - jwt.go signs and verifies session tokens with a shared
// HMAC secret. Claims carry only the username and email; the user document
// is looked up from the store on each request, so a permission change or a
// deactivated account takes effect without waiting for the token to expire.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	sessionIssuer = "mcf"

	// Secrets shorter than this are accepted with a warning. HS256 keys
	// below 32 bytes weaken the HMAC below its design strength.
	minSecretLength = 32

	defaultSessionTTL = 12 * time.Hour
)

var (
	jwtSecret     string
	jwtSecretOnce sync.Once
	jwtSecretErr  error
)

// Claims is the session token payload.
type Claims struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	jwt.RegisteredClaims
}

// isDevMode mirrors the config package's check. Duplicated here because
// auth must not import config.
func isDevMode() bool {
	devMode := os.Getenv("DEV_MODE")
	ginMode := os.Getenv("GIN_MODE")

	return devMode == "true" || devMode == "1" || ginMode == "debug"
}

// generateRandomSecret produces a throwaway signing secret for dev mode.
func generateRandomSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("dev-fallback-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}

// loadSecret resolves the signing secret from the environment. Outside of
// dev mode a missing secret is a startup error rather than a warning.
func loadSecret() (string, error) {
	secret := os.Getenv("MCF_AUTH_JWT_SECRET")

	if secret == "" {
		if !isDevMode() {
			return "", errors.New("MCF_AUTH_JWT_SECRET is required in production; " +
				"generate one with: openssl rand -hex 32")
		}
		slog.Warn("MCF_AUTH_JWT_SECRET not set, using an auto-generated secret",
			"consequence", "sessions will not survive a restart")
		return generateRandomSecret(), nil
	}

	if len(secret) < minSecretLength {
		slog.Warn("MCF_AUTH_JWT_SECRET is shorter than recommended",
			"length", len(secret), "recommended", minSecretLength)
	}

	return secret, nil
}

// ValidateJWTSecret resolves and caches the signing secret. Call it once at
// startup so a misconfigured deployment fails before accepting traffic.
func ValidateJWTSecret() error {
	jwtSecretOnce.Do(func() {
		jwtSecret, jwtSecretErr = loadSecret()
	})
	return jwtSecretErr
}

// GetJWTSecret returns the cached signing secret. Panics if the secret was
// never successfully resolved; handlers only reach this after startup
// validation has passed.
func GetJWTSecret() string {
	if jwtSecret == "" {
		if err := ValidateJWTSecret(); err != nil {
			panic(err)
		}
	}
	return jwtSecret
}

// GenerateJWT issues a session token for an authenticated user. A zero
// expiresIn falls back to the auth.session_ttl default.
func GenerateJWT(username, email string, expiresIn time.Duration) (string, error) {
	if expiresIn == 0 {
		expiresIn = defaultSessionTTL
	}

	now := time.Now()
	claims := &Claims{
		Username: username,
		Email:    email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    sessionIssuer,
			Subject:   username,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(GetJWTSecret()))
}

// ValidateJWT parses a session token and returns its claims. Expired or
// tampered tokens fail here; whether the named user still exists is the
// caller's problem.
func ValidateJWT(tokenString string) (*Claims, error) {
	secret := GetJWTSecret()

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.New("invalid claims type")
	}

	return claims, nil
}
