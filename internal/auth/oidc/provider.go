// Package oidc implements OpenID Connect login for the MCF server. It
// covers discovery, the authorization-code exchange, ID token verification,
// and claim extraction. Turning the extracted identity into a user document
// is the login handler's job, not this package's.
package oidc

import (
	"context"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/lmco/mcf-sub003/internal/config"
)

// OIDCProvider bundles the discovered provider metadata, the ID token
// verifier, and the OAuth2 client configuration.
type OIDCProvider struct {
	verifier *oidc.IDTokenVerifier
	config   *oauth2.Config
	provider *oidc.Provider
}

// UserInfo is the identity extracted from a verified ID token. Username is
// the preferred_username claim lowercased, falling back to the local part
// of the email address, so it satisfies the reference-ID character rules.
type UserInfo struct {
	Sub        string
	Username   string
	Email      string
	GivenName  string
	FamilyName string
}

// checkConfig rejects configurations that cannot produce a working login
// flow before any network traffic happens.
func checkConfig(cfg *config.OIDCConfig) error {
	switch {
	case !cfg.Enabled:
		return fmt.Errorf("OIDC is not enabled")
	case cfg.IssuerURL == "":
		return fmt.Errorf("OIDC issuer URL is required")
	case cfg.ClientID == "":
		return fmt.Errorf("OIDC client ID is required")
	case cfg.ClientSecret == "":
		return fmt.Errorf("OIDC client secret is required")
	}
	return nil
}

// NewOIDCProvider runs discovery against the configured issuer using a
// background context.
func NewOIDCProvider(cfg *config.OIDCConfig) (*OIDCProvider, error) {
	return NewOIDCProviderWithContext(context.Background(), cfg)
}

// NewOIDCProviderWithContext runs discovery with the given context so
// callers can bound the discovery request.
func NewOIDCProviderWithContext(ctx context.Context, cfg *config.OIDCConfig) (*OIDCProvider, error) {
	if err := checkConfig(cfg); err != nil {
		return nil, err
	}

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}

	return &OIDCProvider{
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		provider: provider,
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       cfg.Scopes,
		},
	}, nil
}

// GetAuthURL builds the authorization URL carrying the CSRF state value.
func (p *OIDCProvider) GetAuthURL(state string) string {
	return p.config.AuthCodeURL(state)
}

// GetEndSessionEndpoint returns the issuer's end_session_endpoint, or an
// empty string when the discovery document does not advertise one. Single
// logout is skipped in that case.
func (p *OIDCProvider) GetEndSessionEndpoint() string {
	var claims struct {
		EndSessionEndpoint string `json:"end_session_endpoint"`
	}
	if err := p.provider.Claims(&claims); err != nil {
		return ""
	}
	return claims.EndSessionEndpoint
}

// ExchangeCode trades the authorization code for the token response.
func (p *OIDCProvider) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code for token: %w", err)
	}
	return token, nil
}

// VerifyIDToken checks the ID token signature, audience, and expiry.
func (p *OIDCProvider) VerifyIDToken(ctx context.Context, rawIDToken string) (*oidc.IDToken, error) {
	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}
	return idToken, nil
}

// ExtractGroups reads the named claim and returns its string values.
// claimName is typically "groups", "roles", or "memberOf" depending on the
// IdP. An absent or empty claim yields nil rather than an error; group
// mapping is optional.
func (p *OIDCProvider) ExtractGroups(idToken *oidc.IDToken, claimName string) []string {
	if claimName == "" {
		return nil
	}

	var raw map[string]interface{}
	if err := idToken.Claims(&raw); err != nil {
		return nil
	}

	switch v := raw[claimName].(type) {
	case []interface{}:
		groups := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				groups = append(groups, s)
			}
		}
		return groups
	case []string:
		return v
	default:
		return nil
	}
}

// ExtractUserInfo pulls the identity claims needed to provision or resolve
// a user document. Tokens without sub and email are rejected; everything
// else is optional.
func (p *OIDCProvider) ExtractUserInfo(idToken *oidc.IDToken) (*UserInfo, error) {
	var claims struct {
		Sub               string `json:"sub"`
		Email             string `json:"email"`
		PreferredUsername string `json:"preferred_username"`
		GivenName         string `json:"given_name"`
		FamilyName        string `json:"family_name"`
	}

	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse ID token claims: %w", err)
	}

	if claims.Sub == "" {
		return nil, fmt.Errorf("ID token missing 'sub' claim")
	}
	if claims.Email == "" {
		return nil, fmt.Errorf("ID token missing 'email' claim")
	}

	username := claims.PreferredUsername
	if username == "" {
		if at := strings.Index(claims.Email, "@"); at > 0 {
			username = claims.Email[:at]
		}
	}
	username = normalizeUsername(username)
	if username == "" {
		return nil, fmt.Errorf("could not derive a username from ID token claims")
	}

	return &UserInfo{
		Sub:        claims.Sub,
		Username:   username,
		Email:      claims.Email,
		GivenName:  claims.GivenName,
		FamilyName: claims.FamilyName,
	}, nil
}

// normalizeUsername lowercases the claim value and maps characters outside
// the reference-ID alphabet to hyphens. IdPs routinely hand out usernames
// like "First.Last@CORP" that would otherwise fail document validation.
func normalizeUsername(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		case r == '.', r == '_', r == '@':
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-")
}
