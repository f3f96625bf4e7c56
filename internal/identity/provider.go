// Package identity adapts the external identity provider and runs the
// sign-in and sign-out flow that feeds principal changes into access control.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/orgsite/orgsite/internal/access"
)

// ErrMissingSubject is returned when the provider yields no stable principal id.
var ErrMissingSubject = errors.New("identity: token has no subject")

// Provider authenticates principals. Authentication is entirely delegated to it.
type Provider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (access.Principal, error)
}

// OIDCConfig configures an OpenID Connect provider.
type OIDCConfig struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

// OIDCProvider implements Provider with OpenID Connect.
type OIDCProvider struct {
	verifier     *oidc.IDTokenVerifier
	oauth2Config *oauth2.Config
}

// NewOIDCProvider discovers the issuer and builds the provider.
func NewOIDCProvider(ctx context.Context, cfg OIDCConfig) (*OIDCProvider, error) {
	if strings.TrimSpace(cfg.IssuerURL) == "" || strings.TrimSpace(cfg.ClientID) == "" {
		return nil, fmt.Errorf("identity: issuer url and client id are required")
	}
	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("identity: discover provider: %w", err)
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}
	return &OIDCProvider{
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		oauth2Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
		},
	}, nil
}

// AuthCodeURL returns the provider's authorization URL for state.
func (p *OIDCProvider) AuthCodeURL(state string) string {
	return p.oauth2Config.AuthCodeURL(state)
}

type idClaims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Exchange trades an authorization code for the signed-in principal.
func (p *OIDCProvider) Exchange(ctx context.Context, code string) (access.Principal, error) {
	if strings.TrimSpace(code) == "" {
		return access.Principal{}, fmt.Errorf("identity: missing authorization code")
	}
	token, err := p.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return access.Principal{}, fmt.Errorf("identity: exchange code: %w", err)
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return access.Principal{}, fmt.Errorf("identity: missing id_token in response")
	}
	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return access.Principal{}, fmt.Errorf("identity: verify id token: %w", err)
	}
	var claims idClaims
	if err := idToken.Claims(&claims); err != nil {
		return access.Principal{}, fmt.Errorf("identity: parse claims: %w", err)
	}
	return principalFromClaims(idToken.Subject, claims)
}

func principalFromClaims(subject string, claims idClaims) (access.Principal, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return access.Principal{}, ErrMissingSubject
	}
	name := strings.TrimSpace(claims.Name)
	if name == "" {
		name = claims.Email
	}
	return access.Principal{ID: subject, DisplayName: name, Email: strings.TrimSpace(claims.Email)}, nil
}
