// Package google configures the YouTube Data API as an external provider.
package google

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/goliatone/go-credentials/providers"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

const (
	ProviderID = "youtube"

	ScopeYouTube         = "https://www.googleapis.com/auth/youtube"
	ScopeYouTubeReadonly = "https://www.googleapis.com/auth/youtube.readonly"
	ScopeYouTubeUpload   = "https://www.googleapis.com/auth/youtube.upload"

	Issuer    = "https://accounts.google.com"
	JWKSURL   = "https://www.googleapis.com/oauth2/v3/certs"
	RevokeURL = "https://oauth2.googleapis.com/revoke"
)

type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// Scopes defaults to ScopeYouTube.
	Scopes []string
	// IncludeIdentityScopes requests openid, email and profile and verifies
	// the returned id_token.
	IncludeIdentityScopes bool
	// KeySet overrides the remote Google key set used for id_token checks.
	KeySet         oidc.KeySet
	Endpoint       *oauth2.Endpoint
	RevokeURL      string
	RequestTimeout time.Duration
	HTTPClient     *http.Client
	Now            func() time.Time
}

func NewYouTubeProvider(cfg Config) (*providers.OAuth2Provider, error) {
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{ScopeYouTube}
	}
	if cfg.IncludeIdentityScopes {
		scopes = append(append([]string(nil), scopes...), oidc.ScopeOpenID, "email", "profile")
	}

	endpoint := endpoints.Google
	if cfg.Endpoint != nil {
		endpoint = *cfg.Endpoint
	}
	revokeURL := strings.TrimSpace(cfg.RevokeURL)
	if revokeURL == "" {
		revokeURL = RevokeURL
	}

	oauthCfg := providers.OAuth2Config{
		ID:           ProviderID,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Endpoint:     endpoint,
		RevokeURL:    revokeURL,
		Scopes:       scopes,
		AuthParams: map[string]string{
			"prompt":                 "consent",
			"include_granted_scopes": "true",
		},
		RequestTimeout: cfg.RequestTimeout,
		HTTPClient:     cfg.HTTPClient,
	}
	if cfg.IncludeIdentityScopes {
		keySet := cfg.KeySet
		if keySet == nil {
			keySet = oidc.NewRemoteKeySet(context.Background(), JWKSURL)
		}
		oauthCfg.ValidateToken = IDTokenValidator(cfg.ClientID, keySet, cfg.Now)
	}
	return providers.NewOAuth2Provider(oauthCfg)
}

// IDTokenValidator verifies the id_token returned with an exchange against
// the Google issuer and the given client id.
func IDTokenValidator(clientID string, keySet oidc.KeySet, now func() time.Time) func(context.Context, *oauth2.Token) error {
	return func(ctx context.Context, token *oauth2.Token) error {
		if token == nil {
			return fmt.Errorf("google: token is nil")
		}
		rawIDToken, ok := token.Extra("id_token").(string)
		if !ok || strings.TrimSpace(rawIDToken) == "" {
			return fmt.Errorf("google: no id_token in token response")
		}
		if keySet == nil {
			return fmt.Errorf("google: id_token key set is not configured")
		}
		verifier := oidc.NewVerifier(Issuer, keySet, &oidc.Config{
			ClientID: strings.TrimSpace(clientID),
			Now:      now,
		})
		idToken, err := verifier.Verify(ctx, rawIDToken)
		if err != nil {
			return fmt.Errorf("google: id_token verification failed: %w", err)
		}
		var claims struct {
			Sub string `json:"sub"`
		}
		if err := idToken.Claims(&claims); err != nil {
			return fmt.Errorf("google: decode id_token claims: %w", err)
		}
		if strings.TrimSpace(claims.Sub) == "" {
			return fmt.Errorf("google: id_token has no subject")
		}
		return nil
	}
}
