package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/goliatone/go-credentials/core"
	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/oauth2"
)

const (
	defaultRequestTimeout      = 30 * time.Second
	maxRevokeResponseBodyBytes = 1 << 16

	TextCodeProviderRejected    = "PROVIDER_REJECTED"
	TextCodeProviderUnavailable = "PROVIDER_UNAVAILABLE"
)

type OAuth2Config struct {
	ID           string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Endpoint     oauth2.Endpoint
	// RevokeURL is optional; revocation is skipped when empty.
	RevokeURL string
	Scopes    []string
	// AuthParams are appended to every authorization URL.
	AuthParams map[string]string
	// ValidateToken runs on every code exchange result before it is accepted.
	ValidateToken  func(ctx context.Context, token *oauth2.Token) error
	RequestTimeout time.Duration
	HTTPClient     *http.Client
}

// OAuth2Provider drives the authorization-code flow with offline access for a
// single provider.
type OAuth2Provider struct {
	cfg        OAuth2Config
	oauth      oauth2.Config
	httpClient *http.Client
}

func NewOAuth2Provider(cfg OAuth2Config) (*OAuth2Provider, error) {
	cfg.ID = strings.TrimSpace(strings.ToLower(cfg.ID))
	if cfg.ID == "" {
		return nil, fmt.Errorf("providers: provider id is required")
	}
	cfg.ClientID = strings.TrimSpace(cfg.ClientID)
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("providers: client id is required for provider %q", cfg.ID)
	}
	if strings.TrimSpace(cfg.Endpoint.AuthURL) == "" {
		return nil, fmt.Errorf("providers: auth url is required for provider %q", cfg.ID)
	}
	if strings.TrimSpace(cfg.Endpoint.TokenURL) == "" {
		return nil, fmt.Errorf("providers: token url is required for provider %q", cfg.ID)
	}
	cfg.RedirectURL = strings.TrimSpace(cfg.RedirectURL)
	if cfg.RedirectURL == "" {
		return nil, fmt.Errorf("providers: redirect url is required for provider %q", cfg.ID)
	}
	cfg.ClientSecret = strings.TrimSpace(cfg.ClientSecret)
	cfg.RevokeURL = strings.TrimSpace(cfg.RevokeURL)
	cfg.Scopes = normalizeScopes(cfg.Scopes)
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}

	return &OAuth2Provider{
		cfg: cfg,
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     cfg.Endpoint,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       append([]string(nil), cfg.Scopes...),
		},
		httpClient: httpClient,
	}, nil
}

func (p *OAuth2Provider) ID() string {
	if p == nil {
		return ""
	}
	return p.cfg.ID
}

// Describe exposes the public client configuration. The client secret is
// never included.
func (p *OAuth2Provider) Describe() core.ProviderInfo {
	if p == nil {
		return core.ProviderInfo{}
	}
	return core.ProviderInfo{
		ProviderID:  p.cfg.ID,
		ClientID:    p.cfg.ClientID,
		RedirectURL: p.cfg.RedirectURL,
		Scopes:      append([]string(nil), p.cfg.Scopes...),
	}
}

func (p *OAuth2Provider) AuthorizationURL(_ context.Context, req core.AuthorizationURLRequest) (string, error) {
	if p == nil {
		return "", fmt.Errorf("providers: oauth2 provider is nil")
	}
	state := strings.TrimSpace(req.State)
	if state == "" {
		return "", fmt.Errorf("providers: state is required")
	}
	cfg := p.oauth
	if scopes := normalizeScopes(req.Scopes); len(scopes) > 0 {
		cfg.Scopes = scopes
	}

	opts := []oauth2.AuthCodeOption{oauth2.AccessTypeOffline}
	keys := make([]string, 0, len(p.cfg.AuthParams))
	for key := range p.cfg.AuthParams {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if strings.TrimSpace(key) == "" {
			continue
		}
		opts = append(opts, oauth2.SetAuthURLParam(key, p.cfg.AuthParams[key]))
	}
	return cfg.AuthCodeURL(state, opts...), nil
}

func (p *OAuth2Provider) ExchangeCode(ctx context.Context, code string) (core.ProviderToken, error) {
	if p == nil {
		return core.ProviderToken{}, fmt.Errorf("providers: oauth2 provider is nil")
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return core.ProviderToken{}, providerError(
			fmt.Errorf("%w: authorization code is empty", errRefused), "exchange", p.cfg.ID,
		)
	}
	token, err := p.oauth.Exchange(p.clientContext(ctx), code)
	if err != nil {
		return core.ProviderToken{}, providerError(err, "exchange", p.cfg.ID)
	}
	if p.cfg.ValidateToken != nil {
		if err := p.cfg.ValidateToken(p.clientContext(ctx), token); err != nil {
			return core.ProviderToken{}, providerError(fmt.Errorf("%w: %w", errRefused, err), "exchange", p.cfg.ID)
		}
	}
	return p.providerToken(token), nil
}

// RefreshToken exchanges a refresh token. Providers that do not rotate refresh
// tokens return an empty RefreshToken.
func (p *OAuth2Provider) RefreshToken(ctx context.Context, refreshToken string) (core.ProviderToken, error) {
	if p == nil {
		return core.ProviderToken{}, fmt.Errorf("providers: oauth2 provider is nil")
	}
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return core.ProviderToken{}, providerError(
			fmt.Errorf("%w: refresh token is empty", errRefused), "refresh", p.cfg.ID,
		)
	}
	token, err := p.oauth.TokenSource(p.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return core.ProviderToken{}, providerError(err, "refresh", p.cfg.ID)
	}
	issued := p.providerToken(token)
	if issued.RefreshToken == refreshToken {
		issued.RefreshToken = ""
	}
	return issued, nil
}

func (p *OAuth2Provider) RevokeToken(ctx context.Context, token string) error {
	if p == nil {
		return fmt.Errorf("providers: oauth2 provider is nil")
	}
	token = strings.TrimSpace(token)
	if token == "" || p.cfg.RevokeURL == "" {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	requestCtx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()

	form := url.Values{}
	form.Set("token", token)
	req, err := http.NewRequestWithContext(requestCtx, http.MethodPost, p.cfg.RevokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return providerError(err, "revoke", p.cfg.ID)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := p.httpClient.Do(req)
	if err != nil {
		return providerError(err, "revoke", p.cfg.ID)
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(res.Body, maxRevokeResponseBodyBytes))
	if res.StatusCode >= http.StatusOK && res.StatusCode < http.StatusMultipleChoices {
		return nil
	}
	return providerError(&oauth2.RetrieveError{Response: res, Body: body}, "revoke", p.cfg.ID)
}

func (p *OAuth2Provider) clientContext(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

func (p *OAuth2Provider) providerToken(token *oauth2.Token) core.ProviderToken {
	if token == nil {
		return core.ProviderToken{}
	}
	issued := core.ProviderToken{
		AccessToken:  strings.TrimSpace(token.AccessToken),
		RefreshToken: strings.TrimSpace(token.RefreshToken),
		TokenType:    normalizeTokenType(token.TokenType),
	}
	if scope, ok := token.Extra("scope").(string); ok {
		issued.Scopes = normalizeScopes(strings.Fields(strings.ReplaceAll(scope, ",", " ")))
	}
	if !token.Expiry.IsZero() {
		expiresAt := token.Expiry.UTC()
		issued.ExpiresAt = &expiresAt
	}
	return issued
}

// errRefused marks failures decided locally that must not be retried, such as
// an empty grant or a token that failed validation.
var errRefused = errors.New("providers: refused")

// providerError classifies a provider failure. Explicit 4xx refusals and
// local refusals are rejections. Everything else stays retryable.
func providerError(err error, operation string, providerID string) error {
	if err == nil {
		return nil
	}
	metadata := map[string]any{"provider_id": providerID, "operation": operation}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		status := 0
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
		}
		metadata["status_code"] = status
		if code := strings.TrimSpace(retrieveErr.ErrorCode); code != "" {
			metadata["error_code"] = code
		}
		if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
			return goerrors.Wrap(err, goerrors.CategoryExternal, "providers: "+operation+" failed").
				WithCode(http.StatusBadGateway).
				WithTextCode(TextCodeProviderUnavailable).
				WithMetadata(metadata)
		}
		textCode := TextCodeProviderRejected
		if strings.EqualFold(retrieveErr.ErrorCode, "invalid_grant") {
			textCode = "INVALID_GRANT"
		}
		return goerrors.Wrap(err, goerrors.CategoryAuth, "providers: "+operation+" rejected").
			WithCode(http.StatusUnauthorized).
			WithTextCode(textCode).
			WithMetadata(metadata)
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return goerrors.Wrap(err, goerrors.CategoryExternal, "providers: "+operation+" timed out").
			WithCode(http.StatusGatewayTimeout).
			WithTextCode(TextCodeProviderUnavailable).
			WithMetadata(metadata)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return goerrors.Wrap(err, goerrors.CategoryExternal, "providers: "+operation+" unreachable").
			WithCode(http.StatusBadGateway).
			WithTextCode(TextCodeProviderUnavailable).
			WithMetadata(metadata)
	}
	if errors.Is(err, errRefused) {
		return goerrors.Wrap(err, goerrors.CategoryAuth, "providers: "+operation+" refused").
			WithCode(http.StatusUnauthorized).
			WithTextCode(TextCodeProviderRejected).
			WithMetadata(metadata)
	}
	// Anything else, such as a malformed 2xx body, says nothing about the grant.
	return goerrors.Wrap(err, goerrors.CategoryExternal, "providers: "+operation+" failed").
		WithCode(http.StatusBadGateway).
		WithTextCode(TextCodeProviderUnavailable).
		WithMetadata(metadata)
}

func normalizeTokenType(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "bearer"
	}
	return normalized
}

func normalizeScopes(input []string) []string {
	if len(input) == 0 {
		return []string{}
	}
	values := make([]string, 0, len(input))
	seen := map[string]struct{}{}
	for _, value := range input {
		normalized := strings.TrimSpace(value)
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		values = append(values, normalized)
	}
	return values
}

var (
	_ core.ExternalProvider  = (*OAuth2Provider)(nil)
	_ core.ProviderDescriber = (*OAuth2Provider)(nil)
)
