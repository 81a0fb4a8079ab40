package identity

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-credentials/core"
	"github.com/goliatone/go-credentials/transport"
)

const defaultRequestTimeout = 10 * time.Second

// Endpoints are paths relative to the platform API base URL.
type Endpoints struct {
	Login          string
	Verify         string
	Refresh        string
	Revoke         string
	ChangePassword string
}

func DefaultEndpoints() Endpoints {
	return Endpoints{
		Login:          "auth/login",
		Verify:         "auth/me",
		Refresh:        "auth/refresh",
		Revoke:         "auth/logout",
		ChangePassword: "auth/change-password",
	}
}

type Option func(*Client)

func WithHTTPDoer(doer transport.HTTPDoer) Option {
	return func(c *Client) {
		if doer != nil {
			c.doer = doer
		}
	}
}

func WithEndpoints(endpoints Endpoints) Option {
	return func(c *Client) {
		c.endpoints = mergeEndpoints(c.endpoints, endpoints)
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// Client talks to the platform's identity endpoints. Token lifetimes come
// from the response body when present and otherwise from the access token's
// exp claim.
type Client struct {
	api       *transport.JSONClient
	doer      transport.HTTPDoer
	endpoints Endpoints
	timeout   time.Duration
	now       func() time.Time
	parser    *jwt.Parser
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("identity: base url is required")
	}
	client := &Client{
		endpoints: DefaultEndpoints(),
		timeout:   defaultRequestTimeout,
		now:       func() time.Time { return time.Now().UTC() },
		parser:    jwt.NewParser(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(client)
	}
	if client.doer == nil {
		client.doer = &http.Client{Timeout: client.timeout}
	}
	client.api = transport.NewJSONClient(baseURL, client.doer)
	client.api.DefaultTimeout = client.timeout
	return client, nil
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

type tokenResponse struct {
	AccessToken  string        `json:"access_token"`
	Token        string        `json:"token"`
	RefreshToken string        `json:"refresh_token"`
	ExpiresIn    int64         `json:"expires_in"`
	ExpiresAt    *time.Time    `json:"expires_at"`
	User         *userResponse `json:"user"`
}

func (c *Client) Authenticate(ctx context.Context, credentials core.LoginCredentials) (core.Authentication, error) {
	var out tokenResponse
	if _, err := c.api.Call(ctx, http.MethodPost, c.endpoints.Login, loginRequest{
		Username: credentials.Username,
		Password: credentials.Password,
	}, &out, transport.CallOptions{}); err != nil {
		return core.Authentication{}, err
	}
	tokens := c.issuedTokens(out)
	principal := c.principal(out.User, tokens.AccessToken)
	return core.Authentication{Principal: principal, Tokens: tokens}, nil
}

func (c *Client) VerifyToken(ctx context.Context, accessToken string) (core.Principal, error) {
	var out struct {
		userResponse
		User *userResponse `json:"user"`
	}
	if _, err := c.api.Call(ctx, http.MethodGet, c.endpoints.Verify, nil, &out, transport.CallOptions{
		BearerToken: accessToken,
	}); err != nil {
		return core.Principal{}, err
	}
	user := out.User
	if user == nil {
		user = &out.userResponse
	}
	return c.principal(user, accessToken), nil
}

func (c *Client) ExchangeRefreshToken(ctx context.Context, refreshToken string) (core.IssuedTokens, error) {
	var out tokenResponse
	if _, err := c.api.Call(ctx, http.MethodPost, c.endpoints.Refresh, refreshRequest{
		RefreshToken: refreshToken,
	}, &out, transport.CallOptions{}); err != nil {
		return core.IssuedTokens{}, err
	}
	tokens := c.issuedTokens(out)
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = refreshToken
	}
	return tokens, nil
}

func (c *Client) RevokeToken(ctx context.Context, accessToken string) error {
	_, err := c.api.Call(ctx, http.MethodPost, c.endpoints.Revoke, nil, nil, transport.CallOptions{
		BearerToken: accessToken,
	})
	return err
}

func (c *Client) ChangePassword(ctx context.Context, accessToken string, currentPassword string, newPassword string) error {
	_, err := c.api.Call(ctx, http.MethodPost, c.endpoints.ChangePassword, changePasswordRequest{
		CurrentPassword: currentPassword,
		NewPassword:     newPassword,
	}, nil, transport.CallOptions{BearerToken: accessToken})
	return err
}

func (c *Client) issuedTokens(out tokenResponse) core.IssuedTokens {
	access := strings.TrimSpace(out.AccessToken)
	if access == "" {
		access = strings.TrimSpace(out.Token)
	}
	tokens := core.IssuedTokens{
		AccessToken:  access,
		RefreshToken: strings.TrimSpace(out.RefreshToken),
	}
	switch {
	case out.ExpiresAt != nil && !out.ExpiresAt.IsZero():
		expiresAt := out.ExpiresAt.UTC()
		tokens.ExpiresAt = &expiresAt
	case out.ExpiresIn > 0:
		expiresAt := c.now().Add(time.Duration(out.ExpiresIn) * time.Second)
		tokens.ExpiresAt = &expiresAt
	default:
		tokens.ExpiresAt = c.tokenExpiry(access)
	}
	return tokens
}

// tokenExpiry reads the exp claim without verifying the signature; the
// platform remains the authority on validity.
func (c *Client) tokenExpiry(accessToken string) *time.Time {
	claims, ok := c.claims(accessToken)
	if !ok {
		return nil
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	expiresAt := exp.Time.UTC()
	return &expiresAt
}

func (c *Client) claims(accessToken string) (jwt.MapClaims, bool) {
	if strings.Count(accessToken, ".") != 2 {
		return nil, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := c.parser.ParseUnverified(accessToken, claims); err != nil {
		return nil, false
	}
	return claims, true
}

func (c *Client) principal(user *userResponse, accessToken string) core.Principal {
	principal := core.Principal{}
	if user != nil {
		principal.UserID = strings.TrimSpace(user.ID)
		principal.DisplayName = firstNonEmpty(user.Name, user.Email)
		principal.Role = core.Role(strings.ToLower(strings.TrimSpace(user.Role)))
	}
	if claims, ok := c.claims(accessToken); ok {
		if principal.UserID == "" {
			principal.UserID, _ = claims.GetSubject()
		}
		if principal.DisplayName == "" {
			principal.DisplayName = firstNonEmpty(claimString(claims, "name"), claimString(claims, "email"))
		}
		if principal.Role == "" {
			principal.Role = core.Role(strings.ToLower(claimString(claims, "role")))
		}
	}
	return principal
}

func claimString(claims jwt.MapClaims, key string) string {
	value, _ := claims[key].(string)
	return strings.TrimSpace(value)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func mergeEndpoints(base Endpoints, override Endpoints) Endpoints {
	if strings.TrimSpace(override.Login) != "" {
		base.Login = override.Login
	}
	if strings.TrimSpace(override.Verify) != "" {
		base.Verify = override.Verify
	}
	if strings.TrimSpace(override.Refresh) != "" {
		base.Refresh = override.Refresh
	}
	if strings.TrimSpace(override.Revoke) != "" {
		base.Revoke = override.Revoke
	}
	if strings.TrimSpace(override.ChangePassword) != "" {
		base.ChangePassword = override.ChangePassword
	}
	return base
}

var (
	_ core.IdentityProvider = (*Client)(nil)
	_ core.PasswordChanger  = (*Client)(nil)
)
