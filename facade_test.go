package credentials_test

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"testing"
	"time"

	gocmd "github.com/goliatone/go-command"
	credentials "github.com/goliatone/go-credentials"
	credcommand "github.com/goliatone/go-credentials/command"
	"github.com/goliatone/go-credentials/core"
	credquery "github.com/goliatone/go-credentials/query"
)

type facadeIdentity struct {
	revoked []string
}

func (f *facadeIdentity) Authenticate(_ context.Context, creds core.LoginCredentials) (core.Authentication, error) {
	if creds.Password != "secret" {
		return core.Authentication{}, fmt.Errorf("%w: bad password", core.ErrRejected)
	}
	expiresAt := time.Now().UTC().Add(time.Hour)
	return core.Authentication{
		Principal: core.Principal{UserID: "u-1", DisplayName: creds.Username, Role: core.RoleAdmin},
		Tokens:    core.IssuedTokens{AccessToken: "access-1", RefreshToken: "refresh-1", ExpiresAt: &expiresAt},
	}, nil
}

func (f *facadeIdentity) VerifyToken(context.Context, string) (core.Principal, error) {
	return core.Principal{UserID: "u-1", DisplayName: "ada", Role: core.RoleAdmin}, nil
}

func (f *facadeIdentity) ExchangeRefreshToken(context.Context, string) (core.IssuedTokens, error) {
	return core.IssuedTokens{}, errors.New("not used")
}

func (f *facadeIdentity) RevokeToken(_ context.Context, token string) error {
	f.revoked = append(f.revoked, token)
	return nil
}

type facadeProvider struct{}

func (facadeProvider) ID() string { return "youtube" }

func (facadeProvider) AuthorizationURL(_ context.Context, req core.AuthorizationURLRequest) (string, error) {
	return "https://accounts.example.com/auth?state=" + url.QueryEscape(req.State), nil
}

func (facadeProvider) ExchangeCode(context.Context, string) (core.ProviderToken, error) {
	return core.ProviderToken{}, errors.New("not used")
}

func (facadeProvider) RefreshToken(context.Context, string) (core.ProviderToken, error) {
	return core.ProviderToken{}, errors.New("not used")
}

func (facadeProvider) RevokeToken(context.Context, string) error { return nil }

func (facadeProvider) Describe() core.ProviderInfo {
	return core.ProviderInfo{ClientID: "client-1", RedirectURL: "https://app.example/callback", Scopes: []string{"youtube"}}
}

func TestNewFacadeRequiresBackends(t *testing.T) {
	if facade, err := credentials.NewFacade(nil, nil); err == nil || facade != nil {
		t.Fatalf("expected error for missing backends")
	}
}

func TestSetupWiresSessionCommandsAndQueries(t *testing.T) {
	identity := &facadeIdentity{}
	facade, err := credentials.Setup(credentials.NewMemoryTokenStore(), identity, facadeProvider{}, credentials.DefaultConfig())
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	collector := gocmd.NewResult[core.Session]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)
	if err := facade.Commands().Login.Execute(ctx, credcommand.LoginMessage{
		Credentials: core.LoginCredentials{Username: "ada", Password: "secret"},
	}); err != nil {
		t.Fatalf("login: %v", err)
	}
	session, ok := collector.Load()
	if !ok || session.ID == "" {
		t.Fatalf("expected login result")
	}

	current, err := facade.Queries().CurrentSession.Query(context.Background(), credquery.CurrentSessionMessage{SessionID: session.ID})
	if err != nil {
		t.Fatalf("current session: %v", err)
	}
	if current.UserID != "u-1" || current.Role != core.RoleAdmin {
		t.Fatalf("unexpected session %+v", current)
	}

	if err := facade.Commands().Logout.Execute(context.Background(), credcommand.LogoutMessage{SessionID: session.ID}); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if len(identity.revoked) != 1 || identity.revoked[0] != "access-1" {
		t.Fatalf("expected server side revocation, got %v", identity.revoked)
	}
	_, err = facade.Queries().CurrentSession.Query(context.Background(), credquery.CurrentSessionMessage{SessionID: session.ID})
	if !core.HasTextCode(err, core.TextCodeUnauthenticated) {
		t.Fatalf("expected unauthenticated after logout, got %v", err)
	}
}

func TestSetupWiresCredentialCommandsAndQueries(t *testing.T) {
	gate := credentials.ResourceGateFunc(func(_ context.Context, resourceID string) error {
		if resourceID != "org-1" {
			return core.PermissionDeniedError("unknown resource", nil)
		}
		return nil
	})
	facade, err := credentials.Setup(
		credentials.NewMemoryTokenStore(),
		&facadeIdentity{},
		facadeProvider{},
		credentials.DefaultConfig(),
		credentials.WithResourceGate(gate),
	)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	collector := gocmd.NewResult[core.AuthorizationStart]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)
	if err := facade.Commands().BeginAuthorization.Execute(ctx, credcommand.BeginAuthorizationMessage{ResourceID: "org-1"}); err != nil {
		t.Fatalf("begin authorization: %v", err)
	}
	start, ok := collector.Load()
	if !ok || start.State == "" || start.AuthorizationURL == "" {
		t.Fatalf("unexpected authorization start %+v", start)
	}

	status, err := facade.Queries().CredentialStatus.Query(context.Background(), credquery.CredentialStatusMessage{ResourceID: "org-1"})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.State != core.CredentialStateAwaitingCode || status.Connected {
		t.Fatalf("unexpected status %+v", status)
	}

	err = facade.Commands().BeginAuthorization.Execute(context.Background(), credcommand.BeginAuthorizationMessage{ResourceID: "org-2"})
	if !core.HasTextCode(err, core.TextCodePermissionDenied) {
		t.Fatalf("expected gate refusal, got %v", err)
	}

	info, err := facade.Queries().ProviderInfo.Query(context.Background(), credquery.ProviderInfoMessage{})
	if err != nil {
		t.Fatalf("provider info: %v", err)
	}
	if info.ProviderID != "youtube" || info.ClientID != "client-1" {
		t.Fatalf("unexpected provider info %+v", info)
	}
}
