package security_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-credentials/core"
	"github.com/goliatone/go-credentials/security"
)

type sealedIdentity struct{}

func (sealedIdentity) Authenticate(context.Context, core.LoginCredentials) (core.Authentication, error) {
	expiresAt := time.Now().UTC().Add(time.Hour)
	return core.Authentication{
		Principal: core.Principal{UserID: "u-1", DisplayName: "ada", Role: core.RoleOperator},
		Tokens:    core.IssuedTokens{AccessToken: "plain-access-token", RefreshToken: "plain-refresh-token", ExpiresAt: &expiresAt},
	}, nil
}

func (sealedIdentity) VerifyToken(context.Context, string) (core.Principal, error) {
	return core.Principal{UserID: "u-1", DisplayName: "ada", Role: core.RoleOperator}, nil
}

func (sealedIdentity) ExchangeRefreshToken(context.Context, string) (core.IssuedTokens, error) {
	return core.IssuedTokens{}, errors.New("not used")
}

func (sealedIdentity) RevokeToken(context.Context, string) error { return nil }

func TestSessionRecordsAreSealedAtRest(t *testing.T) {
	sealer, err := security.NewAppKeySecretProviderFromString("integration-app-key", security.WithKeyID("sessions"))
	if err != nil {
		t.Fatalf("new sealer: %v", err)
	}
	store := core.NewMemoryTokenStore()
	manager, err := core.NewSessionManager(store, sealedIdentity{}, core.DefaultConfig(), core.WithSecretProvider(sealer))
	if err != nil {
		t.Fatalf("new session manager: %v", err)
	}

	session, err := manager.Login(context.Background(), core.LoginCredentials{Username: "ada", Password: "pw"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	record, err := store.Get(context.Background(), core.SessionKey(session.ID))
	if err != nil {
		t.Fatalf("get raw record: %v", err)
	}
	if !security.IsSealed(record.Payload) {
		t.Fatalf("expected sealed payload")
	}
	if bytes.Contains(record.Payload, []byte("plain-access-token")) || bytes.Contains(record.Payload, []byte("plain-refresh-token")) {
		t.Fatalf("tokens leaked into the stored payload")
	}

	current, err := manager.Current(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if current.AccessToken != "plain-access-token" {
		t.Fatalf("expected decrypted access token, got %q", current.AccessToken)
	}
}
