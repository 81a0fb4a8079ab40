package gocommand

import (
	"context"
	"errors"
	"testing"

	credcommand "github.com/goliatone/go-credentials/command"
	"github.com/goliatone/go-credentials/core"
	credquery "github.com/goliatone/go-credentials/query"

	"github.com/goliatone/go-command"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
)

type okMessage struct{}

func (okMessage) Type() string { return "credentials.command.ok" }

type invalidMessage struct{}

func (invalidMessage) Type() string { return "" }

type failingMessage struct{}

func (failingMessage) Type() string { return "credentials.command.fail" }

func (failingMessage) Validate() error { return errors.New("invalid payload") }

type dispatchMessage struct {
	ID string
}

func (dispatchMessage) Type() string { return "credentials.command.test" }

type queueMessage struct{}

func (queueMessage) Type() string { return "credentials.command.queue" }

func TestValidateMessageContract(t *testing.T) {
	if err := ValidateMessageContract(okMessage{}); err != nil {
		t.Fatalf("expected valid message, got %v", err)
	}
	if err := ValidateMessageContract(invalidMessage{}); err == nil {
		t.Fatalf("expected empty type to fail contract validation")
	}
	if err := ValidateMessageContract(failingMessage{}); err == nil {
		t.Fatalf("expected Validate() failure to bubble")
	}
}

func TestRegistryAndDispatchWiring(t *testing.T) {
	adapter := NewRegistryAdapter(command.NewRegistry())
	executed := 0
	customResolverCalled := 0

	cmd := command.CommandFunc[dispatchMessage](func(context.Context, dispatchMessage) error {
		executed++
		return nil
	})

	subscription, err := RegisterAndSubscribe(adapter, cmd)
	if err != nil {
		t.Fatalf("register and subscribe: %v", err)
	}
	defer subscription.Unsubscribe()
	if err := adapter.AddResolver("custom", func(any, command.CommandMeta, *command.Registry) error {
		customResolverCalled++
		return nil
	}); err != nil {
		t.Fatalf("add resolver: %v", err)
	}
	if !adapter.HasResolver("custom") {
		t.Fatalf("expected custom resolver to be registered")
	}
	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize registry: %v", err)
	}
	if customResolverCalled == 0 {
		t.Fatalf("expected resolver hook to run during initialization")
	}

	if err := Dispatch(context.Background(), dispatchMessage{ID: "m1"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if executed != 1 {
		t.Fatalf("expected command execution count=1, got %d", executed)
	}
}

func TestQueueResolverHookWiring(t *testing.T) {
	adapter := NewRegistryAdapter(command.NewRegistry())
	queueRegistry := jobqueuecommand.NewRegistry()

	cmd := command.CommandFunc[queueMessage](func(context.Context, queueMessage) error { return nil })

	if err := adapter.AddQueueResolver("queue", queueRegistry); err != nil {
		t.Fatalf("add queue resolver: %v", err)
	}
	if err := adapter.RegisterCommand(cmd); err != nil {
		t.Fatalf("register command: %v", err)
	}
	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize registry: %v", err)
	}

	if _, ok := queueRegistry.Get("credentials.command.queue"); !ok {
		t.Fatalf("expected command to be mirrored into queue registry")
	}
}

func TestRegisterCredentialsRoutesCommandsAndQueries(t *testing.T) {
	sessions := &stubSessions{}
	credentials := &stubCredentials{}

	reg, err := RegisterCredentials(NewRegistryAdapter(command.NewRegistry()), sessions, credentials)
	if err != nil {
		t.Fatalf("register credentials: %v", err)
	}
	defer reg.Close()
	if reg.Len() != 15 {
		t.Fatalf("expected 15 subscriptions, got %d", reg.Len())
	}

	if err := Dispatch(context.Background(), credcommand.LogoutMessage{SessionID: "sess_1"}); err != nil {
		t.Fatalf("dispatch logout: %v", err)
	}
	if sessions.loggedOut != "sess_1" {
		t.Fatalf("expected logout to reach session backend, got %q", sessions.loggedOut)
	}

	if err := Dispatch(context.Background(), credcommand.RevokeMessage{ResourceID: "channel_1"}); err != nil {
		t.Fatalf("dispatch revoke: %v", err)
	}
	if credentials.revoked != "channel_1" {
		t.Fatalf("expected revoke to reach credential backend, got %q", credentials.revoked)
	}

	status, err := Query[credquery.CredentialStatusMessage, core.CredentialStatus](
		context.Background(),
		credquery.CredentialStatusMessage{ResourceID: "channel_1"},
	)
	if err != nil {
		t.Fatalf("query status: %v", err)
	}
	if status.State != core.CredentialStateNotConnected {
		t.Fatalf("unexpected status: %#v", status)
	}
}

func TestDispatchRejectsInvalidMessageBeforeRouting(t *testing.T) {
	err := Dispatch(context.Background(), credcommand.ExchangeCodeMessage{ResourceID: "channel_1"})
	if !core.HasTextCode(err, core.TextCodeBadInput) {
		t.Fatalf("expected bad input validation error, got %v", err)
	}
}

type stubSessions struct {
	loggedOut string
}

func (s *stubSessions) Login(context.Context, core.LoginCredentials) (core.Session, error) {
	return core.Session{}, nil
}

func (s *stubSessions) Logout(_ context.Context, sessionID string) error {
	s.loggedOut = sessionID
	return nil
}

func (s *stubSessions) Verify(context.Context, string) (core.Session, error) {
	return core.Session{}, nil
}

func (s *stubSessions) Refresh(context.Context, string) (core.Session, error) {
	return core.Session{}, nil
}

func (s *stubSessions) ChangePassword(context.Context, string, string, string) error {
	return nil
}

func (s *stubSessions) Current(context.Context, string) (core.Session, error) {
	return core.Session{}, nil
}

type stubCredentials struct {
	revoked string
}

func (s *stubCredentials) BeginAuthorization(context.Context, string) (core.AuthorizationStart, error) {
	return core.AuthorizationStart{}, nil
}

func (s *stubCredentials) ExchangeCode(context.Context, string, string, string) (core.ExternalCredential, error) {
	return core.ExternalCredential{}, nil
}

func (s *stubCredentials) CancelAuthorization(context.Context, string) error {
	return nil
}

func (s *stubCredentials) EnsureValid(context.Context, string) (core.ExternalCredential, error) {
	return core.ExternalCredential{}, nil
}

func (s *stubCredentials) Revoke(_ context.Context, resourceID string) error {
	s.revoked = resourceID
	return nil
}

func (s *stubCredentials) RenewExpiring(context.Context) (core.RenewalReport, error) {
	return core.RenewalReport{}, nil
}

func (s *stubCredentials) ExpireStaleAuthorizations(context.Context) (int, error) {
	return 0, nil
}

func (s *stubCredentials) Status(_ context.Context, resourceID string) (core.CredentialStatus, error) {
	return core.CredentialStatus{ResourceID: resourceID, State: core.CredentialStateNotConnected}, nil
}

func (s *stubCredentials) ProviderInfo() core.ProviderInfo {
	return core.ProviderInfo{ProviderID: "youtube"}
}
