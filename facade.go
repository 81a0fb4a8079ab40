package credentials

import (
	"fmt"

	credcommand "github.com/goliatone/go-credentials/command"
	"github.com/goliatone/go-credentials/core"
	credquery "github.com/goliatone/go-credentials/query"
)

type SessionBackend interface {
	credcommand.SessionService
	credquery.SessionReader
}

type CredentialBackend interface {
	credcommand.CredentialService
	credquery.CredentialStatusReader
	credquery.ProviderInfoReader
}

type Commands struct {
	Login                     *credcommand.LoginCommand
	Logout                    *credcommand.LogoutCommand
	VerifySession             *credcommand.VerifySessionCommand
	RefreshSession            *credcommand.RefreshSessionCommand
	ChangePassword            *credcommand.ChangePasswordCommand
	BeginAuthorization        *credcommand.BeginAuthorizationCommand
	ExchangeCode              *credcommand.ExchangeCodeCommand
	CancelAuthorization       *credcommand.CancelAuthorizationCommand
	EnsureValid               *credcommand.EnsureValidCommand
	Revoke                    *credcommand.RevokeCommand
	RenewExpiring             *credcommand.RenewExpiringCommand
	ExpireStaleAuthorizations *credcommand.ExpireStaleAuthorizationsCommand
}

type Queries struct {
	CurrentSession   *credquery.CurrentSessionQuery
	CredentialStatus *credquery.CredentialStatusQuery
	ProviderInfo     *credquery.ProviderInfoQuery
}

type Facade struct {
	sessions    SessionBackend
	credentials CredentialBackend
	commands    Commands
	queries     Queries
}

func NewFacade(sessions SessionBackend, credentials CredentialBackend) (*Facade, error) {
	if sessions == nil {
		return nil, fmt.Errorf("credentials: session backend is required")
	}
	if credentials == nil {
		return nil, fmt.Errorf("credentials: credential backend is required")
	}

	facade := &Facade{sessions: sessions, credentials: credentials}
	facade.commands = Commands{
		Login:                     credcommand.NewLoginCommand(sessions),
		Logout:                    credcommand.NewLogoutCommand(sessions),
		VerifySession:             credcommand.NewVerifySessionCommand(sessions),
		RefreshSession:            credcommand.NewRefreshSessionCommand(sessions),
		ChangePassword:            credcommand.NewChangePasswordCommand(sessions),
		BeginAuthorization:        credcommand.NewBeginAuthorizationCommand(credentials),
		ExchangeCode:              credcommand.NewExchangeCodeCommand(credentials),
		CancelAuthorization:       credcommand.NewCancelAuthorizationCommand(credentials),
		EnsureValid:               credcommand.NewEnsureValidCommand(credentials),
		Revoke:                    credcommand.NewRevokeCommand(credentials),
		RenewExpiring:             credcommand.NewRenewExpiringCommand(credentials),
		ExpireStaleAuthorizations: credcommand.NewExpireStaleAuthorizationsCommand(credentials),
	}
	facade.queries = Queries{
		CurrentSession:   credquery.NewCurrentSessionQuery(sessions),
		CredentialStatus: credquery.NewCredentialStatusQuery(credentials),
		ProviderInfo:     credquery.NewProviderInfoQuery(credentials),
	}
	return facade, nil
}

// Setup builds both managers over one store and wraps them in a Facade.
func Setup(store TokenStore, identity IdentityProvider, provider ExternalProvider, cfg Config, opts ...Option) (*Facade, error) {
	sessions, err := core.NewSessionManager(store, identity, cfg, opts...)
	if err != nil {
		return nil, err
	}
	credentials, err := core.NewCredentialManager(store, provider, cfg, opts...)
	if err != nil {
		return nil, err
	}
	return NewFacade(sessions, credentials)
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Sessions() SessionBackend {
	if f == nil {
		return nil
	}
	return f.sessions
}

func (f *Facade) Credentials() CredentialBackend {
	if f == nil {
		return nil
	}
	return f.credentials
}
