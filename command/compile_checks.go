package command

import (
	"github.com/goliatone/go-credentials/core"

	gocmd "github.com/goliatone/go-command"
)

var (
	_ gocmd.Commander[LoginMessage]                     = (*LoginCommand)(nil)
	_ gocmd.Commander[LogoutMessage]                    = (*LogoutCommand)(nil)
	_ gocmd.Commander[VerifySessionMessage]             = (*VerifySessionCommand)(nil)
	_ gocmd.Commander[RefreshSessionMessage]            = (*RefreshSessionCommand)(nil)
	_ gocmd.Commander[ChangePasswordMessage]            = (*ChangePasswordCommand)(nil)
	_ gocmd.Commander[BeginAuthorizationMessage]        = (*BeginAuthorizationCommand)(nil)
	_ gocmd.Commander[ExchangeCodeMessage]              = (*ExchangeCodeCommand)(nil)
	_ gocmd.Commander[CancelAuthorizationMessage]       = (*CancelAuthorizationCommand)(nil)
	_ gocmd.Commander[EnsureValidMessage]               = (*EnsureValidCommand)(nil)
	_ gocmd.Commander[RevokeMessage]                    = (*RevokeCommand)(nil)
	_ gocmd.Commander[RenewExpiringMessage]             = (*RenewExpiringCommand)(nil)
	_ gocmd.Commander[ExpireStaleAuthorizationsMessage] = (*ExpireStaleAuthorizationsCommand)(nil)

	_ SessionService    = (*core.SessionManager)(nil)
	_ CredentialService = (*core.CredentialManager)(nil)
)
