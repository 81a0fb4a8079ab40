package command

import (
	"context"

	"github.com/goliatone/go-credentials/core"

	gocmd "github.com/goliatone/go-command"
)

type SessionService interface {
	Login(ctx context.Context, credentials core.LoginCredentials) (core.Session, error)
	Logout(ctx context.Context, sessionID string) error
	Verify(ctx context.Context, sessionID string) (core.Session, error)
	Refresh(ctx context.Context, sessionID string) (core.Session, error)
	ChangePassword(ctx context.Context, sessionID string, currentPassword string, newPassword string) error
}

type CredentialService interface {
	BeginAuthorization(ctx context.Context, resourceID string) (core.AuthorizationStart, error)
	ExchangeCode(ctx context.Context, resourceID string, code string, returnedState string) (core.ExternalCredential, error)
	CancelAuthorization(ctx context.Context, resourceID string) error
	EnsureValid(ctx context.Context, resourceID string) (core.ExternalCredential, error)
	Revoke(ctx context.Context, resourceID string) error
	RenewExpiring(ctx context.Context) (core.RenewalReport, error)
	ExpireStaleAuthorizations(ctx context.Context) (int, error)
}

type LoginCommand struct {
	service SessionService
}

func NewLoginCommand(service SessionService) *LoginCommand {
	return &LoginCommand{service: service}
}

func (c *LoginCommand) Execute(ctx context.Context, msg LoginMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: session service is required")
	}
	out, err := c.service.Login(ctx, msg.Credentials)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type LogoutCommand struct {
	service SessionService
}

func NewLogoutCommand(service SessionService) *LogoutCommand {
	return &LogoutCommand{service: service}
}

func (c *LogoutCommand) Execute(ctx context.Context, msg LogoutMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: session service is required")
	}
	return c.service.Logout(ctx, msg.SessionID)
}

type VerifySessionCommand struct {
	service SessionService
}

func NewVerifySessionCommand(service SessionService) *VerifySessionCommand {
	return &VerifySessionCommand{service: service}
}

func (c *VerifySessionCommand) Execute(ctx context.Context, msg VerifySessionMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: session service is required")
	}
	out, err := c.service.Verify(ctx, msg.SessionID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RefreshSessionCommand struct {
	service SessionService
}

func NewRefreshSessionCommand(service SessionService) *RefreshSessionCommand {
	return &RefreshSessionCommand{service: service}
}

func (c *RefreshSessionCommand) Execute(ctx context.Context, msg RefreshSessionMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: session service is required")
	}
	out, err := c.service.Refresh(ctx, msg.SessionID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ChangePasswordCommand struct {
	service SessionService
}

func NewChangePasswordCommand(service SessionService) *ChangePasswordCommand {
	return &ChangePasswordCommand{service: service}
}

func (c *ChangePasswordCommand) Execute(ctx context.Context, msg ChangePasswordMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: session service is required")
	}
	return c.service.ChangePassword(ctx, msg.SessionID, msg.CurrentPassword, msg.NewPassword)
}

type BeginAuthorizationCommand struct {
	service CredentialService
}

func NewBeginAuthorizationCommand(service CredentialService) *BeginAuthorizationCommand {
	return &BeginAuthorizationCommand{service: service}
}

func (c *BeginAuthorizationCommand) Execute(ctx context.Context, msg BeginAuthorizationMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: credential service is required")
	}
	out, err := c.service.BeginAuthorization(ctx, msg.ResourceID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ExchangeCodeCommand struct {
	service CredentialService
}

func NewExchangeCodeCommand(service CredentialService) *ExchangeCodeCommand {
	return &ExchangeCodeCommand{service: service}
}

func (c *ExchangeCodeCommand) Execute(ctx context.Context, msg ExchangeCodeMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: credential service is required")
	}
	out, err := c.service.ExchangeCode(ctx, msg.ResourceID, msg.Code, msg.State)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type CancelAuthorizationCommand struct {
	service CredentialService
}

func NewCancelAuthorizationCommand(service CredentialService) *CancelAuthorizationCommand {
	return &CancelAuthorizationCommand{service: service}
}

func (c *CancelAuthorizationCommand) Execute(ctx context.Context, msg CancelAuthorizationMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: credential service is required")
	}
	return c.service.CancelAuthorization(ctx, msg.ResourceID)
}

type EnsureValidCommand struct {
	service CredentialService
}

func NewEnsureValidCommand(service CredentialService) *EnsureValidCommand {
	return &EnsureValidCommand{service: service}
}

func (c *EnsureValidCommand) Execute(ctx context.Context, msg EnsureValidMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: credential service is required")
	}
	out, err := c.service.EnsureValid(ctx, msg.ResourceID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RevokeCommand struct {
	service CredentialService
}

func NewRevokeCommand(service CredentialService) *RevokeCommand {
	return &RevokeCommand{service: service}
}

func (c *RevokeCommand) Execute(ctx context.Context, msg RevokeMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: credential service is required")
	}
	return c.service.Revoke(ctx, msg.ResourceID)
}

type RenewExpiringCommand struct {
	service CredentialService
}

func NewRenewExpiringCommand(service CredentialService) *RenewExpiringCommand {
	return &RenewExpiringCommand{service: service}
}

func (c *RenewExpiringCommand) Execute(ctx context.Context, _ RenewExpiringMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: credential service is required")
	}
	out, err := c.service.RenewExpiring(ctx)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ExpireStaleAuthorizationsCommand struct {
	service CredentialService
}

func NewExpireStaleAuthorizationsCommand(service CredentialService) *ExpireStaleAuthorizationsCommand {
	return &ExpireStaleAuthorizationsCommand{service: service}
}

func (c *ExpireStaleAuthorizationsCommand) Execute(ctx context.Context, _ ExpireStaleAuthorizationsMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: credential service is required")
	}
	out, err := c.service.ExpireStaleAuthorizations(ctx)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
