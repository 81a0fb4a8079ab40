package command

import (
	"strings"

	"github.com/goliatone/go-credentials/core"
)

const (
	TypeLogin                     = "credentials.command.session.login"
	TypeLogout                    = "credentials.command.session.logout"
	TypeVerifySession             = "credentials.command.session.verify"
	TypeRefreshSession            = "credentials.command.session.refresh"
	TypeChangePassword            = "credentials.command.session.change_password"
	TypeBeginAuthorization        = "credentials.command.authorization.begin"
	TypeExchangeCode              = "credentials.command.authorization.exchange"
	TypeCancelAuthorization       = "credentials.command.authorization.cancel"
	TypeEnsureValid               = "credentials.command.credential.ensure_valid"
	TypeRevoke                    = "credentials.command.credential.revoke"
	TypeRenewExpiring             = "credentials.command.credential.renew_expiring"
	TypeExpireStaleAuthorizations = "credentials.command.authorization.expire_stale"
)

type LoginMessage struct {
	Credentials core.LoginCredentials
}

func (LoginMessage) Type() string { return TypeLogin }

func (m LoginMessage) Validate() error {
	if strings.TrimSpace(m.Credentials.Username) == "" {
		return commandValidationError("username", "username is required")
	}
	if m.Credentials.Password == "" {
		return commandValidationError("password", "password is required")
	}
	return nil
}

type LogoutMessage struct {
	SessionID string
}

func (LogoutMessage) Type() string { return TypeLogout }

func (m LogoutMessage) Validate() error {
	return requireSessionID(m.SessionID)
}

type VerifySessionMessage struct {
	SessionID string
}

func (VerifySessionMessage) Type() string { return TypeVerifySession }

func (m VerifySessionMessage) Validate() error {
	return requireSessionID(m.SessionID)
}

type RefreshSessionMessage struct {
	SessionID string
}

func (RefreshSessionMessage) Type() string { return TypeRefreshSession }

func (m RefreshSessionMessage) Validate() error {
	return requireSessionID(m.SessionID)
}

type ChangePasswordMessage struct {
	SessionID       string
	CurrentPassword string
	NewPassword     string
}

func (ChangePasswordMessage) Type() string { return TypeChangePassword }

func (m ChangePasswordMessage) Validate() error {
	if err := requireSessionID(m.SessionID); err != nil {
		return err
	}
	if m.CurrentPassword == "" {
		return commandValidationError("current_password", "current password is required")
	}
	if m.NewPassword == "" {
		return commandValidationError("new_password", "new password is required")
	}
	if m.NewPassword == m.CurrentPassword {
		return commandValidationError("new_password", "new password must differ from the current password")
	}
	return nil
}

type BeginAuthorizationMessage struct {
	ResourceID string
}

func (BeginAuthorizationMessage) Type() string { return TypeBeginAuthorization }

func (m BeginAuthorizationMessage) Validate() error {
	return requireResourceID(m.ResourceID)
}

// ExchangeCodeMessage carries the authorization response, whether it arrived
// on the redirect target or was pasted in manually.
type ExchangeCodeMessage struct {
	ResourceID string
	Code       string
	State      string
}

func (ExchangeCodeMessage) Type() string { return TypeExchangeCode }

func (m ExchangeCodeMessage) Validate() error {
	if err := requireResourceID(m.ResourceID); err != nil {
		return err
	}
	if strings.TrimSpace(m.Code) == "" {
		return commandValidationError("code", "authorization code is required")
	}
	return nil
}

type CancelAuthorizationMessage struct {
	ResourceID string
}

func (CancelAuthorizationMessage) Type() string { return TypeCancelAuthorization }

func (m CancelAuthorizationMessage) Validate() error {
	return requireResourceID(m.ResourceID)
}

type EnsureValidMessage struct {
	ResourceID string
}

func (EnsureValidMessage) Type() string { return TypeEnsureValid }

func (m EnsureValidMessage) Validate() error {
	return requireResourceID(m.ResourceID)
}

type RevokeMessage struct {
	ResourceID string
}

func (RevokeMessage) Type() string { return TypeRevoke }

func (m RevokeMessage) Validate() error {
	return requireResourceID(m.ResourceID)
}

type RenewExpiringMessage struct{}

func (RenewExpiringMessage) Type() string { return TypeRenewExpiring }

type ExpireStaleAuthorizationsMessage struct{}

func (ExpireStaleAuthorizationsMessage) Type() string { return TypeExpireStaleAuthorizations }

func requireSessionID(sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return commandValidationError("session_id", "session id is required")
	}
	return nil
}

func requireResourceID(resourceID string) error {
	if strings.TrimSpace(resourceID) == "" {
		return commandValidationError("resource_id", "resource id is required")
	}
	return nil
}
