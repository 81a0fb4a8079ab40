package query

import "strings"

const (
	TypeCurrentSession   = "credentials.query.session.current"
	TypeCredentialStatus = "credentials.query.credential.status"
	TypeProviderInfo     = "credentials.query.provider.info"
)

type CurrentSessionMessage struct {
	SessionID string
}

func (CurrentSessionMessage) Type() string { return TypeCurrentSession }

func (m CurrentSessionMessage) Validate() error {
	if strings.TrimSpace(m.SessionID) == "" {
		return queryValidationError("session_id", "session id is required")
	}
	return nil
}

type CredentialStatusMessage struct {
	ResourceID string
}

func (CredentialStatusMessage) Type() string { return TypeCredentialStatus }

func (m CredentialStatusMessage) Validate() error {
	if strings.TrimSpace(m.ResourceID) == "" {
		return queryValidationError("resource_id", "resource id is required")
	}
	return nil
}

// ProviderInfoMessage asks for the public OAuth client configuration.
type ProviderInfoMessage struct{}

func (ProviderInfoMessage) Type() string { return TypeProviderInfo }
