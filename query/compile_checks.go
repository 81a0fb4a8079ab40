package query

import (
	"github.com/goliatone/go-credentials/core"

	gocmd "github.com/goliatone/go-command"
)

var (
	_ gocmd.Querier[CurrentSessionMessage, core.Session]            = (*CurrentSessionQuery)(nil)
	_ gocmd.Querier[CredentialStatusMessage, core.CredentialStatus] = (*CredentialStatusQuery)(nil)
	_ gocmd.Querier[ProviderInfoMessage, core.ProviderInfo]         = (*ProviderInfoQuery)(nil)

	_ SessionReader          = (*core.SessionManager)(nil)
	_ CredentialStatusReader = (*core.CredentialManager)(nil)
	_ ProviderInfoReader     = (*core.CredentialManager)(nil)
)
