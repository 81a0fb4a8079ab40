package credentials

import "github.com/goliatone/go-credentials/core"

type Config = core.Config
type SessionConfig = core.SessionConfig
type CredentialConfig = core.CredentialConfig

type Option = core.Option

type SessionManager = core.SessionManager
type CredentialManager = core.CredentialManager

type Session = core.Session
type Role = core.Role
type LoginCredentials = core.LoginCredentials
type ExternalCredential = core.ExternalCredential
type CredentialState = core.CredentialState
type CredentialStatus = core.CredentialStatus
type AuthorizationStart = core.AuthorizationStart
type RenewalReport = core.RenewalReport
type ProviderInfo = core.ProviderInfo

type TokenStore = core.TokenStore
type RecordScanner = core.RecordScanner
type IdentityProvider = core.IdentityProvider
type PasswordChanger = core.PasswordChanger
type ExternalProvider = core.ExternalProvider
type ResourceGate = core.ResourceGate
type ResourceGateFunc = core.ResourceGateFunc
type SecretProvider = core.SecretProvider

var (
	WithLogger          = core.WithLogger
	WithLoggerProvider  = core.WithLoggerProvider
	WithMetricsRecorder = core.WithMetricsRecorder
	WithErrorMapper     = core.WithErrorMapper
	WithConfigProvider  = core.WithConfigProvider
	WithOptionsResolver = core.WithOptionsResolver
	WithClock           = core.WithClock
	WithNonceSource     = core.WithNonceSource
	WithSecretProvider  = core.WithSecretProvider
	WithResourceGate    = core.WithResourceGate
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewMemoryTokenStore() *core.MemoryTokenStore {
	return core.NewMemoryTokenStore()
}

func NewSessionManager(store TokenStore, identity IdentityProvider, cfg Config, opts ...Option) (*SessionManager, error) {
	return core.NewSessionManager(store, identity, cfg, opts...)
}

func NewCredentialManager(store TokenStore, provider ExternalProvider, cfg Config, opts ...Option) (*CredentialManager, error) {
	return core.NewCredentialManager(store, provider, cfg, opts...)
}
