package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type RecordKind string

const (
	RecordKindSession    RecordKind = "session"
	RecordKindCredential RecordKind = "credential"
)

// Record is a versioned entry owned by a TokenStore. Version starts at 1 and
// increases on every successful write.
type Record struct {
	Key       string
	Kind      RecordKind
	Version   int64
	Payload   []byte
	UpdatedAt time.Time
}

// TokenStore is durable keyed storage for session and credential records.
// It carries no policy; managers express read-modify-write through
// CompareAndSwap.
type TokenStore interface {
	Get(ctx context.Context, key string) (Record, error)
	Put(ctx context.Context, key string, payload []byte) (Record, error)
	Delete(ctx context.Context, key string) error
	// CompareAndSwap writes payload only when the stored version equals
	// expectedVersion. An expectedVersion of 0 creates the record and fails
	// when it already exists.
	CompareAndSwap(ctx context.Context, key string, expectedVersion int64, payload []byte) (Record, error)
}

// RecordScanner lists records by key prefix. Stores that support it enable
// the background sweeps.
type RecordScanner interface {
	Scan(ctx context.Context, prefix string) ([]Record, error)
}

type LoginCredentials struct {
	Username string
	Password string
}

type Principal struct {
	UserID      string
	DisplayName string
	Role        Role
}

type IssuedTokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
}

type Authentication struct {
	Principal Principal
	Tokens    IssuedTokens
}

// IdentityProvider is the platform's identity collaborator.
type IdentityProvider interface {
	Authenticate(ctx context.Context, credentials LoginCredentials) (Authentication, error)
	VerifyToken(ctx context.Context, accessToken string) (Principal, error)
	ExchangeRefreshToken(ctx context.Context, refreshToken string) (IssuedTokens, error)
	RevokeToken(ctx context.Context, accessToken string) error
}

type PasswordChanger interface {
	ChangePassword(ctx context.Context, accessToken string, currentPassword string, newPassword string) error
}

type AuthorizationURLRequest struct {
	ResourceID string
	State      string
	Scopes     []string
}

type ProviderToken struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scopes       []string
	ExpiresAt    *time.Time
}

// ExternalProvider wraps the authorization-code endpoints of one OAuth2
// provider.
type ExternalProvider interface {
	ID() string
	AuthorizationURL(ctx context.Context, req AuthorizationURLRequest) (string, error)
	ExchangeCode(ctx context.Context, code string) (ProviderToken, error)
	RefreshToken(ctx context.Context, refreshToken string) (ProviderToken, error)
	RevokeToken(ctx context.Context, token string) error
}

type ProviderInfo struct {
	ProviderID  string
	ClientID    string
	RedirectURL string
	Scopes      []string
}

// ProviderDescriber is implemented by providers able to expose their public
// client configuration.
type ProviderDescriber interface {
	Describe() ProviderInfo
}

// ResourceGate checks that a managed resource exists and that the caller may
// act on it.
type ResourceGate interface {
	AuthorizeResource(ctx context.Context, resourceID string) error
}

type ResourceGateFunc func(ctx context.Context, resourceID string) error

func (fn ResourceGateFunc) AuthorizeResource(ctx context.Context, resourceID string) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, resourceID)
}

type SecretProvider interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type AuthorizationStart struct {
	ResourceID       string
	AuthorizationURL string
	State            string
	ExpiresAt        time.Time
}

type CredentialStatus struct {
	ResourceID        string
	ProviderID        string
	Connected         bool
	State             CredentialState
	ExpiresAt         *time.Time
	AwaitingExpiresAt *time.Time
}

type RenewalReport struct {
	Scanned         int
	Renewed         int
	Skipped         int
	FailedResources []string
}

type JobExecutionMessage struct {
	JobID          string
	ScriptPath     string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}
