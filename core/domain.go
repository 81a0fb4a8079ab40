package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidRole                       = errors.New("core: invalid role")
	ErrInvalidCredentialStateTransition  = errors.New("core: invalid credential state transition")
	ErrCredentialInvariantViolated       = errors.New("core: credential invariant violated")
	ErrSessionInvariantViolated          = errors.New("core: session invariant violated")
	ErrPendingAuthorizationStateMismatch = errors.New("core: pending authorization state mismatch")
)

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
	RoleViewer   Role = "viewer"
)

// ParseRole normalizes a role name into the closed set of permission levels.
func ParseRole(value string) (Role, error) {
	switch role := Role(strings.TrimSpace(strings.ToLower(value))); role {
	case RoleAdmin, RoleOperator, RoleViewer:
		return role, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, value)
	}
}

func (r Role) Valid() bool {
	_, err := ParseRole(string(r))
	return err == nil
}

// Session is the authenticated-user record governing access to the platform.
type Session struct {
	ID                string
	UserID            string
	DisplayName       string
	Role              Role
	AccessToken       string
	AccessTokenExpiry *time.Time
	RefreshToken      string
	IssuedAt          time.Time
	VerifiedAt        time.Time
	RefreshStartedAt  *time.Time
	Version           int64
}

func (s Session) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("%w: empty session id", ErrSessionInvariantViolated)
	}
	if strings.TrimSpace(s.UserID) == "" {
		return fmt.Errorf("%w: empty user id", ErrSessionInvariantViolated)
	}
	if !s.Role.Valid() {
		return fmt.Errorf("%w: role %q", ErrSessionInvariantViolated, s.Role)
	}
	if strings.TrimSpace(s.AccessToken) == "" {
		return fmt.Errorf("%w: empty access token", ErrSessionInvariantViolated)
	}
	return nil
}

// AccessTokenExpired reports whether the access token has a known expiry at or
// before now. Sessions without an expiry never report expired.
func (s Session) AccessTokenExpired(now time.Time) bool {
	if s.AccessTokenExpiry == nil {
		return false
	}
	return !s.AccessTokenExpiry.After(now)
}

func (s Session) Principal() Principal {
	return Principal{
		UserID:      s.UserID,
		DisplayName: s.DisplayName,
		Role:        s.Role,
	}
}

type CredentialState string

const (
	CredentialStateNotConnected CredentialState = "not_connected"
	CredentialStateAwaitingCode CredentialState = "awaiting_code"
	CredentialStateConnected    CredentialState = "connected"
	CredentialStateExpiring     CredentialState = "expiring"
	CredentialStateRefreshing   CredentialState = "refreshing"
)

func (s CredentialState) normalized() CredentialState {
	if strings.TrimSpace(string(s)) == "" {
		return CredentialStateNotConnected
	}
	return s
}

// ExternalCredential is the delegated OAuth2 access held on behalf of one
// managed resource for one external provider.
type ExternalCredential struct {
	ResourceID                string
	ProviderID                string
	State                     CredentialState
	AccessToken               string
	RefreshToken              string
	TokenType                 string
	Scopes                    []string
	ExpiresAt                 *time.Time
	PendingAuthorizationState string
	AwaitingExpiresAt         *time.Time
	ExchangeStartedAt         *time.Time
	RefreshStartedAt          *time.Time
	ConnectedAt               *time.Time
	LastError                 string
	UpdatedAt                 time.Time
	Version                   int64
}

// NewExternalCredential returns the implicit not-connected credential of a
// resource that has no stored record yet.
func NewExternalCredential(providerID, resourceID string) ExternalCredential {
	return ExternalCredential{
		ResourceID: strings.TrimSpace(resourceID),
		ProviderID: strings.TrimSpace(providerID),
		State:      CredentialStateNotConnected,
	}
}

// TransitionTo moves the credential to the next state and clears the fields
// the target state must not carry.
func (c *ExternalCredential) TransitionTo(next CredentialState, now time.Time) error {
	if c == nil {
		return nil
	}
	current := c.State.normalized()
	if !credentialTransitionAllowed(current, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidCredentialStateTransition, current, next)
	}
	c.State = next
	c.UpdatedAt = now

	switch next {
	case CredentialStateNotConnected:
		c.clearTokens()
		c.clearPending()
		c.RefreshStartedAt = nil
	case CredentialStateAwaitingCode:
		c.clearTokens()
		c.ExchangeStartedAt = nil
		c.RefreshStartedAt = nil
	case CredentialStateConnected:
		c.clearPending()
		c.RefreshStartedAt = nil
		c.LastError = ""
	case CredentialStateRefreshing:
		started := now
		c.RefreshStartedAt = &started
	}
	return nil
}

func credentialTransitionAllowed(current, next CredentialState) bool {
	allowed := map[CredentialState]map[CredentialState]struct{}{
		CredentialStateNotConnected: {
			CredentialStateNotConnected: {},
			CredentialStateAwaitingCode: {},
		},
		CredentialStateAwaitingCode: {
			CredentialStateAwaitingCode: {},
			CredentialStateConnected:    {},
			CredentialStateNotConnected: {},
		},
		CredentialStateConnected: {
			CredentialStateExpiring:     {},
			CredentialStateRefreshing:   {},
			CredentialStateAwaitingCode: {},
			CredentialStateNotConnected: {},
		},
		CredentialStateExpiring: {
			CredentialStateRefreshing:   {},
			CredentialStateConnected:    {},
			CredentialStateAwaitingCode: {},
			CredentialStateNotConnected: {},
		},
		CredentialStateRefreshing: {
			CredentialStateRefreshing:   {},
			CredentialStateConnected:    {},
			CredentialStateAwaitingCode: {},
			CredentialStateNotConnected: {},
		},
	}
	_, ok := allowed[current][next]
	return ok
}

// Validate checks the structural invariants that hold for every persisted
// credential regardless of the current time.
func (c ExternalCredential) Validate() error {
	if strings.TrimSpace(c.ResourceID) == "" || strings.TrimSpace(c.ProviderID) == "" {
		return fmt.Errorf("%w: resource and provider ids are required", ErrCredentialInvariantViolated)
	}
	state := c.State.normalized()
	hasPending := strings.TrimSpace(c.PendingAuthorizationState) != ""
	if hasPending != (state == CredentialStateAwaitingCode) {
		return fmt.Errorf("%w: pending state present=%t in state %s", ErrCredentialInvariantViolated, hasPending, state)
	}
	if c.ExchangeStartedAt != nil && state != CredentialStateAwaitingCode {
		return fmt.Errorf("%w: code exchange marker in state %s", ErrCredentialInvariantViolated, state)
	}
	switch state {
	case CredentialStateConnected, CredentialStateExpiring, CredentialStateRefreshing:
		if strings.TrimSpace(c.AccessToken) == "" || c.ExpiresAt == nil {
			return fmt.Errorf("%w: %s requires access token and expiry", ErrCredentialInvariantViolated, state)
		}
	}
	return nil
}

// EffectiveState derives the state a reader should observe at now: an expired
// authorization reads as not connected and a connected credential inside the
// renewal window reads as expiring.
func (c ExternalCredential) EffectiveState(now time.Time, renewalWindow time.Duration) CredentialState {
	state := c.State.normalized()
	switch state {
	case CredentialStateAwaitingCode:
		if c.AuthorizationExpired(now) {
			return CredentialStateNotConnected
		}
	case CredentialStateConnected:
		if c.ExpiresAt != nil && !c.ExpiresAt.After(now.Add(renewalWindow)) {
			return CredentialStateExpiring
		}
	}
	return state
}

func (c ExternalCredential) AuthorizationExpired(now time.Time) bool {
	if c.State.normalized() != CredentialStateAwaitingCode {
		return false
	}
	return c.AwaitingExpiresAt != nil && !c.AwaitingExpiresAt.After(now)
}

// AuthorizationClaimed reports whether a code exchange already took the
// pending authorization state. A claimed state is never accepted again.
func (c ExternalCredential) AuthorizationClaimed() bool {
	return c.State.normalized() == CredentialStateAwaitingCode && c.ExchangeStartedAt != nil
}

// Usable reports whether the access token can be handed to a consumer at now.
func (c ExternalCredential) Usable(now time.Time) bool {
	if strings.TrimSpace(c.AccessToken) == "" || c.ExpiresAt == nil {
		return false
	}
	return c.ExpiresAt.After(now)
}

func (c *ExternalCredential) clearTokens() {
	c.AccessToken = ""
	c.RefreshToken = ""
	c.TokenType = ""
	c.Scopes = nil
	c.ExpiresAt = nil
	c.ConnectedAt = nil
}

func (c *ExternalCredential) clearPending() {
	c.PendingAuthorizationState = ""
	c.AwaitingExpiresAt = nil
	c.ExchangeStartedAt = nil
}

func (c ExternalCredential) clone() ExternalCredential {
	cloned := c
	cloned.Scopes = append([]string(nil), c.Scopes...)
	cloned.ExpiresAt = cloneTimePointer(c.ExpiresAt)
	cloned.AwaitingExpiresAt = cloneTimePointer(c.AwaitingExpiresAt)
	cloned.ExchangeStartedAt = cloneTimePointer(c.ExchangeStartedAt)
	cloned.RefreshStartedAt = cloneTimePointer(c.RefreshStartedAt)
	cloned.ConnectedAt = cloneTimePointer(c.ConnectedAt)
	return cloned
}

func cloneTimePointer(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	clone := value.UTC()
	return &clone
}
