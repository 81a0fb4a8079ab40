package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

const maxWriteAttempts = 3

// SessionManager owns the authenticated-user lifecycle. Sessions are rebuilt
// from the TokenStore on every call; the manager only keeps the in-flight
// refresh bookkeeping.
type SessionManager struct {
	runtime  managerRuntime
	store    TokenStore
	identity IdentityProvider

	refreshes singleflight.Group
	mu        sync.Mutex
	inflight  map[string]context.CancelFunc
}

func NewSessionManager(store TokenStore, identity IdentityProvider, cfg Config, options ...Option) (*SessionManager, error) {
	if store == nil {
		return nil, fmt.Errorf("core: token store is required")
	}
	if identity == nil {
		return nil, fmt.Errorf("core: identity provider is required")
	}
	runtime, err := buildRuntime(cfg, options)
	if err != nil {
		return nil, err
	}
	return &SessionManager{
		runtime:  runtime,
		store:    store,
		identity: identity,
		inflight: map[string]context.CancelFunc{},
	}, nil
}

func (m *SessionManager) Config() Config {
	if m == nil {
		return Config{}
	}
	return m.runtime.config
}

// Login authenticates against the identity collaborator and persists a new
// session.
func (m *SessionManager) Login(ctx context.Context, credentials LoginCredentials) (session Session, err error) {
	startedAt := time.Now()
	fields := map[string]any{}
	defer func() {
		fields["session_id"] = session.ID
		fields["user_id"] = session.UserID
		m.runtime.observeOperation(ctx, startedAt, "session_login", err, fields)
	}()

	if strings.TrimSpace(credentials.Username) == "" || credentials.Password == "" {
		return Session{}, BadInputError("username and password are required")
	}

	callCtx, cancel := context.WithTimeout(ctx, m.runtime.config.Session.IdentityTimeout)
	defer cancel()
	auth, authErr := m.identity.Authenticate(callCtx, credentials)
	if authErr != nil {
		if isRejection(authErr) {
			return Session{}, InvalidCredentialsError(authErr)
		}
		return Session{}, IdentityUnavailableError(authErr)
	}
	if strings.TrimSpace(auth.Tokens.AccessToken) == "" {
		return Session{}, IdentityUnavailableError(fmt.Errorf("identity service issued an empty access token"))
	}
	role, roleErr := ParseRole(string(auth.Principal.Role))
	if roleErr != nil {
		return Session{}, InternalError("identity service returned an unsupported role", roleErr)
	}

	now := m.runtime.now()
	session = Session{
		ID:                uuid.NewString(),
		UserID:            strings.TrimSpace(auth.Principal.UserID),
		DisplayName:       strings.TrimSpace(auth.Principal.DisplayName),
		Role:              role,
		AccessToken:       auth.Tokens.AccessToken,
		AccessTokenExpiry: cloneTimePointer(auth.Tokens.ExpiresAt),
		RefreshToken:      auth.Tokens.RefreshToken,
		IssuedAt:          now,
		VerifiedAt:        now,
	}
	if err := session.Validate(); err != nil {
		return Session{}, IdentityUnavailableError(err)
	}
	stored, err := m.write(ctx, session, 0)
	if err != nil {
		return Session{}, m.runtime.mapError(err)
	}
	return stored, nil
}

// Logout revokes the access token server side on a best-effort basis and
// always discards the local session. A refresh in flight for the session is
// cancelled and cannot write the session back.
func (m *SessionManager) Logout(ctx context.Context, sessionID string) (err error) {
	startedAt := time.Now()
	sessionID = strings.TrimSpace(sessionID)
	defer func() {
		m.runtime.observeOperation(ctx, startedAt, "session_logout", err, map[string]any{"session_id": sessionID})
	}()
	if sessionID == "" {
		return BadInputError("session id is required")
	}

	m.cancelRefresh(sessionID)

	session, loadErr := m.load(ctx, sessionID)
	if loadErr == nil && strings.TrimSpace(session.AccessToken) != "" {
		callCtx, cancel := context.WithTimeout(ctx, m.runtime.config.Session.IdentityTimeout)
		if revokeErr := m.identity.RevokeToken(callCtx, session.AccessToken); revokeErr != nil {
			m.runtime.logWarn(ctx, "session token revocation failed", map[string]any{
				"session_id": sessionID,
				"error":      revokeErr.Error(),
			})
		}
		cancel()
	}
	return m.discard(ctx, sessionID)
}

// HandleUnauthorized is invoked when the platform answers 401 for a session.
func (m *SessionManager) HandleUnauthorized(ctx context.Context, sessionID string) error {
	return m.Logout(ctx, sessionID)
}

// Current returns the stored session without contacting the identity
// collaborator.
func (m *SessionManager) Current(ctx context.Context, sessionID string) (Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return Session{}, BadInputError("session id is required")
	}
	return m.load(ctx, sessionID)
}

// Verify checks the stored access token with the identity collaborator and
// refreshes the identity fields from its answer. A rejected token discards
// the session.
func (m *SessionManager) Verify(ctx context.Context, sessionID string) (session Session, err error) {
	startedAt := time.Now()
	sessionID = strings.TrimSpace(sessionID)
	defer func() {
		m.runtime.observeOperation(ctx, startedAt, "session_verify", err, map[string]any{
			"session_id": sessionID,
			"user_id":    session.UserID,
		})
	}()
	if sessionID == "" {
		return Session{}, BadInputError("session id is required")
	}

	current, err := m.load(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	callCtx, cancel := context.WithTimeout(ctx, m.runtime.config.Session.IdentityTimeout)
	defer cancel()
	principal, verifyErr := m.identity.VerifyToken(callCtx, current.AccessToken)
	if verifyErr != nil {
		if isRejection(verifyErr) {
			if discardErr := m.discard(ctx, sessionID); discardErr != nil {
				return Session{}, discardErr
			}
			return Session{}, UnauthenticatedError(verifyErr)
		}
		return Session{}, IdentityUnavailableError(verifyErr)
	}
	role, roleErr := ParseRole(string(principal.Role))
	if roleErr != nil {
		if discardErr := m.discard(ctx, sessionID); discardErr != nil {
			return Session{}, discardErr
		}
		return Session{}, UnauthenticatedError(roleErr)
	}

	return m.update(ctx, current, func(target *Session) {
		if userID := strings.TrimSpace(principal.UserID); userID != "" {
			target.UserID = userID
		}
		target.DisplayName = strings.TrimSpace(principal.DisplayName)
		target.Role = role
		target.VerifiedAt = m.runtime.now()
	})
}

// Refresh exchanges the stored refresh token. Concurrent callers for the same
// session share a single exchange and observe the same outcome.
func (m *SessionManager) Refresh(ctx context.Context, sessionID string) (session Session, err error) {
	startedAt := time.Now()
	sessionID = strings.TrimSpace(sessionID)
	fields := map[string]any{"session_id": sessionID}
	defer func() {
		m.runtime.observeOperation(ctx, startedAt, "session_refresh", err, fields)
	}()
	if sessionID == "" {
		return Session{}, BadInputError("session id is required")
	}

	results := m.refreshes.DoChan(sessionID, func() (any, error) {
		return m.refreshOnce(ctx, sessionID)
	})
	select {
	case <-ctx.Done():
		return Session{}, IdentityUnavailableError(ctx.Err())
	case result := <-results:
		fields["shared"] = result.Shared
		if result.Err != nil {
			return Session{}, result.Err
		}
		return result.Val.(Session), nil
	}
}

// EnsureFresh returns the session, refreshing it first when the access token
// expires within the configured lead window.
func (m *SessionManager) EnsureFresh(ctx context.Context, sessionID string) (Session, error) {
	session, err := m.Current(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	if session.AccessTokenExpiry == nil {
		return session, nil
	}
	deadline := m.runtime.now().Add(m.runtime.config.Session.RefreshLeadWindow)
	if session.AccessTokenExpiry.After(deadline) {
		return session, nil
	}
	return m.Refresh(ctx, sessionID)
}

// ChangePassword updates the password through the identity collaborator and
// then ends the session, forcing the user to log in with the new password.
func (m *SessionManager) ChangePassword(ctx context.Context, sessionID string, currentPassword string, newPassword string) (err error) {
	startedAt := time.Now()
	sessionID = strings.TrimSpace(sessionID)
	defer func() {
		m.runtime.observeOperation(ctx, startedAt, "session_change_password", err, map[string]any{"session_id": sessionID})
	}()
	changer, ok := m.identity.(PasswordChanger)
	if !ok {
		return InternalError("identity provider does not support password changes", nil)
	}
	if sessionID == "" {
		return BadInputError("session id is required")
	}
	if currentPassword == "" || newPassword == "" {
		return BadInputError("current and new password are required")
	}
	if currentPassword == newPassword {
		return BadInputError("new password must differ from the current password")
	}

	session, err := m.load(ctx, sessionID)
	if err != nil {
		return err
	}
	callCtx, cancel := context.WithTimeout(ctx, m.runtime.config.Session.IdentityTimeout)
	defer cancel()
	if changeErr := changer.ChangePassword(callCtx, session.AccessToken, currentPassword, newPassword); changeErr != nil {
		if isRejection(changeErr) {
			return InvalidCredentialsError(changeErr)
		}
		return IdentityUnavailableError(changeErr)
	}
	return m.Logout(ctx, sessionID)
}

// refreshOnce claims the refreshing marker on the stored session before the
// exchange, so managers sharing a store never spend the same refresh token
// twice. A caller that finds a live marker waits for its holder instead.
func (m *SessionManager) refreshOnce(parent context.Context, sessionID string) (Session, error) {
	cfg := m.runtime.config.Session
	flightCtx, cancel := context.WithTimeout(context.WithoutCancel(parent), cfg.RefreshLockTTL+cfg.IdentityTimeout)
	m.mu.Lock()
	m.inflight[sessionID] = cancel
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.inflight, sessionID)
		m.mu.Unlock()
		cancel()
	}()

	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		current, err := m.load(flightCtx, sessionID)
		if err != nil {
			return Session{}, err
		}
		now := m.runtime.now()
		if !m.refreshMarkerStale(current, now) {
			if waitErr := m.waitForRefresh(flightCtx, current); waitErr != nil {
				switch {
				case errors.Is(waitErr, context.Canceled):
					return Session{}, UnauthenticatedError(fmt.Errorf("session ended during refresh"))
				case errors.Is(waitErr, context.DeadlineExceeded):
					return Session{}, IdentityUnavailableError(waitErr)
				default:
					return Session{}, waitErr
				}
			}
			latest, err := m.load(flightCtx, sessionID)
			if err != nil {
				return Session{}, err
			}
			if latest.RefreshStartedAt == nil {
				return latest, nil
			}
			continue
		}

		if strings.TrimSpace(current.RefreshToken) == "" {
			if discardErr := m.discard(flightCtx, sessionID); discardErr != nil {
				return Session{}, discardErr
			}
			return Session{}, RefreshFailedError(fmt.Errorf("session has no refresh token"))
		}

		marked := current
		startedAt := now
		marked.RefreshStartedAt = &startedAt
		marked, err = m.write(flightCtx, marked, current.Version)
		if err != nil {
			if errors.Is(err, ErrVersionConflict) {
				continue
			}
			return Session{}, err
		}
		return m.exchangeRefreshToken(flightCtx, marked)
	}
	return Session{}, IdentityUnavailableError(fmt.Errorf("%w: session %q kept changing", ErrVersionConflict, sessionID))
}

// exchangeRefreshToken runs the identity call while the marker is held and
// settles the session on the outcome.
func (m *SessionManager) exchangeRefreshToken(ctx context.Context, marked Session) (Session, error) {
	tokens, exchangeErr := m.identity.ExchangeRefreshToken(ctx, marked.RefreshToken)
	if exchangeErr == nil && strings.TrimSpace(tokens.AccessToken) == "" {
		exchangeErr = fmt.Errorf("%w: identity service issued an empty access token", ErrRejected)
	}
	if exchangeErr != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return Session{}, UnauthenticatedError(fmt.Errorf("session ended during refresh"))
		}
		if isRejection(exchangeErr) {
			return m.settleRejectedRefresh(ctx, marked, exchangeErr)
		}
		m.releaseRefreshMarker(ctx, marked)
		return Session{}, IdentityUnavailableError(exchangeErr)
	}

	return m.update(ctx, marked, func(target *Session) {
		target.AccessToken = tokens.AccessToken
		target.AccessTokenExpiry = cloneTimePointer(tokens.ExpiresAt)
		if strings.TrimSpace(tokens.RefreshToken) != "" {
			target.RefreshToken = tokens.RefreshToken
		}
		target.RefreshStartedAt = nil
	})
}

// settleRejectedRefresh discards the session only while it still carries the
// refresh token that was rejected. A session rotated by another holder in the
// meantime is returned as is.
func (m *SessionManager) settleRejectedRefresh(ctx context.Context, marked Session, cause error) (Session, error) {
	latest, err := m.load(ctx, marked.ID)
	if err != nil {
		return Session{}, RefreshFailedError(cause)
	}
	if latest.RefreshToken != marked.RefreshToken && latest.RefreshStartedAt == nil {
		return latest, nil
	}
	if discardErr := m.discard(ctx, marked.ID); discardErr != nil {
		return Session{}, discardErr
	}
	return Session{}, RefreshFailedError(cause)
}

func (m *SessionManager) releaseRefreshMarker(ctx context.Context, marked Session) {
	released := marked
	released.RefreshStartedAt = nil
	if _, err := m.write(ctx, released, marked.Version); err != nil {
		m.runtime.logWarn(ctx, "session refresh marker could not be released", map[string]any{
			"session_id": marked.ID,
			"error":      err.Error(),
		})
	}
}

func (m *SessionManager) waitForRefresh(ctx context.Context, marked Session) error {
	ticker := time.NewTicker(refreshPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		latest, err := m.load(ctx, marked.ID)
		if err != nil {
			return err
		}
		if latest.Version != marked.Version || m.refreshMarkerStale(latest, m.runtime.now()) {
			return nil
		}
	}
}

func (m *SessionManager) refreshMarkerStale(session Session, now time.Time) bool {
	if session.RefreshStartedAt == nil {
		return true
	}
	return !session.RefreshStartedAt.Add(m.runtime.config.Session.RefreshLockTTL).After(now)
}

// update applies mutate on top of the latest stored session, retrying on
// version conflicts. A session removed in the meantime stays removed.
func (m *SessionManager) update(ctx context.Context, current Session, mutate func(*Session)) (Session, error) {
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		next := current
		mutate(&next)
		stored, err := m.write(ctx, next, current.Version)
		if err == nil {
			return stored, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return Session{}, err
		}
		current, err = m.load(ctx, current.ID)
		if err != nil {
			return Session{}, err
		}
	}
	return Session{}, m.runtime.mapError(fmt.Errorf("%w: session %q kept changing", ErrVersionConflict, current.ID))
}

func (m *SessionManager) write(ctx context.Context, session Session, expectedVersion int64) (Session, error) {
	payload, err := m.runtime.codec.encodeSession(ctx, session)
	if err != nil {
		return Session{}, InternalError("encode session", err)
	}
	record, err := m.store.CompareAndSwap(ctx, SessionKey(session.ID), expectedVersion, payload)
	if err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return Session{}, err
		}
		return Session{}, InternalError("persist session", err)
	}
	session.Version = record.Version
	return session, nil
}

func (m *SessionManager) load(ctx context.Context, sessionID string) (Session, error) {
	record, err := m.store.Get(ctx, SessionKey(sessionID))
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return Session{}, UnauthenticatedError(err)
		}
		return Session{}, InternalError("load session", err)
	}
	session, err := m.runtime.codec.decodeSession(ctx, record)
	if err != nil {
		return Session{}, InternalError("decode session", err)
	}
	return session, nil
}

func (m *SessionManager) discard(ctx context.Context, sessionID string) error {
	if err := m.store.Delete(ctx, SessionKey(sessionID)); err != nil {
		return InternalError("discard session", err)
	}
	return nil
}

func (m *SessionManager) cancelRefresh(sessionID string) {
	m.mu.Lock()
	cancel := m.inflight[sessionID]
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
