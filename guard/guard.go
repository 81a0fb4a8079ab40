// Package guard attaches the current session's platform credential to
// outbound calls and reacts to the platform refusing it.
package guard

import (
	"context"
	"strings"

	"github.com/goliatone/go-credentials/core"
	glog "github.com/goliatone/go-logger/glog"
)

const loggerName = "credentials.guard"

// SessionSource is the part of the session manager the guard depends on.
type SessionSource interface {
	EnsureFresh(ctx context.Context, sessionID string) (core.Session, error)
	HandleUnauthorized(ctx context.Context, sessionID string) error
}

// UnauthenticatedHook is called once the session has been discarded, so the
// caller can route the user back to login.
type UnauthenticatedHook func(ctx context.Context, sessionID string, err error)

type sessionIDKey struct{}

func WithSessionID(ctx context.Context, sessionID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, sessionIDKey{}, strings.TrimSpace(sessionID))
}

func SessionIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	sessionID, ok := ctx.Value(sessionIDKey{}).(string)
	return sessionID, ok && sessionID != ""
}

type Option func(*guard)

func WithOnUnauthenticated(hook UnauthenticatedHook) Option {
	return func(g *guard) {
		g.onUnauthenticated = hook
	}
}

func WithLogger(logger glog.Logger) Option {
	return func(g *guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

func WithLoggerProvider(provider glog.LoggerProvider) Option {
	return func(g *guard) {
		if provider != nil {
			g.loggerProvider = provider
		}
	}
}

type guard struct {
	sessions          SessionSource
	onUnauthenticated UnauthenticatedHook
	logger            glog.Logger
	loggerProvider    glog.LoggerProvider
}

func newGuard(sessions SessionSource, opts []Option) *guard {
	g := &guard{sessions: sessions}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	g.loggerProvider, g.logger = glog.Resolve(loggerName, g.loggerProvider, g.logger)
	g.logger = glog.Ensure(g.logger)
	return g
}

// credential returns the bearer token for the session bound to ctx. Missing
// or rejected sessions surface as Unauthenticated.
func (g *guard) credential(ctx context.Context) (string, string, error) {
	sessionID, ok := SessionIDFromContext(ctx)
	if !ok {
		return "", "", core.UnauthenticatedError(nil)
	}
	if g.sessions == nil {
		return "", sessionID, core.InternalError("guard: session source is not configured", nil)
	}
	session, err := g.sessions.EnsureFresh(ctx, sessionID)
	if err != nil {
		if core.HasTextCode(err, core.TextCodeUnauthenticated) || core.HasTextCode(err, core.TextCodeRefreshFailed) {
			g.notify(ctx, sessionID, err)
		}
		return "", sessionID, err
	}
	if strings.TrimSpace(session.AccessToken) == "" {
		return "", sessionID, core.UnauthenticatedError(nil)
	}
	return session.AccessToken, sessionID, nil
}

// unauthorized forces logout after the platform refused the token.
func (g *guard) unauthorized(ctx context.Context, sessionID string, cause error) error {
	if err := g.sessions.HandleUnauthorized(ctx, sessionID); err != nil {
		g.logger.Warn("forced logout failed", "session_id", sessionID, "error", err)
	}
	err := core.UnauthenticatedError(cause)
	g.notify(ctx, sessionID, err)
	return err
}

func (g *guard) notify(ctx context.Context, sessionID string, err error) {
	if g.onUnauthenticated != nil {
		g.onUnauthenticated(ctx, sessionID, err)
	}
}
