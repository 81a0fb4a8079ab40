package guard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/goliatone/go-credentials/core"
	goerrors "github.com/goliatone/go-errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type stubSessions struct {
	mu           sync.Mutex
	token        string
	ensureErr    error
	ensureCalls  int
	unauthorized []string
}

func (s *stubSessions) EnsureFresh(_ context.Context, sessionID string) (core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureCalls++
	if s.ensureErr != nil {
		return core.Session{}, s.ensureErr
	}
	return core.Session{ID: sessionID, AccessToken: s.token}, nil
}

func (s *stubSessions) HandleUnauthorized(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unauthorized = append(s.unauthorized, sessionID)
	return nil
}

type hookRecorder struct {
	mu       sync.Mutex
	sessions []string
}

func (h *hookRecorder) hook(_ context.Context, sessionID string, _ error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions = append(h.sessions, sessionID)
}

func platformServer(t *testing.T, status int, body map[string]any) (*httptest.Server, *string) {
	t.Helper()
	var authorization string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(server.Close)
	return server, &authorization
}

func doGet(t *testing.T, client *http.Client, url string, sessionID string) (*http.Response, error) {
	t.Helper()
	ctx := context.Background()
	if sessionID != "" {
		ctx = WithSessionID(ctx, sessionID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url+"/api/resources", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	return client.Do(req)
}

func textCode(err error) string {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		return ""
	}
	return rich.TextCode
}

func TestTransportAttachesBearerToken(t *testing.T) {
	server, authorization := platformServer(t, http.StatusOK, map[string]any{"success": true, "data": []any{}})
	sessions := &stubSessions{token: "access-1"}
	client := &http.Client{Transport: NewTransport(sessions, server.Client().Transport)}

	res, err := doGet(t, client, server.URL, "sess-1")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	res.Body.Close()
	if *authorization != "Bearer access-1" {
		t.Fatalf("unexpected authorization header %q", *authorization)
	}
	if sessions.ensureCalls != 1 {
		t.Fatalf("expected one freshness check, got %d", sessions.ensureCalls)
	}
}

func TestTransportWithoutSessionIsUnauthenticated(t *testing.T) {
	server, authorization := platformServer(t, http.StatusOK, map[string]any{"success": true})
	client := &http.Client{Transport: NewTransport(&stubSessions{token: "access-1"}, server.Client().Transport)}

	_, err := doGet(t, client, server.URL, "")
	if textCode(err) != core.TextCodeUnauthenticated {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
	if *authorization != "" {
		t.Fatalf("request should not reach the platform")
	}
}

func TestTransport401ForcesLogout(t *testing.T) {
	server, _ := platformServer(t, http.StatusUnauthorized, map[string]any{"success": false, "message": "token revoked"})
	sessions := &stubSessions{token: "access-1"}
	hooks := &hookRecorder{}
	client := &http.Client{Transport: NewTransport(sessions, server.Client().Transport, WithOnUnauthenticated(hooks.hook))}

	_, err := doGet(t, client, server.URL, "sess-1")
	if textCode(err) != core.TextCodeUnauthenticated {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
	if len(sessions.unauthorized) != 1 || sessions.unauthorized[0] != "sess-1" {
		t.Fatalf("expected forced logout, got %v", sessions.unauthorized)
	}
	if len(hooks.sessions) != 1 || hooks.sessions[0] != "sess-1" {
		t.Fatalf("expected hook invocation, got %v", hooks.sessions)
	}
}

func TestTransport403IsPermissionDeniedWithoutLogout(t *testing.T) {
	server, _ := platformServer(t, http.StatusForbidden, map[string]any{"success": false, "message": "Insufficient permissions"})
	sessions := &stubSessions{token: "access-1"}
	hooks := &hookRecorder{}
	client := &http.Client{Transport: NewTransport(sessions, server.Client().Transport, WithOnUnauthenticated(hooks.hook))}

	_, err := doGet(t, client, server.URL, "sess-1")
	if textCode(err) != core.TextCodePermissionDenied {
		t.Fatalf("expected permission denied, got %v", err)
	}
	if !strings.Contains(err.Error(), "Insufficient permissions") {
		t.Fatalf("expected envelope message in error, got %v", err)
	}
	if len(sessions.unauthorized) != 0 || len(hooks.sessions) != 0 {
		t.Fatalf("403 must not log out")
	}
}

func TestTransportRefreshRejectionNotifies(t *testing.T) {
	server, authorization := platformServer(t, http.StatusOK, map[string]any{"success": true})
	sessions := &stubSessions{ensureErr: core.RefreshFailedError(errors.New("invalid_grant"))}
	hooks := &hookRecorder{}
	client := &http.Client{Transport: NewTransport(sessions, server.Client().Transport, WithOnUnauthenticated(hooks.hook))}

	_, err := doGet(t, client, server.URL, "sess-1")
	if textCode(err) != core.TextCodeRefreshFailed {
		t.Fatalf("expected refresh failed, got %v", err)
	}
	if len(hooks.sessions) != 1 {
		t.Fatalf("expected hook invocation")
	}
	if *authorization != "" {
		t.Fatalf("request should not reach the platform")
	}
}

func TestTransportTransientRefreshDoesNotNotify(t *testing.T) {
	server, _ := platformServer(t, http.StatusOK, map[string]any{"success": true})
	sessions := &stubSessions{ensureErr: core.IdentityUnavailableError(errors.New("dial tcp: refused"))}
	hooks := &hookRecorder{}
	client := &http.Client{Transport: NewTransport(sessions, server.Client().Transport, WithOnUnauthenticated(hooks.hook))}

	_, err := doGet(t, client, server.URL, "sess-1")
	if textCode(err) != core.TextCodeIdentityUnavailable {
		t.Fatalf("expected identity unavailable, got %v", err)
	}
	if len(hooks.sessions) != 0 {
		t.Fatalf("transient failures must not notify")
	}
}

func TestUnaryClientInterceptor(t *testing.T) {
	sessions := &stubSessions{token: "access-1"}
	hooks := &hookRecorder{}
	interceptor := UnaryClientInterceptor(sessions, WithOnUnauthenticated(hooks.hook))
	ctx := WithSessionID(context.Background(), "sess-1")

	var seen []string
	ok := func(ctx context.Context, _ string, _, _ any, _ *grpc.ClientConn, _ ...grpc.CallOption) error {
		md, _ := metadata.FromOutgoingContext(ctx)
		seen = md.Get("authorization")
		return nil
	}
	if err := interceptor(ctx, "/svc/Get", nil, nil, nil, ok); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if len(seen) != 1 || seen[0] != "Bearer access-1" {
		t.Fatalf("unexpected authorization metadata %v", seen)
	}

	denied := func(context.Context, string, any, any, *grpc.ClientConn, ...grpc.CallOption) error {
		return status.Error(codes.PermissionDenied, "viewer cannot write")
	}
	err := interceptor(ctx, "/svc/Put", nil, nil, nil, denied)
	if textCode(err) != core.TextCodePermissionDenied {
		t.Fatalf("expected permission denied, got %v", err)
	}
	if len(sessions.unauthorized) != 0 {
		t.Fatalf("permission denied must not log out")
	}

	rejected := func(context.Context, string, any, any, *grpc.ClientConn, ...grpc.CallOption) error {
		return status.Error(codes.Unauthenticated, "token expired")
	}
	err = interceptor(ctx, "/svc/Get", nil, nil, nil, rejected)
	if textCode(err) != core.TextCodeUnauthenticated {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
	if len(sessions.unauthorized) != 1 || len(hooks.sessions) != 1 {
		t.Fatalf("expected forced logout and hook, got %v / %v", sessions.unauthorized, hooks.sessions)
	}

	unavailable := func(context.Context, string, any, any, *grpc.ClientConn, ...grpc.CallOption) error {
		return status.Error(codes.Unavailable, "down")
	}
	err = interceptor(ctx, "/svc/Get", nil, nil, nil, unavailable)
	if status.Code(err) != codes.Unavailable {
		t.Fatalf("expected passthrough status, got %v", err)
	}
}
