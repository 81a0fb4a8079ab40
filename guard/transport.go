package guard

import (
	"io"
	"net/http"

	"github.com/goliatone/go-credentials/core"
	"github.com/goliatone/go-credentials/transport"
)

const maxErrorBodyBytes = 1 << 16

// Transport is an http.RoundTripper for platform API calls. The session is
// taken from the request context (see WithSessionID).
type Transport struct {
	Base  http.RoundTripper
	guard *guard
}

func NewTransport(sessions SessionSource, base http.RoundTripper, opts ...Option) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{Base: base, guard: newGuard(sessions, opts)}
}

// RoundTrip answers 401 with a forced logout and an Unauthenticated error,
// and 403 with PermissionDenied. Neither is retried.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	token, sessionID, err := t.guard.credential(ctx)
	if err != nil {
		closeRequestBody(req)
		return nil, err
	}

	outbound := req.Clone(ctx)
	outbound.Header.Set("Authorization", "Bearer "+token)

	res, err := t.Base.RoundTrip(outbound)
	if err != nil {
		return nil, err
	}
	switch res.StatusCode {
	case http.StatusUnauthorized:
		body := drain(res)
		cause := transport.StatusError(res.StatusCode, body, map[string]any{"method": req.Method, "path": req.URL.Path})
		return nil, t.guard.unauthorized(ctx, sessionID, cause)
	case http.StatusForbidden:
		body := drain(res)
		cause := transport.StatusError(res.StatusCode, body, map[string]any{"method": req.Method, "path": req.URL.Path})
		return nil, core.PermissionDeniedError(transport.ErrorMessage(res.StatusCode, body), cause)
	}
	return res, nil
}

func drain(res *http.Response) []byte {
	defer res.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBodyBytes))
	return body
}

func closeRequestBody(req *http.Request) {
	if req.Body != nil {
		_ = req.Body.Close()
	}
}
