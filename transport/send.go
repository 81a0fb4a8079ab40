package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// DefaultMaxBodyBytes caps platform answers. Login, verify and refresh
// replies are a few hundred bytes.
const DefaultMaxBodyBytes int64 = 1 << 20

// HTTPDoer is the part of *http.Client the identity platform calls need.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Response is a platform answer with the body already read.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Elapsed    time.Duration
}

func (r Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// send performs req on doer and reads at most limit bytes of the answer.
// Network failures and oversized bodies are external failures so callers
// treat them as transient.
func send(ctx context.Context, doer HTTPDoer, req *http.Request, limit int64) (Response, error) {
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}
	where := map[string]any{"method": req.Method, "path": req.URL.Path}

	started := time.Now()
	res, err := doer.Do(req.WithContext(ctx))
	if err != nil {
		return Response{}, transportWrapError(err, goerrors.CategoryExternal, "transport: platform unreachable", http.StatusBadGateway, where)
	}
	defer res.Body.Close()

	where["status_code"] = res.StatusCode
	body, err := io.ReadAll(io.LimitReader(res.Body, limit+1))
	if err != nil {
		return Response{}, transportWrapError(err, goerrors.CategoryExternal, "transport: read platform answer", http.StatusBadGateway, where)
	}
	if int64(len(body)) > limit {
		where["limit_bytes"] = limit
		return Response{}, transportError(
			fmt.Sprintf("transport: platform answer exceeds %d bytes", limit),
			goerrors.CategoryExternal,
			http.StatusBadGateway,
			where,
		)
	}
	return Response{
		StatusCode: res.StatusCode,
		Header:     res.Header,
		Body:       body,
		Elapsed:    time.Since(started),
	}, nil
}
