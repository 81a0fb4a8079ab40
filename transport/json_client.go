package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// JSONClient calls a JSON API rooted at BaseURL and unwraps the platform
// response envelope.
type JSONClient struct {
	BaseURL        string
	Doer           HTTPDoer
	DefaultTimeout time.Duration
	// MaxBodyBytes caps answers; zero means DefaultMaxBodyBytes.
	MaxBodyBytes int64
}

func NewJSONClient(baseURL string, doer HTTPDoer) *JSONClient {
	if doer == nil {
		doer = &http.Client{Timeout: 30 * time.Second}
	}
	return &JSONClient{
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		Doer:    doer,
	}
}

// CallOptions tune a single JSONClient call.
type CallOptions struct {
	BearerToken string
	Headers     map[string]string
	Query       map[string]string
	Timeout     time.Duration
}

// Call sends in as the JSON body (nil sends no body) and decodes the answer
// into out. A 2xx envelope with success=false is a refusal, as is any 4xx
// status.
func (c *JSONClient) Call(ctx context.Context, method string, path string, in any, out any, opts CallOptions) (Response, error) {
	if c == nil || c.Doer == nil {
		return Response{}, transportError(
			"transport: json client is not configured",
			goerrors.CategoryInternal,
			http.StatusInternalServerError,
			nil,
		)
	}
	target, err := c.resolve(path)
	if err != nil {
		return Response{}, err
	}

	var body io.Reader = http.NoBody
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return Response{}, transportWrapError(err, goerrors.CategoryBadInput, "transport: encode request body", http.StatusBadRequest, nil)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequest(strings.ToUpper(method), target, body)
	if err != nil {
		return Response{}, transportWrapError(err, goerrors.CategoryBadInput, "transport: build request", http.StatusBadRequest, map[string]any{"path": path})
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := strings.TrimSpace(opts.BearerToken); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for key, value := range opts.Headers {
		req.Header.Set(key, value)
	}
	if len(opts.Query) > 0 {
		query := req.URL.Query()
		for key, value := range opts.Query {
			query.Set(key, value)
		}
		req.URL.RawQuery = query.Encode()
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.DefaultTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	res, err := send(ctx, c.Doer, req, c.MaxBodyBytes)
	if err != nil {
		return Response{}, err
	}
	if !res.OK() {
		return res, StatusError(res.StatusCode, res.Body, map[string]any{"method": strings.ToUpper(method), "path": path})
	}
	if err := decodeInto(res, out); err != nil {
		return res, err
	}
	return res, nil
}

func (c *JSONClient) resolve(path string) (string, error) {
	base, err := url.Parse(c.BaseURL)
	if err != nil || base.Host == "" {
		return "", transportError(
			"transport: json client base url is invalid",
			goerrors.CategoryInternal,
			http.StatusInternalServerError,
			map[string]any{"base_url": c.BaseURL},
		)
	}
	ref, err := url.Parse(strings.TrimLeft(strings.TrimSpace(path), "/"))
	if err != nil {
		return "", transportWrapError(err, goerrors.CategoryBadInput, "transport: invalid request path", http.StatusBadRequest, nil)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	return base.ResolveReference(ref).String(), nil
}

func decodeInto(res Response, out any) error {
	env, isEnvelope := DecodeEnvelope(res.Body)
	if isEnvelope && env.Failed() {
		message := env.ErrorText()
		if message == "" {
			message = "transport: request was not successful"
		}
		return transportError(message, goerrors.CategoryBadInput, http.StatusBadRequest, map[string]any{"status_code": res.StatusCode})
	}
	if out == nil || len(bytes.TrimSpace(res.Body)) == 0 {
		return nil
	}
	payload := res.Body
	if isEnvelope && len(env.Data) > 0 {
		payload = env.Data
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return transportWrapError(err, goerrors.CategoryExternal, "transport: decode response body", http.StatusBadGateway, map[string]any{"status_code": res.StatusCode})
	}
	return nil
}
