package transport

import (
	"net/http"

	"github.com/goliatone/go-credentials/core"
	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeUnauthorized    = "UNAUTHORIZED"
	TextCodeForbidden       = "FORBIDDEN"
	TextCodeNotFound        = "NOT_FOUND"
	TextCodeRateLimited     = "RATE_LIMITED"
	TextCodeOperationFailed = "OPERATION_FAILED"
	TextCodeExternalFailure = "EXTERNAL_FAILURE"
)

func transportError(
	message string,
	category goerrors.Category,
	code int,
	metadata map[string]any,
) error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(transportTextCode(category))
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func transportWrapError(
	source error,
	category goerrors.Category,
	message string,
	code int,
	metadata map[string]any,
) error {
	if source == nil {
		return transportError(message, category, code, metadata)
	}
	err := goerrors.Wrap(source, category, message).
		WithCode(code).
		WithTextCode(transportTextCode(category))
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func transportTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return core.TextCodeBadInput
	case goerrors.CategoryAuth:
		return TextCodeUnauthorized
	case goerrors.CategoryAuthz:
		return TextCodeForbidden
	case goerrors.CategoryNotFound:
		return TextCodeNotFound
	case goerrors.CategoryRateLimit:
		return TextCodeRateLimited
	case goerrors.CategoryOperation:
		return TextCodeOperationFailed
	case goerrors.CategoryExternal:
		return TextCodeExternalFailure
	default:
		return core.TextCodeInternal
	}
}

// categoryForStatus classifies a non-2xx platform answer. Client errors are
// refusals; 429 and server errors are transient.
func categoryForStatus(status int) goerrors.Category {
	switch {
	case status == http.StatusUnauthorized:
		return goerrors.CategoryAuth
	case status == http.StatusForbidden:
		return goerrors.CategoryAuthz
	case status == http.StatusNotFound:
		return goerrors.CategoryNotFound
	case status == http.StatusTooManyRequests:
		return goerrors.CategoryRateLimit
	case status == http.StatusUnprocessableEntity:
		return goerrors.CategoryValidation
	case status == http.StatusRequestTimeout:
		return goerrors.CategoryExternal
	case status >= 400 && status < 500:
		return goerrors.CategoryBadInput
	default:
		return goerrors.CategoryExternal
	}
}

// StatusError builds the rich error for a non-2xx response, carrying the
// message extracted from the response envelope.
func StatusError(status int, body []byte, metadata map[string]any) error {
	meta := map[string]any{"status_code": status}
	for key, value := range metadata {
		meta[key] = value
	}
	return transportError(ErrorMessage(status, body), categoryForStatus(status), status, meta)
}

// StatusCode returns the HTTP status recorded on a transport error, or 0.
func StatusCode(err error) int {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		return 0
	}
	if status, ok := rich.Metadata["status_code"].(int); ok {
		return status
	}
	return 0
}
