package core

import (
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeInvalidCredentials        = "INVALID_CREDENTIALS"
	TextCodeIdentityUnavailable       = "IDENTITY_UNAVAILABLE"
	TextCodeRefreshFailed             = "REFRESH_FAILED"
	TextCodeUnauthenticated           = "UNAUTHENTICATED"
	TextCodeInvalidAuthorizationState = "INVALID_AUTHORIZATION_STATE"
	TextCodeCodeExchangeFailed        = "CODE_EXCHANGE_FAILED"
	TextCodeUnavailable               = "CREDENTIAL_UNAVAILABLE"
	TextCodePermissionDenied          = "PERMISSION_DENIED"
	TextCodeBadInput                  = "BAD_INPUT"
	TextCodeResourceNotFound          = "RESOURCE_NOT_FOUND"
	TextCodeConflict                  = "VERSION_CONFLICT"
	TextCodeInternal                  = "INTERNAL_ERROR"
)

const metadataRetryable = "retryable"

var (
	ErrRecordNotFound  = errors.New("core: record not found")
	ErrVersionConflict = errors.New("core: record version conflict")
	// ErrRejected marks a collaborator answer that refuses the request, as
	// opposed to a collaborator that could not be reached.
	ErrRejected = errors.New("core: rejected by collaborator")
)

type errorKind struct {
	textCode  string
	category  goerrors.Category
	code      int
	retryable bool
}

var (
	kindInvalidCredentials        = errorKind{TextCodeInvalidCredentials, goerrors.CategoryAuth, http.StatusUnauthorized, false}
	kindIdentityUnavailable       = errorKind{TextCodeIdentityUnavailable, goerrors.CategoryExternal, http.StatusServiceUnavailable, true}
	kindRefreshFailed             = errorKind{TextCodeRefreshFailed, goerrors.CategoryAuth, http.StatusUnauthorized, false}
	kindUnauthenticated           = errorKind{TextCodeUnauthenticated, goerrors.CategoryAuth, http.StatusUnauthorized, false}
	kindInvalidAuthorizationState = errorKind{TextCodeInvalidAuthorizationState, goerrors.CategoryBadInput, http.StatusBadRequest, false}
	kindCodeExchangeFailed        = errorKind{TextCodeCodeExchangeFailed, goerrors.CategoryExternal, http.StatusBadGateway, false}
	kindUnavailable               = errorKind{TextCodeUnavailable, goerrors.CategoryOperation, http.StatusFailedDependency, false}
	kindUnavailableTransient      = errorKind{TextCodeUnavailable, goerrors.CategoryOperation, http.StatusFailedDependency, true}
	kindPermissionDenied          = errorKind{TextCodePermissionDenied, goerrors.CategoryAuthz, http.StatusForbidden, false}
	kindBadInput                  = errorKind{TextCodeBadInput, goerrors.CategoryBadInput, http.StatusBadRequest, false}
	kindInternal                  = errorKind{TextCodeInternal, goerrors.CategoryInternal, http.StatusInternalServerError, false}
)

func newKindError(kind errorKind, message string, cause error, metadata ...map[string]any) *goerrors.Error {
	var err *goerrors.Error
	if cause != nil {
		err = goerrors.Wrap(cause, kind.category, message)
	} else {
		err = goerrors.New(message, kind.category)
	}
	meta := map[string]any{metadataRetryable: kind.retryable}
	for _, extra := range metadata {
		for key, value := range extra {
			meta[key] = value
		}
	}
	return err.WithCode(kind.code).WithTextCode(kind.textCode).WithMetadata(meta)
}

func InvalidCredentialsError(cause error) error {
	return newKindError(kindInvalidCredentials, "invalid username or password", cause)
}

func IdentityUnavailableError(cause error) error {
	return newKindError(kindIdentityUnavailable, "identity service is unavailable", cause)
}

func RefreshFailedError(cause error) error {
	return newKindError(kindRefreshFailed, "session refresh failed, login required", cause)
}

func UnauthenticatedError(cause error) error {
	return newKindError(kindUnauthenticated, "session is not authenticated", cause)
}

func InvalidAuthorizationStateError(message string) error {
	if strings.TrimSpace(message) == "" {
		message = "authorization state is invalid"
	}
	return newKindError(kindInvalidAuthorizationState, message, nil)
}

func CodeExchangeFailedError(cause error) error {
	return newKindError(kindCodeExchangeFailed, "authorization code exchange failed, authorization must be restarted", cause)
}

// UnavailableError signals that the external credential of a resource cannot
// be used. Transient failures may be retried; terminal ones require a new
// authorization.
func UnavailableError(resourceID string, transient bool, cause error) error {
	kind := kindUnavailable
	message := "external credential unavailable, reconnect required"
	if transient {
		kind = kindUnavailableTransient
		message = "external credential temporarily unavailable"
	}
	return newKindError(kind, message, cause, map[string]any{"resource_id": resourceID})
}

func PermissionDeniedError(message string, cause error) error {
	if strings.TrimSpace(message) == "" {
		message = "insufficient permission"
	}
	return newKindError(kindPermissionDenied, message, cause)
}

func BadInputError(message string) error {
	return newKindError(kindBadInput, message, nil)
}

func InternalError(message string, cause error) error {
	return newKindError(kindInternal, message, cause)
}

// HasTextCode reports whether err carries the given go-errors text code.
func HasTextCode(err error, textCode string) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(richErr.TextCode), textCode)
}

// IsRetryable reports whether the caller may retry the same input.
func IsRetryable(err error) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	retryable, _ := richErr.Metadata[metadataRetryable].(bool)
	return retryable
}

// isRejection classifies a collaborator failure as a refusal. Anything else
// is treated as the collaborator being unreachable.
func isRejection(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRejected) {
		return true
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		switch richErr.Category {
		case goerrors.CategoryAuth, goerrors.CategoryAuthz, goerrors.CategoryValidation,
			goerrors.CategoryBadInput, goerrors.CategoryNotFound:
			return true
		}
		switch strings.TrimSpace(strings.ToUpper(richErr.TextCode)) {
		case "TOKEN_EXPIRED", "UNAUTHORIZED", "FORBIDDEN", "INVALID_GRANT":
			return true
		}
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(msg, "invalid_grant") ||
		strings.Contains(msg, "invalid_client") ||
		strings.Contains(msg, "unauthorized_client") ||
		strings.Contains(msg, "invalid refresh token") ||
		strings.Contains(msg, "token has been expired or revoked")
}

func defaultErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureErrorEnvelope(richErr)
	}
	switch {
	case errors.Is(err, ErrVersionConflict):
		return ensureErrorEnvelope(goerrors.Wrap(err, goerrors.CategoryConflict, err.Error()).
			WithTextCode(TextCodeConflict))
	case errors.Is(err, ErrRecordNotFound):
		return ensureErrorEnvelope(goerrors.Wrap(err, goerrors.CategoryNotFound, err.Error()).
			WithTextCode(TextCodeResourceNotFound))
	case errors.Is(err, ErrInvalidCredentialStateTransition), errors.Is(err, ErrInvalidRole):
		return ensureErrorEnvelope(goerrors.Wrap(err, goerrors.CategoryBadInput, err.Error()).
			WithTextCode(TextCodeBadInput))
	}
	return ensureErrorEnvelope(goerrors.MapToError(err, goerrors.DefaultErrorMappers()))
}

func ensureErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = httpStatusForCategory(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return TextCodeBadInput
	case goerrors.CategoryNotFound:
		return TextCodeResourceNotFound
	case goerrors.CategoryAuth:
		return TextCodeUnauthenticated
	case goerrors.CategoryAuthz:
		return TextCodePermissionDenied
	case goerrors.CategoryConflict:
		return TextCodeConflict
	case goerrors.CategoryExternal:
		return TextCodeIdentityUnavailable
	default:
		return TextCodeInternal
	}
}

func httpStatusForCategory(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
