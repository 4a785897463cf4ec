package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors identifying the storefront error taxonomy.
var (
	ErrNotFound       = errors.New("resource not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrRejected       = errors.New("rejected by server")
	ErrNetwork        = errors.New("network failure")
	ErrSessionExpired = errors.New("session expired")
	ErrParse          = errors.New("unexpected response shape")
	ErrBusy           = errors.New("operation already in flight")
	ErrServiceUnavail = errors.New("service unavailable")
	ErrInternal       = errors.New("internal error")
)

// NetworkFailureMessage is shown to shoppers when no server message is available.
const NetworkFailureMessage = "We couldn't reach the store. Please check your connection and try again."

// AppError represents a structured application error with HTTP status mapping.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a 404 error.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s with id %s not found", resource, id),
		Status:  http.StatusNotFound,
		Err:     ErrNotFound,
	}
}

// InvalidInput creates a validation error raised before any network call.
func InvalidInput(message string) *AppError {
	return &AppError{
		Code:    "INVALID_INPUT",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     ErrInvalidInput,
	}
}

// Rejected creates a remote rejection carrying the server's message.
// status is the upstream HTTP status and is preserved for callers.
func Rejected(status int, code, message string) *AppError {
	if code == "" {
		code = "REJECTED"
	}
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
		Err:     ErrRejected,
	}
}

// NetworkFailure wraps a transport-level failure (timeout, connectivity).
func NetworkFailure(cause error) *AppError {
	return &AppError{
		Code:    "NETWORK_FAILURE",
		Message: NetworkFailureMessage,
		Status:  http.StatusBadGateway,
		Err:     errors.Join(ErrNetwork, cause),
	}
}

// SessionExpired creates a 401 error. Teardown is handled globally by the session.
func SessionExpired(message string) *AppError {
	return &AppError{
		Code:    "SESSION_EXPIRED",
		Message: message,
		Status:  http.StatusUnauthorized,
		Err:     ErrSessionExpired,
	}
}

// ParseError reports a response body that does not match the endpoint's wire shape.
func ParseError(endpoint string, cause error) *AppError {
	return &AppError{
		Code:    "PARSE_ERROR",
		Message: fmt.Sprintf("unexpected response from %s", endpoint),
		Status:  http.StatusBadGateway,
		Err:     errors.Join(ErrParse, cause),
	}
}

// Busy reports a second mutation against a target that already has one in flight.
func Busy(target string) *AppError {
	return &AppError{
		Code:    "BUSY",
		Message: fmt.Sprintf("an update for %s is already in progress", target),
		Status:  http.StatusConflict,
		Err:     ErrBusy,
	}
}

// ServiceUnavailable creates a 503 error.
func ServiceUnavailable(message string) *AppError {
	return &AppError{
		Code:    "SERVICE_UNAVAILABLE",
		Message: message,
		Status:  http.StatusServiceUnavailable,
		Err:     ErrServiceUnavail,
	}
}

// Internal creates a 500 error.
func Internal(err error) *AppError {
	return &AppError{
		Code:    "INTERNAL_ERROR",
		Message: "an internal error occurred",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// HTTPStatus returns the HTTP status code for the given error.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Status != 0 {
		return appErr.Status
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrSessionExpired):
		return http.StatusUnauthorized
	case errors.Is(err, ErrBusy):
		return http.StatusConflict
	case errors.Is(err, ErrRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrNetwork), errors.Is(err, ErrParse):
		return http.StatusBadGateway
	case errors.Is(err, ErrServiceUnavail):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the text a shopper should see for err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrNetwork) {
		return NetworkFailureMessage
	}
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return "Something went wrong. Please try again."
}

// Code returns the machine-readable code for err, falling back to the
// sentinel kind when err is not an AppError.
func Code(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Code != "" {
		return appErr.Code
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrInvalidInput):
		return "INVALID_INPUT"
	case errors.Is(err, ErrSessionExpired):
		return "SESSION_EXPIRED"
	case errors.Is(err, ErrBusy):
		return "BUSY"
	case errors.Is(err, ErrRejected):
		return "REJECTED"
	case errors.Is(err, ErrNetwork):
		return "NETWORK_FAILURE"
	case errors.Is(err, ErrParse):
		return "PARSE_ERROR"
	case errors.Is(err, ErrServiceUnavail):
		return "SERVICE_UNAVAILABLE"
	default:
		return "INTERNAL_ERROR"
	}
}
