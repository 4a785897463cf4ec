package httpclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	apperrors "github.com/utafrali/storefront/pkg/errors"
)

// StatusError is returned by CircuitBreakerClient for 5xx responses so that
// callers still see the upstream status after the body has been drained.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.StatusCode, e.Body)
}

// upstreamErrorResponse covers the two error payload shapes the commerce API
// emits: a flat {"message": "..."} and a nested {"error": {"code","message"}}.
type upstreamErrorResponse struct {
	Message string          `json:"message"`
	Error   json.RawMessage `json:"error"`
}

type upstreamErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ParseResponseError reads the body of a non-2xx HTTP response and translates
// it into an AppError. The server's message is preserved so it can be shown to
// the shopper as the rejection reason.
//
// The caller should only invoke this when resp.StatusCode indicates an error.
// The response body is fully consumed and closed.
func ParseResponseError(resp *http.Response, serviceName string) error {
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1 MB limit
	if err != nil {
		return apperrors.NetworkFailure(fmt.Errorf("%s returned status %d (failed to read body: %w)", serviceName, resp.StatusCode, err))
	}

	code, message := decodeErrorBody(bodyBytes)
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}
	return MapStatus(resp.StatusCode, code, message, serviceName)
}

func decodeErrorBody(body []byte) (code, message string) {
	var payload upstreamErrorResponse
	if json.Unmarshal(body, &payload) != nil {
		return "", strings.TrimSpace(string(body))
	}

	if len(payload.Error) > 0 {
		var detail upstreamErrorDetail
		if json.Unmarshal(payload.Error, &detail) == nil && detail.Message != "" {
			return detail.Code, detail.Message
		}
		var plain string
		if json.Unmarshal(payload.Error, &plain) == nil && plain != "" {
			return "", plain
		}
	}
	return "", payload.Message
}

// MapStatus translates an upstream HTTP status and error payload into the
// storefront error taxonomy.
func MapStatus(status int, code, message, serviceName string) error {
	switch {
	case status == http.StatusUnauthorized:
		return apperrors.SessionExpired(message)
	case status == http.StatusNotFound:
		if code == "" {
			code = "NOT_FOUND"
		}
		return &apperrors.AppError{
			Code:    code,
			Message: message,
			Status:  http.StatusNotFound,
			Err:     errors.Join(apperrors.ErrRejected, apperrors.ErrNotFound),
		}
	case status == http.StatusServiceUnavailable:
		return apperrors.ServiceUnavailable(fmt.Sprintf("%s: %s", serviceName, message))
	case status >= 500:
		return apperrors.NetworkFailure(&StatusError{StatusCode: status, Body: message})
	case IsClientError(status):
		return apperrors.Rejected(status, code, message)
	default:
		return apperrors.NetworkFailure(fmt.Errorf("%s returned unexpected status %d", serviceName, status))
	}
}

// IsClientError returns true if the HTTP status code is a 4xx client error.
func IsClientError(status int) bool {
	return status >= 400 && status < 500
}

// FromStatusError maps a StatusError returned by CircuitBreakerClient into
// the storefront error taxonomy, decoding the upstream error payload it
// carries.
func FromStatusError(se *StatusError, serviceName string) error {
	code, message := decodeErrorBody([]byte(se.Body))
	if message == "" {
		message = http.StatusText(se.StatusCode)
	}
	return MapStatus(se.StatusCode, code, message, serviceName)
}
