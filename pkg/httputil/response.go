package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/pkg/logger"
	"github.com/utafrali/storefront/pkg/validator"
)

// Response is the JSON envelope returned by the storefront surface.
type Response struct {
	Data  any            `json:"data,omitempty"`
	Error *ErrorResponse `json:"error,omitempty"`
}

// ErrorResponse represents an error in the standard response format.
type ErrorResponse struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	Redirect  string            `json:"redirect,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent; nothing meaningful can be done if encoding fails.
	_ = json.NewEncoder(w).Encode(v)
}

// WriteData writes v inside the data envelope.
func WriteData(w http.ResponseWriter, status int, v any) {
	WriteJSON(w, status, Response{Data: v})
}

// WriteError maps err onto the storefront error taxonomy and writes it.
// Field-level validation details are included when present. Unexpected
// errors are logged with the request-scoped logger, falling back to fallback.
func WriteError(w http.ResponseWriter, r *http.Request, err error, fallback *slog.Logger) {
	l := logger.FromContext(r.Context())
	if l == slog.Default() && fallback != nil {
		l = fallback
	}

	body := &ErrorResponse{
		Code:      apperrors.Code(err),
		Message:   apperrors.Message(err),
		RequestID: logger.CorrelationIDFromContext(r.Context()),
	}
	status := apperrors.HTTPStatus(err)

	var valErr *validator.ValidationError
	if errors.As(err, &valErr) {
		body.Fields = valErr.Fields()
	}

	if status >= http.StatusInternalServerError && !errors.Is(err, apperrors.ErrNetwork) &&
		!errors.Is(err, apperrors.ErrServiceUnavail) {
		l.ErrorContext(r.Context(), "internal error",
			slog.String("error", err.Error()),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
	}

	WriteJSON(w, status, Response{Error: body})
}

// WriteSessionExpired answers a request whose upstream session has been torn
// down, pointing the client at the login entry point.
func WriteSessionExpired(w http.ResponseWriter, r *http.Request, loginPath string) {
	WriteJSON(w, http.StatusUnauthorized, Response{Error: &ErrorResponse{
		Code:      "SESSION_EXPIRED",
		Message:   "Your session has expired. Please log in again.",
		Redirect:  loginPath,
		RequestID: logger.CorrelationIDFromContext(r.Context()),
	}})
}
