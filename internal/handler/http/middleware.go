package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/utafrali/storefront/internal/checkout"
	"github.com/utafrali/storefront/internal/notify"
	"github.com/utafrali/storefront/internal/session"
	"github.com/utafrali/storefront/internal/store"
	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/pkg/httputil"
	"github.com/utafrali/storefront/pkg/logger"
	"github.com/utafrali/storefront/pkg/middleware"
)

// Session is the state one browser session operates on.
type Session struct {
	Auth     *session.Auth
	Cart     *store.Store
	QuickAdd *store.QuickAdd
	Checkout *checkout.Service
	Toasts   *notify.Center
}

// Resolver returns the state of a browser session, creating it on first use.
// token is the bearer token sent with the request, or empty for guests.
type Resolver func(sessionID, token string) (*Session, error)

// contextKey is an unexported type for context keys to prevent collisions.
type contextKey string

const sessionKey contextKey = "storefront_session"

// WithSession resolves the request's browser session and stores it in the
// context. It must run after middleware.Session. A token that cannot be
// used is answered with the session-expired response.
func WithSession(resolve Resolver, loginPath string, l *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			sid := middleware.SessionIDFromContext(ctx)
			if sid == "" {
				httputil.WriteError(w, r, apperrors.Internal(errors.New("session middleware not mounted")), l)
				return
			}

			sess, err := resolve(sid, middleware.BearerTokenFromContext(ctx))
			if err != nil {
				if errors.Is(err, apperrors.ErrSessionExpired) {
					httputil.WriteSessionExpired(w, r, loginPath)
					return
				}
				httputil.WriteError(w, r, err, l)
				return
			}

			if uid := sess.Auth.UserID(); uid != "" {
				ctx = logger.WithUserID(ctx, uid)
			}
			ctx = context.WithValue(ctx, sessionKey, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// sessionFromContext returns the session stored by WithSession.
func sessionFromContext(ctx context.Context) (*Session, bool) {
	sess, ok := ctx.Value(sessionKey).(*Session)
	return sess, ok && sess != nil
}

// ContentTypeJSON enforces that requests with a body have Content-Type: application/json.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > 0 || r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			ct := r.Header.Get("Content-Type")
			if ct != "" && !strings.HasPrefix(ct, "application/json") {
				httputil.WriteJSON(w, http.StatusUnsupportedMediaType, httputil.Response{
					Error: &httputil.ErrorResponse{
						Code:    "UNSUPPORTED_MEDIA_TYPE",
						Message: "Content-Type must be application/json",
					},
				})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
