package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/pkg/httputil"
)

// ListNotifications handles GET /api/v1/notifications
func ListNotifications(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFromContext(r.Context())
	httputil.WriteData(w, http.StatusOK, sess.Toasts.Active())
}

// DismissNotification handles DELETE /api/v1/notifications/{id}
func DismissNotification(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFromContext(r.Context())
	id := chi.URLParam(r, "id")

	if !sess.Toasts.Dismiss(id) {
		httputil.WriteError(w, r, apperrors.NotFound("notification", id), nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
