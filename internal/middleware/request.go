package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/rpattn/formview/internal/auth"
	"github.com/rpattn/formview/internal/logger"
)

// Request headers read by the middleware.
const (
	HeaderRequestID    = "X-Request-Id"
	HeaderViewerID     = "X-Formview-User"
	HeaderCapabilities = "X-Formview-Capabilities"
)

// RequestIDMiddleware reuses the caller's request id or assigns a new one, and
// echoes it on the response
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(logger.ContextWithRequestID(r.Context(), id)))
	})
}

// ViewerMiddleware attaches the viewer identified by trusted upstream headers
func ViewerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		viewer := auth.ParseViewer(r.Header.Get(HeaderViewerID), r.Header.Get(HeaderCapabilities))
		next.ServeHTTP(w, r.WithContext(auth.ContextWithViewer(r.Context(), viewer)))
	})
}
