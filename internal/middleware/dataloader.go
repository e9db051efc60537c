package middleware

import (
	"net/http"

	"github.com/rpattn/formview/internal/recordloader"
	"github.com/rpattn/formview/internal/repository"
)

// DataLoaderMiddleware attaches a request-scoped record loader to the context
func DataLoaderMiddleware(store repository.RecordStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			loader := recordloader.NewRecordLoader(store, recordloader.DefaultWait)
			ctx := recordloader.WithLoader(r.Context(), loader)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
