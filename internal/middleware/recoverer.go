package middleware

import (
	"log"
	"net/http"
	"runtime/debug"

	"github.com/studyloop/backend/internal/api/response"
)

// Recoverer turns handler panics into 500 responses instead of dropped
// connections. The panic value and stack are logged with the request ID so
// the log line can be matched to the failing request.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("[%s] PANIC: %v\n%s", GetRequestID(r.Context()), rec, debug.Stack())
				response.InternalError(w, "An unexpected error occurred")
			}
		}()

		next.ServeHTTP(w, r)
	})
}
