package middleware

import "net/http"

// SecurityHeaders sets the baseline security headers for a JSON API.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()

		// The API serves JSON only; never allow it to be framed or sniffed.
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=()")

		// Responses carry per-user data (sessions, usage); keep shared
		// proxies from caching them.
		h.Set("Cache-Control", "no-store")

		next.ServeHTTP(w, r)
	})
}
