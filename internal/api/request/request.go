package request

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// GetQueryInt returns an integer query parameter, or defaultVal when the
// parameter is absent or not a number.
func GetQueryInt(r *http.Request, key string, defaultVal int) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

// GetQueryIntWithRange returns an integer query parameter clamped to
// [minVal, maxVal].
func GetQueryIntWithRange(r *http.Request, key string, defaultVal, minVal, maxVal int) int {
	n := GetQueryInt(r, key, defaultVal)
	if n < minVal {
		return minVal
	}
	if n > maxVal {
		return maxVal
	}
	return n
}

// GetQueryString returns a string query parameter or the default value.
func GetQueryString(r *http.Request, key string, defaultVal string) string {
	if val := r.URL.Query().Get(key); val != "" {
		return val
	}
	return defaultVal
}

// GetURLParam returns a chi route parameter.
func GetURLParam(r *http.Request, key string) string {
	return chi.URLParam(r, key)
}
