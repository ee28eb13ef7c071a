package cache

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
)

// GenerateCacheKey builds a deterministic key from a prefix and the request
// parameters that shape the result. Params are JSON-encoded and hashed so
// the key stays short regardless of parameter size.
func GenerateCacheKey(prefix string, params ...interface{}) string {
	if len(params) == 0 {
		return prefix
	}
	data, _ := json.Marshal(params)
	sum := md5.Sum(data)
	return prefix + ":" + hex.EncodeToString(sum[:])
}

// UserTag returns the invalidation tag grouping all cached entries that
// belong to one user (e.g. "users:42").
func UserTag(userID string) string {
	return "users:" + userID
}
