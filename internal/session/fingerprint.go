package session

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// missingAttr is the sentinel substituted for device attributes the client
// did not supply. Fingerprinting must stay deterministic even for sparse
// device info, so a login never fails for lack of attributes; clients that
// send nothing at all simply share one "unknown device" per user.
const missingAttr = "unknown"

// DeviceInfo carries the client attributes used to recognize a device
// across logins. IP address is deliberately not part of the fingerprint:
// it changes whenever the user switches networks.
type DeviceInfo struct {
	UserAgent string `json:"user_agent"`
	Platform  string `json:"platform"`
	DeviceID  string `json:"device_id"`
}

// Fingerprint computes the deterministic device_key for the device.
// Equivalent DeviceInfo always yields an identical key: attributes are
// trimmed and lowercased before hashing, and missing ones are replaced
// with a fixed sentinel.
func (d DeviceInfo) Fingerprint() string {
	parts := []string{
		normalizeAttr(d.UserAgent),
		normalizeAttr(d.Platform),
		normalizeAttr(d.DeviceID),
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func normalizeAttr(attr string) string {
	attr = strings.ToLower(strings.TrimSpace(attr))
	if attr == "" {
		return missingAttr
	}
	return attr
}
