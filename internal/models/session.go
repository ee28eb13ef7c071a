package models

import (
	"time"
)

// Session represents a device-bound authentication session.
// For a given user at most one active session exists per device_key;
// the session manager enforces this at creation time.
type Session struct {
	ID            string     `json:"id" db:"id"`
	UserID        string     `json:"user_id" db:"user_id"`
	DeviceKey     string     `json:"device_key" db:"device_key"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	LastAccessed  time.Time  `json:"last_accessed" db:"last_accessed"`
	ExpiresAt     time.Time  `json:"expires_at" db:"expires_at"`
	IsActive      bool       `json:"is_active" db:"is_active"`
	InvalidatedAt *time.Time `json:"invalidated_at,omitempty" db:"invalidated_at"`
}

// Expired reports whether the session is past its expiry.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Usable reports whether the session can be reused for a new login on the same device.
func (s *Session) Usable(now time.Time) bool {
	return s.IsActive && !s.Expired(now)
}

// SessionResponse is the API response format for a session (devices UI)
type SessionResponse struct {
	ID           string `json:"id"`
	CreatedAt    string `json:"created_at"`
	LastAccessed string `json:"last_accessed"`
	ExpiresAt    string `json:"expires_at"`
	Current      bool   `json:"current"`
}

// ToResponse converts a Session to SessionResponse
func (s *Session) ToResponse(currentID string) SessionResponse {
	return SessionResponse{
		ID:           s.ID,
		CreatedAt:    s.CreatedAt.Format(time.RFC3339),
		LastAccessed: s.LastAccessed.Format(time.RFC3339),
		ExpiresAt:    s.ExpiresAt.Format(time.RFC3339),
		Current:      s.ID == currentID,
	}
}
