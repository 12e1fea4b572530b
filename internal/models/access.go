package models

import (
	"time"
)

// Access request statuses.
const (
	RequestPending  = "pending"
	RequestApproved = "approved"
	RequestDenied   = "denied"
)

// AccessRequest is a pairing attempt from an unrecognized device. A
// request transitions out of pending exactly once, to approved or denied.
type AccessRequest struct {
	ID           string     `json:"request_id"`
	DeviceName   string     `json:"device_name"`
	Fingerprint  string     `json:"fingerprint"`
	UserAgent    string     `json:"user_agent"`
	IP           string     `json:"ip"`
	CreatedAt    time.Time  `json:"created_at"`
	Status       string     `json:"status"`
	ApprovedAt   *time.Time `json:"approved_at,omitempty"`
	SessionToken string     `json:"session_token,omitempty"`
}

// Session is proof that a device was approved. It is only valid while
// unexpired and when the presented fingerprint matches exactly.
type Session struct {
	Token       string    `json:"token"`
	Fingerprint string    `json:"fingerprint"`
	DeviceName  string    `json:"device_name"`
	CreatedAt   time.Time `json:"created_at"`
	ApprovedAt  time.Time `json:"approved_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Valid reports whether the session is usable for the given fingerprint.
func (s *Session) Valid(fingerprint string, now time.Time) bool {
	return s.ExpiresAt.After(now) && s.Fingerprint == fingerprint
}

// ApprovedDevice is one roster row per physical device, aggregated
// across all sessions sharing a fingerprint.
type ApprovedDevice struct {
	Fingerprint    string    `json:"fingerprint"`
	DeviceName     string    `json:"device_name"`
	Sessions       int       `json:"sessions"`
	LastApprovedAt time.Time `json:"last_approved_at"`
	LastActiveAt   time.Time `json:"last_active_at"`
}

type CreateAccessRequest struct {
	DeviceName  string `json:"device_name" binding:"required,max=100"`
	Fingerprint string `json:"fingerprint" binding:"required"`
}

type AccessDecisionRequest struct {
	RequestID string `json:"request_id" binding:"required"`
}

type RemoveDeviceRequest struct {
	Fingerprint string `json:"fingerprint" binding:"required"`
}
