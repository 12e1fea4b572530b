package models

import (
	"time"
)

// Share target types.
const (
	TargetFile   = "file"
	TargetFolder = "folder"
)

// Share permissions.
const (
	PermissionReadOnly  = "read-only"
	PermissionReadWrite = "read-write"
)

// Share scopes.
const (
	ScopeLocal  = "local"
	ScopePublic = "public"
)

// Derived share statuses.
const (
	ShareActive  = "active"
	ShareExpired = "expired"
	ShareRevoked = "revoked"
)

// Share is a token-identified, time-bounded grant of access to one
// filesystem path. TargetPath is absolute and was verified to sit inside
// the owner root when the share was created.
type Share struct {
	ID           string    `json:"share_id"`
	Name         string    `json:"name"`
	TargetPath   string    `json:"target_path"`
	TargetType   string    `json:"target_type"`
	Permission   string    `json:"permission"`
	Scope        string    `json:"scope"`
	PasswordHash string    `json:"password_hash,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	Revoked      bool      `json:"revoked"`
}

// Active reports whether the share grants access at the given instant.
// Status is derived, never stored.
func (s *Share) Active(now time.Time) bool {
	return !s.Revoked && s.ExpiresAt.After(now)
}

// Status returns the derived lifecycle status of the share.
func (s *Share) Status(now time.Time) string {
	if s.Revoked {
		return ShareRevoked
	}
	if !s.ExpiresAt.After(now) {
		return ShareExpired
	}
	return ShareActive
}

type CreateShareRequest struct {
	Path       string `json:"path" binding:"required"`
	Name       string `json:"name"`
	Permission string `json:"permission"`
	Scope      string `json:"scope"`
	TTLMs      int64  `json:"ttlMs"`
	ExpiresAt  *int64 `json:"expiresAt"` // unix millis, overrides ttlMs
	Password   string `json:"password"`
}

type CreateShareResponse struct {
	ShareID   string    `json:"shareId"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ShareView is a Share annotated for listing: derived status, password
// flag instead of the hash, and a URL only while the share is active.
type ShareView struct {
	ID          string    `json:"share_id"`
	Name        string    `json:"name"`
	TargetPath  string    `json:"target_path"`
	TargetType  string    `json:"target_type"`
	Permission  string    `json:"permission"`
	Scope       string    `json:"scope"`
	HasPassword bool      `json:"has_password"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Status      string    `json:"status"`
	URL         *string   `json:"url"`
}

type RevokeManyRequest struct {
	ShareIDs []string `json:"share_ids" binding:"required"`
}
