package token

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/homedav/internal/models"
)

// Token lengths in bytes of entropy. Share ids double as capability
// URLs, session tokens guard the owner's full mount and get twice the
// entropy.
const (
	ShareBytes   = 16
	SessionBytes = 32
)

// New returns an opaque random hex token with the given entropy in bytes.
func New(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms
		panic(err)
	}
	return hex.EncodeToString(buf)
}

// NormalizePermission maps a requested permission string to one of the
// fixed set. Unknown input defaults to read-only rather than failing:
// the permission is advisory, the path guard is the real gate.
func NormalizePermission(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "read-write", "readwrite", "rw", "write":
		return models.PermissionReadWrite
	default:
		return models.PermissionReadOnly
	}
}

// NormalizeScope maps a requested scope string to local or public,
// defaulting to local.
func NormalizeScope(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "public":
		return models.ScopePublic
	default:
		return models.ScopeLocal
	}
}
