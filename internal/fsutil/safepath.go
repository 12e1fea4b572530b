package fsutil

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// ErrPathEscape is returned when a requested path resolves outside the
// root it was supposed to stay under. Never retried, never reported to
// clients with path detail.
var ErrPathEscape = errors.New("path escapes root")

// Resolve maps a client-supplied path onto the local filesystem under
// root. It rejects any resolution that leaves root, including traversal
// through existing symlinks, and returns the contained absolute path.
func Resolve(root, name string) (string, error) {
	if root == "" {
		return "", errors.New("root is required")
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	rootAbs = filepath.Clean(rootAbs)

	// Client paths are always treated as relative to root.
	rel := filepath.FromSlash(strings.TrimLeft(name, "/\\"))
	full := filepath.Clean(filepath.Join(rootAbs, rel))

	if !Within(rootAbs, full) {
		return "", ErrPathEscape
	}

	// Walk the existing components under root; a symlink anywhere in the
	// chain could point outside, so refuse to traverse them.
	if symlinkInChain(rootAbs, full) {
		return "", ErrPathEscape
	}

	// The deepest existing ancestor must itself resolve inside root.
	if anchor := deepestExisting(full); anchor != "" {
		resolved, err := filepath.EvalSymlinks(anchor)
		if err != nil {
			return "", err
		}
		if !Within(rootAbs, filepath.Clean(resolved)) {
			return "", ErrPathEscape
		}
	}

	return full, nil
}

// Within reports whether candidate equals root or sits below it. Both
// arguments must already be absolute and cleaned.
func Within(root, candidate string) bool {
	root = filepath.Clean(root)
	candidate = filepath.Clean(candidate)
	if root == candidate {
		return true
	}
	sep := string(filepath.Separator)
	if !strings.HasSuffix(root, sep) {
		root += sep
	}
	return strings.HasPrefix(candidate, root)
}

func symlinkInChain(rootAbs, full string) bool {
	rel, err := filepath.Rel(rootAbs, full)
	if err != nil {
		return true
	}
	rel = filepath.Clean(rel)
	if rel == "." {
		return false
	}
	cur := rootAbs
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if part == "" || part == "." {
			continue
		}
		cur = filepath.Join(cur, part)
		info, err := os.Lstat(cur)
		if err != nil {
			// Component does not exist yet, nothing to traverse.
			return false
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return true
		}
	}
	return false
}

func deepestExisting(p string) string {
	cur := p
	for {
		if _, err := os.Lstat(cur); err == nil {
			return cur
		} else if !os.IsNotExist(err) {
			return ""
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return ""
		}
		cur = parent
	}
}
