// Package scope maps scope tokens to target roots and derives the scope keys
// that partition the compost tree.
package scope

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
)

// Scope tokens.
const (
	TokenCurrent    = "current"
	TokenSubfolders = "+subfolders"
	TokenWorkspace  = "workspace"
	TokenAll        = "all"
)

// RootKey is the scope key of the workspace root itself.
const RootKey = "@root"

// Scope is a resolved target root.
type Scope struct {
	Token     string `json:"token"`
	Root      string `json:"root"`
	Recursive bool   `json:"recursive"`
}

// Resolver resolves scope tokens against fixed roots.
type Resolver struct {
	Workspace string
	Memory    string
	Cwd       string
}

// Resolve maps a token to a root. Unknown or empty tokens fall back to the
// memory root, recursive; they never error.
func (r Resolver) Resolve(token string) Scope {
	t := normalizeToken(token)
	switch t {
	case TokenCurrent:
		return Scope{Token: t, Root: r.Cwd, Recursive: false}
	case TokenSubfolders:
		return Scope{Token: t, Root: r.Cwd, Recursive: true}
	case TokenWorkspace, TokenAll:
		return Scope{Token: t, Root: r.Workspace, Recursive: true}
	default:
		return Scope{Token: t, Root: r.Memory, Recursive: true}
	}
}

// IsKnownToken reports whether token names a scope rather than falling back.
func IsKnownToken(token string) bool {
	switch normalizeToken(token) {
	case TokenCurrent, TokenSubfolders, TokenWorkspace, TokenAll:
		return true
	}
	return false
}

func normalizeToken(token string) string {
	return strings.ToLower(strings.TrimSpace(token))
}

// Key derives the scope key for root relative to workspace.
//
// Inside the workspace the key is the relative path with separators replaced
// by "__". Paths whose segments would make that join ambiguous (a segment
// containing "__" or "@", or starting/ending with "_") get an "@<hash>" suffix.
// Roots outside the workspace become "abs@<sanitized path>@<hash>".
// Plain keys never contain "@", so the three forms cannot collide.
func Key(workspace, root string) string {
	ws := cleanAbs(workspace)
	target := cleanAbs(root)

	rel, err := filepath.Rel(ws, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "abs@" + sanitize(target) + "@" + shortHash("abs:"+filepath.ToSlash(target))
	}
	if rel == "." {
		return RootKey
	}

	rel = filepath.ToSlash(rel)
	segments := strings.Split(rel, "/")
	key := strings.Join(segments, "__")
	for _, seg := range segments {
		if ambiguousSegment(seg) {
			return key + "@" + shortHash("rel:"+rel)
		}
	}
	return key
}

func ambiguousSegment(seg string) bool {
	return strings.Contains(seg, "__") ||
		strings.Contains(seg, "@") ||
		strings.HasPrefix(seg, "_") ||
		strings.HasSuffix(seg, "_")
}

// sanitize turns an absolute path into a single file-name-safe component.
func sanitize(p string) string {
	p = filepath.ToSlash(p)
	replacer := strings.NewReplacer("/", "__", "\\", "__", ":", "", "\x00", "")
	s := strings.Trim(replacer.Replace(p), "_")
	if s == "" {
		s = "fs-root"
	}
	return s
}

func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:6])
}

func cleanAbs(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}
