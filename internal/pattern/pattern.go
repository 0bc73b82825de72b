// Package pattern classifies paths as junk (tidy), disallowed (clean), or
// excluded (backup) using shell-glob pattern sets and allow-lists.
package pattern

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// CompostDirName is the compost tree's directory name. It is protected at any depth.
const CompostDirName = ".compost"

// DefaultJunkPatterns are the globs tidy treats as junk.
var DefaultJunkPatterns = []string{
	"*.tmp",
	"*.temp",
	"*.bak",
	"*.swp",
	"*.swo",
	"*~",
	"*.pyc",
	"*.pyo",
	"*.orig",
	"*.rej",
	"__pycache__",
	".pytest_cache",
	".mypy_cache",
	".DS_Store",
	"Thumbs.db",
	"desktop.ini",
}

// DefaultBackupExcludes is the deny-list applied to every backup.
var DefaultBackupExcludes = []string{
	".git",
	"venv",
	".venv",
	"node_modules",
	"__pycache__",
	".pytest_cache",
	".mypy_cache",
	".cache",
	"build",
	"dist",
	CompostDirName,
}

// protectedNames are never tidied or cleaned, whatever the allow-list says.
var protectedNames = map[string]bool{
	CompostDirName: true,
	"compost.json": true,
}

// vcsDirs are not descended into by tidy.
var vcsDirs = map[string]bool{
	".git": true,
	".hg":  true,
	".svn": true,
}

// IsProtected reports whether name is never relocated.
func IsProtected(name string) bool {
	return protectedNames[name]
}

// Classifier holds the junk pattern set.
type Classifier struct {
	junk []string
}

// NewClassifier returns a classifier using the default junk patterns plus extra.
func NewClassifier(extra ...string) *Classifier {
	junk := make([]string, 0, len(DefaultJunkPatterns)+len(extra))
	junk = append(junk, DefaultJunkPatterns...)
	for _, p := range extra {
		if p = strings.TrimSpace(p); p != "" {
			junk = append(junk, p)
		}
	}
	return &Classifier{junk: junk}
}

// IsJunk reports whether path matches a junk pattern by base name or by its
// root-relative slash path.
func (c *Classifier) IsJunk(path, root string) bool {
	name := filepath.Base(path)
	if IsProtected(name) {
		return false
	}
	rel := relSlash(root, path)
	for _, p := range c.junk {
		if matchGlob(p, name) || (rel != "" && matchGlob(p, rel)) {
			return true
		}
	}
	return false
}

// IsAllowed reports whether path is spared by clean.
// Non-recursive scopes compare the top-level name only; recursive scopes
// spare any path with a relative segment in the allow set.
// Protected names are always allowed.
func IsAllowed(path, root string, allow map[string]bool, recursive bool) bool {
	name := filepath.Base(path)
	if IsProtected(name) || allow[name] {
		return true
	}
	if !recursive {
		return false
	}
	rel := relSlash(root, path)
	for _, seg := range strings.Split(rel, "/") {
		if IsProtected(seg) || allow[seg] {
			return true
		}
	}
	return false
}

// AllowSet builds a lookup set from names, ignoring blanks.
func AllowSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			set[n] = true
		}
	}
	return set
}

// IsExcluded reports whether a root-relative slash path is excluded from a
// backup: a pattern matches one of its segments, or one of its leading
// sub-paths (so "media/raw" excludes everything below it).
func IsExcluded(rel string, patterns []string) bool {
	rel = strings.TrimPrefix(filepath.ToSlash(rel), "./")
	segments := strings.Split(rel, "/")
	for _, p := range patterns {
		for i, seg := range segments {
			if matchGlob(p, seg) || matchGlob(p, strings.Join(segments[:i+1], "/")) {
				return true
			}
		}
	}
	return false
}

// Junk walks root and returns junk paths. Non-recursive scopes look at the
// immediate entries only. Matched directories are not descended into.
func (c *Classifier) Junk(root string, recursive bool) ([]string, error) {
	var out []string
	err := walk(root, recursive, func(path string, d fs.DirEntry) (bool, error) {
		if IsProtected(d.Name()) {
			return false, nil
		}
		if c.IsJunk(path, root) {
			out = append(out, path)
			return false, nil
		}
		return !vcsDirs[d.Name()], nil
	})
	return out, err
}

// Disallowed walks root and returns the paths clean would move.
// A directory holding an allowed name somewhere below it is not moved as a
// whole; its other children are considered individually instead.
func Disallowed(root string, allow map[string]bool, recursive bool) ([]string, error) {
	if !recursive {
		var out []string
		err := walk(root, false, func(path string, d fs.DirEntry) (bool, error) {
			if !IsAllowed(path, root, allow, false) {
				out = append(out, path)
			}
			return false, nil
		})
		return out, err
	}

	type entry struct {
		path  string
		isDir bool
	}
	var entries []entry
	keep := make(map[string]bool)

	err := walk(root, true, func(path string, d fs.DirEntry) (bool, error) {
		if IsProtected(d.Name()) || allow[d.Name()] {
			for dir := filepath.Dir(path); dir != root && strings.HasPrefix(dir, root); dir = filepath.Dir(dir) {
				keep[dir] = true
			}
			return false, nil
		}
		entries = append(entries, entry{path: path, isDir: d.IsDir()})
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.isDir && keep[e.path] {
			continue
		}
		out = append(out, e.path)
	}
	sort.Strings(out)
	return out, nil
}

// walk visits entries below root (not root itself). visit returns whether a
// directory should be descended into; non-recursive walks never descend.
func walk(root string, recursive bool, visit func(path string, d fs.DirEntry) (bool, error)) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		descend, err := visit(path, d)
		if err != nil {
			return err
		}
		if d.IsDir() && (!recursive || !descend) {
			return filepath.SkipDir
		}
		return nil
	})
}

func matchGlob(pattern, name string) bool {
	ok, err := doublestar.Match(pattern, name)
	return err == nil && ok
}

func relSlash(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return ""
	}
	return filepath.ToSlash(rel)
}
