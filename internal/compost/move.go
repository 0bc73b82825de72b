package compost

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"
)

// collisionLayout is appended to a name that already exists at the destination.
const collisionLayout = "20060102T150405.000000000"

// DedupeMoveCandidates drops paths nested under another candidate, so a
// directory and its contents are never moved twice. Order is preserved and
// repeated paths are collapsed. Paths are compared, and returned, in
// absolute form.
func DedupeMoveCandidates(paths []string) []string {
	cleaned := make([]string, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = filepath.Clean(p)
		}
		cleaned = append(cleaned, abs)
	}

	sorted := append([]string(nil), cleaned...)
	sort.Strings(sorted)

	keep := make(map[string]bool, len(sorted))
	var kept []string
	for _, p := range sorted {
		if keep[p] || hasAncestor(p, kept) {
			continue
		}
		keep[p] = true
		kept = append(kept, p)
	}

	out := make([]string, 0, len(keep))
	for _, p := range cleaned {
		if keep[p] {
			out = append(out, p)
			delete(keep, p)
		}
	}
	return out
}

// hasAncestor reports whether one of dirs is a strict ancestor of p.
func hasAncestor(p string, dirs []string) bool {
	for _, d := range dirs {
		if d == p {
			continue
		}
		prefix := d
		if !strings.HasSuffix(prefix, string(filepath.Separator)) {
			prefix += string(filepath.Separator)
		}
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

// SafeMove relocates src into destDir, creating destDir as needed. An existing
// name at the destination is never overwritten: the new name gets a timestamp
// suffix, plus a counter if that is taken too. Moves across volumes fall back
// to copy then remove. Returns the final path.
func (s *Store) SafeMove(src, destDir string) (string, error) {
	return safeMove(src, destDir, s.now())
}

// SafeMove is Store.SafeMove with the wall clock.
func SafeMove(src, destDir string) (string, error) {
	return safeMove(src, destDir, time.Now())
}

func safeMove(src, destDir string, now time.Time) (string, error) {
	if _, err := os.Lstat(src); err != nil {
		return "", err
	}
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", fmt.Errorf("create %s: %w", destDir, err)
	}

	dest, err := freeName(destDir, filepath.Base(src), now)
	if err != nil {
		return "", err
	}
	if err := relocate(src, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// MoveTo relocates src to exactly dest, creating parent directories.
// It fails with fs.ErrExist if dest is taken.
func MoveTo(src, dest string) error {
	if _, err := os.Lstat(src); err != nil {
		return err
	}
	if exists(dest) {
		return &os.PathError{Op: "move", Path: dest, Err: fs.ErrExist}
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	return relocate(src, dest)
}

// relocate renames src to dest, copying then removing across volumes.
func relocate(src, dest string) error {
	err := os.Rename(src, dest)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return err
	}
	if err := copyTree(src, dest); err != nil {
		_ = os.RemoveAll(dest)
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if err := os.RemoveAll(src); err != nil {
		return fmt.Errorf("remove %s after copy: %w", src, err)
	}
	return nil
}

// freeName returns a path under dir for name that does not exist yet.
func freeName(dir, name string, now time.Time) (string, error) {
	dest := filepath.Join(dir, name)
	if !exists(dest) {
		return dest, nil
	}

	stamped := dest + "." + now.Format(collisionLayout)
	if !exists(stamped) {
		return stamped, nil
	}
	for i := 1; i < 10000; i++ {
		candidate := fmt.Sprintf("%s-%d", stamped, i)
		if !exists(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no free name for %s in %s", name, dir)
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// copyTree copies files, directories, and symlinks (as links) from src to dst.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		info, err := os.Lstat(path)
		if err != nil {
			return err
		}
		switch {
		case info.Mode()&os.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case info.IsDir():
			return os.MkdirAll(target, info.Mode().Perm()|0700)
		case info.Mode().IsRegular():
			if err := copyFile(path, target, info.Mode().Perm()); err != nil {
				return err
			}
			return os.Chtimes(target, info.ModTime(), info.ModTime())
		default:
			// Sockets, devices, and pipes are not carried over.
			return nil
		}
	})
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
