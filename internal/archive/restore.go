package archive

import (
	"archive/tar"
	"compress/gzip"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/hpungsan/compost/internal/errors"
)

// RestoreResult is the outcome of a restore.
type RestoreResult struct {
	Archive  string `json:"archive"`
	Target   string `json:"target"`
	Restored int    `json:"restored"`
	Skipped  int    `json:"skipped"`
	Message  string `json:"message"`
}

// member is a planned extraction.
type member struct {
	name string
	dest string
	dir  bool
}

// RestoreBackup extracts archivePath into target.
//
// Every member is checked before anything is written: a member naming an
// absolute path, climbing out of target or colliding with another member is
// rejected. A member whose parent exists as a non-directory fails with
// CONFLICT, and so does, without force, the first member whose destination
// already exists. Only regular files and directories are extracted.
func RestoreBackup(ctx context.Context, archivePath, target string, force bool, onProgress ProgressFunc) (*RestoreResult, error) {
	info, err := os.Stat(archivePath)
	if err != nil || info.IsDir() {
		return nil, errors.NewArchiveNotFound(archivePath)
	}
	root, err := filepath.Abs(target)
	if err != nil {
		return nil, err
	}

	members, skipped, err := preflight(ctx, archivePath, root, force)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create restore target: %w", err)
	}
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, err
	}

	restored, err := extract(ctx, archivePath, realRoot, members, force, onProgress)
	if err != nil {
		return nil, err
	}

	return &RestoreResult{
		Archive:  archivePath,
		Target:   root,
		Restored: restored,
		Skipped:  skipped,
		Message:  fmt.Sprintf("restored %d files from %s into %s", restored, filepath.Base(archivePath), root),
	}, nil
}

// preflight reads the whole archive and returns the extraction plan keyed by
// cleaned member path. Members that collide with each other or with what is
// already on disk are rejected here, before anything is written.
func preflight(ctx context.Context, archivePath, root string, force bool) (map[string]member, int, error) {
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		realRoot = root
	}

	plan := make(map[string]member)
	// isDir by path, including the parents implied by nested members.
	seen := make(map[string]bool)
	skipped := 0

	err = eachMember(archivePath, func(hdr *tar.Header, _ io.Reader) error {
		if ctx.Err() != nil {
			return errors.NewCancelled("restore")
		}

		rel, err := memberPath(hdr.Name)
		if err != nil {
			return err
		}
		if rel == "" {
			return nil
		}
		mode := hdr.FileInfo().Mode()
		if !mode.IsRegular() && !mode.IsDir() {
			skipped++
			return nil
		}
		dir := mode.IsDir()

		if prevDir, ok := seen[rel]; ok {
			if prevDir && dir {
				return nil
			}
			return errors.NewInvalidRequest(fmt.Sprintf("archive member collides with another member: %s", hdr.Name))
		}
		for parent := path.Dir(rel); parent != "."; parent = path.Dir(parent) {
			if isDir, ok := seen[parent]; ok && !isDir {
				return errors.NewInvalidRequest(fmt.Sprintf("archive member is nested under a file member: %s", hdr.Name))
			}
			seen[parent] = true
		}
		seen[rel] = dir

		if err := checkDest(root, realRoot, rel, hdr.Name, dir, force); err != nil {
			return err
		}
		plan[rel] = member{name: rel, dest: filepath.Join(root, filepath.FromSlash(rel)), dir: dir}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return plan, skipped, nil
}

// checkDest walks rel below root and fails when extraction could not write
// through what is already there: a parent that exists but is not a directory,
// a parent symlink leading outside root, or an occupied destination. With
// force an existing regular file may be overwritten.
func checkDest(root, realRoot, rel, name string, dir, force bool) error {
	parts := strings.Split(rel, "/")
	cur := root
	for i, part := range parts {
		cur = filepath.Join(cur, part)
		info, err := os.Lstat(cur)
		if os.IsNotExist(err) {
			return nil
		}
		if err != nil {
			return errors.NewRestoreConflict(name, cur)
		}

		if i == len(parts)-1 {
			if dir && info.IsDir() {
				return nil
			}
			if force && !dir && info.Mode().IsRegular() {
				return nil
			}
			return errors.NewRestoreConflict(name, cur)
		}

		if info.Mode()&os.ModeSymlink != 0 {
			if err := checkInside(realRoot, cur, name); err != nil {
				return err
			}
			if info, err = os.Stat(cur); err != nil {
				return errors.NewRestoreConflict(name, cur)
			}
		}
		if !info.IsDir() {
			return errors.NewRestoreConflict(name, cur)
		}
	}
	return nil
}

func extract(ctx context.Context, archivePath, realRoot string, plan map[string]member, force bool, onProgress ProgressFunc) (int, error) {
	total := 0
	for _, m := range plan {
		if !m.dir {
			total++
		}
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_EXCL
	if force {
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	}

	done := 0
	err := eachMember(archivePath, func(hdr *tar.Header, r io.Reader) error {
		if ctx.Err() != nil {
			return errors.NewCancelled("restore")
		}
		rel, err := memberPath(hdr.Name)
		if err != nil {
			return err
		}
		m, ok := plan[rel]
		if !ok {
			return nil
		}

		if m.dir {
			if err := os.MkdirAll(m.dest, 0755); err != nil {
				return err
			}
			return checkInside(realRoot, m.dest, hdr.Name)
		}

		parent := filepath.Dir(m.dest)
		if err := os.MkdirAll(parent, 0755); err != nil {
			return err
		}
		if err := checkInside(realRoot, parent, hdr.Name); err != nil {
			return err
		}

		f, err := openFileNoFollow(m.dest, flags, hdr.FileInfo().Mode().Perm()|0200)
		if err != nil {
			if os.IsExist(err) {
				return errors.NewRestoreConflict(hdr.Name, m.dest)
			}
			return err
		}
		if _, err := io.Copy(f, r); err != nil {
			f.Close()
			return fmt.Errorf("extract %s: %w", hdr.Name, err)
		}
		if err := f.Close(); err != nil {
			return err
		}
		if !hdr.ModTime.IsZero() {
			_ = os.Chtimes(m.dest, hdr.ModTime, hdr.ModTime)
		}

		done++
		if onProgress != nil {
			onProgress(done, total, m.name)
		}
		return nil
	})
	return done, err
}

// memberPath validates an archive member name and returns its cleaned
// slash-separated path, or "" for the archive root.
func memberPath(name string) (string, error) {
	slashed := strings.ReplaceAll(name, "\\", "/")
	if strings.HasPrefix(slashed, "/") || filepath.IsAbs(name) || filepath.VolumeName(name) != "" {
		return "", errors.NewInvalidRequest(fmt.Sprintf("archive member has an absolute path: %s", name))
	}
	clean := path.Clean(slashed)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", errors.NewInvalidRequest(fmt.Sprintf("archive member escapes the restore target: %s", name))
	}
	if clean == "." {
		return "", nil
	}
	return clean, nil
}

// checkInside rejects a directory that resolves outside root through a symlink.
func checkInside(realRoot, dir, name string) error {
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(realRoot, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return errors.NewInvalidRequest(fmt.Sprintf("archive member resolves outside the restore target: %s", name))
	}
	return nil
}

func eachMember(archivePath string, fn func(hdr *tar.Header, r io.Reader) error) error {
	f, err := openFileNoFollowRead(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("read %s: %w", archivePath, err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		// Insecure names are rejected by memberPath with a clearer error.
		if err != nil && !stderrors.Is(err, tar.ErrInsecurePath) {
			return fmt.Errorf("read %s: %w", archivePath, err)
		}
		if err := fn(hdr, tr); err != nil {
			return err
		}
	}
}
