// Package archive creates and restores gzip tar snapshots of a target root.
//
// A backup is two files sharing a "<timestamp>-<label>" stem: the .tar.gz
// archive and a .json manifest. The manifest is written only after the
// archive is closed and renamed into place.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hpungsan/compost/internal/errors"
	"github.com/hpungsan/compost/internal/pattern"
)

const (
	// ArchiveExt and ManifestExt are the sibling suffixes of one backup.
	ArchiveExt  = ".tar.gz"
	ManifestExt = ".json"

	// StampLayout prefixes every backup file name.
	StampLayout = "20060102T150405Z"

	// DefaultLabel is used when the caller gives none.
	DefaultLabel = "backup"
)

// ProgressFunc is called synchronously after each archived or restored file.
type ProgressFunc func(done, total int, rel string)

// Manifest describes one backup.
type Manifest struct {
	Label      string    `json:"label"`
	CreatedAt  time.Time `json:"created_at"`
	TargetRoot string    `json:"target_root"`
	Archive    string    `json:"archive"`
	Excludes   []string  `json:"excludes"`
	Files      int       `json:"files"`
	Bytes      int64     `json:"bytes"`
	SHA256     string    `json:"sha256"`
}

// Result is the outcome of a completed backup.
type Result struct {
	Archive  string    `json:"archive"`
	Manifest string    `json:"manifest"`
	Files    int       `json:"files"`
	Bytes    int64     `json:"bytes"`
	Size     int64     `json:"archive_bytes"`
	Created  time.Time `json:"created_at"`
}

type planEntry struct {
	path string
	rel  string
	info fs.FileInfo
}

// Plan is the include set of a backup, collected before anything is written
// so progress totals are exact and the caller can reserve space first.
type Plan struct {
	Target   string
	Excludes []string
	Files    int
	Bytes    int64

	entries []planEntry
}

// NewPlan walks target and collects every regular file not matched by the
// default deny-list or excludes. Symlinks and special files are skipped.
func NewPlan(ctx context.Context, target string, excludes []string) (*Plan, error) {
	root, err := filepath.Abs(target)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFound("target", root)
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("backup target is not a directory: %s", root))
	}

	patterns := make([]string, 0, len(pattern.DefaultBackupExcludes)+len(excludes))
	patterns = append(patterns, pattern.DefaultBackupExcludes...)
	var callerExcludes []string
	for _, e := range excludes {
		if e = strings.TrimSpace(e); e != "" {
			patterns = append(patterns, e)
			callerExcludes = append(callerExcludes, e)
		}
	}

	p := &Plan{Target: root, Excludes: callerExcludes}
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return errors.NewCancelled("backup")
		}

		rel := filepath.ToSlash(mustRel(root, path))
		if pattern.IsExcluded(rel, patterns) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return err
		}
		p.entries = append(p.entries, planEntry{path: path, rel: rel, info: fi})
		p.Files++
		p.Bytes += fi.Size()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Write streams the plan into destDir as <stamp>-<label>.tar.gz, then writes
// the manifest. The archive is built in a temp file and renamed into place.
func (p *Plan) Write(ctx context.Context, destDir, label string, now time.Time, onProgress ProgressFunc) (*Result, error) {
	label = SanitizeLabel(label)
	now = now.UTC()
	stem := now.Format(StampLayout) + "-" + label

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, fmt.Errorf("create backup directory: %w", err)
	}
	archivePath := filepath.Join(destDir, stem+ArchiveExt)
	manifestPath := filepath.Join(destDir, stem+ManifestExt)
	if _, err := os.Lstat(archivePath); err == nil {
		return nil, errors.NewConflict(fmt.Sprintf("backup already exists: %s", archivePath))
	}

	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		return nil, fmt.Errorf("generate temp file name: %w", err)
	}
	tempPath := archivePath + "." + hex.EncodeToString(randBytes) + ".tmp"
	file, err := openFileNoFollow(tempPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if err != nil {
		return nil, fmt.Errorf("create archive: %w", err)
	}

	success := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !success {
			os.Remove(tempPath)
		}
	}()

	hasher := sha256.New()
	counter := &countingWriter{w: io.MultiWriter(file, hasher)}
	gz := gzip.NewWriter(counter)
	tw := tar.NewWriter(gz)

	for i, e := range p.entries {
		if ctx.Err() != nil {
			return nil, errors.NewCancelled("backup")
		}
		if err := addFile(tw, e); err != nil {
			return nil, fmt.Errorf("archive %s: %w", e.rel, err)
		}
		if onProgress != nil {
			onProgress(i+1, p.Files, e.rel)
		}
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close tar: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("close gzip: %w", err)
	}
	if err := file.Sync(); err != nil {
		return nil, err
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("close archive: %w", err)
	}
	file = nil

	if err := os.Rename(tempPath, archivePath); err != nil {
		return nil, fmt.Errorf("finalize archive: %w", err)
	}
	success = true

	excludes := p.Excludes
	if excludes == nil {
		excludes = []string{}
	}
	manifest := Manifest{
		Label:      label,
		CreatedAt:  now,
		TargetRoot: p.Target,
		Archive:    archivePath,
		Excludes:   excludes,
		Files:      p.Files,
		Bytes:      p.Bytes,
		SHA256:     hex.EncodeToString(hasher.Sum(nil)),
	}
	if err := writeManifest(manifestPath, &manifest); err != nil {
		return nil, err
	}

	return &Result{
		Archive:  archivePath,
		Manifest: manifestPath,
		Files:    p.Files,
		Bytes:    p.Bytes,
		Size:     counter.n,
		Created:  now,
	}, nil
}

// CreateBackup plans and writes a backup of target into destDir.
func CreateBackup(ctx context.Context, target, destDir, label string, excludes []string, onProgress ProgressFunc) (*Result, error) {
	plan, err := NewPlan(ctx, target, excludes)
	if err != nil {
		return nil, err
	}
	return plan.Write(ctx, destDir, label, time.Now(), onProgress)
}

// ReadManifest loads the manifest beside an archive.
func ReadManifest(archivePath string) (*Manifest, error) {
	path := ManifestPath(archivePath)
	f, err := openFileNoFollowRead(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var m Manifest
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return &m, nil
}

// ManifestPath returns the manifest sibling of an archive path.
func ManifestPath(archivePath string) string {
	return strings.TrimSuffix(archivePath, ArchiveExt) + ManifestExt
}

// SanitizeLabel makes a label safe to embed in a file name.
func SanitizeLabel(s string) string {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer("/", "-", "\\", "-", ":", "-", " ", "-").Replace(s)
	s = strings.ReplaceAll(s, "..", "-")

	var b strings.Builder
	for _, r := range s {
		if r >= 32 && r != 127 {
			b.WriteRune(r)
		}
	}
	s = b.String()

	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	s = strings.Trim(s, "-.")
	if s == "" {
		s = DefaultLabel
	}
	return s
}

func addFile(tw *tar.Writer, e planEntry) error {
	hdr, err := tar.FileInfoHeader(e.info, "")
	if err != nil {
		return err
	}
	hdr.Name = e.rel
	hdr.Uname, hdr.Gname = "", ""

	f, err := os.Open(e.path)
	if err != nil {
		return err
	}
	defer f.Close()

	// The file may have changed since planning; write exactly what the header promises.
	hdr.Size = e.info.Size()
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	n, err := io.CopyN(tw, f, hdr.Size)
	if err != nil && err != io.EOF {
		return err
	}
	if n < hdr.Size {
		// Shrunk since planning: pad so the entry stays well-formed.
		_, err = io.CopyN(tw, zeroReader{}, hdr.Size-n)
		return err
	}
	return nil
}

func writeManifest(path string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	f, err := openFileNoFollow(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("create manifest: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func mustRel(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	return rel
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}
