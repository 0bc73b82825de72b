package compost

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Stats summarizes the compost tree.
type Stats struct {
	Path         string     `json:"path"`
	Entries      int        `json:"entries"`
	TotalBytes   int64      `json:"total_bytes"`
	LatestUpdate *time.Time `json:"latest_update"`
}

// CleanupResult reports an age-based cleanup.
type CleanupResult struct {
	Path           string   `json:"path"`
	Days           int      `json:"days"`
	DryRun         bool     `json:"dry_run"`
	DeletedEntries int      `json:"deleted_entries"`
	DeletedBytes   int64    `json:"deleted_bytes"`
	Deleted        []string `json:"deleted,omitempty"`
}

// Size returns the bytes held by regular files in the tree. Unreadable
// entries are skipped.
func (s *Store) Size() int64 {
	return PathSize(s.root)
}

// Stats walks the tree and counts every file and directory below the root.
// A missing root yields zero stats.
func (s *Store) Stats() (*Stats, error) {
	st := &Stats{Path: s.root}

	if _, err := os.Stat(s.root); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return st, nil
		}
		return nil, err
	}

	var latest time.Time
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || path == s.root {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		st.Entries++
		if info.Mode().IsRegular() {
			st.TotalBytes += info.Size()
		}
		if info.ModTime().After(latest) {
			latest = info.ModTime()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if st.Entries > 0 {
		latest = latest.UTC()
		st.LatestUpdate = &latest
	}
	return st, nil
}

// Cleanup removes top-level entries (whole day buckets) whose modification
// time is older than days. With dryRun nothing is deleted.
func (s *Store) Cleanup(days int, dryRun bool) (*CleanupResult, error) {
	res := &CleanupResult{Path: s.root, Days: days, DryRun: dryRun}
	if days < 0 {
		return nil, errors.New("days must be non-negative")
	}

	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return res, nil
		}
		return nil, err
	}

	cutoff := s.now().Add(-time.Duration(days) * 24 * time.Hour)
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		path := filepath.Join(s.root, e.Name())
		size := PathSize(path)
		if !dryRun {
			if err := os.RemoveAll(path); err != nil {
				return res, err
			}
		}
		res.DeletedEntries++
		res.DeletedBytes += size
		res.Deleted = append(res.Deleted, e.Name())
	}
	sort.Strings(res.Deleted)
	return res, nil
}

// PathSize returns the bytes held by regular files at or below path.
// Symlinks are not followed and unreadable entries count as zero.
func PathSize(root string) int64 {
	var total int64
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type().IsRegular() {
			if info, err := d.Info(); err == nil {
				total += info.Size()
			}
		}
		return nil
	})
	return total
}
