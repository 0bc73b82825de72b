// Package compost manages the tiered soft-delete store under <workspace>/.compost.
//
// Layout: .compost/<YYYY-MM-DD>/<tier>/<scope_key>/...
// Days are UTC. Every relocated item lands in exactly one (day, tier) bucket;
// older buckets accumulate until capacity enforcement or cleanup removes them.
package compost

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/hpungsan/compost/internal/pattern"
)

// Tier is a priority class used by eviction.
type Tier string

const (
	TierArchive Tier = "archive"
	TierTrash   Tier = "trash"
	TierBackups Tier = "backups"
)

// EvictionOrder lists tiers from most to least disposable.
var EvictionOrder = []Tier{TierArchive, TierTrash, TierBackups}

// DayLayout is the date bucket directory name format.
const DayLayout = "2006-01-02"

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierArchive, TierTrash, TierBackups:
		return true
	}
	return false
}

// Store is a compost tree rooted at a directory.
type Store struct {
	root string
	now  func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for bucket dates and collision suffixes.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New returns the store for a workspace: <workspace>/.compost.
func New(workspace string, opts ...Option) *Store {
	return Open(filepath.Join(workspace, pattern.CompostDirName), opts...)
}

// Open returns a store rooted at root. Nothing is created until first use.
func Open(root string, opts ...Option) *Store {
	s := &Store{
		root: filepath.Clean(root),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Root returns the compost root path.
func (s *Store) Root() string {
	return s.root
}

// Now returns the store clock's current time.
func (s *Store) Now() time.Time {
	return s.now()
}

// DayDir returns today's (UTC) bucket directory.
func (s *Store) DayDir() string {
	return filepath.Join(s.root, s.now().UTC().Format(DayLayout))
}

// BucketDir returns today's directory for a tier and scope key.
func (s *Store) BucketDir(tier Tier, scopeKey string) string {
	return filepath.Join(s.DayDir(), string(tier), scopeKey)
}

// Days returns the date bucket names present, oldest first.
// A missing compost root yields no buckets.
func (s *Store) Days() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var days []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := time.Parse(DayLayout, e.Name()); err != nil {
			continue
		}
		days = append(days, e.Name())
	}
	sort.Strings(days)
	return days, nil
}

// TierDirs returns every existing <day>/<tier> directory, oldest day first.
func (s *Store) TierDirs(tier Tier) ([]string, error) {
	days, err := s.Days()
	if err != nil {
		return nil, err
	}
	var dirs []string
	for _, day := range days {
		dir := filepath.Join(s.root, day, string(tier))
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			dirs = append(dirs, dir)
		}
	}
	return dirs, nil
}

// ScopeDirs returns every existing <day>/<tier>/<scopeKey> directory, oldest day first.
func (s *Store) ScopeDirs(tier Tier, scopeKey string) ([]string, error) {
	tierDirs, err := s.TierDirs(tier)
	if err != nil {
		return nil, err
	}
	var dirs []string
	for _, td := range tierDirs {
		dir := filepath.Join(td, scopeKey)
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			dirs = append(dirs, dir)
		}
	}
	return dirs, nil
}
