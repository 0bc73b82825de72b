package archive

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hpungsan/compost/internal/compost"
)

// ListBackups returns every archive for scopeKey across all day buckets,
// newest first. Names start with a UTC timestamp, so name order is time order.
func ListBackups(store *compost.Store, scopeKey string) ([]string, error) {
	dirs, err := store.ScopeDirs(compost.TierBackups, scopeKey)
	if err != nil {
		return nil, err
	}

	var archives []string
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.Type().IsRegular() && strings.HasSuffix(e.Name(), ArchiveExt) {
				archives = append(archives, filepath.Join(dir, e.Name()))
			}
		}
	}

	sort.SliceStable(archives, func(i, j int) bool {
		bi, bj := filepath.Base(archives[i]), filepath.Base(archives[j])
		if bi != bj {
			return bi > bj
		}
		return archives[i] > archives[j]
	})
	return archives, nil
}
