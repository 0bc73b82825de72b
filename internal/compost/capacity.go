package compost

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Policy is the capacity configuration enforced before every move-in.
type Policy struct {
	// ReserveBytes is the free space the primary volume must keep after the move-in.
	ReserveBytes int64
	// MaxCompostBytes caps the compost footprint. 0 disables the cap.
	MaxCompostBytes int64
}

// FreeSpaceFunc reports the bytes available to unprivileged writers on the
// volume holding path.
type FreeSpaceFunc func(path string) (int64, error)

// PruneResult summarizes one eviction pass.
type PruneResult struct {
	Target    int64 `json:"target_bytes"`
	Reclaimed int64 `json:"reclaimed_bytes"`
	Removed   int   `json:"removed_entries"`
	// Shortfall is what remains of Target after every tier was exhausted.
	Shortfall int64 `json:"shortfall_bytes"`
}

// CapacityReport describes what EnsureCapacity measured and evicted.
type CapacityReport struct {
	IncomingBytes int64        `json:"incoming_bytes"`
	FootprintCap  int64        `json:"footprint_cap_bytes,omitempty"`
	ReserveBytes  int64        `json:"reserve_bytes"`
	FreeBytes     int64        `json:"free_bytes"`
	FootprintPass *PruneResult `json:"footprint_pass,omitempty"`
	ReservePass   *PruneResult `json:"reserve_pass,omitempty"`
}

// Shortfall is the combined bytes that could not be freed. Zero means the
// policy was satisfied.
func (r *CapacityReport) Shortfall() int64 {
	var total int64
	if r.FootprintPass != nil {
		total += r.FootprintPass.Shortfall
	}
	if r.ReservePass != nil {
		total += r.ReservePass.Shortfall
	}
	return total
}

// Governor enforces a Policy over one compost store by evicting whole files,
// tier by tier, in EvictionOrder.
type Governor struct {
	store     *Store
	volume    string
	policy    Policy
	freeSpace FreeSpaceFunc
	remove    func(string) error
	logger    *zap.Logger
}

// GovernorOption configures a Governor.
type GovernorOption func(*Governor)

// WithFreeSpace replaces the free space probe.
func WithFreeSpace(fn FreeSpaceFunc) GovernorOption {
	return func(g *Governor) {
		g.freeSpace = fn
	}
}

// WithLogger sets the governor's logger.
func WithLogger(logger *zap.Logger) GovernorOption {
	return func(g *Governor) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewGovernor returns a governor for store. volume is any path on the primary
// volume, usually the workspace root.
func NewGovernor(store *Store, volume string, policy Policy, opts ...GovernorOption) *Governor {
	g := &Governor{
		store:     store,
		volume:    volume,
		policy:    policy,
		freeSpace: FreeSpace,
		remove:    os.Remove,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Policy returns the enforced policy.
func (g *Governor) Policy() Policy {
	return g.policy
}

// EnsureCapacity makes room for incoming bytes. It first trims the footprint
// to the cap, then evicts until the volume keeps ReserveBytes free after the
// move-in. Failures are logged and reported as shortfall, never returned:
// a relocation is always allowed to proceed.
func (g *Governor) EnsureCapacity(incoming int64) *CapacityReport {
	if incoming < 0 {
		incoming = 0
	}
	report := &CapacityReport{
		IncomingBytes: incoming,
		FootprintCap:  g.policy.MaxCompostBytes,
		ReserveBytes:  g.policy.ReserveBytes,
		FreeBytes:     -1,
	}

	if g.policy.MaxCompostBytes > 0 {
		if size := g.store.Size(); size > g.policy.MaxCompostBytes {
			res := g.Prune(size - g.policy.MaxCompostBytes)
			report.FootprintPass = &res
		}
	}

	free, err := g.freeSpace(g.volume)
	if err != nil {
		g.logger.Warn("free space probe failed; reserve not enforced",
			zap.String("volume", g.volume), zap.Error(err))
		return report
	}
	report.FreeBytes = free

	if deficit := incoming + g.policy.ReserveBytes - free; deficit > 0 {
		res := g.Prune(deficit)
		report.ReservePass = &res
	}

	if short := report.Shortfall(); short > 0 {
		g.logger.Warn("capacity policy not satisfied",
			zap.Int64("incoming_bytes", incoming),
			zap.Int64("shortfall_bytes", short))
	}
	return report
}

// Prune evicts at least target bytes if it can, walking tiers in
// EvictionOrder and stopping as soon as the target is met.
func (g *Governor) Prune(target int64) PruneResult {
	res := PruneResult{Target: target}
	if target <= 0 {
		return res
	}

	for _, tier := range EvictionOrder {
		if res.Reclaimed >= target {
			break
		}
		reclaimed, removed := g.pruneTier(tier, target-res.Reclaimed)
		res.Reclaimed += reclaimed
		res.Removed += removed
	}

	if res.Reclaimed < target {
		res.Shortfall = target - res.Reclaimed
	}
	g.logger.Info("compost pruned",
		zap.Int64("target_bytes", target),
		zap.Int64("reclaimed_bytes", res.Reclaimed),
		zap.Int("removed_entries", res.Removed),
		zap.Int64("shortfall_bytes", res.Shortfall))
	return res
}

type evictCandidate struct {
	path  string
	isDir bool
	mtime time.Time
}

// pruneTier deletes files (oldest first) from every day's copy of tier until
// need bytes are reclaimed, then removes directories left empty.
func (g *Governor) pruneTier(tier Tier, need int64) (reclaimed int64, removed int) {
	roots, err := g.store.TierDirs(tier)
	if err != nil {
		g.logger.Warn("list tier failed", zap.String("tier", string(tier)), zap.Error(err))
		return 0, 0
	}
	if len(roots) == 0 {
		return 0, 0
	}

	var errs error
	var candidates []evictCandidate
	for _, root := range roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				errs = multierr.Append(errs, err)
				if d != nil && d.IsDir() && path != root {
					return filepath.SkipDir
				}
				return nil
			}
			if path == root {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				errs = multierr.Append(errs, err)
				return nil
			}
			candidates = append(candidates, evictCandidate{
				path:  path,
				isDir: d.IsDir(),
				mtime: info.ModTime(),
			})
			return nil
		})
		errs = multierr.Append(errs, err)
	}

	// Files before directories, oldest first.
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.isDir != b.isDir {
			return !a.isDir
		}
		if !a.mtime.Equal(b.mtime) {
			return a.mtime.Before(b.mtime)
		}
		return a.path < b.path
	})

	for _, c := range candidates {
		if reclaimed >= need {
			break
		}
		if c.isDir {
			if removeIfEmpty(c.path, &errs) {
				removed++
			}
			continue
		}
		info, err := os.Lstat(c.path)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				errs = multierr.Append(errs, err)
			}
			continue
		}
		if err := g.remove(c.path); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		reclaimed += info.Size()
		removed++
	}

	removed += removeEmptyDirs(roots, &errs)

	if errs != nil {
		g.logger.Warn("eviction errors ignored",
			zap.String("tier", string(tier)),
			zap.Int("errors", len(multierr.Errors(errs))),
			zap.Error(errs))
	}
	return reclaimed, removed
}

// removeEmptyDirs removes empty directories below each root, deepest first,
// then each root itself if it ended up empty.
func removeEmptyDirs(roots []string, errs *error) int {
	removed := 0
	for _, root := range roots {
		var dirs []string
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err == nil && d.IsDir() && path != root {
				dirs = append(dirs, path)
			}
			return nil
		})
		sort.Slice(dirs, func(i, j int) bool {
			di, dj := depth(dirs[i]), depth(dirs[j])
			if di != dj {
				return di > dj
			}
			return dirs[i] > dirs[j]
		})
		for _, dir := range dirs {
			if removeIfEmpty(dir, errs) {
				removed++
			}
		}
		if removeIfEmpty(root, errs) {
			removed++
		}
	}
	return removed
}

func removeIfEmpty(dir string, errs *error) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			*errs = multierr.Append(*errs, err)
		}
		return false
	}
	if len(entries) > 0 {
		return false
	}
	if err := os.Remove(dir); err != nil {
		*errs = multierr.Append(*errs, err)
		return false
	}
	return true
}

func depth(path string) int {
	return strings.Count(filepath.ToSlash(path), "/")
}
