package ops

import (
	"context"
	"io/fs"
	"path/filepath"

	"github.com/hpungsan/compost/internal/compost"
	"github.com/hpungsan/compost/internal/errors"
	"github.com/hpungsan/compost/internal/pattern"
)

// holdingDirs are ad-hoc stash folders gathered by Compost, with their tier.
var holdingDirs = map[string]compost.Tier{
	".archive": compost.TierArchive,
	".tmp":     compost.TierArchive,
	".temp":    compost.TierArchive,
	".backup":  compost.TierBackups,
	".backups": compost.TierBackups,
	".trash":   compost.TierTrash,
}

var skipDirs = map[string]bool{
	pattern.CompostDirName: true,
	".git":                 true,
	".hg":                  true,
	".svn":                 true,
}

// Compost gathers stray holding folders (.archive, .backup(s), .tmp, .temp,
// .trash) from the target into today's bucket, each under its matching tier.
// The destination reported is the day bucket.
func Compost(ctx context.Context, env *Env, input MoveInput) (*MoveOutput, error) {
	s, err := env.resolveTarget(input.Target)
	if err != nil {
		return nil, err
	}
	if err := env.checkOutsideCompost(s.Root); err != nil {
		return nil, err
	}

	paths, err := findHoldingDirs(s.Root, s.Recursive)
	if err != nil {
		return nil, errors.Wrap(err)
	}

	planned := planMoves(paths, func(p string) compost.Tier { return holdingDirs[filepath.Base(p)] })

	out, err := env.relocate(ctx, "compost", s, env.Store.DayDir(), planned, input.DryRun)
	return out, errors.Wrap(err)
}

func findHoldingDirs(root string, recursive bool) ([]string, error) {
	var found []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root || !d.IsDir() {
			return nil
		}
		name := d.Name()
		if _, ok := holdingDirs[name]; ok {
			found = append(found, path)
			return filepath.SkipDir
		}
		if skipDirs[name] || !recursive {
			return filepath.SkipDir
		}
		return nil
	})
	return found, err
}
