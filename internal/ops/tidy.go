package ops

import (
	"context"

	"github.com/hpungsan/compost/internal/compost"
	"github.com/hpungsan/compost/internal/errors"
	"github.com/hpungsan/compost/internal/pattern"
)

// MoveInput contains parameters for Tidy and Compost.
type MoveInput struct {
	Target
	DryRun bool `json:"dry_run,omitempty"`
}

// Tidy moves junk (editor backups, caches, temp files) from the target into
// today's archive tier.
func Tidy(ctx context.Context, env *Env, input MoveInput) (*MoveOutput, error) {
	s, err := env.resolveTarget(input.Target)
	if err != nil {
		return nil, err
	}
	if err := env.checkOutsideCompost(s.Root); err != nil {
		return nil, err
	}

	classifier := pattern.NewClassifier(env.Config.ExtraJunkPatterns...)
	paths, err := classifier.Junk(s.Root, s.Recursive)
	if err != nil {
		return nil, errors.Wrap(err)
	}

	planned := planMoves(paths, func(string) compost.Tier { return compost.TierArchive })
	dest := env.Store.BucketDir(compost.TierArchive, env.ScopeKey(s.Root))

	out, err := env.relocate(ctx, "tidy", s, dest, planned, input.DryRun)
	return out, errors.Wrap(err)
}
