package ops

import (
	"context"

	"github.com/hpungsan/compost/internal/compost"
	"github.com/hpungsan/compost/internal/errors"
	"github.com/hpungsan/compost/internal/pattern"
)

// CleanInput contains parameters for the Clean operation.
type CleanInput struct {
	Target
	// Allow lists the names to keep. Empty means the configured clean_allow.
	Allow  []string `json:"allow,omitempty"`
	DryRun bool     `json:"dry_run,omitempty"`
}

// Clean moves everything in the target that is not allow-listed into today's
// trash tier. An empty allow-list is rejected rather than trashing the whole root.
func Clean(ctx context.Context, env *Env, input CleanInput) (*MoveOutput, error) {
	allow := pattern.AllowSet(input.Allow)
	if len(allow) == 0 {
		allow = pattern.AllowSet(env.Config.CleanAllow)
	}
	if len(allow) == 0 {
		return nil, errors.NewInvalidRequest("clean requires an allow-list (pass allow or set clean_allow)")
	}

	s, err := env.resolveTarget(input.Target)
	if err != nil {
		return nil, err
	}
	if err := env.checkOutsideCompost(s.Root); err != nil {
		return nil, err
	}

	paths, err := pattern.Disallowed(s.Root, allow, s.Recursive)
	if err != nil {
		return nil, errors.Wrap(err)
	}

	planned := planMoves(paths, func(string) compost.Tier { return compost.TierTrash })
	dest := env.Store.BucketDir(compost.TierTrash, env.ScopeKey(s.Root))

	out, err := env.relocate(ctx, "clean", s, dest, planned, input.DryRun)
	return out, errors.Wrap(err)
}
