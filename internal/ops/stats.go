package ops

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/hpungsan/compost/internal/compost"
	"github.com/hpungsan/compost/internal/errors"
)

// StatsOutput is the compost summary plus the capacity picture.
type StatsOutput struct {
	compost.Stats
	ReserveBytes    int64 `json:"reserve_bytes"`
	MaxCompostBytes int64 `json:"max_compost_bytes,omitempty"`
	FreeBytes       int64 `json:"free_bytes"`
}

// Stats reports the compost tree's entries, size, and latest change.
func Stats(env *Env) (*StatsOutput, error) {
	st, err := env.Store.Stats()
	if err != nil {
		return nil, errors.Wrap(err)
	}

	probe := env.FreeSpace
	if probe == nil {
		probe = compost.FreeSpace
	}
	free, err := probe(env.Config.WorkspaceRoot)
	if err != nil {
		env.Logger.Warn("free space probe failed", zap.Error(err))
		free = -1
	}

	return &StatsOutput{
		Stats:           *st,
		ReserveBytes:    env.Config.ReserveBytes,
		MaxCompostBytes: env.Config.MaxCompostBytes,
		FreeBytes:       free,
	}, nil
}

// CleanupInput contains parameters for the Cleanup operation.
type CleanupInput struct {
	Days *int `json:"days"`
	// DryRun defaults to true.
	DryRun *bool `json:"dry_run,omitempty"`
}

// CleanupOutput contains the result of the Cleanup operation.
type CleanupOutput struct {
	compost.CleanupResult
	Message string `json:"message"`
}

// Cleanup deletes whole day buckets older than Days. It is a dry run unless
// DryRun is explicitly false.
func Cleanup(env *Env, input CleanupInput) (*CleanupOutput, error) {
	if input.Days == nil {
		return nil, errors.NewInvalidRequest("days is required")
	}
	if *input.Days < 0 {
		return nil, errors.NewInvalidRequest("days must be non-negative")
	}
	dryRun := input.DryRun == nil || *input.DryRun

	var res *compost.CleanupResult
	err := func() error {
		if dryRun {
			var err error
			res, err = env.Store.Cleanup(*input.Days, true)
			return err
		}
		release, err := env.lock(compostLockKey, "cleanup")
		if err != nil {
			return err
		}
		defer release()
		res, err = env.Store.Cleanup(*input.Days, false)
		return err
	}()
	if err != nil {
		return nil, errors.Wrap(err)
	}

	if !dryRun && res.DeletedEntries > 0 {
		env.Logger.Info("cleanup",
			zap.Int("days", res.Days),
			zap.Int("deleted_entries", res.DeletedEntries),
			zap.Int64("deleted_bytes", res.DeletedBytes))
		env.reconcile()
	}

	return &CleanupOutput{CleanupResult: *res, Message: formatCleanupMessage(res)}, nil
}

// compostLockKey guards whole-tree operations.
const compostLockKey = "@compost"

func formatCleanupMessage(res *compost.CleanupResult) string {
	if res.DeletedEntries == 0 {
		return fmt.Sprintf("No compost buckets older than %d days", res.Days)
	}
	verb := "Deleted"
	if res.DryRun {
		verb = "Would delete"
	}
	return fmt.Sprintf("%s %s (%d bytes) older than %d days", verb, plural(res.DeletedEntries, "bucket"), res.DeletedBytes, res.Days)
}
