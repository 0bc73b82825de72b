package ops

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/hpungsan/compost/internal/archive"
	"github.com/hpungsan/compost/internal/compost"
	"github.com/hpungsan/compost/internal/errors"
)

// BackupInput contains parameters for the Backup operation.
type BackupInput struct {
	Target
	Label    string   `json:"label,omitempty"`
	Excludes []string `json:"excludes,omitempty"`

	OnProgress archive.ProgressFunc `json:"-"`
}

// BackupOutput contains the result of the Backup operation.
type BackupOutput struct {
	Root     string                  `json:"root"`
	ScopeKey string                  `json:"scope_key"`
	Archive  string                  `json:"archive"`
	Manifest string                  `json:"manifest"`
	Files    int                     `json:"files"`
	Bytes    int64                   `json:"bytes"`
	Size     int64                   `json:"archive_bytes"`
	Capacity *compost.CapacityReport `json:"capacity,omitempty"`
	Message  string                  `json:"message"`
}

// Backup snapshots the target into today's backups tier. Capacity is
// enforced for the uncompressed size before the archive is written.
func Backup(ctx context.Context, env *Env, input BackupInput) (*BackupOutput, error) {
	s, err := env.resolveTarget(input.Target)
	if err != nil {
		return nil, err
	}
	key := env.ScopeKey(s.Root)
	log := env.Logger.With(zap.String("op", "backup"), zap.String("root", s.Root), zap.String("scope_key", key))

	excludes := append(append([]string{}, env.Config.BackupExcludes...), input.Excludes...)
	plan, err := archive.NewPlan(ctx, s.Root, excludes)
	if err != nil {
		return nil, errors.Wrap(err)
	}

	release, err := env.lock(key, "backup")
	if err != nil {
		return nil, err
	}
	defer release()

	log.Info("start", zap.Int("files", plan.Files), zap.Int64("incoming_bytes", plan.Bytes))
	report := env.governor().EnsureCapacity(plan.Bytes)

	dest := env.Store.BucketDir(compost.TierBackups, key)
	res, err := plan.Write(ctx, dest, input.Label, env.now(), input.OnProgress)
	if err != nil {
		log.Warn("failed", zap.Error(err))
		return nil, errors.Wrap(err)
	}
	log.Info("done", zap.String("archive", res.Archive), zap.Int64("archive_bytes", res.Size))

	return &BackupOutput{
		Root:     s.Root,
		ScopeKey: key,
		Archive:  res.Archive,
		Manifest: res.Manifest,
		Files:    res.Files,
		Bytes:    res.Bytes,
		Size:     res.Size,
		Capacity: report,
		Message:  fmt.Sprintf("Backed up %s from %s", plural(res.Files, "file"), s.Root),
	}, nil
}

// RestoreInput contains parameters for the Restore operation.
type RestoreInput struct {
	Target
	// Archive is the .tar.gz to restore. Empty means the newest backup of the target.
	Archive string `json:"archive,omitempty"`
	Force   bool   `json:"force,omitempty"`

	OnProgress archive.ProgressFunc `json:"-"`
}

// RestoreOutput contains the result of the Restore operation.
type RestoreOutput struct {
	Archive  string `json:"archive"`
	Target   string `json:"target"`
	Restored int    `json:"restored"`
	Skipped  int    `json:"skipped,omitempty"`
	Message  string `json:"message"`
}

// Restore extracts a backup. Without an explicit target, an archive restores
// into the root recorded in its manifest. Without Force nothing is written if
// any file would be overwritten.
func Restore(ctx context.Context, env *Env, input RestoreInput) (*RestoreOutput, error) {
	archivePath := input.Archive
	targetRoot := ""

	explicitTarget := input.Target.Root != "" || input.Target.Scope != ""
	if explicitTarget || archivePath == "" {
		s, err := env.resolveTarget(input.Target)
		// A missing target is fine: restore recreates it.
		if err != nil && !errors.Is(err, errors.ErrNotFound) {
			return nil, err
		}
		targetRoot = s.Root
	}

	if archivePath == "" {
		archives, err := archive.ListBackups(env.Store, env.ScopeKey(targetRoot))
		if err != nil {
			return nil, errors.Wrap(err)
		}
		if len(archives) == 0 {
			return nil, errors.NewNotFound("backup", targetRoot)
		}
		archivePath = archives[0]
	}

	if _, err := os.Stat(archivePath); err != nil {
		return nil, errors.NewArchiveNotFound(archivePath)
	}

	if targetRoot == "" {
		m, err := archive.ReadManifest(archivePath)
		if err != nil {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("no restore target given and manifest unreadable: %v", err))
		}
		targetRoot = m.TargetRoot
	}

	key := env.ScopeKey(targetRoot)
	log := env.Logger.With(zap.String("op", "restore"), zap.String("root", targetRoot), zap.String("scope_key", key))

	release, err := env.lock(key, "restore")
	if err != nil {
		return nil, err
	}
	defer release()

	log.Info("start", zap.String("archive", archivePath), zap.Bool("force", input.Force))
	res, err := archive.RestoreBackup(ctx, archivePath, targetRoot, input.Force, input.OnProgress)
	if err != nil {
		log.Warn("failed", zap.Error(err))
		return nil, errors.Wrap(err)
	}
	log.Info("done", zap.Int("restored", res.Restored))

	return &RestoreOutput{
		Archive:  res.Archive,
		Target:   res.Target,
		Restored: res.Restored,
		Skipped:  res.Skipped,
		Message:  res.Message,
	}, nil
}

// ListBackupsInput contains parameters for the ListBackups operation.
type ListBackupsInput struct {
	Target
}

// BackupEntry is one archive with its manifest, when readable.
type BackupEntry struct {
	Archive  string            `json:"archive"`
	Bytes    int64             `json:"archive_bytes"`
	Manifest *archive.Manifest `json:"manifest,omitempty"`
}

// ListBackupsOutput contains the result of the ListBackups operation.
type ListBackupsOutput struct {
	Root     string        `json:"root"`
	ScopeKey string        `json:"scope_key"`
	Items    []BackupEntry `json:"items"`
}

// ListBackups lists every backup of the target across all days, newest first.
// The target need not exist any more.
func ListBackups(env *Env, input ListBackupsInput) (*ListBackupsOutput, error) {
	s, err := env.resolveTarget(input.Target)
	if err != nil && !errors.Is(err, errors.ErrNotFound) {
		return nil, err
	}
	key := env.ScopeKey(s.Root)

	archives, err := archive.ListBackups(env.Store, key)
	if err != nil {
		return nil, errors.Wrap(err)
	}

	out := &ListBackupsOutput{Root: s.Root, ScopeKey: key, Items: []BackupEntry{}}
	for _, a := range archives {
		entry := BackupEntry{Archive: a}
		if info, err := os.Stat(a); err == nil {
			entry.Bytes = info.Size()
		}
		if m, err := archive.ReadManifest(a); err == nil {
			entry.Manifest = m
		}
		out.Items = append(out.Items, entry)
	}
	return out, nil
}
