package ops

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/hpungsan/compost/internal/compost"
	"github.com/hpungsan/compost/internal/db"
	"github.com/hpungsan/compost/internal/errors"
	"github.com/hpungsan/compost/internal/scope"
)

// MovedItem is one relocated (or, in a dry run, selected) path.
type MovedItem struct {
	ID     string `json:"id,omitempty"`
	Source string `json:"source"`
	Dest   string `json:"dest,omitempty"`
	Tier   string `json:"tier"`
	Bytes  int64  `json:"bytes"`
}

// FailedItem is a candidate that could not be moved.
type FailedItem struct {
	Source string `json:"source"`
	Error  string `json:"error"`
}

// MoveOutput is the result of Tidy, Clean, and Compost.
type MoveOutput struct {
	Op          string                  `json:"op"`
	Root        string                  `json:"root"`
	ScopeKey    string                  `json:"scope_key"`
	Destination string                  `json:"destination"`
	Moved       int                     `json:"moved"`
	Bytes       int64                   `json:"bytes"`
	Items       []MovedItem             `json:"items"`
	Failed      []FailedItem            `json:"failed,omitempty"`
	Capacity    *compost.CapacityReport `json:"capacity,omitempty"`
	DryRun      bool                    `json:"dry_run"`
	Message     string                  `json:"message"`
}

type plannedMove struct {
	src   string
	tier  compost.Tier
	bytes int64
}

// planMoves dedupes candidates and measures them.
func planMoves(paths []string, tierOf func(string) compost.Tier) []plannedMove {
	paths = compost.DedupeMoveCandidates(paths)
	planned := make([]plannedMove, 0, len(paths))
	for _, p := range paths {
		planned = append(planned, plannedMove{src: p, tier: tierOf(p), bytes: compost.PathSize(p)})
	}
	return planned
}

// checkOutsideCompost rejects roots inside the compost tree.
func (e *Env) checkOutsideCompost(root string) error {
	rel, err := filepath.Rel(e.Store.Root(), root)
	if err != nil {
		return nil
	}
	if rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))) {
		return errors.NewInvalidRequest(fmt.Sprintf("target is inside the compost tree: %s", root))
	}
	return nil
}

// relocate enforces capacity, then moves every planned path into its tier
// bucket under the scope key, keeping root-relative parent directories.
// Per-item failures are reported, not fatal.
func (e *Env) relocate(ctx context.Context, op string, s scope.Scope, destination string, planned []plannedMove, dryRun bool) (*MoveOutput, error) {
	key := e.ScopeKey(s.Root)
	log := e.Logger.With(zap.String("op", op), zap.String("root", s.Root), zap.String("scope_key", key))

	out := &MoveOutput{
		Op:          op,
		Root:        s.Root,
		ScopeKey:    key,
		Destination: destination,
		Items:       []MovedItem{},
		DryRun:      dryRun,
	}

	var incoming int64
	for _, p := range planned {
		incoming += p.bytes
	}

	if dryRun {
		for _, p := range planned {
			out.Items = append(out.Items, MovedItem{Source: p.src, Tier: string(p.tier), Bytes: p.bytes})
		}
		out.Moved = len(planned)
		out.Bytes = incoming
		out.Message = fmt.Sprintf("Would move %s (%d bytes)", plural(out.Moved, "item"), incoming)
		return out, nil
	}

	release, err := e.lock(key, op)
	if err != nil {
		return nil, err
	}
	defer release()

	log.Info("start", zap.Int("candidates", len(planned)), zap.Int64("incoming_bytes", incoming))

	if len(planned) > 0 {
		out.Capacity = e.governor().EnsureCapacity(incoming)
	}

	for _, p := range planned {
		if ctx.Err() != nil {
			log.Warn("cancelled", zap.Int("moved", out.Moved))
			return nil, errors.NewCancelled(op)
		}

		relParent, err := filepath.Rel(s.Root, filepath.Dir(p.src))
		if err != nil || relParent == ".." || strings.HasPrefix(relParent, ".."+string(filepath.Separator)) {
			relParent = "."
		}
		destDir := filepath.Join(e.Store.BucketDir(p.tier, key), relParent)

		dest, err := e.Store.SafeMove(p.src, destDir)
		if err != nil {
			log.Warn("move failed", zap.String("source", p.src), zap.Error(err))
			out.Failed = append(out.Failed, FailedItem{Source: p.src, Error: err.Error()})
			continue
		}

		item := MovedItem{Source: p.src, Dest: dest, Tier: string(p.tier), Bytes: p.bytes}
		item.ID = e.record(op, key, item)
		out.Items = append(out.Items, item)
		out.Moved++
		out.Bytes += p.bytes
	}

	var shortfall int64
	if out.Capacity != nil {
		shortfall = out.Capacity.Shortfall()
	}
	log.Info("done",
		zap.Int("moved", out.Moved),
		zap.Int("failed", len(out.Failed)),
		zap.Int64("bytes", out.Bytes),
		zap.Int64("shortfall_bytes", shortfall))

	out.Message = fmt.Sprintf("Moved %s (%d bytes) into %s", plural(out.Moved, "item"), out.Bytes, destination)
	if len(out.Failed) > 0 {
		out.Message += fmt.Sprintf("; %d failed", len(out.Failed))
	}
	return out, nil
}

// record writes a ledger row and returns its ID, or "" when the ledger is
// disabled or the write failed.
func (e *Env) record(op, key string, item MovedItem) string {
	if e.DB == nil {
		return ""
	}
	m := &db.Move{
		ID:          db.NewID(e.now()),
		Op:          op,
		Tier:        item.Tier,
		ScopeKey:    key,
		SourcePath:  item.Source,
		CompostPath: item.Dest,
		Bytes:       item.Bytes,
		MovedAt:     e.now().Unix(),
	}
	if err := db.Insert(e.DB, m); err != nil {
		e.Logger.Warn("ledger insert failed", zap.String("source", item.Source), zap.Error(err))
		return ""
	}
	return m.ID
}
