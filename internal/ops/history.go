package ops

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/hpungsan/compost/internal/compost"
	"github.com/hpungsan/compost/internal/db"
	"github.com/hpungsan/compost/internal/errors"
)

// HistoryInput contains parameters for the History operation.
type HistoryInput struct {
	// Target narrows history to one scope when Root or Scope is set.
	Target
	Op     string `json:"op,omitempty"`
	Status string `json:"status,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// HistoryItem is a ledger row with its derived status.
type HistoryItem struct {
	db.Move
	Status string `json:"status"`
}

// HistoryOutput contains the result of the History operation.
type HistoryOutput struct {
	Items      []HistoryItem `json:"items"`
	Pagination Pagination    `json:"pagination"`
}

// History lists recorded moves, newest first. Moves whose compost copy has
// been pruned are marked evicted first.
func History(env *Env, input HistoryInput) (*HistoryOutput, error) {
	if env.DB == nil {
		return nil, errors.NewInvalidRequest("move ledger is not available")
	}

	filter := db.ListFilter{
		Op:     input.Op,
		Status: input.Status,
		Limit:  input.Limit,
		Offset: max(input.Offset, 0),
	}
	if input.Target.Root != "" || input.Target.Scope != "" {
		s, err := env.resolveTarget(input.Target)
		if err != nil && !errors.Is(err, errors.ErrNotFound) {
			return nil, err
		}
		filter.ScopeKey = env.ScopeKey(s.Root)
	}

	env.reconcile()

	moves, total, err := db.List(env.DB, filter)
	if err != nil {
		return nil, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = db.DefaultListLimit
	}
	limit = min(limit, db.MaxListLimit)

	items := make([]HistoryItem, 0, len(moves))
	for _, m := range moves {
		items = append(items, HistoryItem{Move: m, Status: m.Status()})
	}

	return &HistoryOutput{
		Items: items,
		Pagination: Pagination{
			Limit:   limit,
			Offset:  filter.Offset,
			HasMore: filter.Offset+len(items) < total,
			Total:   total,
		},
	}, nil
}

// RecoverInput contains parameters for the Recover operation.
type RecoverInput struct {
	ID string `json:"id"`
}

// RecoverOutput contains the result of the Recover operation.
type RecoverOutput struct {
	ID       string `json:"id"`
	Restored string `json:"restored"`
	From     string `json:"from"`
	Message  string `json:"message"`
}

// Recover moves a composted item back to where it came from. The original
// path must be free.
func Recover(ctx context.Context, env *Env, input RecoverInput) (*RecoverOutput, error) {
	if env.DB == nil {
		return nil, errors.NewInvalidRequest("move ledger is not available")
	}
	if input.ID == "" {
		return nil, errors.NewInvalidRequest("id is required")
	}

	m, err := db.GetByID(env.DB, input.ID)
	if err != nil {
		return nil, err
	}
	switch m.Status() {
	case db.StatusRecovered:
		return nil, errors.NewConflict(fmt.Sprintf("move %s was already recovered", m.ID))
	case db.StatusEvicted:
		return nil, errors.NewNotFound("compost item", m.CompostPath)
	}

	release, err := env.lock(m.ScopeKey, "recover")
	if err != nil {
		return nil, err
	}
	defer release()

	if ctx.Err() != nil {
		return nil, errors.NewCancelled("recover")
	}

	if _, err := os.Lstat(m.CompostPath); os.IsNotExist(err) {
		_ = db.MarkEvicted(env.DB, m.ID, env.now().Unix())
		return nil, errors.NewNotFound("compost item", m.CompostPath)
	}
	if _, err := os.Lstat(m.SourcePath); err == nil {
		return nil, errors.NewConflict(fmt.Sprintf("original path is occupied: %s", m.SourcePath))
	}

	if err := compost.MoveTo(m.CompostPath, m.SourcePath); err != nil {
		if os.IsExist(err) {
			return nil, errors.NewConflict(fmt.Sprintf("original path is occupied: %s", m.SourcePath))
		}
		return nil, errors.Wrap(err)
	}
	if err := db.MarkRecovered(env.DB, m.ID, env.now().Unix()); err != nil {
		return nil, err
	}

	env.Logger.Info("recovered",
		zap.String("id", m.ID),
		zap.String("scope_key", m.ScopeKey),
		zap.String("source", m.SourcePath))

	return &RecoverOutput{
		ID:       m.ID,
		Restored: m.SourcePath,
		From:     m.CompostPath,
		Message:  fmt.Sprintf("Recovered %s", m.SourcePath),
	}, nil
}

// reconcile marks ledger rows evicted when their compost copy is gone.
func (e *Env) reconcile() {
	if e.DB == nil {
		return
	}
	moves, err := db.ListInCompost(e.DB)
	if err != nil {
		e.Logger.Warn("ledger reconcile failed", zap.Error(err))
		return
	}
	now := e.now().Unix()
	for _, m := range moves {
		if _, err := os.Lstat(m.CompostPath); os.IsNotExist(err) {
			if err := db.MarkEvicted(e.DB, m.ID, now); err != nil {
				e.Logger.Warn("mark evicted failed", zap.String("id", m.ID), zap.Error(err))
			}
		}
	}
}
