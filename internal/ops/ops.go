// Package ops implements compost's maintenance operations. Each operation
// takes an Env plus an Input struct and returns an Output struct that the CLI
// and MCP adapters render as JSON.
package ops

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/compost/internal/compost"
	"github.com/hpungsan/compost/internal/config"
	"github.com/hpungsan/compost/internal/errors"
	"github.com/hpungsan/compost/internal/lockfile"
	"github.com/hpungsan/compost/internal/logging"
	"github.com/hpungsan/compost/internal/scope"
)

// Pagination contains pagination metadata for list operations.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
	Total   int  `json:"total"`
}

// Env carries what every operation needs. Config must already be resolved.
type Env struct {
	Config *config.Config
	// DB is the move ledger. Nil disables recording, history, and recover.
	DB     *sql.DB
	Logger *zap.Logger
	// HomeDir holds the ledger and the locks directory.
	HomeDir string
	Cwd     string
	Store   *compost.Store
	// FreeSpace overrides the volume probe used by capacity enforcement.
	FreeSpace compost.FreeSpaceFunc
}

// NewEnv builds an Env for cfg, which must already be resolved against cwd.
func NewEnv(cfg *config.Config, database *sql.DB, logger *zap.Logger, homeDir, cwd string, opts ...compost.Option) *Env {
	return &Env{
		Config:  cfg,
		DB:      database,
		Logger:  logging.OrNop(logger),
		HomeDir: homeDir,
		Cwd:     cwd,
		Store:   compost.New(cfg.WorkspaceRoot, opts...),
	}
}

// Target names the root an operation acts on: an explicit Root, or a scope
// token resolved through the ScopeResolver.
type Target struct {
	Scope     string `json:"scope,omitempty"`
	Root      string `json:"root,omitempty"`
	Recursive *bool  `json:"recursive,omitempty"`
}

// ResolveScope maps a scope token to a root. Unknown tokens fall back to the
// memory root and are logged.
func (e *Env) ResolveScope(token string) scope.Scope {
	r := scope.Resolver{Workspace: e.Config.WorkspaceRoot, Memory: e.Config.MemoryRoot, Cwd: e.Cwd}
	s := r.Resolve(token)
	if !scope.IsKnownToken(token) {
		e.Logger.Warn("unknown scope token, using memory root",
			zap.String("scope", token), zap.String("root", s.Root))
	}
	return s
}

// ScopeKey derives the compost partition key for root.
func (e *Env) ScopeKey(root string) string {
	return scope.Key(e.Config.WorkspaceRoot, root)
}

// resolveTarget turns a Target into an existing directory.
func (e *Env) resolveTarget(t Target) (scope.Scope, error) {
	var s scope.Scope
	if t.Root != "" {
		root := t.Root
		if !filepath.IsAbs(root) {
			root = filepath.Join(e.Cwd, root)
		}
		s = scope.Scope{Root: filepath.Clean(root)}
	} else {
		s = e.ResolveScope(t.Scope)
	}
	if t.Recursive != nil {
		s.Recursive = *t.Recursive
	}

	info, err := os.Stat(s.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return s, errors.NewNotFound("directory", s.Root)
		}
		return s, errors.NewInternal(err)
	}
	if !info.IsDir() {
		return s, errors.NewInvalidRequest(fmt.Sprintf("not a directory: %s", s.Root))
	}
	return s, nil
}

// governor builds a capacity governor from the current policy.
func (e *Env) governor() *compost.Governor {
	opts := []compost.GovernorOption{compost.WithLogger(e.Logger)}
	if e.FreeSpace != nil {
		opts = append(opts, compost.WithFreeSpace(e.FreeSpace))
	}
	policy := compost.Policy{
		ReserveBytes:    e.Config.ReserveBytes,
		MaxCompostBytes: e.Config.MaxCompostBytes,
	}
	return compost.NewGovernor(e.Store, e.Config.WorkspaceRoot, policy, opts...)
}

// lock takes the scope lock unless locking is disabled. The returned release
// func is always safe to call.
func (e *Env) lock(scopeKey, op string) (func(), error) {
	if e.Config.DisableLock {
		return func() {}, nil
	}
	l, err := lockfile.Acquire(filepath.Join(e.HomeDir, "locks"), scopeKey, op)
	if err != nil {
		return nil, err
	}
	return func() {
		if err := l.Release(); err != nil {
			e.Logger.Warn("release scope lock", zap.String("scope_key", scopeKey), zap.Error(err))
		}
	}, nil
}

func (e *Env) now() time.Time {
	return e.Store.Now()
}

func boolPtr(b bool) *bool {
	return &b
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}
