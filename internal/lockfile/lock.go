// Package lockfile provides per-scope advisory locks so two maintenance
// operations never run capacity checks and moves for the same scope at once.
package lockfile

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hpungsan/compost/internal/errors"
)

// ErrLockBusy is returned by the platform lock calls when another holder exists.
var ErrLockBusy = stderrors.New("lock already held by another process")

// LockInfo is written into a held lock file for diagnostics.
type LockInfo struct {
	PID       int       `json:"pid"`
	ScopeKey  string    `json:"scope_key"`
	Op        string    `json:"op,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// Lock is a held scope lock.
type Lock struct {
	f    *os.File
	path string
}

// Acquire takes the exclusive lock <dir>/<key>.lock without waiting.
// A lock held elsewhere yields a BUSY error.
func Acquire(dir, key, op string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	path := filepath.Join(dir, key+".lock")

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := flockExclusiveNonBlock(f); err != nil {
		f.Close()
		if stderrors.Is(err, ErrLockBusy) {
			return nil, errors.NewBusy(key)
		}
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}

	info := LockInfo{PID: os.Getpid(), ScopeKey: key, Op: op, StartedAt: time.Now().UTC()}
	if data, err := json.Marshal(info); err == nil {
		_ = f.Truncate(0)
		_, _ = f.WriteAt(data, 0)
	}

	return &Lock{f: f, path: path}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release unlocks and closes the lock file. The file itself is left in place;
// removing it would race with a process about to lock it.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := flockUnlock(l.f)
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	l.f = nil
	return err
}

// ReadLockInfo reads the diagnostics written by the current or last holder.
func ReadLockInfo(dir, key string) (*LockInfo, error) {
	data, err := os.ReadFile(filepath.Join(dir, key+".lock"))
	if err != nil {
		return nil, err
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parse lock info: %w", err)
	}
	return &info, nil
}
