package lockfile

import (
	"os"
	"testing"

	"github.com/hpungsan/compost/internal/errors"
)

func TestAcquire_ExclusiveWithinScope(t *testing.T) {
	dir := t.TempDir()

	first, err := Acquire(dir, "docs", "tidy")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	if _, err := Acquire(dir, "docs", "clean"); !errors.Is(err, errors.ErrBusy) {
		t.Fatalf("second Acquire() error = %v, want BUSY", err)
	}

	// Different scopes do not contend.
	other, err := Acquire(dir, "src", "clean")
	if err != nil {
		t.Fatalf("Acquire(src) error = %v", err)
	}
	defer other.Release()

	if err := first.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	again, err := Acquire(dir, "docs", "clean")
	if err != nil {
		t.Fatalf("Acquire() after release error = %v", err)
	}
	defer again.Release()

	info, err := ReadLockInfo(dir, "docs")
	if err != nil {
		t.Fatalf("ReadLockInfo() error = %v", err)
	}
	if info.PID != os.Getpid() || info.Op != "clean" || info.ScopeKey != "docs" {
		t.Errorf("ReadLockInfo() = %+v", info)
	}
}

func TestRelease_Idempotent(t *testing.T) {
	l, err := Acquire(t.TempDir(), "@root", "compost")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if err := l.Release(); err != nil {
		t.Errorf("second Release() error = %v", err)
	}

	var nilLock *Lock
	if err := nilLock.Release(); err != nil {
		t.Errorf("nil Release() error = %v", err)
	}
}
