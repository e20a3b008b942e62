package supervisor

import (
	"path/filepath"
	"testing"
)

func TestAcquireInstanceLockRejectsSecondHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mangamerged.lock")

	first, err := AcquireInstanceLock(path)
	if err != nil {
		t.Fatalf("AcquireInstanceLock() first error = %v", err)
	}
	defer first.Release()

	if _, err := AcquireInstanceLock(path); err == nil {
		t.Fatal("expected second AcquireInstanceLock() to fail while the first is held")
	}
}

func TestAcquireInstanceLockAllowsReacquireAfterRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mangamerged.lock")

	first, err := AcquireInstanceLock(path)
	if err != nil {
		t.Fatalf("AcquireInstanceLock() first error = %v", err)
	}
	if err := first.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	second, err := AcquireInstanceLock(path)
	if err != nil {
		t.Fatalf("AcquireInstanceLock() after release error = %v", err)
	}
	defer second.Release()
}
