package supervisor

import (
	"fmt"
	"os"
	"syscall"
)

// InstanceLock guards against two daemon instances managing the same
// configuration root concurrently, via an advisory exclusive flock on a
// lock file.
type InstanceLock struct {
	file *os.File
}

// AcquireInstanceLock opens (creating if needed) the lock file at path and
// takes a non-blocking exclusive flock on it. It returns an error if
// another process already holds the lock.
func AcquireInstanceLock(path string) (*InstanceLock, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		return nil, fmt.Errorf("another instance already holds the lock at %s: %w", path, err)
	}

	return &InstanceLock{file: file}, nil
}

// Release drops the flock and closes the lock file.
func (l *InstanceLock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		l.file.Close()
		return fmt.Errorf("unlock: %w", err)
	}
	return l.file.Close()
}
