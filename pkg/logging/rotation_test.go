package logging

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRotatorForceRotateCreatesBackup(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "mangamerged.log")

	r, err := NewRotator(&RotationConfig{Filename: logPath, MaxBackups: 2})
	if err != nil {
		t.Fatalf("NewRotator() error = %v", err)
	}
	defer func() { _ = r.Close() }()

	if _, err := r.Write([]byte("first entry\n")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	if err := r.ForceRotate(); err != nil {
		t.Fatalf("ForceRotate() error = %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) < 2 {
		t.Errorf("expected an active log file plus at least one backup, got %d entries", len(entries))
	}
}

func TestRotatorDoesNotRotateBelowSizeThreshold(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "mangamerged.log")

	r, err := NewRotator(&RotationConfig{Filename: logPath, MaxSize: 1}) // 1 MB threshold
	if err != nil {
		t.Fatalf("NewRotator() error = %v", err)
	}
	defer func() { _ = r.Close() }()

	small := []byte("x")
	if _, err := r.Write(small); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	info, err := os.Stat(logPath)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info.Size() == 0 {
		t.Error("expected bytes written to the active log file")
	}

	backups, err := r.backupFiles()
	if err != nil {
		t.Fatalf("backupFiles() error = %v", err)
	}
	if len(backups) != 0 {
		t.Errorf("expected no backup below the size threshold, got %d", len(backups))
	}
}

func TestRotatorMaxBackupsPrunesOldest(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "mangamerged.log")

	r, err := NewRotator(&RotationConfig{Filename: logPath, MaxBackups: 1})
	if err != nil {
		t.Fatalf("NewRotator() error = %v", err)
	}
	defer func() { _ = r.Close() }()

	for i := 0; i < 3; i++ {
		if _, err := r.Write([]byte("entry\n")); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
		if err := r.ForceRotate(); err != nil {
			t.Fatalf("ForceRotate() error = %v", err)
		}
	}

	backups, err := r.backupFiles()
	if err != nil {
		t.Fatalf("backupFiles() error = %v", err)
	}
	if len(backups) > 1 {
		t.Errorf("expected at most 1 retained backup, got %d", len(backups))
	}
}
