//go:build unix

package upload

import (
	"os"
	"path/filepath"
	"syscall"
)

// scanLock serializes retry scans across agent processes sharing one
// output root, so two agents never retry the same marker concurrently.
type scanLock struct {
	file *os.File
}

func acquireScanLock(root string) (*scanLock, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, err
	}
	lockPath := filepath.Join(root, ".retry-scan.lock")

	// #nosec G304 -- path is derived from trusted config
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX); err != nil {
		_ = file.Close()
		return nil, err
	}
	return &scanLock{file: file}, nil
}

func (l *scanLock) release() error {
	if l.file == nil {
		return nil
	}
	unlockErr := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	closeErr := l.file.Close()
	if unlockErr != nil {
		return unlockErr
	}
	return closeErr
}
