//go:build windows

package upload

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/windows"
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

	handle := windows.Handle(file.Fd())
	overlapped := &windows.Overlapped{}
	if err := windows.LockFileEx(handle, windows.LOCKFILE_EXCLUSIVE_LOCK, 0, 1, 0, overlapped); err != nil {
		_ = file.Close()
		return nil, err
	}
	return &scanLock{file: file}, nil
}

func (l *scanLock) release() error {
	if l.file == nil {
		return nil
	}
	handle := windows.Handle(l.file.Fd())
	overlapped := &windows.Overlapped{}
	unlockErr := windows.UnlockFileEx(handle, 0, 1, 0, overlapped)
	closeErr := l.file.Close()
	if unlockErr != nil {
		return unlockErr
	}
	return closeErr
}
