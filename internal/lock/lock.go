// Package lock keeps two execution servers from serving the same port out of
// one data directory.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ErrLocked is returned when another process holds the lock.
var ErrLocked = errors.New("lock held by another process")

// FileLock is an exclusive flock on a file holding the owner's pid.
type FileLock struct {
	path string
	file *os.File
}

func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

// ServerLock returns the lock guarding the server on port under dataDir.
func ServerLock(dataDir string, port int) *FileLock {
	return NewFileLock(filepath.Join(dataDir, fmt.Sprintf("server-%d.lock", port)))
}

func (fl *FileLock) Path() string { return fl.path }

func (fl *FileLock) TryLock() error {
	if err := os.MkdirAll(filepath.Dir(fl.path), 0o755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}
	f, err := os.OpenFile(fl.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			if pid, perr := Holder(fl.path); perr == nil {
				return fmt.Errorf("%w: server already running as pid %d", ErrLocked, pid)
			}
			return fmt.Errorf("%w: %s", ErrLocked, fl.path)
		}
		return fmt.Errorf("acquire lock: %w", err)
	}

	fail := func(step string, err error) error {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
		return fmt.Errorf("%s lock file: %w", step, err)
	}
	if err := f.Truncate(0); err != nil {
		return fail("truncate", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return fail("seek", err)
	}
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		return fail("write pid to", err)
	}
	if err := f.Sync(); err != nil {
		return fail("sync", err)
	}

	fl.file = f
	return nil
}

func (fl *FileLock) Unlock() error {
	if fl.file == nil {
		return nil
	}

	if err := syscall.Flock(int(fl.file.Fd()), syscall.LOCK_UN); err != nil {
		fl.file.Close()
		return fmt.Errorf("release lock: %w", err)
	}

	if err := fl.file.Close(); err != nil {
		return fmt.Errorf("close lock file: %w", err)
	}

	os.Remove(fl.path)
	fl.file = nil
	return nil
}

// Holder reads the pid recorded in a lock file.
func Holder(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse pid in %s: %w", path, err)
	}
	return pid, nil
}
