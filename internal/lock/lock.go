// Package lock guards a panel data directory against a second daemon
// instance. The guard is a flock on a marker file inside the directory,
// so it disappears with the process and never goes stale.
package lock

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const lockFile = "panel.lock"

// LockHeldError reports the daemon already using the data directory, as
// far as its marker file tells.
type LockHeldError struct {
	PID   int
	Since time.Time
	Path  string
}

func (e *LockHeldError) Error() string {
	if e.Since.IsZero() {
		return fmt.Sprintf("data directory in use by PID %d (%s)", e.PID, e.Path)
	}
	return fmt.Sprintf("data directory in use by PID %d since %s (%s)",
		e.PID, e.Since.Format(time.RFC3339), e.Path)
}

// Lock is an acquired data directory guard.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes the exclusive guard on dataDir, creating the directory
// when missing. A LockHeldError carries the owner diagnostics read from
// the marker file.
func Acquire(dataDir string) (*Lock, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(dataDir, lockFile)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		held := readOwner(path)
		_ = f.Close()
		return nil, held
	}
	if err := writeOwner(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write lock owner: %w", err)
	}
	return &Lock{file: f, path: path}, nil
}

// Release drops the guard and removes the marker file. Safe on a nil
// receiver and idempotent.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}

func writeOwner(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	_, err := fmt.Fprintf(f, "pid=%d\nstarted=%s\n",
		os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	return err
}

func readOwner(path string) *LockHeldError {
	e := &LockHeldError{Path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		return e
	}
	for _, line := range strings.Split(string(data), "\n") {
		if v, ok := strings.CutPrefix(line, "pid="); ok {
			e.PID, _ = strconv.Atoi(v)
		}
		if v, ok := strings.CutPrefix(line, "started="); ok {
			e.Since, _ = time.Parse(time.RFC3339, v)
		}
	}
	return e
}
