package lock

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/wapanel/wapanel/internal/config"
)

// panelDir builds the data directory the way the daemon does on first
// run, so the guard is exercised against the real layout.
func panelDir(t *testing.T) string {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = filepath.Join(t.TempDir(), "wapanel")
	if err := cfg.EnsureDirs(); err != nil {
		t.Fatal(err)
	}
	return cfg.DataDir
}

func TestAcquireWritesOwnerMarker(t *testing.T) {
	dir := panelDir(t)

	l, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer func() { _ = l.Release() }()

	data, err := os.ReadFile(filepath.Join(dir, "panel.lock"))
	if err != nil {
		t.Fatalf("read marker: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "pid="+strconv.Itoa(os.Getpid())) {
		t.Errorf("marker missing our pid: %q", content)
	}
	if !strings.Contains(content, "started=") {
		t.Errorf("marker missing start time: %q", content)
	}
}

func TestSecondAcquireReportsOwner(t *testing.T) {
	dir := panelDir(t)

	l1, err := Acquire(dir)
	if err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}
	defer func() { _ = l1.Release() }()

	_, err = Acquire(dir)
	if err == nil {
		t.Fatal("second Acquire() should fail")
	}
	var held *LockHeldError
	if !errors.As(err, &held) {
		t.Fatalf("error = %T (%v), want *LockHeldError", err, err)
	}
	if held.PID != os.Getpid() {
		t.Errorf("held PID = %d, want %d", held.PID, os.Getpid())
	}
	if held.Since.IsZero() || time.Since(held.Since) > time.Minute {
		t.Errorf("held Since = %v", held.Since)
	}
	if held.Path != filepath.Join(dir, "panel.lock") {
		t.Errorf("held Path = %q", held.Path)
	}
	if !strings.Contains(held.Error(), "data directory in use") {
		t.Errorf("Error() = %q", held.Error())
	}
}

func TestReleaseFreesDirectory(t *testing.T) {
	dir := panelDir(t)

	l1, err := Acquire(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := l1.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "panel.lock")); !os.IsNotExist(err) {
		t.Errorf("marker still present after release: %v", err)
	}

	l2, err := Acquire(dir)
	if err != nil {
		t.Fatalf("reacquire after release: %v", err)
	}
	_ = l2.Release()
}

func TestReleaseNilAndTwice(t *testing.T) {
	var nilLock *Lock
	if err := nilLock.Release(); err != nil {
		t.Errorf("nil Release() error = %v", err)
	}

	l, err := Acquire(panelDir(t))
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Release(); err != nil {
		t.Errorf("first Release() error = %v", err)
	}
	if err := l.Release(); err != nil {
		t.Errorf("second Release() error = %v", err)
	}
}

