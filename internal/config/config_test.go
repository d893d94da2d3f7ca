package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Default()
	cfg.DataDir = tmpDir
	cfg.Storage = StorageSQLite
	cfg.RetentionDays = 30
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Storage != StorageSQLite {
		t.Errorf("Storage = %q, want %q", loaded.Storage, StorageSQLite)
	}
	if loaded.Retention() != 30*24*time.Hour {
		t.Errorf("Retention() = %v", loaded.Retention())
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestLoadKeepsDefaultsForUnsetFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("retention_days = 7\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.RetentionDays != 7 {
		t.Errorf("RetentionDays = %d, want 7", cfg.RetentionDays)
	}
	if cfg.Storage != StorageLog || cfg.ListenAddr != "127.0.0.1:8420" {
		t.Errorf("defaults not kept: %+v", cfg)
	}
}

func TestValidateRejectsBadStorage(t *testing.T) {
	cfg := Default()
	cfg.Storage = "tape"
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() accepted bad storage mode")
	}
}

func TestSavePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}

func TestDeviceLayout(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/data"

	if got := cfg.DeviceDir("alpha"); got != "/data/devices/alpha" {
		t.Errorf("DeviceDir = %q", got)
	}
	if got := cfg.SessionDBPath("alpha"); got != "/data/devices/alpha/session.db" {
		t.Errorf("SessionDBPath = %q", got)
	}
	if got := cfg.DBPath(); got != "/data/panel.db" {
		t.Errorf("DBPath = %q", got)
	}
}
