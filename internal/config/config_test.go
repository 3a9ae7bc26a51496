package config

import (
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	SetConfigDir(t.TempDir())
	defer SetConfigDir("")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Watermarks.Low != DefaultWatermarkLow {
		t.Errorf("Watermarks.Low = %d, want %d", cfg.Watermarks.Low, DefaultWatermarkLow)
	}
	if cfg.Watermarks.High != DefaultWatermarkHigh {
		t.Errorf("Watermarks.High = %d, want %d", cfg.Watermarks.High, DefaultWatermarkHigh)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "info")
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	SetConfigDir(dir)
	defer SetConfigDir("")

	cfg := &Config{
		Watermarks: Watermarks{Low: 1 << 20, High: 1 << 22},
		Storage:    Storage{TempDir: "/var/tmp/ufo-test"},
		Logging:    Logging{Level: "debug"},
	}
	if err := Save(cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Watermarks != cfg.Watermarks {
		t.Errorf("Watermarks = %+v, want %+v", got.Watermarks, cfg.Watermarks)
	}
	if got.Storage.TempDir != cfg.Storage.TempDir {
		t.Errorf("Storage.TempDir = %q, want %q", got.Storage.TempDir, cfg.Storage.TempDir)
	}
}

func TestGetSetUnknownKey(t *testing.T) {
	SetConfigDir(t.TempDir())
	defer SetConfigDir("")

	if _, err := Get("bogus.key"); err == nil {
		t.Error("Get(bogus.key) expected error, got nil")
	}
	if err := Set("bogus.key", "x"); err == nil {
		t.Error("Set(bogus.key) expected error, got nil")
	}
}

func TestGetSetWatermark(t *testing.T) {
	SetConfigDir(t.TempDir())
	defer SetConfigDir("")

	if err := Set("watermarks.high", "131072"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, err := Get("watermarks.high")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != "131072" {
		t.Errorf("Get(watermarks.high) = %q, want %q", got, "131072")
	}
}

func TestConfigPath(t *testing.T) {
	SetConfigDir("/tmp/somehome")
	defer SetConfigDir("")

	want := filepath.Join("/tmp/somehome", "config.toml")
	if got := ConfigPath(); got != want {
		t.Errorf("ConfigPath() = %q, want %q", got, want)
	}
}
