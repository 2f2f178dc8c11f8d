package config

import (
	"testing"
	"time"

	"github.com/brokemediaio-a11y/OffLink/ble"
)

func TestLoadDefaultsWhenNoFile(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Device.DataDir != dir {
		t.Errorf("data dir = %q", cfg.Device.DataDir)
	}
	if cfg.Scan.NamePrefix != ble.NamePrefix {
		t.Errorf("name prefix = %q", cfg.Scan.NamePrefix)
	}
	if cfg.Scan.RetryUnitMS != int(ble.DefaultScanRetryUnit/time.Millisecond) {
		t.Errorf("retry unit = %d", cfg.Scan.RetryUnitMS)
	}
	if !cfg.Chat.Persist {
		t.Error("persistence should default on")
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("log level = %q", cfg.Logging.Level)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Device.DataDir = dir
	cfg.Device.Name = "OffLink Kitchen"
	cfg.Scan.TimeoutS = 12
	cfg.Scan.NamePrefix = "OffLink-Test"
	cfg.Chat.DirectionalWindowMin = 15
	cfg.Logging.Level = "debug"

	if err := Save(cfg); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Device.Name != "OffLink Kitchen" {
		t.Errorf("device name = %q", got.Device.Name)
	}
	if got.Scan.TimeoutS != 12 {
		t.Errorf("timeout = %d", got.Scan.TimeoutS)
	}
	if got.Scan.NamePrefix != "OffLink-Test" {
		t.Errorf("name prefix = %q", got.Scan.NamePrefix)
	}
	if got.Chat.DirectionalWindowMin != 15 {
		t.Errorf("directional window = %d", got.Chat.DirectionalWindowMin)
	}
	if got.Logging.Level != "debug" {
		t.Errorf("log level = %q", got.Logging.Level)
	}
}

func TestScanConfigFor(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Scan.RetryUnitMS = 50
	cfg.Scan.SweepIntervalMS = 75
	cfg.Scan.NamePrefix = "OffLink-X"

	sc := cfg.ScanConfigFor()
	if sc.RetryUnit != 50*time.Millisecond {
		t.Errorf("retry unit = %v", sc.RetryUnit)
	}
	if sc.SweepInterval != 75*time.Millisecond {
		t.Errorf("sweep interval = %v", sc.SweepInterval)
	}
	if sc.NamePrefix != "OffLink-X" {
		t.Errorf("name prefix = %q", sc.NamePrefix)
	}

	// zero values fall back to engine defaults rather than disabling retries
	cfg = DefaultConfig()
	cfg.Scan.RetryUnitMS = 0
	sc = cfg.ScanConfigFor()
	if sc.RetryUnit != ble.DefaultScanRetryUnit {
		t.Errorf("retry unit = %v with zero config", sc.RetryUnit)
	}
}

func TestScanTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Scan.TimeoutS = 7
	if got := cfg.ScanTimeout(); got != 7*time.Second {
		t.Errorf("timeout = %v", got)
	}
	cfg.Scan.TimeoutS = 0
	if got := cfg.ScanTimeout(); got != 30*time.Second {
		t.Errorf("zero timeout = %v, expected the default deadline", got)
	}
}
