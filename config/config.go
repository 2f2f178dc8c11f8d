// Package config loads and persists device configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/brokemediaio-a11y/OffLink/ble"
	"github.com/brokemediaio-a11y/OffLink/util"
)

// Config holds all device configuration.
type Config struct {
	Device  DeviceConfig  `toml:"device"`
	Scan    ScanConfig    `toml:"scan"`
	Serve   ServeConfig   `toml:"serve"`
	Chat    ChatConfig    `toml:"chat"`
	Logging LoggingConfig `toml:"logging"`
}

// DeviceConfig identifies this device on the air.
type DeviceConfig struct {
	Name    string `toml:"name"`
	DataDir string `toml:"data_dir"`
}

// ScanConfig controls the discovery engine.
type ScanConfig struct {
	RetryUnitMS     int    `toml:"retry_unit_ms"`
	SweepIntervalMS int    `toml:"sweep_interval_ms"`
	TimeoutS        int    `toml:"timeout_s"`
	NamePrefix      string `toml:"name_prefix"`
}

// ServeConfig controls the peripheral role.
type ServeConfig struct {
	AdvertiseUnitMS int `toml:"advertise_unit_ms"`
	SettleDelayMS   int `toml:"settle_delay_ms"`
	ResumeDelayMS   int `toml:"resume_delay_ms"`
}

// ChatConfig controls reconciliation windows.
type ChatConfig struct {
	DirectionalWindowMin int  `toml:"directional_window_min"`
	RecencyWindowMin     int  `toml:"recency_window_min"`
	Persist              bool `toml:"persist"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level string `toml:"level"`
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Device: DeviceConfig{
			Name:    ble.NamePrefix,
			DataDir: util.GetDataDir(),
		},
		Scan: ScanConfig{
			RetryUnitMS:     int(ble.DefaultScanRetryUnit / time.Millisecond),
			SweepIntervalMS: int(ble.DefaultSweepInterval / time.Millisecond),
			TimeoutS:        30,
			NamePrefix:      ble.NamePrefix,
		},
		Serve: ServeConfig{
			AdvertiseUnitMS: int(ble.DefaultAdvertiseUnit / time.Millisecond),
			SettleDelayMS:   int(ble.DefaultSettleDelay / time.Millisecond),
			ResumeDelayMS:   int(ble.DefaultResumeDelay / time.Millisecond),
		},
		Chat: ChatConfig{
			DirectionalWindowMin: 30,
			RecencyWindowMin:     60,
			Persist:              true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads config from <dataDir>/config.toml, falling back to defaults.
func Load(dataDir string) (Config, error) {
	cfg := DefaultConfig()
	if dataDir != "" {
		cfg.Device.DataDir = dataDir
	}
	path := filepath.Join(cfg.Device.DataDir, "config.toml")

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil // No config file yet, use defaults
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Save writes the config to <dataDir>/config.toml.
func Save(cfg Config) error {
	path := filepath.Join(cfg.Device.DataDir, "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(cfg)
}

// ScanConfigFor converts the persisted scan settings into engine options.
func (c Config) ScanConfigFor() ble.ScanConfig {
	sc := ble.DefaultScanConfig()
	if c.Scan.RetryUnitMS > 0 {
		sc.RetryUnit = time.Duration(c.Scan.RetryUnitMS) * time.Millisecond
	}
	if c.Scan.SweepIntervalMS > 0 {
		sc.SweepInterval = time.Duration(c.Scan.SweepIntervalMS) * time.Millisecond
	}
	if c.Scan.NamePrefix != "" {
		sc.NamePrefix = c.Scan.NamePrefix
	}
	return sc
}

// ScanTimeout returns the configured hard scan deadline.
func (c Config) ScanTimeout() time.Duration {
	if c.Scan.TimeoutS <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Scan.TimeoutS) * time.Second
}
