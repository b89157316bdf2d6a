// Package config loads rowmigrate.toml — the layered configuration for a
// migration run — and resolves the per-environment source/target
// connection strings. Discovery walks up from the current directory to a
// project root, the same rule the teacher used for its own config file.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/lockplane/rowmigrate/internal/fkresolver"
	"github.com/lockplane/rowmigrate/internal/monitor"
	"github.com/lockplane/rowmigrate/internal/phaseengine"
	"github.com/lockplane/rowmigrate/internal/rollback"
)

const configFileName = "rowmigrate.toml"

// AutoRollbackThresholds mirrors the TOML shape of §6's auto_rollback_thresholds.
type AutoRollbackThresholds struct {
	ErrorRate          float64 `toml:"error_rate"`
	ResponseTimeMs     int     `toml:"response_time_ms"`
	ConsistencyPercent float64 `toml:"consistency_percent"`
}

// FileConfig is the on-disk shape of rowmigrate.toml — one-to-one with
// every configuration key §6 enumerates.
type FileConfig struct {
	Strategy                   string                 `toml:"strategy"`
	TrafficSwitching           string                 `toml:"traffic_switching"`
	ProgressiveSteps           []int                  `toml:"progressive_steps"`
	DowntimeWindowMs           int                    `toml:"downtime_window_ms"`
	AutoRollbackThresholds     AutoRollbackThresholds `toml:"auto_rollback_thresholds"`
	OrphanPolicy               string                 `toml:"orphan_policy"`
	EnableIncrementalSync      bool                   `toml:"enable_incremental_sync"`
	SyncIntervalMs             int                    `toml:"sync_interval_ms"`
	StepObservationMs          int                    `toml:"step_observation_ms"`
	RecoveryWindowMs           int                    `toml:"recovery_window_ms"`
	RollbackMode               string                 `toml:"rollback_mode"`
	CreateBackupBeforeRollback bool                   `toml:"create_backup_before_rollback"`
	ConfirmRollback            bool                   `toml:"confirm_rollback"`
	WorkingDir                 string                 `toml:"working_dir"`

	// ConfigFilePath is the resolved location this config was loaded
	// from; not part of the TOML document itself.
	ConfigFilePath string `toml:"-"`
}

// Defaults returns the built-in fallback values used when rowmigrate.toml
// is absent and no flag overrides a key — the bottom layer of the
// TOML-file -> .env.<environment> -> defaults stack.
func Defaults() FileConfig {
	return FileConfig{
		Strategy:         "blue-green",
		TrafficSwitching: "progressive",
		ProgressiveSteps: []int{10, 25, 50, 75, 100},
		DowntimeWindowMs: 0,
		AutoRollbackThresholds: AutoRollbackThresholds{
			ErrorRate:          5,
			ResponseTimeMs:     5000,
			ConsistencyPercent: 95,
		},
		OrphanPolicy:               "warn",
		EnableIncrementalSync:      false,
		SyncIntervalMs:             30000,
		StepObservationMs:          15000,
		RecoveryWindowMs:           60000,
		RollbackMode:               "full",
		CreateBackupBeforeRollback: true,
		ConfirmRollback:            false,
		WorkingDir:                 ".rowmigrate",
	}
}

// Load finds and parses rowmigrate.toml. A missing file is not an error:
// Defaults() is returned so a config-free run still has every key set.
func Load() (FileConfig, error) {
	cfg := Defaults()
	path, err := findConfigPath()
	if err != nil {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.ConfigFilePath = path
	return cfg, nil
}

func findConfigPath() (string, error) {
	startDir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	dir := startDir
	for {
		candidate := filepath.Join(dir, configFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		if isProjectRoot(dir) {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", fmt.Errorf("%s not found", configFileName)
}

func isProjectRoot(dir string) bool {
	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		return true
	}
	if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
		return true
	}
	return false
}

// ToEngineConfig translates the TOML shape into phaseengine.Config,
// converting string enums into the engine's typed constants.
func (c FileConfig) ToEngineConfig() phaseengine.Config {
	return phaseengine.Config{
		Strategy:             phaseengine.Strategy(c.Strategy),
		TrafficSwitchingMode: phaseengine.SwitchingMode(c.TrafficSwitching),
		ProgressiveSteps:     c.ProgressiveSteps,
		DowntimeWindowMs:     c.DowntimeWindowMs,
		AutoRollbackThresholds: monitor.Thresholds{
			ErrorRatePercent:   c.AutoRollbackThresholds.ErrorRate,
			ResponseTimeMs:     c.AutoRollbackThresholds.ResponseTimeMs,
			ConsistencyPercent: c.AutoRollbackThresholds.ConsistencyPercent,
		},
		OrphanPolicy:               fkresolver.OrphanPolicy(c.OrphanPolicy),
		EnableIncrementalSync:      c.EnableIncrementalSync,
		SyncIntervalMs:             c.SyncIntervalMs,
		StepObservationMs:          c.StepObservationMs,
		RecoveryWindowMs:           c.RecoveryWindowMs,
		RollbackMode:               rollback.Mode(c.RollbackMode),
		CreateBackupBeforeRollback: c.CreateBackupBeforeRollback,
		ConfirmRollback:            c.ConfirmRollback,
	}
}
