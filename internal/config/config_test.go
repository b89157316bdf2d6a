package config

import (
	"os"
	"path/filepath"
	"testing"
)

// changeToDir changes to a directory and returns a cleanup function.
func changeToDir(t *testing.T, dir string) func() {
	t.Helper()

	originalDir, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get working directory: %v", err)
	}

	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Failed to change to directory %q: %v", dir, err)
	}

	return func() {
		if _, err := os.Stat(originalDir); err == nil {
			if err := os.Chdir(originalDir); err != nil {
				t.Logf("Failed to restore working directory: %v", err)
			}
		}
	}
}

const exampleConfig = `strategy = "parallel-write"
traffic_switching = "immediate"
orphan_policy = "remove"
`

func TestLoadConfigInCurrentDirectory(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "rowmigrate.toml")
	if err := os.WriteFile(configPath, []byte(exampleConfig), 0o600); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cleanup := changeToDir(t, tempDir)
	defer cleanup()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Strategy != "parallel-write" {
		t.Errorf("Expected strategy=parallel-write, got %q", cfg.Strategy)
	}
	if cfg.OrphanPolicy != "remove" {
		t.Errorf("Expected orphan_policy=remove, got %q", cfg.OrphanPolicy)
	}
	if cfg.ConfigFilePath != configPath {
		t.Errorf("Expected ConfigFilePath=%q, got %q", configPath, cfg.ConfigFilePath)
	}
}

func TestLoadConfigInParentDirectory(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "rowmigrate.toml")
	if err := os.WriteFile(configPath, []byte(exampleConfig), 0o600); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	subDir := filepath.Join(tempDir, "subdir", "nested")
	if err := os.MkdirAll(subDir, 0o755); err != nil {
		t.Fatalf("Failed to create subdirectory: %v", err)
	}

	cleanup := changeToDir(t, subDir)
	defer cleanup()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Strategy != "parallel-write" {
		t.Errorf("Expected strategy=parallel-write, got %q", cfg.Strategy)
	}
}

func TestLoadConfigNoFileReturnsDefaults(t *testing.T) {
	tempDir := t.TempDir()

	cleanup := changeToDir(t, tempDir)
	defer cleanup()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	want := Defaults()
	if cfg.Strategy != want.Strategy {
		t.Errorf("Expected default strategy %q, got %q", want.Strategy, cfg.Strategy)
	}
	if cfg.ConfigFilePath != "" {
		t.Errorf("Expected empty ConfigFilePath, got %q", cfg.ConfigFilePath)
	}
}

func TestLoadConfigStopsAtGitRoot(t *testing.T) {
	tempDir := t.TempDir()

	parentDir := filepath.Join(tempDir, "parent")
	if err := os.MkdirAll(parentDir, 0o755); err != nil {
		t.Fatalf("Failed to create parent directory: %v", err)
	}
	if err := os.WriteFile(filepath.Join(parentDir, "rowmigrate.toml"), []byte(`strategy = "blue-green"`), 0o600); err != nil {
		t.Fatalf("Failed to write parent config: %v", err)
	}

	gitProjectDir := filepath.Join(parentDir, "git-project")
	if err := os.MkdirAll(filepath.Join(gitProjectDir, ".git"), 0o755); err != nil {
		t.Fatalf("Failed to create git project directory: %v", err)
	}
	gitConfigPath := filepath.Join(gitProjectDir, "rowmigrate.toml")
	if err := os.WriteFile(gitConfigPath, []byte(`strategy = "parallel-write"`), 0o600); err != nil {
		t.Fatalf("Failed to write git project config: %v", err)
	}

	subDir := filepath.Join(gitProjectDir, "src", "components")
	if err := os.MkdirAll(subDir, 0o755); err != nil {
		t.Fatalf("Failed to create subdirectory: %v", err)
	}

	cleanup := changeToDir(t, subDir)
	defer cleanup()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Strategy != "parallel-write" {
		t.Errorf("Expected strategy from git-project config, got %q", cfg.Strategy)
	}
	if cfg.ConfigFilePath != gitConfigPath {
		t.Errorf("Expected ConfigFilePath=%q, got %q", gitConfigPath, cfg.ConfigFilePath)
	}
}

func TestLoadConfigStopsAtGoModRoot(t *testing.T) {
	tempDir := t.TempDir()

	parentDir := filepath.Join(tempDir, "parent")
	if err := os.MkdirAll(parentDir, 0o755); err != nil {
		t.Fatalf("Failed to create parent directory: %v", err)
	}
	if err := os.WriteFile(filepath.Join(parentDir, "rowmigrate.toml"), []byte(`strategy = "blue-green"`), 0o600); err != nil {
		t.Fatalf("Failed to write parent config: %v", err)
	}

	goModDir := filepath.Join(parentDir, "go-module")
	if err := os.MkdirAll(goModDir, 0o755); err != nil {
		t.Fatalf("Failed to create go module directory: %v", err)
	}
	if err := os.WriteFile(filepath.Join(goModDir, "go.mod"), []byte("module test\n"), 0o600); err != nil {
		t.Fatalf("Failed to write go.mod: %v", err)
	}

	subDir := filepath.Join(goModDir, "internal", "config")
	if err := os.MkdirAll(subDir, 0o755); err != nil {
		t.Fatalf("Failed to create subdirectory: %v", err)
	}

	cleanup := changeToDir(t, subDir)
	defer cleanup()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	want := Defaults()
	if cfg.Strategy != want.Strategy {
		t.Errorf("Expected go.mod boundary to stop the walk, got strategy %q", cfg.Strategy)
	}
	if cfg.ConfigFilePath != "" {
		t.Errorf("Expected empty ConfigFilePath, got %q", cfg.ConfigFilePath)
	}
}

func TestLoadConfigInvalidTOML(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "rowmigrate.toml")
	if err := os.WriteFile(configPath, []byte(`strategy = "blue-green" invalid syntax`), 0o600); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cleanup := changeToDir(t, tempDir)
	defer cleanup()

	if _, err := Load(); err == nil {
		t.Fatal("Expected error for invalid TOML, got nil")
	}
}

func TestIsProjectRootGit(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(tempDir, ".git"), 0o755); err != nil {
		t.Fatalf("Failed to create .git directory: %v", err)
	}
	if !isProjectRoot(tempDir) {
		t.Error("Expected isProjectRoot to return true for directory with .git")
	}
}

func TestIsProjectRootGoMod(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tempDir, "go.mod"), []byte("module test\n"), 0o600); err != nil {
		t.Fatalf("Failed to write go.mod: %v", err)
	}
	if !isProjectRoot(tempDir) {
		t.Error("Expected isProjectRoot to return true for directory with go.mod")
	}
}

func TestIsProjectRootNoMarkers(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	if isProjectRoot(tempDir) {
		t.Error("Expected isProjectRoot to return false for directory without project markers")
	}
}

func TestToEngineConfigTranslatesEnums(t *testing.T) {
	cfg := Defaults()
	cfg.Strategy = "blue-green"
	cfg.TrafficSwitching = "progressive"
	cfg.OrphanPolicy = "remove"
	cfg.RollbackMode = "partial"

	engineCfg := cfg.ToEngineConfig()
	if string(engineCfg.Strategy) != "blue-green" {
		t.Errorf("Expected Strategy blue-green, got %q", engineCfg.Strategy)
	}
	if string(engineCfg.TrafficSwitchingMode) != "progressive" {
		t.Errorf("Expected TrafficSwitchingMode progressive, got %q", engineCfg.TrafficSwitchingMode)
	}
	if string(engineCfg.OrphanPolicy) != "remove" {
		t.Errorf("Expected OrphanPolicy remove, got %q", engineCfg.OrphanPolicy)
	}
	if string(engineCfg.RollbackMode) != "partial" {
		t.Errorf("Expected RollbackMode partial, got %q", engineCfg.RollbackMode)
	}
	if engineCfg.AutoRollbackThresholds.ErrorRatePercent != cfg.AutoRollbackThresholds.ErrorRate {
		t.Errorf("Expected thresholds to carry over, got %+v", engineCfg.AutoRollbackThresholds)
	}
}
