package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveEnvironmentDefaultsToDevelopment(t *testing.T) {
	tempDir := t.TempDir()
	cleanup := changeToDir(t, tempDir)
	defer cleanup()

	t.Setenv("SOURCE_DATABASE_URL", "postgres://source")
	t.Setenv("TARGET_DATABASE_URL", "postgres://target")

	env, err := ResolveEnvironment("")
	if err != nil {
		t.Fatalf("ResolveEnvironment returned error: %v", err)
	}
	if env.Name != defaultEnvironmentName {
		t.Fatalf("Expected default environment name %q, got %q", defaultEnvironmentName, env.Name)
	}
	if env.Source.URL != "postgres://source" {
		t.Fatalf("Expected source URL from process environment, got %q", env.Source.URL)
	}
	if env.Target.URL != "postgres://target" {
		t.Fatalf("Expected target URL from process environment, got %q", env.Target.URL)
	}
	if env.Source.Kind != "postgres" {
		t.Fatalf("Expected source kind to default to postgres, got %q", env.Source.Kind)
	}
}

func TestResolveEnvironmentFromDotenv(t *testing.T) {
	tempDir := t.TempDir()
	dotenvPath := filepath.Join(tempDir, ".env.staging")
	data := "SOURCE_DATABASE_URL=postgres://staging-source\n" +
		"SOURCE_BACKEND=postgres\n" +
		"TARGET_DATABASE_URL=staging-target.db\n" +
		"TARGET_BACKEND=sqlite\n"
	if err := os.WriteFile(dotenvPath, []byte(data), 0o600); err != nil {
		t.Fatalf("Failed to write dotenv file: %v", err)
	}

	cleanup := changeToDir(t, tempDir)
	defer cleanup()

	env, err := ResolveEnvironment("staging")
	if err != nil {
		t.Fatalf("ResolveEnvironment returned error: %v", err)
	}
	if !env.FromDotenv {
		t.Fatal("Expected FromDotenv to be true")
	}
	if env.Source.URL != "postgres://staging-source" {
		t.Fatalf("Expected dotenv source URL, got %q", env.Source.URL)
	}
	if env.Target.URL != "staging-target.db" {
		t.Fatalf("Expected dotenv target URL, got %q", env.Target.URL)
	}
	if env.Target.Kind != "sqlite" {
		t.Fatalf("Expected dotenv target kind sqlite, got %q", env.Target.Kind)
	}
}

func TestResolveEnvironmentMissingURLsIsError(t *testing.T) {
	tempDir := t.TempDir()
	cleanup := changeToDir(t, tempDir)
	defer cleanup()

	if _, err := ResolveEnvironment("production"); err == nil {
		t.Fatal("Expected error resolving environment with no source/target configured, got nil")
	}
}

func TestResolveEnvironmentProcessEnvOverridesDotenv(t *testing.T) {
	tempDir := t.TempDir()
	dotenvPath := filepath.Join(tempDir, ".env.local")
	data := "SOURCE_DATABASE_URL=postgres://dotenv-source\n" +
		"TARGET_DATABASE_URL=postgres://dotenv-target\n"
	if err := os.WriteFile(dotenvPath, []byte(data), 0o600); err != nil {
		t.Fatalf("Failed to write dotenv file: %v", err)
	}

	cleanup := changeToDir(t, tempDir)
	defer cleanup()

	t.Setenv("SOURCE_DATABASE_URL", "postgres://env-source")

	env, err := ResolveEnvironment("local")
	if err != nil {
		t.Fatalf("ResolveEnvironment returned error: %v", err)
	}
	if env.Source.URL != "postgres://env-source" {
		t.Fatalf("Expected process environment to win over dotenv, got %q", env.Source.URL)
	}
	if env.Target.URL != "postgres://dotenv-target" {
		t.Fatalf("Expected dotenv target URL to survive, got %q", env.Target.URL)
	}
}
