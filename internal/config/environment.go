package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

const defaultEnvironmentName = "development"

// Endpoint names one backend connection: its kind selects which
// internal/dataplane adapter to open, its URL is that adapter's DSN.
type Endpoint struct {
	Kind string
	URL  string
}

// ResolvedEnvironment is the fully-resolved pair of connections a
// migration run needs: where rows come from, where they go.
type ResolvedEnvironment struct {
	Name       string
	Source     Endpoint
	Target     Endpoint
	DotenvPath string
	FromDotenv bool
}

// ResolveEnvironment reads a named environment's .env.<name> file, lets
// process environment variables override its values, and defaults each
// backend kind to postgres — producing SOURCE_DATABASE_URL/TARGET_DATABASE_URL
// rather than a single DATABASE_URL. It does not read rowmigrate.toml.
func ResolveEnvironment(name string) (*ResolvedEnvironment, error) {
	envName := strings.TrimSpace(name)
	if envName == "" {
		envName = defaultEnvironmentName
	}

	resolved := &ResolvedEnvironment{Name: envName}

	dotenvPath := ".env." + envName
	if cwd, err := os.Getwd(); err == nil {
		dotenvPath = filepath.Join(cwd, dotenvPath)
	}
	resolved.DotenvPath = dotenvPath

	if info, err := os.Stat(dotenvPath); err == nil && !info.IsDir() {
		values, err := godotenv.Read(dotenvPath)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", dotenvPath, err)
		}
		resolved.FromDotenv = true
		resolved.Source.Kind = values["SOURCE_BACKEND"]
		resolved.Source.URL = values["SOURCE_DATABASE_URL"]
		resolved.Target.Kind = values["TARGET_BACKEND"]
		resolved.Target.URL = values["TARGET_DATABASE_URL"]
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("accessing %s: %w", dotenvPath, err)
	}

	if v := os.Getenv("SOURCE_DATABASE_URL"); v != "" {
		resolved.Source.URL = v
	}
	if v := os.Getenv("SOURCE_BACKEND"); v != "" {
		resolved.Source.Kind = v
	}
	if v := os.Getenv("TARGET_DATABASE_URL"); v != "" {
		resolved.Target.URL = v
	}
	if v := os.Getenv("TARGET_BACKEND"); v != "" {
		resolved.Target.Kind = v
	}

	if resolved.Source.URL == "" {
		return nil, fmt.Errorf("SOURCE_DATABASE_URL not set (checked process environment and %s)", dotenvPath)
	}
	if resolved.Target.URL == "" {
		return nil, fmt.Errorf("TARGET_DATABASE_URL not set (checked process environment and %s)", dotenvPath)
	}
	if resolved.Source.Kind == "" {
		resolved.Source.Kind = "postgres"
	}
	if resolved.Target.Kind == "" {
		resolved.Target.Kind = "postgres"
	}

	return resolved, nil
}
