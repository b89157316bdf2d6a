package cmd

import (
	"context"
	"fmt"

	"github.com/fatih/color"

	"github.com/lockplane/rowmigrate/internal/backend"
	"github.com/lockplane/rowmigrate/internal/config"
	"github.com/lockplane/rowmigrate/internal/dataplane"
)

// resolvedRun bundles the configuration and live connections every
// migrate/verify/rollback invocation needs.
type resolvedRun struct {
	FileConfig config.FileConfig
	Env        *config.ResolvedEnvironment
	Source     dataplane.Adapter
	Target     dataplane.Adapter
}

func resolveRun(ctx context.Context, environment string) (*resolvedRun, error) {
	fileCfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading rowmigrate.toml: %w", err)
	}

	env, err := config.ResolveEnvironment(environment)
	if err != nil {
		return nil, fmt.Errorf("resolving environment: %w", err)
	}

	source, err := backend.Open(ctx, env.Source.Kind, env.Source.URL)
	if err != nil {
		return nil, fmt.Errorf("opening source (%s): %w", env.Source.Kind, err)
	}
	target, err := backend.Open(ctx, env.Target.Kind, env.Target.URL)
	if err != nil {
		return nil, fmt.Errorf("opening target (%s): %w", env.Target.Kind, err)
	}

	return &resolvedRun{FileConfig: fileCfg, Env: env, Source: source, Target: target}, nil
}

func workingDirFor(fileCfg config.FileConfig) string {
	if fileCfg.WorkingDir != "" {
		return fileCfg.WorkingDir
	}
	return ".rowmigrate"
}

var (
	cliGreen  = color.New(color.FgGreen, color.Bold)
	cliRed    = color.New(color.FgRed, color.Bold)
	cliYellow = color.New(color.FgYellow)
	cliCyan   = color.New(color.FgCyan)
)
