package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/lockplane/rowmigrate/internal/migrationerrors"
	"github.com/lockplane/rowmigrate/internal/model"
	"github.com/lockplane/rowmigrate/internal/monitor"
	"github.com/lockplane/rowmigrate/internal/phaseengine"
	"github.com/lockplane/rowmigrate/internal/progressview"
	"github.com/lockplane/rowmigrate/internal/statetracker"
	"github.com/lockplane/rowmigrate/internal/trafficrouter"
)

var watchFlag bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run the migration end to end",
	Long: `migrate drives the full phase sequence — preparation, initial migration,
incremental sync, deployment prep, traffic switching, verification, cleanup —
against the resolved environment's source and target, recording durable
progress as it goes. A failed migration with moved traffic triggers emergency
rollback automatically before migrate returns.`,
	RunE: runMigrate,
}

func init() {
	migrateCmd.Flags().BoolVar(&watchFlag, "watch", false, "show a live progress view while the migration runs")
	rootCmd.AddCommand(migrateCmd)
}

// countSampler compares source/target row counts to produce a monitor
// sample; it is the simplest legitimate sampler (DPA count comparisons)
// when no external metrics backend is configured.
type countSampler struct {
	run *resolvedRun
}

func (s countSampler) Sample(ctx context.Context) (monitor.Sample, error) {
	var srcTotal, dstTotal int
	for _, table := range model.DependencyOrder() {
		src, err := s.run.Source.Count(ctx, table)
		if err != nil {
			return monitor.Sample{}, err
		}
		dst, err := s.run.Target.Count(ctx, table)
		if err != nil {
			return monitor.Sample{}, err
		}
		srcTotal += src
		dstTotal += dst
	}
	consistency := 100.0
	if srcTotal > 0 {
		consistency = (float64(dstTotal) / float64(srcTotal)) * 100
		if consistency > 100 {
			consistency = 100
		}
	}
	return monitor.Sample{
		Timestamp:              time.Now(),
		ErrorRatePercent:       0,
		ResponseTimeMs:         0,
		DataConsistencyPercent: consistency,
		LastErrorSeverity:      monitor.SeverityNone,
	}, nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	run, err := resolveRun(ctx, environmentFlag)
	if err != nil {
		return exitErr(3, err)
	}

	engineCfg := run.FileConfig.ToEngineConfig()
	if err := engineCfg.Validate(); err != nil {
		return exitErr(3, err)
	}

	workingDir := workingDirFor(run.FileConfig)
	statusPath := filepath.Join(workingDir, "status.json")
	tracker, resumed, err := statetracker.Open(statusPath)
	if err != nil {
		return exitErr(1, fmt.Errorf("opening status tracker: %w", err))
	}
	if resumed {
		_, _ = cliYellow.Fprintf(os.Stderr, "warning: a prior run left a phase in progress at %s\n", statusPath)
	}

	mon := monitor.New(countSampler{run: run}, time.Duration(run.FileConfig.SyncIntervalMs)*time.Millisecond)

	engine := &phaseengine.Engine{
		Source:     run.Source,
		Target:     run.Target,
		Tracker:    tracker,
		Router:     trafficrouter.NewInMemory(),
		Monitor:    mon,
		Config:     engineCfg,
		WorkingDir: workingDir,
	}

	_, _ = cliCyan.Fprintf(os.Stderr, "migrating (environment %q, strategy %s)...\n", run.Env.Name, engineCfg.Strategy)

	var runErr error
	if watchFlag {
		runErr = runWithWatch(ctx, engine, tracker)
	} else {
		runErr = engine.Run(ctx)
	}

	if runErr == nil {
		_, _ = cliGreen.Fprintln(os.Stderr, "migration completed")
		return nil
	}

	var compound *migrationerrors.CompoundFailureError
	if asCompoundFailure(runErr, &compound) {
		_, _ = cliRed.Fprintf(os.Stderr, "migration failed and rollback also failed: %v\n", compound)
		return exitErr(2, compound)
	}

	_, _ = cliRed.Fprintf(os.Stderr, "migration failed: %v\n", runErr)
	return exitErr(1, runErr)
}

func asCompoundFailure(err error, target **migrationerrors.CompoundFailureError) bool {
	if ce, ok := err.(*migrationerrors.CompoundFailureError); ok {
		*target = ce
		return true
	}
	return false
}

// runWithWatch runs the engine while a bubbletea progress view polls the
// same tracker concurrently, returning whichever finishes reporting the
// engine's own result.
func runWithWatch(ctx context.Context, engine *phaseengine.Engine, tracker *statetracker.Tracker) error {
	program := tea.NewProgram(progressview.New(tracker, 500*time.Millisecond))

	errCh := make(chan error, 1)
	go func() {
		errCh <- engine.Run(ctx)
	}()

	go func() {
		_, _ = program.Run()
	}()

	err := <-errCh
	program.Quit()
	return err
}
