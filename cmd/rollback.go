package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lockplane/rowmigrate/internal/rollback"
)

var (
	rollbackModeFlag string
	rollbackYesFlag  bool
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Return the target plane to its pre-migration state",
	Long: `rollback deletes rows from the target plane according to the configured
mode (full, partial, data-only, schema-only), optionally snapshotting every
table first. Unlike emergency-recover, this is the ordinary, confirmable
rollback path.`,
	RunE: runRollback,
}

func init() {
	rollbackCmd.Flags().StringVar(&rollbackModeFlag, "mode", "", "rollback mode override (full, partial, data-only, schema-only)")
	rollbackCmd.Flags().BoolVarP(&rollbackYesFlag, "yes", "y", false, "skip the confirmation prompt")
	rootCmd.AddCommand(rollbackCmd)
}

func runRollback(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	run, err := resolveRun(ctx, environmentFlag)
	if err != nil {
		return exitErr(3, err)
	}
	fileCfg := run.FileConfig

	mode := rollback.Mode(fileCfg.RollbackMode)
	if rollbackModeFlag != "" {
		mode = rollback.Mode(rollbackModeFlag)
	}
	switch mode {
	case rollback.Full, rollback.Partial, rollback.DataOnly, rollback.SchemaOnly:
	default:
		return exitErr(3, fmt.Errorf("unknown rollback mode %q", mode))
	}

	if fileCfg.ConfirmRollback && !rollbackYesFlag {
		if !confirmPrompt(fmt.Sprintf("roll back the %q environment's target plane (mode=%s)?", run.Env.Name, mode)) {
			_, _ = cliYellow.Fprintln(os.Stderr, "rollback cancelled")
			return nil
		}
	}

	opts := rollback.Options{
		Mode:           mode,
		CreateSnapshot: fileCfg.CreateBackupBeforeRollback,
		SnapshotRoot:   workingDirFor(fileCfg),
	}

	_, _ = cliCyan.Fprintf(os.Stderr, "rolling back (environment %q, mode=%s)...\n", run.Env.Name, mode)
	result, err := rollback.Run(ctx, run.Target, opts)
	if err != nil {
		_, _ = cliRed.Fprintf(os.Stderr, "rollback failed: %v\n", err)
		return exitErr(1, err)
	}

	for _, outcome := range result.PerTable {
		if outcome.State == rollback.TableFailed {
			_, _ = cliRed.Fprintln(os.Stderr, "rollback completed with table failures")
			data, _ := json.MarshalIndent(result, "", "  ")
			fmt.Println(string(data))
			return exitErr(1, fmt.Errorf("one or more tables failed to roll back"))
		}
	}

	_, _ = cliGreen.Fprintln(os.Stderr, "rollback completed")
	data, merr := json.MarshalIndent(result, "", "  ")
	if merr != nil {
		return exitErr(1, merr)
	}
	fmt.Println(string(data))
	return nil
}

// confirmPrompt asks the operator to type "yes" before a destructive
// action proceeds, grounded on the teacher's own apply/rollback prompts.
func confirmPrompt(question string) bool {
	_, _ = cliYellow.Fprintf(os.Stderr, "%s [yes/N]: ", question)
	var response string
	_, _ = fmt.Scanln(&response)
	return response == "yes"
}
