package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lockplane/rowmigrate/internal/rollback"
)

var emergencyConfirmFlag bool

var emergencyRecoverCmd = &cobra.Command{
	Use:   "emergency-recover",
	Short: "Force the target plane back to empty when ordinary rollback cannot be trusted",
	Long: `emergency-recover deletes every row of every table on the target plane
as a full-mode rollback with no snapshot, whatever rollback_mode and
create_backup_before_rollback say. It does not disable or re-enable
constraints. It refuses to run without --confirm.`,
	RunE: runEmergencyRecover,
}

func init() {
	emergencyRecoverCmd.Flags().BoolVar(&emergencyConfirmFlag, "confirm", false, "required: acknowledge this bypasses the ordinary rollback protocol")
	rootCmd.AddCommand(emergencyRecoverCmd)
}

func runEmergencyRecover(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	run, err := resolveRun(ctx, environmentFlag)
	if err != nil {
		return exitErr(3, err)
	}

	if !emergencyConfirmFlag {
		_, _ = cliRed.Fprintln(os.Stderr, "refusing to run without --confirm")
		return exitErr(1, &rollback.EmergencyRecoverError{})
	}

	_, _ = cliRed.Fprintf(os.Stderr, "emergency recovery on environment %q target plane...\n", run.Env.Name)
	result, err := rollback.EmergencyRecover(ctx, run.Target, true)
	if err != nil {
		_, _ = cliRed.Fprintf(os.Stderr, "emergency recovery failed: %v\n", err)
		return exitErr(1, err)
	}

	for _, outcome := range result.PerTable {
		if outcome.State == rollback.TableFailed {
			data, _ := json.MarshalIndent(result, "", "  ")
			fmt.Println(string(data))
			return exitErr(1, fmt.Errorf("one or more tables failed during emergency recovery"))
		}
	}

	_, _ = cliGreen.Fprintln(os.Stderr, "emergency recovery completed")
	data, merr := json.MarshalIndent(result, "", "  ")
	if merr != nil {
		return exitErr(1, merr)
	}
	fmt.Println(string(data))
	return nil
}
