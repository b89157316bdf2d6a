package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lockplane/rowmigrate/internal/phaseengine"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check source/target consistency without touching phase state",
	Long: `verify runs the verification phase standalone: it requires zero sync lag
between source and target. No monitor runs here, so no health sample is
checked against the configured thresholds. It never writes to the status
tracker.`,
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	run, err := resolveRun(ctx, environmentFlag)
	if err != nil {
		return exitErr(3, err)
	}

	engineCfg := run.FileConfig.ToEngineConfig()
	engine := &phaseengine.Engine{Source: run.Source, Target: run.Target, Config: engineCfg}

	result, err := engine.Verify(ctx)
	if err != nil {
		_, _ = cliRed.Fprintf(os.Stderr, "verification failed: %v\n", err)
		return exitErr(1, err)
	}

	data, merr := json.MarshalIndent(result, "", "  ")
	if merr != nil {
		return exitErr(1, merr)
	}
	_, _ = cliGreen.Fprintln(os.Stderr, "source and target are consistent")
	fmt.Println(string(data))
	return nil
}
