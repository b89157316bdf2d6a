package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lockplane/rowmigrate/internal/fkresolver"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Analyze the source dataset without writing anything to the target",
	Long: `plan loads the source dataset, classifies every foreign-key reference, and
reports duplicate composite keys. It reads only the source dataset and writes
no rows, but it opens both the source and the target backend, and opening a
SQL backend creates any missing core tables. Use it to see what migrate would
do before running it.`,
	RunE: runPlan,
}

func init() {
	rootCmd.AddCommand(planCmd)
}

type planReport struct {
	Violations []string       `json:"violations"`
	Duplicates []string       `json:"duplicate_keys"`
	RowCounts  map[string]int `json:"row_counts"`
}

func runPlan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	run, err := resolveRun(ctx, environmentFlag)
	if err != nil {
		return exitErr(3, err)
	}
	fileCfg := run.FileConfig

	_, _ = cliCyan.Fprintf(os.Stderr, "loading source dataset (environment %q)...\n", run.Env.Name)
	dataset, err := fkresolver.LoadAll(ctx, run.Source)
	if err != nil {
		return exitErr(1, fmt.Errorf("loading source dataset: %w", err))
	}

	relationships := fkresolver.Analyze(dataset)
	duplicates := fkresolver.DetectDuplicateKeys(dataset)

	report := planReport{RowCounts: map[string]int{}}
	for table, rows := range dataset.Tables {
		report.RowCounts[string(table)] = len(rows)
	}
	for _, v := range relationships.Violations() {
		report.Violations = append(report.Violations, v.String())
	}
	for _, d := range duplicates {
		report.Duplicates = append(report.Duplicates, d.String())
	}

	if len(report.Violations) > 0 {
		_, _ = cliYellow.Fprintf(os.Stderr, "%d unresolved reference(s) found; orphan_policy=%s will handle them on migrate\n", len(report.Violations), fileCfg.OrphanPolicy)
	} else {
		_, _ = cliGreen.Fprintln(os.Stderr, "no unresolved references")
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return exitErr(1, err)
	}
	fmt.Println(string(data))
	return nil
}
