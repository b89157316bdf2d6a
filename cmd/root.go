// Package cmd is the rowmigrate CLI surface: plan, migrate, verify,
// rollback, and emergency-recover, each a thin cobra command over the
// internal components.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "rowmigrate",
	Short: "rowmigrate moves a relational dataset between two database backends with zero data loss.",
	Long: `rowmigrate is a migration control plane for moving users, exercises, programs,
and workout data between two database backends (Postgres, SQLite, or libSQL/Turso)
with foreign-key resolution, progressive traffic switching, and automatic rollback.`,
}

var environmentFlag string

func init() {
	rootCmd.PersistentFlags().StringVarP(&environmentFlag, "environment", "e", "", "environment name (.env.<name>); defaults to \"development\"")
}

// Execute runs the CLI and returns the process exit code (§6): 0 success,
// 1 migration failed but rollback succeeded, 2 compound failure, 3 invalid
// configuration.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		if ec, ok := err.(exitCoder); ok {
			return ec.ExitCode()
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

// exitCoder lets a command report a specific process exit code instead of
// the default 1 a bare error produces.
type exitCoder interface {
	error
	ExitCode() int
}

type cmdError struct {
	err  error
	code int
}

func (e *cmdError) Error() string { return e.err.Error() }
func (e *cmdError) ExitCode() int { return e.code }
func (e *cmdError) Unwrap() error { return e.err }

func exitErr(code int, err error) error {
	return &cmdError{err: err, code: code}
}
