// Package reportio writes the structured, machine-facing reports the core
// produces per phase plus the final Markdown summary a human reads (§6
// Persisted state layout).
package reportio

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/lockplane/rowmigrate/internal/statetracker"
)

// PhaseReport is the structured report written for one phase.
type PhaseReport struct {
	Phase     statetracker.Phase       `json:"phase"`
	Status    statetracker.PhaseStatus `json:"status"`
	StartedAt *time.Time               `json:"started_at,omitempty"`
	EndedAt   *time.Time               `json:"ended_at,omitempty"`
	Result    map[string]any           `json:"result,omitempty"`
	Errors    []string                 `json:"errors,omitempty"`
	Warnings  []string                 `json:"warnings,omitempty"`
}

// timestampForFilename mirrors internal/rollback's filesystem-safe
// ISO-8601 rendering so every artifact in the working directory uses the
// same naming convention.
func timestampForFilename(t time.Time) string {
	return strings.ReplaceAll(t.UTC().Format("2006-01-02T15:04:05.000Z"), ":", "-")
}

// WritePhaseReport writes one phase's report to <dir>/reports/<phase>-<ts>.json.
func WritePhaseReport(dir string, phase statetracker.Phase, rec statetracker.PhaseRecord, at time.Time) (string, error) {
	reportsDir := filepath.Join(dir, "reports")
	if err := os.MkdirAll(reportsDir, 0o755); err != nil {
		return "", fmt.Errorf("creating reports directory: %w", err)
	}
	report := PhaseReport{
		Phase: phase, Status: rec.Status, StartedAt: rec.StartedAt, EndedAt: rec.EndedAt,
		Result: rec.Result, Errors: rec.Errors, Warnings: rec.Warnings,
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding phase report: %w", err)
	}
	path := filepath.Join(reportsDir, fmt.Sprintf("%s-%s.json", phase, timestampForFilename(at)))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing phase report: %w", err)
	}
	return path, nil
}

// WriteFinalSummary renders a Markdown summary of the whole migration from
// the tracker's final status, one section per phase in execution order.
func WriteFinalSummary(dir string, status statetracker.Status) (string, error) {
	reportsDir := filepath.Join(dir, "reports")
	if err := os.MkdirAll(reportsDir, 0o755); err != nil {
		return "", fmt.Errorf("creating reports directory: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Migration summary\n\n")
	fmt.Fprintf(&b, "- Overall status: **%s**\n", status.Overall)
	fmt.Fprintf(&b, "- Current traffic percentage: %d%%\n", status.CurrentTrafficPct)
	fmt.Fprintf(&b, "- Updated at: %s\n\n", status.UpdatedAt.Format(time.RFC3339))

	fmt.Fprintf(&b, "## Phases\n\n")
	for _, phase := range statetracker.Phases {
		rec, ok := status.Phases[phase]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "### %s — %s\n\n", phase, rec.Status)
		if rec.StartedAt != nil {
			fmt.Fprintf(&b, "- Started: %s\n", rec.StartedAt.Format(time.RFC3339))
		}
		if rec.EndedAt != nil {
			fmt.Fprintf(&b, "- Ended: %s\n", rec.EndedAt.Format(time.RFC3339))
		}
		if len(rec.Errors) > 0 {
			fmt.Fprintf(&b, "- Errors:\n")
			for _, e := range rec.Errors {
				fmt.Fprintf(&b, "  - %s\n", e)
			}
		}
		if len(rec.Warnings) > 0 {
			fmt.Fprintf(&b, "- Warnings:\n")
			for _, w := range rec.Warnings {
				fmt.Fprintf(&b, "  - %s\n", w)
			}
		}
		if len(rec.Result) > 0 {
			fmt.Fprintf(&b, "- Result:\n")
			keys := make([]string, 0, len(rec.Result))
			for k := range rec.Result {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(&b, "  - %s: %v\n", k, rec.Result[k])
			}
		}
		b.WriteString("\n")
	}

	path := filepath.Join(reportsDir, "summary.md")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("writing final summary: %w", err)
	}
	return path, nil
}
