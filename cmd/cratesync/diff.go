package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cratesync/cratesync/internal/conflict"
	"github.com/cratesync/cratesync/internal/config"
	"github.com/cratesync/cratesync/internal/engine"
	"github.com/cratesync/cratesync/internal/model"
)

func newDiffCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diff",
		Short: "Preview the actions a sync would take",
		Long: `Compute and print the reconciliation plan for the active profile without
applying it — equivalent to 'cratesync sync --dry-run' but without the
big-delete confirmation path, since nothing is ever written.`,
		RunE: runDiff,
	}
}

func runDiff(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	entry := cc.Config.Profiles[cc.Profile.Name]
	strategyName := config.ResolveConflictStrategy(cc.Config, entry, config.CLIOverrides{ConflictStrategy: flagConflictStrategy})

	strategy, err := conflict.ParseStrategy(strategyName)
	if err != nil {
		return fmt.Errorf("resolving conflict strategy: %w", err)
	}

	algo, err := parseAlgorithm(cc.Config.Hashing.Algorithm)
	if err != nil {
		return err
	}

	report, err := cc.Engine.RunOnce(cmd.Context(), *cc.Profile, engine.RunOptions{
		DryRun:           true,
		Algorithm:        algo,
		ConflictStrategy: strategy,
	})
	if err != nil {
		return fmt.Errorf("computing diff: %w", err)
	}

	if cc.JSON {
		return printDiffJSON(report.Diff)
	}

	printDiffTable(report.Diff)

	return nil
}

type diffEntryJSON struct {
	Path      string `json:"path"`
	Action    string `json:"action"`
	Direction string `json:"direction,omitempty"`
}

type diffJSONOutput struct {
	Entries   []diffEntryJSON `json:"entries"`
	Added     int             `json:"added"`
	Updated   int             `json:"updated"`
	Removed   int             `json:"removed"`
	Unchanged int             `json:"unchanged"`
	Conflicts int             `json:"conflicts"`
}

func printDiffJSON(diff model.DiffResult) error {
	out := diffJSONOutput{
		Added:     diff.TotalAdd,
		Updated:   diff.TotalUpdate,
		Removed:   diff.TotalRemove,
		Unchanged: diff.TotalUnchanged,
		Conflicts: diff.TotalConflict,
	}

	for _, e := range diff.Entries {
		if e.Action == model.ActionUnchanged {
			continue
		}

		item := diffEntryJSON{Path: e.RelativePath, Action: e.Action.String()}
		if e.Action != model.ActionConflict {
			item.Direction = e.Direction.String()
		}

		out.Entries = append(out.Entries, item)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(out)
}

func printDiffTable(diff model.DiffResult) {
	var rows [][]string

	for _, e := range diff.Entries {
		if e.Action == model.ActionUnchanged {
			continue
		}

		direction := e.Direction.String()
		if e.Action == model.ActionConflict {
			direction = "-"
		}

		rows = append(rows, []string{e.Action.String(), direction, e.RelativePath})
	}

	if len(rows) == 0 {
		fmt.Println("No changes — already in sync.")
		return
	}

	printTable(os.Stdout, []string{"ACTION", "DIRECTION", "PATH"}, rows)

	fmt.Printf("\n%d to add, %d to update, %d to remove, %d conflicts, %d unchanged\n",
		diff.TotalAdd, diff.TotalUpdate, diff.TotalRemove, diff.TotalConflict, diff.TotalUnchanged)
}
