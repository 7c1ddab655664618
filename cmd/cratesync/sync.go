package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cratesync/cratesync/internal/cancel"
	"github.com/cratesync/cratesync/internal/conflict"
	"github.com/cratesync/cratesync/internal/config"
	"github.com/cratesync/cratesync/internal/engine"
	"github.com/cratesync/cratesync/internal/hashutil"
	"github.com/cratesync/cratesync/internal/model"
)

func newSyncCmd() *cobra.Command {
	var flagForce bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile the profile's source and target trees",
		Long: `Run a one-shot sync cycle for the active profile.

One-way profiles mirror the source onto the target. Two-way profiles perform
a three-way merge against the last known baseline, recording anything they
can't reconcile automatically as a conflict. Use --dry-run to preview the
plan without applying it.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd, flagForce)
		},
	}

	cmd.Flags().Bool("dry-run", false, "preview sync actions without applying them")
	cmd.Flags().BoolVar(&flagForce, "force", false, "skip the big-delete confirmation prompt")

	return cmd
}

func runSync(cmd *cobra.Command, force bool) error {
	cc := mustCLIContext(cmd.Context())

	ctx := shutdownContext(cmd.Context(), cc.Logger)
	token := cancel.New()

	go func() {
		<-ctx.Done()
		token.Cancel()
	}()

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

	opts := engine.RunOptions{
		DryRun:           cc.Config.Sync.DryRun,
		Algorithm:        algo,
		ConflictStrategy: strategy,
		Cancel:           token,
	}

	if !opts.DryRun {
		triggered, pct, err := previewBigDelete(ctx, cc, opts)
		if err != nil {
			return err
		}

		if triggered && !force {
			ok, err := confirmBigDelete(cmd, pct)
			if err != nil {
				return err
			}

			if !ok {
				return fmt.Errorf("sync aborted: big-delete guard triggered (%d%% of tracked files would be removed); re-run with --force to proceed", pct)
			}
		}
	}

	report, err := cc.Engine.RunOnce(ctx, *cc.Profile, opts)
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	if cc.JSON {
		return printSyncJSON(report)
	}

	printSyncText(cc.Quiet, report)

	if report.Execution != nil && report.Execution.Failed > 0 {
		return fmt.Errorf("sync completed with %d failed actions", report.Execution.Failed)
	}

	return nil
}

// previewBigDelete computes the diff that a real run would execute and
// reports whether it trips the safety guard, without applying anything.
func previewBigDelete(ctx context.Context, cc *CLIContext, opts engine.RunOptions) (bool, int, error) {
	preview := opts
	preview.DryRun = true

	report, err := cc.Engine.RunOnce(ctx, *cc.Profile, preview)
	if err != nil {
		return false, 0, fmt.Errorf("computing sync plan: %w", err)
	}

	triggered, pct := bigDeleteGuardTriggered(report.Diff, cc.Config.Safety)

	return triggered, pct, nil
}

// bigDeleteGuardTriggered reports whether removing TotalRemove entries out
// of everything this cycle is tracking clears both the absolute-count floor
// and the percentage threshold configured for the profile — a deletion this
// large is the signature of a wiped or unmounted target, not a normal edit.
func bigDeleteGuardTriggered(diff model.DiffResult, safety config.SafetyConfig) (bool, int) {
	tracked := diff.TotalRemove + diff.TotalUpdate + diff.TotalUnchanged + diff.TotalAdd
	if tracked == 0 || diff.TotalRemove == 0 {
		return false, 0
	}

	if diff.TotalRemove < safety.BigDeleteThreshold {
		return false, 0
	}

	pct := diff.TotalRemove * 100 / tracked
	if pct < safety.BigDeletePercentage {
		return false, pct
	}

	return true, pct
}

// confirmBigDelete prompts the operator on stderr/stdin. Invocations without
// a terminal (cron, watch) have no way to answer "yes", so they fail closed.
func confirmBigDelete(cmd *cobra.Command, pct int) (bool, error) {
	fmt.Fprintf(os.Stderr, "warning: this sync would remove %d%% of tracked files — this usually means the target volume is missing or was wiped.\n", pct)
	fmt.Fprint(os.Stderr, "Proceed anyway? [y/N] ")

	reader := bufio.NewReader(cmd.InOrStdin())

	line, err := reader.ReadString('\n')
	if err != nil {
		return false, nil
	}

	answer := strings.ToLower(strings.TrimSpace(line))

	return answer == "y" || answer == "yes", nil
}

// parseAlgorithm resolves the configured hashing algorithm name, defaulting
// to hashutil.DefaultAlgorithm when unset.
func parseAlgorithm(name string) (hashutil.Algorithm, error) {
	switch hashutil.Algorithm(name) {
	case "":
		return hashutil.DefaultAlgorithm, nil
	case hashutil.AlgorithmBlake3:
		return hashutil.AlgorithmBlake3, nil
	case hashutil.AlgorithmSHA256:
		return hashutil.AlgorithmSHA256, nil
	default:
		return "", fmt.Errorf("unknown hashing algorithm %q", name)
	}
}

func printSyncText(quiet bool, report *engine.Report) {
	if report.DryRun {
		printDryRunText(quiet, report)
		return
	}

	diff := report.Diff

	if diff.TotalAdd == 0 && diff.TotalRemove == 0 && diff.TotalUpdate == 0 && report.ConflictsRecorded == 0 {
		statusf(quiet, "Already in sync.\n")
		return
	}

	statusf(quiet, "Sync complete (%s, %s)\n", report.Profile.Name, report.Duration.Round(1e6))
	printSyncCountsText(quiet, report)
}

func printDryRunText(quiet bool, report *engine.Report) {
	diff := report.Diff

	if diff.TotalAdd == 0 && diff.TotalRemove == 0 && diff.TotalUpdate == 0 && report.ConflictsRecorded == 0 {
		statusf(quiet, "Dry run complete — already in sync.\n")
		return
	}

	statusf(quiet, "Dry run — no changes applied\n")
	printSyncCountsText(quiet, report)
}

func printSyncCountsText(quiet bool, report *engine.Report) {
	diff := report.Diff

	if diff.TotalAdd > 0 {
		statusf(quiet, "  Added:     %s\n", colorCount(diff.TotalAdd, false))
	}

	if diff.TotalUpdate > 0 {
		statusf(quiet, "  Updated:   %s\n", colorCount(diff.TotalUpdate, false))
	}

	if diff.TotalRemove > 0 {
		statusf(quiet, "  Removed:   %s\n", colorCount(diff.TotalRemove, false))
	}

	if diff.BytesToTransfer > 0 {
		statusf(quiet, "  Transfer:  %s\n", formatSize(diff.BytesToTransfer))
	}

	if report.ConflictsRecorded > 0 {
		statusf(quiet, "  Conflicts: %s\n", colorCount(report.ConflictsRecorded, true))
	}

	if report.Execution != nil && report.Execution.Failed > 0 {
		statusf(quiet, "  Errors:    %s\n", colorCount(report.Execution.Failed, true))
	}
}

// syncJSONOutput is the JSON output schema for the sync command.
type syncJSONOutput struct {
	Profile       string  `json:"profile"`
	DryRun        bool    `json:"dry_run"`
	DurationMs    int64   `json:"duration_ms"`
	Added         int     `json:"added"`
	Updated       int     `json:"updated"`
	Removed       int     `json:"removed"`
	Unchanged     int     `json:"unchanged"`
	Conflicts     int     `json:"conflicts"`
	BytesTransfer uint64  `json:"bytes_transferred"`
	Succeeded     int     `json:"succeeded"`
	Failed        int     `json:"failed"`
}

func printSyncJSON(report *engine.Report) error {
	out := syncJSONOutput{
		Profile:       report.Profile.Name,
		DryRun:        report.DryRun,
		DurationMs:    report.Duration.Milliseconds(),
		Added:         report.Diff.TotalAdd,
		Updated:       report.Diff.TotalUpdate,
		Removed:       report.Diff.TotalRemove,
		Unchanged:     report.Diff.TotalUnchanged,
		Conflicts:     report.ConflictsRecorded,
		BytesTransfer: report.Diff.BytesToTransfer,
	}

	if report.Execution != nil {
		out.Succeeded = report.Execution.Succeeded
		out.Failed = report.Execution.Failed
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(out)
}
