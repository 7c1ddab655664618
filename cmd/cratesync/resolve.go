package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cratesync/cratesync/internal/conflict"
	"github.com/cratesync/cratesync/internal/store"
)

func newResolveCmd() *cobra.Command {
	var flagStrategy string

	cmd := &cobra.Command{
		Use:   "resolve [path-or-id]",
		Short: "Resolve a recorded sync conflict",
		Long: `Resolve a conflict recorded for the active profile with a chosen strategy.

Strategies:
  keep_source  copy the source's version over the target
  keep_target  copy the target's version over the source
  keep_both    keep both versions (side-by-side conflict copy)
  skip         mark the conflict resolved as skipped without changing either file

Use --all to resolve every unresolved conflict with the chosen strategy.
Without --all, a path or conflict ID (or unambiguous ID prefix) is required.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(cmd, args, flagStrategy)
		},
	}

	cmd.Flags().StringVar(&flagStrategy, "strategy", "", "keep_source, keep_target, keep_both, or skip")
	cmd.Flags().Bool("all", false, "resolve all unresolved conflicts")

	return cmd
}

func runResolve(cmd *cobra.Command, args []string, strategyName string) error {
	if strategyName == "" {
		return fmt.Errorf("specify a resolution with --strategy (keep_source, keep_target, keep_both, skip)")
	}

	strategy, err := conflict.ParseStrategy(strategyName)
	if err != nil {
		return err
	}

	resolveAll, err := cmd.Flags().GetBool("all")
	if err != nil {
		return err
	}

	if !resolveAll && len(args) == 0 {
		return fmt.Errorf("specify a conflict path or ID, or use --all to resolve all conflicts")
	}

	if resolveAll && len(args) > 0 {
		return fmt.Errorf("--all and a specific conflict argument are mutually exclusive")
	}

	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	conflicts, err := cc.Engine.ListUnresolvedConflicts(ctx, cc.Profile.ID)
	if err != nil {
		return fmt.Errorf("listing conflicts: %w", err)
	}

	if resolveAll {
		return resolveAllConflicts(ctx, cc, conflicts, strategy)
	}

	return resolveOneConflict(ctx, cc, conflicts, args[0], strategy)
}

func resolveAllConflicts(ctx context.Context, cc *CLIContext, conflicts []store.ConflictRecord, strategy conflict.Strategy) error {
	if len(conflicts) == 0 {
		statusf(cc.Quiet, "No unresolved conflicts.\n")
		return nil
	}

	for i := range conflicts {
		c := &conflicts[i]

		if err := cc.Engine.ResolveConflictManually(ctx, *cc.Profile, c.ID, strategy); err != nil {
			return fmt.Errorf("resolving %s: %w", c.RelativePath, err)
		}

		statusf(cc.Quiet, "Resolved %s as %s\n", c.RelativePath, strategy)
	}

	return nil
}

func resolveOneConflict(ctx context.Context, cc *CLIContext, conflicts []store.ConflictRecord, idOrPath string, strategy conflict.Strategy) error {
	target, err := findConflict(conflicts, idOrPath)
	if err != nil {
		return err
	}

	if target == nil {
		return fmt.Errorf("no unresolved conflict matches %q", idOrPath)
	}

	if err := cc.Engine.ResolveConflictManually(ctx, *cc.Profile, target.ID, strategy); err != nil {
		return fmt.Errorf("resolving %s: %w", target.RelativePath, err)
	}

	statusf(cc.Quiet, "Resolved %s as %s\n", target.RelativePath, strategy)

	return nil
}

// errAmbiguousPrefix is returned when a conflict ID prefix matches more than
// one unresolved conflict and the caller needs to provide a longer prefix.
var errAmbiguousPrefix = errors.New("ambiguous conflict ID prefix — provide more characters")

// findConflict searches conflicts by exact ID, exact relative path, or ID
// prefix.
func findConflict(conflicts []store.ConflictRecord, idOrPath string) (*store.ConflictRecord, error) {
	for i := range conflicts {
		c := &conflicts[i]
		if c.ID == idOrPath || c.RelativePath == idOrPath {
			return c, nil
		}
	}

	var match *store.ConflictRecord

	for i := range conflicts {
		c := &conflicts[i]
		if len(c.ID) >= len(idOrPath) && c.ID[:len(idOrPath)] == idOrPath {
			if match != nil {
				return nil, errAmbiguousPrefix
			}

			match = c
		}
	}

	return match, nil
}
