package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cratesync/cratesync/internal/store"
)

// conflictIDPrefixLen is the number of characters to show for the conflict
// ID in table output — sufficient for uniqueness in typical use.
const conflictIDPrefixLen = 8

func newConflictsCmd() *cobra.Command {
	var flagAll bool

	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "List sync conflicts for the active profile",
		Long: `Display conflicts recorded for the active profile.

By default only unresolved conflicts are shown. Use --all to include
already-resolved ones. Resolve a conflict with 'cratesync resolve'.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConflicts(cmd, flagAll)
		},
	}

	cmd.Flags().BoolVar(&flagAll, "all", false, "include already-resolved conflicts")

	return cmd
}

// conflictJSON is the JSON-serializable representation of a conflict.
type conflictJSON struct {
	ID           string `json:"id"`
	Path         string `json:"path"`
	ConflictType string `json:"conflict_type"`
	DetectedAt   string `json:"detected_at"`
	SourceHash   string `json:"source_hash,omitempty"`
	TargetHash   string `json:"target_hash,omitempty"`
	Resolution   string `json:"resolution,omitempty"`
	ResolvedBy   string `json:"resolved_by,omitempty"`
}

func runConflicts(cmd *cobra.Command, all bool) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	var (
		conflicts []store.ConflictRecord
		err       error
	)

	if all {
		conflicts, err = cc.Engine.ListAllConflicts(ctx, cc.Profile.ID)
	} else {
		conflicts, err = cc.Engine.ListUnresolvedConflicts(ctx, cc.Profile.ID)
	}

	if err != nil {
		return fmt.Errorf("listing conflicts: %w", err)
	}

	if len(conflicts) == 0 {
		statusf(cc.Quiet, "No conflicts.\n")
		return nil
	}

	if cc.JSON {
		return printConflictsJSON(conflicts)
	}

	printConflictsTable(conflicts)

	return nil
}

func printConflictsJSON(conflicts []store.ConflictRecord) error {
	items := make([]conflictJSON, len(conflicts))
	for i := range conflicts {
		c := &conflicts[i]
		items[i] = conflictJSON{
			ID:           c.ID,
			Path:         c.RelativePath,
			ConflictType: c.ConflictType.String(),
			DetectedAt:   time.Unix(c.DetectedAt, 0).UTC().Format(time.RFC3339),
			SourceHash:   c.SourceHash,
			TargetHash:   c.TargetHash,
			Resolution:   c.Resolution,
			ResolvedBy:   c.ResolvedBy,
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if err := enc.Encode(items); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}

func printConflictsTable(conflicts []store.ConflictRecord) {
	headers := []string{"ID", "PATH", "TYPE", "DETECTED", "RESOLUTION"}
	rows := make([][]string, len(conflicts))

	for i := range conflicts {
		c := &conflicts[i]

		resolution := c.Resolution
		if resolution == "" {
			resolution = "-"
		}

		rows[i] = []string{
			truncateID(c.ID),
			c.RelativePath,
			c.ConflictType.String(),
			time.Unix(c.DetectedAt, 0).UTC().Format(time.RFC3339),
			resolution,
		}
	}

	printTable(os.Stdout, headers, rows)
}

// truncateID shortens a conflict ID for table display.
func truncateID(id string) string {
	if len(id) > conflictIDPrefixLen {
		return id[:conflictIDPrefixLen]
	}

	return id
}
