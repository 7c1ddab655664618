package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cratesync/cratesync/internal/engine"
	"github.com/cratesync/cratesync/internal/model"
)

// deviceCatalogEntry is the wire shape of one track in a device's exported
// catalog file — the portable stand-in for a live filesystem walk on
// devices (MTP players, read-only mounts) that cratesync can't walk directly.
type deviceCatalogEntry struct {
	RelativePath string `json:"relative_path"`
	FileSize     uint64 `json:"file_size"`
	ModifiedAt   int64  `json:"modified_at"`
	Hash         string `json:"hash"`
}

func newDeviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "device",
		Short: "Reconcile against a device that exposes no live filesystem walk",
		Long: `Some targets — MTP players, read-only mounts — can't be walked like a
regular directory tree. Instead the caller supplies a catalog file: a JSON
array of every track the device currently reports, each already carrying its
content hash. Device diff compares that catalog against the hash cache this
profile persisted last time, without touching any filesystem itself.`,
	}

	cmd.AddCommand(newDeviceDiffCmd())

	return cmd
}

func newDeviceDiffCmd() *cobra.Command {
	var flagCatalog string

	cmd := &cobra.Command{
		Use:   "diff --catalog <path>",
		Short: "Diff a device catalog file against the cached hash state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDeviceDiff(cmd, flagCatalog)
		},
	}

	cmd.Flags().StringVar(&flagCatalog, "catalog", "", "path to the device's JSON track catalog (required)")
	cmd.Flags().Bool("dry-run", false, "compute the diff without updating the persisted hash cache")

	return cmd
}

func runDeviceDiff(cmd *cobra.Command, catalogPath string) error {
	if catalogPath == "" {
		return fmt.Errorf("--catalog is required")
	}

	cc := mustCLIContext(cmd.Context())

	tracks, err := loadDeviceCatalog(catalogPath)
	if err != nil {
		return fmt.Errorf("loading device catalog: %w", err)
	}

	algo, err := parseAlgorithm(cc.Config.Hashing.Algorithm)
	if err != nil {
		return err
	}

	dryRun, _ := cmd.Flags().GetBool("dry-run")

	diff, err := cc.Engine.RunDeviceDiff(cmd.Context(), *cc.Profile, tracks, engine.RunOptions{
		DryRun:    dryRun,
		Algorithm: algo,
	})
	if err != nil {
		return fmt.Errorf("computing device diff: %w", err)
	}

	if cc.JSON {
		return printDiffJSON(diff)
	}

	printDiffTable(diff)

	return nil
}

// loadDeviceCatalog reads a device's exported track catalog from a JSON file
// and converts it to the model.Track shape diffengine.DeviceDiff expects.
func loadDeviceCatalog(path string) ([]model.Track, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []deviceCatalogEntry
	if err := json.NewDecoder(f).Decode(&entries); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}

	tracks := make([]model.Track, len(entries))
	for i, e := range entries {
		tracks[i] = model.Track{
			RelativePath: e.RelativePath,
			FileSize:     e.FileSize,
			ModifiedAt:   e.ModifiedAt,
			Hash:         e.Hash,
			HashKnown:    e.Hash != "",
		}
	}

	return tracks, nil
}
