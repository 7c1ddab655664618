package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cratesync/cratesync/internal/model"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the device hash cache",
		Long: `The hash cache holds the last-known (hash, size, mtime) this profile
observed for a device that exposes no live filesystem walk — the state a
device diff reconciles a fresh track list against.`,
	}

	cmd.AddCommand(newCacheListCmd())
	cmd.AddCommand(newCacheClearCmd())

	return cmd
}

func newCacheListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cached hash entries for the active profile",
		RunE:  runCacheList,
	}
}

func runCacheList(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	cache, err := cc.Store.LoadHashCache(cmd.Context(), cc.Profile.ID)
	if err != nil {
		return fmt.Errorf("loading hash cache: %w", err)
	}

	if len(cache) == 0 {
		statusf(cc.Quiet, "Hash cache is empty.\n")
		return nil
	}

	if cc.JSON {
		return printCacheJSON(cache)
	}

	printCacheTable(cache)

	return nil
}

type cacheEntryJSON struct {
	Path       string `json:"path"`
	Hash       string `json:"hash"`
	Size       uint64 `json:"size"`
	ModifiedAt string `json:"modified_at"`
}

func printCacheJSON(cache map[string]model.CachedFileHash) error {
	items := make([]cacheEntryJSON, 0, len(cache))
	for _, c := range cache {
		items = append(items, cacheEntryJSON{
			Path:       c.RelativePath,
			Hash:       c.Hash,
			Size:       c.FileSize,
			ModifiedAt: time.Unix(c.ModifiedAt, 0).UTC().Format(time.RFC3339),
		})
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(items)
}

func printCacheTable(cache map[string]model.CachedFileHash) {
	rows := make([][]string, 0, len(cache))
	for _, c := range cache {
		rows = append(rows, []string{c.RelativePath, formatSize(c.FileSize), truncateID(c.Hash)})
	}

	printTable(os.Stdout, []string{"PATH", "SIZE", "HASH"}, rows)
}

func newCacheClearCmd() *cobra.Command {
	var flagAll bool

	cmd := &cobra.Command{
		Use:   "clear [path]",
		Short: "Remove one or all cached hash entries",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCacheClear(cmd, args, flagAll)
		},
	}

	cmd.Flags().BoolVar(&flagAll, "all", false, "clear every cached entry for the active profile")

	return cmd
}

func runCacheClear(cmd *cobra.Command, args []string, all bool) error {
	if !all && len(args) == 0 {
		return fmt.Errorf("specify a relative path, or use --all to clear the whole cache")
	}

	if all && len(args) > 0 {
		return fmt.Errorf("--all and a specific path are mutually exclusive")
	}

	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	if !all {
		if err := cc.Store.DeleteHashCacheEntry(ctx, cc.Profile.ID, args[0]); err != nil {
			return fmt.Errorf("clearing cache entry: %w", err)
		}

		statusf(cc.Quiet, "Cleared cache entry for %s\n", args[0])

		return nil
	}

	cache, err := cc.Store.LoadHashCache(ctx, cc.Profile.ID)
	if err != nil {
		return fmt.Errorf("loading hash cache: %w", err)
	}

	for path := range cache {
		if err := cc.Store.DeleteHashCacheEntry(ctx, cc.Profile.ID, path); err != nil {
			return fmt.Errorf("clearing cache entry for %s: %w", path, err)
		}
	}

	statusf(cc.Quiet, "Cleared %d cache entries\n", len(cache))

	return nil
}
