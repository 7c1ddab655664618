package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/cratesync/cratesync/internal/config"
)

func newProfileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage named sync profiles in the config file",
	}

	cmd.AddCommand(newProfileAddCmd())
	cmd.AddCommand(newProfileListCmd())
	cmd.AddCommand(newProfileRemoveCmd())

	return cmd
}

func newProfileAddCmd() *cobra.Command {
	var (
		source, target, mode, strategy string
		excludes                       []string
	)

	cmd := &cobra.Command{
		Use:         "add <name>",
		Short:       "Add or replace a named sync profile",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{skipProfileAnnotation: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProfileAdd(cmd, args[0], source, target, mode, strategy, excludes)
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "source directory path (required)")
	cmd.Flags().StringVar(&target, "target", "", "target directory path (required)")
	cmd.Flags().StringVar(&mode, "mode", "", "one_way or two_way (defaults to the global default)")
	cmd.Flags().StringVar(&strategy, "conflict-strategy", "", "keep_source, keep_target, keep_both, or skip")
	cmd.Flags().StringSliceVar(&excludes, "exclude", nil, "glob pattern to exclude (repeatable)")

	cmd.MarkFlagRequired("source")
	cmd.MarkFlagRequired("target")

	return cmd
}

func runProfileAdd(cmd *cobra.Command, name, source, target, mode, strategy string, excludes []string) error {
	path, cfg, err := loadRawConfig(cmd)
	if err != nil {
		return err
	}

	cfg.Profiles[name] = config.ProfileEntry{
		SourcePath:       source,
		TargetPath:       target,
		Mode:             mode,
		ExcludePatterns:  excludes,
		ConflictStrategy: strategy,
	}

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("profile %q is invalid: %w", name, err)
	}

	if err := config.Save(path, cfg); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	statusf(flagQuiet, "Saved profile %q to %s\n", name, path)

	return nil
}

func newProfileListCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "list",
		Short:       "List profiles defined in the config file",
		Annotations: map[string]string{skipProfileAnnotation: "true"},
		RunE:        runProfileList,
	}
}

func runProfileList(cmd *cobra.Command, _ []string) error {
	_, cfg, err := loadRawConfig(cmd)
	if err != nil {
		return err
	}

	if len(cfg.Profiles) == 0 {
		fmt.Println("No profiles defined.")
		return nil
	}

	names := make([]string, 0, len(cfg.Profiles))
	for name := range cfg.Profiles {
		names = append(names, name)
	}

	sort.Strings(names)

	rows := make([][]string, 0, len(names))
	for _, name := range names {
		entry := cfg.Profiles[name]

		mode := entry.Mode
		if mode == "" {
			mode = cfg.Sync.DefaultMode
		}

		rows = append(rows, []string{name, entry.SourcePath, entry.TargetPath, mode})
	}

	printTable(os.Stdout, []string{"NAME", "SOURCE", "TARGET", "MODE"}, rows)

	return nil
}

func newProfileRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "remove <name>",
		Short:       "Remove a named sync profile from the config file",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{skipProfileAnnotation: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProfileRemove(cmd, args[0])
		},
	}
}

func runProfileRemove(cmd *cobra.Command, name string) error {
	path, cfg, err := loadRawConfig(cmd)
	if err != nil {
		return err
	}

	if _, ok := cfg.Profiles[name]; !ok {
		return fmt.Errorf("no profile named %q", name)
	}

	delete(cfg.Profiles, name)

	if err := config.Save(path, cfg); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	statusf(flagQuiet, "Removed profile %q from %s\n", name, path)

	return nil
}

// loadRawConfig resolves the config path and loads the raw Config, for the
// subcommands that manage the profile list itself rather than operating
// through a single resolved profile.
func loadRawConfig(cmd *cobra.Command) (string, *config.Config, error) {
	logger := buildLogger(nil)

	env := config.ReadEnvOverrides()
	cli := config.CLIOverrides{ConfigPath: flagConfigPath}

	path := config.ResolveConfigPath(env, cli, logger)

	cfg, err := config.LoadOrDefault(path, logger)
	if err != nil {
		return "", nil, fmt.Errorf("loading config: %w", err)
	}

	return path, cfg, nil
}
