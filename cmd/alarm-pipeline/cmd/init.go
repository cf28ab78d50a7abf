package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oshokin/alarm-pipeline/internal/config"
	"github.com/oshokin/alarm-pipeline/internal/domain/rule"
	"github.com/oshokin/alarm-pipeline/internal/repository/rules"
)

// errFileExists is returned when init would overwrite an existing file.
var errFileExists = errors.New("file already exists, use --force to overwrite")

// force allows init commands to overwrite existing files.
var force bool

// attachInitCommands adds `config init` and `rules init` to root.
func attachInitCommands(root *cobra.Command) {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file.",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "init [path]",
		Short: "Write a configuration file with default settings.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if len(args) > 0 {
				path = args[0]
			}

			if err := checkOverwrite(path); err != nil {
				return err
			}

			if err := config.Save(path, config.Default()); err != nil {
				return err
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Configuration written to", path)

			return nil
		},
	})

	rulesCmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage the automation rule file.",
	}

	rulesCmd.AddCommand(&cobra.Command{
		Use:   "init [path]",
		Short: "Write the default automation rules to a YAML file.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DefaultRulesFilename
			if len(args) > 0 {
				path = args[0]
			}

			if err := checkOverwrite(path); err != nil {
				return err
			}

			repo := rules.NewFileRepository(path)
			if err := repo.Save(cmd.Context(), rule.Defaults()); err != nil {
				return err
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Rules written to", path)

			return nil
		},
	})

	configCmd.PersistentFlags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	rulesCmd.PersistentFlags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")

	root.AddCommand(configCmd, rulesCmd)
}

// checkOverwrite refuses to replace path unless --force is set.
func checkOverwrite(path string) error {
	if force {
		return nil
	}

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s: %w", path, errFileExists)
	}

	return nil
}
