package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/alarm-pipeline/internal/config"
	"github.com/oshokin/alarm-pipeline/internal/service/server"
	"github.com/oshokin/alarm-pipeline/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// rulesPath overrides the rule file from configuration.
	rulesPath string
	// logLevel overrides log_level from configuration.
	logLevel string

	// rootCmd represents the base command for running the pipeline.
	rootCmd = &cobra.Command{
		Use:   "alarm-pipeline [http-address]",
		Short: "Receive panel reports, evaluate rules and fan events out to clients.",
		Long: `Starts the alarm event pipeline.

Panels report Contact ID or SIA lines over TCP to the receiver, integrations
submit the same payloads over the gRPC ingest API. Every decoded event is
classified, matched against the automation rules, published to NATS when
configured and broadcast to websocket subscribers on /ws.

The HTTP listen address can be provided as argument to override config (e.g., :8080).
Rules are read from the YAML file or the automation_rules table and reloaded
on POST /api/rules/reload or a NATS change notification.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			// Use listen address argument if provided, otherwise rely on config.
			var httpAddress string
			if len(args) > 0 {
				httpAddress = args[0]
			}

			options := &server.Options{
				ConfigPath:  configPath,
				HTTPAddress: httpAddress,
				RulesPath:   rulesPath,
				LogLevel:    logLevel,
			}

			return server.Run(ctx, options)
		},
	}
)

// Execute runs the alarm-pipeline CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)
	attachInitCommands(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.PersistentFlags().
		StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().StringVarP(&rulesPath, "rules", "r", "", "path to the rule file, overrides rules.path")
	rootCmd.Flags().StringVarP(&logLevel, "log-level", "l", "", "minimum log level, overrides log_level")
}
