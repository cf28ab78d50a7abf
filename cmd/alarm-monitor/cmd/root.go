package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oshokin/alarm-pipeline/internal/config"
	"github.com/oshokin/alarm-pipeline/internal/fabric"
	"github.com/oshokin/alarm-pipeline/internal/service/monitor"
	"github.com/oshokin/alarm-pipeline/internal/version"
)

var (
	// configPath stores the path to the configuration YAML file.
	configPath string
	// token authenticates the websocket connection.
	token string
	// clientID selects whose events are shown.
	clientID string
	// channels to subscribe to.
	channels []string
	// reconnectBase is the first reconnect delay.
	reconnectBase time.Duration
	// reconnectAttempts caps consecutive failed reconnects.
	reconnectAttempts int
	// jsonOutput prints raw messages.
	jsonOutput bool
	// logLevel overrides log_level from configuration.
	logLevel string

	// rootCmd represents the base command for watching the event fabric.
	rootCmd = &cobra.Command{
		Use:   "alarm-monitor [endpoint]",
		Short: "Print live alarm events and notifications.",
		Long: `Connects to the pipeline websocket fabric and prints every event,
notification and rule status it receives.

Without a token one is issued from auth.secret for --client-id, or the client
id is announced as is when the pipeline runs without authentication.
The connection is re-established with exponential backoff and the
subscriptions are restored after every reconnect.
Endpoint can be provided as argument (e.g., ws://host:8000/ws) or derived from
the configuration file.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			// Use endpoint argument if provided, otherwise rely on config.
			var endpoint string
			if len(args) > 0 {
				endpoint = args[0]
			}

			return monitor.Run(ctx, &monitor.Options{
				ConfigPath: configPath,
				Endpoint:   endpoint,
				Token:      token,
				ClientID:   clientID,
				Channels:   channels,
				Backoff:    fabric.Backoff{Base: reconnectBase, MaxAttempts: reconnectAttempts},
				Output:     cmd.OutOrStdout(),
				JSON:       jsonOutput,
				LogLevel:   logLevel,
			})
		},
	}
)

// Execute runs the alarm-monitor CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	defaults := fabric.DefaultBackoff()

	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().StringVarP(&token, "token", "t", "", "bearer token for the fabric")
	rootCmd.Flags().StringVarP(&clientID, "client-id", "u", "", "client whose events are shown")
	rootCmd.Flags().StringSliceVar(&channels, "channels", nil, "channels to subscribe to")
	rootCmd.Flags().DurationVar(&reconnectBase, "reconnect-base", defaults.Base, "first reconnect delay")
	rootCmd.Flags().IntVar(&reconnectAttempts, "reconnect-attempts", defaults.MaxAttempts, "consecutive failed reconnects before giving up")
	rootCmd.Flags().BoolVar(&jsonOutput, "json", false, "print raw JSON messages")
	rootCmd.Flags().StringVarP(&logLevel, "log-level", "l", "", "minimum log level, overrides log_level")
}
