package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oshokin/alarm-pipeline/internal/config"
	"github.com/oshokin/alarm-pipeline/internal/domain/event"
	"github.com/oshokin/alarm-pipeline/internal/service/simulator"
	"github.com/oshokin/alarm-pipeline/internal/version"
)

// errUnknownProtocol is returned for --protocol values other than contact_id and sia.
var errUnknownProtocol = errors.New("unknown protocol")

var (
	// configPath stores the configuration file path.
	configPath string
	// transport selects the panel receiver (tcp) or the ingest API (grpc).
	transport string
	// account is the panel account number.
	account string
	// protocol restricts samples to contact_id or sia.
	protocol string
	// count is the number of reports to send.
	count int
	// interval is the pause between reports.
	interval time.Duration
	// logLevel overrides log_level from configuration.
	logLevel string

	// rootCmd represents the base command for simulating an alarm panel.
	rootCmd = &cobra.Command{
		Use:   "alarm-simulator [address]",
		Short: "Send simulated Contact ID and SIA reports to the pipeline.",
		Long: `Simulates an alarm panel reporting to the pipeline.

Rotates through burglary, fire, panic, trouble and test reports in both
Contact ID and SIA formats. Reports are written to the TCP receiver, which
answers every line with ACK or NAK, or submitted through the gRPC ingest API.
Address can be provided as argument or derived from the configuration file.

With --count 0 reports are sent until interrupted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			// Use address argument if provided, otherwise rely on config.
			var address string
			if len(args) > 0 {
				address = args[0]
			}

			var p event.Protocol
			if protocol != "" {
				var ok bool
				if p, ok = event.ParseProtocol(protocol); !ok {
					return fmt.Errorf("%w %q", errUnknownProtocol, protocol)
				}
			}

			results, err := simulator.Run(ctx, &simulator.Options{
				ConfigPath: configPath,
				Transport:  transport,
				Address:    address,
				Account:    account,
				Protocol:   p,
				Count:      count,
				Interval:   interval,
				LogLevel:   logLevel,
			})

			var rejected int

			for _, r := range results {
				if !r.Accepted {
					rejected++
				}
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Sent %d reports, %d rejected\n", len(results), rejected)

			return err
		},
	}
)

// Execute runs the alarm-simulator CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().StringVarP(&transport, "transport", "t", simulator.TransportTCP, "tcp or grpc")
	rootCmd.Flags().StringVarP(&account, "account", "a", simulator.DefaultAccount, "panel account number")
	rootCmd.Flags().StringVarP(&protocol, "protocol", "p", "", "contact_id or sia, both when empty")
	rootCmd.Flags().IntVarP(&count, "count", "n", 10, "number of reports, 0 sends until interrupted")
	rootCmd.Flags().DurationVarP(&interval, "interval", "i", simulator.DefaultInterval, "pause between reports")
	rootCmd.Flags().StringVarP(&logLevel, "log-level", "l", "", "minimum log level, overrides log_level")
}
