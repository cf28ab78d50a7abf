package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/oshokin/alarm-pipeline/internal/config"
	"github.com/oshokin/alarm-pipeline/internal/domain/event"
	"github.com/oshokin/alarm-pipeline/internal/fabric"
	"github.com/oshokin/alarm-pipeline/internal/logger"
	"github.com/oshokin/alarm-pipeline/internal/service/common"
)

// defaultTokenTTL is the lifetime of tokens minted from the shared secret.
const defaultTokenTTL = time.Hour

// Options controls the monitor.
type Options struct {
	// ConfigPath to YAML settings file, used for the endpoint and secret.
	ConfigPath string
	// Endpoint overrides the websocket URL derived from http.listen_addr.
	Endpoint string
	// Token authenticates the connection. Without one a token is minted from
	// auth.secret for ClientID, or ClientID is sent as is.
	Token string
	// ClientID is the client whose events are shown.
	ClientID string
	// Channels to subscribe to; defaults to the client channel, or all_events
	// without a client.
	Channels []string
	// Backoff overrides the reconnect policy.
	Backoff fabric.Backoff
	// Output receives one line per message; defaults to stdout.
	Output io.Writer
	// JSON prints raw messages instead of formatted lines.
	JSON bool
	// LogLevel overrides log_level.
	LogLevel string
}

// errNoEndpoint is returned when no websocket endpoint can be determined.
var errNoEndpoint = errors.New("no websocket endpoint configured")

// Run prints fabric messages until ctx is canceled or reconnects are exhausted.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "alarm-monitor")

	// Load settings from configuration file.
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	if err = common.ApplyLogLevel(cfg, opts.LogLevel); err != nil {
		return err
	}

	// JSON lines share stdout with the log, so only warnings and errors remain.
	if opts.JSON {
		ctx = logger.ToContext(ctx, logger.FromContext(ctx).WithOptions(logger.WithMinLevel(zapcore.WarnLevel)))
	}

	endpoint := opts.Endpoint
	if endpoint == "" {
		if endpoint, err = endpointFor(cfg.HTTP.ListenAddr); err != nil {
			return err
		}
	}

	connectorOptions, err := connectorOptions(cfg, opts)
	if err != nil {
		return err
	}

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	connector := fabric.NewConnector(endpoint, connectorOptions...)
	defer connector.Close()

	logger.InfoKV(ctx, "Monitoring", "endpoint", endpoint, "client_id", opts.ClientID)

	result := make(chan error, 1)

	go func() {
		result <- connector.Run(ctx)
	}()

	signals, messages := connector.Signals(), connector.Messages()

	for {
		select {
		case s, ok := <-signals:
			if !ok {
				signals = nil

				continue
			}

			logger.InfoKV(ctx, "Connection state changed", "state", s.String())
		case msg, ok := <-messages:
			if !ok {
				return finish(<-result)
			}

			line := Format(msg)
			if opts.JSON {
				line = MarshalLine(msg)
			}

			if line != "" {
				_, _ = fmt.Fprintln(out, line)
			}
		}
	}
}

// finish maps a shutdown caused by cancellation to success.
func finish(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

// connectorOptions derives authentication and subscriptions.
func connectorOptions(cfg *config.Config, opts *Options) ([]fabric.ConnectorOption, error) {
	var options []fabric.ConnectorOption

	switch {
	case opts.Token != "":
		options = append(options, fabric.WithToken(opts.Token))
	case opts.ClientID != "" && cfg.Auth.Secret != "":
		token, err := fabric.NewJWTAuthenticator(cfg.Auth.Secret).Issue(opts.ClientID, defaultTokenTTL)
		if err != nil {
			return nil, fmt.Errorf("issue token: %w", err)
		}

		options = append(options, fabric.WithToken(token))
	case opts.ClientID != "":
		options = append(options, fabric.WithClientID(opts.ClientID))
	}

	channels := opts.Channels
	if len(channels) == 0 {
		channels = []string{fabric.AllEvents}

		if opts.ClientID != "" {
			channels = []string{fabric.ClientChannel(opts.ClientID)}
		}
	}

	options = append(options,
		fabric.WithChannels(channels...),
		fabric.WithClientPingInterval(cfg.Fabric.PingInterval))

	if opts.Backoff.Base > 0 {
		options = append(options, fabric.WithBackoff(opts.Backoff))
	}

	return options, nil
}

// endpointFor builds the websocket URL served on listen.
func endpointFor(listen string) (string, error) {
	if listen == "" {
		return "", errNoEndpoint
	}

	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "", fmt.Errorf("invalid http.listen_addr: %w", err)
	}

	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}

	u := url.URL{Scheme: "ws", Host: net.JoinHostPort(host, port), Path: "/ws"}

	return u.String(), nil
}

// Format renders a fabric message as one line. Control replies are skipped.
func Format(msg fabric.Message) string {
	switch msg.Type {
	case fabric.TypeEvent:
		var ev event.AlarmEvent
		if err := msg.Decode(&ev); err != nil {
			return fmt.Sprintf("event <undecodable: %v>", err)
		}

		return fmt.Sprintf("[%s] %s %s account=%s code=%s zone=%s status=%s",
			ev.Priority, ev.ReceivedAt.Format(time.RFC3339), ev.Description,
			ev.AccountNumber, ev.EventCode, ev.Zone, msg.Status)
	case fabric.TypeNotification:
		var n event.Notification
		if err := msg.Decode(&n); err != nil {
			return fmt.Sprintf("notification <undecodable: %v>", err)
		}

		return fmt.Sprintf("[%s] %s: %s (rule %s)", n.Priority, n.Title, n.Message, n.RuleID)
	case fabric.TypeError:
		return "error: " + msg.Message
	default:
		return ""
	}
}

// MarshalLine renders any message as one line of JSON.
func MarshalLine(msg fabric.Message) string {
	data, err := json.Marshal(msg)
	if err != nil {
		return ""
	}

	return string(data)
}
