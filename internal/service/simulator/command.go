package simulator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/oshokin/alarm-pipeline/internal/config"
	"github.com/oshokin/alarm-pipeline/internal/domain/event"
	"github.com/oshokin/alarm-pipeline/internal/logger"
	"github.com/oshokin/alarm-pipeline/internal/receiver"
	"github.com/oshokin/alarm-pipeline/internal/service/common"
)

// Transports.
const (
	TransportTCP  = "tcp"
	TransportGRPC = "grpc"
)

const (
	// DefaultAccount is the simulated panel account.
	DefaultAccount = "1234"
	// DefaultInterval is the pause between reports.
	DefaultInterval = 2 * time.Second
	// ackTimeout bounds the wait for the receiver's answer.
	ackTimeout = 5 * time.Second
	// accountLength is the fixed width of panel accounts.
	accountLength = 4
)

var (
	// errUnknownTransport is returned for transports other than tcp and grpc.
	errUnknownTransport = errors.New("unknown transport")
	// errInvalidAccount is returned for accounts that are not four characters.
	errInvalidAccount = errors.New("account must be 4 characters")
	// errNoAddress is returned when neither config nor flags provide an address.
	errNoAddress = errors.New("no target address configured")
)

// Options controls the simulator.
type Options struct {
	// ConfigPath to YAML settings file, used for default addresses.
	ConfigPath string
	// Transport is tcp (panel receiver) or grpc (ingest API).
	Transport string
	// Address overrides the target address from config.
	Address string
	// Account is the panel account number in every payload.
	Account string
	// Protocol restricts samples to one protocol; empty sends both.
	Protocol event.Protocol
	// Count is the number of reports to send; 0 sends until canceled.
	Count int
	// Interval is the pause between reports.
	Interval time.Duration
	// LogLevel overrides log_level.
	LogLevel string
}

// Result is the outcome of one report.
type Result struct {
	Sample   Sample
	Accepted bool
}

// sender delivers one sample.
type sender interface {
	send(ctx context.Context, s Sample) (bool, error)
	close() error
}

// Run sends samples in rotation and returns the per-report outcomes.
func Run(ctx context.Context, opts *Options) ([]Result, error) {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "alarm-simulator")

	// Load settings from configuration file.
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	if err = common.ApplyLogLevel(cfg, opts.LogLevel); err != nil {
		return nil, err
	}

	if opts.Account == "" {
		opts.Account = DefaultAccount
	}

	if len(opts.Account) != accountLength {
		return nil, fmt.Errorf("%w: %q", errInvalidAccount, opts.Account)
	}

	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}

	samples, err := Samples(opts.Account, opts.Protocol)
	if err != nil {
		return nil, err
	}

	// Connect using the selected transport.
	s, err := newSender(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = s.close()
	}()

	var results []Result

	for i := 0; opts.Count <= 0 || i < opts.Count; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return results, nil
			case <-time.After(opts.Interval):
			}
		}

		sample := samples[i%len(samples)]

		accepted, err := s.send(ctx, sample)
		if err != nil {
			return results, fmt.Errorf("send %q: %w", sample.Label, err)
		}

		logger.InfoKV(ctx, "Report sent",
			"label", sample.Label,
			"protocol", sample.Protocol,
			"payload", sample.Payload,
			"accepted", accepted)

		results = append(results, Result{Sample: sample, Accepted: accepted})
	}

	return results, nil
}

// newSender connects the selected transport.
//
//nolint:ireturn // The transport is chosen at runtime.
func newSender(ctx context.Context, cfg *config.Config, opts *Options) (sender, error) {
	switch opts.Transport {
	case "", TransportTCP:
		addr := opts.Address
		if addr == "" {
			addr = dialAddress(cfg.Receiver.ListenAddr)
		}

		if addr == "" {
			return nil, errNoAddress
		}

		var d net.Dialer

		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("connect to receiver %s: %w", addr, err)
		}

		return &tcpSender{conn: conn, reader: bufio.NewReader(conn)}, nil
	case TransportGRPC:
		addr := opts.Address
		if addr == "" {
			addr = dialAddress(cfg.GRPC.ListenAddr)
		}

		if addr == "" {
			return nil, errNoAddress
		}

		client, err := common.Dial(ctx, addr)
		if err != nil {
			return nil, err
		}

		return &grpcSender{client: client}, nil
	default:
		return nil, fmt.Errorf("%w %q", errUnknownTransport, opts.Transport)
	}
}

// dialAddress turns a listen address such as ":9000" into a loopback target.
func dialAddress(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return listen
	}

	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}

	return net.JoinHostPort(host, port)
}

// tcpSender writes lines to the panel receiver and reads ACK/NAK.
type tcpSender struct {
	conn   net.Conn
	reader *bufio.Reader
}

func (t *tcpSender) send(_ context.Context, s Sample) (bool, error) {
	if err := t.conn.SetDeadline(time.Now().Add(ackTimeout)); err != nil {
		return false, err
	}

	if _, err := t.conn.Write([]byte(s.Payload + "\r\n")); err != nil {
		return false, fmt.Errorf("write: %w", err)
	}

	answer, err := t.reader.ReadByte()
	if err != nil {
		return false, fmt.Errorf("read acknowledgement: %w", err)
	}

	return answer == receiver.ACK, nil
}

func (t *tcpSender) close() error {
	return t.conn.Close()
}

// grpcSender submits payloads through the ingest API.
type grpcSender struct {
	client *common.Client
}

func (g *grpcSender) send(ctx context.Context, s Sample) (bool, error) {
	ev, err := g.client.Submit(ctx, s.Protocol, s.Payload)
	if err != nil {
		logger.WarnKV(ctx, "Report rejected", "label", s.Label, "error", err)

		return false, nil //nolint:nilerr // A rejected report is an outcome, not a failure.
	}

	logger.DebugKV(ctx, "Event accepted", "event_id", ev.ID)

	return true, nil
}

func (g *grpcSender) close() error {
	return g.client.Close()
}
