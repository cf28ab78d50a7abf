package receiver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/oshokin/alarm-pipeline/internal/decoder"
	"github.com/oshokin/alarm-pipeline/internal/domain/event"
	"github.com/oshokin/alarm-pipeline/internal/logger"
)

// Acknowledgement bytes.
const (
	ACK byte = 0x06
	NAK byte = 0x15
)

const (
	// DefaultReadTimeout closes idle panel connections.
	DefaultReadTimeout = 2 * time.Minute
	// DefaultDedupeWindow is how long a payload is remembered per peer.
	DefaultDedupeWindow = 30 * time.Second
	// DefaultDedupeSize bounds the number of remembered payloads.
	DefaultDedupeSize = 1024
)

// Submitter accepts decoded payloads.
type Submitter interface {
	Submit(ctx context.Context, protocol event.Protocol, raw string) (event.AlarmEvent, error)
}

// Receiver is the panel TCP endpoint.
type Receiver struct {
	submitter    Submitter
	readTimeout  time.Duration
	dedupeSize   int
	dedupeWindow time.Duration
	seen         *expirable.LRU[string, struct{}]

	wg sync.WaitGroup
}

// Option customizes a Receiver.
type Option func(*Receiver)

// WithReadTimeout sets the idle timeout of a panel connection.
func WithReadTimeout(d time.Duration) Option {
	return func(r *Receiver) {
		if d > 0 {
			r.readTimeout = d
		}
	}
}

// WithDedupe sets the retransmission cache size and window.
func WithDedupe(size int, window time.Duration) Option {
	return func(r *Receiver) {
		if size > 0 {
			r.dedupeSize = size
		}

		if window > 0 {
			r.dedupeWindow = window
		}
	}
}

// New creates a Receiver.
func New(submitter Submitter, options ...Option) *Receiver {
	r := &Receiver{
		submitter:    submitter,
		readTimeout:  DefaultReadTimeout,
		dedupeSize:   DefaultDedupeSize,
		dedupeWindow: DefaultDedupeWindow,
	}

	for _, option := range options {
		option(r)
	}

	r.seen = expirable.NewLRU[string, struct{}](r.dedupeSize, nil, r.dedupeWindow)

	return r
}

// ListenAndServe listens on addr and serves until ctx is done.
func (r *Receiver) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig

	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	return r.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then closes ln and waits
// for open connections to finish.
func (r *Receiver) Serve(ctx context.Context, ln net.Listener) error {
	logger.InfoKV(ctx, "Receiver listening", "addr", ln.Addr().String())

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	defer r.wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}

			return fmt.Errorf("accept: %w", err)
		}

		r.wg.Add(1)

		go func() {
			defer r.wg.Done()
			r.handle(ctx, conn)
		}()
	}
}

// handle serves one panel connection.
func (r *Receiver) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	peer := peerHost(conn.RemoteAddr())
	ctx = logger.WithKV(ctx, "peer", peer)

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	logger.DebugKV(ctx, "Panel connected")

	scanner := bufio.NewScanner(conn)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(r.readTimeout))

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil && ctx.Err() == nil {
				logger.DebugKV(ctx, "Panel connection closed", "error", err)
			}

			return
		}

		payload := strings.TrimSpace(scanner.Text())
		if payload == "" {
			continue
		}

		if _, err := conn.Write([]byte{r.receive(ctx, peer, payload)}); err != nil {
			logger.WarnKV(ctx, "Failed to acknowledge payload", "error", err)

			return
		}
	}
}

// receive submits a payload and returns the acknowledgement byte.
func (r *Receiver) receive(ctx context.Context, peer, payload string) byte {
	key := peer + "|" + payload
	if _, ok := r.seen.Get(key); ok {
		logger.DebugKV(ctx, "Duplicate payload acknowledged", "payload", payload)

		return ACK
	}

	ev, err := r.submitter.Submit(ctx, decoder.Detect(payload), payload)
	if err != nil {
		return NAK
	}

	r.seen.Add(key, struct{}{})

	logger.InfoKV(ctx, "Payload accepted",
		"event_id", ev.ID,
		"account", ev.AccountNumber,
		"code", ev.EventCode,
		"priority", ev.Priority)

	return ACK
}

func peerHost(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}

	return host
}
