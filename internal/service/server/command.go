package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/oshokin/alarm-pipeline/internal/api/grpc/ingest"
	"github.com/oshokin/alarm-pipeline/internal/config"
	"github.com/oshokin/alarm-pipeline/internal/logger"
	"github.com/oshokin/alarm-pipeline/internal/receiver"
	"github.com/oshokin/alarm-pipeline/internal/service/common"
)

// readHeaderTimeout bounds slow HTTP clients.
const readHeaderTimeout = 10 * time.Second

// Options controls the alarm-pipeline process and configuration.
type Options struct {
	// ConfigPath specifies the path to settings YAML file.
	ConfigPath string
	// HTTPAddress overrides http.listen_addr.
	HTTPAddress string
	// RulesPath overrides rules.path.
	RulesPath string
	// LogLevel overrides log_level.
	LogLevel string
}

// Run starts every enabled listener and blocks until ctx is canceled or a
// listener fails.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "alarm-pipeline")

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	if err = common.ApplyLogLevel(cfg, opts.LogLevel); err != nil {
		return err
	}

	if opts.HTTPAddress != "" {
		cfg.HTTP.ListenAddr = opts.HTTPAddress
	}

	if opts.RulesPath != "" {
		cfg.Rules.Path = opts.RulesPath
	}

	svc, err := newService(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialise service: %w", err)
	}
	defer svc.close(ctx)

	return svc.serve(ctx)
}

// serve runs the processing stages and listeners until ctx is done.
func (s *service) serve(ctx context.Context) error {
	listeners, err := s.listen(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	// Subscribe before any stage starts so a failure has nothing to unwind.
	var changes <-chan struct{}

	if s.bus != nil {
		if changes, err = s.bus.RulesChanged(gctx); err != nil {
			closeAll(listeners)

			return err
		}
	}

	s.pool.Start(gctx)
	defer s.pool.Stop()

	g.Go(func() error {
		s.hub.Run(gctx)

		return nil
	})

	g.Go(func() error {
		s.pipeline.Run(gctx)

		return nil
	})

	if changes != nil {
		g.Go(func() error {
			s.reloader.Watch(logger.WithName(gctx, "rules"), changes)

			return nil
		})
	}

	if listeners.receiver != nil {
		rcv := receiver.New(s.pipeline,
			receiver.WithReadTimeout(s.cfg.Receiver.ReadTimeout),
			receiver.WithDedupe(s.cfg.Receiver.DedupeSize, s.cfg.Receiver.DedupeWindow))

		g.Go(func() error {
			return rcv.Serve(logger.WithName(gctx, "receiver"), listeners.receiver)
		})
	}

	if listeners.grpc != nil {
		grpcServer := grpc.NewServer()
		ingest.RegisterIngestServer(grpcServer, ingest.NewServer(s.pipeline))

		g.Go(func() error {
			<-gctx.Done()
			logger.Info(ctx, "Shutting down gRPC server")
			grpcServer.GracefulStop()

			return nil
		})

		g.Go(func() error {
			logger.InfoKV(ctx, "Ingest API listening", "addr", listeners.grpc.Addr().String())

			if err := grpcServer.Serve(listeners.grpc); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("serve gRPC: %w", err)
			}

			return nil
		})
	}

	if listeners.http != nil {
		httpServer := &http.Server{
			Handler:           s.routes(gctx),
			ReadHeaderTimeout: readHeaderTimeout,
			BaseContext:       func(net.Listener) context.Context { return gctx },
		}

		g.Go(func() error {
			<-gctx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.HTTP.ShutdownTimeout)
			defer cancel()

			logger.Info(ctx, "Shutting down HTTP server")

			// Hijacked websocket connections end through the hub, not Shutdown.
			return httpServer.Shutdown(shutdownCtx)
		})

		g.Go(func() error {
			logger.InfoKV(ctx, "HTTP server listening", "addr", listeners.http.Addr().String())

			if err := httpServer.Serve(listeners.http); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve HTTP: %w", err)
			}

			return nil
		})
	}

	err = g.Wait()
	logger.Info(ctx, "Alarm pipeline stopped")

	return err
}

// listeners holds the bound sockets; nil entries are disabled.
type listeners struct {
	receiver net.Listener
	grpc     net.Listener
	http     net.Listener
}

// listen binds every configured address before anything starts serving.
func (s *service) listen(ctx context.Context) (*listeners, error) {
	var (
		lc  net.ListenConfig
		out = new(listeners)
	)

	bind := func(addr string, dst *net.Listener) error {
		if addr == "" {
			return nil
		}

		ln, err := lc.Listen(ctx, "tcp", addr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", addr, err)
		}

		*dst = ln

		return nil
	}

	for _, b := range []struct {
		addr string
		dst  *net.Listener
	}{
		{s.cfg.Receiver.ListenAddr, &out.receiver},
		{s.cfg.GRPC.ListenAddr, &out.grpc},
		{s.cfg.HTTP.ListenAddr, &out.http},
	} {
		if err := bind(b.addr, b.dst); err != nil {
			closeAll(out)

			return nil, err
		}
	}

	return out, nil
}

func closeAll(l *listeners) {
	for _, ln := range []net.Listener{l.receiver, l.grpc, l.http} {
		if ln != nil {
			_ = ln.Close()
		}
	}
}
