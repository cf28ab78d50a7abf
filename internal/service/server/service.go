package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"

	"github.com/oshokin/alarm-pipeline/internal/action"
	"github.com/oshokin/alarm-pipeline/internal/bus"
	"github.com/oshokin/alarm-pipeline/internal/config"
	"github.com/oshokin/alarm-pipeline/internal/engine"
	"github.com/oshokin/alarm-pipeline/internal/fabric"
	"github.com/oshokin/alarm-pipeline/internal/logger"
	"github.com/oshokin/alarm-pipeline/internal/metrics"
	"github.com/oshokin/alarm-pipeline/internal/pipeline"
	"github.com/oshokin/alarm-pipeline/internal/repository/database"
	"github.com/oshokin/alarm-pipeline/internal/repository/panels"
	"github.com/oshokin/alarm-pipeline/internal/repository/rules"
)

// service owns every component of a running pipeline.
type service struct {
	cfg      *config.Config
	metrics  *metrics.Metrics
	hub      *fabric.Hub
	pool     *action.Pool
	engine   *engine.Engine
	pipeline *pipeline.Pipeline
	reloader *rules.Reloader

	// Optional collaborators, nil when not configured.
	db    *sql.DB
	bus   *bus.Bus
	relay *action.MQTTRelay
}

// newService wires the components described by cfg. Collaborators that are
// not configured fall back to logging implementations.
func newService(ctx context.Context, cfg *config.Config) (*service, error) {
	s := &service{
		cfg:     cfg,
		metrics: metrics.New(),
	}

	hubOptions := []fabric.HubOption{
		fabric.WithSendBuffer(cfg.Fabric.SendBuffer),
		fabric.WithBroadcastBuffer(cfg.Fabric.BroadcastBuffer),
		fabric.WithHubMetrics(s.metrics),
	}

	if cfg.Auth.Secret != "" {
		hubOptions = append(hubOptions, fabric.WithAuthenticator(fabric.NewJWTAuthenticator(cfg.Auth.Secret)))
	}

	s.hub = fabric.NewHub(hubOptions...)

	var err error
	if err = s.connect(ctx); err != nil {
		s.close(ctx)

		return nil, err
	}

	var relay action.Relay = action.LogRelay{}
	if s.relay != nil {
		relay = s.relay
	}

	s.pool = action.NewPool(
		action.WithWorkers(cfg.Actions.Workers),
		action.WithQueueSize(cfg.Actions.QueueSize),
		action.WithTimeout(cfg.Actions.Timeout),
		action.WithMetrics(s.metrics),
		action.WithExecutors(
			action.NewNotificationExecutor(s.hub),
			action.NewEmailExecutor(action.LogDeliverer{}),
			action.NewSMSExecutor(action.LogDeliverer{}),
			action.NewWebhookExecutor(cfg.Actions.Timeout),
			action.NewCameraExecutor(cfg.Camera.BaseURL, cfg.Actions.Timeout),
			action.NewOutputExecutor(relay),
		),
	)

	s.engine = engine.New(s.pool,
		engine.WithLocation(cfg.Location()),
		engine.WithMetrics(s.metrics))

	pipelineOptions := []pipeline.Option{
		pipeline.WithWorkers(cfg.Pipeline.Workers),
		pipeline.WithQueueSize(cfg.Pipeline.QueueSize),
		pipeline.WithDirectory(s.directory()),
		pipeline.WithMetrics(s.metrics),
	}

	if s.bus != nil {
		pipelineOptions = append(pipelineOptions, pipeline.WithSink(s.bus))
	}

	s.pipeline = pipeline.New(s.engine, s.hub, pipelineOptions...)
	s.reloader = rules.NewReloader(s.ruleSource(), s.engine)

	// An unreadable source leaves the empty snapshot active until a reload succeeds.
	snapshot, err := s.reloader.Reload(ctx)
	if err != nil {
		logger.ErrorKV(ctx, "Initial rule load failed, running without rules",
			"source", cfg.Rules.Source, "error", err)
	} else {
		logger.InfoKV(ctx, "Rules active", "snapshot", snapshot.String(), "source", cfg.Rules.Source)
	}

	return s, nil
}

// connect opens the configured external collaborators.
func (s *service) connect(ctx context.Context) error {
	var err error

	if s.cfg.Postgres.DSN != "" {
		if s.db, err = database.Open(ctx, s.cfg.Postgres.DSN); err != nil {
			return err
		}
	}

	if s.cfg.NATS.URL != "" {
		s.bus, err = bus.Connect(ctx, s.cfg.NATS.URL, bus.Options{
			EventsSubject: s.cfg.NATS.EventsSubject,
			RulesSubject:  s.cfg.NATS.RulesSubject,
		})
		if err != nil {
			return err
		}
	}

	if s.cfg.MQTT.Broker != "" {
		s.relay, err = action.NewMQTTRelay(ctx, action.MQTTOptions{
			Broker:      s.cfg.MQTT.Broker,
			ClientID:    s.cfg.MQTT.ClientID,
			Username:    s.cfg.MQTT.Username,
			Password:    s.cfg.MQTT.Password,
			TopicPrefix: s.cfg.MQTT.TopicPrefix,
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// ruleSource selects the configured rule store.
//
//nolint:ireturn // The source is chosen at runtime.
func (s *service) ruleSource() rules.Source {
	if s.cfg.Rules.Source == config.RulesSourcePostgres && s.db != nil {
		return rules.WithDefaults(rules.NewPostgresSource(s.db))
	}

	return rules.WithDefaults(rules.NewFileRepository(s.cfg.Rules.Path))
}

// directory resolves owners from the static map first, then Postgres.
//
//nolint:ireturn // The directory is chosen at runtime.
func (s *service) directory() panels.Directory {
	chain := panels.Chain{panels.Static(s.cfg.Accounts)}

	if s.db != nil {
		chain = append(chain, panels.NewCached(panels.NewPostgresDirectory(s.db), 0, 0))
	}

	return chain
}

// routes builds the HTTP surface.
func (s *service) routes(ctx context.Context) http.Handler {
	r := chi.NewRouter()

	r.Use(cors.New(cors.Options{
		AllowedOrigins: s.cfg.HTTP.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
	}).Handler)

	r.Handle("/ws", fabric.NewServer(s.hub,
		fabric.WithAllowedOrigins(s.cfg.HTTP.AllowedOrigins...),
		fabric.WithPingInterval(s.cfg.Fabric.PingInterval),
		fabric.WithBaseContext(logger.WithName(ctx, "fabric"))))
	r.Handle("/metrics", s.metrics.Handler())
	r.Get("/healthz", s.handleHealth)
	r.Post("/api/rules/reload", s.handleReload)

	return r
}

// healthResponse is the /healthz body.
type healthResponse struct {
	Status      string `json:"status"`
	RuleVersion uint64 `json:"ruleVersion"`
	Rules       int    `json:"rules"`
	Quarantined int    `json:"quarantined"`
	Connections int    `json:"connections"`
}

func (s *service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	snapshot := s.engine.Snapshot()

	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "ok",
		RuleVersion: snapshot.Version,
		Rules:       len(snapshot.Rules),
		Quarantined: len(snapshot.Quarantined),
		Connections: s.hub.Len(),
	})
}

// reloadResponse is the /api/rules/reload body.
type reloadResponse struct {
	Version     uint64   `json:"version,omitempty"`
	Rules       int      `json:"rules,omitempty"`
	Quarantined []string `json:"quarantined,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// handleReload reloads local rules and tells other instances to do the same.
func (s *service) handleReload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	snapshot, err := s.reloader.Reload(ctx)
	if err != nil {
		logger.ErrorKV(ctx, "Rule reload rejected", "error", err)
		writeJSON(w, http.StatusUnprocessableEntity, reloadResponse{Error: err.Error()})

		return
	}

	if s.bus != nil {
		if err = s.bus.NotifyRulesChanged(ctx); err != nil {
			logger.WarnKV(ctx, "Failed to notify rule change", "error", err)
		}
	}

	writeJSON(w, http.StatusOK, reloadResponse{
		Version:     snapshot.Version,
		Rules:       len(snapshot.Rules),
		Quarantined: snapshot.Quarantined,
	})
}

// close releases external collaborators.
func (s *service) close(ctx context.Context) {
	if s.relay != nil {
		s.relay.Close()
	}

	if s.bus != nil {
		if err := s.bus.Close(); err != nil && !errors.Is(err, bus.ErrClosed) {
			logger.WarnKV(ctx, "Failed to close NATS connection", "error", err)
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			logger.WarnKV(ctx, "Failed to close database", "error", err)
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
