package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/oshokin/alarm-pipeline/internal/logger"
)

// Config holds the settings of the pipeline binaries.
type Config struct {
	// LogLevel is the minimum level written to the log.
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
	// Receiver is the TCP listener panels report to.
	Receiver ReceiverConfig `yaml:"receiver" mapstructure:"receiver"`
	// GRPC is the ingest API listener.
	GRPC GRPCConfig `yaml:"grpc" mapstructure:"grpc"`
	// HTTP serves the websocket fabric, metrics and admin routes.
	HTTP HTTPConfig `yaml:"http" mapstructure:"http"`
	// Auth configures subscriber token verification.
	Auth AuthConfig `yaml:"auth" mapstructure:"auth"`
	// Rules selects where automation rules are loaded from.
	Rules RulesConfig `yaml:"rules" mapstructure:"rules"`
	// Postgres is the relational store holding rules and panels.
	Postgres PostgresConfig `yaml:"postgres" mapstructure:"postgres"`
	// NATS carries rule change notifications and processed events.
	NATS NATSConfig `yaml:"nats" mapstructure:"nats"`
	// MQTT is the broker output relays listen on.
	MQTT MQTTConfig `yaml:"mqtt" mapstructure:"mqtt"`
	// Camera is the recording collaborator.
	Camera CameraConfig `yaml:"camera" mapstructure:"camera"`
	// Actions sizes the action executor pool.
	Actions ActionsConfig `yaml:"actions" mapstructure:"actions"`
	// Pipeline sizes the event processing stage.
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
	// Fabric tunes subscriber connections.
	Fabric FabricConfig `yaml:"fabric" mapstructure:"fabric"`
	// Accounts maps panel account numbers to owning client IDs.
	Accounts map[string]string `yaml:"accounts,omitempty" mapstructure:"accounts"`
}

// ReceiverConfig configures the panel TCP receiver. An empty address disables it.
type ReceiverConfig struct {
	ListenAddr   string        `yaml:"listen_addr" mapstructure:"listen_addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	DedupeWindow time.Duration `yaml:"dedupe_window" mapstructure:"dedupe_window"`
	DedupeSize   int           `yaml:"dedupe_size" mapstructure:"dedupe_size"`
}

// GRPCConfig configures the ingest API. An empty address disables it.
type GRPCConfig struct {
	ListenAddr string `yaml:"listen_addr" mapstructure:"listen_addr"`
}

// HTTPConfig configures the HTTP server.
type HTTPConfig struct {
	ListenAddr      string        `yaml:"listen_addr" mapstructure:"listen_addr"`
	AllowedOrigins  []string      `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// AuthConfig holds the HMAC secret subscriber tokens are signed with.
// Without a secret subscribers identify themselves by client ID.
type AuthConfig struct {
	Secret string `yaml:"secret,omitempty" mapstructure:"secret"`
}

// RulesConfig selects the rule source.
type RulesConfig struct {
	Source string `yaml:"source" mapstructure:"source"`
	Path   string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig holds the connection string of the relational store.
type PostgresConfig struct {
	DSN string `yaml:"dsn,omitempty" mapstructure:"dsn"`
}

// NATSConfig configures the message bus. An empty URL disables it.
type NATSConfig struct {
	URL           string `yaml:"url,omitempty" mapstructure:"url"`
	EventsSubject string `yaml:"events_subject" mapstructure:"events_subject"`
	RulesSubject  string `yaml:"rules_subject" mapstructure:"rules_subject"`
}

// MQTTConfig configures the output relay broker. An empty broker logs triggers instead.
type MQTTConfig struct {
	Broker      string `yaml:"broker,omitempty" mapstructure:"broker"`
	ClientID    string `yaml:"client_id" mapstructure:"client_id"`
	Username    string `yaml:"username,omitempty" mapstructure:"username"`
	Password    string `yaml:"password,omitempty" mapstructure:"password"`
	TopicPrefix string `yaml:"topic_prefix" mapstructure:"topic_prefix"`
}

// CameraConfig points at the recording API.
type CameraConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// ActionsConfig sizes the action pool.
type ActionsConfig struct {
	Workers   int           `yaml:"workers" mapstructure:"workers"`
	QueueSize int           `yaml:"queue_size" mapstructure:"queue_size"`
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// PipelineConfig sizes event processing and sets the schedule time zone.
type PipelineConfig struct {
	Workers   int    `yaml:"workers" mapstructure:"workers"`
	QueueSize int    `yaml:"queue_size" mapstructure:"queue_size"`
	TimeZone  string `yaml:"time_zone" mapstructure:"time_zone"`
}

// FabricConfig tunes subscriber connections.
type FabricConfig struct {
	SendBuffer      int           `yaml:"send_buffer" mapstructure:"send_buffer"`
	BroadcastBuffer int           `yaml:"broadcast_buffer" mapstructure:"broadcast_buffer"`
	PingInterval    time.Duration `yaml:"ping_interval" mapstructure:"ping_interval"`
}

const (
	// DefaultConfigFilename is the default filename for settings.
	DefaultConfigFilename = "alarm-pipeline.yaml"
	// DefaultRulesFilename is the default rule file.
	DefaultRulesFilename = "alarm-rules.yaml"
	// EnvPrefix prefixes environment overrides, e.g. ALARM_PIPELINE_HTTP_LISTEN_ADDR.
	EnvPrefix = "ALARM_PIPELINE"
	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600
)

// Rule sources.
const (
	RulesSourceFile     = "file"
	RulesSourcePostgres = "postgres"
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errPostgresDSNRequired is returned when rules come from Postgres without a DSN.
	errPostgresDSNRequired = errors.New("postgres.dsn is required for the postgres rule source")
	// errUnknownRulesSource is returned for unsupported rule sources.
	errUnknownRulesSource = errors.New("unknown rules source")
)

// Default returns a configuration with every default applied.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Receiver: ReceiverConfig{
			ListenAddr:   ":9000",
			ReadTimeout:  2 * time.Minute,
			DedupeWindow: 30 * time.Second,
			DedupeSize:   1024,
		},
		GRPC: GRPCConfig{ListenAddr: ":50051"},
		HTTP: HTTPConfig{
			ListenAddr:      ":8000",
			AllowedOrigins:  []string{"*"},
			ShutdownTimeout: 10 * time.Second,
		},
		Rules: RulesConfig{Source: RulesSourceFile, Path: DefaultRulesFilename},
		NATS: NATSConfig{
			EventsSubject: "alarm.events.processed",
			RulesSubject:  "alarm.rules.changed",
		},
		MQTT:   MQTTConfig{ClientID: "alarm-pipeline", TopicPrefix: "alarm"},
		Camera: CameraConfig{BaseURL: "http://localhost:8080"},
		Actions: ActionsConfig{
			Workers:   4,
			QueueSize: 256,
			Timeout:   10 * time.Second,
		},
		Pipeline: PipelineConfig{Workers: 4, QueueSize: 1024, TimeZone: "UTC"},
		Fabric: FabricConfig{
			SendBuffer:      64,
			BroadcastBuffer: 256,
			PingInterval:    30 * time.Second,
		},
	}
}

// Load reads configuration from path, applies ALARM_PIPELINE_* environment
// overrides and validates the result. A missing file at the default path is
// not an error; a missing file at an explicit path is.
func Load(path string) (*Config, error) {
	explicit := path != "" && path != DefaultConfigFilename
	if !explicit {
		path = DefaultConfigFilename
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(filepath.Clean(path))
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, Default())

	fileRead := true

	if err := v.ReadInConfig(); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read settings: %w", err)
		}

		fileRead = false
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	// Viper folds map keys to lower case; account numbers are case sensitive.
	if fileRead {
		accounts, err := readAccounts(path)
		if err != nil {
			return nil, err
		}

		cfg.Accounts = accounts
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// readAccounts decodes the accounts section of the file at path as written.
func readAccounts(path string) (map[string]string, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var section struct {
		Accounts map[string]string `yaml:"accounts"`
	}

	if err = yaml.Unmarshal(data, &section); err != nil {
		return nil, fmt.Errorf("decode accounts: %w", err)
	}

	return section.Accounts, nil
}

// setDefaults registers every key so environment overrides reach Unmarshal.
func setDefaults(v *viper.Viper, d *Config) {
	defaults := map[string]any{
		"log_level":               d.LogLevel,
		"receiver.listen_addr":    d.Receiver.ListenAddr,
		"receiver.read_timeout":   d.Receiver.ReadTimeout,
		"receiver.dedupe_window":  d.Receiver.DedupeWindow,
		"receiver.dedupe_size":    d.Receiver.DedupeSize,
		"grpc.listen_addr":        d.GRPC.ListenAddr,
		"http.listen_addr":        d.HTTP.ListenAddr,
		"http.allowed_origins":    d.HTTP.AllowedOrigins,
		"http.shutdown_timeout":   d.HTTP.ShutdownTimeout,
		"auth.secret":             d.Auth.Secret,
		"rules.source":            d.Rules.Source,
		"rules.path":              d.Rules.Path,
		"postgres.dsn":            d.Postgres.DSN,
		"nats.url":                d.NATS.URL,
		"nats.events_subject":     d.NATS.EventsSubject,
		"nats.rules_subject":      d.NATS.RulesSubject,
		"mqtt.broker":             d.MQTT.Broker,
		"mqtt.client_id":          d.MQTT.ClientID,
		"mqtt.username":           d.MQTT.Username,
		"mqtt.password":           d.MQTT.Password,
		"mqtt.topic_prefix":       d.MQTT.TopicPrefix,
		"camera.base_url":         d.Camera.BaseURL,
		"actions.workers":         d.Actions.Workers,
		"actions.queue_size":      d.Actions.QueueSize,
		"actions.timeout":         d.Actions.Timeout,
		"pipeline.workers":        d.Pipeline.Workers,
		"pipeline.queue_size":     d.Pipeline.QueueSize,
		"pipeline.time_zone":      d.Pipeline.TimeZone,
		"fabric.send_buffer":      d.Fabric.SendBuffer,
		"fabric.broadcast_buffer": d.Fabric.BroadcastBuffer,
		"fabric.ping_interval":    d.Fabric.PingInterval,
	}

	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

// Save writes the configuration to path as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions: the file may hold secrets.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks formatting and fills zero values with defaults.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	d := Default()

	for name, addr := range map[string]string{
		"receiver.listen_addr": cfg.Receiver.ListenAddr,
		"grpc.listen_addr":     cfg.GRPC.ListenAddr,
		"http.listen_addr":     cfg.HTTP.ListenAddr,
	} {
		if addr == "" {
			continue
		}

		if _, err := net.ResolveTCPAddr("tcp", addr); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = d.LogLevel
	}

	if _, ok := logger.ParseLogLevel(cfg.LogLevel); !ok {
		return fmt.Errorf("%w: %q", logger.ErrUnknownLevel, cfg.LogLevel)
	}

	fillDuration(&cfg.Receiver.ReadTimeout, d.Receiver.ReadTimeout)
	fillDuration(&cfg.Receiver.DedupeWindow, d.Receiver.DedupeWindow)
	fillInt(&cfg.Receiver.DedupeSize, d.Receiver.DedupeSize)
	fillDuration(&cfg.HTTP.ShutdownTimeout, d.HTTP.ShutdownTimeout)
	fillInt(&cfg.Actions.Workers, d.Actions.Workers)
	fillInt(&cfg.Actions.QueueSize, d.Actions.QueueSize)
	fillDuration(&cfg.Actions.Timeout, d.Actions.Timeout)
	fillInt(&cfg.Pipeline.Workers, d.Pipeline.Workers)
	fillInt(&cfg.Pipeline.QueueSize, d.Pipeline.QueueSize)
	fillInt(&cfg.Fabric.SendBuffer, d.Fabric.SendBuffer)
	fillInt(&cfg.Fabric.BroadcastBuffer, d.Fabric.BroadcastBuffer)
	fillDuration(&cfg.Fabric.PingInterval, d.Fabric.PingInterval)

	if cfg.Pipeline.TimeZone == "" {
		cfg.Pipeline.TimeZone = d.Pipeline.TimeZone
	}

	if _, err := time.LoadLocation(cfg.Pipeline.TimeZone); err != nil {
		return fmt.Errorf("invalid pipeline.time_zone: %w", err)
	}

	switch cfg.Rules.Source {
	case "":
		cfg.Rules.Source = RulesSourceFile
	case RulesSourceFile, RulesSourcePostgres:
	default:
		return fmt.Errorf("%w %q", errUnknownRulesSource, cfg.Rules.Source)
	}

	if cfg.Rules.Source == RulesSourceFile && cfg.Rules.Path == "" {
		cfg.Rules.Path = d.Rules.Path
	}

	if cfg.Rules.Source == RulesSourcePostgres && cfg.Postgres.DSN == "" {
		return errPostgresDSNRequired
	}

	if cfg.NATS.EventsSubject == "" {
		cfg.NATS.EventsSubject = d.NATS.EventsSubject
	}

	if cfg.NATS.RulesSubject == "" {
		cfg.NATS.RulesSubject = d.NATS.RulesSubject
	}

	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = d.MQTT.ClientID
	}

	if cfg.Camera.BaseURL != "" {
		if _, err := url.ParseRequestURI(cfg.Camera.BaseURL); err != nil {
			return fmt.Errorf("invalid camera.base_url: %w", err)
		}
	}

	return nil
}

// Location returns the schedule time zone. Validate has already checked it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Pipeline.TimeZone)
	if err != nil {
		return time.UTC
	}

	return loc
}

func fillDuration(v *time.Duration, def time.Duration) {
	if *v <= 0 {
		*v = def
	}
}

func fillInt(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}
