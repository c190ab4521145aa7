package config

import (
	"time"
)

// Config is the complete service configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Stream  StreamConfig  `mapstructure:"stream" yaml:"stream"`
	Ingest  IngestConfig  `mapstructure:"ingest" yaml:"ingest"`
	Audit   AuditConfig   `mapstructure:"audit" yaml:"audit"`
	Auth    AuthConfig    `mapstructure:"auth" yaml:"auth"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Tracing TracingConfig `mapstructure:"tracing" yaml:"tracing"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr" validate:"required"`
	ReadTimeout     time.Duration `mapstructure:"readTimeout" yaml:"readTimeout" validate:"gte=0"`
	WriteTimeout    time.Duration `mapstructure:"writeTimeout" yaml:"writeTimeout" validate:"gte=0"`
	IdleTimeout     time.Duration `mapstructure:"idleTimeout" yaml:"idleTimeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout" yaml:"shutdownTimeout" validate:"gt=0"`
}

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type StoreConfig struct {
	Driver      string `mapstructure:"driver" yaml:"driver" validate:"oneof=memory sqlite postgres"`
	SQLitePath  string `mapstructure:"sqlitePath" yaml:"sqlitePath"`
	PostgresDSN string `mapstructure:"postgresDSN" yaml:"postgresDSN"`
	AutoMigrate bool   `mapstructure:"autoMigrate" yaml:"autoMigrate"`
}

// StreamConfig tunes the subscription channel.
type StreamConfig struct {
	// QueueSize bounds each subscriber's send queue. A subscriber whose
	// queue is full when a record is dispatched is dropped.
	QueueSize int `mapstructure:"queueSize" yaml:"queueSize" validate:"gte=1"`

	// WriteTimeout bounds a single send to a subscriber connection.
	WriteTimeout time.Duration `mapstructure:"writeTimeout" yaml:"writeTimeout" validate:"gt=0"`

	HeartbeatInterval time.Duration `mapstructure:"heartbeatInterval" yaml:"heartbeatInterval" validate:"gt=0"`
	HeartbeatJitter   time.Duration `mapstructure:"heartbeatJitter" yaml:"heartbeatJitter" validate:"gte=0"`

	// BufferSize is the number of records kept per agent for SSE
	// Last-Event-ID replay. Zero disables replay.
	BufferSize int `mapstructure:"bufferSize" yaml:"bufferSize" validate:"gte=0"`

	// MaxMessageBytes limits inbound WebSocket control messages.
	MaxMessageBytes int64 `mapstructure:"maxMessageBytes" yaml:"maxMessageBytes" validate:"gt=0"`

	// OriginPatterns lists extra hosts allowed to open cross-origin
	// WebSocket subscriptions.
	OriginPatterns []string `mapstructure:"originPatterns" yaml:"originPatterns"`
}

type IngestConfig struct {
	// PreserveClientTimestamp keeps a timestamp supplied by the agent.
	// When false the ingest time always wins.
	PreserveClientTimestamp bool          `mapstructure:"preserveClientTimestamp" yaml:"preserveClientTimestamp"`
	StoreTimeout            time.Duration `mapstructure:"storeTimeout" yaml:"storeTimeout" validate:"gt=0"`
}

type AuditConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	Dir        string `mapstructure:"dir" yaml:"dir"`
	MaxSizeMB  int    `mapstructure:"maxSizeMB" yaml:"maxSizeMB" validate:"gte=0"`
	MaxBackups int    `mapstructure:"maxBackups" yaml:"maxBackups" validate:"gte=0"`
	MaxAgeDays int    `mapstructure:"maxAgeDays" yaml:"maxAgeDays" validate:"gte=0"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

type AuthConfig struct {
	Enabled      bool   `mapstructure:"enabled" yaml:"enabled"`
	Algorithm    string `mapstructure:"algorithm" yaml:"algorithm" validate:"oneof=HS256 RS256"`
	SecretKey    string `mapstructure:"secretKey" yaml:"secretKey"`
	PublicKeyPEM string `mapstructure:"publicKeyPEM" yaml:"publicKeyPEM"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path" validate:"startswith=/"`
}

type TracingConfig struct {
	// Endpoint is the OTLP gRPC collector address. Empty disables export.
	Endpoint    string `mapstructure:"endpoint" yaml:"endpoint"`
	ServiceName string `mapstructure:"serviceName" yaml:"serviceName" validate:"required"`
	Insecure    bool   `mapstructure:"insecure" yaml:"insecure"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=text json"`
}

// Baseline returns the built-in defaults. The listen port and table layout
// match the service roadwatch replaces.
func Baseline() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8000",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    0, // streams are long-lived; sends carry their own deadline
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Driver:     DriverMemory,
			SQLitePath: "roadwatch.db",
		},
		Stream: StreamConfig{
			QueueSize:         64,
			WriteTimeout:      5 * time.Second,
			HeartbeatInterval: 15 * time.Second,
			HeartbeatJitter:   2 * time.Second,
			BufferSize:        50,
			MaxMessageBytes:   4096,
		},
		Ingest: IngestConfig{
			PreserveClientTimestamp: false,
			StoreTimeout:            5 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:    false,
			Dir:        "audit",
			MaxSizeMB:  100,
			MaxBackups: 10,
			MaxAgeDays: 30,
			Compress:   true,
		},
		Auth: AuthConfig{
			Enabled:   false,
			Algorithm: "HS256",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			ServiceName: "roadwatch",
			Insecure:    true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
