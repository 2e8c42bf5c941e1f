// Package config loads driftnet's runtime configuration from environment
// variables (with an optional .env file for local development), the way
// the teacher's WS_* server settings are loaded.
package config

import (
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Tick holds simulation step timing.
type Tick struct {
	Duration time.Duration `env:"DRIFTNET_TICK_DURATION" envDefault:"16ms"`
}

// Sync holds client clock synchronization tuning.
type Sync struct {
	MinSamples    int           `env:"DRIFTNET_SYNC_MIN_SAMPLES" envDefault:"8"`
	JumpThreshold time.Duration `env:"DRIFTNET_SYNC_JUMP_THRESHOLD" envDefault:"100ms"`
	SpeedMin      float64       `env:"DRIFTNET_SYNC_SPEED_MIN" envDefault:"0.98"`
	SpeedMax      float64       `env:"DRIFTNET_SYNC_SPEED_MAX" envDefault:"1.02"`
}

// Prediction holds client-side prediction/rollback tuning.
type Prediction struct {
	InputDelayTicks  int `env:"DRIFTNET_PREDICTION_INPUT_DELAY_TICKS" envDefault:"0"`
	MaxRollbackTicks int `env:"DRIFTNET_PREDICTION_MAX_ROLLBACK_TICKS" envDefault:"24"`
}

// Interpolation holds client-side entity interpolation tuning.
type Interpolation struct {
	DelayTicks int `env:"DRIFTNET_INTERPOLATION_DELAY_TICKS" envDefault:"2"`
	BufferSize int `env:"DRIFTNET_INTERPOLATION_BUFFER_SIZE" envDefault:"8"`
}

// Packet holds Message Manager / wire protocol tuning.
type Packet struct {
	MTU                   int           `env:"DRIFTNET_PACKET_MTU" envDefault:"1200"`
	ReliableRetryInterval time.Duration `env:"DRIFTNET_PACKET_RELIABLE_RETRY_INTERVAL" envDefault:"100ms"`
	AckBitsLen            int           `env:"DRIFTNET_PACKET_ACK_BITS_LEN" envDefault:"32"`
}

// Replication holds the replication sender/receiver toggles. They are
// parsed but not read anywhere: replication sends and receives whatever
// their values.
type Replication struct {
	EnableSend    bool `env:"DRIFTNET_REPLICATION_ENABLE_SEND" envDefault:"true"`
	EnableReceive bool `env:"DRIFTNET_REPLICATION_ENABLE_RECEIVE" envDefault:"true"`
}

// Ping holds ping tuning. Timeout becomes the client's clock sync
// timeout; Interval is not read. The per-connection RTT estimator does
// not take either value: it pings every 50ms and times out after 10s.
type Ping struct {
	Interval time.Duration `env:"DRIFTNET_PING_INTERVAL" envDefault:"1s"`
	Timeout  time.Duration `env:"DRIFTNET_PING_TIMEOUT" envDefault:"10s"`
}

// Config holds all driftnet runtime configuration.
//
// Tags:
//
//	env: Environment variable name
//	envDefault: Default value if not set
type Config struct {
	Tick          Tick
	Sync          Sync
	Prediction    Prediction
	Interpolation Interpolation
	Packet        Packet
	Replication   Replication
	Ping          Ping

	// Server basics
	ListenAddr     string `env:"DRIFTNET_LISTEN_ADDR" envDefault:":7777"`
	MaxConnections int    `env:"DRIFTNET_MAX_CONNECTIONS" envDefault:"256"`

	// Auth
	JWTSecret        string        `env:"DRIFTNET_JWT_SECRET"`
	JWTTokenDuration time.Duration `env:"DRIFTNET_JWT_TOKEN_DURATION" envDefault:"24h"`
	JWTIssuer        string        `env:"DRIFTNET_JWT_ISSUER" envDefault:"driftnet"`

	// Cluster bus (NATS)
	NATSUrl string `env:"DRIFTNET_NATS_URL" envDefault:""`

	// Monitoring
	MetricsInterval time.Duration `env:"DRIFTNET_METRICS_INTERVAL" envDefault:"15s"`
	MetricsAddr     string        `env:"DRIFTNET_METRICS_ADDR" envDefault:":9100"`

	// Logging
	LogLevel  string `env:"DRIFTNET_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"DRIFTNET_LOG_FORMAT" envDefault:"text"`

	Environment string `env:"DRIFTNET_ENVIRONMENT" envDefault:"development"`
}

// Load reads configuration from a .env file (if present) and the process
// environment, validates it, and returns the result. Priority: env vars >
// .env file > struct defaults. logger may be nil to discard diagnostics.
func Load(logger *log.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logf(logger, "config: no .env file found, using environment variables only")
	} else {
		logf(logger, "config: loaded .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration for internally-inconsistent values.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("DRIFTNET_LISTEN_ADDR is required")
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("DRIFTNET_MAX_CONNECTIONS must be > 0, got %d", c.MaxConnections)
	}
	if c.Tick.Duration <= 0 {
		return fmt.Errorf("DRIFTNET_TICK_DURATION must be > 0, got %s", c.Tick.Duration)
	}
	if c.Sync.MinSamples < 1 {
		return fmt.Errorf("DRIFTNET_SYNC_MIN_SAMPLES must be > 0, got %d", c.Sync.MinSamples)
	}
	if c.Sync.SpeedMin <= 0 || c.Sync.SpeedMax < c.Sync.SpeedMin {
		return fmt.Errorf("DRIFTNET_SYNC_SPEED_MIN/MAX must satisfy 0 < min <= max, got %.3f/%.3f",
			c.Sync.SpeedMin, c.Sync.SpeedMax)
	}
	if c.Prediction.MaxRollbackTicks < 1 {
		return fmt.Errorf("DRIFTNET_PREDICTION_MAX_ROLLBACK_TICKS must be > 0, got %d", c.Prediction.MaxRollbackTicks)
	}
	if c.Interpolation.BufferSize < 1 {
		return fmt.Errorf("DRIFTNET_INTERPOLATION_BUFFER_SIZE must be > 0, got %d", c.Interpolation.BufferSize)
	}
	if c.Packet.MTU < 64 {
		return fmt.Errorf("DRIFTNET_PACKET_MTU must be >= 64, got %d", c.Packet.MTU)
	}
	if c.Packet.AckBitsLen != 32 && c.Packet.AckBitsLen != 64 {
		return fmt.Errorf("DRIFTNET_PACKET_ACK_BITS_LEN must be 32 or 64, got %d", c.Packet.AckBitsLen)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("DRIFTNET_LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}
	validLogFormats := map[string]bool{"text": true, "json": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("DRIFTNET_LOG_FORMAT must be one of: text, json (got: %s)", c.LogFormat)
	}

	return nil
}

func logf(logger *log.Logger, format string, args ...any) {
	if logger != nil {
		logger.Printf(format, args...)
	}
}
