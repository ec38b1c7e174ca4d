// Package config loads, validates and watches the sttbench TOML configuration.
package config

import (
	"time"

	"github.com/leonardotrapani/sttbench/internal/events"
	"github.com/leonardotrapani/sttbench/internal/logging"
	"github.com/leonardotrapani/sttbench/internal/ratelimit"
	"github.com/leonardotrapani/sttbench/internal/tracing"
)

type Config struct {
	Logging       logging.Config            `toml:"logging"`
	Audio         AudioConfig               `toml:"audio"`
	Session       SessionConfig             `toml:"session"`
	RateLimit     RateLimitConfig           `toml:"rate_limit"`
	Server        ServerConfig              `toml:"server"`
	Store         StoreConfig               `toml:"store"`
	Events        events.Config             `toml:"events"`
	Tracing       tracing.Config            `toml:"tracing"`
	Evaluation    EvaluationConfig          `toml:"evaluation"`
	Notifications NotificationsConfig       `toml:"notifications"`
	Providers     map[string]ProviderConfig `toml:"providers"`
}

type AudioConfig struct {
	SampleRate        int           `toml:"sample_rate"`
	Channels          int           `toml:"channels"`
	Format            string        `toml:"format"`
	BufferSize        int           `toml:"buffer_size"`
	Device            string        `toml:"device"`
	Command           string        `toml:"command"` // custom capture command writing raw PCM to stdout
	ChannelBufferSize int           `toml:"channel_buffer_size"`
	FrameInterval     time.Duration `toml:"frame_interval"`
	ChunkInterval     time.Duration `toml:"chunk_interval"`
}

type SessionConfig struct {
	Language    string        `toml:"language"`
	Providers   []string      `toml:"providers"`
	MaxDuration time.Duration `toml:"max_duration"`
	StopTimeout time.Duration `toml:"stop_timeout"`
	QueueSize   int           `toml:"queue_size"`
	AutoRetry   bool          `toml:"auto_retry"`
	MaxRetries  int           `toml:"max_retries"`
}

type RateLimitConfig struct {
	Backend    string           `toml:"backend"` // memory, redis
	Redis      RedisConfig      `toml:"redis"`
	Transcribe ratelimit.Policy `toml:"transcribe"`
	Evaluate   ratelimit.Policy `toml:"evaluate"`
	Health     ratelimit.Policy `toml:"health"`
}

type RedisConfig struct {
	Addr     string `toml:"addr"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	Prefix   string `toml:"prefix"`
}

type ServerConfig struct {
	Listen         string        `toml:"listen"`
	Mode           string        `toml:"mode"` // gin mode: release, debug, test
	CORSOrigins    []string      `toml:"cors_origins"`
	TrustedProxies []string      `toml:"trusted_proxies"`
	MaxUploadMB    int           `toml:"max_upload_mb"`
	RequestTimeout time.Duration `toml:"request_timeout"`
}

type StoreConfig struct {
	Driver     string        `toml:"driver"` // memory, sqlite, redis
	TTL        time.Duration `toml:"ttl"`
	SQLitePath string        `toml:"sqlite_path"`
	Redis      RedisConfig   `toml:"redis"`
}

type EvaluationConfig struct {
	// Reference is a YAML, JSON or plain text reference transcript used for
	// live sessions.
	Reference string `toml:"reference"`
}

type NotificationsConfig struct {
	Enabled bool   `toml:"enabled"`
	Type    string `toml:"type"` // "desktop", "log", "none"
}

// ProviderConfig holds per-provider credentials and overrides.
type ProviderConfig struct {
	APIKey     string `toml:"api_key"`
	Model      string `toml:"model"`
	BaseURL    string `toml:"base_url"`
	EndpointID string `toml:"endpoint_id"`
}
