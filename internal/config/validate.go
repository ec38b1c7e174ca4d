package config

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/leonardotrapani/sttbench/internal/language"
	"github.com/leonardotrapani/sttbench/internal/provider"
	"github.com/leonardotrapani/sttbench/internal/ratelimit"
)

func (c *Config) Validate() error {
	// Logging
	if c.Logging.Level != "" {
		if _, err := zerolog.ParseLevel(c.Logging.Level); err != nil {
			return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
		}
	}
	if f := c.Logging.Format; f != "" && f != "json" && f != "console" {
		return fmt.Errorf("invalid logging.format: %s (must be json or console)", f)
	}

	// Audio
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("invalid audio.sample_rate: %d", c.Audio.SampleRate)
	}
	if c.Audio.Channels <= 0 {
		return fmt.Errorf("invalid audio.channels: %d", c.Audio.Channels)
	}
	if c.Audio.Format != "s16le" {
		return fmt.Errorf("invalid audio.format: %q (only s16le is supported)", c.Audio.Format)
	}
	if c.Audio.BufferSize <= 0 {
		return fmt.Errorf("invalid audio.buffer_size: %d", c.Audio.BufferSize)
	}
	if c.Audio.ChannelBufferSize <= 0 {
		return fmt.Errorf("invalid audio.channel_buffer_size: %d", c.Audio.ChannelBufferSize)
	}
	if c.Audio.FrameInterval <= 0 {
		return fmt.Errorf("invalid audio.frame_interval: %v", c.Audio.FrameInterval)
	}
	if c.Audio.ChunkInterval < c.Audio.FrameInterval {
		return fmt.Errorf("invalid audio.chunk_interval: %v (must not be shorter than frame_interval)", c.Audio.ChunkInterval)
	}

	// Session
	if c.Session.Language != "" && !language.IsValidCode(c.Session.Language) {
		return fmt.Errorf("invalid session.language: %s (use ISO-639-1 codes like 'ja', 'en')", c.Session.Language)
	}
	if len(c.Session.Providers) == 0 {
		return fmt.Errorf("invalid session.providers: empty")
	}
	for _, id := range c.Session.Providers {
		if _, ok := provider.Get(id); !ok {
			return fmt.Errorf("invalid session.providers: unknown provider %q", id)
		}
	}
	if c.Session.MaxDuration < 0 {
		return fmt.Errorf("invalid session.max_duration: %v", c.Session.MaxDuration)
	}
	if c.Session.StopTimeout <= 0 {
		return fmt.Errorf("invalid session.stop_timeout: %v", c.Session.StopTimeout)
	}
	if c.Session.QueueSize <= 0 {
		return fmt.Errorf("invalid session.queue_size: %d", c.Session.QueueSize)
	}
	if c.Session.MaxRetries < 0 {
		return fmt.Errorf("invalid session.max_retries: %d", c.Session.MaxRetries)
	}

	// Rate limit
	switch c.RateLimit.Backend {
	case "", "memory":
	case "redis":
		if c.RateLimit.Redis.Addr == "" {
			return fmt.Errorf("invalid rate_limit.redis.addr: empty")
		}
	default:
		return fmt.Errorf("invalid rate_limit.backend: %s (must be memory or redis)", c.RateLimit.Backend)
	}
	for class, p := range c.RateLimitPolicies() {
		if err := validatePolicy(p); err != nil {
			return fmt.Errorf("invalid rate_limit.%s: %w", class, err)
		}
	}

	// Server
	if c.Server.Listen == "" {
		return fmt.Errorf("invalid server.listen: empty")
	}
	switch c.Server.Mode {
	case "", "release", "debug", "test":
	default:
		return fmt.Errorf("invalid server.mode: %s (must be release, debug, or test)", c.Server.Mode)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid server.max_upload_mb: %d", c.Server.MaxUploadMB)
	}

	// Store
	switch c.Store.Driver {
	case "", "memory":
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("invalid store.sqlite_path: empty")
		}
	case "redis":
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("invalid store.redis.addr: empty")
		}
	default:
		return fmt.Errorf("invalid store.driver: %s (must be memory, sqlite, or redis)", c.Store.Driver)
	}

	// Events
	if c.Events.Kafka.Enabled && len(c.Events.Kafka.Brokers) == 0 {
		return fmt.Errorf("invalid events.kafka.brokers: empty")
	}
	if c.Events.NATS.Enabled && len(c.Events.NATS.Servers) == 0 {
		return fmt.Errorf("invalid events.nats.servers: empty")
	}

	// Tracing
	switch c.Tracing.Exporter {
	case "", "none", "stdout":
	case "otlp":
		if c.Tracing.OTLPEndpoint == "" {
			return fmt.Errorf("invalid tracing.otlp_endpoint: empty")
		}
	default:
		return fmt.Errorf("invalid tracing.exporter: %s (must be none, stdout, or otlp)", c.Tracing.Exporter)
	}

	// Notifications
	validTypes := map[string]bool{"desktop": true, "log": true, "none": true}
	if c.Notifications.Enabled && !validTypes[c.Notifications.Type] {
		return fmt.Errorf("invalid notifications.type: %s (must be desktop, log, or none)", c.Notifications.Type)
	}

	// Providers
	for id, pc := range c.Providers {
		def, ok := provider.Get(id)
		if !ok {
			return fmt.Errorf("invalid providers.%s: unknown provider", id)
		}
		if pc.Model != "" && len(def.Models) > 0 && !def.HasModel(pc.Model) {
			return fmt.Errorf("invalid providers.%s.model: %s (supported: %v)", id, pc.Model, def.Models)
		}
	}
	return nil
}

func validatePolicy(p ratelimit.Policy) error {
	if p.Window <= 0 {
		return fmt.Errorf("window must be positive")
	}
	if p.MaxRequests <= 0 {
		return fmt.Errorf("max_requests must be positive")
	}
	return nil
}

// MissingKeys lists enabled providers that need an API key but have none.
func (c *Config) MissingKeys() []string {
	var missing []string
	for _, id := range c.Session.Providers {
		def, ok := provider.Get(id)
		if !ok || !def.RequiresAPIKey {
			continue
		}
		if c.ResolveAPIKey(id) == "" {
			missing = append(missing, id)
		}
	}
	return missing
}
