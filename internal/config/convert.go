package config

import (
	"fmt"
	"os"
	"time"

	"github.com/leonardotrapani/sttbench/internal/orchestrator"
	"github.com/leonardotrapani/sttbench/internal/provider"
	"github.com/leonardotrapani/sttbench/internal/ratelimit"
	"github.com/leonardotrapani/sttbench/internal/recording"
	"github.com/leonardotrapani/sttbench/internal/store"
	"github.com/leonardotrapani/sttbench/internal/transcriber"
)

func (c *Config) ToRecordingConfig() recording.Config {
	return recording.Config{
		Cadence: recording.Cadence{
			Mode:          recording.ModeContinuous,
			FrameInterval: c.Audio.FrameInterval,
			ChunkInterval: c.Audio.ChunkInterval,
		},
		SampleRate:        c.Audio.SampleRate,
		Channels:          c.Audio.Channels,
		Format:            c.Audio.Format,
		BufferSize:        c.Audio.BufferSize,
		Device:            c.Audio.Device,
		Command:           c.Audio.Command,
		ChannelBufferSize: c.Audio.ChannelBufferSize,
	}
}

func (c *Config) ToOrchestratorConfig(sessionID string) orchestrator.Config {
	retry := orchestrator.DefaultRetryPolicy()
	retry.Enabled = c.Session.AutoRetry
	if c.Session.MaxRetries > 0 {
		retry.MaxAttempts = c.Session.MaxRetries
	}
	return orchestrator.Config{
		SessionID:     sessionID,
		StopTimeout:   c.Session.StopTimeout,
		QueueSize:     c.Session.QueueSize,
		ChunkInterval: c.Audio.ChunkInterval,
		Retry:         retry,
	}
}

// Targets resolves provider ids into orchestrator targets. An empty ids
// selects the session's configured providers.
func (c *Config) Targets(sessionID, lang string, ids []string) ([]orchestrator.Target, error) {
	if len(ids) == 0 {
		ids = c.Session.Providers
	}
	if lang == "" {
		lang = c.Session.Language
	}
	seen := make(map[string]bool, len(ids))
	targets := make([]orchestrator.Target, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		def, ok := provider.Get(id)
		if !ok {
			return nil, fmt.Errorf("unknown provider %q", id)
		}
		targets = append(targets, orchestrator.Target{
			Definition: def,
			Options:    c.transcriberOptions(def, sessionID, lang),
		})
	}
	return targets, nil
}

func (c *Config) transcriberOptions(def provider.Definition, sessionID, lang string) transcriber.Options {
	pc := c.Providers[def.ID]
	opts := transcriber.Options{
		SessionID:  sessionID,
		Language:   lang,
		Model:      pc.Model,
		APIKey:     c.ResolveAPIKey(def.ID),
		EndpointID: pc.EndpointID,
	}
	if pc.BaseURL != "" {
		opts.Endpoint = &provider.EndpointConfig{BaseURL: pc.BaseURL, Path: def.Endpoint.Path}
	}
	return opts
}

// ResolveAPIKey returns the key for a provider: providers.<id>.api_key
// first, then the provider's environment variable.
func (c *Config) ResolveAPIKey(providerID string) string {
	if pc, ok := c.Providers[providerID]; ok && pc.APIKey != "" {
		return pc.APIKey
	}
	def, ok := provider.Get(providerID)
	if !ok || def.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(def.APIKeyEnv)
}

func (c *Config) ToStoreConfig() store.Config {
	cfg := store.Config{Driver: c.Store.Driver, TTL: c.Store.TTL}
	switch c.Store.Driver {
	case store.DriverSQLite:
		cfg.SQLite = &store.SQLiteConfig{DSN: c.Store.SQLitePath}
	case store.DriverRedis:
		r := c.Store.Redis
		cfg.Redis = &store.RedisConfig{Addr: r.Addr, Username: r.Username, Password: r.Password, DB: r.DB, Prefix: r.Prefix}
	}
	return cfg
}

func (c *Config) RateLimitPolicies() map[ratelimit.Class]ratelimit.Policy {
	return map[ratelimit.Class]ratelimit.Policy{
		ratelimit.ClassTranscribe: c.RateLimit.Transcribe,
		ratelimit.ClassEvaluate:   c.RateLimit.Evaluate,
		ratelimit.ClassHealth:     c.RateLimit.Health,
	}
}

// NewLimiter builds the rate limiter on the configured backend.
func (c *Config) NewLimiter() (*ratelimit.Limiter, error) {
	var st ratelimit.Store
	if c.RateLimit.Backend == "redis" {
		r := c.RateLimit.Redis
		rs, err := ratelimit.NewRedisStore(ratelimit.RedisConfig{
			Addr: r.Addr, Username: r.Username, Password: r.Password, DB: r.DB, Prefix: r.Prefix,
		})
		if err != nil {
			return nil, err
		}
		st = rs
	}
	return ratelimit.New(st, c.RateLimitPolicies()), nil
}

func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Server.MaxUploadMB) << 20
}

// SessionTimeout is the max duration of a live session; zero disables it.
func (c *Config) SessionTimeout() time.Duration {
	return c.Session.MaxDuration
}
