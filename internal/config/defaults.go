package config

import (
	"time"

	"github.com/leonardotrapani/sttbench/internal/events"
	"github.com/leonardotrapani/sttbench/internal/language"
	"github.com/leonardotrapani/sttbench/internal/logging"
	"github.com/leonardotrapani/sttbench/internal/orchestrator"
	"github.com/leonardotrapani/sttbench/internal/provider"
	"github.com/leonardotrapani/sttbench/internal/ratelimit"
	"github.com/leonardotrapani/sttbench/internal/recording"
	"github.com/leonardotrapani/sttbench/internal/tracing"
)

// Default returns the configuration used when no file exists.
func Default() *Config {
	policies := ratelimit.DefaultPolicies()
	return &Config{
		Logging: logging.DefaultConfig(),
		Audio: AudioConfig{
			SampleRate:        16000,
			Channels:          1,
			Format:            "s16le",
			BufferSize:        4096,
			ChannelBufferSize: 20,
			FrameInterval:     recording.DefaultFrameInterval,
			ChunkInterval:     recording.DefaultChunkInterval,
		},
		Session: SessionConfig{
			Language:    language.Default,
			Providers:   append([]string(nil), provider.DefaultEnabled...),
			MaxDuration: 30 * time.Minute,
			StopTimeout: orchestrator.DefaultStopTimeout,
			QueueSize:   orchestrator.DefaultQueueSize,
			AutoRetry:   true,
			MaxRetries:  3,
		},
		RateLimit: RateLimitConfig{
			Backend:    "memory",
			Transcribe: policies[ratelimit.ClassTranscribe],
			Evaluate:   policies[ratelimit.ClassEvaluate],
			Health:     policies[ratelimit.ClassHealth],
		},
		Server: ServerConfig{
			Listen:         "127.0.0.1:8080",
			Mode:           "release",
			CORSOrigins:    []string{"*"},
			MaxUploadMB:    50,
			RequestTimeout: 5 * time.Minute,
		},
		Store: StoreConfig{
			Driver: "memory",
			TTL:    7 * 24 * time.Hour,
		},
		Events:  events.DefaultConfig(),
		Tracing: tracing.Config{Exporter: "none", ServiceName: "sttbench"},
		Notifications: NotificationsConfig{
			Enabled: false,
			Type:    "log",
		},
		Providers: make(map[string]ProviderConfig),
	}
}
