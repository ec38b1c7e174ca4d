package events

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/leonardotrapani/sttbench/internal/logging"
)

// LogSink writes events to the log at debug level.
type LogSink struct {
	log zerolog.Logger
}

func NewLogSink() *LogSink {
	return &LogSink{log: logging.WithComponent("events")}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Publish(_ context.Context, key string, t Transcript) error {
	s.log.Debug().
		Str("key", key).
		Str("kind", t.Kind).
		Str("provider", t.ProviderID).
		Int64("timestampMs", t.TimestampMs).
		Str("text", t.Text).
		Msg("events: transcript")
	return nil
}

func (s *LogSink) Close() error { return nil }
