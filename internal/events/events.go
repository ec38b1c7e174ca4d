// Package events publishes transcript events of a session to external sinks.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/leonardotrapani/sttbench/internal/logging"
	"github.com/leonardotrapani/sttbench/internal/metrics"
	"github.com/leonardotrapani/sttbench/internal/session"
	"github.com/leonardotrapani/sttbench/internal/transcriber"
)

// Event kinds, also used as metric labels.
const (
	KindPartial = "partial"
	KindFinal   = "final"
	KindError   = "error"
)

const publishTimeout = 10 * time.Second

// Transcript is the wire payload of one published event.
type Transcript struct {
	SessionID   string `json:"sessionId"`
	ProviderID  string `json:"providerId"`
	Kind        string `json:"kind"`
	Text        string `json:"text,omitempty"`
	TimestampMs int64  `json:"timestampMs"`
	LatencyMs   int64  `json:"latencyMs,omitempty"`
	IsFinal     bool   `json:"isFinal"`
	Speaker     string `json:"speaker,omitempty"`
	ErrorCode   string `json:"errorCode,omitempty"`
	Message     string `json:"message,omitempty"`
	Fatal       bool   `json:"fatal,omitempty"`
}

// FromEvent converts a connection event into its wire payload.
func FromEvent(sessionID string, ev transcriber.Event) Transcript {
	t := Transcript{
		SessionID:   sessionID,
		ProviderID:  ev.ProviderID,
		Kind:        KindPartial,
		Text:        ev.Text,
		TimestampMs: ev.TimestampMs,
		LatencyMs:   ev.LatencyMs,
		IsFinal:     ev.IsFinal,
		Speaker:     ev.Speaker,
	}
	switch {
	case ev.IsError():
		t.Kind = KindError
		t.ErrorCode = string(ev.Error.Code)
		t.Message = ev.Error.Message
		t.Fatal = ev.Fatal
	case ev.IsFinal:
		t.Kind = KindFinal
	}
	return t
}

// Sink writes transcript payloads somewhere outside the process.
type Sink interface {
	Name() string
	Publish(ctx context.Context, key string, t Transcript) error
	Close() error
}

// Config selects and configures the sinks.
type Config struct {
	Partials bool        `toml:"partials"`
	Kafka    KafkaConfig `toml:"kafka"`
	NATS     NATSConfig  `toml:"nats"`
}

func DefaultConfig() Config {
	return Config{
		Kafka: KafkaConfig{
			TopicPartial: "sttbench.transcripts.partial",
			TopicFinal:   "sttbench.transcripts.final",
			TopicError:   "sttbench.transcripts.error",
		},
		NATS: NATSConfig{
			SubjectPrefix:    "sttbench.transcript",
			ConnectTimeoutMs: 2000,
		},
	}
}

// New builds every configured sink. A log sink is returned when nothing
// external is enabled.
func New(cfg Config) ([]Sink, error) {
	var sinks []Sink
	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) > 0 {
		sinks = append(sinks, NewKafkaSink(cfg.Kafka))
	}
	if cfg.NATS.Enabled {
		s, err := NewNATSSink(cfg.NATS)
		if err != nil {
			closeAll(sinks)
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if len(sinks) == 0 {
		sinks = append(sinks, NewLogSink())
	}
	return sinks, nil
}

// Publisher forwards recorder topics to sinks and counts the outcome.
type Publisher struct {
	sinks    []Sink
	partials bool
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

func NewPublisher(sinks []Sink, partials bool, m *metrics.Metrics) *Publisher {
	if m == nil {
		m = metrics.Default
	}
	return &Publisher{
		sinks:    sinks,
		partials: partials,
		metrics:  m,
		log:      logging.WithComponent("events"),
	}
}

// Attach subscribes the publisher to the recorder's bus. Partials are only
// forwarded when enabled since streaming vendors emit many per second.
func (p *Publisher) Attach(rec *session.Recorder) error {
	sessionID := rec.Session().ID
	handler := func(ev transcriber.Event) {
		p.Publish(context.Background(), FromEvent(sessionID, ev))
	}
	topics := []string{session.TopicFinal, session.TopicError}
	if p.partials {
		topics = append(topics, session.TopicPartial)
	}
	for _, topic := range topics {
		if err := rec.Subscribe(topic, handler); err != nil {
			return err
		}
	}
	return nil
}

// Publish writes t to every sink. Failures are logged and counted, never
// propagated to the session.
func (p *Publisher) Publish(ctx context.Context, t Transcript) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	key := t.SessionID + ":" + t.ProviderID
	for _, s := range p.sinks {
		err := s.Publish(ctx, key, t)
		p.metrics.RecordPublish(s.Name(), t.Kind, err)
		if err != nil {
			p.log.Warn().Err(err).Str("sink", s.Name()).Str("kind", t.Kind).Msg("events: publish failed")
		}
	}
}

func (p *Publisher) Close() error {
	return closeAll(p.sinks)
}

func closeAll(sinks []Sink) error {
	var errs []error
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
