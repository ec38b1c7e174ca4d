package events

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/leonardotrapani/sttbench/internal/logging"
)

type KafkaConfig struct {
	Enabled      bool     `toml:"enabled"`
	Brokers      []string `toml:"brokers"`
	TopicPartial string   `toml:"topic_partial"`
	TopicFinal   string   `toml:"topic_final"`
	TopicError   string   `toml:"topic_error"`
	Principal    string   `toml:"principal"`
}

// KafkaSink writes each event kind to its own topic. Without brokers it
// only logs.
type KafkaSink struct {
	writers   map[string]*kafka.Writer
	topics    map[string]string
	principal string
	enabled   bool
	log       zerolog.Logger
}

func NewKafkaSink(cfg KafkaConfig) *KafkaSink {
	log := logging.WithComponent("events")
	s := &KafkaSink{
		writers: make(map[string]*kafka.Writer),
		topics: map[string]string{
			KindPartial: cfg.TopicPartial,
			KindFinal:   cfg.TopicFinal,
			KindError:   cfg.TopicError,
		},
		principal: cfg.Principal,
		log:       log,
	}
	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("events: kafka disabled, using log-only mode")
		return s
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}
	for kind, topic := range s.topics {
		if topic == "" {
			continue
		}
		s.writers[kind] = &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Transport:    transport,
		}
	}
	s.enabled = true

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicPartial", cfg.TopicPartial).
		Str("topicFinal", cfg.TopicFinal).
		Msg("events: kafka publisher initialized")
	return s
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Publish(ctx context.Context, key string, t Transcript) error {
	payload, err := sonic.Marshal(t)
	if err != nil {
		return err
	}
	topic := s.topics[t.Kind]

	s.log.Debug().
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("events: publishing")

	writer := s.writers[t.Kind]
	if !s.enabled || writer == nil {
		return nil
	}
	return writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(t.Kind)},
			{Key: "principal", Value: []byte(s.principal)},
			{Key: "provider", Value: []byte(t.ProviderID)},
		},
	})
}

func (s *KafkaSink) Close() error {
	var err error
	for kind, w := range s.writers {
		if e := w.Close(); e != nil {
			s.log.Error().Err(e).Str("kind", kind).Msg("events: error closing kafka writer")
			err = e
		}
	}
	return err
}
