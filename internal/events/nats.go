package events

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/leonardotrapani/sttbench/internal/logging"
)

type NATSConfig struct {
	Enabled          bool     `toml:"enabled"`
	Servers          []string `toml:"servers"`
	SubjectPrefix    string   `toml:"subject_prefix"`
	Username         string   `toml:"username"`
	Password         string   `toml:"password"`
	Token            string   `toml:"token"`
	TLSInsecure      bool     `toml:"tls_insecure"`
	ConnectTimeoutMs int      `toml:"connect_timeout_ms"`
}

// NATSSink publishes on <prefix>.<kind>.<provider>.
type NATSSink struct {
	conn   *nats.Conn
	prefix string
	log    zerolog.Logger
}

func NewNATSSink(cfg NATSConfig) (*NATSSink, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("no NATS servers configured")
	}
	timeout := time.Duration(cfg.ConnectTimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	options := []nats.Option{
		nats.Name("sttbench"),
		nats.Timeout(timeout),
	}
	if cfg.Username != "" || cfg.Password != "" {
		options = append(options, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		options = append(options, nats.Token(cfg.Token))
	}
	if cfg.TLSInsecure {
		options = append(options, nats.Secure(&tls.Config{InsecureSkipVerify: true}))
	}

	url := strings.Join(cfg.Servers, ",")
	conn, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = "sttbench.transcript"
	}
	log := logging.WithComponent("events")
	log.Info().Str("servers", url).Msg("events: connected to nats")
	return &NATSSink{conn: conn, prefix: prefix, log: log}, nil
}

func (s *NATSSink) Name() string { return "nats" }

// Subject returns the subject an event of kind from provider goes to.
func Subject(prefix, kind, provider string) string {
	return prefix + "." + kind + "." + provider
}

func (s *NATSSink) Publish(ctx context.Context, _ string, t Transcript) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := sonic.Marshal(t)
	if err != nil {
		return err
	}
	return s.conn.Publish(Subject(s.prefix, t.Kind, t.ProviderID), payload)
}

func (s *NATSSink) Healthy() bool {
	return s != nil && s.conn != nil && s.conn.Status() == nats.CONNECTED
}

func (s *NATSSink) Close() error {
	if s == nil || s.conn == nil {
		return nil
	}
	s.log.Info().Msg("events: closing nats connection")
	err := s.conn.Drain()
	s.conn.Close()
	return err
}
