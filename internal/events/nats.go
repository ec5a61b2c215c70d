package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is prepended to the phase to form the NATS subject.
const DefaultSubjectPrefix = "agentivy.devserver"

// NATSConfig configures the NATS sink.
type NATSConfig struct {
	URL           string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
	FlushTimeout  time.Duration
}

// NATSSink publishes events as JSON to <prefix>.<phase>.
type NATSSink struct {
	conn   *nats.Conn
	config NATSConfig
	logger *slog.Logger
}

// NewNATSSink connects to NATS. Connection failures are returned; publish
// failures after that are only logged.
func NewNATSSink(cfg NATSConfig, logger *slog.Logger) (*NATSSink, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = DefaultSubjectPrefix
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = 10
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.FlushTimeout == 0 {
		cfg.FlushTimeout = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := []nats.Option{
		nats.Name("agent-ivy"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("reconnected to NATS", "url", nc.ConnectedUrl())
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warn("disconnected from NATS", "error", err)
			}
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSSink{conn: conn, config: cfg, logger: logger}, nil
}

// Subject returns the subject an event with the given phase is published on.
func (s *NATSSink) Subject(phase string) string {
	phase = strings.ReplaceAll(strings.TrimSpace(phase), " ", "_")
	if phase == "" {
		phase = "unknown"
	}
	return s.config.SubjectPrefix + "." + phase
}

// Publish implements Sink.
func (s *NATSSink) Publish(e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		s.logger.Warn("failed to encode event", "event_id", e.ID, "error", err)
		return
	}
	if err := s.conn.Publish(s.Subject(e.Phase), data); err != nil {
		s.logger.Warn("failed to publish event", "subject", s.Subject(e.Phase), "error", err)
	}
}

// Flush waits for buffered events to reach the server.
func (s *NATSSink) Flush() error {
	return s.conn.FlushTimeout(s.config.FlushTimeout)
}

// Close drains and closes the connection.
func (s *NATSSink) Close() error {
	if s.conn == nil {
		return nil
	}
	if err := s.conn.Drain(); err != nil {
		s.conn.Close()
		return fmt.Errorf("failed to drain NATS connection: %w", err)
	}
	return nil
}
