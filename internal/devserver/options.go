package devserver

import (
	"log/slog"
	"time"

	"github.com/harshul/agent-ivy/internal/events"
	"github.com/harshul/agent-ivy/internal/metrics"
)

// Settings tune the start-and-wait protocol.
type Settings struct {
	DefaultPort   int
	Timeout       time.Duration
	GracePeriod   time.Duration
	PollInterval  time.Duration
	CompileSettle time.Duration
	PortAttempts  int
	LogTail       int
	ProbeTimeout  time.Duration
}

// DefaultSettings returns the stock timings.
func DefaultSettings() Settings {
	return Settings{
		DefaultPort:   4200,
		Timeout:       180 * time.Second,
		GracePeriod:   15 * time.Second,
		PollInterval:  2 * time.Second,
		CompileSettle: 2 * time.Second,
		PortAttempts:  10,
		LogTail:       2000,
		ProbeTimeout:  3 * time.Second,
	}
}

// PortFinder returns the first bindable port starting at start.
type PortFinder func(start, attempts int) (int, error)

// Option configures the Orchestrator
type Option func(*Orchestrator)

// WithSettings replaces the default timings
func WithSettings(s Settings) Option {
	return func(o *Orchestrator) {
		o.settings = s
	}
}

// WithClock sets the clock used by the readiness loop
func WithClock(c Clock) Option {
	return func(o *Orchestrator) {
		o.clock = c
	}
}

// WithProber sets the readiness probe
func WithProber(p Prober) Option {
	return func(o *Orchestrator) {
		o.prober = p
	}
}

// WithEventSink sets where lifecycle events are published
func WithEventSink(s events.Sink) Option {
	return func(o *Orchestrator) {
		o.sink = s
	}
}

// WithMetrics sets the metrics collector
func WithMetrics(c metrics.Collector) Option {
	return func(o *Orchestrator) {
		o.metrics = c
	}
}

// WithLogger sets the structured logger
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// WithPortFinder replaces the bind-probe port search
func WithPortFinder(f PortFinder) Option {
	return func(o *Orchestrator) {
		o.findPort = f
	}
}
