package procmgr

import (
	"log/slog"
	"time"

	"github.com/harshul/agent-ivy/internal/metrics"
	"github.com/harshul/agent-ivy/internal/provisioner"
)

// CommandBuilder returns the dev-server command for a project root and port.
type CommandBuilder func(projectRoot string, port int) provisioner.Command

// InstallCommandBuilder returns the dependency install command for a project root.
type InstallCommandBuilder func(projectRoot string) provisioner.Command

// Option configures the Manager
type Option func(*Manager)

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithMetrics sets the metrics collector
func WithMetrics(c metrics.Collector) Option {
	return func(m *Manager) {
		m.metrics = c
	}
}

// WithLogLimits sets the per-process log buffer capacity and eviction chunk
func WithLogLimits(maxLength, evictChunk int) Option {
	return func(m *Manager) {
		m.maxLogLength = maxLength
		m.evictChunk = evictChunk
	}
}

// WithInstallTimeout bounds RunInstall
func WithInstallTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.installTimeout = d
	}
}

// WithStopGrace sets how long Stop waits after SIGTERM before sending SIGKILL
func WithStopGrace(d time.Duration) Option {
	return func(m *Manager) {
		m.stopGrace = d
	}
}

// WithOutputTail sets how many bytes of install output are attached to errors
func WithOutputTail(n int) Option {
	return func(m *Manager) {
		m.outputTail = n
	}
}

// WithCommandBuilder replaces the dev-server command
func WithCommandBuilder(fn CommandBuilder) Option {
	return func(m *Manager) {
		m.serveCommand = fn
	}
}

// WithInstallCommandBuilder replaces the dependency install command
func WithInstallCommandBuilder(fn InstallCommandBuilder) Option {
	return func(m *Manager) {
		m.installCommand = fn
	}
}
