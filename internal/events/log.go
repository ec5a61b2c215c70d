package events

import (
	"context"
	"log/slog"
)

// LogSink writes events to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink. A nil logger uses slog.Default.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Publish implements Sink.
func (s *LogSink) Publish(e Event) {
	level := slog.LevelInfo
	switch e.Status {
	case StatusWarning:
		level = slog.LevelWarn
	case StatusFailed:
		level = slog.LevelError
	case StatusStarted:
		level = slog.LevelDebug
	}
	s.logger.Log(context.Background(), level, e.Message,
		"project", e.Project,
		"phase", e.Phase,
		"status", string(e.Status),
		"event_id", e.ID,
	)
}
