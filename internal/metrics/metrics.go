// Package metrics records dev-server lifecycle metrics.
package metrics

import (
	"time"
)

// Collector defines the interface for collecting dev-server metrics
type Collector interface {
	// OrchestrationCompleted records the terminal outcome of a start attempt
	OrchestrationCompleted(outcome string, duration time.Duration)

	// PhaseFailed records a fatal error in an orchestration phase
	PhaseFailed(phase string)

	// InstallCompleted records a dependency install run
	InstallCompleted(manager string, duration time.Duration, err error)

	// ProcessStarted records a dev-server process spawn
	ProcessStarted()

	// ProcessStopped records a dev-server process teardown
	ProcessStopped(duration time.Duration)

	// ActiveProcesses records the number of registered processes
	ActiveProcesses(n int)

	// LogEvicted records bytes dropped from a log buffer
	LogEvicted(bytes int)
}

type noopCollector struct{}

func (noopCollector) OrchestrationCompleted(outcome string, duration time.Duration)      {}
func (noopCollector) PhaseFailed(phase string)                                           {}
func (noopCollector) InstallCompleted(manager string, duration time.Duration, err error) {}
func (noopCollector) ProcessStarted()                                                    {}
func (noopCollector) ProcessStopped(duration time.Duration)                              {}
func (noopCollector) ActiveProcesses(n int)                                              {}
func (noopCollector) LogEvicted(bytes int)                                               {}

// NewNoop creates a collector that discards everything.
func NewNoop() Collector {
	return noopCollector{}
}
