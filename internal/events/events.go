// Package events publishes dev-server lifecycle transitions. Publishing is
// fire-and-forget: a sink must never block or fail the caller.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Component is the component name stamped on every dev-server event.
const Component = "devserver"

// Status of a lifecycle transition.
type Status string

const (
	StatusStarted   Status = "started"
	StatusCompleted Status = "completed"
	StatusWarning   Status = "warning"
	StatusFailed    Status = "failed"
)

// Event is a single lifecycle transition.
type Event struct {
	ID        string         `json:"id"`
	Component string         `json:"component"`
	Project   string         `json:"project"`
	Phase     string         `json:"phase"`
	Status    Status         `json:"status"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// New creates an event with a fresh ID and timestamp.
func New(project, phase string, status Status, message string, metadata map[string]any) Event {
	return Event{
		ID:        uuid.NewString(),
		Component: Component,
		Project:   project,
		Phase:     phase,
		Status:    status,
		Message:   message,
		Metadata:  metadata,
		Timestamp: time.Now().UTC(),
	}
}

// Sink receives events.
type Sink interface {
	Publish(e Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(e Event)

func (f SinkFunc) Publish(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// Multi fans an event out to several sinks in order.
func Multi(sinks ...Sink) Sink {
	var out multi
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

type multi []Sink

func (m multi) Publish(e Event) {
	for _, s := range m {
		s.Publish(e)
	}
}
