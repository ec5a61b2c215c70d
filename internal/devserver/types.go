package devserver

import (
	"context"

	"github.com/harshul/agent-ivy/internal/procmgr"
)

// Phase is a step of PrepareAndStartServer.
type Phase string

const (
	PhaseValidating  Phase = "validating"
	PhaseDetecting   Phase = "detecting_package_manager"
	PhasePatching    Phase = "patching"
	PhaseInstalling  Phase = "installing"
	PhaseFindingPort Phase = "finding_port"
	PhaseStarting    Phase = "starting"
	PhaseWaiting     Phase = "waiting_for_readiness"
	PhaseStopping    Phase = "stopping"
)

// Outcome is the terminal state of the readiness wait.
type Outcome string

const (
	OutcomeReady             Outcome = "ready"
	OutcomeCompilationFailed Outcome = "compilation_failed"
	OutcomeProcessDied       Outcome = "process_died"
	OutcomeTimedOut          Outcome = "timed_out"
	OutcomeCanceled          Outcome = "canceled"
)

// Reasons reported to callers for non-ready outcomes.
const (
	ReasonTimeout          = "Timeout waiting for server"
	ReasonCompilationError = "Compilation errors detected"
	ReasonProcessDied      = "Server process died"
	ReasonCanceled         = "Canceled"

	MessageNoOutput = "No server output available"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Reason returns the caller-facing reason for o.
func (o Outcome) Reason() string {
	switch o {
	case OutcomeTimedOut:
		return ReasonTimeout
	case OutcomeCompilationFailed:
		return ReasonCompilationError
	case OutcomeProcessDied:
		return ReasonProcessDied
	case OutcomeCanceled:
		return ReasonCanceled
	}
	return ""
}

// Readiness is the result of waiting for a started dev server.
type Readiness struct {
	Outcome    Outcome
	ServerURL  string
	HarnessURL string
	Errors     []string
	LogTail    string
}

// Result is returned by PrepareAndStartServer and StopServer.
type Result struct {
	Status            string   `json:"status"`
	ServerURL         string   `json:"serverUrl,omitempty"`
	HarnessURL        string   `json:"harnessUrl,omitempty"`
	Reason            string   `json:"reason,omitempty"`
	CompilationErrors []string `json:"compilationErrors,omitempty"`
	Logs              string   `json:"logs,omitempty"`
	PackageManager    string   `json:"packageManager,omitempty"`
	Port              int      `json:"port,omitempty"`
}

// StatusResult is returned by GetCompilationStatus.
type StatusResult struct {
	Status    string   `json:"status"`
	Message   string   `json:"message,omitempty"`
	HasErrors bool     `json:"hasErrors"`
	Errors    []string `json:"errors"`
	Compiled  bool     `json:"compiled"`
	Alive     bool     `json:"alive"`
	ServerURL string   `json:"serverUrl,omitempty"`
}

// ProcessController is the part of the process manager the orchestrator drives.
type ProcessController interface {
	RunInstall(ctx context.Context, projectRoot string) (string, error)
	Start(ctx context.Context, key string, port int) (*procmgr.Process, error)
	Stop(key string) error
	Output(key string) string
	Tail(key string, n int) string
	IsAlive(key string) bool
}

var _ ProcessController = (*procmgr.Manager)(nil)
