// Package devserver brings an Angular project from a cloned repository to a
// reachable dev server: it validates and patches the project, installs
// dependencies, picks a port, starts ng serve and waits until the server
// answers, fails to compile, dies or runs out of time.
package devserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/harshul/agent-ivy/internal/events"
	"github.com/harshul/agent-ivy/internal/logparse"
	"github.com/harshul/agent-ivy/internal/metrics"
	"github.com/harshul/agent-ivy/internal/patcher"
	"github.com/harshul/agent-ivy/internal/ports"
	"github.com/harshul/agent-ivy/internal/procmgr"
	"github.com/harshul/agent-ivy/internal/provisioner"
)

// Orchestrator runs the dev-server lifecycle for any number of projects.
type Orchestrator struct {
	procs    ProcessController
	settings Settings
	clock    Clock
	prober   Prober
	sink     events.Sink
	metrics  metrics.Collector
	logger   *slog.Logger
	findPort PortFinder

	mu   sync.RWMutex
	urls map[string]string
}

// New creates an Orchestrator driving procs.
func New(procs ProcessController, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		procs:    procs,
		settings: DefaultSettings(),
		clock:    realClock{},
		sink:     events.Discard,
		metrics:  metrics.NewNoop(),
		logger:   slog.Default(),
		findPort: ports.FindAvailablePort,
		urls:     make(map[string]string),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.prober == nil {
		o.prober = NewHTTPProber(o.settings.ProbeTimeout)
	}
	return o
}

// projectKey turns a caller-supplied path into the absolute, clean path used
// as the registry key.
func projectKey(repoPath string) (string, error) {
	if strings.TrimSpace(repoPath) == "" {
		return "", errors.New("repository path is required")
	}
	abs, err := filepath.Abs(repoPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", repoPath, err)
	}
	return abs, nil
}

// PrepareAndStartServer patches, installs and starts the project at repoPath
// and blocks until the dev server is ready or a terminal failure occurs. A
// port <= 0 selects the default port. Every failure stops the project's
// process before returning.
func (o *Orchestrator) PrepareAndStartServer(ctx context.Context, repoPath string, port int) Result {
	started := o.clock.Now()

	key, err := projectKey(repoPath)
	if err != nil {
		return Result{Status: StatusError, Reason: err.Error()}
	}
	if port <= 0 {
		port = o.settings.DefaultPort
	}
	logger := o.logger.With("project", key)

	// validation is advisory; install often fixes what it finds
	o.publish(key, PhaseValidating, events.StatusStarted, "Validating project structure", nil)
	if v := provisioner.Validate(key); !v.Valid {
		logger.Warn("project validation reported issues", "issues", v.Issues)
		o.publish(key, PhaseValidating, events.StatusWarning, strings.Join(v.Issues, "; "), map[string]any{"issues": v.Issues})
	} else {
		o.publish(key, PhaseValidating, events.StatusCompleted, "Project structure looks valid", nil)
	}

	pm := provisioner.Detect(key)
	o.publish(key, PhaseDetecting, events.StatusCompleted, "Using "+string(pm), map[string]any{"packageManager": string(pm)})

	o.publish(key, PhasePatching, events.StatusStarted, "Injecting harness route", nil)
	patch, err := patcher.InjectHarnessRoute(key)
	if err != nil {
		return o.fail(ctx, key, PhasePatching, pm, started, err)
	}
	if patch.AlreadyPatched {
		o.publish(key, PhasePatching, events.StatusCompleted, "Harness route already present", map[string]any{"file": patch.RoutesFile})
	} else {
		o.publish(key, PhasePatching, events.StatusCompleted, "Harness route injected", map[string]any{"file": patch.RoutesFile})
	}

	o.publish(key, PhaseInstalling, events.StatusStarted, "Installing dependencies with "+string(pm), nil)
	if _, err := o.procs.RunInstall(ctx, key); err != nil {
		return o.fail(ctx, key, PhaseInstalling, pm, started, err)
	}
	o.publish(key, PhaseInstalling, events.StatusCompleted, "Dependencies installed", nil)

	o.publish(key, PhaseFindingPort, events.StatusStarted, fmt.Sprintf("Looking for a free port from %d", port), nil)
	actualPort, err := o.findPort(port, o.settings.PortAttempts)
	if err != nil {
		return o.fail(ctx, key, PhaseFindingPort, pm, started, err)
	}
	if actualPort != port {
		logger.Info("requested port busy, shifted", "requested", port, "port", actualPort)
	}
	o.publish(key, PhaseFindingPort, events.StatusCompleted, fmt.Sprintf("Using port %d", actualPort), map[string]any{"port": actualPort})

	o.publish(key, PhaseStarting, events.StatusStarted, "Starting dev server", nil)
	proc, err := o.procs.Start(ctx, key, actualPort)
	if err != nil {
		return o.fail(ctx, key, PhaseStarting, pm, started, err)
	}
	o.publish(key, PhaseStarting, events.StatusCompleted, "Dev server process started", map[string]any{"pid": proc.PID, "command": proc.Command.String()})

	serverURL := ports.LocalURL(actualPort)
	o.publish(key, PhaseWaiting, events.StatusStarted, "Waiting for "+serverURL, nil)
	readiness := o.waitForReadiness(ctx, key, serverURL)

	result := Result{PackageManager: string(pm), Port: actualPort}
	if readiness.Outcome == OutcomeReady {
		o.mu.Lock()
		o.urls[key] = serverURL
		o.mu.Unlock()

		result.Status = StatusSuccess
		result.ServerURL = readiness.ServerURL
		result.HarnessURL = readiness.HarnessURL
		o.metrics.OrchestrationCompleted(string(OutcomeReady), o.clock.Now().Sub(started))
		o.publish(key, PhaseWaiting, events.StatusCompleted, "Dev server ready at "+serverURL,
			map[string]any{"serverUrl": readiness.ServerURL, "harnessUrl": readiness.HarnessURL})
		logger.Info("dev server ready", "url", serverURL, "duration", o.clock.Now().Sub(started))
		return result
	}

	readiness.LogTail = o.cleanup(key)
	result.Status = StatusError
	result.Reason = readiness.Outcome.Reason()
	result.CompilationErrors = readiness.Errors
	result.Logs = readiness.LogTail

	o.metrics.OrchestrationCompleted(string(readiness.Outcome), o.clock.Now().Sub(started))
	o.publish(key, PhaseWaiting, events.StatusFailed, result.Reason, map[string]any{"errors": readiness.Errors})
	logger.Warn("dev server did not become ready", "outcome", readiness.Outcome, "errors", len(readiness.Errors))
	return result
}

// waitForReadiness polls the started process until one of the terminal
// outcomes is reached. Liveness is checked before the logs so a crash is not
// reported as a compile error.
func (o *Orchestrator) waitForReadiness(ctx context.Context, key, serverURL string) Readiness {
	pollStart := o.clock.Now()
	deadline := pollStart.Add(o.settings.Timeout)

	for o.clock.Now().Before(deadline) {
		if ctx.Err() != nil {
			return Readiness{Outcome: OutcomeCanceled}
		}

		if !o.procs.IsAlive(key) {
			return Readiness{Outcome: OutcomeProcessDied, Errors: logparse.ExtractErrors(o.procs.Output(key))}
		}

		// startup banners can mention "error" before the first build runs
		if o.clock.Now().Sub(pollStart) >= o.settings.GracePeriod && logparse.HasCompilationErrors(o.procs.Output(key)) {
			// let the compiler finish printing diagnostics
			if err := o.clock.Sleep(ctx, o.settings.CompileSettle); err != nil {
				return Readiness{Outcome: OutcomeCanceled}
			}
			return Readiness{
				Outcome: OutcomeCompilationFailed,
				Errors:  logparse.ExtractErrors(o.procs.Output(key)),
			}
		}

		if o.prober.Probe(ctx, serverURL) {
			return Readiness{
				Outcome:    OutcomeReady,
				ServerURL:  serverURL,
				HarnessURL: serverURL + patcher.HarnessPath,
			}
		}

		if err := o.clock.Sleep(ctx, o.settings.PollInterval); err != nil {
			return Readiness{Outcome: OutcomeCanceled}
		}
	}
	return Readiness{Outcome: OutcomeTimedOut}
}

// fail handles a fatal error in one of the preparation phases.
func (o *Orchestrator) fail(ctx context.Context, key string, phase Phase, pm provisioner.PackageManager, started time.Time, err error) Result {
	o.cleanup(key)

	result := Result{
		Status:         StatusError,
		Reason:         err.Error(),
		PackageManager: string(pm),
	}

	var installErr *procmgr.DependencyInstallError
	if errors.As(err, &installErr) {
		result.Logs = installErr.Output
	}
	var portErr *ports.PortExhaustionError
	if errors.As(err, &portErr) && portErr.HolderPID > 0 {
		o.logger.Info("requested port is held by another process", "project", key, "port", portErr.Start, "pid", portErr.HolderPID)
	}

	outcome := "failed"
	if ctx.Err() != nil {
		result.Reason = ReasonCanceled
		outcome = string(OutcomeCanceled)
	}

	o.metrics.PhaseFailed(string(phase))
	o.metrics.OrchestrationCompleted(outcome, o.clock.Now().Sub(started))
	o.publish(key, phase, events.StatusFailed, result.Reason, nil)
	o.logger.Error("dev server preparation failed", "project", key, "phase", phase, "error", err)
	return result
}

// cleanup is the single teardown path for every failure: it captures the last
// bytes of output and stops the project's process tree.
func (o *Orchestrator) cleanup(key string) string {
	tail := o.procs.Tail(key, o.settings.LogTail)

	if err := o.procs.Stop(key); err != nil {
		o.logger.Error("failed to stop dev server during cleanup", "project", key, "error", err)
	}

	o.mu.Lock()
	delete(o.urls, key)
	o.mu.Unlock()
	return tail
}

// StopServer stops the dev server of repoPath. Stopping a project with no
// server succeeds.
func (o *Orchestrator) StopServer(repoPath string) Result {
	key, err := projectKey(repoPath)
	if err != nil {
		return Result{Status: StatusError, Reason: err.Error()}
	}

	if err := o.procs.Stop(key); err != nil {
		o.publish(key, PhaseStopping, events.StatusFailed, err.Error(), nil)
		return Result{Status: StatusError, Reason: err.Error()}
	}

	o.mu.Lock()
	delete(o.urls, key)
	o.mu.Unlock()

	o.publish(key, PhaseStopping, events.StatusCompleted, "Dev server stopped", nil)
	return Result{Status: StatusSuccess}
}

// GetCompilationStatus inspects the current output of repoPath's dev server
// without blocking.
func (o *Orchestrator) GetCompilationStatus(repoPath string) StatusResult {
	key, err := projectKey(repoPath)
	if err != nil {
		return StatusResult{Status: StatusError, Message: err.Error(), Errors: []string{}}
	}

	output := o.procs.Output(key)
	if output == "" {
		return StatusResult{
			Status:  StatusError,
			Message: MessageNoOutput,
			Errors:  []string{},
			Alive:   o.procs.IsAlive(key),
		}
	}

	errs := logparse.ExtractErrors(output)
	if errs == nil {
		errs = []string{}
	}

	o.mu.RLock()
	serverURL := o.urls[key]
	o.mu.RUnlock()
	if serverURL == "" {
		serverURL, _ = logparse.ServedURL(output)
	}

	return StatusResult{
		Status:    StatusSuccess,
		HasErrors: logparse.HasCompilationErrors(output),
		Errors:    errs,
		Compiled:  logparse.HasCompiledSuccessfully(output),
		Alive:     o.procs.IsAlive(key),
		ServerURL: serverURL,
	}
}

// Logs returns up to the last n bytes of repoPath's dev-server output; n <= 0
// returns everything captured.
func (o *Orchestrator) Logs(repoPath string, n int) (string, error) {
	key, err := projectKey(repoPath)
	if err != nil {
		return "", err
	}
	if n <= 0 {
		return o.procs.Output(key), nil
	}
	return o.procs.Tail(key, n), nil
}

// publish hands an event to the sink. A misbehaving sink never affects the
// orchestration.
func (o *Orchestrator) publish(key string, phase Phase, status events.Status, message string, metadata map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("event sink panicked", "project", key, "phase", phase, "panic", r)
		}
	}()
	o.sink.Publish(events.New(key, string(phase), status, message, metadata))
}
