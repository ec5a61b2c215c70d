package procmgr

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/harshul/agent-ivy/internal/provisioner"
)

// RunInstall installs the project's dependencies and blocks until the install
// finishes or the install timeout elapses. It returns the captured output.
func (m *Manager) RunInstall(ctx context.Context, projectRoot string) (string, error) {
	pm := provisioner.Detect(projectRoot)
	command := m.installCommand(projectRoot)

	env := provisioner.Environment()
	path, err := provisioner.LookPath(command.Name, env)
	if err != nil {
		return "", &DependencyInstallError{
			Command:  command.String(),
			ExitCode: -1,
			Output:   provisioner.InstallHint(pm),
			Err:      fmt.Errorf("%w: %v", ErrManagerUnavailable, err),
		}
	}

	ctx, cancel := context.WithTimeout(ctx, m.installTimeout)
	defer cancel()

	logs := NewLogBuffer(m.maxLogLength, m.evictChunk)

	cmd := exec.CommandContext(ctx, path, command.Args...)
	cmd.Args[0] = command.Name
	cmd.Dir = projectRoot
	cmd.Env = env
	cmd.Stdout = logs
	cmd.Stderr = logs
	setProcessGroup(cmd)
	cmd.Cancel = func() error {
		return signalGroup(cmd.Process.Pid, true)
	}
	// postinstall scripts may leave children holding the output pipe
	cmd.WaitDelay = m.stopGrace

	m.logger.Info("installing dependencies", "project", projectRoot, "command", command.String())

	start := time.Now()
	err = cmd.Run()
	m.metrics.InstallCompleted(string(pm), time.Since(start), err)

	output := logs.String()
	if err == nil {
		m.logger.Info("dependencies installed", "project", projectRoot, "duration", time.Since(start).Round(time.Millisecond))
		return output, nil
	}

	installErr := &DependencyInstallError{
		Command:  command.String(),
		ExitCode: -1,
		TimedOut: errors.Is(ctx.Err(), context.DeadlineExceeded),
		Output:   logs.Tail(m.outputTail),
		Err:      err,
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		installErr.ExitCode = exitErr.ExitCode()
	}

	m.logger.Error("dependency install failed", "project", projectRoot, "exit_code", installErr.ExitCode, "timed_out", installErr.TimedOut, "error", err)
	return output, installErr
}
