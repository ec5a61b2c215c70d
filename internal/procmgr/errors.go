package procmgr

import (
	"errors"
	"fmt"
)

// ErrManagerUnavailable is wrapped by DependencyInstallError when the package
// manager binary cannot be found.
var ErrManagerUnavailable = errors.New("package manager unavailable")

// ProcessSpawnError is returned when the dev-server process could not be started.
type ProcessSpawnError struct {
	Command string
	Err     error
}

func (e *ProcessSpawnError) Error() string {
	return fmt.Sprintf("failed to start %q: %v", e.Command, e.Err)
}

func (e *ProcessSpawnError) Unwrap() error { return e.Err }

// DependencyInstallError is returned when installing dependencies fails.
type DependencyInstallError struct {
	Command  string
	ExitCode int
	TimedOut bool
	Output   string // tail of the captured install output
	Err      error
}

func (e *DependencyInstallError) Error() string {
	switch {
	case e.TimedOut:
		return fmt.Sprintf("dependency install timed out: %s", e.Command)
	case errors.Is(e.Err, ErrManagerUnavailable):
		return fmt.Sprintf("package manager unavailable: %s", e.Command)
	case e.ExitCode > 0:
		return fmt.Sprintf("dependency install failed with exit code %d: %s", e.ExitCode, e.Command)
	}
	return fmt.Sprintf("dependency install failed: %s: %v", e.Command, e.Err)
}

func (e *DependencyInstallError) Unwrap() error { return e.Err }
