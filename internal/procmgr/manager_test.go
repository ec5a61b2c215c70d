//go:build !windows

package procmgr

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harshul/agent-ivy/internal/provisioner"
)

func shellCommand(script string) CommandBuilder {
	return func(string, int) provisioner.Command {
		return provisioner.Command{Name: "sh", Args: []string{"-c", script}}
	}
}

func newTestManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	opts = append([]Option{WithStopGrace(2 * time.Second)}, opts...)
	m := New(opts...)
	t.Cleanup(func() {
		_ = m.Shutdown(context.Background())
	})
	return m
}

func TestStartReplacesExistingProcess(t *testing.T) {
	m := newTestManager(t, WithCommandBuilder(shellCommand("sleep 30")))
	key := t.TempDir()

	first, err := m.Start(context.Background(), key, 4200)
	require.NoError(t, err)
	second, err := m.Start(context.Background(), key, 4201)
	require.NoError(t, err)

	assert.False(t, first.Alive(), "first process should be stopped")
	assert.True(t, second.Alive())
	assert.NotEqual(t, first.PID, second.PID)

	got, ok := m.Get(key)
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.Equal(t, 4201, got.Port)
	assert.Equal(t, []string{key}, m.Keys())
}

func TestStartCapturesCombinedOutput(t *testing.T) {
	m := newTestManager(t, WithCommandBuilder(shellCommand("echo hello; echo oops >&2; sleep 30")))
	key := t.TempDir()

	_, err := m.Start(context.Background(), key, 4200)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return m.Output(key) == "hello\noops\n"
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, "oops\n", m.Tail(key, 5))
	assert.True(t, m.IsAlive(key))
}

func TestStartRunsInProjectDirectory(t *testing.T) {
	m := newTestManager(t, WithCommandBuilder(shellCommand("pwd; sleep 30")))
	key := t.TempDir()

	_, err := m.Start(context.Background(), key, 4200)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return m.Output(key) != ""
	}, 5*time.Second, 20*time.Millisecond)
	assert.Contains(t, m.Output(key), filepath.Base(key))
}

func TestProcessExitIsObserved(t *testing.T) {
	m := newTestManager(t, WithCommandBuilder(shellCommand("echo bye; exit 3")))
	key := t.TempDir()

	proc, err := m.Start(context.Background(), key, 4200)
	require.NoError(t, err)

	select {
	case <-proc.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}

	assert.False(t, m.IsAlive(key))
	assert.Error(t, proc.ExitErr())

	// a dead process stays registered with its logs until stopped
	require.Eventually(t, func() bool {
		return m.Output(key) == "bye\n"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestStopIsIdempotent(t *testing.T) {
	m := newTestManager(t, WithCommandBuilder(shellCommand("sleep 30")))
	key := t.TempDir()

	assert.NoError(t, m.Stop(key), "stopping an unknown key is a no-op")

	proc, err := m.Start(context.Background(), key, 4200)
	require.NoError(t, err)

	require.NoError(t, m.Stop(key))
	require.NoError(t, m.Stop(key))

	assert.False(t, proc.Alive())
	assert.False(t, m.IsAlive(key))
	assert.Empty(t, m.Output(key))
	assert.Empty(t, m.Keys())
}

func TestStopKillsProcessIgnoringSIGTERM(t *testing.T) {
	m := newTestManager(t,
		WithCommandBuilder(shellCommand("trap '' TERM; echo ready; while true; do sleep 1; done")),
		WithStopGrace(300*time.Millisecond),
	)
	key := t.TempDir()

	proc, err := m.Start(context.Background(), key, 4200)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return m.Output(key) == "ready\n"
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, m.Stop(key))
	assert.False(t, proc.Alive())
}

func TestStartSpawnFailure(t *testing.T) {
	m := newTestManager(t, WithCommandBuilder(func(string, int) provisioner.Command {
		return provisioner.Command{Name: "ivy-no-such-binary"}
	}))
	key := t.TempDir()

	_, err := m.Start(context.Background(), key, 4200)
	require.Error(t, err)

	var spawnErr *ProcessSpawnError
	require.True(t, errors.As(err, &spawnErr))
	assert.Equal(t, "ivy-no-such-binary", spawnErr.Command)
	assert.False(t, m.IsAlive(key))
	assert.Empty(t, m.Keys())
}

func TestStartHonorsCanceledContext(t *testing.T) {
	m := newTestManager(t, WithCommandBuilder(shellCommand("sleep 30")))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Start(ctx, t.TempDir(), 4200)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestKeysAreIndependent(t *testing.T) {
	m := newTestManager(t, WithCommandBuilder(shellCommand("sleep 30")))
	a, b := t.TempDir(), t.TempDir()

	_, err := m.Start(context.Background(), a, 4200)
	require.NoError(t, err)
	_, err = m.Start(context.Background(), b, 4201)
	require.NoError(t, err)

	require.NoError(t, m.Stop(a))
	assert.False(t, m.IsAlive(a))
	assert.True(t, m.IsAlive(b))

	require.NoError(t, m.Shutdown(context.Background()))
	assert.Empty(t, m.Keys())
}

func TestRunInstall(t *testing.T) {
	tests := []struct {
		name        string
		script      string
		timeout     time.Duration
		wantErr     bool
		wantExit    int
		wantTimeout bool
		wantOutput  string
	}{
		{
			name:       "success",
			script:     "echo added 120 packages",
			wantOutput: "added 120 packages",
		},
		{
			name:       "non-zero exit",
			script:     "echo 'npm ERR! code ERESOLVE' >&2; exit 7",
			wantErr:    true,
			wantExit:   7,
			wantOutput: "npm ERR! code ERESOLVE",
		},
		{
			name:        "timeout",
			script:      "echo resolving; sleep 10",
			timeout:     300 * time.Millisecond,
			wantErr:     true,
			wantExit:    -1,
			wantTimeout: true,
			wantOutput:  "resolving",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := []Option{
				WithStopGrace(time.Second),
				WithInstallCommandBuilder(func(string) provisioner.Command {
					return provisioner.Command{Name: "sh", Args: []string{"-c", tt.script}}
				}),
			}
			if tt.timeout > 0 {
				opts = append(opts, WithInstallTimeout(tt.timeout))
			}
			m := newTestManager(t, opts...)

			out, err := m.RunInstall(context.Background(), t.TempDir())
			assert.Contains(t, out, tt.wantOutput)

			if !tt.wantErr {
				require.NoError(t, err)
				return
			}

			var installErr *DependencyInstallError
			require.True(t, errors.As(err, &installErr))
			assert.Equal(t, tt.wantExit, installErr.ExitCode)
			assert.Equal(t, tt.wantTimeout, installErr.TimedOut)
			assert.Contains(t, installErr.Output, tt.wantOutput)
		})
	}
}

func TestRunInstallManagerUnavailable(t *testing.T) {
	m := newTestManager(t, WithInstallCommandBuilder(func(string) provisioner.Command {
		return provisioner.Command{Name: "ivy-no-such-pm", Args: []string{"install"}}
	}))

	_, err := m.RunInstall(context.Background(), t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrManagerUnavailable)
	assert.Contains(t, err.Error(), "package manager unavailable")

	var installErr *DependencyInstallError
	require.True(t, errors.As(err, &installErr))
	assert.Contains(t, installErr.Output, "npm is required")
}

func writeScript(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o755))
}

func TestManagerFindsPackageManagerUnderHome(t *testing.T) {
	home := t.TempDir()
	bin := filepath.Join(home, ".bun", "bin")
	writeScript(t, filepath.Join(bin, "bun"), "#!/bin/sh\necho \"bun $*\"\n")
	writeScript(t, filepath.Join(bin, "bunx"), "#!/bin/sh\necho \"bunx $*\"\nexec sleep 30\n")

	t.Setenv("HOME", home)
	t.Setenv("PATH", "/usr/bin:/bin")

	project := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(project, "bun.lockb"), nil, 0o644))

	m := newTestManager(t)

	out, err := m.RunInstall(context.Background(), project)
	require.NoError(t, err)
	assert.Contains(t, out, "bun install")

	proc, err := m.Start(context.Background(), project, 4200)
	require.NoError(t, err)
	assert.True(t, proc.Alive())
	assert.Equal(t, "bunx", proc.Command.Name)

	require.Eventually(t, func() bool {
		return m.Output(project) == "bunx ng serve --port 4200 --host 0.0.0.0\n"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestKeyLocksAreReleased(t *testing.T) {
	m := newTestManager(t, WithCommandBuilder(shellCommand("sleep 30")))
	keys := []string{t.TempDir(), t.TempDir()}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		for _, key := range keys {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = m.Start(context.Background(), key, 4200)
				_ = m.Stop(key)
			}()
		}
	}
	wg.Wait()

	m.mu.RLock()
	defer m.mu.RUnlock()
	assert.Empty(t, m.locks)
	assert.Empty(t, m.procs)
}

func TestOutputOfExitedProcessIsComplete(t *testing.T) {
	m := newTestManager(t, WithCommandBuilder(shellCommand("echo starting; echo 'Error: Cannot find module @angular/core'; exit 1")))
	key := t.TempDir()

	proc, err := m.Start(context.Background(), key, 4200)
	require.NoError(t, err)

	select {
	case <-proc.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}

	// read right after exit, no polling
	assert.Equal(t, "starting\nError: Cannot find module @angular/core\n", m.Output(key))
	assert.Contains(t, m.Tail(key, 20), "@angular/core")
}

func TestOutputDoesNotWaitForOrphanHoldingPipe(t *testing.T) {
	m := newTestManager(t, WithCommandBuilder(shellCommand("(sleep 3 &); echo bye; exit 1")))
	key := t.TempDir()

	proc, err := m.Start(context.Background(), key, 4200)
	require.NoError(t, err)
	<-proc.Done()

	start := time.Now()
	out := m.Output(key)
	assert.Less(t, time.Since(start), time.Second)
	assert.Contains(t, out, "bye")

	select {
	case <-proc.Captured():
		t.Fatal("orphan still holds the pipe, capture should be running")
	default:
	}
}
