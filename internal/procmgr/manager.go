// Package procmgr owns the dev-server OS process of each project: it spawns
// it, captures its combined output into a bounded LogBuffer and tears down the
// whole process tree on stop. At most one process exists per project key.
package procmgr

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sync/errgroup"

	"github.com/harshul/agent-ivy/internal/metrics"
	"github.com/harshul/agent-ivy/internal/provisioner"
)

const (
	// DefaultInstallTimeout bounds a dependency install.
	DefaultInstallTimeout = 300 * time.Second

	// DefaultStopGrace is how long a stopping process gets to exit after SIGTERM.
	DefaultStopGrace = 5 * time.Second

	// DefaultOutputTail is how much install output is attached to an install error.
	DefaultOutputTail = 2000

	// captureSettle bounds the wait for the last output of an exited process.
	// An orphaned grandchild holding the pipe would otherwise block readers.
	captureSettle = 100 * time.Millisecond
)

// Process is a running (or exited) dev-server process.
type Process struct {
	Key       string
	PID       int
	Port      int
	Command   provisioner.Command
	StartedAt time.Time

	cmd    *exec.Cmd
	output *os.File
	logs   *LogBuffer

	done     chan struct{}
	captured chan struct{}
	exitErr  error
}

// Alive reports whether the OS process has not exited yet.
func (p *Process) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Done is closed once the OS process has exited.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// ExitErr returns the error from waiting on the process. Only meaningful after Done.
func (p *Process) ExitErr() error {
	select {
	case <-p.done:
		return p.exitErr
	default:
		return nil
	}
}

// Captured is closed once all output has been read from the process pipe.
func (p *Process) Captured() <-chan struct{} {
	return p.captured
}

// settle waits briefly for the capture goroutine once the process has exited,
// so readers see what a crashing server printed last.
func (p *Process) settle() {
	if p.Alive() {
		return
	}
	select {
	case <-p.captured:
	case <-time.After(captureSettle):
	}
}

// Logs returns the process output buffer.
func (p *Process) Logs() *LogBuffer {
	return p.logs
}

// capture drains the combined output pipe into the log buffer. A read error
// only means the pipe was closed, so it ends the loop like EOF does.
func (p *Process) capture() {
	defer close(p.captured)
	defer p.output.Close()

	reader := bufio.NewReaderSize(p.output, 64*1024)
	for {
		line, err := reader.ReadString('\n')
		p.logs.Append(line)
		if err != nil {
			return
		}
	}
}

func (p *Process) wait() {
	p.exitErr = p.cmd.Wait()
	close(p.done)
}

// Manager keeps the registry of dev-server processes keyed by project root.
type Manager struct {
	mu    sync.RWMutex
	procs map[string]*Process
	locks map[string]*keyLock

	logger  *slog.Logger
	metrics metrics.Collector

	maxLogLength   int
	evictChunk     int
	installTimeout time.Duration
	stopGrace      time.Duration
	outputTail     int

	serveCommand   CommandBuilder
	installCommand InstallCommandBuilder
}

// New creates a Manager.
func New(opts ...Option) *Manager {
	m := &Manager{
		procs:          make(map[string]*Process),
		locks:          make(map[string]*keyLock),
		logger:         slog.Default(),
		metrics:        metrics.NewNoop(),
		maxLogLength:   DefaultMaxLogLength,
		evictChunk:     DefaultEvictChunk,
		installTimeout: DefaultInstallTimeout,
		stopGrace:      DefaultStopGrace,
		outputTail:     DefaultOutputTail,
		serveCommand:   provisioner.ServeCommand,
		installCommand: provisioner.InstallCommand,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// keyLock serializes Start and Stop for one key. refs counts holders and
// waiters so the entry can be dropped once nobody uses it.
type keyLock struct {
	mu   sync.Mutex
	refs int
}

// acquire locks key and returns the matching release.
func (m *Manager) acquire(key string) func() {
	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &keyLock{}
		m.locks[key] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, key)
		}
		m.mu.Unlock()
	}
}

// Start stops any process registered for key and launches the dev server in
// the key directory. It returns as soon as the process exists; output is
// captured in the background for the lifetime of the process.
func (m *Manager) Start(ctx context.Context, key string, port int) (*Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	release := m.acquire(key)
	defer release()

	if err := m.stopLocked(key); err != nil {
		m.logger.Warn("previous dev server did not stop cleanly", "project", key, "error", err)
	}

	command := m.serveCommand(key, port)
	env := provisioner.Environment()
	path, err := provisioner.LookPath(command.Name, env)
	if err != nil {
		return nil, &ProcessSpawnError{Command: command.String(), Err: err}
	}

	r, w, err := os.Pipe()
	if err != nil {
		return nil, &ProcessSpawnError{Command: command.String(), Err: fmt.Errorf("failed to create output pipe: %w", err)}
	}

	cmd := exec.Command(path, command.Args...)
	cmd.Args[0] = command.Name
	cmd.Dir = key
	cmd.Env = env
	cmd.Stdout = w
	cmd.Stderr = w
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		r.Close()
		w.Close()
		return nil, &ProcessSpawnError{Command: command.String(), Err: err}
	}
	// the child holds its own copy of the write end
	w.Close()

	logs := NewLogBuffer(m.maxLogLength, m.evictChunk)
	logs.setEvictHook(m.metrics.LogEvicted)

	proc := &Process{
		Key:       key,
		PID:       cmd.Process.Pid,
		Port:      port,
		Command:   command,
		StartedAt: time.Now(),
		cmd:       cmd,
		output:    r,
		logs:      logs,
		done:      make(chan struct{}),
		captured:  make(chan struct{}),
	}
	go proc.capture()
	go proc.wait()

	m.mu.Lock()
	m.procs[key] = proc
	active := len(m.procs)
	m.mu.Unlock()

	m.metrics.ProcessStarted()
	m.metrics.ActiveProcesses(active)
	m.logger.Info("dev server started", "project", key, "pid", proc.PID, "port", port, "command", command.String())

	return proc, nil
}

// Stop terminates the process tree registered for key and discards its logs.
// Stopping an unknown key is a no-op.
func (m *Manager) Stop(key string) error {
	release := m.acquire(key)
	defer release()

	return m.stopLocked(key)
}

func (m *Manager) stopLocked(key string) error {
	m.mu.RLock()
	proc, ok := m.procs[key]
	m.mu.RUnlock()
	if !ok {
		return nil
	}

	start := time.Now()
	err := m.terminate(proc)

	m.mu.Lock()
	delete(m.procs, key)
	active := len(m.procs)
	m.mu.Unlock()

	m.metrics.ProcessStopped(time.Since(start))
	m.metrics.ActiveProcesses(active)
	if err != nil {
		m.logger.Error("failed to stop dev server", "project", key, "pid", proc.PID, "error", err)
		return err
	}
	m.logger.Info("dev server stopped", "project", key, "pid", proc.PID)
	return nil
}

// terminate sends SIGTERM to the process group and every descendant, then
// SIGKILL to whatever is left after the grace period.
func (m *Manager) terminate(proc *Process) error {
	defer m.closeOutput(proc)

	if !proc.Alive() {
		return nil
	}

	tree := descendants(proc.PID)

	if err := signalGroup(proc.PID, false); err != nil {
		m.logger.Debug("failed to signal process group", "pid", proc.PID, "error", err)
	}
	for _, child := range tree {
		_ = child.Terminate()
	}

	select {
	case <-proc.done:
	case <-time.After(m.stopGrace):
		m.logger.Warn("dev server ignored SIGTERM, killing", "project", proc.Key, "pid", proc.PID)
		_ = signalGroup(proc.PID, true)
		_ = proc.cmd.Process.Kill()
	}

	// descendants that left the process group outlive the parent otherwise
	for _, child := range tree {
		if running, err := child.IsRunning(); err == nil && running {
			_ = child.Kill()
		}
	}

	select {
	case <-proc.done:
		return nil
	case <-time.After(m.stopGrace):
		return fmt.Errorf("process %d did not exit after SIGKILL", proc.PID)
	}
}

// closeOutput unblocks the capture goroutine when an orphaned grandchild
// still holds the write end of the pipe.
func (m *Manager) closeOutput(proc *Process) {
	select {
	case <-proc.captured:
	case <-time.After(100 * time.Millisecond):
		proc.output.Close()
		<-proc.captured
	}
}

// descendants collects the whole child tree of pid.
func descendants(pid int) []*process.Process {
	root, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil
	}

	var tree []*process.Process
	var walk func(p *process.Process)
	walk = func(p *process.Process) {
		children, err := p.Children()
		if err != nil {
			return
		}
		for _, c := range children {
			tree = append(tree, c)
			walk(c)
		}
	}
	walk(root)
	return tree
}

// Get returns the process registered for key.
func (m *Manager) Get(key string) (*Process, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.procs[key]
	return p, ok
}

// Output returns a snapshot of the captured output for key, or "" if none.
func (m *Manager) Output(key string) string {
	p, ok := m.Get(key)
	if !ok {
		return ""
	}
	p.settle()
	return p.logs.String()
}

// Tail returns the last n bytes of captured output for key.
func (m *Manager) Tail(key string, n int) string {
	p, ok := m.Get(key)
	if !ok {
		return ""
	}
	p.settle()
	return p.logs.Tail(n)
}

// IsAlive reports whether a live process is registered for key.
func (m *Manager) IsAlive(key string) bool {
	p, ok := m.Get(key)
	return ok && p.Alive()
}

// Keys returns the registered project keys in sorted order.
func (m *Manager) Keys() []string {
	m.mu.RLock()
	keys := make([]string, 0, len(m.procs))
	for k := range m.procs {
		keys = append(keys, k)
	}
	m.mu.RUnlock()

	sort.Strings(keys)
	return keys
}

// Shutdown stops every registered process concurrently and returns the first
// error. Processes not yet stopped when ctx is done are left running.
func (m *Manager) Shutdown(ctx context.Context) error {
	var g errgroup.Group
	for _, key := range m.Keys() {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return m.Stop(key)
		})
	}
	return g.Wait()
}
