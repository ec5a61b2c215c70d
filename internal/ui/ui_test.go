package ui

import (
	"bytes"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harshul/agent-ivy/internal/devserver"
	"github.com/harshul/agent-ivy/internal/doctor"
	"github.com/harshul/agent-ivy/internal/events"
)

func TestPrinterResult(t *testing.T) {
	tests := []struct {
		name     string
		res      devserver.Result
		contains []string
	}{
		{
			name: "ready",
			res: devserver.Result{
				Status:         devserver.StatusSuccess,
				ServerURL:      "http://localhost:4200",
				HarnessURL:     "http://localhost:4200/agent-ivy-harness",
				PackageManager: "pnpm",
			},
			contains: []string{"Dev server is ready", "http://localhost:4200/agent-ivy-harness", "pnpm"},
		},
		{
			name: "compilation errors",
			res: devserver.Result{
				Status:            devserver.StatusError,
				Reason:            devserver.ReasonCompilationError,
				CompilationErrors: []string{"TS2322: Type 'string' is not assignable to type 'number'."},
				Logs:              "Error: src/app/foo.ts:12:5\n",
			},
			contains: []string{devserver.ReasonCompilationError, "TS2322", "Last output", "src/app/foo.ts"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			NewPrinter(&buf).Result(tt.res)
			for _, want := range tt.contains {
				assert.Contains(t, buf.String(), want)
			}
		})
	}
}

func TestPrinterStatus(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).Status(devserver.StatusResult{
		Status:    devserver.StatusSuccess,
		HasErrors: true,
		Errors:    []string{"TS1005: ';' expected."},
		Alive:     true,
	})

	assert.Contains(t, buf.String(), "1 compilation error(s)")
	assert.Contains(t, buf.String(), "TS1005")
	assert.Contains(t, buf.String(), "running")

	buf.Reset()
	NewPrinter(&buf).Status(devserver.StatusResult{Status: devserver.StatusError, Message: "No server running"})
	assert.Contains(t, buf.String(), "No server running")
}

func TestPrinterDiagnosis(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).Diagnosis(doctor.Diagnosis{
		ProjectPath: "/work/shop",
		Dependencies: doctor.DependencyStatus{
			Manager:     "yarn",
			ManagerHint: "npm install -g yarn",
		},
		Memory:   doctor.MemoryStatus{Total: 8 << 30, Available: 512 << 20, Known: true},
		Issues:   []string{"yarn is not installed"},
		Warnings: []string{"low memory"},
	})

	out := buf.String()
	assert.Contains(t, out, "yarn not installed")
	assert.Contains(t, out, "npm install -g yarn")
	assert.Contains(t, out, "512.0 MiB of 8.0 GiB")
	assert.Contains(t, out, "low memory")
	assert.NotContains(t, out, "ready to serve")
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.5 KiB", formatBytes(1536))
	assert.Equal(t, "2.0 GiB", formatBytes(2<<30))
}

func TestWatchModelTracksPhases(t *testing.T) {
	m := NewWatchModel("/work/shop", nil)

	next, _ := m.Update(eventMsg(events.New("/work/shop", string(devserver.PhaseValidating), events.StatusCompleted, "Project structure looks valid", nil)))
	next, _ = next.Update(eventMsg(events.New("/work/shop", string(devserver.PhaseInstalling), events.StatusStarted, "Running npm install", nil)))
	m = next.(WatchModel)

	assert.Equal(t, events.StatusCompleted, m.status[devserver.PhaseValidating])
	assert.Equal(t, events.StatusStarted, m.status[devserver.PhaseInstalling])

	view := m.View()
	assert.Contains(t, view, "✔ Validate project")
	assert.Contains(t, view, "Running npm install")
	assert.Contains(t, view, "q cancel")
}

func TestWatchModelQuitsOnResult(t *testing.T) {
	m := NewWatchModel("/work/shop", nil)

	next, cmd := m.Update(resultMsg(devserver.Result{Status: devserver.StatusSuccess}))
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())

	res, ok := next.(WatchModel).Result()
	assert.True(t, ok)
	assert.Equal(t, devserver.StatusSuccess, res.Status)
}

func TestWatchModelCancelsOnce(t *testing.T) {
	calls := 0
	m := NewWatchModel("/work/shop", func() { calls++ })

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	next, _ = next.Update(tea.KeyMsg{Type: tea.KeyCtrlC})

	assert.Equal(t, 1, calls)
	assert.Contains(t, next.View(), "canceling")
}

func TestWatchModelKeepsRecentMessages(t *testing.T) {
	m := NewWatchModel("/work/shop", nil)
	var next tea.Model = m
	for i := 0; i < maxMessages+10; i++ {
		e := events.New("/work/shop", string(devserver.PhaseWaiting), events.StatusStarted, "polling", nil)
		e.Timestamp = time.Date(2024, 1, 1, 0, 0, i%60, 0, time.UTC)
		next, _ = next.Update(eventMsg(e))
	}

	assert.Len(t, next.(WatchModel).messages, maxMessages)
}
