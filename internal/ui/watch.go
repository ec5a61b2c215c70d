package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/harshul/agent-ivy/internal/devserver"
	"github.com/harshul/agent-ivy/internal/events"
)

const (
	defaultViewportWidth  = 80
	defaultViewportHeight = 8
	maxMessages           = 200
)

var watchedPhases = []devserver.Phase{
	devserver.PhaseValidating,
	devserver.PhaseDetecting,
	devserver.PhasePatching,
	devserver.PhaseInstalling,
	devserver.PhaseFindingPort,
	devserver.PhaseStarting,
	devserver.PhaseWaiting,
}

var phaseTitles = map[devserver.Phase]string{
	devserver.PhaseValidating:  "Validate project",
	devserver.PhaseDetecting:   "Detect package manager",
	devserver.PhasePatching:    "Inject harness route",
	devserver.PhaseInstalling:  "Install dependencies",
	devserver.PhaseFindingPort: "Find a free port",
	devserver.PhaseStarting:    "Start ng serve",
	devserver.PhaseWaiting:     "Wait for compilation",
}

type watchKeys struct {
	Quit key.Binding
}

func defaultWatchKeys() watchKeys {
	return watchKeys{
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "cancel"),
		),
	}
}

type eventMsg events.Event

type resultMsg devserver.Result

// WatchModel is a bubbletea model that follows one orchestration run.
type WatchModel struct {
	project  string
	status   map[devserver.Phase]events.Status
	messages []string
	spinner  spinner.Model
	viewport viewport.Model
	keys     watchKeys
	cancel   context.CancelFunc

	canceling bool
	result    *devserver.Result
}

// NewWatchModel returns a model for project. cancel is called when the user quits.
func NewWatchModel(project string, cancel context.CancelFunc) WatchModel {
	s := spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(infoStyle))
	return WatchModel{
		project:  project,
		status:   make(map[devserver.Phase]events.Status),
		spinner:  s,
		viewport: viewport.New(defaultViewportWidth, defaultViewportHeight),
		keys:     defaultWatchKeys(),
		cancel:   cancel,
	}
}

func (m WatchModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Quit) && !m.canceling {
			m.canceling = true
			if m.cancel != nil {
				m.cancel()
			}
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.viewport.Width = msg.Width
		return m, nil

	case eventMsg:
		phase := devserver.Phase(msg.Phase)
		m.status[phase] = msg.Status
		m.messages = append(m.messages, fmt.Sprintf("%s %s", dimStyle.Render(msg.Timestamp.Format("15:04:05")), msg.Message))
		if len(m.messages) > maxMessages {
			m.messages = m.messages[len(m.messages)-maxMessages:]
		}
		m.viewport.SetContent(strings.Join(m.messages, "\n"))
		m.viewport.GotoBottom()
		return m, nil

	case resultMsg:
		res := devserver.Result(msg)
		m.result = &res
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m WatchModel) View() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("  Serving " + m.project))
	b.WriteString("\n")

	for _, phase := range watchedPhases {
		b.WriteString(m.renderPhase(phase))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")

	switch {
	case m.result != nil:
	case m.canceling:
		b.WriteString(warningStyle.Render("canceling..."))
	default:
		b.WriteString(dimStyle.Render(m.keys.Quit.Help().Key + " " + m.keys.Quit.Help().Desc))
	}
	b.WriteString("\n")
	return b.String()
}

func (m WatchModel) renderPhase(phase devserver.Phase) string {
	title := phaseTitles[phase]
	st, seen := m.status[phase]
	if !seen {
		return "  " + dimStyle.Render("○ "+title)
	}
	switch st {
	case events.StatusCompleted:
		return "  " + successStyle.Render("✔") + " " + title
	case events.StatusWarning:
		return "  " + warningStyle.Render("⚠") + " " + title
	case events.StatusFailed:
		return "  " + errorStyle.Render("✖") + " " + title
	}
	if m.result != nil {
		return "  " + dimStyle.Render("○ "+title)
	}
	return "  " + m.spinner.View() + " " + title
}

// Result returns the orchestration result once the run finished.
func (m WatchModel) Result() (devserver.Result, bool) {
	if m.result == nil {
		return devserver.Result{}, false
	}
	return *m.result, true
}

// RunWatch runs fn while rendering project's lifecycle events from sub.
// The result of fn is returned even when the terminal UI fails to start.
func RunWatch(ctx context.Context, project string, sub <-chan events.Event, fn func(context.Context) devserver.Result) (devserver.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(NewWatchModel(project, cancel))

	go func() {
		for e := range sub {
			if e.Project == project {
				p.Send(eventMsg(e))
			}
		}
	}()

	done := make(chan devserver.Result, 1)
	go func() {
		res := fn(ctx)
		done <- res
		p.Send(resultMsg(res))
	}()

	_, err := p.Run()
	return <-done, err
}
