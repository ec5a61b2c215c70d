// Package ui renders orchestration results for the terminal.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/harshul/agent-ivy/internal/devserver"
	"github.com/harshul/agent-ivy/internal/doctor"
)

// Printer writes styled lines to an output stream.
type Printer struct {
	w io.Writer
}

// NewPrinter returns a Printer writing to w, or stdout when w is nil.
func NewPrinter(w io.Writer) *Printer {
	if w == nil {
		w = os.Stdout
	}
	return &Printer{w: w}
}

func (p *Printer) line(s string) {
	fmt.Fprintln(p.w, s)
}

// Header prints a styled header
func (p *Printer) Header(text string) {
	p.line(headerStyle.Render("  " + text))
}

// Success prints a success message with checkmark
func (p *Printer) Success(text string) {
	p.line(successStyle.Render("✔") + " " + text)
}

// Warn prints a warning message
func (p *Printer) Warn(text string) {
	p.line(warningStyle.Render("⚠") + " " + text)
}

// Error prints an error message
func (p *Printer) Error(text string) {
	p.line(errorStyle.Render("✖") + " " + text)
}

// Info prints an info message
func (p *Printer) Info(text string) {
	p.line(infoStyle.Render("ℹ") + " " + text)
}

// Highlight prints a label/value pair
func (p *Printer) Highlight(label, value string) {
	p.line("  " + labelStyle.Render(label+":") + " " + valueStyle.Render(value))
}

// Divider prints a styled divider
func (p *Printer) Divider() {
	p.line(dimStyle.Render("  " + strings.Repeat("─", 50)))
}

// Box prints text in a rounded box
func (p *Printer) Box(title, content string) {
	if title != "" {
		p.line(headerStyle.UnsetMarginBottom().Render("  " + title))
	}
	p.line(boxStyle.Render(content))
}

// Result prints the outcome of PrepareAndStartServer.
func (p *Printer) Result(res devserver.Result) {
	if res.Status == devserver.StatusSuccess {
		p.Success("Dev server is ready")
		p.Highlight("Server", res.ServerURL)
		p.Highlight("Harness", res.HarnessURL)
		if res.PackageManager != "" {
			p.Highlight("Package manager", res.PackageManager)
		}
		return
	}

	p.Error(res.Reason)
	for _, e := range res.CompilationErrors {
		p.line("    " + errorStyle.Render("•") + " " + e)
	}
	if res.Logs != "" {
		p.Box("Last output", strings.TrimRight(res.Logs, "\n"))
	}
}

// Status prints a compilation status snapshot.
func (p *Printer) Status(st devserver.StatusResult) {
	if st.Status == devserver.StatusError {
		p.Error(st.Message)
		return
	}

	switch {
	case st.HasErrors:
		p.Error(fmt.Sprintf("%d compilation error(s)", len(st.Errors)))
		for _, e := range st.Errors {
			p.line("    " + errorStyle.Render("•") + " " + e)
		}
	case st.Compiled:
		p.Success("Compiled successfully")
	default:
		p.Info("Compiling")
	}

	if st.Alive {
		p.Highlight("Process", "running")
	} else {
		p.Highlight("Process", "stopped")
	}
	if st.ServerURL != "" {
		p.Highlight("Server", st.ServerURL)
	}
}

// Diagnosis prints a doctor report.
func (p *Printer) Diagnosis(d doctor.Diagnosis) {
	p.Header("Diagnosing " + d.ProjectPath)

	if d.Runtime.Installed {
		p.Success(fmt.Sprintf("%s %s", d.Runtime.Name, d.Runtime.Version))
	} else {
		p.Error(d.Runtime.Name + " not found")
	}

	deps := d.Dependencies
	if deps.ManagerInstalled {
		p.Success(deps.Manager + " available")
	} else {
		p.Error(deps.Manager + " not installed")
		if deps.ManagerHint != "" {
			p.line("    " + dimStyle.Render(deps.ManagerHint))
		}
	}
	p.Highlight("Install", deps.InstallCommand)
	p.Highlight("Serve", deps.ServeCommand)

	if d.Memory.Known {
		p.Highlight("Memory available", formatBytes(d.Memory.Available)+" of "+formatBytes(d.Memory.Total))
	}

	p.Divider()
	for _, issue := range d.Issues {
		p.Error(issue)
	}
	for _, w := range d.Warnings {
		p.Warn(w)
	}
	if d.Healthy {
		p.Success("Project is ready to serve")
	}
}

func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
