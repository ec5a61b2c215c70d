package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"github.com/harshul/agent-ivy/internal/devserver"
	"github.com/harshul/agent-ivy/internal/ui"
)

// startCmd represents the start command
var startCmd = &cobra.Command{
	Use:   "start [path]",
	Short: "Prepare and start an Angular dev server",
	Long: `The start command prepares the Angular project at path (default: the
current directory) and starts its dev server:

- Injects the test-harness route into the router configuration
- Installs dependencies with the detected package manager
- Starts ng serve on the first free port from --port
- Waits until the app compiles, fails to compile or the server dies

On success the server keeps running until Ctrl+C.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStart,
}

func init() {
	startCmd.Flags().IntP("port", "p", 4200, "Preferred port for ng serve")
	startCmd.Flags().Duration("timeout", 180*time.Second, "How long to wait for the server to become ready")
	startCmd.Flags().Bool("no-tui", false, "Disable the live view (use plain output)")
	bindFlag(startCmd, "port", "devserver.port")
	bindFlag(startCmd, "timeout", "devserver.timeout")
}

func runStart(cmd *cobra.Command, args []string) error {
	path := "."
	if len(args) == 1 {
		path = args[0]
	}
	project, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	noTUI, _ := cmd.Flags().GetBool("no-tui")
	live := !noTUI && term.IsTerminal(os.Stdout.Fd())

	a, err := newApp(cfg, logger, !live)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*cfg.Process.StopGrace+time.Second)
		defer cancel()
		if err := a.Close(ctx); err != nil {
			logger.Warn("shutdown incomplete", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := ui.NewPrinter(cmd.OutOrStdout())
	run := func(ctx context.Context) devserver.Result {
		return a.orch.PrepareAndStartServer(ctx, project, cfg.DevServer.Port)
	}

	var res devserver.Result
	if live {
		sub := a.broker.Subscribe()
		res, err = ui.RunWatch(ctx, project, sub, run)
		a.broker.Unsubscribe(sub)
		if err != nil {
			logger.Warn("live view failed", "error", err)
		}
	} else {
		out.Header("Serving " + project)
		res = run(ctx)
	}

	out.Result(res)
	if res.Status != devserver.StatusSuccess {
		return fmt.Errorf("dev server did not start: %s", res.Reason)
	}

	out.Info("Press Ctrl+C to stop")
	<-ctx.Done()

	if stopped := a.orch.StopServer(project); stopped.Status != devserver.StatusSuccess {
		return fmt.Errorf("failed to stop dev server: %s", stopped.Reason)
	}
	out.Success("Dev server stopped")
	return nil
}
