package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/harshul/agent-ivy/internal/api"
)

const shutdownTimeout = 15 * time.Second

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Expose the dev-server orchestrator over HTTP",
	Long: `The serve command runs an HTTP API for agents and test runners:

  POST /api/devserver/start    {"repoPath": "...", "port": 4200}
  POST /api/devserver/stop     {"repoPath": "..."}
  GET  /api/devserver/status   ?repoPath=...
  GET  /api/devserver/logs     ?repoPath=...&tail=2000
  GET  /api/events             Server-Sent Events, optional ?repoPath=
  GET  /metrics                Prometheus metrics

Every dev server started through the API is stopped on shutdown.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringP("listen", "l", ":8085", "Address to listen on")
	bindFlag(serveCmd, "listen", "server.listen")
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg, logger, true)
	if err != nil {
		return err
	}

	if !verbose {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr: cfg.Server.Listen,
		Handler: api.NewRouter(api.Config{
			DevServer: a.orch,
			Broker:    a.broker,
			Gatherer:  a.collector.Registry(),
			Logger:    logger,
			KeepAlive: 15 * time.Second,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		// requests, event streams included, end with the signal context
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown incomplete", "error", err)
		}
		return a.Close(shutdownCtx)
	})
	return g.Wait()
}
