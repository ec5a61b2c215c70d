// Package api exposes the dev-server orchestrator over HTTP with gin, plus a
// Server-Sent Events stream of lifecycle events and Prometheus metrics.
package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/harshul/agent-ivy/internal/devserver"
	"github.com/harshul/agent-ivy/internal/events"
)

// DefaultLogTail is the number of log bytes returned when no tail is requested.
const DefaultLogTail = 2000

// DevServer is the orchestrator surface served over HTTP.
type DevServer interface {
	PrepareAndStartServer(ctx context.Context, repoPath string, port int) devserver.Result
	StopServer(repoPath string) devserver.Result
	GetCompilationStatus(repoPath string) devserver.StatusResult
	Logs(repoPath string, n int) (string, error)
}

var _ DevServer = (*devserver.Orchestrator)(nil)

// Config wires the router's collaborators. Broker and Gatherer are optional.
type Config struct {
	DevServer DevServer
	Broker    *events.Broker
	Gatherer  prometheus.Gatherer
	Logger    *slog.Logger

	// KeepAlive is the interval of SSE comment frames; zero disables them.
	KeepAlive time.Duration
}

type handler struct {
	devs      DevServer
	broker    *events.Broker
	logger    *slog.Logger
	keepAlive time.Duration
}

// StartRequest is the body of POST /api/devserver/start.
type StartRequest struct {
	RepoPath string `json:"repoPath" binding:"required"`
	Port     int    `json:"port"`
}

// StopRequest is the body of POST /api/devserver/stop.
type StopRequest struct {
	RepoPath string `json:"repoPath" binding:"required"`
}

// LogsResponse is returned by GET /api/devserver/logs.
type LogsResponse struct {
	Status string `json:"status"`
	Logs   string `json:"logs"`
}

// NewRouter builds the gin engine.
func NewRouter(cfg Config) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{
		devs:      cfg.DevServer,
		broker:    cfg.Broker,
		logger:    logger,
		keepAlive: cfg.KeepAlive,
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if cfg.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	v := r.Group("/api/devserver")
	v.POST("/start", h.start)
	v.POST("/stop", h.stop)
	v.GET("/status", h.status)
	v.GET("/logs", h.logs)

	if cfg.Broker != nil {
		r.GET("/api/events", h.stream)
	}
	return r
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

func badRequest(c *gin.Context, reason string) {
	c.JSON(http.StatusBadRequest, devserver.Result{Status: devserver.StatusError, Reason: reason})
}

// start blocks for the whole orchestration; gin runs every request on its
// own goroutine so other projects are not held up.
func (h *handler) start(c *gin.Context) {
	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}
	if req.Port < 0 || req.Port > 65535 {
		badRequest(c, "port must be between 0 and 65535")
		return
	}

	c.JSON(http.StatusOK, h.devs.PrepareAndStartServer(c.Request.Context(), req.RepoPath, req.Port))
}

func (h *handler) stop(c *gin.Context) {
	var req StopRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, h.devs.StopServer(req.RepoPath))
}

func (h *handler) status(c *gin.Context) {
	repoPath := c.Query("repoPath")
	if repoPath == "" {
		badRequest(c, "repoPath is required")
		return
	}
	c.JSON(http.StatusOK, h.devs.GetCompilationStatus(repoPath))
}

func (h *handler) logs(c *gin.Context) {
	repoPath := c.Query("repoPath")
	if repoPath == "" {
		badRequest(c, "repoPath is required")
		return
	}

	tail := DefaultLogTail
	if raw := c.Query("tail"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			badRequest(c, "tail must be a non-negative integer")
			return
		}
		tail = n
	}

	logs, err := h.devs.Logs(repoPath, tail)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, LogsResponse{Status: devserver.StatusSuccess, Logs: logs})
}

// stream sends every lifecycle event as an SSE frame named after its phase.
// An optional repoPath query narrows the stream to one project.
func (h *handler) stream(c *gin.Context) {
	project := c.Query("repoPath")
	sub := h.broker.Subscribe()
	defer h.broker.Unsubscribe(sub)

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	var keepAlive <-chan time.Time
	if h.keepAlive > 0 {
		ticker := time.NewTicker(h.keepAlive)
		defer ticker.Stop()
		keepAlive = ticker.C
	}

	ctx := c.Request.Context()
	// flush headers so clients see the stream open before the first event
	c.Status(http.StatusOK)
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-keepAlive:
			_, _ = w.Write([]byte(": keep-alive\n\n"))
			return true
		case e, ok := <-sub:
			if !ok {
				return false
			}
			if project != "" && !sameProject(project, e.Project) {
				return true
			}
			c.SSEvent(e.Phase, e)
			return true
		}
	})
	h.logger.Debug("event stream closed", "project", project)
}
