package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/harshul/agent-ivy/internal/config"
	"github.com/harshul/agent-ivy/internal/devserver"
	"github.com/harshul/agent-ivy/internal/events"
	"github.com/harshul/agent-ivy/internal/metrics"
	"github.com/harshul/agent-ivy/internal/procmgr"
)

// app is the wired orchestrator stack shared by start and serve.
type app struct {
	procs     *procmgr.Manager
	orch      *devserver.Orchestrator
	broker    *events.Broker
	collector *metrics.Prometheus
	nats      *events.NATSSink
}

// newApp wires the stack from c. logEvents mirrors lifecycle events into the
// log, which the live view replaces.
func newApp(c config.Config, logger *slog.Logger, logEvents bool) (*app, error) {
	a := &app{
		broker:    events.NewBroker(events.DefaultSubscriberBuffer),
		collector: metrics.NewPrometheus(c.Metrics.Namespace),
	}

	sinks := []events.Sink{a.broker}
	if logEvents {
		sinks = append(sinks, events.NewLogSink(logger))
	}
	if c.Events.NATSURL != "" {
		sink, err := events.NewNATSSink(events.NATSConfig{
			URL:           c.Events.NATSURL,
			SubjectPrefix: c.Events.SubjectPrefix,
		}, logger)
		if err != nil {
			return nil, err
		}
		a.nats = sink
		sinks = append(sinks, sink)
	}

	a.procs = procmgr.New(
		procmgr.WithLogger(logger),
		procmgr.WithMetrics(a.collector),
		procmgr.WithLogLimits(c.Process.MaxLogLength, c.Process.EvictChunk),
		procmgr.WithInstallTimeout(c.Process.InstallTimeout),
		procmgr.WithStopGrace(c.Process.StopGrace),
		procmgr.WithOutputTail(c.DevServer.LogTail),
	)

	a.orch = devserver.New(a.procs,
		devserver.WithSettings(settingsFrom(c)),
		devserver.WithEventSink(events.Multi(sinks...)),
		devserver.WithMetrics(a.collector),
		devserver.WithLogger(logger),
	)
	return a, nil
}

func settingsFrom(c config.Config) devserver.Settings {
	return devserver.Settings{
		DefaultPort:   c.DevServer.Port,
		Timeout:       c.DevServer.Timeout,
		GracePeriod:   c.DevServer.GracePeriod,
		PollInterval:  c.DevServer.PollInterval,
		CompileSettle: c.DevServer.CompileSettle,
		PortAttempts:  c.DevServer.PortAttempts,
		LogTail:       c.DevServer.LogTail,
		ProbeTimeout:  c.DevServer.ProbeTimeout,
	}
}

// Close stops every dev server and flushes pending NATS events.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if err := a.procs.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if a.nats != nil {
		if err := a.nats.Flush(); err != nil {
			errs = append(errs, err)
		}
		if err := a.nats.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
