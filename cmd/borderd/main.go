package main

//	@title			borderd API
//	@version		0.1.0
//	@description	Thread Border Router management API.
//	@BasePath		/api

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/threadscope/borderd/internal/actions"
	"github.com/threadscope/borderd/internal/allowlist"
	"github.com/threadscope/borderd/internal/api"
	"github.com/threadscope/borderd/internal/collection"
	"github.com/threadscope/borderd/internal/collector"
	"github.com/threadscope/borderd/internal/config"
	"github.com/threadscope/borderd/internal/event"
	"github.com/threadscope/borderd/internal/mqtt"
	"github.com/threadscope/borderd/internal/probe"
	"github.com/threadscope/borderd/internal/server"
	"github.com/threadscope/borderd/internal/threadapi"
	"github.com/threadscope/borderd/internal/threadapi/sim"
	"github.com/threadscope/borderd/internal/version"
	"github.com/threadscope/borderd/internal/ws"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Println(version.Info())
		return
	}

	configPath := flag.String("config", "", "path to borderd.yaml")
	simMode := flag.Bool("sim", false, "run against a simulated Thread mesh (no NCP required)")
	flag.Parse()

	v, cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(v)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting borderd", zap.String("version", version.Short()))

	var thread threadapi.Client
	if *simMode {
		logger.Warn("running with simulated Thread mesh")
		thread = sim.New(logger.Named("sim"))
	} else {
		// The NCP driver is provided by the platform integration; without
		// one the agent can only run in sim mode.
		logger.Error("no NCP driver configured, start with --sim for a simulated mesh")
		os.Exit(1)
	}

	bus := event.NewBus(logger.Named("event"))

	devices := collection.New(collection.DevicesName, cfg.Collections.MaxDevices, logger.Named("devices"))
	diags := collection.New(collection.DiagnosticsName, cfg.Collections.MaxDiagnostics, logger.Named("diagnostics"))

	coll := collector.New(thread, devices, diags, logger.Named("collector"))

	queue := actions.NewQueue(cfg.Actions.QueueMax, bus, logger.Named("actions"))
	allow := allowlist.New(thread, logger.Named("allowlist"), queue.Kick)
	actions.RegisterHandlers(queue, actions.Deps{
		API:       thread,
		Collector: coll,
		AllowList: allow,
		Devices:   devices,
		Diags:     diags,
		Logger:    logger.Named("actions"),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go queue.Run(ctx, cfg.Actions.TickInterval)

	hub := ws.NewHub(logger.Named("ws"))
	wsHandler, unsubscribeWS := ws.NewHandler(hub, bus, logger.Named("ws"))
	defer unsubscribeWS()

	if cfg.MQTT.Enabled {
		publisher, err := mqtt.New(mqtt.Config{
			BrokerURL:   cfg.MQTT.BrokerURL,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
		}, bus, logger.Named("mqtt"))
		if err != nil {
			logger.Error("mqtt disabled", zap.Error(err))
		} else {
			defer publisher.Close()
		}
	}

	if cfg.Probe.Enabled {
		prober := probe.New(devices, bus, cfg.Probe.Interval, cfg.Probe.Timeout, logger.Named("probe"))
		go prober.Run(ctx)
	}

	restAPI := api.New(queue, coll, devices, diags, thread, logger.Named("api"))

	srv := server.New(cfg.Server.Addr, logger.Named("server"), nil, cfg.Server.DevMode, restAPI, wsHandler)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
	}
}
