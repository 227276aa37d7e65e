// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// frontdesk-service runs the student-services queue: it admits
// students to per-service queues, drives tickets through their
// lifecycle for staff, estimates waits, and streams live queue events
// to subscribers over a CBOR Unix socket.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/frontdesk/lib/admission"
	"github.com/bureau-foundation/frontdesk/lib/broadcast"
	"github.com/bureau-foundation/frontdesk/lib/broadcast/redisrelay"
	"github.com/bureau-foundation/frontdesk/lib/catalog"
	"github.com/bureau-foundation/frontdesk/lib/clock"
	"github.com/bureau-foundation/frontdesk/lib/config"
	"github.com/bureau-foundation/frontdesk/lib/estimate"
	"github.com/bureau-foundation/frontdesk/lib/metrics"
	"github.com/bureau-foundation/frontdesk/lib/queue"
	"github.com/bureau-foundation/frontdesk/lib/queuestats"
	"github.com/bureau-foundation/frontdesk/lib/service"
	"github.com/bureau-foundation/frontdesk/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		logLevel    string
		showVersion bool
	)

	flagSet := pflag.NewFlagSet("frontdesk-service", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to frontdesk.yaml (default: $FRONTDESK_CONFIG)")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if showVersion {
		version.Print(os.Stdout, "frontdesk-service")
		return nil
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureStateDir(); err != nil {
		return err
	}

	logger, err := service.NewLogger(logLevel)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := clock.Real()

	queueStore, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer queueStore.Close()
	logger.Info("store open", "driver", cfg.Store.Driver)

	if cfg.Catalog.Path != "" {
		services, err := catalog.ReadFile(cfg.Catalog.Path)
		if err != nil {
			return err
		}
		if err := services.Apply(ctx, queueStore, clk.Now()); err != nil {
			return err
		}
		logger.Info("service catalog applied", "path", cfg.Catalog.Path, "services", len(services.Services))
	}

	metrics.Register()

	hub := broadcast.NewHub(broadcast.Config{
		Buffer: cfg.Broadcast.SubscriberBuffer,
		OnDeliver: func(topic string) {
			metrics.RecordBroadcastDelivered(broadcast.TopicKind(topic))
		},
		OnDrop: func(topic string) {
			metrics.RecordBroadcastDropped(broadcast.TopicKind(topic))
		},
		Logger: logger,
	})
	defer hub.Close()

	var relay *redisrelay.Relay
	relayDone := make(chan error, 1)
	if cfg.Broadcast.Redis.URL != "" {
		options, err := redis.ParseURL(cfg.Broadcast.Redis.URL)
		if err != nil {
			return fmt.Errorf("parsing broadcast.redis.url: %w", err)
		}
		client := redis.NewClient(options)
		defer client.Close()

		relay = redisrelay.New(client, hub, redisrelay.Config{
			Channel: cfg.Broadcast.Redis.Channel,
			Outbox:  cfg.Broadcast.Redis.Outbox,
			Clock:   clk,
			Logger:  logger,
		})
		hub.SetRelay(relay)
		go func() {
			relayDone <- relay.Run(ctx)
		}()
	}

	estimator := estimate.New(queueStore, estimate.Config{
		Window:      cfg.Estimator.Window,
		MinSamples:  cfg.Estimator.MinSamples,
		Decay:       cfg.Estimator.Decay,
		LoadProfile: cfg.Estimator.LoadProfile,
		Clock:       clk,
	})

	controller, err := admission.New(admission.Config{
		Store:     queueStore,
		Estimator: estimator,
		Publisher: hub,
		Ordering:  queue.Ordering{AgingInterval: cfg.Queue.AgingInterval.Std()},
		Clock:     clk,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	refresher := queuestats.New(controller, queueStore, hub, queuestats.Config{
		Interval:     cfg.Refresher.Interval.Std(),
		StartupDelay: cfg.Refresher.StartupDelay.Std(),
		Clock:        clk,
		Logger:       logger,
	})
	go refresher.Run(ctx)

	frontDesk := &FrontDesk{
		controller:     controller,
		store:          queueStore,
		hub:            hub,
		relay:          relay,
		clock:          clk,
		startedAt:      clk.Now(),
		requestTimeout: cfg.Socket.RequestTimeout.Std(),
		heartbeat:      cfg.Broadcast.HeartbeatInterval.Std(),
		buffer:         cfg.Broadcast.SubscriberBuffer,
		logger:         logger,
	}

	socketServer := service.NewSocketServer(cfg.Socket.Path, logger)
	frontDesk.registerActions(socketServer)
	socketDone := make(chan error, 1)
	go func() {
		socketDone <- socketServer.Serve(ctx)
	}()

	httpDone := make(chan error, 1)
	if cfg.Metrics.Listen != "" {
		httpServer := service.NewHTTPServer(service.HTTPServerConfig{
			Address: cfg.Metrics.Listen,
			Handler: service.MetricsHandler(metrics.Registry),
			Logger:  logger,
		})
		go func() {
			httpDone <- httpServer.Serve(ctx)
		}()
	}

	logger.Info("frontdesk service running",
		"version", version.Info(),
		"environment", cfg.Environment,
		"socket", cfg.Socket.Path,
		"metrics", cfg.Metrics.Listen,
		"relay", relay != nil,
	)

	select {
	case <-ctx.Done():
	case err := <-socketDone:
		return fmt.Errorf("socket server: %w", errOrStopped(err))
	case err := <-httpDone:
		return fmt.Errorf("metrics server: %w", errOrStopped(err))
	case err := <-relayDone:
		return fmt.Errorf("broadcast relay: %w", errOrStopped(err))
	}

	logger.Info("shutting down")
	if err := <-socketDone; err != nil {
		logger.Error("socket server error", "error", err)
	}
	return nil
}

var errStopped = errors.New("stopped unexpectedly")

func errOrStopped(err error) error {
	if err == nil {
		return errStopped
	}
	return err
}

// loadConfig reads path, or the file named by FRONTDESK_CONFIG when
// path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}
