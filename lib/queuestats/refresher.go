// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package queuestats periodically recomputes per-service queue
// statistics, persists them and publishes them to subscribers.
//
// A refresh cycle runs once shortly after startup and then on a fixed
// interval. Every active service is refreshed independently: a failure
// for one service is logged and counted, and the cycle moves on to the
// next. Failed services are not retried until the next cycle.
package queuestats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/frontdesk/lib/broadcast"
	"github.com/bureau-foundation/frontdesk/lib/clock"
	"github.com/bureau-foundation/frontdesk/lib/metrics"
	queueschema "github.com/bureau-foundation/frontdesk/lib/schema/queue"
)

const (
	DefaultInterval     = 30 * time.Second
	DefaultStartupDelay = 2 * time.Second
)

// Computer derives fresh statistics for one service.
// *admission.Controller satisfies it.
type Computer interface {
	ComputeStatistics(ctx context.Context, serviceID string) (queueschema.Statistics, error)
}

// Store is the part of store.Store the refresher uses.
type Store interface {
	ListActiveServices(ctx context.Context) ([]queueschema.Service, error)
	UpsertStatistics(ctx context.Context, stats queueschema.Statistics) error
}

// Publisher receives STATISTICS_UPDATED events.
type Publisher interface {
	Publish(event broadcast.Event, topics ...string)
}

// Config configures a Refresher. Zero durations select the defaults.
type Config struct {
	Interval     time.Duration
	StartupDelay time.Duration
	Clock        clock.Clock
	Logger       *slog.Logger
}

// Result summarizes one cycle.
type Result struct {
	Refreshed []string
	Failed    map[string]error
}

// Refresher runs refresh cycles.
type Refresher struct {
	computer  Computer
	store     Store
	publisher Publisher
	interval  time.Duration
	delay     time.Duration
	clock     clock.Clock
	logger    *slog.Logger
}

// New returns a Refresher. publisher may be nil.
func New(computer Computer, store Store, publisher Publisher, config Config) *Refresher {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.StartupDelay < 0 {
		config.StartupDelay = 0
	} else if config.StartupDelay == 0 {
		config.StartupDelay = DefaultStartupDelay
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	return &Refresher{
		computer:  computer,
		store:     store,
		publisher: publisher,
		interval:  config.Interval,
		delay:     config.StartupDelay,
		clock:     config.Clock,
		logger:    config.Logger,
	}
}

// Run refreshes after the startup delay and then every interval until
// ctx is done. A cycle that cannot list services is logged and the
// loop continues.
func (r *Refresher) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case <-r.clock.After(r.delay):
	}
	r.cycle(ctx)

	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.cycle(ctx)
		}
	}
}

func (r *Refresher) cycle(ctx context.Context) {
	start := r.clock.Now()
	result, err := r.RefreshAll(ctx)
	metrics.RecordRefreshCycle(r.clock.Now().Sub(start))
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			r.logger.Error("statistics refresh cycle failed", "error", err)
		}
		return
	}
	r.logger.Debug("statistics refreshed",
		"services", len(result.Refreshed),
		"failed", len(result.Failed),
	)
}

// RefreshAll runs one cycle over every active service. It returns an
// error only when the service list cannot be read; per-service
// failures are reported in the result.
func (r *Refresher) RefreshAll(ctx context.Context) (Result, error) {
	services, err := r.store.ListActiveServices(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("queuestats: listing services: %w", err)
	}
	result := Result{Failed: make(map[string]error)}
	for _, service := range services {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := r.Refresh(ctx, service.ID); err != nil {
			result.Failed[service.ID] = err
			metrics.RecordRefreshFailure(service.ID)
			r.logger.Warn("statistics refresh failed",
				"service_id", service.ID,
				"error", err,
			)
			continue
		}
		result.Refreshed = append(result.Refreshed, service.ID)
	}
	return result, nil
}

// Refresh recomputes, persists and publishes one service's
// statistics.
func (r *Refresher) Refresh(ctx context.Context, serviceID string) error {
	stats, err := r.computer.ComputeStatistics(ctx, serviceID)
	if err != nil {
		return fmt.Errorf("computing: %w", err)
	}
	if err := r.store.UpsertStatistics(ctx, stats); err != nil {
		return fmt.Errorf("persisting: %w", err)
	}
	metrics.RecordServiceGauges(serviceID, metrics.ServiceGauges{
		Waiting:               stats.WaitingCount,
		Serving:               stats.InProgressCount,
		EstimatedWaitMinutes:  stats.EstimatedWaitMinutes,
		AverageServiceMinutes: stats.AverageServiceMinutes,
		CompletedToday:        stats.CompletedToday,
	})
	if r.publisher != nil {
		r.publisher.Publish(broadcast.Event{
			Type:       broadcast.EventStatisticsUpdated,
			ServiceID:  serviceID,
			At:         stats.UpdatedAt,
			Statistics: &stats,
		}, broadcast.ServiceTopic(serviceID), broadcast.TopicQueue)
	}
	return nil
}
