// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/frontdesk/lib/config"
	"github.com/bureau-foundation/frontdesk/lib/store"
	"github.com/bureau-foundation/frontdesk/lib/store/memstore"
	"github.com/bureau-foundation/frontdesk/lib/store/pgstore"
	"github.com/bureau-foundation/frontdesk/lib/store/sqlitestore"
)

// openStore opens the ticket store selected by cfg.Driver.
func openStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		logger.Warn("using the in-memory store; tickets are lost on restart")
		return memstore.New(), nil
	case config.DriverSQLite:
		queueStore, err := sqlitestore.Open(ctx, sqlitestore.Config{
			Path:     cfg.Path,
			PoolSize: cfg.PoolSize,
			Logger:   logger,
		})
		if err != nil {
			return nil, fmt.Errorf("opening sqlite store %s: %w", cfg.Path, err)
		}
		return queueStore, nil
	case config.DriverPostgres:
		queueStore, err := pgstore.Open(ctx, pgstore.Config{
			DSN:          cfg.DSN,
			MaxOpenConns: cfg.PoolSize,
			Logger:       logger,
		})
		if err != nil {
			return nil, fmt.Errorf("opening postgres store: %w", err)
		}
		return queueStore, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}
