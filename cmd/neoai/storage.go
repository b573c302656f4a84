package main

import (
	"github.com/neoai/neoai/internal/common/config"
	"github.com/neoai/neoai/internal/common/logger"
	"github.com/neoai/neoai/internal/events"
	"github.com/neoai/neoai/internal/events/bus"
	"github.com/neoai/neoai/internal/persistence"
	"github.com/neoai/neoai/internal/store"
)

func provideEventBus(cfg *config.Config, log *logger.Logger) (bus.EventBus, func() error, error) {
	return events.Provide(cfg, log)
}

// provideStore opens the database and the transcript store on top of it.
// Cleanups are returned in the order they were acquired.
func provideStore(cfg *config.Config, log *logger.Logger) (store.Repository, []func() error, error) {
	cleanups := make([]func() error, 0, 2)
	pool, cleanup, err := persistence.Provide(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	cleanups = append(cleanups, cleanup)

	repo, cleanup, err := store.Provide(pool)
	if err != nil {
		_ = cleanups[0]()
		return nil, nil, err
	}
	cleanups = append(cleanups, cleanup)
	return repo, cleanups, nil
}
