package events

import (
	"fmt"
	"strings"

	"github.com/neoai/neoai/internal/common/config"
	"github.com/neoai/neoai/internal/common/logger"
	"github.com/neoai/neoai/internal/events/bus"
)

// Provide returns the NATS bus when nats.url is set and the in-memory bus
// otherwise, with a cleanup that closes it.
func Provide(cfg *config.Config, log *logger.Logger) (bus.EventBus, func() error, error) {
	var eventBus bus.EventBus
	if url := strings.TrimSpace(cfg.NATS.URL); url != "" {
		natsBus, err := bus.NewNATSEventBus(cfg.NATS, log)
		if err != nil {
			return nil, nil, fmt.Errorf("event bus: %w", err)
		}
		eventBus = natsBus
	} else {
		eventBus = bus.NewMemoryEventBus(log)
		log.Component("event-bus").Debug("using in-memory event bus")
	}
	return eventBus, func() error {
		eventBus.Close()
		return nil
	}, nil
}
