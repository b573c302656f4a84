package websocket

import (
	"context"
	"errors"

	"github.com/neoai/neoai/internal/common/logger"
	"github.com/neoai/neoai/internal/events/bus"
)

// Provide builds the UI gateway and starts relaying bridge events from
// eventBus. The cleanup drops the bus subscriptions; the hub itself stops
// with ctx.
func Provide(ctx context.Context, eventBus bus.EventBus, log *logger.Logger) (*Gateway, func() error, error) {
	if eventBus == nil {
		return nil, nil, errors.New("gateway needs an event bus")
	}
	g := NewGateway(log)
	g.Start(ctx, eventBus)
	return g, func() error {
		g.Stop()
		return nil
	}, nil
}
