package websocket

import (
	"context"

	"github.com/neoai/neoai/internal/common/logger"
	"github.com/neoai/neoai/internal/events"
	"github.com/neoai/neoai/internal/events/bus"
	ws "github.com/neoai/neoai/pkg/websocket"
	"go.uber.org/zap"
)

// BridgeBroadcaster forwards bus events to UI clients: per-terminal events
// go to that terminal's subscribers, agent events go to everyone.
type BridgeBroadcaster struct {
	hub           *Hub
	subscriptions []bus.Subscription
	logger        *logger.Logger
}

// RegisterBridgeNotifications subscribes to the bridge subjects until ctx
// is done.
func RegisterBridgeNotifications(ctx context.Context, eventBus bus.EventBus, hub *Hub, log *logger.Logger) *BridgeBroadcaster {
	b := &BridgeBroadcaster{
		hub:    hub,
		logger: log.Component("ws-bridge-broadcaster"),
	}
	if eventBus == nil {
		return b
	}

	b.subscribe(eventBus, events.AllTerminals, b.forwardTerminal)
	b.subscribe(eventBus, events.AgentStatus, b.forwardAll(ws.ActionAgentStatus))
	b.subscribe(eventBus, events.AgentInstall, b.forwardAll(ws.ActionAgentInstall))

	go func() {
		<-ctx.Done()
		b.Close()
	}()

	return b
}

// Close drops every bus subscription.
func (b *BridgeBroadcaster) Close() {
	for _, sub := range b.subscriptions {
		if sub != nil && sub.IsValid() {
			_ = sub.Unsubscribe()
		}
	}
	b.subscriptions = nil
}

func (b *BridgeBroadcaster) subscribe(eventBus bus.EventBus, subject string, handler bus.EventHandler) {
	sub, err := eventBus.Subscribe(subject, handler)
	if err != nil {
		b.logger.Error("failed to subscribe to events", zap.String("subject", subject), zap.Error(err))
		return
	}
	b.subscriptions = append(b.subscriptions, sub)
}

// forwardTerminal relays a per-terminal event. The event type is the
// notification action.
func (b *BridgeBroadcaster) forwardTerminal(_ context.Context, event *bus.Event) error {
	terminalID := extractTerminalID(event)
	if terminalID == "" {
		return nil
	}
	msg, err := ws.NewNotification(event.Type, event.Data)
	if err != nil {
		b.logger.Error("failed to build websocket notification", zap.String("action", event.Type), zap.Error(err))
		return nil
	}
	b.hub.BroadcastToTerminal(events.SubjectToken(terminalID), msg)
	return nil
}

// extractTerminalID reads terminalId from an event payload.
func extractTerminalID(event *bus.Event) string {
	var probe struct {
		TerminalID string `json:"terminalId"`
	}
	if err := event.DecodeData(&probe); err != nil {
		return ""
	}
	return probe.TerminalID
}

func (b *BridgeBroadcaster) forwardAll(action string) bus.EventHandler {
	return func(_ context.Context, event *bus.Event) error {
		msg, err := ws.NewNotification(action, event.Data)
		if err != nil {
			b.logger.Error("failed to build websocket notification", zap.String("action", action), zap.Error(err))
			return nil
		}
		b.hub.Broadcast(msg)
		return nil
	}
}
