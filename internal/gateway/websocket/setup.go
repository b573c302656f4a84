package websocket

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/neoai/neoai/internal/common/logger"
	"github.com/neoai/neoai/internal/events/bus"
	ws "github.com/neoai/neoai/pkg/websocket"
)

// Gateway represents the unified WebSocket gateway
type Gateway struct {
	Hub        *Hub
	Dispatcher *ws.Dispatcher
	Handler    *Handler
	logger     *logger.Logger

	broadcaster *BridgeBroadcaster
}

// NewGateway creates a new WebSocket gateway with all components initialized
func NewGateway(log *logger.Logger) *Gateway {
	dispatcher := ws.NewDispatcher()
	hub := NewHub(dispatcher, log)
	handler := NewHandler(hub, log)

	RegisterHealthHandler(dispatcher, hub)

	return &Gateway{
		Hub:        hub,
		Dispatcher: dispatcher,
		Handler:    handler,
		logger:     log,
	}
}

// Start runs the hub and relays bus events to clients until ctx is done.
func (g *Gateway) Start(ctx context.Context, eventBus bus.EventBus) {
	go g.Hub.Run(ctx)
	g.broadcaster = RegisterBridgeNotifications(ctx, eventBus, g.Hub, g.logger)
}

// Stop drops the bus subscriptions so no more events reach clients.
func (g *Gateway) Stop() {
	if g.broadcaster != nil {
		g.broadcaster.Close()
	}
}

// SetupRoutes adds the WebSocket and health routes to the Gin engine
func (g *Gateway) SetupRoutes(router *gin.Engine) {
	router.GET("/ws", g.Handler.HandleConnection)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "clients": g.Hub.GetClientCount()})
	})
}
