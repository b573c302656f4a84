package main

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/neoai/neoai/internal/bridge"
	"github.com/neoai/neoai/internal/bridge/handlers"
	"github.com/neoai/neoai/internal/common/config"
	"github.com/neoai/neoai/internal/common/httpmw"
	"github.com/neoai/neoai/internal/common/logger"
	"github.com/neoai/neoai/internal/events/bus"
	gateways "github.com/neoai/neoai/internal/gateway/websocket"
)

func provideRouter(ctx context.Context, cfg *config.Config, log *logger.Logger, eventBus bus.EventBus, svc *bridge.Service) (*gin.Engine, func() error, error) {
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		gin.Recovery(),
		httpmw.RequestLogger(log, "neoai"),
		httpmw.OtelTracing("neoai"),
		corsMiddleware(),
	)

	gateway, cleanup, err := gateways.Provide(ctx, eventBus, log)
	if err != nil {
		return nil, nil, err
	}
	gateway.SetupRoutes(router)
	handlers.RegisterRoutes(router, gateway.Dispatcher, svc, log)

	return router, cleanup, nil
}
