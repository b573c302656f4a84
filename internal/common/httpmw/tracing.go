package httpmw

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/neoai/neoai/internal/tracing"
)

// untracedRoutes are polled by the UI and would drown real spans.
var untracedRoutes = map[string]bool{
	"/health": true,
}

// OtelTracing starts a server span per request named "<METHOD> <route>".
// Routes with a terminal id record it as neoai.terminal_id. It is a no-op
// until tracing.Init installs a real provider.
func OtelTracing(serverName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		route := routeOf(c)
		if untracedRoutes[route] {
			c.Next()
			return
		}

		ctx, span := tracing.Tracer(serverName).Start(c.Request.Context(), c.Request.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		span.SetAttributes(
			semconv.HTTPRequestMethodKey.String(c.Request.Method),
			semconv.HTTPRouteKey.String(route),
		)
		if id := c.Param("id"); id != "" {
			span.SetAttributes(attribute.String("neoai.terminal_id", id))
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(
			semconv.HTTPResponseStatusCodeKey.Int(status),
			attribute.Int("http.response.size", max(c.Writer.Size(), 0)),
		)
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, "HTTP "+strconv.Itoa(status))
		}
	}
}
