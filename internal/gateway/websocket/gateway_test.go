package websocket

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neoai/neoai/internal/common/logger"
	"github.com/neoai/neoai/internal/events"
	"github.com/neoai/neoai/internal/events/bus"
	ws "github.com/neoai/neoai/pkg/websocket"
)

func newTestLogger() *logger.Logger {
	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stderr"})
	return log
}

type testGateway struct {
	gateway *Gateway
	bus     *bus.MemoryEventBus
	url     string
}

func setupGateway(t *testing.T) *testGateway {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := newTestLogger()

	eventBus := bus.NewMemoryEventBus(log)
	g := NewGateway(log)
	ctx, cancel := context.WithCancel(context.Background())
	g.Start(ctx, eventBus)

	router := gin.New()
	g.SetupRoutes(router)
	server := httptest.NewServer(router)

	t.Cleanup(func() {
		cancel()
		server.Close()
		eventBus.Close()
	})

	return &testGateway{
		gateway: g,
		bus:     eventBus,
		url:     "ws" + strings.TrimPrefix(server.URL, "http") + "/ws",
	}
}

func (tg *testGateway) dial(t *testing.T) *gorillaws.Conn {
	t.Helper()
	conn, _, err := gorillaws.DefaultDialer.Dial(tg.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func request(t *testing.T, conn *gorillaws.Conn, id, action string, payload any) {
	t.Helper()
	msg, err := ws.NewRequest(id, action, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(msg))
}

func read(t *testing.T, conn *gorillaws.Conn) ws.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg ws.Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestGateway_Requests(t *testing.T) {
	tg := setupGateway(t)
	conn := tg.dial(t)

	t.Run("health check", func(t *testing.T) {
		request(t, conn, "1", ws.ActionHealthCheck, nil)
		resp := read(t, conn)
		assert.Equal(t, ws.MessageTypeResponse, resp.Type)
		assert.Equal(t, "1", resp.ID)

		var body map[string]any
		require.NoError(t, resp.ParsePayload(&body))
		assert.Equal(t, "ok", body["status"])
	})

	t.Run("unknown action", func(t *testing.T) {
		request(t, conn, "2", "terminal.explode", nil)
		resp := read(t, conn)
		assert.Equal(t, ws.MessageTypeError, resp.Type)

		var body ws.ErrorPayload
		require.NoError(t, resp.ParsePayload(&body))
		assert.Equal(t, ws.ErrorCodeUnknownAction, body.Code)
	})

	t.Run("subscribe requires a terminal", func(t *testing.T) {
		request(t, conn, "3", ws.ActionTerminalSubscribe, map[string]string{})
		resp := read(t, conn)
		var body ws.ErrorPayload
		require.NoError(t, resp.ParsePayload(&body))
		assert.Equal(t, ws.ErrorCodeValidation, body.Code)
	})

	t.Run("malformed frame", func(t *testing.T) {
		require.NoError(t, conn.WriteMessage(gorillaws.TextMessage, []byte("{not json")))
		resp := read(t, conn)
		assert.Equal(t, ws.MessageTypeError, resp.Type)
	})
}

func TestGateway_TerminalNotifications(t *testing.T) {
	tg := setupGateway(t)
	follower := tg.dial(t)
	other := tg.dial(t)

	request(t, follower, "s1", ws.ActionTerminalSubscribe, SubscribeRequest{TerminalID: "term.1"})
	assert.Equal(t, ws.MessageTypeResponse, read(t, follower).Type)
	request(t, other, "s2", ws.ActionTerminalSubscribe, SubscribeRequest{TerminalID: "term-2"})
	assert.Equal(t, ws.MessageTypeResponse, read(t, other).Type)
	assert.Equal(t, 1, tg.gateway.Hub.SubscriberCount("term.1"))

	payload := map[string]any{"terminalId": "term.1", "state": "streaming"}
	require.NoError(t, tg.bus.Publish(context.Background(),
		events.TerminalSubject("term.1", events.ExchangeState),
		bus.NewEvent(events.ExchangeState, "test", payload)))

	note := read(t, follower)
	assert.Equal(t, ws.MessageTypeNotification, note.Type)
	assert.Equal(t, ws.ActionExchangeState, note.Action)
	var body map[string]any
	require.NoError(t, note.ParsePayload(&body))
	assert.Equal(t, "streaming", body["state"])

	// The other client only hears the agent broadcast.
	require.NoError(t, tg.bus.Publish(context.Background(), events.AgentStatus,
		bus.NewEvent(events.AgentStatus, "test", map[string]any{"state": "running"})))
	assert.Equal(t, ws.ActionAgentStatus, read(t, other).Action)
	assert.Equal(t, ws.ActionAgentStatus, read(t, follower).Action)

	request(t, follower, "u1", ws.ActionTerminalUnsubscribe, SubscribeRequest{TerminalID: "term.1"})
	assert.Equal(t, ws.MessageTypeResponse, read(t, follower).Type)
	assert.Zero(t, tg.gateway.Hub.SubscriberCount("term.1"))
}

func TestExtractTerminalID(t *testing.T) {
	type payload struct {
		TerminalID string `json:"terminalId"`
	}
	ev := func(data any) *bus.Event { return bus.NewEvent("x", bus.SourceTerminal, data) }
	assert.Equal(t, "t1", extractTerminalID(ev(map[string]any{"terminalId": "t1"})))
	assert.Equal(t, "t2", extractTerminalID(ev(payload{TerminalID: "t2"})))
	assert.Empty(t, extractTerminalID(ev(nil)))
	assert.Empty(t, extractTerminalID(ev("plain")))
}

func TestCheckOrigin(t *testing.T) {
	r := httptest.NewRequest("GET", "http://127.0.0.1:7341/ws", nil)
	assert.True(t, checkOrigin(r))

	r.Header.Set("Origin", "http://localhost:3000")
	assert.True(t, checkOrigin(r))

	r.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, checkOrigin(r))
}
