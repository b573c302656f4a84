// Package handlers exposes the bridge service on the UI socket and a small
// read-only HTTP API.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/neoai/neoai/internal/agent/installer"
	"github.com/neoai/neoai/internal/agent/process"
	"github.com/neoai/neoai/internal/bridge"
	"github.com/neoai/neoai/internal/bridge/action"
	"github.com/neoai/neoai/internal/bridge/session"
	"github.com/neoai/neoai/internal/bridge/terminal"
	"github.com/neoai/neoai/internal/common/logger"
	"github.com/neoai/neoai/internal/editor"
	"github.com/neoai/neoai/internal/permission"
	ws "github.com/neoai/neoai/pkg/websocket"
)

type Handlers struct {
	svc    *bridge.Service
	logger *logger.Logger
}

func NewHandlers(svc *bridge.Service, log *logger.Logger) *Handlers {
	return &Handlers{
		svc:    svc,
		logger: log.Component("bridge-handlers"),
	}
}

func RegisterRoutes(router *gin.Engine, dispatcher *ws.Dispatcher, svc *bridge.Service, log *logger.Logger) {
	h := NewHandlers(svc, log)
	h.registerHTTP(router)
	h.registerWS(dispatcher)
}

func (h *Handlers) registerHTTP(router *gin.Engine) {
	api := router.Group("/api/v1")
	api.GET("/terminals", h.httpListTerminals)
	api.GET("/terminals/:id/transcript", h.httpTranscript)
	api.GET("/terminals/:id/traces", h.httpTraces)
	api.GET("/agent", h.httpAgentStatus)
}

func (h *Handlers) registerWS(d *ws.Dispatcher) {
	d.RegisterFunc(ws.ActionTerminalOpen, h.wsOpenTerminal)
	d.RegisterFunc(ws.ActionTerminalClose, h.wsCloseTerminal)
	d.RegisterFunc(ws.ActionTerminalActivate, h.wsActivateTerminal)
	d.RegisterFunc(ws.ActionTerminalList, h.wsListTerminals)

	d.RegisterFunc(ws.ActionEditorConnect, h.wsEditorConnect)
	d.RegisterFunc(ws.ActionEditorDisconnect, h.wsEditorDisconnect)
	d.RegisterFunc(ws.ActionEditorReinject, h.wsEditorReinject)
	d.RegisterFunc(ws.ActionEditorRefresh, h.wsEditorRefresh)
	d.RegisterFunc(ws.ActionEditorExec, h.wsEditorExec)
	d.RegisterFunc(ws.ActionEditorBuffer, h.wsEditorBuffer)

	d.RegisterFunc(ws.ActionAgentStart, h.wsAgentStart)
	d.RegisterFunc(ws.ActionAgentStop, h.wsAgentStop)
	d.RegisterFunc(ws.ActionAgentStatus, h.wsAgentStatus)
	d.RegisterFunc(ws.ActionSessionCreate, h.wsSessionCreate)

	d.RegisterFunc(ws.ActionChatSubmit, h.wsChatSubmit)
	d.RegisterFunc(ws.ActionChatCancel, h.wsChatCancel)
	d.RegisterFunc(ws.ActionChatTranscript, h.wsChatTranscript)
	d.RegisterFunc(ws.ActionEditsApply, h.wsEditsApply)
	d.RegisterFunc(ws.ActionEditsReject, h.wsEditsReject)

	d.RegisterFunc(ws.ActionPermissionRespond, h.wsPermissionRespond)
	d.RegisterFunc(ws.ActionPermissionCurrent, h.wsPermissionCurrent)

	d.RegisterFunc(ws.ActionSettingsAutoApply, h.wsSettingsAutoApply)
	d.RegisterFunc(ws.ActionTraceList, h.wsTraceList)
}

// errorCode maps domain errors onto socket error codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, bridge.ErrUnknownTerminal),
		errors.Is(err, session.ErrMessageNotFound),
		errors.Is(err, permission.ErrUnknownRequest):
		return ws.ErrorCodeNotFound
	case errors.Is(err, session.ErrExchangeInFlight),
		errors.Is(err, session.ErrNoProposedEdits),
		errors.Is(err, action.ErrExchangeBusy),
		errors.Is(err, process.ErrAlreadyStarting),
		errors.Is(err, process.ErrAlreadyRunning),
		errors.Is(err, process.ErrStartSuperseded):
		return ws.ErrorCodeConflict
	case errors.Is(err, editor.ErrNotConnected),
		errors.Is(err, process.ErrNotRunning),
		errors.Is(err, process.ErrNoActiveSession),
		errors.Is(err, terminal.ErrClosed):
		return ws.ErrorCodeUnavailable
	}
	var connErr *editor.ConnectionError
	var installErr *installer.InstallError
	var agentErr *process.AgentError
	if errors.As(err, &connErr) || errors.As(err, &installErr) || errors.As(err, &agentErr) {
		return ws.ErrorCodeUnavailable
	}
	return ws.ErrorCodeInternalError
}

// errorDetails adds the failing install phase when there is one.
func errorDetails(err error) map[string]any {
	var installErr *installer.InstallError
	if errors.As(err, &installErr) {
		return map[string]any{"phase": installErr.Phase}
	}
	return nil
}

func httpStatus(code string) int {
	switch code {
	case ws.ErrorCodeNotFound:
		return http.StatusNotFound
	case ws.ErrorCodeConflict:
		return http.StatusConflict
	case ws.ErrorCodeUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *Handlers) fail(msg *ws.Message, err error) (*ws.Message, error) {
	code := errorCode(err)
	if code == ws.ErrorCodeInternalError {
		h.logger.Error("request failed", zap.String("action", msg.Action), zap.Error(err))
	}
	return ws.NewError(msg.ID, msg.Action, code, err.Error(), errorDetails(err))
}

func badRequest(msg *ws.Message, text string) (*ws.Message, error) {
	return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, text, nil)
}

func invalid(msg *ws.Message, text string) (*ws.Message, error) {
	return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, text, nil)
}

func ok(msg *ws.Message) (*ws.Message, error) {
	return ws.NewResponse(msg.ID, msg.Action, map[string]any{"success": true})
}

type terminalRequest struct {
	TerminalID string `json:"terminal_id"`
}

// terminalOf parses a payload carrying terminal_id into req and resolves the
// actor. A non-nil reply means the request was rejected.
func (h *Handlers) terminalOf(msg *ws.Message, req any, id func() string) (*terminal.Actor, *ws.Message) {
	if err := msg.ParsePayload(req); err != nil {
		reply, _ := badRequest(msg, "Invalid payload: "+err.Error())
		return nil, reply
	}
	if id() == "" {
		reply, _ := invalid(msg, "terminal_id is required")
		return nil, reply
	}
	a, err := h.svc.Terminal(id())
	if err != nil {
		reply, _ := h.fail(msg, err)
		return nil, reply
	}
	return a, nil
}

// HTTP

func (h *Handlers) httpListTerminals(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"terminals": h.svc.Terminals(),
		"active":    h.svc.ActiveTerminal(),
	})
}

func (h *Handlers) httpTranscript(c *gin.Context) {
	a, err := h.svc.Terminal(c.Param("id"))
	if err != nil {
		c.JSON(httpStatus(errorCode(err)), gin.H{"error": err.Error()})
		return
	}
	messages, state, err := a.Transcript(c.Request.Context())
	if err != nil {
		c.JSON(httpStatus(errorCode(err)), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages, "state": state})
}

func (h *Handlers) httpTraces(c *gin.Context) {
	a, err := h.svc.Terminal(c.Param("id"))
	if err != nil {
		c.JSON(httpStatus(errorCode(err)), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": a.Traces()})
}

func (h *Handlers) httpAgentStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": h.svc.AgentStatus(), "stderr": h.svc.RecentAgentStderr()})
}

// Terminals

func (h *Handlers) wsOpenTerminal(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req terminalRequest
	if err := msg.ParsePayload(&req); err != nil {
		return badRequest(msg, "Invalid payload: "+err.Error())
	}
	if req.TerminalID == "" {
		return invalid(msg, "terminal_id is required")
	}
	a, err := h.svc.OpenTerminal(ctx, req.TerminalID)
	if err != nil {
		return h.fail(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]any{
		"terminal_id": a.ID(),
		"active":      h.svc.ActiveTerminal() == a.ID(),
		"editor":      a.EditorStatus(),
		"socket_path": a.DefaultSocketPath(),
	})
}

func (h *Handlers) wsCloseTerminal(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req terminalRequest
	if err := msg.ParsePayload(&req); err != nil {
		return badRequest(msg, "Invalid payload: "+err.Error())
	}
	if err := h.svc.CloseTerminal(ctx, req.TerminalID); err != nil {
		return h.fail(msg, err)
	}
	return ok(msg)
}

func (h *Handlers) wsActivateTerminal(_ context.Context, msg *ws.Message) (*ws.Message, error) {
	var req terminalRequest
	if err := msg.ParsePayload(&req); err != nil {
		return badRequest(msg, "Invalid payload: "+err.Error())
	}
	if err := h.svc.ActivateTerminal(req.TerminalID); err != nil {
		return h.fail(msg, err)
	}
	return ok(msg)
}

func (h *Handlers) wsListTerminals(_ context.Context, msg *ws.Message) (*ws.Message, error) {
	return ws.NewResponse(msg.ID, msg.Action, map[string]any{
		"terminals": h.svc.Terminals(),
		"active":    h.svc.ActiveTerminal(),
	})
}
