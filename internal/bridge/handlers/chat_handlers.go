package handlers

import (
	"context"

	"github.com/neoai/neoai/internal/bridge/session"
	ws "github.com/neoai/neoai/pkg/websocket"
)

type agentStartRequest struct {
	Path string `json:"path,omitempty"`
}

type sessionCreateRequest struct {
	TerminalID string `json:"terminal_id"`
	WorkingDir string `json:"working_dir,omitempty"`
}

type chatSubmitRequest struct {
	TerminalID  string               `json:"terminal_id"`
	Text        string               `json:"text"`
	Attachments []session.Attachment `json:"attachments,omitempty"`
}

type editsRequest struct {
	TerminalID string `json:"terminal_id"`
	MessageID  string `json:"message_id"`
}

type permissionRespondRequest struct {
	TerminalID string  `json:"terminal_id"`
	RequestID  string  `json:"request_id"`
	OptionID   *string `json:"option_id"`
}

type autoApplyRequest struct {
	Enabled *bool `json:"enabled"`
}

// Agent

func (h *Handlers) wsAgentStart(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req agentStartRequest
	if err := msg.ParsePayload(&req); err != nil {
		return badRequest(msg, "Invalid payload: "+err.Error())
	}
	if err := h.svc.StartAgent(ctx, req.Path); err != nil {
		return h.fail(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]any{"status": h.svc.AgentStatus()})
}

func (h *Handlers) wsAgentStop(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	if err := h.svc.StopAgent(ctx); err != nil {
		return h.fail(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]any{"status": h.svc.AgentStatus()})
}

func (h *Handlers) wsAgentStatus(_ context.Context, msg *ws.Message) (*ws.Message, error) {
	return ws.NewResponse(msg.ID, msg.Action, map[string]any{
		"status": h.svc.AgentStatus(),
		"stderr": h.svc.RecentAgentStderr(),
	})
}

func (h *Handlers) wsSessionCreate(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req sessionCreateRequest
	if err := msg.ParsePayload(&req); err != nil {
		return badRequest(msg, "Invalid payload: "+err.Error())
	}
	if req.TerminalID == "" {
		return invalid(msg, "terminal_id is required")
	}
	sessionID, err := h.svc.CreateSession(ctx, req.TerminalID, req.WorkingDir)
	if err != nil {
		return h.fail(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]any{"session_id": sessionID})
}

// Exchange

func (h *Handlers) wsChatSubmit(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req chatSubmitRequest
	a, reply := h.terminalOf(msg, &req, func() string { return req.TerminalID })
	if reply != nil {
		return reply, nil
	}
	if req.Text == "" && len(req.Attachments) == 0 {
		return invalid(msg, "text is required")
	}
	userMsg, err := a.Submit(ctx, session.Input{Text: req.Text, Attachments: req.Attachments})
	if err != nil {
		return h.fail(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]any{"message": userMsg})
}

func (h *Handlers) wsChatCancel(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req terminalRequest
	a, reply := h.terminalOf(msg, &req, func() string { return req.TerminalID })
	if reply != nil {
		return reply, nil
	}
	if err := a.Cancel(ctx); err != nil {
		return h.fail(msg, err)
	}
	return ok(msg)
}

func (h *Handlers) wsChatTranscript(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req terminalRequest
	a, reply := h.terminalOf(msg, &req, func() string { return req.TerminalID })
	if reply != nil {
		return reply, nil
	}
	messages, state, err := a.Transcript(ctx)
	if err != nil {
		return h.fail(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]any{
		"messages": messages,
		"state":    state,
	})
}

func (h *Handlers) wsEditsApply(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req editsRequest
	a, reply := h.terminalOf(msg, &req, func() string { return req.TerminalID })
	if reply != nil {
		return reply, nil
	}
	if req.MessageID == "" {
		return invalid(msg, "message_id is required")
	}
	if err := a.ApplyProposedEdits(ctx, req.MessageID); err != nil {
		return h.fail(msg, err)
	}
	return ok(msg)
}

func (h *Handlers) wsEditsReject(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req editsRequest
	a, reply := h.terminalOf(msg, &req, func() string { return req.TerminalID })
	if reply != nil {
		return reply, nil
	}
	if req.MessageID == "" {
		return invalid(msg, "message_id is required")
	}
	if err := a.RejectProposedEdits(ctx, req.MessageID); err != nil {
		return h.fail(msg, err)
	}
	return ok(msg)
}

// Permissions

// wsPermissionRespond answers a queued request. A null option_id dismisses
// it, which the agent sees as a cancel.
func (h *Handlers) wsPermissionRespond(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req permissionRespondRequest
	a, reply := h.terminalOf(msg, &req, func() string { return req.TerminalID })
	if reply != nil {
		return reply, nil
	}
	if req.RequestID == "" {
		return invalid(msg, "request_id is required")
	}
	if err := a.RespondPermission(ctx, req.RequestID, req.OptionID); err != nil {
		return h.fail(msg, err)
	}
	return ok(msg)
}

func (h *Handlers) wsPermissionCurrent(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req terminalRequest
	a, reply := h.terminalOf(msg, &req, func() string { return req.TerminalID })
	if reply != nil {
		return reply, nil
	}
	pending, err := a.Permissions(ctx)
	if err != nil {
		return h.fail(msg, err)
	}
	resp := map[string]any{"pending": pending, "current": nil}
	current, found, err := a.CurrentPermission(ctx)
	if err != nil {
		return h.fail(msg, err)
	}
	if found {
		resp["current"] = current
	}
	return ws.NewResponse(msg.ID, msg.Action, resp)
}

// Settings and diagnostics

// wsSettingsAutoApply reads the setting, or writes it when enabled is given.
func (h *Handlers) wsSettingsAutoApply(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req autoApplyRequest
	if err := msg.ParsePayload(&req); err != nil {
		return badRequest(msg, "Invalid payload: "+err.Error())
	}
	if req.Enabled != nil {
		if err := h.svc.SetAutoApply(ctx, *req.Enabled); err != nil {
			return h.fail(msg, err)
		}
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]any{"enabled": h.svc.AutoApply()})
}

func (h *Handlers) wsTraceList(_ context.Context, msg *ws.Message) (*ws.Message, error) {
	var req terminalRequest
	a, reply := h.terminalOf(msg, &req, func() string { return req.TerminalID })
	if reply != nil {
		return reply, nil
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]any{"events": a.Traces()})
}
