package handlers

import (
	"context"

	ws "github.com/neoai/neoai/pkg/websocket"
)

type editorConnectRequest struct {
	TerminalID string `json:"terminal_id"`
	SocketPath string `json:"socket_path,omitempty"`
}

type editorExecRequest struct {
	TerminalID string `json:"terminal_id"`
	Command    string `json:"command"`
}

// wsEditorConnect blocks until the connect attempt settles. Failures still
// answer with the editor status so the UI can show the reason. An attempt
// overtaken by a newer one answers with superseded set and the status the
// newer attempt left.
func (h *Handlers) wsEditorConnect(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req editorConnectRequest
	a, reply := h.terminalOf(msg, &req, func() string { return req.TerminalID })
	if reply != nil {
		return reply, nil
	}
	applied, err := a.Connect(ctx, req.SocketPath)
	if err != nil {
		return ws.NewError(msg.ID, msg.Action, errorCode(err), err.Error(), map[string]any{
			"editor": a.EditorStatus(),
		})
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]any{
		"editor":     a.EditorStatus(),
		"superseded": !applied,
	})
}

func (h *Handlers) wsEditorDisconnect(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req terminalRequest
	a, reply := h.terminalOf(msg, &req, func() string { return req.TerminalID })
	if reply != nil {
		return reply, nil
	}
	if err := a.Disconnect(ctx); err != nil {
		return h.fail(msg, err)
	}
	return ok(msg)
}

func (h *Handlers) wsEditorReinject(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req terminalRequest
	a, reply := h.terminalOf(msg, &req, func() string { return req.TerminalID })
	if reply != nil {
		return reply, nil
	}
	health, err := a.ReinjectKeymaps(ctx)
	if err != nil {
		return h.fail(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]any{"health": health})
}

// wsEditorRefresh pulls context and diagnostics now and reports the health
// probe alongside.
func (h *Handlers) wsEditorRefresh(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req terminalRequest
	a, reply := h.terminalOf(msg, &req, func() string { return req.TerminalID })
	if reply != nil {
		return reply, nil
	}
	if err := a.Refresh(ctx); err != nil {
		return h.fail(msg, err)
	}
	health, err := a.ProbeHealth(ctx)
	if err != nil {
		return h.fail(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]any{
		"editor": a.EditorStatus(),
		"health": health,
	})
}

func (h *Handlers) wsEditorExec(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req editorExecRequest
	a, reply := h.terminalOf(msg, &req, func() string { return req.TerminalID })
	if reply != nil {
		return reply, nil
	}
	if req.Command == "" {
		return invalid(msg, "command is required")
	}
	output, err := a.ExecCommand(ctx, req.Command)
	if err != nil {
		return h.fail(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]any{"output": output})
}

func (h *Handlers) wsEditorBuffer(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req terminalRequest
	a, reply := h.terminalOf(msg, &req, func() string { return req.TerminalID })
	if reply != nil {
		return reply, nil
	}
	content, err := a.BufferContent(ctx)
	if err != nil {
		return h.fail(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, content)
}
