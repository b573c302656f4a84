package terminal

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/neoai/neoai/internal/bridge/session"
	"github.com/neoai/neoai/internal/bridge/trace"
	"github.com/neoai/neoai/internal/editor"
	"github.com/neoai/neoai/internal/events"
	"github.com/neoai/neoai/internal/permission"
	"github.com/neoai/neoai/internal/tracing"
)

// tryPost queues fn unless the inbox is full.
func (a *Actor) tryPost(fn func()) bool {
	select {
	case a.inbox <- fn:
		return true
	case <-a.closed:
		return false
	default:
		return false
	}
}

// HandleAction routes an editor-triggered action. It runs on the editor
// client's goroutine and never blocks it: with a full inbox the action is
// dropped.
func (a *Actor) HandleAction(ev editor.ActionEvent) {
	queued := a.tryPost(func() {
		active := ""
		if a.deps.ActiveTerminal != nil {
			active = a.deps.ActiveTerminal()
		}
		req, err := a.router.Route(ev, active, a.orch.Streaming())
		if err != nil {
			a.trace(trace.StageActionDropped, fmt.Sprintf("%s: %v", ev.Action.Kind, err))
			return
		}
		a.trace(trace.StageActionAccepted, string(req.Kind))
		if _, err := a.orch.Submit(session.Input{Text: req.Prompt, ActionTriggered: true}); err != nil {
			a.trace(trace.StageActionDropped, fmt.Sprintf("%s: %v", ev.Action.Kind, err))
		}
	})
	if !queued {
		a.trace(trace.StageActionDropped, fmt.Sprintf("%s: inbox full", ev.Action.Kind))
	}
}

// Submit starts a user exchange.
func (a *Actor) Submit(ctx context.Context, in session.Input) (session.Message, error) {
	var msg session.Message
	var result error
	if err := a.do(ctx, func() { msg, result = a.orch.Submit(in) }); err != nil {
		return session.Message{}, err
	}
	return msg, result
}

// Cancel asks the agent to stop the current exchange.
func (a *Actor) Cancel(ctx context.Context) error {
	var result error
	if err := a.do(ctx, func() { result = a.orch.Cancel(ctx) }); err != nil {
		return err
	}
	return result
}

// Transcript returns the terminal's messages, oldest first.
func (a *Actor) Transcript(ctx context.Context) ([]session.Message, session.ExchangeState, error) {
	var msgs []session.Message
	var state session.ExchangeState
	err := a.do(ctx, func() {
		msgs = a.orch.Transcript()
		state = a.orch.State()
	})
	return msgs, state, err
}

// LoadTranscript restores saved messages.
func (a *Actor) LoadTranscript(ctx context.Context, messages []session.Message) error {
	var result error
	if err := a.do(ctx, func() { result = a.orch.Load(messages) }); err != nil {
		return err
	}
	return result
}

// ApplyProposedEdits applies a message's edits through the editor.
func (a *Actor) ApplyProposedEdits(ctx context.Context, messageID string) error {
	var result error
	if err := a.do(ctx, func() {
		rctx, cancel := a.rpcContext(ctx)
		defer cancel()
		edits := 0
		for _, m := range a.orch.Transcript() {
			if m.ID == messageID {
				edits = len(m.ProposedEdits)
			}
		}
		rctx, span := tracing.TraceApplyEdits(rctx, a.id, messageID, edits)
		result = a.orch.ApplyProposedEdits(rctx, messageID)
		tracing.TraceResult(span, result)
		span.End()
		if result == nil {
			a.save(ctx)
		}
	}); err != nil {
		return err
	}
	return result
}

// RejectProposedEdits marks a message's edits rejected.
func (a *Actor) RejectProposedEdits(ctx context.Context, messageID string) error {
	var result error
	if err := a.do(ctx, func() {
		result = a.orch.RejectProposedEdits(messageID)
		if result == nil {
			a.save(ctx)
		}
	}); err != nil {
		return err
	}
	return result
}

// SetAutoApply toggles auto-apply of action-triggered edits.
func (a *Actor) SetAutoApply(ctx context.Context, enabled bool) error {
	return a.do(ctx, func() { a.orch.SetAutoApply(enabled) })
}

// BindSession points the terminal's exchanges at an agent session.
func (a *Actor) BindSession(ctx context.Context, sessionID string) error {
	return a.do(ctx, func() {
		a.orch.SetSession(sessionID)
		a.orch.AddSystemMessage(session.SystemSession, "Session started.")
	})
}

// SessionID returns the bound agent session, or "".
func (a *Actor) SessionID(ctx context.Context) (string, error) {
	var id string
	err := a.do(ctx, func() { id = a.orch.SessionID() })
	return id, err
}

// ResetSession drops the session binding and pending permissions after
// the agent went away, ending any exchange in flight with reason.
func (a *Actor) ResetSession(note string) {
	a.post(func() {
		a.orch.SetSession("")
		reason := note
		if reason == "" {
			reason = "Agent session ended."
		}
		a.orch.Abort(reason)
		if n := a.arbiter.Clear(); n > 0 {
			a.logger.Info("cleared pending permissions", zap.Int("count", n))
		}
		if note != "" {
			a.orch.AddSystemMessage(session.SystemAgentStatus, note)
		}
	})
}

// AddSystemMessage appends a coalesced status note.
func (a *Actor) AddSystemMessage(kind, content string) {
	a.post(func() { a.orch.AddSystemMessage(kind, content) })
}

// EnqueuePermission queues an agent permission request for this terminal.
func (a *Actor) EnqueuePermission(req permission.Request) {
	a.post(func() {
		a.arbiter.Enqueue(req)
		a.publish(events.PermissionRequested, PermissionUpdate{TerminalID: a.id, Request: req, Pending: a.arbiter.Len()})
	})
}

// RespondPermission answers a queued request by id. A nil optionID cancels.
// Once the request leaves the queue its resolution is published, even when
// the agent had already withdrawn it.
func (a *Actor) RespondPermission(ctx context.Context, requestID string, optionID *string) error {
	var result error
	if err := a.do(ctx, func() {
		req, queued := a.pendingPermission(requestID)
		if !queued {
			result = fmt.Errorf("%w: %s", permission.ErrUnknownRequest, requestID)
			return
		}
		result = a.arbiter.Respond(requestID, optionID)
		if optionID != nil && !req.HasOption(*optionID) {
			optionID = nil
		}
		a.publishResolved(req, optionID)
	}); err != nil {
		return err
	}
	return result
}

func (a *Actor) pendingPermission(requestID string) (permission.Request, bool) {
	for _, p := range a.arbiter.Pending() {
		if p.RequestID == requestID {
			return p, true
		}
	}
	return permission.Request{}, false
}

func (a *Actor) publishResolved(req permission.Request, optionID *string) {
	a.publish(events.PermissionResolved, PermissionUpdate{
		TerminalID: a.id,
		Request:    req,
		OptionID:   optionID,
		Pending:    a.arbiter.Len(),
	})
}

// cancelPermissions answers every queued request with a cancel so the agent
// is not left waiting on a terminal that is going away.
func (a *Actor) cancelPermissions() {
	dropped := a.arbiter.CancelAll()
	for _, req := range dropped {
		a.publishResolved(req, nil)
	}
	if len(dropped) > 0 {
		a.logger.Info("cancelled pending permissions", zap.Int("count", len(dropped)))
	}
}

// CurrentPermission returns the request at the head of the queue.
func (a *Actor) CurrentPermission(ctx context.Context) (permission.Request, bool, error) {
	var req permission.Request
	var found bool
	err := a.do(ctx, func() { req, found = a.arbiter.Current() })
	return req, found, err
}

// Permissions returns the pending requests, head first.
func (a *Actor) Permissions(ctx context.Context) ([]permission.Request, error) {
	var out []permission.Request
	err := a.do(ctx, func() { out = a.arbiter.Pending() })
	return out, err
}
