package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	acpclient "github.com/neoai/neoai/internal/agent/acp"
	"github.com/neoai/neoai/internal/bridge/trace"
	"github.com/neoai/neoai/internal/common/constants"
	"github.com/neoai/neoai/internal/common/logger"
	"github.com/neoai/neoai/internal/editor"
)

// Hooks observe orchestrator changes. Any of them may be nil.
type Hooks struct {
	OnMessage func(Message)
	OnState   func(ExchangeState)
	OnTrace   func(stage, detail string)
}

// Config wires an orchestrator to its collaborators.
type Config struct {
	TerminalID   string
	Agent        AgentPort
	Applier      EditApplier
	Source       ContextSource
	AutoApply    bool
	DedupeWindow time.Duration
	Hooks        Hooks
}

type systemNote struct {
	kind    string
	content string
	at      time.Time
}

// Orchestrator is one terminal's exchange state machine and transcript.
// It is owned by the terminal's actor and is not safe for concurrent use.
type Orchestrator struct {
	terminalID string
	agent      AgentPort
	applier    EditApplier
	source     ContextSource
	hooks      Hooks

	sessionID       string
	messages        []*Message
	current         *Message
	state           ExchangeState
	actionTriggered bool
	autoApply       bool

	dedupeWindow time.Duration
	lastSystem   *systemNote
	now          func() time.Time

	logger *logger.Logger
}

// NewOrchestrator creates an idle orchestrator with an empty transcript.
func NewOrchestrator(cfg Config, log *logger.Logger) *Orchestrator {
	window := cfg.DedupeWindow
	if window <= 0 {
		window = constants.SystemMessageDedupeWindow
	}
	return &Orchestrator{
		terminalID:   cfg.TerminalID,
		agent:        cfg.Agent,
		applier:      cfg.Applier,
		source:       cfg.Source,
		hooks:        cfg.Hooks,
		state:        ExchangeIdle,
		autoApply:    cfg.AutoApply,
		dedupeWindow: window,
		now:          time.Now,
		logger:       log.Component("session-orchestrator").WithTerminalID(cfg.TerminalID),
	}
}

func (o *Orchestrator) trace(stage, detail string) {
	if o.hooks.OnTrace != nil {
		o.hooks.OnTrace(stage, detail)
	}
}

func (o *Orchestrator) changed(m *Message) {
	if o.hooks.OnMessage != nil {
		o.hooks.OnMessage(m.Clone())
	}
}

func (o *Orchestrator) setState(s ExchangeState) {
	if o.state == s {
		return
	}
	o.state = s
	if o.hooks.OnState != nil {
		o.hooks.OnState(s)
	}
}

// SetSession binds the agent session prompts are sent to.
func (o *Orchestrator) SetSession(sessionID string) { o.sessionID = sessionID }

// SessionID returns the bound agent session, or "".
func (o *Orchestrator) SessionID() string { return o.sessionID }

// State returns the current exchange state.
func (o *Orchestrator) State() ExchangeState { return o.state }

// Streaming reports whether an exchange is in flight.
func (o *Orchestrator) Streaming() bool { return o.state.InFlight() }

// AutoApply reports whether action-triggered edits are applied on done.
func (o *Orchestrator) AutoApply() bool { return o.autoApply }

// SetAutoApply toggles auto-apply for subsequent exchanges.
func (o *Orchestrator) SetAutoApply(enabled bool) { o.autoApply = enabled }

// Transcript returns a copy of all messages, oldest first.
func (o *Orchestrator) Transcript() []Message {
	out := make([]Message, len(o.messages))
	for i, m := range o.messages {
		out[i] = m.Clone()
	}
	return out
}

// Load replaces the transcript with previously saved messages. It is
// refused while an exchange is in flight.
func (o *Orchestrator) Load(messages []Message) error {
	if o.state.InFlight() {
		return ErrExchangeInFlight
	}
	o.messages = make([]*Message, 0, len(messages))
	for _, m := range messages {
		cp := m.Clone()
		o.messages = append(o.messages, &cp)
	}
	o.current = nil
	o.lastSystem = nil
	return nil
}

func (o *Orchestrator) append(m *Message) {
	o.messages = append(o.messages, m)
	o.changed(m)
}

func (o *Orchestrator) find(messageID string) *Message {
	for _, m := range o.messages {
		if m.ID == messageID {
			return m
		}
	}
	return nil
}

// Submit starts an exchange: it records the user message with a snapshot
// of the editor state, appends an empty assistant placeholder and sends
// the prompt. A send failure is rendered into the placeholder and ends the
// exchange as errored; only ErrExchangeInFlight is returned as an error.
func (o *Orchestrator) Submit(in Input) (Message, error) {
	if o.state.InFlight() {
		return Message{}, ErrExchangeInFlight
	}

	var snapshot *editor.Context
	var diags []editor.Diagnostic
	if o.source != nil {
		snapshot = o.source.Context()
		diags = o.source.Diagnostics()
	}

	now := o.now()
	user := &Message{
		ID:          uuid.New().String(),
		Role:        RoleUser,
		Content:     in.Text,
		Timestamp:   now,
		Context:     snapshot.Clone(),
		Diagnostics: editor.CloneDiagnostics(diags),
	}
	if len(in.Attachments) > 0 {
		user.Attachments = append([]Attachment(nil), in.Attachments...)
	}
	assistant := &Message{
		ID:        uuid.New().String(),
		Role:      RoleAssistant,
		Timestamp: now,
	}
	o.append(user)
	o.append(assistant)
	o.current = assistant
	o.actionTriggered = in.ActionTriggered
	o.setState(ExchangeSubmitted)

	contextString := BuildContextString(snapshot, diags)
	promptID, err := o.agent.SendPrompt(o.sessionID, promptBlocks(in), contextString)
	if err != nil {
		o.logger.Warn("prompt submission failed", zap.Error(err))
		o.trace(trace.StageExchangeError, err.Error())
		o.failCurrent(err.Error())
		return user.Clone(), nil
	}

	o.trace(trace.StageExchangeSubmit, fmt.Sprintf("prompt=%s action=%t context=%t",
		promptID, in.ActionTriggered, contextString != ""))
	o.setState(ExchangeStreaming)
	return user.Clone(), nil
}

// HandleEvent consumes one item of the agent's feed for this terminal.
// Events outside an exchange are dropped.
func (o *Orchestrator) HandleEvent(ctx context.Context, ev acpclient.AgentEvent) {
	if !o.state.InFlight() || o.current == nil {
		o.trace(trace.StageExchangeStale, string(ev.Type))
		return
	}
	if o.sessionID != "" && ev.SessionID != "" && ev.SessionID != o.sessionID {
		o.trace(trace.StageExchangeStale, fmt.Sprintf("%s session=%s", ev.Type, ev.SessionID))
		return
	}
	if o.state == ExchangeSubmitted {
		o.setState(ExchangeStreaming)
	}

	switch ev.Type {
	case acpclient.EventContentChunk:
		o.current.Content += ev.Text
		o.changed(o.current)
	case acpclient.EventThoughtChunk:
		o.current.Thought += ev.Text
		o.changed(o.current)
	case acpclient.EventToolCallStarted:
		o.trace(trace.StageExchangeTool, fmt.Sprintf("%s %s %s", ev.ToolCallID, ev.ToolKind, ev.ToolTitle))
	case acpclient.EventToolCallUpdated:
		o.trace(trace.StageExchangeTool, fmt.Sprintf("%s %s", ev.ToolCallID, ev.ToolStatus))
	case acpclient.EventDone:
		o.finish(ctx, ev.StopReason)
	case acpclient.EventError:
		o.trace(trace.StageExchangeError, ev.Error)
		o.failCurrent(ev.Error)
	}
}

func (o *Orchestrator) finish(ctx context.Context, stopReason string) {
	msg := o.current
	var filePath string
	if user := o.userBefore(msg); user != nil && user.Context != nil {
		filePath = user.Context.FilePath
	}
	if edits := ParseEditBlocks(msg.Content, filePath); len(edits) > 0 {
		msg.ProposedEdits = edits
		msg.EditStatus = EditPending
		o.changed(msg)
	}

	o.current = nil
	o.trace(trace.StageExchangeDone, "stop="+stopReason)
	o.setState(ExchangeDone)

	triggered := o.actionTriggered
	o.actionTriggered = false
	if triggered && o.autoApply {
		o.autoApplyLatest(ctx)
	}
}

// userBefore returns the user message that opened the exchange answered by m.
func (o *Orchestrator) userBefore(m *Message) *Message {
	for i := len(o.messages) - 1; i >= 0; i-- {
		if o.messages[i] != m {
			continue
		}
		for j := i - 1; j >= 0; j-- {
			if o.messages[j].Role == RoleUser {
				return o.messages[j]
			}
		}
		return nil
	}
	return nil
}

// autoApplyLatest applies the newest assistant message with unreviewed
// edits. Failures are traced and leave the message untouched.
func (o *Orchestrator) autoApplyLatest(ctx context.Context) {
	var target *Message
	for i := len(o.messages) - 1; i >= 0; i-- {
		if o.messages[i].hasUnresolvedEdits() {
			target = o.messages[i]
			break
		}
	}
	if target == nil {
		o.trace(trace.StageAutoApplySkip, "no unresolved edits")
		return
	}
	if o.applier == nil {
		o.trace(trace.StageAutoApplyFailed, "no editor connection")
		return
	}
	if err := o.applier.ApplyEdits(ctx, target.ProposedEdits); err != nil {
		o.logger.Warn("auto-apply failed", zap.String("message_id", target.ID), zap.Error(err))
		o.trace(trace.StageAutoApplyFailed, fmt.Sprintf("message=%s %v", target.ID, err))
		return
	}
	target.EditStatus = EditApplied
	o.changed(target)
	o.trace(trace.StageAutoApplyOK, fmt.Sprintf("message=%s edits=%d", target.ID, len(target.ProposedEdits)))
}

// failCurrent ends the exchange with an inline error suffix.
func (o *Orchestrator) failCurrent(message string) {
	if o.current != nil {
		o.current.Content += "\n\n[Error: " + message + "]"
		o.changed(o.current)
	}
	o.current = nil
	o.actionTriggered = false
	o.setState(ExchangeErrored)
}

// Abort ends an in-flight exchange as errored, for instance when the agent
// goes away. It reports whether an exchange was aborted.
func (o *Orchestrator) Abort(reason string) bool {
	if !o.state.InFlight() {
		return false
	}
	o.trace(trace.StageExchangeError, reason)
	o.failCurrent(reason)
	return true
}

// Cancel asks the agent to stop the current exchange. The exchange still
// ends on the agent's done or error event.
func (o *Orchestrator) Cancel(ctx context.Context) error {
	if !o.state.InFlight() {
		return nil
	}
	return o.agent.Cancel(ctx, o.sessionID)
}

// ApplyProposedEdits applies a message's edits through the editor. A
// message whose edits were already applied or rejected is left alone.
func (o *Orchestrator) ApplyProposedEdits(ctx context.Context, messageID string) error {
	m := o.find(messageID)
	if m == nil {
		return fmt.Errorf("%w: %s", ErrMessageNotFound, messageID)
	}
	if m.EditStatus.Resolved() {
		return nil
	}
	if len(m.ProposedEdits) == 0 {
		return ErrNoProposedEdits
	}
	if o.applier == nil {
		return editor.ErrNotConnected
	}
	if err := o.applier.ApplyEdits(ctx, m.ProposedEdits); err != nil {
		return fmt.Errorf("failed to apply edits: %w", err)
	}
	m.EditStatus = EditApplied
	o.changed(m)
	return nil
}

// RejectProposedEdits marks a message's edits rejected. A message whose
// edits were already applied or rejected is left alone.
func (o *Orchestrator) RejectProposedEdits(messageID string) error {
	m := o.find(messageID)
	if m == nil {
		return fmt.Errorf("%w: %s", ErrMessageNotFound, messageID)
	}
	if m.EditStatus.Resolved() {
		return nil
	}
	if len(m.ProposedEdits) == 0 {
		return ErrNoProposedEdits
	}
	m.EditStatus = EditRejected
	o.changed(m)
	return nil
}

// AddSystemMessage appends a status note unless the same note was added
// within the dedupe window. It reports whether a message was appended.
func (o *Orchestrator) AddSystemMessage(kind, content string) bool {
	content = strings.TrimSpace(content)
	if content == "" {
		return false
	}
	now := o.now()
	if last := o.lastSystem; last != nil &&
		last.kind == kind && last.content == content && now.Sub(last.at) < o.dedupeWindow {
		return false
	}
	o.lastSystem = &systemNote{kind: kind, content: content, at: now}
	o.append(&Message{
		ID:         uuid.New().String(),
		Role:       RoleSystem,
		Content:    content,
		Timestamp:  now,
		SystemKind: kind,
	})
	return true
}

// IsExchangeEnd reports whether s closes an exchange.
func IsExchangeEnd(s ExchangeState) bool {
	return s == ExchangeDone || s == ExchangeErrored
}

