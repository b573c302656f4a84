// Package terminal runs one actor per terminal. The actor is the single
// owner of that terminal's editor supervisor, exchange orchestrator,
// action router and permission queue; everything reaches them through its
// inbox.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	acpclient "github.com/neoai/neoai/internal/agent/acp"
	"github.com/neoai/neoai/internal/bridge/action"
	"github.com/neoai/neoai/internal/bridge/session"
	"github.com/neoai/neoai/internal/bridge/trace"
	"github.com/neoai/neoai/internal/common/config"
	"github.com/neoai/neoai/internal/common/constants"
	"github.com/neoai/neoai/internal/common/logger"
	"github.com/neoai/neoai/internal/editor"
	"github.com/neoai/neoai/internal/events"
	"github.com/neoai/neoai/internal/events/bus"
	"github.com/neoai/neoai/internal/permission"
	"github.com/neoai/neoai/internal/tracing"
)

// ErrClosed is returned by calls on a closed actor.
var ErrClosed = errors.New("terminal closed")

// DialerFactory builds the editor dialer for one terminal.
type DialerFactory func(opts editor.ClientOptions) editor.DialFunc

// TranscriptSaver persists a terminal's transcript at exchange boundaries.
type TranscriptSaver interface {
	SaveTranscript(ctx context.Context, terminalID string, messages []session.Message) error
}

// Deps are the actor's collaborators.
type Deps struct {
	Agent       session.AgentPort
	Permissions permission.Responder
	Dialer      DialerFactory
	Bus         bus.EventBus
	Saver       TranscriptSaver
	// ActiveTerminal returns the id of the terminal actions are accepted from.
	ActiveTerminal func() string
}

// Options tune one actor.
type Options struct {
	Editor config.EditorConfig
	Bridge config.BridgeConfig
}

// Actor serializes all state changes for one terminal.
type Actor struct {
	id   string
	deps Deps
	opts Options

	inbox  chan func()
	closed chan struct{}
	once   sync.Once
	loopWG sync.WaitGroup

	// gen is the connect generation. It is bumped by every connect,
	// disconnect and supersede; an establish result from an older
	// generation is discarded.
	gen atomic.Uint64

	// Loop-owned state.
	supervisor *editor.Supervisor
	orch       *session.Orchestrator
	router     *action.Router
	arbiter    *permission.Arbiter
	ticker     *time.Ticker

	ring   *trace.Ring
	logger *logger.Logger
}

// New creates and starts an actor for terminalID.
func New(terminalID string, deps Deps, opts Options, log *logger.Logger) *Actor {
	inboxSize := opts.Bridge.InboxSize
	if inboxSize <= 0 {
		inboxSize = 64
	}
	a := &Actor{
		id:     terminalID,
		deps:   deps,
		opts:   opts,
		inbox:  make(chan func(), inboxSize),
		closed: make(chan struct{}),
		logger: log.Component("terminal-actor").WithTerminalID(terminalID),
	}
	capacity := opts.Bridge.TraceCapacity
	if capacity <= 0 {
		capacity = constants.TraceCapacity
	}
	a.ring = trace.NewRing(capacity, a.publishTrace)
	a.supervisor = editor.NewSupervisor(log, opts.Editor.RefreshFailureThreshold, a.trace)
	a.orch = session.NewOrchestrator(session.Config{
		TerminalID:   terminalID,
		Agent:        deps.Agent,
		Applier:      a.supervisor,
		Source:       a.supervisor,
		AutoApply:    opts.Bridge.AutoApplyEdits,
		DedupeWindow: opts.Bridge.SystemDedupeWindow,
		Hooks: session.Hooks{
			OnMessage: a.publishMessage,
			OnState:   a.onExchangeState,
			OnTrace:   a.trace,
		},
	}, log)
	a.router = action.NewRouter(terminalID, opts.Bridge.ActionRate, opts.Bridge.ActionBurst)
	a.arbiter = permission.NewArbiter(deps.Permissions)

	a.loopWG.Add(1)
	go a.loop()
	return a
}

// ID returns the terminal id.
func (a *Actor) ID() string { return a.id }

func (a *Actor) loop() {
	defer a.loopWG.Done()
	for {
		var tick <-chan time.Time
		if a.ticker != nil {
			tick = a.ticker.C
		}
		select {
		case fn := <-a.inbox:
			fn()
		case <-tick:
			a.refresh(context.Background())
		case <-a.closed:
			a.stopRefresh()
			return
		}
	}
}

// do runs fn on the actor and waits for it to finish.
func (a *Actor) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	task := func() {
		defer close(done)
		fn()
	}
	select {
	case a.inbox <- task:
	case <-a.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-a.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post queues fn without waiting for it to run. It blocks while the inbox
// is full and reports false once the actor is closed.
func (a *Actor) post(fn func()) bool {
	select {
	case a.inbox <- fn:
		return true
	case <-a.closed:
		return false
	}
}

func (a *Actor) trace(stage, detail string) {
	a.ring.Record(a.id, stage, detail)
}

func (a *Actor) publish(kind string, data any) {
	if a.deps.Bus == nil {
		return
	}
	subject := events.TerminalSubject(a.id, kind)
	if err := a.deps.Bus.Publish(context.Background(), subject, bus.NewEvent(kind, bus.SourceTerminal, data)); err != nil {
		a.logger.Debug("failed to publish", zap.String("subject", subject), zap.Error(err))
	}
}

func (a *Actor) publishTrace(ev trace.Event) {
	a.publish(events.BridgeTrace, ev)
}

func (a *Actor) publishMessage(m session.Message) {
	a.publish(events.TranscriptUpdated, TranscriptUpdate{TerminalID: a.id, Message: m})
}

func (a *Actor) publishEditor() {
	a.publish(events.EditorState, EditorUpdate{TerminalID: a.id, Status: a.supervisor.Snapshot()})
}

func (a *Actor) onExchangeState(s session.ExchangeState) {
	a.publish(events.ExchangeState, ExchangeUpdate{TerminalID: a.id, State: s})
	if session.IsExchangeEnd(s) {
		a.save(context.Background())
	}
}

func (a *Actor) save(ctx context.Context) {
	if a.deps.Saver == nil {
		return
	}
	if err := a.deps.Saver.SaveTranscript(ctx, a.id, a.orch.Transcript()); err != nil {
		a.logger.Warn("failed to save transcript", zap.Error(err))
	}
}

// Traces returns the retained breadcrumbs, oldest first.
func (a *Actor) Traces() []trace.Event { return a.ring.Events() }

// EditorStatus returns the supervisor's derived state.
func (a *Actor) EditorStatus() editor.Status { return a.supervisor.Snapshot() }

// DefaultSocketPath is where this terminal's editor listens unless told otherwise.
func (a *Actor) DefaultSocketPath() string {
	dir := a.opts.Editor.SocketDir
	if dir == "" {
		dir = os.TempDir()
	}
	return editor.SocketPath(dir, os.Getpid(), a.id)
}

// Supersede invalidates any connect attempt in flight.
func (a *Actor) Supersede() {
	gen := a.gen.Add(1)
	a.logger.Debug("connect generation superseded", zap.Uint64("generation", gen))
}

// Connect establishes the editor connection and reports whether this
// attempt took effect. Only the newest attempt may change state: one
// superseded while retrying aborts silently, returning false and no error.
func (a *Actor) Connect(ctx context.Context, socketPath string) (bool, error) {
	if socketPath == "" {
		socketPath = a.DefaultSocketPath()
	}
	gen := a.gen.Add(1)
	err := a.establish(ctx, gen, socketPath)
	if errors.Is(err, editor.ErrSuperseded) {
		a.trace(trace.StageConnectStale, fmt.Sprintf("gen=%d", gen))
		return false, nil
	}
	return true, err
}

func (a *Actor) establish(ctx context.Context, gen uint64, socketPath string) (err error) {
	current := func() bool { return a.gen.Load() == gen }

	ctx, span := tracing.TraceEstablish(ctx, a.id, socketPath, gen)
	defer func() {
		if errors.Is(err, editor.ErrSuperseded) {
			tracing.TraceResult(span, nil)
		} else {
			tracing.TraceResult(span, err)
		}
		span.End()
	}()

	a.trace(trace.StageConnectAttempt, fmt.Sprintf("gen=%d socket=%s", gen, socketPath))
	dial := a.deps.Dialer(editor.ClientOptions{
		TerminalID:    a.id,
		ContextRadius: a.opts.Editor.ContextRadius,
		OnAction:      a.HandleAction,
		OnTrace:       a.trace,
	})
	conn, channelID, err := editor.Establish(ctx, dial, socketPath, editor.EstablishOptions{
		Deadline:     a.opts.Editor.ConnectDeadline,
		PollInterval: a.opts.Editor.PollInterval,
		Current:      current,
		OnRetry: func(attempt int, err error) {
			a.trace(trace.StageConnectRetry, fmt.Sprintf("gen=%d attempt=%d %v", gen, attempt, err))
		},
	})
	if errors.Is(err, editor.ErrSuperseded) {
		return err
	}

	var result error
	doErr := a.do(context.WithoutCancel(ctx), func() {
		if !current() {
			if conn != nil {
				_ = conn.Close()
			}
			result = editor.ErrSuperseded
			return
		}
		if err != nil {
			a.supervisor.MarkError(err)
			a.stopRefresh()
			a.publishEditor()
			result = err
			return
		}
		a.supervisor.Attach(conn, channelID)
		a.refresh(ctx)
		if a.supervisor.State() == editor.StateConnected {
			a.startRefresh()
		}
		a.publishEditor()
	})
	if doErr != nil {
		if conn != nil {
			_ = conn.Close()
		}
		return doErr
	}

	switch {
	case errors.Is(result, editor.ErrSuperseded):
	case result != nil:
		a.logger.Warn("editor connect failed", zap.String("socket_path", socketPath), zap.Error(result))
		a.trace(trace.StageConnectFailed, result.Error())
	default:
		a.trace(trace.StageConnectOK, fmt.Sprintf("gen=%d channel=%d", gen, channelID))
	}
	return result
}

// Disconnect drops the editor connection and resets derived state.
func (a *Actor) Disconnect(ctx context.Context) error {
	a.gen.Add(1)
	return a.do(ctx, func() {
		a.stopRefresh()
		a.supervisor.Disconnect()
		a.publishEditor()
	})
}

// ProbeHealth runs a health probe now.
func (a *Actor) ProbeHealth(ctx context.Context) (editor.Health, error) {
	var h editor.Health
	err := a.do(ctx, func() {
		rctx, cancel := a.rpcContext(ctx)
		defer cancel()
		h = a.supervisor.ProbeHealth(rctx)
		a.syncRefresh()
		a.publishEditor()
	})
	return h, err
}

// Refresh re-reads the editor context outside the periodic timer.
func (a *Actor) Refresh(ctx context.Context) error {
	var result error
	if err := a.do(ctx, func() { result = a.refresh(ctx) }); err != nil {
		return err
	}
	return result
}

// ReinjectKeymaps re-installs the editor helpers.
func (a *Actor) ReinjectKeymaps(ctx context.Context) (editor.Health, error) {
	var h editor.Health
	var result error
	if err := a.do(ctx, func() {
		rctx, cancel := a.rpcContext(ctx)
		defer cancel()
		h, result = a.supervisor.ReinjectKeymaps(rctx)
		a.syncRefresh()
		a.publishEditor()
	}); err != nil {
		return h, err
	}
	return h, result
}

// ExecCommand runs an ex command in the editor and returns its output.
func (a *Actor) ExecCommand(ctx context.Context, command string) (string, error) {
	var out string
	var result error
	if err := a.do(ctx, func() {
		conn := a.supervisor.Conn()
		if conn == nil {
			result = editor.ErrNotConnected
			return
		}
		rctx, cancel := a.rpcContext(ctx)
		defer cancel()
		out, result = conn.ExecCommand(rctx, command)
	}); err != nil {
		return "", err
	}
	return out, result
}

// BufferContent returns the current buffer's full text.
func (a *Actor) BufferContent(ctx context.Context) (*editor.BufferContent, error) {
	var out *editor.BufferContent
	var result error
	if err := a.do(ctx, func() {
		conn := a.supervisor.Conn()
		if conn == nil {
			result = editor.ErrNotConnected
			return
		}
		rctx, cancel := a.rpcContext(ctx)
		defer cancel()
		out, result = conn.BufferContent(rctx)
	}); err != nil {
		return nil, err
	}
	return out, result
}

// ReadFile serves an agent file read through the editor.
func (a *Actor) ReadFile(ctx context.Context, path string, line, limit *int) (string, error) {
	var out string
	var result error
	if err := a.do(ctx, func() {
		conn := a.supervisor.Conn()
		if conn == nil {
			result = editor.ErrNotConnected
			return
		}
		rctx, cancel := a.rpcContext(ctx)
		defer cancel()
		out, result = conn.ReadFile(rctx, path, line, limit)
	}); err != nil {
		return "", err
	}
	return out, result
}

// WriteFile serves an agent file write through the editor.
func (a *Actor) WriteFile(ctx context.Context, path, content string) error {
	var result error
	if err := a.do(ctx, func() {
		conn := a.supervisor.Conn()
		if conn == nil {
			result = editor.ErrNotConnected
			return
		}
		rctx, cancel := a.rpcContext(ctx)
		defer cancel()
		result = conn.WriteFile(rctx, path, content)
	}); err != nil {
		return err
	}
	return result
}

// rpcContext bounds one editor round trip independently of the caller, so
// a wedged socket cannot hold the actor.
func (a *Actor) rpcContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), constants.EditorRPCTimeout)
}

func (a *Actor) refresh(ctx context.Context) error {
	if a.supervisor.State() != editor.StateConnected {
		a.stopRefresh()
		return editor.ErrNotConnected
	}
	rctx, cancel := a.rpcContext(ctx)
	defer cancel()
	err := a.supervisor.RefreshContext(rctx)
	a.syncRefresh()
	a.publishEditor()
	return err
}

// syncRefresh keeps the periodic timer running only while connected.
func (a *Actor) syncRefresh() {
	if a.supervisor.State() == editor.StateConnected {
		a.startRefresh()
	} else {
		a.stopRefresh()
	}
}

func (a *Actor) startRefresh() {
	if a.ticker != nil {
		return
	}
	interval := a.opts.Editor.RefreshInterval
	if interval <= 0 {
		interval = constants.EditorRefreshInterval
	}
	a.ticker = time.NewTicker(interval)
}

func (a *Actor) stopRefresh() {
	if a.ticker == nil {
		return
	}
	a.ticker.Stop()
	a.ticker = nil
}

// Close saves the transcript, drops the editor connection, cancels the
// pending permission requests and stops the actor.
func (a *Actor) Close(ctx context.Context) error {
	a.gen.Add(1)
	err := a.do(ctx, func() {
		a.save(ctx)
		a.stopRefresh()
		a.supervisor.Disconnect()
		a.cancelPermissions()
	})
	a.once.Do(func() { close(a.closed) })
	a.loopWG.Wait()
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

// HandleAgentEvent feeds one agent event into the exchange.
func (a *Actor) HandleAgentEvent(ev acpclient.AgentEvent) {
	a.post(func() {
		ctx, cancel := a.rpcContext(context.Background())
		defer cancel()
		a.orch.HandleEvent(ctx, ev)
	})
}
