package terminal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	acpclient "github.com/neoai/neoai/internal/agent/acp"
	"github.com/neoai/neoai/internal/bridge/session"
	"github.com/neoai/neoai/internal/common/config"
	"github.com/neoai/neoai/internal/common/logger"
	"github.com/neoai/neoai/internal/editor"
	"github.com/neoai/neoai/internal/events"
	"github.com/neoai/neoai/internal/events/bus"
	"github.com/neoai/neoai/internal/permission"
)

func newTestLogger() *logger.Logger {
	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stderr"})
	return log
}

type fakeConn struct {
	mu         sync.Mutex
	socket     string
	closed     bool
	refreshes  int
	applied    [][]editor.BufferEdit
	execOutput string
}

func (f *fakeConn) SocketPath() string                           { return f.socket }
func (f *fakeConn) ChannelID(context.Context) (int64, error)     { return 3, nil }
func (f *fakeConn) InjectKeymaps(context.Context) (int64, error) { return 3, nil }
func (f *fakeConn) ProbeKeymaps(context.Context, int64) (bool, error) {
	return true, nil
}

func (f *fakeConn) Context(context.Context) (*editor.Context, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return &editor.Context{
		FilePath:     "/work/main.go",
		FileType:     "go",
		Cursor:       editor.CursorPosition{Line: 1},
		VisibleLines: []string{"package main"},
		VisibleRange: [2]int{1, 1},
	}, nil
}

func (f *fakeConn) Diagnostics(context.Context) ([]editor.Diagnostic, error) { return nil, nil }
func (f *fakeConn) BufferContent(context.Context) (*editor.BufferContent, error) {
	return &editor.BufferContent{FilePath: "/work/main.go", Lines: []string{"package main"}, LineCount: 1}, nil
}
func (f *fakeConn) ApplyEdit(ctx context.Context, e editor.BufferEdit) error {
	return f.ApplyEdits(ctx, []editor.BufferEdit{e})
}

func (f *fakeConn) ApplyEdits(_ context.Context, edits []editor.BufferEdit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, edits)
	return nil
}

func (f *fakeConn) ExecCommand(_ context.Context, cmd string) (string, error) {
	return "ran " + cmd, nil
}

func (f *fakeConn) ReadFile(_ context.Context, path string, _, _ *int) (string, error) {
	return "contents of " + path, nil
}
func (f *fakeConn) WriteFile(context.Context, string, string) error { return nil }

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) state() (closed bool, refreshes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed, f.refreshes
}

// fakeDialer fails until healthy is set.
type fakeDialer struct {
	healthy atomic.Bool
	dials   atomic.Int32
	mu      sync.Mutex
	conns   []*fakeConn
	opts    editor.ClientOptions
}

func (d *fakeDialer) factory(opts editor.ClientOptions) editor.DialFunc {
	d.mu.Lock()
	d.opts = opts
	d.mu.Unlock()
	return func(_ context.Context, socketPath string) (editor.Conn, error) {
		d.dials.Add(1)
		if !d.healthy.Load() {
			return nil, &editor.ConnectionError{SocketPath: socketPath, Reason: "connection refused"}
		}
		c := &fakeConn{socket: socketPath}
		d.mu.Lock()
		d.conns = append(d.conns, c)
		d.mu.Unlock()
		return c, nil
	}
}

type fakeAgent struct {
	mu   sync.Mutex
	sent []string
}

func (a *fakeAgent) SendPrompt(_ string, messages []string, _ string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, messages...)
	return "p1", nil
}

func (a *fakeAgent) Cancel(context.Context, string) error { return nil }

func (a *fakeAgent) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sent)
}

type fakeResponder struct {
	mu    sync.Mutex
	calls map[string]*string
	// withdrawn requests are no longer known to the agent.
	withdrawn map[string]bool
}

func (r *fakeResponder) RespondPermission(requestID string, optionID *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = map[string]*string{}
	}
	r.calls[requestID] = optionID
	if r.withdrawn[requestID] {
		return fmt.Errorf("%w: %s", permission.ErrUnknownRequest, requestID)
	}
	return nil
}

func (r *fakeResponder) answered(requestID string) (*string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	opt, ok := r.calls[requestID]
	return opt, ok
}

type fakeSaver struct {
	mu    sync.Mutex
	saves [][]session.Message
}

func (s *fakeSaver) SaveTranscript(_ context.Context, _ string, messages []session.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves = append(s.saves, messages)
	return nil
}

func (s *fakeSaver) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saves)
}

type fixture struct {
	actor     *Actor
	dialer    *fakeDialer
	agent     *fakeAgent
	responder *fakeResponder
	saver     *fakeSaver
	bus       *bus.MemoryEventBus
}

func setupActor(t *testing.T) *fixture {
	t.Helper()
	log := newTestLogger()
	f := &fixture{
		dialer:    &fakeDialer{},
		agent:     &fakeAgent{},
		responder: &fakeResponder{},
		saver:     &fakeSaver{},
		bus:       bus.NewMemoryEventBus(log),
	}
	f.dialer.healthy.Store(true)
	f.actor = New("term-1", Deps{
		Agent:          f.agent,
		Permissions:    f.responder,
		Dialer:         f.dialer.factory,
		Bus:            f.bus,
		Saver:          f.saver,
		ActiveTerminal: func() string { return "term-1" },
	}, Options{
		Editor: config.EditorConfig{
			SocketDir:       t.TempDir(),
			ConnectDeadline: 2 * time.Second,
			PollInterval:    10 * time.Millisecond,
			RefreshInterval: 20 * time.Millisecond,
		},
		Bridge: config.BridgeConfig{InboxSize: 8, ActionRate: 100, ActionBurst: 10},
	}, log)
	t.Cleanup(func() {
		_ = f.actor.Close(context.Background())
		f.bus.Close()
	})
	return f
}

func stages(a *Actor) []string {
	var out []string
	for _, ev := range a.Traces() {
		out = append(out, ev.Stage)
	}
	return out
}

func connect(t *testing.T, a *Actor, socketPath string) {
	t.Helper()
	applied, err := a.Connect(context.Background(), socketPath)
	require.NoError(t, err)
	require.True(t, applied)
}

type connectResult struct {
	applied bool
	err     error
}

func connectAsync(a *Actor, socketPath string) connectResult {
	applied, err := a.Connect(context.Background(), socketPath)
	return connectResult{applied: applied, err: err}
}

func receiveResult(t *testing.T, ch <-chan connectResult) connectResult {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("connect did not return")
		return connectResult{}
	}
}

func TestActor_Connect(t *testing.T) {
	t.Run("connects refreshes and keeps refreshing", func(t *testing.T) {
		f := setupActor(t)
		connect(t, f.actor, "/tmp/nvim.sock")

		st := f.actor.EditorStatus()
		assert.Equal(t, editor.StateConnected, st.State)
		assert.Equal(t, editor.KeymapPresent, st.Keymaps)
		require.NotNil(t, st.Context)
		assert.Equal(t, "/work/main.go", st.Context.FilePath)
		assert.Contains(t, stages(f.actor), "connect.ok")

		conn := f.dialer.conns[0]
		assert.Eventually(t, func() bool {
			_, n := conn.state()
			return n >= 3
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("superseded attempt aborts silently", func(t *testing.T) {
		f := setupActor(t)
		f.dialer.healthy.Store(false)

		resCh := make(chan connectResult, 1)
		go func() { resCh <- connectAsync(f.actor, "/tmp/old.sock") }()
		require.Eventually(t, func() bool { return f.dialer.dials.Load() >= 2 }, time.Second, 5*time.Millisecond)

		f.actor.Supersede()
		res := receiveResult(t, resCh)
		assert.NoError(t, res.err)
		assert.False(t, res.applied)

		st := f.actor.EditorStatus()
		assert.Equal(t, editor.StateDisconnected, st.State)
		assert.Empty(t, st.LastError)
		assert.Contains(t, stages(f.actor), "connect.stale")
		assert.NotContains(t, stages(f.actor), "connect.failed")
	})

	t.Run("newer attempt wins", func(t *testing.T) {
		f := setupActor(t)
		f.dialer.healthy.Store(false)

		oldCh := make(chan connectResult, 1)
		go func() { oldCh <- connectAsync(f.actor, "/tmp/old.sock") }()
		require.Eventually(t, func() bool { return f.dialer.dials.Load() >= 1 }, time.Second, 5*time.Millisecond)

		f.dialer.healthy.Store(true)
		connect(t, f.actor, "/tmp/new.sock")

		old := receiveResult(t, oldCh)
		assert.NoError(t, old.err)
		assert.False(t, old.applied)
		st := f.actor.EditorStatus()
		assert.Equal(t, editor.StateConnected, st.State)
		assert.Equal(t, "/tmp/new.sock", st.SocketPath)
	})

	t.Run("deadline surfaces a connection error", func(t *testing.T) {
		f := setupActor(t)
		f.dialer.healthy.Store(false)
		f.actor.opts.Editor.ConnectDeadline = 50 * time.Millisecond

		applied, err := f.actor.Connect(context.Background(), "")
		assert.True(t, applied)
		var connErr *editor.ConnectionError
		require.ErrorAs(t, err, &connErr)
		assert.Equal(t, editor.StateError, f.actor.EditorStatus().State)
		assert.Contains(t, stages(f.actor), "connect.failed")
	})

	t.Run("disconnect closes and resets", func(t *testing.T) {
		f := setupActor(t)
		connect(t, f.actor, "/tmp/nvim.sock")
		require.NoError(t, f.actor.Disconnect(context.Background()))

		closed, _ := f.dialer.conns[0].state()
		assert.True(t, closed)
		st := f.actor.EditorStatus()
		assert.Equal(t, editor.StateDisconnected, st.State)
		assert.Nil(t, st.Context)
		assert.Equal(t, editor.KeymapUnknown, st.Keymaps)
	})
}

func fixAction() editor.ActionEvent {
	return editor.ActionEvent{
		TerminalID: "term-1",
		Action: editor.Action{
			Kind:       editor.ActionFixDiagnostic,
			FilePath:   "/work/main.go",
			CursorLine: 3,
			Diagnostic: &editor.Diagnostic{Line: 2, Severity: 1, Message: "undefined: x"},
		},
	}
}

func TestActor_Actions(t *testing.T) {
	t.Run("second action while streaming is dropped", func(t *testing.T) {
		f := setupActor(t)

		f.actor.HandleAction(fixAction())
		f.actor.HandleAction(fixAction())

		transcript, state, err := f.actor.Transcript(context.Background())
		require.NoError(t, err)
		assert.Len(t, transcript, 2)
		assert.Equal(t, session.ExchangeStreaming, state)
		assert.Equal(t, 1, f.agent.count())
		assert.Contains(t, stages(f.actor), "action.accepted")
		assert.Contains(t, stages(f.actor), "action.dropped")
	})

	t.Run("action from another terminal is dropped", func(t *testing.T) {
		f := setupActor(t)
		ev := fixAction()
		ev.TerminalID = "term-2"

		f.actor.HandleAction(ev)

		transcript, _, err := f.actor.Transcript(context.Background())
		require.NoError(t, err)
		assert.Empty(t, transcript)
	})
}

func TestActor_Exchange(t *testing.T) {
	f := setupActor(t)
	require.NoError(t, f.actor.BindSession(context.Background(), "sess-1"))

	_, err := f.actor.Submit(context.Background(), session.Input{Text: "hi"})
	require.NoError(t, err)
	f.actor.HandleAgentEvent(acpclient.AgentEvent{Type: acpclient.EventContentChunk, SessionID: "sess-1", Text: "Hello"})
	f.actor.HandleAgentEvent(acpclient.DoneEvent("sess-1", "end_turn"))

	transcript, state, err := f.actor.Transcript(context.Background())
	require.NoError(t, err)
	assert.Equal(t, session.ExchangeDone, state)
	require.Len(t, transcript, 3)
	assert.Equal(t, session.RoleSystem, transcript[0].Role)
	assert.Equal(t, "Hello", transcript[2].Content)
	assert.Equal(t, 1, f.saver.count())

	_, err = f.actor.Submit(context.Background(), session.Input{Text: "again"})
	require.NoError(t, err)
	f.actor.ResetSession("Agent stopped.")
	transcript, state, err = f.actor.Transcript(context.Background())
	require.NoError(t, err)
	assert.Equal(t, session.ExchangeErrored, state)
	assert.Equal(t, "Agent stopped.", transcript[len(transcript)-1].Content)
	id, err := f.actor.SessionID(context.Background())
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestActor_Permissions(t *testing.T) {
	f := setupActor(t)
	published := make(chan *bus.Event, 10)
	_, err := f.bus.Subscribe(events.TerminalSubject("term-1", events.PermissionResolved), func(_ context.Context, ev *bus.Event) error {
		published <- ev
		return nil
	})
	require.NoError(t, err)

	for _, id := range []string{"r1", "r2", "r3"} {
		f.actor.EnqueuePermission(permission.Request{RequestID: id, SessionID: "sess-1", Options: []permission.Option{{OptionID: "allow"}}})
	}

	require.NoError(t, f.actor.RespondPermission(context.Background(), "r1", nil))

	pending, err := f.actor.Permissions(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "r2", pending[0].RequestID)
	assert.Equal(t, "r3", pending[1].RequestID)

	opt, ok := f.responder.answered("r1")
	assert.True(t, ok)
	assert.Nil(t, opt)

	select {
	case ev := <-published:
		update, ok := ev.Data.(PermissionUpdate)
		require.True(t, ok)
		assert.Equal(t, "r1", update.Request.RequestID)
		assert.Equal(t, 2, update.Pending)
	case <-time.After(2 * time.Second):
		t.Fatal("no permission.resolved event")
	}

	err = f.actor.RespondPermission(context.Background(), "r1", nil)
	assert.True(t, errors.Is(err, permission.ErrUnknownRequest))

	current, found, err := f.actor.CurrentPermission(context.Background())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "r2", current.RequestID)
}

func subscribeResolved(t *testing.T, f *fixture) <-chan PermissionUpdate {
	t.Helper()
	out := make(chan PermissionUpdate, 10)
	_, err := f.bus.Subscribe(events.TerminalSubject("term-1", events.PermissionResolved), func(_ context.Context, ev *bus.Event) error {
		if update, ok := ev.Data.(PermissionUpdate); ok {
			out <- update
		}
		return nil
	})
	require.NoError(t, err)
	return out
}

func nextUpdate(t *testing.T, ch <-chan PermissionUpdate) PermissionUpdate {
	t.Helper()
	select {
	case u := <-ch:
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("no permission.resolved event")
		return PermissionUpdate{}
	}
}

func TestActor_PermissionWithdrawnByAgent(t *testing.T) {
	f := setupActor(t)
	resolved := subscribeResolved(t, f)
	f.responder.withdrawn = map[string]bool{"r1": true}
	f.actor.EnqueuePermission(permission.Request{RequestID: "r1", SessionID: "sess-1"})

	err := f.actor.RespondPermission(context.Background(), "r1", nil)
	assert.ErrorIs(t, err, permission.ErrUnknownRequest)

	update := nextUpdate(t, resolved)
	assert.Equal(t, "r1", update.Request.RequestID)
	assert.Zero(t, update.Pending)
	pending, err := f.actor.Permissions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestActor_EditorPassthrough(t *testing.T) {
	f := setupActor(t)

	_, err := f.actor.ExecCommand(context.Background(), "ls")
	assert.ErrorIs(t, err, editor.ErrNotConnected)

	connect(t, f.actor, "/tmp/nvim.sock")
	out, err := f.actor.ExecCommand(context.Background(), "ls")
	require.NoError(t, err)
	assert.Equal(t, "ran ls", out)

	content, err := f.actor.ReadFile(context.Background(), "/work/a.go", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "contents of /work/a.go", content)
}

func TestActor_Close(t *testing.T) {
	t.Run("saves once and rejects later calls", func(t *testing.T) {
		f := setupActor(t)
		require.NoError(t, f.actor.Close(context.Background()))
		require.NoError(t, f.actor.Close(context.Background()))

		_, err := f.actor.Submit(context.Background(), session.Input{Text: "x"})
		assert.ErrorIs(t, err, ErrClosed)
		assert.Equal(t, 1, f.saver.count())
	})

	t.Run("pending permissions are cancelled at the agent", func(t *testing.T) {
		f := setupActor(t)
		resolved := subscribeResolved(t, f)
		f.actor.EnqueuePermission(permission.Request{RequestID: "perm-1", SessionID: "sess-1"})
		f.actor.EnqueuePermission(permission.Request{RequestID: "perm-2", SessionID: "sess-1"})
		pending, err := f.actor.Permissions(context.Background())
		require.NoError(t, err)
		require.Len(t, pending, 2)

		require.NoError(t, f.actor.Close(context.Background()))

		for _, id := range []string{"perm-1", "perm-2"} {
			opt, ok := f.responder.answered(id)
			assert.True(t, ok, "%s must be answered", id)
			assert.Nil(t, opt, "%s must be cancelled", id)
		}
		assert.Equal(t, "perm-1", nextUpdate(t, resolved).Request.RequestID)
		assert.Equal(t, "perm-2", nextUpdate(t, resolved).Request.RequestID)
	})
}
