package process

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	acpclient "github.com/neoai/neoai/internal/agent/acp"
	"github.com/neoai/neoai/internal/agent/installer"
	"github.com/neoai/neoai/internal/permission"
)

func setupManager(t *testing.T, agent *fakeAgent, opts ...Option) (*Manager, *recordingSink) {
	t.Helper()
	spawner := func(path, _ string) (Process, error) {
		go agent.run()
		return agent.proc, nil
	}
	opts = append([]Option{WithSpawner(spawner)}, opts...)
	m := NewManager(Config{WorkingDir: t.TempDir(), StopTimeout: time.Second}, newTestLogger(), opts...)
	sink := newRecordingSink()
	m.SetSink(sink)
	t.Cleanup(func() { _ = m.Stop(context.Background()) })
	return m, sink
}

func startWithSession(t *testing.T, m *Manager, terminalID string) string {
	t.Helper()
	require.NoError(t, m.Start(context.Background(), "/opt/agent"))
	sessionID, err := m.CreateSession(context.Background(), t.TempDir(), terminalID)
	require.NoError(t, err)
	return sessionID
}

func strPtr(s string) *string { return &s }

func TestManager_Start(t *testing.T) {
	t.Run("handshake reaches running", func(t *testing.T) {
		m, sink := setupManager(t, newFakeAgent())

		require.NoError(t, m.Start(context.Background(), "/opt/agent"))

		st := m.Status()
		assert.Equal(t, StateRunning, st.State)
		assert.Equal(t, "fake-agent", st.AgentName)
		assert.Equal(t, "0.0.1", st.AgentVersion)
		assert.Equal(t, []installer.Phase{installer.PhaseStarting, installer.PhaseDone}, sink.installPhases())
	})

	t.Run("second start is rejected while running", func(t *testing.T) {
		m, _ := setupManager(t, newFakeAgent())
		require.NoError(t, m.Start(context.Background(), "/opt/agent"))

		assert.ErrorIs(t, m.Start(context.Background(), "/opt/agent"), ErrAlreadyRunning)
	})

	t.Run("initialize failure is an agent error", func(t *testing.T) {
		agent := newFakeAgent()
		agent.failInitialize = true
		m, sink := setupManager(t, agent)

		err := m.Start(context.Background(), "/opt/agent")

		var agentErr *AgentError
		require.ErrorAs(t, err, &agentErr)
		assert.Contains(t, agentErr.Message, "ACP initialize failed")
		assert.Equal(t, StateError, m.Status().State)
		assert.Equal(t, installer.PhaseError, sink.lastInstall().Phase)
	})

	t.Run("process exiting during the handshake is an agent error", func(t *testing.T) {
		agent := newFakeAgent()
		spawner := func(string, string) (Process, error) {
			go func() {
				_, _ = io.WriteString(agent.proc.stderrW, "fatal: missing OPENAI_API_KEY\n")
				agent.proc.exit(errors.New("exit status 1"), false)
			}()
			return agent.proc, nil
		}
		m, sink := setupManager(t, agent, WithSpawner(spawner))

		err := m.Start(context.Background(), "/opt/agent")

		assert.NotErrorIs(t, err, ErrStartSuperseded)
		var agentErr *AgentError
		require.ErrorAs(t, err, &agentErr)
		assert.NotEmpty(t, agentErr.Message)
		assert.Equal(t, StateError, m.Status().State)
		assert.Equal(t, installer.PhaseError, sink.lastInstall().Phase)
	})

	t.Run("stop during the handshake supersedes the start", func(t *testing.T) {
		agent := newFakeAgent()
		spawned := make(chan struct{})
		spawner := func(string, string) (Process, error) {
			close(spawned)
			return agent.proc, nil
		}
		m, sink := setupManager(t, agent, WithSpawner(spawner))

		errCh := make(chan error, 1)
		go func() { errCh <- m.Start(context.Background(), "/opt/agent") }()
		<-spawned
		require.Eventually(t, func() bool {
			m.mu.Lock()
			defer m.mu.Unlock()
			return m.proc != nil
		}, 2*time.Second, 5*time.Millisecond)
		go func() { _ = m.Stop(context.Background()) }()

		assert.ErrorIs(t, receive(t, errCh), ErrStartSuperseded)
		assert.Equal(t, StateStopped, m.Status().State)
		assert.NotEqual(t, installer.PhaseError, sink.lastInstall().Phase)
	})

	t.Run("spawn failure of a custom path does not install", func(t *testing.T) {
		strategy := &fakeStrategy{}
		m := NewManager(Config{}, newTestLogger(),
			WithSpawner(func(string, string) (Process, error) { return nil, exec.ErrNotFound }),
			WithStrategyFactory(func(installer.ProgressFunc) (installer.Strategy, error) { return strategy, nil }))

		err := m.Start(context.Background(), "/opt/missing-agent")

		var agentErr *AgentError
		require.ErrorAs(t, err, &agentErr)
		assert.Contains(t, agentErr.Message, "Failed to spawn agent '/opt/missing-agent'")
		assert.Zero(t, strategy.calls)
		st := m.Status()
		assert.Equal(t, StateError, st.State)
		assert.Equal(t, agentErr.Message, st.Message)
	})
}

func TestManager_ManagedInstall(t *testing.T) {
	t.Setenv("PATH", t.TempDir())

	t.Run("missing default agent is installed then spawned", func(t *testing.T) {
		agent := newFakeAgent()
		strategy := &fakeStrategy{path: "/data/agents/codex-acp/0.9.2/codex-acp"}
		var spawned []string
		spawner := func(path, _ string) (Process, error) {
			spawned = append(spawned, path)
			if path == "codex-acp" {
				return nil, exec.ErrNotFound
			}
			go agent.run()
			return agent.proc, nil
		}
		m, sink := setupManager(t, agent,
			WithSpawner(spawner),
			WithStrategyFactory(func(progress installer.ProgressFunc) (installer.Strategy, error) {
				strategy.progress = progress
				return strategy, nil
			}))

		require.NoError(t, m.Start(context.Background(), "codex-acp"))

		assert.Equal(t, []string{"codex-acp", strategy.path}, spawned)
		assert.Equal(t, 1, strategy.calls)
		assert.Equal(t, []installer.Phase{
			installer.PhaseStarting,
			installer.PhaseDownloading,
			installer.PhaseStarting,
			installer.PhaseDone,
		}, sink.installPhases())
	})

	t.Run("install failure points at manual install", func(t *testing.T) {
		strategy := &fakeStrategy{err: &installer.InstallError{Phase: installer.PhaseVerifying, Err: errors.New("checksum mismatch")}}
		m := NewManager(Config{}, newTestLogger(),
			WithSpawner(func(string, string) (Process, error) { return nil, exec.ErrNotFound }),
			WithStrategyFactory(func(installer.ProgressFunc) (installer.Strategy, error) { return strategy, nil }))
		sink := newRecordingSink()
		m.SetSink(sink)

		err := m.Start(context.Background(), "")

		var agentErr *AgentError
		require.ErrorAs(t, err, &agentErr)
		assert.Contains(t, agentErr.Message, "Failed to prepare managed codex-acp for neoai")
		assert.Contains(t, agentErr.Message, "checksum mismatch")
		assert.Contains(t, agentErr.Message, installer.CodexReleasesURL)
		assert.Equal(t, installer.PhaseError, sink.lastInstall().Phase)

		var installErr *installer.InstallError
		require.ErrorAs(t, err, &installErr)
		assert.Equal(t, installer.PhaseVerifying, installErr.Phase)
	})

	t.Run("spawn failure after install", func(t *testing.T) {
		strategy := &fakeStrategy{path: "/data/codex-acp"}
		m := NewManager(Config{}, newTestLogger(),
			WithSpawner(func(path string, _ string) (Process, error) {
				if path == "/data/codex-acp" {
					return nil, errors.New("exec format error")
				}
				return nil, exec.ErrNotFound
			}),
			WithStrategyFactory(func(installer.ProgressFunc) (installer.Strategy, error) { return strategy, nil }))

		err := m.Start(context.Background(), "codex-acp")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "Installed codex-acp at '/data/codex-acp' but failed to spawn it")
	})
}

func TestManager_Sessions(t *testing.T) {
	t.Run("create session requires a running agent", func(t *testing.T) {
		m, _ := setupManager(t, newFakeAgent())

		_, err := m.CreateSession(context.Background(), t.TempDir(), "term-1")
		assert.ErrorIs(t, err, ErrNotRunning)
	})

	t.Run("a new session replaces the terminal binding", func(t *testing.T) {
		m, _ := setupManager(t, newFakeAgent())
		first := startWithSession(t, m, "term-1")

		second, err := m.CreateSession(context.Background(), t.TempDir(), "term-1")
		require.NoError(t, err)

		assert.NotEqual(t, first, second)
		_, ok := m.TerminalFor(first)
		assert.False(t, ok)
		tid, ok := m.TerminalFor(second)
		require.True(t, ok)
		assert.Equal(t, "term-1", tid)
	})

	t.Run("unbind drops the terminal's sessions", func(t *testing.T) {
		m, _ := setupManager(t, newFakeAgent())
		sessionID := startWithSession(t, m, "term-1")

		m.UnbindTerminal("term-1")

		_, err := m.SendPrompt(sessionID, []string{"hi"}, "")
		assert.ErrorIs(t, err, ErrNoActiveSession)
	})
}

func TestManager_SendPrompt(t *testing.T) {
	t.Run("streams chunks then done to the bound terminal", func(t *testing.T) {
		agent := newFakeAgent()
		m, sink := setupManager(t, agent)
		sessionID := startWithSession(t, m, "term-1")

		promptID, err := m.SendPrompt(sessionID, []string{"fix this"}, "File: main.go")
		require.NoError(t, err)
		assert.NotEmpty(t, promptID)

		params := receive(t, agent.prompts)
		blocks, ok := params["prompt"].([]any)
		require.True(t, ok)
		require.Len(t, blocks, 2)
		assert.Equal(t, "File: main.go", blocks[0].(map[string]any)["text"])
		assert.Equal(t, "fix this", blocks[1].(map[string]any)["text"])

		first := nextEvent(t, sink.events)
		assert.Equal(t, "term-1", first.terminalID)
		assert.Equal(t, acpclient.EventContentChunk, first.event.Type)
		assert.Equal(t, "Hello", first.event.Text)

		second := nextEvent(t, sink.events)
		assert.Equal(t, " world", second.event.Text)

		done := nextEvent(t, sink.events)
		assert.Equal(t, acpclient.EventDone, done.event.Type)
		assert.Equal(t, "end_turn", done.event.StopReason)
		assert.Equal(t, sessionID, done.event.SessionID)
	})

	t.Run("omits an empty context block", func(t *testing.T) {
		agent := newFakeAgent()
		m, _ := setupManager(t, agent)
		sessionID := startWithSession(t, m, "term-1")

		_, err := m.SendPrompt(sessionID, []string{"fix this"}, "")
		require.NoError(t, err)

		params := receive(t, agent.prompts)
		assert.Len(t, params["prompt"], 1)
	})

	t.Run("requires a session", func(t *testing.T) {
		m, _ := setupManager(t, newFakeAgent())
		require.NoError(t, m.Start(context.Background(), "/opt/agent"))

		_, err := m.SendPrompt("", []string{"hi"}, "")
		assert.ErrorIs(t, err, ErrNoActiveSession)

		_, err = m.SendPrompt("sess-unknown", []string{"hi"}, "")
		assert.ErrorIs(t, err, ErrNoActiveSession)
	})

	t.Run("cancel reaches the agent", func(t *testing.T) {
		agent := newFakeAgent()
		m, _ := setupManager(t, agent)
		sessionID := startWithSession(t, m, "term-1")

		require.NoError(t, m.Cancel(context.Background(), sessionID))
		assert.Equal(t, sessionID, receive(t, agent.cancels))
	})
}

func TestManager_Permissions(t *testing.T) {
	t.Run("dismissal is sent as cancelled", func(t *testing.T) {
		agent := newFakeAgent()
		agent.askPermission = true
		m, sink := setupManager(t, agent)
		sessionID := startWithSession(t, m, "term-1")

		_, err := m.SendPrompt(sessionID, []string{"edit it"}, "")
		require.NoError(t, err)

		req := receive(t, sink.permissions)
		assert.Equal(t, "perm-1", req.RequestID)
		assert.Equal(t, "term-1", req.TerminalID)
		assert.Equal(t, "Edit main.go", req.Title)
		require.Len(t, req.Options, 2)

		require.NoError(t, m.RespondPermission(req.RequestID, nil))
		assert.Equal(t, "cancelled", receive(t, agent.outcomes)["outcome"])

		assert.ErrorIs(t, m.RespondPermission(req.RequestID, nil), permission.ErrUnknownRequest)
	})

	t.Run("selected option is forwarded", func(t *testing.T) {
		agent := newFakeAgent()
		agent.askPermission = true
		m, sink := setupManager(t, agent)
		sessionID := startWithSession(t, m, "term-1")

		_, err := m.SendPrompt(sessionID, []string{"edit it"}, "")
		require.NoError(t, err)
		req := receive(t, sink.permissions)

		require.NoError(t, m.RespondPermission(req.RequestID, strPtr("allow")))
		outcome := receive(t, agent.outcomes)
		assert.Equal(t, "selected", outcome["outcome"])
		assert.Equal(t, "allow", outcome["optionId"])
	})

	t.Run("stop cancels pending requests", func(t *testing.T) {
		agent := newFakeAgent()
		agent.askPermission = true
		m, sink := setupManager(t, agent)
		sessionID := startWithSession(t, m, "term-1")

		_, err := m.SendPrompt(sessionID, []string{"edit it"}, "")
		require.NoError(t, err)
		req := receive(t, sink.permissions)

		require.NoError(t, m.Stop(context.Background()))
		assert.ErrorIs(t, m.RespondPermission(req.RequestID, strPtr("allow")), permission.ErrUnknownRequest)
	})
}

func TestManager_FileSystemThroughEditor(t *testing.T) {
	agent := newFakeAgent()
	agent.readFile = true
	m, _ := setupManager(t, agent)
	editorFS := &fakeEditorFS{}
	m.SetEditorFS(editorFS)
	sessionID := startWithSession(t, m, "term-7")

	_, err := m.SendPrompt(sessionID, []string{"read"}, "")
	require.NoError(t, err)

	assert.Equal(t, "line 2 (+1)", receive(t, agent.fileReads))
	editorFS.mu.Lock()
	defer editorFS.mu.Unlock()
	assert.Equal(t, []string{"term-7:/work/main.go"}, editorFS.reads)
}

func TestManager_Stop(t *testing.T) {
	t.Run("resets local state and lets the agent exit", func(t *testing.T) {
		agent := newFakeAgent()
		m, _ := setupManager(t, agent)
		sessionID := startWithSession(t, m, "term-1")

		require.NoError(t, m.Stop(context.Background()))

		assert.Equal(t, StateStopped, m.Status().State)
		_, ok := m.TerminalFor(sessionID)
		assert.False(t, ok)
		_, err := m.SendPrompt(sessionID, []string{"hi"}, "")
		assert.ErrorIs(t, err, ErrNoActiveSession)
		assert.True(t, agent.proc.exitedGracefully())
	})

	t.Run("stop without a process is a no-op", func(t *testing.T) {
		m := NewManager(Config{}, newTestLogger())
		require.NoError(t, m.Stop(context.Background()))
		assert.Equal(t, StateStopped, m.Status().State)
	})

	t.Run("restart after stop", func(t *testing.T) {
		agents := []*fakeAgent{newFakeAgent(), newFakeAgent()}
		next := 0
		m, _ := setupManager(t, agents[0], WithSpawner(func(string, string) (Process, error) {
			a := agents[next]
			next++
			go a.run()
			return a.proc, nil
		}))

		require.NoError(t, m.Start(context.Background(), "/opt/agent"))
		require.NoError(t, m.Stop(context.Background()))
		require.NoError(t, m.Start(context.Background(), "/opt/agent"))
		assert.Equal(t, StateRunning, m.Status().State)
	})
}

func TestManager_UnexpectedExit(t *testing.T) {
	agent := newFakeAgent()
	m, sink := setupManager(t, agent)
	sessionID := startWithSession(t, m, "term-1")

	go func() {
		_, _ = io.WriteString(agent.proc.stderrW, "\x1b[31mpanic: boom\x1b[0m\n")
	}()
	require.Eventually(t, func() bool { return len(m.RecentStderr()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "panic: boom", m.RecentStderr()[0])

	agent.proc.exit(errors.New("exit status 3"), false)

	ev := nextEvent(t, sink.events)
	assert.Equal(t, "term-1", ev.terminalID)
	assert.Equal(t, acpclient.EventError, ev.event.Type)
	assert.Equal(t, sessionID, ev.event.SessionID)
	assert.Equal(t, "Agent process exited with code -1: panic: boom", ev.event.Error)

	st := m.Status()
	assert.Equal(t, StateError, st.State)
	assert.Equal(t, ev.event.Error, st.Message)
}
