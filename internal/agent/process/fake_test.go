package process

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	acpclient "github.com/neoai/neoai/internal/agent/acp"
	"github.com/neoai/neoai/internal/agent/installer"
	"github.com/neoai/neoai/internal/common/logger"
	"github.com/neoai/neoai/internal/permission"
)

func newTestLogger() *logger.Logger {
	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stderr"})
	return log
}

var errKilled = errors.New("signal: killed")

// fakeProcess is an in-memory agent process backed by pipes.
type fakeProcess struct {
	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stderrR *io.PipeReader
	stderrW *io.PipeWriter

	done    chan struct{}
	once    sync.Once
	exitErr error
	killed  bool
}

func newFakeProcess() *fakeProcess {
	p := &fakeProcess{done: make(chan struct{})}
	p.stdinR, p.stdinW = io.Pipe()
	p.stdoutR, p.stdoutW = io.Pipe()
	p.stderrR, p.stderrW = io.Pipe()
	return p
}

func (p *fakeProcess) Stdin() io.WriteCloser { return p.stdinW }
func (p *fakeProcess) Stdout() io.Reader     { return p.stdoutR }
func (p *fakeProcess) Stderr() io.Reader     { return p.stderrR }
func (p *fakeProcess) Pid() int              { return 4242 }

func (p *fakeProcess) Wait() error {
	<-p.done
	return p.exitErr
}

func (p *fakeProcess) Kill() error {
	p.exit(errKilled, true)
	return nil
}

func (p *fakeProcess) exit(err error, killed bool) {
	p.once.Do(func() {
		p.exitErr = err
		p.killed = killed
		_ = p.stdoutW.Close()
		_ = p.stderrW.Close()
		_ = p.stdinR.Close()
		close(p.done)
	})
}

func (p *fakeProcess) exitedGracefully() bool {
	select {
	case <-p.done:
		return !p.killed
	default:
		return false
	}
}

// fakeAgent speaks just enough ACP JSON-RPC over a fakeProcess.
type fakeAgent struct {
	proc *fakeProcess

	// askPermission makes every prompt request approval before finishing.
	askPermission bool
	// readFile makes every prompt read a file through the client first.
	readFile bool
	// failInitialize answers initialize with an error.
	failInitialize bool

	writeMu  sync.Mutex
	sessions int

	pendingPromptID json.RawMessage
	pendingSession  string

	prompts   chan map[string]any
	outcomes  chan map[string]any
	fileReads chan string
	cancels   chan string
}

func newFakeAgent() *fakeAgent {
	return &fakeAgent{
		proc:      newFakeProcess(),
		prompts:   make(chan map[string]any, 10),
		outcomes:  make(chan map[string]any, 10),
		fileReads: make(chan string, 10),
		cancels:   make(chan string, 10),
	}
}

type rpcMessage struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`
}

func (a *fakeAgent) write(msg map[string]any) {
	msg["jsonrpc"] = "2.0"
	data, _ := json.Marshal(msg)
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	_, _ = a.proc.stdoutW.Write(append(data, '\n'))
}

func (a *fakeAgent) reply(id json.RawMessage, result any) {
	a.write(map[string]any{"id": id, "result": result})
}

func (a *fakeAgent) chunk(sessionID, text string) {
	a.write(map[string]any{
		"method": "session/update",
		"params": map[string]any{
			"sessionId": sessionID,
			"update": map[string]any{
				"sessionUpdate": "agent_message_chunk",
				"content":       map[string]any{"type": "text", "text": text},
			},
		},
	})
}

func (a *fakeAgent) finishPrompt(id json.RawMessage, sessionID string) {
	a.chunk(sessionID, "Hello")
	a.chunk(sessionID, " world")
	a.reply(id, map[string]any{"stopReason": "end_turn"})
}

func (a *fakeAgent) run() {
	scanner := bufio.NewScanner(a.proc.stdinR)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var msg rpcMessage
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			continue
		}
		a.handle(msg)
	}
	// stdin closed: exit cleanly like a real ACP agent.
	a.proc.exit(nil, false)
}

func (a *fakeAgent) handle(msg rpcMessage) {
	switch msg.Method {
	case "":
		a.handleResponse(msg)
	case "initialize":
		if a.failInitialize {
			a.write(map[string]any{"id": msg.ID, "error": map[string]any{"code": -32603, "message": "unsupported client"}})
			return
		}
		a.reply(msg.ID, map[string]any{
			"protocolVersion":   1,
			"agentCapabilities": map[string]any{"loadSession": false},
			"authMethods":       []any{},
			"agentInfo":         map[string]any{"name": "fake-agent", "version": "0.0.1"},
		})
	case "session/new":
		a.sessions++
		a.reply(msg.ID, map[string]any{"sessionId": fmt.Sprintf("sess-%d", a.sessions)})
	case "session/prompt":
		var params map[string]any
		_ = json.Unmarshal(msg.Params, &params)
		a.prompts <- params
		sessionID, _ := params["sessionId"].(string)
		switch {
		case a.askPermission:
			a.pendingPromptID, a.pendingSession = msg.ID, sessionID
			a.write(map[string]any{
				"id":     900,
				"method": "session/request_permission",
				"params": map[string]any{
					"sessionId": sessionID,
					"toolCall":  map[string]any{"toolCallId": "tc-1", "title": "Edit main.go", "kind": "edit"},
					"options": []any{
						map[string]any{"optionId": "allow", "name": "Allow", "kind": "allow_once"},
						map[string]any{"optionId": "reject", "name": "Reject", "kind": "reject_once"},
					},
				},
			})
		case a.readFile:
			a.pendingPromptID, a.pendingSession = msg.ID, sessionID
			a.write(map[string]any{
				"id":     901,
				"method": "fs/read_text_file",
				"params": map[string]any{"sessionId": sessionID, "path": "/work/main.go", "line": 2, "limit": 1},
			})
		default:
			a.finishPrompt(msg.ID, sessionID)
		}
	case "session/cancel":
		var params map[string]any
		_ = json.Unmarshal(msg.Params, &params)
		sessionID, _ := params["sessionId"].(string)
		a.cancels <- sessionID
	}
}

func (a *fakeAgent) handleResponse(msg rpcMessage) {
	var id int
	_ = json.Unmarshal(msg.ID, &id)
	switch id {
	case 900:
		var result map[string]any
		_ = json.Unmarshal(msg.Result, &result)
		outcome, _ := result["outcome"].(map[string]any)
		a.outcomes <- outcome
	case 901:
		var result struct {
			Content string `json:"content"`
		}
		_ = json.Unmarshal(msg.Result, &result)
		a.fileReads <- result.Content
	default:
		return
	}
	a.finishPrompt(a.pendingPromptID, a.pendingSession)
}

type routedEvent struct {
	terminalID string
	event      acpclient.AgentEvent
}

// recordingSink captures everything the manager emits.
type recordingSink struct {
	events      chan routedEvent
	permissions chan permission.Request

	mu       sync.Mutex
	installs []installer.Status
	statuses []Status
}

func newRecordingSink() *recordingSink {
	return &recordingSink{
		events:      make(chan routedEvent, 100),
		permissions: make(chan permission.Request, 10),
	}
}

func (s *recordingSink) OnAgentEvent(terminalID string, ev acpclient.AgentEvent) {
	s.events <- routedEvent{terminalID: terminalID, event: ev}
}

func (s *recordingSink) OnPermissionRequest(req permission.Request) {
	s.permissions <- req
}

func (s *recordingSink) OnInstallStatus(st installer.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.installs = append(s.installs, st)
}

func (s *recordingSink) OnStatus(st Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, st)
}

func (s *recordingSink) installPhases() []installer.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]installer.Phase, len(s.installs))
	for i, st := range s.installs {
		out[i] = st.Phase
	}
	return out
}

func (s *recordingSink) lastInstall() installer.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.installs) == 0 {
		return installer.Status{}
	}
	return s.installs[len(s.installs)-1]
}

func nextEvent(t *testing.T, ch <-chan routedEvent) routedEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for agent event")
		return routedEvent{}
	}
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for value")
		var zero T
		return zero
	}
}

// fakeEditorFS records file access routed to terminals.
type fakeEditorFS struct {
	mu    sync.Mutex
	reads []string
}

func (f *fakeEditorFS) ReadFile(_ context.Context, terminalID, path string, line, limit *int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads = append(f.reads, terminalID+":"+path)
	if line == nil || limit == nil {
		return "", errors.New("expected a line window")
	}
	return fmt.Sprintf("line %d (+%d)", *line, *limit), nil
}

func (f *fakeEditorFS) WriteFile(context.Context, string, string, string) error {
	return nil
}

type fakeStrategy struct {
	path     string
	err      error
	progress installer.ProgressFunc
	calls    int
}

func (s *fakeStrategy) Install(context.Context) (*installer.InstallResult, error) {
	s.calls++
	if s.progress != nil {
		s.progress(installer.Status{Phase: installer.PhaseDownloading, Message: "Downloading codex-acp..."})
		s.progress(installer.Status{Phase: installer.PhaseStarting, Message: "Starting AI agent..."})
	}
	if s.err != nil {
		return nil, s.err
	}
	return &installer.InstallResult{BinaryPath: s.path}, nil
}

func (s *fakeStrategy) Name() string { return "fake" }
