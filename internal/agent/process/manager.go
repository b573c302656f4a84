package process

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/acp-go-sdk"
	"github.com/google/uuid"
	"go.uber.org/zap"

	acpclient "github.com/neoai/neoai/internal/agent/acp"
	"github.com/neoai/neoai/internal/agent/installer"
	"github.com/neoai/neoai/internal/common/constants"
	"github.com/neoai/neoai/internal/common/logger"
	"github.com/neoai/neoai/internal/common/stringutil"
	"github.com/neoai/neoai/internal/permission"
	"github.com/neoai/neoai/internal/tracing"
)

// defaultStderrBufferSize is the number of recent stderr lines kept for error context.
const defaultStderrBufferSize = 50

// maxStderrLineLen bounds a single kept stderr line.
const maxStderrLineLen = 500

var ansiEscapeRegex = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// StrategyFactory builds the installer used when the managed agent is missing.
type StrategyFactory func(progress installer.ProgressFunc) (installer.Strategy, error)

// Config holds manager settings.
type Config struct {
	DefaultPath     string
	WorkingDir      string
	InstallDir      string
	StartTimeout    time.Duration
	StopTimeout     time.Duration
	SessionTimeout  time.Duration
	DownloadTimeout time.Duration
	ClientName      string
	ClientVersion   string
}

func (c *Config) applyDefaults() {
	if c.DefaultPath == "" {
		c.DefaultPath = installer.CodexBinaryName(runtime.GOOS)
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = constants.AgentStartTimeout
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = constants.AgentStopTimeout
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = constants.AgentSessionTimeout
	}
	if c.ClientName == "" {
		c.ClientName = "neoai"
	}
	if c.ClientVersion == "" {
		c.ClientVersion = "0.1.0"
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithSpawner replaces the OS process spawner.
func WithSpawner(s Spawner) Option {
	return func(m *Manager) { m.spawner = s }
}

// WithStrategyFactory replaces the managed installer.
func WithStrategyFactory(f StrategyFactory) Option {
	return func(m *Manager) { m.newStrategy = f }
}

// pendingPermission is a permission request waiting for the user.
type pendingPermission struct {
	ID         string
	SessionID  string
	ResponseCh chan *acpclient.PermissionResponse
	CreatedAt  time.Time
}

// Manager owns the single agent subprocess shared by all terminals.
type Manager struct {
	cfg         Config
	logger      *logger.Logger
	spawner     Spawner
	newStrategy StrategyFactory

	hookMu   sync.RWMutex
	sink     EventSink
	editorFS EditorFS

	// Process state, guarded by mu. gen advances on every start and stop
	// so late results from an older process are dropped.
	mu       sync.Mutex
	status   Status
	gen      uint64
	proc     Process
	conn     *acp.ClientSideConnection
	exited   chan struct{}
	bindings map[string]string // session id -> terminal id

	// crashGen and crashMsg record the last generation whose process died
	// on its own, so a start overtaken by that exit reports the crash.
	crashGen uint64
	crashMsg string

	stderrBuffer []string
	stderrMu     sync.RWMutex

	pendingPermissions map[string]*pendingPermission
	permissionMu       sync.Mutex
	permissionSeq      atomic.Uint64
}

// NewManager creates a stopped manager.
func NewManager(cfg Config, log *logger.Logger, opts ...Option) *Manager {
	cfg.applyDefaults()
	m := &Manager{
		cfg:                cfg,
		logger:             log.Component("agent-manager"),
		spawner:            ExecSpawner,
		sink:               nopSink{},
		status:             Status{State: StateStopped},
		bindings:           make(map[string]string),
		pendingPermissions: make(map[string]*pendingPermission),
	}
	m.newStrategy = func(progress installer.ProgressFunc) (installer.Strategy, error) {
		return installer.NewCodexStrategy(m.cfg.InstallDir, log,
			installer.WithDownloadTimeout(m.cfg.DownloadTimeout),
			installer.WithProgress(progress))
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetSink sets the receiver of agent events. Nil restores the no-op sink.
func (m *Manager) SetSink(s EventSink) {
	if s == nil {
		s = nopSink{}
	}
	m.hookMu.Lock()
	m.sink = s
	m.hookMu.Unlock()
}

// SetEditorFS sets the editor backend for agent file access.
func (m *Manager) SetEditorFS(fs EditorFS) {
	m.hookMu.Lock()
	m.editorFS = fs
	m.hookMu.Unlock()
}

func (m *Manager) getSink() EventSink {
	m.hookMu.RLock()
	defer m.hookMu.RUnlock()
	return m.sink
}

// Status returns the current agent status, reconciled with the process.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.status
	if st.State == StateRunning && m.exited != nil {
		select {
		case <-m.exited:
			st = Status{State: StateError, Message: "Agent process exited"}
		default:
		}
	}
	return st
}

func (m *Manager) isCurrent(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen == gen
}

func (m *Manager) setStatus(gen uint64, st Status) bool {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return false
	}
	m.status = st
	m.mu.Unlock()
	m.getSink().OnStatus(st)
	return true
}

func (m *Manager) emitInstall(phase installer.Phase, message string) {
	m.getSink().OnInstallStatus(installer.Status{Phase: phase, Message: message, Version: installer.CodexVersion})
}

// Start spawns the agent at pathHint (or the configured default), installing
// the managed agent if it is missing, and performs the ACP handshake.
func (m *Manager) Start(ctx context.Context, pathHint string) error {
	m.mu.Lock()
	switch m.status.State {
	case StateStarting:
		m.mu.Unlock()
		return ErrAlreadyStarting
	case StateRunning:
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	m.gen++
	gen := m.gen
	m.status = Status{State: StateStarting, Message: "Starting AI agent..."}
	m.bindings = make(map[string]string)
	st := m.status
	m.mu.Unlock()

	m.cancelPendingPermissions()
	m.getSink().OnStatus(st)

	path := strings.TrimSpace(pathHint)
	if path == "" {
		path = m.cfg.DefaultPath
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.StartTimeout)
	defer cancel()
	ctx, span := tracing.TraceAgentStart(ctx, path)
	defer span.End()

	err := m.start(ctx, gen, path)
	tracing.TraceResult(span, err)
	return err
}

func (m *Manager) start(ctx context.Context, gen uint64, path string) error {
	m.emitInstall(installer.PhaseStarting, "Starting AI agent...")
	m.logger.Info("starting agent", zap.String("path", path), zap.String("workdir", m.cfg.WorkingDir))

	proc, err := m.spawnAgent(ctx, path)
	if err != nil {
		m.fail(gen, err.Error())
		return &AgentError{Message: err.Error(), Err: err}
	}

	m.clearStderr()
	exited := make(chan struct{})
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		_ = proc.Kill()
		return ErrStartSuperseded
	}
	m.proc = proc
	m.exited = exited
	m.mu.Unlock()

	go m.readStderr(proc)
	go m.waitForExit(gen, proc, exited)

	client := acpclient.NewClient(
		acpclient.WithLogger(m.logger.Zap()),
		acpclient.WithUpdateHandler(m.updateHandler(gen)),
		acpclient.WithPermissionHandler(m.permissionHandler(gen)),
		acpclient.WithFileSystem(m),
	)
	conn := acp.NewClientSideConnection(client, proc.Stdin(), proc.Stdout())
	conn.SetLogger(slog.Default().With("component", "acp-conn"))

	resp, err := conn.Initialize(ctx, acp.InitializeRequest{
		ProtocolVersion: acp.ProtocolVersionNumber,
		ClientInfo: &acp.Implementation{
			Name:    m.cfg.ClientName,
			Version: m.cfg.ClientVersion,
		},
		ClientCapabilities: acpclient.Capabilities(),
	})
	if err != nil {
		if !m.isCurrent(gen) {
			_ = proc.Kill()
			return m.startAborted(gen)
		}
		msg := fmt.Sprintf("ACP initialize failed: %v", err)
		m.emitInstall(installer.PhaseError, msg)
		m.teardown(gen, proc)
		m.fail(gen, msg)
		return &AgentError{Message: msg, Err: err}
	}

	st := Status{State: StateRunning, Pid: proc.Pid(), AgentName: "unknown", AgentVersion: "unknown"}
	if resp.AgentInfo != nil {
		st.AgentName = resp.AgentInfo.Name
		st.AgentVersion = resp.AgentInfo.Version
	}

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		_ = proc.Kill()
		return m.startAborted(gen)
	}
	m.conn = conn
	m.status = st
	m.mu.Unlock()

	m.logger.Info("agent ready",
		zap.Int("pid", st.Pid),
		zap.String("agent_name", st.AgentName),
		zap.String("agent_version", st.AgentVersion))
	m.emitInstall(installer.PhaseDone, "AI agent is ready.")
	m.getSink().OnStatus(st)
	return nil
}

// startAborted explains why the start of gen can no longer finish: its
// process exited during the handshake, or Stop overtook it.
func (m *Manager) startAborted(gen uint64) error {
	m.mu.Lock()
	crashed := m.crashGen == gen
	msg := m.crashMsg
	m.mu.Unlock()
	if !crashed {
		return ErrStartSuperseded
	}
	m.emitInstall(installer.PhaseError, msg)
	return &AgentError{Message: msg}
}

// spawnAgent spawns path, installing the managed agent first when path is
// the default agent and the binary is missing.
func (m *Manager) spawnAgent(ctx context.Context, path string) (Process, error) {
	proc, err := m.spawner(path, m.cfg.WorkingDir)
	if err == nil {
		return proc, nil
	}
	if !isNotFound(err) || !installer.IsManagedAgentPath(path) {
		return nil, fmt.Errorf("Failed to spawn agent '%s': %w", path, err)
	}

	m.logger.Info("managed agent not found, installing", zap.String("path", path))
	strategy, err := m.newStrategy(func(st installer.Status) { m.getSink().OnInstallStatus(st) })
	if err == nil {
		path, err = installer.ResolveBinary(ctx, path, nil, strategy, m.logger)
	}
	if err != nil {
		err = fmt.Errorf("Failed to prepare managed codex-acp for neoai: %w. Install manually from %s", err, installer.CodexReleasesURL)
		m.emitInstall(installer.PhaseError, err.Error())
		return nil, err
	}

	proc, err = m.spawner(path, m.cfg.WorkingDir)
	if err != nil {
		err = fmt.Errorf("Installed codex-acp at '%s' but failed to spawn it: %w. Install manually from %s", path, err, installer.CodexReleasesURL)
		m.emitInstall(installer.PhaseError, err.Error())
		return nil, err
	}
	return proc, nil
}

func (m *Manager) fail(gen uint64, msg string) {
	m.logger.Error("agent start failed", zap.String("error", msg))
	m.setStatus(gen, Status{State: StateError, Message: msg})
}

// teardown kills proc if it is still the current process.
func (m *Manager) teardown(gen uint64, proc Process) {
	m.mu.Lock()
	if m.gen == gen && m.proc == proc {
		m.proc = nil
		m.exited = nil
	}
	m.mu.Unlock()
	_ = proc.Stdin().Close()
	_ = proc.Kill()
}

// Stop shuts the agent down. Local state is reset even if the process
// cannot be stopped cleanly.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	m.gen++
	proc := m.proc
	exited := m.exited
	m.proc = nil
	m.conn = nil
	m.exited = nil
	m.bindings = make(map[string]string)
	m.status = Status{State: StateStopped}
	st := m.status
	m.mu.Unlock()

	m.cancelPendingPermissions()
	m.getSink().OnStatus(st)

	if proc == nil {
		return nil
	}
	m.logger.Info("stopping agent", zap.Int("pid", proc.Pid()))

	// Closing stdin lets ACP agents exit on their own.
	_ = proc.Stdin().Close()

	timer := time.NewTimer(m.cfg.StopTimeout)
	defer timer.Stop()
	select {
	case <-exited:
		return nil
	case <-timer.C:
		m.logger.Warn("agent did not exit in time, killing process group")
	case <-ctx.Done():
	}
	if err := proc.Kill(); err != nil {
		return fmt.Errorf("failed to kill agent: %w", err)
	}
	return nil
}

// CreateSession opens an ACP session rooted at workingDir and binds it to
// terminalID, replacing the terminal's previous session.
func (m *Manager) CreateSession(ctx context.Context, workingDir, terminalID string) (string, error) {
	m.mu.Lock()
	conn := m.conn
	running := m.status.State == StateRunning
	m.mu.Unlock()
	if !running || conn == nil {
		return "", ErrNotRunning
	}

	if workingDir == "" {
		workingDir = m.cfg.WorkingDir
	}
	cwd, err := filepath.Abs(workingDir)
	if err != nil {
		return "", fmt.Errorf("invalid working directory: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.SessionTimeout)
	defer cancel()
	resp, err := conn.NewSession(ctx, acp.NewSessionRequest{
		Cwd:        cwd,
		McpServers: []acp.McpServer{},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	sessionID := string(resp.SessionId)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != conn {
		return "", ErrNotRunning
	}
	for sid, tid := range m.bindings {
		if tid == terminalID {
			delete(m.bindings, sid)
		}
	}
	m.bindings[sessionID] = terminalID
	m.logger.Info("created session", zap.String("session_id", sessionID), zap.String("terminal_id", terminalID))
	return sessionID, nil
}

// TerminalFor returns the terminal bound to sessionID.
func (m *Manager) TerminalFor(sessionID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tid, ok := m.bindings[sessionID]
	return tid, ok
}

// UnbindTerminal drops every session bound to terminalID.
func (m *Manager) UnbindTerminal(terminalID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for sid, tid := range m.bindings {
		if tid == terminalID {
			delete(m.bindings, sid)
		}
	}
}

// SendPrompt submits messages to sessionID, preceded by contextString when
// set. It returns at once; completion arrives as a done or error event.
func (m *Manager) SendPrompt(sessionID string, messages []string, contextString string) (string, error) {
	if sessionID == "" {
		return "", ErrNoActiveSession
	}
	m.mu.Lock()
	conn := m.conn
	gen := m.gen
	_, bound := m.bindings[sessionID]
	m.mu.Unlock()
	if !bound || conn == nil {
		return "", ErrNoActiveSession
	}

	blocks := make([]acp.ContentBlock, 0, len(messages)+1)
	if contextString != "" {
		blocks = append(blocks, acp.TextBlock(contextString))
	}
	for _, msg := range messages {
		blocks = append(blocks, acp.TextBlock(msg))
	}
	if len(blocks) == 0 {
		return "", fmt.Errorf("prompt is empty")
	}

	promptID := uuid.New().String()
	go m.runPrompt(gen, conn, sessionID, promptID, blocks)
	return promptID, nil
}

func (m *Manager) runPrompt(gen uint64, conn *acp.ClientSideConnection, sessionID, promptID string, blocks []acp.ContentBlock) {
	ctx, span := tracing.TracePrompt(context.Background(), sessionID, promptID, len(blocks))
	defer span.End()

	m.logger.Info("sending prompt", zap.String("session_id", sessionID), zap.String("prompt_id", promptID))
	resp, err := conn.Prompt(ctx, acp.PromptRequest{
		SessionId: acp.SessionId(sessionID),
		Prompt:    blocks,
	})
	tracing.TraceResult(span, err)

	var ev acpclient.AgentEvent
	if err != nil {
		m.logger.Warn("prompt failed", zap.String("session_id", sessionID), zap.Error(err))
		ev = acpclient.ErrorEvent(sessionID, fmt.Sprintf("Prompt failed: %v", err))
	} else {
		ev = acpclient.DoneEvent(sessionID, string(resp.StopReason))
	}
	m.emitAgentEvent(gen, ev)
}

// Cancel asks the agent to stop the current turn of sessionID.
func (m *Manager) Cancel(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return ErrNotRunning
	}
	m.logger.Info("cancelling session", zap.String("session_id", sessionID))
	return conn.Cancel(ctx, acp.CancelNotification{SessionId: acp.SessionId(sessionID)})
}

func (m *Manager) emitAgentEvent(gen uint64, ev acpclient.AgentEvent) {
	m.mu.Lock()
	current := m.gen == gen
	terminalID := m.bindings[ev.SessionID]
	m.mu.Unlock()
	if !current {
		return
	}
	m.getSink().OnAgentEvent(terminalID, ev)
}

func (m *Manager) updateHandler(gen uint64) acpclient.UpdateHandler {
	return func(n acp.SessionNotification) {
		if ev := acpclient.ConvertNotification(n); ev != nil {
			m.emitAgentEvent(gen, *ev)
		}
	}
}

func (m *Manager) permissionHandler(gen uint64) acpclient.PermissionHandler {
	return func(ctx context.Context, req *acpclient.PermissionRequest) (*acpclient.PermissionResponse, error) {
		pendingID := fmt.Sprintf("perm-%d", m.permissionSeq.Add(1))
		pending := &pendingPermission{
			ID:         pendingID,
			SessionID:  req.SessionID,
			ResponseCh: make(chan *acpclient.PermissionResponse, 1),
			CreatedAt:  time.Now(),
		}

		m.mu.Lock()
		current := m.gen == gen
		terminalID := m.bindings[req.SessionID]
		m.mu.Unlock()
		if !current {
			return &acpclient.PermissionResponse{Cancelled: true}, nil
		}

		m.permissionMu.Lock()
		m.pendingPermissions[pendingID] = pending
		m.permissionMu.Unlock()
		defer func() {
			m.permissionMu.Lock()
			delete(m.pendingPermissions, pendingID)
			m.permissionMu.Unlock()
		}()

		out := permission.Request{
			RequestID:  pendingID,
			SessionID:  req.SessionID,
			TerminalID: terminalID,
			ToolCallID: req.ToolCallID,
			Title:      req.Title,
			Kind:       req.Kind,
			Options:    make([]permission.Option, len(req.Options)),
		}
		for i, o := range req.Options {
			out.Options[i] = permission.Option{OptionID: o.OptionID, Name: o.Name, Kind: o.Kind}
		}
		m.logger.Info("permission requested",
			zap.String("pending_id", pendingID),
			zap.String("session_id", req.SessionID),
			zap.String("tool_call_id", req.ToolCallID))
		m.getSink().OnPermissionRequest(out)

		// No timeout: the request stays open until answered or the agent goes away.
		select {
		case resp := <-pending.ResponseCh:
			return resp, nil
		case <-ctx.Done():
			m.logger.Warn("permission request context cancelled", zap.String("pending_id", pendingID))
			return &acpclient.PermissionResponse{Cancelled: true}, nil
		}
	}
}

// RespondPermission answers a pending request. A nil optionID cancels it.
func (m *Manager) RespondPermission(requestID string, optionID *string) error {
	m.permissionMu.Lock()
	pending, ok := m.pendingPermissions[requestID]
	delete(m.pendingPermissions, requestID)
	m.permissionMu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", permission.ErrUnknownRequest, requestID)
	}

	resp := &acpclient.PermissionResponse{Cancelled: true}
	if optionID != nil {
		resp = &acpclient.PermissionResponse{OptionID: *optionID}
	}
	m.logger.Info("responding to permission request",
		zap.String("pending_id", requestID),
		zap.String("option_id", resp.OptionID),
		zap.Bool("cancelled", resp.Cancelled))

	select {
	case pending.ResponseCh <- resp:
	default:
	}
	return nil
}

func (m *Manager) cancelPendingPermissions() {
	m.permissionMu.Lock()
	defer m.permissionMu.Unlock()
	for id, pending := range m.pendingPermissions {
		select {
		case pending.ResponseCh <- &acpclient.PermissionResponse{Cancelled: true}:
		default:
		}
		delete(m.pendingPermissions, id)
	}
}

// ReadTextFile implements acpclient.FileSystem through the session's editor.
func (m *Manager) ReadTextFile(ctx context.Context, sessionID, path string, line, limit *int) (string, error) {
	terminalID, fs, err := m.fsFor(sessionID)
	if err != nil {
		return "", err
	}
	return fs.ReadFile(ctx, terminalID, path, line, limit)
}

// WriteTextFile implements acpclient.FileSystem through the session's editor.
func (m *Manager) WriteTextFile(ctx context.Context, sessionID, path, content string) error {
	terminalID, fs, err := m.fsFor(sessionID)
	if err != nil {
		return err
	}
	return fs.WriteFile(ctx, terminalID, path, content)
}

func (m *Manager) fsFor(sessionID string) (string, EditorFS, error) {
	terminalID, ok := m.TerminalFor(sessionID)
	if !ok {
		return "", nil, fmt.Errorf("session %s is not bound to a terminal", sessionID)
	}
	m.hookMu.RLock()
	fs := m.editorFS
	m.hookMu.RUnlock()
	if fs == nil {
		return "", nil, fmt.Errorf("no editor available for file access")
	}
	return terminalID, fs, nil
}

func (m *Manager) readStderr(proc Process) {
	scanner := bufio.NewScanner(proc.Stderr())
	for scanner.Scan() {
		line := scanner.Text()
		m.logger.Debug("agent stderr", zap.String("line", line))
		m.appendStderr(line)
	}
	if err := scanner.Err(); err != nil {
		m.logger.Debug("stderr reader error", zap.Error(err))
	}
}

func (m *Manager) appendStderr(line string) {
	line = strings.TrimSpace(ansiEscapeRegex.ReplaceAllString(line, ""))
	if line == "" {
		return
	}
	m.stderrMu.Lock()
	defer m.stderrMu.Unlock()
	m.stderrBuffer = append(m.stderrBuffer, stringutil.TruncateStringWithEllipsis(line, maxStderrLineLen))
	if len(m.stderrBuffer) > defaultStderrBufferSize {
		m.stderrBuffer = m.stderrBuffer[len(m.stderrBuffer)-defaultStderrBufferSize:]
	}
}

// RecentStderr returns the last stderr lines of the agent.
func (m *Manager) RecentStderr() []string {
	m.stderrMu.RLock()
	defer m.stderrMu.RUnlock()
	out := make([]string, len(m.stderrBuffer))
	copy(out, m.stderrBuffer)
	return out
}

func (m *Manager) clearStderr() {
	m.stderrMu.Lock()
	m.stderrBuffer = nil
	m.stderrMu.Unlock()
}

// waitForExit turns an unexpected exit of the current process into an
// error status and an error event for every bound session.
func (m *Manager) waitForExit(gen uint64, proc Process, exited chan struct{}) {
	err := proc.Wait()
	close(exited)

	code := 0
	if err != nil {
		code = exitCode(err)
	}
	recentStderr := m.RecentStderr()

	m.mu.Lock()
	if m.gen != gen || m.proc != proc {
		m.mu.Unlock()
		m.logger.Debug("agent process exited after stop", zap.Int("exit_code", code))
		return
	}
	msg := fmt.Sprintf("Agent process exited with code %d", code)
	if len(recentStderr) > 0 {
		msg = fmt.Sprintf("%s: %s", msg, strings.Join(recentStderr, "; "))
	}
	m.crashGen, m.crashMsg = gen, msg
	m.gen++
	sessions := m.bindings
	m.bindings = make(map[string]string)
	m.proc = nil
	m.conn = nil
	m.exited = nil
	m.status = Status{State: StateError, Message: msg}
	st := m.status
	m.mu.Unlock()

	m.logger.Error("agent process exited",
		zap.Error(err),
		zap.Int("exit_code", code),
		zap.Strings("recent_stderr", recentStderr))

	m.cancelPendingPermissions()
	sink := m.getSink()
	sink.OnStatus(st)
	for sessionID, terminalID := range sessions {
		sink.OnAgentEvent(terminalID, acpclient.ErrorEvent(sessionID, msg))
	}
}
