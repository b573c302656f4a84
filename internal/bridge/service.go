// Package bridge ties the agent process manager to one actor per open
// terminal. It routes agent events, permission requests and file access to
// the terminal a session is bound to.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"go.uber.org/zap"

	acpclient "github.com/neoai/neoai/internal/agent/acp"
	"github.com/neoai/neoai/internal/agent/installer"
	"github.com/neoai/neoai/internal/agent/process"
	"github.com/neoai/neoai/internal/bridge/session"
	"github.com/neoai/neoai/internal/bridge/terminal"
	"github.com/neoai/neoai/internal/common/config"
	"github.com/neoai/neoai/internal/common/constants"
	"github.com/neoai/neoai/internal/common/logger"
	"github.com/neoai/neoai/internal/editor"
	"github.com/neoai/neoai/internal/events"
	"github.com/neoai/neoai/internal/events/bus"
	"github.com/neoai/neoai/internal/permission"
	"github.com/neoai/neoai/internal/store"
)

// ErrUnknownTerminal is returned for terminals that are not open.
var ErrUnknownTerminal = errors.New("terminal not open")

// AgentManager is the slice of the process manager the service drives.
type AgentManager interface {
	session.AgentPort
	permission.Responder
	Start(ctx context.Context, pathHint string) error
	Stop(ctx context.Context) error
	Status() process.Status
	CreateSession(ctx context.Context, workingDir, terminalID string) (string, error)
	UnbindTerminal(terminalID string)
	RecentStderr() []string
	SetSink(s process.EventSink)
	SetEditorFS(fs process.EditorFS)
}

// Option customizes a Service.
type Option func(*Service)

// WithDialer replaces the neovim dialer.
func WithDialer(d terminal.DialerFactory) Option {
	return func(s *Service) { s.dialer = d }
}

// Service owns the terminal actors.
type Service struct {
	cfg    *config.Config
	agent  AgentManager
	repo   store.Repository
	bus    bus.EventBus
	dialer terminal.DialerFactory
	root   *logger.Logger
	logger *logger.Logger

	mu        sync.RWMutex
	terminals map[string]*terminal.Actor
	active    string
	autoApply bool
}

var (
	_ process.EventSink = (*Service)(nil)
	_ process.EditorFS  = (*Service)(nil)
)

// NewService creates the service and registers it with the agent manager.
func NewService(cfg *config.Config, agent AgentManager, repo store.Repository, eventBus bus.EventBus, log *logger.Logger, opts ...Option) *Service {
	s := &Service{
		cfg:       cfg,
		agent:     agent,
		repo:      repo,
		bus:       eventBus,
		root:      log,
		logger:    log.Component("bridge-service"),
		terminals: make(map[string]*terminal.Actor),
		autoApply: cfg.Bridge.AutoApplyEdits,
	}
	s.dialer = func(o editor.ClientOptions) editor.DialFunc { return editor.NewDialer(o, log) }
	for _, opt := range opts {
		opt(s)
	}
	agent.SetSink(s)
	agent.SetEditorFS(s)
	return s
}

// LoadSettings restores persisted settings. A missing value keeps the
// configured default.
func (s *Service) LoadSettings(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	value, ok, err := s.repo.GetSetting(ctx, store.SettingAutoApplyEdits)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	if !ok {
		return nil
	}
	enabled, err := strconv.ParseBool(value)
	if err != nil {
		s.logger.Warn("ignoring malformed setting", zap.String("key", store.SettingAutoApplyEdits), zap.String("value", value))
		return nil
	}
	s.mu.Lock()
	s.autoApply = enabled
	s.mu.Unlock()
	return nil
}

// ActiveTerminal returns the terminal editor actions are accepted from.
func (s *Service) ActiveTerminal() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Terminal returns the actor for an open terminal.
func (s *Service) Terminal(id string) (*terminal.Actor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.terminals[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTerminal, id)
	}
	return a, nil
}

// Terminals returns the ids of open terminals.
func (s *Service) Terminals() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.terminals))
	for id := range s.terminals {
		out = append(out, id)
	}
	return out
}

func (s *Service) actors() []*terminal.Actor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*terminal.Actor, 0, len(s.terminals))
	for _, a := range s.terminals {
		out = append(out, a)
	}
	return out
}

// OpenTerminal starts an actor for id and restores its transcript. Opening
// an open terminal returns the existing actor. The first terminal opened
// becomes active.
func (s *Service) OpenTerminal(ctx context.Context, id string) (*terminal.Actor, error) {
	if id == "" {
		return nil, errors.New("terminal id is required")
	}
	s.mu.Lock()
	if a, ok := s.terminals[id]; ok {
		s.mu.Unlock()
		return a, nil
	}
	opts := terminal.Options{Editor: s.cfg.Editor, Bridge: s.cfg.Bridge}
	opts.Bridge.AutoApplyEdits = s.autoApply
	deps := terminal.Deps{
		Agent:          s.agent,
		Permissions:    s.agent,
		Dialer:         s.dialer,
		Bus:            s.bus,
		ActiveTerminal: s.ActiveTerminal,
	}
	if s.repo != nil {
		deps.Saver = s.repo
	}
	a := terminal.New(id, deps, opts, s.root)
	s.terminals[id] = a
	if s.active == "" {
		s.active = id
	}
	s.mu.Unlock()

	if s.repo != nil {
		limit := s.cfg.Bridge.TranscriptLimit
		if limit <= 0 {
			limit = constants.TranscriptLoadLimit
		}
		messages, err := s.repo.LoadTranscript(ctx, id, limit)
		if err != nil {
			s.logger.Warn("failed to load transcript", zap.String("terminal_id", id), zap.Error(err))
		} else if err := a.LoadTranscript(ctx, messages); err != nil {
			return a, err
		}
	}
	s.logger.Info("terminal opened", zap.String("terminal_id", id))
	return a, nil
}

// CloseTerminal saves and stops a terminal's actor and unbinds its session.
func (s *Service) CloseTerminal(ctx context.Context, id string) error {
	s.mu.Lock()
	a, ok := s.terminals[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownTerminal, id)
	}
	delete(s.terminals, id)
	if s.active == id {
		s.active = ""
	}
	s.mu.Unlock()

	s.agent.UnbindTerminal(id)
	err := a.Close(ctx)
	s.logger.Info("terminal closed", zap.String("terminal_id", id))
	return err
}

// ActivateTerminal makes id the active terminal. Connect attempts still in
// flight for the previously active terminal are superseded.
func (s *Service) ActivateTerminal(id string) error {
	s.mu.Lock()
	next, ok := s.terminals[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownTerminal, id)
	}
	prev := s.terminals[s.active]
	s.active = id
	s.mu.Unlock()

	if prev != nil && prev != next {
		prev.Supersede()
	}
	return nil
}

// StartAgent starts the agent subprocess. An empty path uses the configured one.
func (s *Service) StartAgent(ctx context.Context, path string) error {
	if path == "" {
		path = s.cfg.Agent.Path
	}
	return s.agent.Start(ctx, path)
}

// StopAgent stops the agent subprocess.
func (s *Service) StopAgent(ctx context.Context) error {
	return s.agent.Stop(ctx)
}

// AgentStatus reports the agent lifecycle state.
func (s *Service) AgentStatus() process.Status {
	return s.agent.Status()
}

// RecentAgentStderr returns the agent's last stderr lines.
func (s *Service) RecentAgentStderr() []string {
	return s.agent.RecentStderr()
}

// CreateSession opens an agent session for a terminal. An empty working
// directory uses the configured one.
func (s *Service) CreateSession(ctx context.Context, terminalID, workingDir string) (string, error) {
	a, err := s.Terminal(terminalID)
	if err != nil {
		return "", err
	}
	if workingDir == "" {
		workingDir = s.cfg.Agent.WorkingDir
	}
	sessionID, err := s.agent.CreateSession(ctx, workingDir, terminalID)
	if err != nil {
		return "", err
	}
	if err := a.BindSession(ctx, sessionID); err != nil {
		return "", err
	}
	return sessionID, nil
}

// SetAutoApply toggles auto-apply everywhere and persists the choice.
func (s *Service) SetAutoApply(ctx context.Context, enabled bool) error {
	s.mu.Lock()
	s.autoApply = enabled
	s.mu.Unlock()
	for _, a := range s.actors() {
		if err := a.SetAutoApply(ctx, enabled); err != nil {
			return err
		}
	}
	if s.repo != nil {
		if err := s.repo.SetSetting(ctx, store.SettingAutoApplyEdits, strconv.FormatBool(enabled)); err != nil {
			return fmt.Errorf("failed to save setting: %w", err)
		}
	}
	return nil
}

// AutoApply reports the current auto-apply setting.
func (s *Service) AutoApply() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.autoApply
}

// Close stops every actor.
func (s *Service) Close(ctx context.Context) {
	s.mu.Lock()
	actors := s.terminals
	s.terminals = make(map[string]*terminal.Actor)
	s.active = ""
	s.mu.Unlock()
	for id, a := range actors {
		if err := a.Close(ctx); err != nil {
			s.logger.Warn("failed to close terminal", zap.String("terminal_id", id), zap.Error(err))
		}
	}
}

// OnAgentEvent implements process.EventSink.
func (s *Service) OnAgentEvent(terminalID string, ev acpclient.AgentEvent) {
	a, err := s.Terminal(terminalID)
	if err != nil {
		s.logger.Debug("dropping agent event for closed terminal",
			zap.String("terminal_id", terminalID), zap.String("type", string(ev.Type)))
		return
	}
	a.HandleAgentEvent(ev)
}

// OnPermissionRequest implements process.EventSink. Requests without a
// bound terminal go to the active one; with no terminal open they are
// cancelled.
func (s *Service) OnPermissionRequest(req permission.Request) {
	id := req.TerminalID
	if id == "" {
		id = s.ActiveTerminal()
	}
	a, err := s.Terminal(id)
	if err != nil {
		s.logger.Warn("no terminal for permission request, cancelling",
			zap.String("request_id", req.RequestID), zap.String("session_id", req.SessionID))
		if err := s.agent.RespondPermission(req.RequestID, nil); err != nil {
			s.logger.Debug("failed to cancel permission request", zap.Error(err))
		}
		return
	}
	a.EnqueuePermission(req)
}

// OnInstallStatus implements process.EventSink.
func (s *Service) OnInstallStatus(st installer.Status) {
	s.publish(events.AgentInstall, st)
}

// OnStatus implements process.EventSink. Leaving the running state
// invalidates every session binding and its pending permissions.
func (s *Service) OnStatus(st process.Status) {
	s.publish(events.AgentStatus, st)
	for _, a := range s.actors() {
		switch st.State {
		case process.StateStarting:
			a.ResetSession("")
		case process.StateRunning:
			note := "Agent ready."
			if st.AgentName != "" {
				name := st.AgentName
				if st.AgentVersion != "" {
					name += " " + st.AgentVersion
				}
				note = "Agent ready (" + name + ")."
			}
			a.AddSystemMessage(session.SystemAgentStatus, note)
		case process.StateStopped:
			a.ResetSession("Agent stopped.")
		case process.StateError:
			a.ResetSession("Agent error: " + st.Message)
		}
	}
}

func (s *Service) publish(subject string, data any) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(context.Background(), subject, bus.NewEvent(subject, bus.SourceService, data)); err != nil {
		s.logger.Debug("failed to publish", zap.String("subject", subject), zap.Error(err))
	}
}

// ReadFile implements process.EditorFS.
func (s *Service) ReadFile(ctx context.Context, terminalID, path string, line, limit *int) (string, error) {
	a, err := s.Terminal(terminalID)
	if err != nil {
		return "", err
	}
	return a.ReadFile(ctx, path, line, limit)
}

// WriteFile implements process.EditorFS.
func (s *Service) WriteFile(ctx context.Context, terminalID, path, content string) error {
	a, err := s.Terminal(terminalID)
	if err != nil {
		return err
	}
	return a.WriteFile(ctx, path, content)
}
