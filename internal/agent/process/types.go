// Package process owns the shared agent subprocess: spawn (with managed
// install), the ACP handshake, session bindings, prompt submission and
// pending permission decisions.
package process

import (
	"context"
	"errors"

	acpclient "github.com/neoai/neoai/internal/agent/acp"
	"github.com/neoai/neoai/internal/agent/installer"
	"github.com/neoai/neoai/internal/permission"
)

var (
	// ErrAlreadyStarting is returned by Start while another start is in flight.
	ErrAlreadyStarting = errors.New("agent is already starting")
	// ErrAlreadyRunning is returned by Start while the agent is running.
	ErrAlreadyRunning = errors.New("agent already running, stop it first")
	// ErrNotRunning is returned by operations that need a running agent.
	ErrNotRunning = errors.New("no agent running")
	// ErrNoActiveSession is returned when a prompt has no session to go to.
	ErrNoActiveSession = errors.New("no active session")
	// ErrStartSuperseded is returned by a Start that was overtaken by Stop.
	// A process that dies during the handshake is an *AgentError instead.
	ErrStartSuperseded = errors.New("agent start superseded")
)

// AgentError is a subprocess failure surfaced as agent status. Err, when
// set, is the underlying cause (for instance an *installer.InstallError).
type AgentError struct {
	Message string
	Err     error
}

func (e *AgentError) Error() string { return e.Message }

func (e *AgentError) Unwrap() error { return e.Err }

// State is the lifecycle state of the agent process.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateError    State = "error"
)

// Status is a point-in-time view of the agent.
type Status struct {
	State        State  `json:"state"`
	Message      string `json:"message,omitempty"`
	Pid          int    `json:"pid,omitempty"`
	AgentName    string `json:"agentName,omitempty"`
	AgentVersion string `json:"agentVersion,omitempty"`
}

// EventSink receives everything the agent pushes. terminalID is empty when
// the session has no bound terminal.
type EventSink interface {
	OnAgentEvent(terminalID string, ev acpclient.AgentEvent)
	OnPermissionRequest(req permission.Request)
	OnInstallStatus(st installer.Status)
	OnStatus(st Status)
}

// EditorFS serves agent file access through a terminal's editor.
type EditorFS interface {
	ReadFile(ctx context.Context, terminalID, path string, line, limit *int) (string, error)
	WriteFile(ctx context.Context, terminalID, path, content string) error
}

type nopSink struct{}

func (nopSink) OnAgentEvent(string, acpclient.AgentEvent) {}
func (nopSink) OnPermissionRequest(permission.Request)    {}
func (nopSink) OnInstallStatus(installer.Status)          {}
func (nopSink) OnStatus(Status)                           {}
