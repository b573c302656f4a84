// Package session drives one terminal's chat exchanges with the agent and
// keeps the resulting transcript.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/neoai/neoai/internal/editor"
)

// ErrExchangeInFlight is returned by Submit while an exchange is streaming.
var ErrExchangeInFlight = errors.New("an exchange is already in flight")

// ErrMessageNotFound is returned for unknown message ids.
var ErrMessageNotFound = errors.New("message not found")

// ErrNoProposedEdits is returned when applying a message that carries no edits.
var ErrNoProposedEdits = errors.New("message has no proposed edits")

// Role is the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// EditStatus tracks the review of a message's proposed edits. The empty
// value means the edits have not been looked at yet.
type EditStatus string

const (
	EditPending  EditStatus = "pending"
	EditApplied  EditStatus = "applied"
	EditRejected EditStatus = "rejected"
)

// Resolved reports whether s is a terminal review state.
func (s EditStatus) Resolved() bool {
	return s == EditApplied || s == EditRejected
}

// System message kinds.
const (
	SystemAgentStatus = "agent_status"
	SystemSession     = "session"
	SystemInfo        = "info"
)

// Attachment is a text file the user attached to a message.
type Attachment struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// Message is one transcript entry. Context and Diagnostics are snapshots
// taken at submit time.
type Message struct {
	ID            string              `json:"id"`
	Role          Role                `json:"role"`
	Content       string              `json:"content"`
	Timestamp     time.Time           `json:"timestamp"`
	SystemKind    string              `json:"systemKind,omitempty"`
	Context       *editor.Context     `json:"context,omitempty"`
	Diagnostics   []editor.Diagnostic `json:"diagnostics,omitempty"`
	Attachments   []Attachment        `json:"attachments,omitempty"`
	ProposedEdits []editor.BufferEdit `json:"proposedEdits,omitempty"`
	EditStatus    EditStatus          `json:"editStatus,omitempty"`
	Thought       string              `json:"thought,omitempty"`
}

// Clone returns a deep copy of m.
func (m Message) Clone() Message {
	out := m
	out.Context = m.Context.Clone()
	out.Diagnostics = editor.CloneDiagnostics(m.Diagnostics)
	if m.Attachments != nil {
		out.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	if m.ProposedEdits != nil {
		out.ProposedEdits = make([]editor.BufferEdit, len(m.ProposedEdits))
		for i, e := range m.ProposedEdits {
			e.NewLines = append([]string(nil), e.NewLines...)
			out.ProposedEdits[i] = e
		}
	}
	return out
}

// hasUnresolvedEdits reports whether m carries edits nobody has reviewed.
func (m *Message) hasUnresolvedEdits() bool {
	return m.Role == RoleAssistant && len(m.ProposedEdits) > 0 && !m.EditStatus.Resolved()
}

// ExchangeState is the lifecycle of the current exchange.
type ExchangeState string

const (
	ExchangeIdle      ExchangeState = "idle"
	ExchangeSubmitted ExchangeState = "submitted"
	ExchangeStreaming ExchangeState = "streaming"
	ExchangeDone      ExchangeState = "done"
	ExchangeErrored   ExchangeState = "errored"
)

// InFlight reports whether s rejects a new submission.
func (s ExchangeState) InFlight() bool {
	return s == ExchangeSubmitted || s == ExchangeStreaming
}

// AgentPort is the slice of the agent process manager an exchange needs.
type AgentPort interface {
	SendPrompt(sessionID string, messages []string, contextString string) (string, error)
	Cancel(ctx context.Context, sessionID string) error
}

// EditApplier applies a batch of buffer edits through the editor
// connection. A failure covers the whole batch.
type EditApplier interface {
	ApplyEdits(ctx context.Context, edits []editor.BufferEdit) error
}

// ContextSource supplies the latest editor snapshot.
type ContextSource interface {
	Context() *editor.Context
	Diagnostics() []editor.Diagnostic
}

// Input is one submission.
type Input struct {
	Text        string
	Attachments []Attachment
	// ActionTriggered marks exchanges started from an editor action.
	ActionTriggered bool
}
