package terminal

import (
	"github.com/neoai/neoai/internal/bridge/session"
	"github.com/neoai/neoai/internal/editor"
	"github.com/neoai/neoai/internal/permission"
)

// TranscriptUpdate carries one added or changed message.
type TranscriptUpdate struct {
	TerminalID string          `json:"terminalId"`
	Message    session.Message `json:"message"`
}

// ExchangeUpdate carries an exchange state transition.
type ExchangeUpdate struct {
	TerminalID string                `json:"terminalId"`
	State      session.ExchangeState `json:"state"`
}

// PermissionUpdate announces a queued or resolved permission request.
type PermissionUpdate struct {
	TerminalID string             `json:"terminalId"`
	Request    permission.Request `json:"request"`
	// OptionID is the chosen option of a resolved request; nil means cancelled.
	OptionID *string `json:"optionId,omitempty"`
	Pending  int     `json:"pending"`
}

// EditorUpdate carries the supervisor's derived state.
type EditorUpdate struct {
	TerminalID string        `json:"terminalId"`
	Status     editor.Status `json:"status"`
}
