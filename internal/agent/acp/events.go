// Package acp adapts the Agent Client Protocol SDK to the bridge: it
// implements the client side of the connection and converts session
// notifications into protocol-agnostic agent events.
package acp

import (
	"github.com/coder/acp-go-sdk"
)

// EventType discriminates AgentEvent.
type EventType string

const (
	EventContentChunk    EventType = "content_chunk"
	EventThoughtChunk    EventType = "thought_chunk"
	EventToolCallStarted EventType = "tool_call_started"
	EventToolCallUpdated EventType = "tool_call_updated"
	EventDone            EventType = "done"
	EventError           EventType = "error"
)

// AgentEvent is one item of a session's streaming feed.
type AgentEvent struct {
	Type       EventType `json:"type"`
	SessionID  string    `json:"sessionId"`
	Text       string    `json:"text,omitempty"`
	ToolCallID string    `json:"toolCallId,omitempty"`
	ToolTitle  string    `json:"title,omitempty"`
	ToolKind   string    `json:"kind,omitempty"`
	ToolStatus string    `json:"status,omitempty"`
	StopReason string    `json:"stopReason,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// PermissionOption is one choice offered by a permission request.
type PermissionOption struct {
	OptionID string `json:"optionId"`
	Name     string `json:"name"`
	Kind     string `json:"kind"`
}

// PermissionRequest is an agent request for approval before a tool call.
type PermissionRequest struct {
	SessionID  string             `json:"sessionId"`
	ToolCallID string             `json:"toolCallId"`
	Title      string             `json:"title,omitempty"`
	Kind       string             `json:"kind,omitempty"`
	Options    []PermissionOption `json:"options"`
}

// PermissionResponse is the user's decision. Cancelled means no option was chosen.
type PermissionResponse struct {
	OptionID  string
	Cancelled bool
}

// ConvertNotification maps a session/update notification to an AgentEvent.
// Updates the bridge does not consume return nil.
func ConvertNotification(n acp.SessionNotification) *AgentEvent {
	u := n.Update
	sessionID := string(n.SessionId)

	switch {
	case u.AgentMessageChunk != nil:
		if u.AgentMessageChunk.Content.Text != nil {
			return &AgentEvent{
				Type:      EventContentChunk,
				SessionID: sessionID,
				Text:      u.AgentMessageChunk.Content.Text.Text,
			}
		}

	case u.AgentThoughtChunk != nil:
		if u.AgentThoughtChunk.Content.Text != nil {
			return &AgentEvent{
				Type:      EventThoughtChunk,
				SessionID: sessionID,
				Text:      u.AgentThoughtChunk.Content.Text.Text,
			}
		}

	case u.ToolCall != nil:
		status := string(u.ToolCall.Status)
		if status == "" {
			status = "pending"
		}
		return &AgentEvent{
			Type:       EventToolCallStarted,
			SessionID:  sessionID,
			ToolCallID: string(u.ToolCall.ToolCallId),
			ToolTitle:  u.ToolCall.Title,
			ToolKind:   string(u.ToolCall.Kind),
			ToolStatus: status,
		}

	case u.ToolCallUpdate != nil:
		status := ""
		if u.ToolCallUpdate.Status != nil {
			status = string(*u.ToolCallUpdate.Status)
		}
		return &AgentEvent{
			Type:       EventToolCallUpdated,
			SessionID:  sessionID,
			ToolCallID: string(u.ToolCallUpdate.ToolCallId),
			ToolStatus: status,
		}
	}

	return nil
}

// DoneEvent reports the end of a prompt turn.
func DoneEvent(sessionID, stopReason string) AgentEvent {
	return AgentEvent{Type: EventDone, SessionID: sessionID, StopReason: stopReason}
}

// ErrorEvent reports a failed prompt turn.
func ErrorEvent(sessionID, message string) AgentEvent {
	return AgentEvent{Type: EventError, SessionID: sessionID, Error: message}
}
