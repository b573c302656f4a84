// Package permission queues agent tool-call permission requests until the
// user answers them.
package permission

import (
	"errors"
	"sync"
)

// ErrUnknownRequest is returned when a response names a request that is not
// pending.
var ErrUnknownRequest = errors.New("unknown permission request")

// Option is one choice offered by a request.
type Option struct {
	OptionID string `json:"optionId"`
	Name     string `json:"name"`
	Kind     string `json:"kind"`
}

// Request is a pending tool-call approval.
type Request struct {
	RequestID  string   `json:"requestId"`
	SessionID  string   `json:"sessionId"`
	TerminalID string   `json:"terminalId,omitempty"`
	ToolCallID string   `json:"toolCallId"`
	Title      string   `json:"title,omitempty"`
	Kind       string   `json:"kind,omitempty"`
	Options    []Option `json:"options"`
}

// HasOption reports whether optionID is one of the request's options.
func (r Request) HasOption(optionID string) bool {
	for _, o := range r.Options {
		if o.OptionID == optionID {
			return true
		}
	}
	return false
}

// Responder delivers a decision to the agent. A nil optionID cancels.
type Responder interface {
	RespondPermission(requestID string, optionID *string) error
}

// Arbiter is a FIFO of pending requests. The head is the request shown to
// the user; Respond may remove any entry.
type Arbiter struct {
	mu        sync.Mutex
	queue     []Request
	responder Responder
}

// NewArbiter creates an empty queue that forwards decisions to responder.
func NewArbiter(responder Responder) *Arbiter {
	return &Arbiter{responder: responder}
}

// Enqueue appends req to the tail.
func (a *Arbiter) Enqueue(req Request) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.queue = append(a.queue, req)
}

// Current returns the head of the queue.
func (a *Arbiter) Current() (Request, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.queue) == 0 {
		return Request{}, false
	}
	return a.queue[0], true
}

// Pending returns a copy of the queue in arrival order.
func (a *Arbiter) Pending() []Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Request, len(a.queue))
	copy(out, a.queue)
	return out
}

// Len returns the number of pending requests.
func (a *Arbiter) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.queue)
}

// Respond forwards the decision for requestID and removes that entry
// wherever it sits. The entry is removed even when forwarding fails, since
// the agent no longer waits on it. An optionID not offered by the request
// is sent as a cancel.
func (a *Arbiter) Respond(requestID string, optionID *string) error {
	a.mu.Lock()
	idx := -1
	for i, r := range a.queue {
		if r.RequestID == requestID {
			idx = i
			break
		}
	}
	if idx < 0 {
		a.mu.Unlock()
		return ErrUnknownRequest
	}
	req := a.queue[idx]
	a.queue = append(a.queue[:idx:idx], a.queue[idx+1:]...)
	a.mu.Unlock()

	if optionID != nil && !req.HasOption(*optionID) {
		optionID = nil
	}
	if a.responder == nil {
		return nil
	}
	return a.responder.RespondPermission(requestID, optionID)
}

// Clear drops every pending request without answering. Used when the agent
// went away and already abandoned the requests.
func (a *Arbiter) Clear() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := len(a.queue)
	a.queue = nil
	return n
}

// CancelAll empties the queue and sends a cancel for every request, so an
// agent still waiting on them can go on. It returns the dropped requests.
// Forwarding errors are ignored: the agent may have withdrawn a request.
func (a *Arbiter) CancelAll() []Request {
	a.mu.Lock()
	dropped := a.queue
	a.queue = nil
	a.mu.Unlock()

	if a.responder != nil {
		for _, r := range dropped {
			_ = a.responder.RespondPermission(r.RequestID, nil)
		}
	}
	return dropped
}
