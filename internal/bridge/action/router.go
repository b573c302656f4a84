// Package action filters editor-triggered actions and turns accepted ones
// into agent prompts.
package action

import (
	"errors"
	"time"

	"golang.org/x/time/rate"

	"github.com/neoai/neoai/internal/editor"
)

// Reasons an action is dropped.
var (
	ErrInactiveTerminal = errors.New("action from inactive terminal")
	ErrExchangeBusy     = errors.New("exchange already streaming")
	ErrRateLimited      = errors.New("too many actions")
)

// Request is an accepted action ready to submit as an exchange.
type Request struct {
	Kind   editor.ActionKind
	Prompt string
	// ActionTriggered marks the exchange eligible for auto-apply.
	ActionTriggered bool
}

// Router decides whether one terminal's editor actions become exchanges.
// It is owned by the terminal's actor and is not safe for concurrent use.
type Router struct {
	terminalID string
	limiter    *rate.Limiter
	now        func() time.Time
}

// NewRouter creates a router for terminalID that admits at most burst
// actions at once, refilled at perSecond.
func NewRouter(terminalID string, perSecond float64, burst int) *Router {
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &Router{
		terminalID: terminalID,
		limiter:    rate.NewLimiter(limit, burst),
		now:        time.Now,
	}
}

// Route accepts ev when it comes from the active terminal and no exchange
// is streaming, and synthesizes its prompt.
func (r *Router) Route(ev editor.ActionEvent, activeTerminalID string, streaming bool) (Request, error) {
	if ev.TerminalID != r.terminalID || ev.TerminalID != activeTerminalID {
		return Request{}, ErrInactiveTerminal
	}
	if streaming {
		return Request{}, ErrExchangeBusy
	}
	if !r.limiter.AllowN(r.now(), 1) {
		return Request{}, ErrRateLimited
	}
	return Request{
		Kind:            ev.Action.Kind,
		Prompt:          BuildPrompt(ev.Action),
		ActionTriggered: true,
	}, nil
}
