// Package trace keeps a bounded ring of diagnostic breadcrumbs per terminal.
// Trace events are observability only; nothing reads them for correctness.
package trace

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/neoai/neoai/internal/common/stringutil"
)

// Stages recorded by the bridge.
const (
	StageConnectAttempt  = "connect.attempt"
	StageConnectRetry    = "connect.retry"
	StageConnectOK       = "connect.ok"
	StageConnectFailed   = "connect.failed"
	StageConnectStale    = "connect.stale"
	StageHealthProbe     = "health.probe"
	StageRefreshError    = "refresh.error"
	StageActionAccepted  = "action.accepted"
	StageActionDropped   = "action.dropped"
	StageExchangeSubmit  = "exchange.submit"
	StageExchangeDone    = "exchange.done"
	StageExchangeError   = "exchange.error"
	StageExchangeTool    = "exchange.tool_call"
	StageExchangeStale   = "exchange.stale_event"
	StageAutoApplyOK     = "autoapply.applied"
	StageAutoApplyFailed = "autoapply.failed"
	StageAutoApplySkip   = "autoapply.skipped"
)

// MaxDetailLen bounds the detail text of a single event.
const MaxDetailLen = 512

// Event is one breadcrumb.
type Event struct {
	ID         string    `json:"id"`
	TerminalID string    `json:"terminalId"`
	Timestamp  time.Time `json:"timestamp"`
	Stage      string    `json:"stage"`
	Detail     string    `json:"detail,omitempty"`
}

// Ring holds the most recent events up to its capacity.
type Ring struct {
	mu       sync.Mutex
	buf      []Event
	next     int
	full     bool
	now      func() time.Time
	onRecord func(Event)
}

// NewRing creates a ring of the given capacity. onRecord, if set, sees
// every event as it is recorded.
func NewRing(capacity int, onRecord func(Event)) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring{buf: make([]Event, capacity), now: time.Now, onRecord: onRecord}
}

// Record appends an event, evicting the oldest when full.
func (r *Ring) Record(terminalID, stage, detail string) Event {
	now := r.now()
	ev := Event{
		ID:         ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		TerminalID: terminalID,
		Timestamp:  now,
		Stage:      stage,
		Detail:     stringutil.TruncateStringWithEllipsis(detail, MaxDetailLen),
	}

	r.mu.Lock()
	r.buf[r.next] = ev
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
	hook := r.onRecord
	r.mu.Unlock()

	if hook != nil {
		hook(ev)
	}
	return ev
}

// Events returns the retained events, oldest first.
func (r *Ring) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		out := make([]Event, r.next)
		copy(out, r.buf[:r.next])
		return out
	}
	out := make([]Event, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	return append(out, r.buf[:r.next]...)
}

// Len returns the number of retained events.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return len(r.buf)
	}
	return r.next
}
