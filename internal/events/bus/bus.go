// Package bus carries bridge events from terminal actors and the service
// to the UI gateway, in process or over NATS.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event sources.
const (
	SourceTerminal = "terminal-actor"
	SourceService  = "bridge-service"
)

// Event is one message on the bus. For terminal events Type is the event
// kind (for example "transcript.updated"); broadcast events use their subject.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// NewEvent creates an event with a fresh id and the current UTC time.
func NewEvent(eventType, source string, data any) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// DecodeData fills v from the event payload. In-process events carry the
// publisher's value, events received over NATS carry decoded JSON; both
// go through a JSON round trip so callers see one shape.
func (e *Event) DecodeData(v any) error {
	if e.Data == nil {
		return nil
	}
	raw, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("encode event data: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode event data: %w", err)
	}
	return nil
}

// EventHandler handles one event. Returned errors are logged by the bus.
type EventHandler func(ctx context.Context, event *Event) error

// Subscription is an active subscription.
type Subscription interface {
	Unsubscribe() error
	IsValid() bool
}

// EventBus publishes events on subjects and fans them out to subscribers.
// Subjects are dot separated; "*" matches one token and ">" the rest.
type EventBus interface {
	Publish(ctx context.Context, subject string, event *Event) error

	// Subscribe delivers events matching subject to handler, in publish order.
	Subscribe(subject string, handler EventHandler) (Subscription, error)

	Close()
	IsConnected() bool
}
