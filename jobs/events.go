package jobs

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/RaelFilh96/Analise-de-Aderencia/middleware"
)

const (
	EventStarted   = "extraction.started"
	EventCompleted = "extraction.completed"
	EventCancelled = "extraction.cancelled"
	EventFailed    = "extraction.failed"
)

// Event is a job lifecycle notification.
type Event struct {
	ID         string `json:"event_id"`
	Type       string `json:"type"`
	ExtractID  string `json:"extract_id"`
	Status     Status `json:"status"`
	Operations int    `json:"operations"`
	Error      string `json:"error,omitempty"`
	At         string `json:"at"`
}

func newEvent(kind, jobID string, status Status) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      kind,
		ExtractID: jobID,
		Status:    status,
		At:        time.Now().UTC().Format(time.RFC3339),
	}
}

type EventSink interface {
	Publish(ev Event)
}

type NopEvents struct{}

func (NopEvents) Publish(Event) {}

// Sender is the publishing half of a middleware.MessageMiddleware.
type Sender interface {
	Send(message []byte) *middleware.MessageMiddlewareError
}

// BrokerEvents publishes events as JSON through a middleware producer.
// Publishing is best effort: a broker outage never affects a job.
type BrokerEvents struct {
	out Sender
}

func NewBrokerEvents(out Sender) *BrokerEvents {
	return &BrokerEvents{out: out}
}

func (b *BrokerEvents) Publish(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Errorf("Encoding event %s: %v", ev.Type, err)
		return
	}
	if err := b.out.Send(data); err != nil {
		log.Warningf("Publishing %s for %s: %v", ev.Type, ev.ExtractID, err)
	}
}
