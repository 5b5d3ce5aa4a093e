package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/openmatka/engine/internal/events"
)

// Event is the wire shape pushed to websocket clients.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

func newEvent(eventType string, payload any) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}, nil
}

// fromEnvelope converts a bus envelope into the client wire shape,
// preserving the original event id so client-side dedup keeps working
// across reconnects.
func fromEnvelope(env events.Envelope) *Event {
	return &Event{
		ID:        env.EventID,
		Type:      env.EventType,
		Timestamp: env.Timestamp,
		Data:      env.Payload,
	}
}
