package events

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Event type names shared by the engine, the bus and the gateway.
const (
	TypeRoundStarted    = "round-started"
	TypeTimer           = "timer"
	TypePreview         = "preview"
	TypeResult          = "result"
	TypePersonalOutcome = "personal-outcome"
)

// Envelope wraps every durable event on the bus. UserID is set only for
// targeted events; empty means global fan-out.
type Envelope struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	RoundLabel string          `json:"round_label"`
	UserID     string          `json:"user_id,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Payload    json.RawMessage `json:"payload"`
}

// TimerPayload is the per-tick countdown update.
type TimerPayload struct {
	Label       string `json:"label"`
	SecondsLeft int    `json:"seconds_left"`
}

// PreviewPayload is one frame of the pre-result flicker. The decoy is
// cosmetic and unrelated to the real draw.
type PreviewPayload struct {
	SecondsLeft int `json:"seconds_left"`
	Decoy       int `json:"decoy"`
}

// ResultPayload is the public settled outcome of a round.
type ResultPayload struct {
	Label  string `json:"label"`
	Number int    `json:"number"`
	Bonus  int64  `json:"bonus"`
}

// PersonalOutcomePayload is the targeted per-user settlement outcome.
// Amount is set only for winners.
type PersonalOutcomePayload struct {
	Status  string           `json:"status"` // won or lost
	Number  int              `json:"number"`
	Amount  *decimal.Decimal `json:"amount,omitempty"`
	Balance decimal.Decimal  `json:"balance"`
	Barcode string           `json:"barcode"`
}
