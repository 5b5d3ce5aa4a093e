package models

import (
	"encoding/json"
	"time"
)

// Result is the settled outcome of one round. Append-only.
type Result struct {
	RoundLabel string          `json:"round_label"`
	Number     int             `json:"number"`
	Bonus      int64           `json:"bonus"`
	Metadata   json.RawMessage `json:"metadata,omitempty"` // optional settlement summary
	CreatedAt  time.Time       `json:"created_at"`
}
