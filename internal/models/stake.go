package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// StakeStatus defines the lifecycle status of a stake.
type StakeStatus string

const (
	StakeStatusPending   StakeStatus = "PENDING"
	StakeStatusWon       StakeStatus = "WON"
	StakeStatusLost      StakeStatus = "LOST"
	StakeStatusCancelled StakeStatus = "CANCELLED"
	StakeStatusClaimed   StakeStatus = "CLAIMED"
)

// Stake represents one ticket on a two-digit number for a single round.
// The round label is captured at placement time and never recomputed.
type Stake struct {
	ID         uuid.UUID       `json:"id"`
	UserID     string          `json:"user_id"`
	Number     int             `json:"number"` // 0..99
	Amount     decimal.Decimal `json:"amount"`
	RoundLabel string          `json:"round_label"`
	Barcode    string          `json:"barcode"` // 7-digit ticket reference
	Status     StakeStatus     `json:"status"`
	Bonus      int64           `json:"bonus"` // multiplier applied at settlement, default 1
	PlacedAt   time.Time       `json:"placed_at"`
}
