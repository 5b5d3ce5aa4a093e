package stake

import (
	"github.com/shopspring/decimal"
)

// PlaceStakeRequest represents a request to place a new stake.
type PlaceStakeRequest struct {
	UserID string          `json:"user_id"`
	Number int             `json:"number"` // 0..99
	Amount decimal.Decimal `json:"amount"`
}

// PlacedStake is returned to the caller after a successful placement.
type PlacedStake struct {
	Barcode    string          `json:"barcode"`
	RoundLabel string          `json:"round_label"`
	Number     int             `json:"number"`
	Amount     decimal.Decimal `json:"amount"`
	Balance    decimal.Decimal `json:"balance"` // balance after the deduction
}
