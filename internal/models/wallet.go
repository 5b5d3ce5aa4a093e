package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AdjustReason labels every balance mutation.
type AdjustReason string

const (
	AdjustReasonStake  AdjustReason = "STAKE"
	AdjustReasonPayout AdjustReason = "PAYOUT"
	AdjustReasonRefund AdjustReason = "REFUND"
)

// LedgerEntry is one reasoned balance mutation for audit.
type LedgerEntry struct {
	ID           int64           `json:"id"`
	UserID       string          `json:"user_id"`
	Delta        decimal.Decimal `json:"delta"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	Reason       AdjustReason    `json:"reason"`
	Reference    string          `json:"reference,omitempty"` // stake barcode or round label
	CreatedAt    time.Time       `json:"created_at"`
}
