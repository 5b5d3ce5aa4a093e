package stake

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/openmatka/engine/internal/models"
	"github.com/openmatka/engine/internal/round"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ErrInvalidNumber is returned for a number outside 0..99.
var ErrInvalidNumber = errors.New("stake: number must be between 0 and 99")

// ErrInvalidAmount is returned for a non-positive stake amount.
var ErrInvalidAmount = errors.New("stake: amount must be positive")

// StakeRepository defines what the stake app layer needs from storage.
type StakeRepository interface {
	Place(ctx context.Context, s models.Stake) (decimal.Decimal, error)
	GetByBarcode(ctx context.Context, barcode string) (*models.Stake, error)
	Claim(ctx context.Context, barcode string) error
	Cancel(ctx context.Context, barcode, userID string) (decimal.Decimal, error)
}

// RoundAdmission is the slice of the round tracker the app consults. The
// window is re-checked at the instant of every write.
type RoundAdmission interface {
	StakeWindow() (string, error)
}

// App handles stake business logic.
type App struct {
	repo      StakeRepository
	admission RoundAdmission
	clock     clockwork.Clock
	barcode   func() string
}

// NewApp creates a new stake App.
func NewApp(repo StakeRepository, admission RoundAdmission, clock clockwork.Clock) *App {
	return &App{
		repo:      repo,
		admission: admission,
		clock:     clock,
		barcode:   newBarcode,
	}
}

// newBarcode mints a 7-digit ticket reference.
func newBarcode() string {
	return fmt.Sprintf("%07d", rand.Intn(10_000_000))
}

// maxMintAttempts bounds barcode re-mints on a collision. Five misses in a
// row means the barcode space is effectively exhausted.
const maxMintAttempts = 5

// Place admits and persists a new stake. The round label is captured here,
// at placement time, and never recomputed afterwards.
func (a *App) Place(ctx context.Context, req PlaceStakeRequest) (*PlacedStake, error) {
	if req.Number < 0 || req.Number > 99 {
		return nil, ErrInvalidNumber
	}
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	label, err := a.admission.StakeWindow()
	if err != nil {
		return nil, err
	}

	s := models.Stake{
		ID:         uuid.New(),
		UserID:     req.UserID,
		Number:     req.Number,
		Amount:     req.Amount,
		RoundLabel: label,
		Status:     models.StakeStatusPending,
		Bonus:      1,
		PlacedAt:   a.clock.Now(),
	}

	// A colliding barcode rolls the whole placement back, so re-minting
	// and retrying is safe: no deduct survives a failed insert.
	var balance decimal.Decimal
	for attempt := 0; ; attempt++ {
		s.Barcode = a.barcode()
		balance, err = a.repo.Place(ctx, s)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrBarcodeTaken) || attempt+1 >= maxMintAttempts {
			return nil, err
		}
		log.Debug().
			Str("barcode", s.Barcode).
			Int("attempt", attempt+1).
			Msg("barcode collision, re-minting")
	}

	log.Info().
		Str("user_id", s.UserID).
		Str("round", s.RoundLabel).
		Int("number", s.Number).
		Str("amount", s.Amount.String()).
		Str("barcode", s.Barcode).
		Msg("stake placed")

	return &PlacedStake{
		Barcode:    s.Barcode,
		RoundLabel: s.RoundLabel,
		Number:     s.Number,
		Amount:     s.Amount,
		Balance:    balance,
	}, nil
}

// Claim transitions a won stake to claimed.
func (a *App) Claim(ctx context.Context, barcode string) error {
	return a.repo.Claim(ctx, barcode)
}

// Cancel refunds a pending stake. Cancellation closes with the same
// cutoff as placement: once the round's betting window is shut the
// pending set is frozen for the settlement sweep.
func (a *App) Cancel(ctx context.Context, barcode, userID string) (decimal.Decimal, error) {
	s, err := a.repo.GetByBarcode(ctx, barcode)
	if err != nil {
		return decimal.Zero, err
	}
	if s.UserID != userID {
		return decimal.Zero, ErrStakeNotFound
	}

	label, err := a.admission.StakeWindow()
	if err != nil {
		return decimal.Zero, err
	}
	if label != s.RoundLabel {
		return decimal.Zero, round.ErrTooLate
	}

	return a.repo.Cancel(ctx, barcode, userID)
}
