package settle

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/openmatka/engine/internal/events"
	"github.com/openmatka/engine/internal/models"
	"github.com/openmatka/engine/internal/round"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// DefaultPayoutMultiplier is the fixed game odds: a winning stake pays
// 160 times the raw amount before the round bonus.
const DefaultPayoutMultiplier = 160

// ResultStore defines what the engine needs to persist results.
type ResultStore interface {
	Insert(ctx context.Context, res models.Result) error
}

// StakeStore defines what the engine needs to sweep a round's stakes.
// SettleWon must pair the status flip with the credit in one unit of work.
type StakeStore interface {
	ListPending(ctx context.Context, roundLabel string) ([]models.Stake, error)
	SettleWon(ctx context.Context, stakeID uuid.UUID, bonus int64, payout decimal.Decimal) (decimal.Decimal, error)
	SettleLost(ctx context.Context, stakeID uuid.UUID, bonus int64) error
}

// Wallet is used to read loser balances for their outcome broadcast.
type Wallet interface {
	Balance(ctx context.Context, userID string) (decimal.Decimal, error)
}

// Publisher carries result and outcome events onto the event bus.
type Publisher interface {
	Publish(ctx context.Context, eventType, roundLabel, userID string, payload any) error
}

// DrawFunc produces a winning number in [0,99]. Injectable for tests.
type DrawFunc func() int

// Engine settles expired rounds: it resolves the winning number, persists
// the result, sweeps the round's pending stakes sequentially and emits the
// outcome events. Storage failures are logged and never crash the round
// clock; the round advances even if a sweep partially failed.
type Engine struct {
	results   ResultStore
	stakes    StakeStore
	wallet    Wallet
	publisher Publisher
	payout    int64
	draw      DrawFunc
}

// NewEngine creates a settlement engine with the given payout odds.
func NewEngine(results ResultStore, stakes StakeStore, wallet Wallet, publisher Publisher, payoutMultiplier int64) *Engine {
	if payoutMultiplier <= 0 {
		payoutMultiplier = DefaultPayoutMultiplier
	}
	return &Engine{
		results:   results,
		stakes:    stakes,
		wallet:    wallet,
		publisher: publisher,
		payout:    payoutMultiplier,
		draw:      func() int { return rand.Intn(100) },
	}
}

// Run consumes settle jobs until ctx is cancelled. A single worker keeps
// settlements strictly sequential: one sweep per round, one round at a
// time, each credit-and-status pair easy to reason about.
func (e *Engine) Run(ctx context.Context, jobs <-chan round.SettleJob) {
	log.Info().Msg("settlement worker started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("settlement worker shutting down")
			return
		case job := <-jobs:
			e.Settle(ctx, job)
		}
	}
}

// settlementSummary is the optional metadata persisted with a result.
type settlementSummary struct {
	Stakes    int       `json:"stakes"`
	Winners   int       `json:"winners"`
	Manual    bool      `json:"manual"`
	SettledAt time.Time `json:"settled_at"`
}

// Settle resolves and sweeps one expired round. It runs to completion;
// individual stake failures are logged and skipped, not retried.
func (e *Engine) Settle(ctx context.Context, job round.SettleJob) {
	number := e.draw()
	bonus := int64(1)
	manual := false
	if job.Override != nil {
		number = job.Override.Number
		bonus = job.Override.Bonus
		manual = true
	}

	log.Info().
		Str("round", job.Label).
		Int("number", number).
		Int64("bonus", bonus).
		Bool("manual", manual).
		Msg("settling round")

	stakes, err := e.stakes.ListPending(ctx, job.Label)
	if err != nil {
		// Without the stake set there is nothing to sweep; the result is
		// still persisted so reconciliation can settle the round later.
		log.Error().Err(err).Str("round", job.Label).Msg("failed to list pending stakes")
	}

	winners := 0
	for _, s := range stakes {
		if s.Number == number {
			winners++
		}
	}

	meta, _ := json.Marshal(settlementSummary{
		Stakes:    len(stakes),
		Winners:   winners,
		Manual:    manual,
		SettledAt: time.Now().UTC(),
	})
	if err := e.results.Insert(ctx, models.Result{
		RoundLabel: job.Label,
		Number:     number,
		Bonus:      bonus,
		Metadata:   meta,
	}); err != nil {
		log.Error().Err(err).Str("round", job.Label).Msg("failed to persist result")
	}

	for _, s := range stakes {
		if err := e.settleStake(ctx, s, number, bonus); err != nil {
			log.Error().
				Err(err).
				Str("round", job.Label).
				Str("stake_id", s.ID.String()).
				Str("user_id", s.UserID).
				Msg("failed to settle stake, continuing sweep")
		}
	}

	if err := e.publisher.Publish(ctx, events.TypeResult, job.Label, "", events.ResultPayload{
		Label:  job.Label,
		Number: number,
		Bonus:  bonus,
	}); err != nil {
		log.Error().Err(err).Str("round", job.Label).Msg("failed to publish result")
	}

	log.Info().
		Str("round", job.Label).
		Int("stakes", len(stakes)).
		Int("winners", winners).
		Msg("round settled")
}

// settleStake resolves one stake: the status transition and any credit
// are a single unit of work inside the store.
func (e *Engine) settleStake(ctx context.Context, s models.Stake, number int, bonus int64) error {
	if s.Number != number {
		if err := e.stakes.SettleLost(ctx, s.ID, bonus); err != nil {
			return err
		}
		balance, err := e.wallet.Balance(ctx, s.UserID)
		if err != nil {
			// The loss is recorded; the client reconciles its balance on
			// the next poll if this broadcast is missing.
			log.Warn().Err(err).Str("user_id", s.UserID).Msg("failed to read balance for outcome broadcast")
			return nil
		}
		e.publishOutcome(ctx, s, events.PersonalOutcomePayload{
			Status:  "lost",
			Number:  number,
			Balance: balance,
			Barcode: s.Barcode,
		})
		return nil
	}

	payout := s.Amount.Mul(decimal.NewFromInt(e.payout)).Mul(decimal.NewFromInt(bonus))
	balance, err := e.stakes.SettleWon(ctx, s.ID, bonus, payout)
	if err != nil {
		return err
	}

	log.Info().
		Str("user_id", s.UserID).
		Str("stake_id", s.ID.String()).
		Str("payout", payout.String()).
		Msg("stake won")

	e.publishOutcome(ctx, s, events.PersonalOutcomePayload{
		Status:  "won",
		Number:  number,
		Amount:  &payout,
		Balance: balance,
		Barcode: s.Barcode,
	})
	return nil
}

func (e *Engine) publishOutcome(ctx context.Context, s models.Stake, payload events.PersonalOutcomePayload) {
	if err := e.publisher.Publish(ctx, events.TypePersonalOutcome, s.RoundLabel, s.UserID, payload); err != nil {
		log.Warn().Err(err).Str("user_id", s.UserID).Msg("failed to publish personal outcome")
	}
}
