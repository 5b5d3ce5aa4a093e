package round

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/openmatka/engine/internal/events"
	"github.com/rs/zerolog/log"
)

// ErrInvalidOverride is returned for an out-of-range number or bonus.
var ErrInvalidOverride = errors.New("round: invalid override")

// ErrNoActiveRound is returned before the first round has opened.
var ErrNoActiveRound = errors.New("round: no active round")

// Round is one fixed-interval betting cycle, identified by the clock
// boundary it ends on.
type Round struct {
	EndsAt time.Time `json:"ends_at"`
	Label  string    `json:"label"`
}

// SettleJob is handed from the tick loop to the settlement worker. It
// carries everything settlement needs so the worker never reads live
// tracker state.
type SettleJob struct {
	Label    string
	EndsAt   time.Time
	Override *Override
}

// Broadcaster pushes non-durable countdown events straight to connected
// clients. Implementations must not block the caller.
type Broadcaster interface {
	BroadcastTimer(label string, secondsLeft int)
	BroadcastPreview(secondsLeft, decoy int)
}

// Publisher carries durable round events onto the event bus.
type Publisher interface {
	Publish(ctx context.Context, eventType, roundLabel, userID string, payload any) error
}

// Config holds the fixed game parameters. Loaded once at boot; the payout
// odds and cutoffs never change mid-round.
type Config struct {
	Interval          time.Duration
	TickPeriod        time.Duration
	FinalCountdownSec int
	Gates             Gates
	MaxBonus          int64
	Location          *time.Location
}

// DefaultConfig returns the reference game parameters.
func DefaultConfig() Config {
	return Config{
		Interval:          5 * time.Minute,
		TickPeriod:        500 * time.Millisecond,
		FinalCountdownSec: 5,
		Gates:             Gates{StakeCutoffSec: 15, OverrideCutoffSec: 5},
		MaxBonus:          10,
		Location:          time.UTC,
	}
}

// RoundStartedPayload is the durable event emitted when a round opens.
type RoundStartedPayload struct {
	Label  string    `json:"label"`
	EndsAt time.Time `json:"ends_at"`
}

// Tracker owns all mutable round state: the current round, the override
// slot and the settled flag. It is the only source of truth for which
// round a stake or result belongs to. One instance per game process,
// constructed at startup and torn down by cancelling Run's context.
type Tracker struct {
	cfg         Config
	clock       clockwork.Clock
	broadcaster Broadcaster
	publisher   Publisher

	settleCh chan SettleJob

	mu          sync.Mutex
	current     *Round
	override    overrideStore
	settled     bool
	lastPreview int
}

// NewTracker builds a tracker. The first round opens when Run starts.
func NewTracker(cfg Config, clock clockwork.Clock, broadcaster Broadcaster, publisher Publisher) *Tracker {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Tracker{
		cfg:         cfg,
		clock:       clock,
		broadcaster: broadcaster,
		publisher:   publisher,
		settleCh:    make(chan SettleJob, 4),
	}
}

// SettleJobs exposes the channel the settlement worker consumes.
func (t *Tracker) SettleJobs() <-chan SettleJob {
	return t.settleCh
}

// Run drives the tick loop until ctx is cancelled. All round-state
// transitions happen here; no other goroutine mutates the round.
func (t *Tracker) Run(ctx context.Context) error {
	t.mu.Lock()
	t.startNewRoundLocked(t.clock.Now())
	t.mu.Unlock()

	ticker := t.clock.NewTicker(t.cfg.TickPeriod)
	defer ticker.Stop()

	log.Info().
		Dur("interval", t.cfg.Interval).
		Dur("tick_period", t.cfg.TickPeriod).
		Msg("round tracker started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("round tracker shutting down")
			return nil
		case <-ticker.Chan():
			t.tick(ctx, t.clock.Now())
		}
	}
}

// tick evaluates the countdown once. Settlement fires exactly once per
// round: the settled flag is flipped under the same lock that guards the
// round, so jittered or overlapping tick evaluations cannot double-fire.
func (t *Tracker) tick(ctx context.Context, now time.Time) {
	t.mu.Lock()
	if t.current == nil {
		t.startNewRoundLocked(now)
		t.mu.Unlock()
		return
	}

	label := t.current.Label
	secondsLeft := SecondsLeft(t.current.EndsAt, now)

	if secondsLeft > 0 {
		preview := secondsLeft <= t.cfg.FinalCountdownSec && secondsLeft != t.lastPreview
		if preview {
			t.lastPreview = secondsLeft
		}
		t.mu.Unlock()

		t.broadcaster.BroadcastTimer(label, secondsLeft)
		if preview {
			// Cosmetic flicker only; the decoy never leaks the real draw.
			t.broadcaster.BroadcastPreview(secondsLeft, rand.Intn(100))
		}
		return
	}

	if t.settled {
		t.mu.Unlock()
		return
	}
	t.settled = true
	job := SettleJob{
		Label:    label,
		EndsAt:   t.current.EndsAt,
		Override: t.override.consume(),
	}
	t.startNewRoundLocked(now)
	t.mu.Unlock()

	t.broadcaster.BroadcastTimer(label, 0)

	// Hand the sweep to the settlement worker. The send blocks when the
	// worker is behind: settlement latency is bounded and losing the job
	// would leave the round unswept until someone runs reconcile. Only a
	// shutdown abandons the job.
	select {
	case t.settleCh <- job:
		log.Info().Str("round", job.Label).Msg("round expired, settlement dispatched")
	case <-ctx.Done():
		log.Error().Str("round", job.Label).Msg("shutdown before settlement dispatch, re-settle with the reconcile tool")
	}
}

// startNewRoundLocked opens the round ending at the next aligned boundary
// and resets all per-round flags. Caller holds t.mu.
func (t *Tracker) startNewRoundLocked(now time.Time) {
	endsAt := NextBoundary(now, t.cfg.Interval)
	t.current = &Round{
		EndsAt: endsAt,
		Label:  Label(endsAt, t.cfg.Location),
	}
	t.settled = false
	t.lastPreview = 0
	t.override.clear()

	log.Info().
		Str("round", t.current.Label).
		Time("ends_at", endsAt).
		Msg("round started")

	payload := RoundStartedPayload{Label: t.current.Label, EndsAt: endsAt}
	go func(label string) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := t.publisher.Publish(ctx, events.TypeRoundStarted, label, "", payload); err != nil {
			log.Error().Err(err).Str("round", label).Msg("failed to publish round-started")
		}
	}(t.current.Label)
}

// CurrentLabel returns the active round's label, or false before the
// first round opens.
func (t *Tracker) CurrentLabel() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return "", false
	}
	return t.current.Label, true
}

// Snapshot returns the current label and whole seconds remaining so late
// joiners can synchronize without waiting for the next tick.
func (t *Tracker) Snapshot() (label string, secondsLeft int, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return "", 0, false
	}
	return t.current.Label, SecondsLeft(t.current.EndsAt, t.clock.Now()), true
}

// StakeWindow returns the label new stakes must be tagged with, admission
// checked at this instant. The gate is re-evaluated on every call; the
// answer is never cached.
func (t *Tracker) StakeWindow() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return "", ErrNoActiveRound
	}
	if !t.cfg.Gates.StakeAllowed(t.current.EndsAt, t.clock.Now()) {
		return "", ErrTooLate
	}
	return t.current.Label, nil
}

// TrySetOverride registers a manual winning number and bonus for the next
// settlement. Past the override cutoff it fails with ErrTooLate; the admin
// must wait for the next round, the operation is never retried.
func (t *Tracker) TrySetOverride(number int, bonus int64) error {
	if number < 0 || number > 99 {
		return ErrInvalidOverride
	}
	if bonus < 1 || bonus > t.cfg.MaxBonus {
		return ErrInvalidOverride
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return ErrNoActiveRound
	}
	if !t.cfg.Gates.OverrideAllowed(t.current.EndsAt, t.clock.Now()) {
		return ErrTooLate
	}
	t.override.set(Override{Number: number, Bonus: bonus})

	log.Info().
		Str("round", t.current.Label).
		Int("number", number).
		Int64("bonus", bonus).
		Msg("manual override registered")
	return nil
}
