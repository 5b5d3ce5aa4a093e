package stake

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/openmatka/engine/internal/models"
	"github.com/openmatka/engine/internal/sqlutil"
	"github.com/openmatka/engine/internal/wallet"
	"github.com/shopspring/decimal"
)

// ErrStakeNotFound is returned when no stake matches the lookup.
var ErrStakeNotFound = errors.New("stake: not found")

// ErrAlreadySettled is returned when a settle or cancel hits a stake that
// already left PENDING. A stake is immutable once settled, except for the
// won-to-claimed transition.
var ErrAlreadySettled = errors.New("stake: already settled")

// ErrNotClaimable is returned when claiming a stake that is not WON.
var ErrNotClaimable = errors.New("stake: not claimable")

// ErrBarcodeTaken is returned when the minted barcode already exists. The
// app layer re-mints and retries; the insert's transaction rolled back, so
// no money moved.
var ErrBarcodeTaken = errors.New("stake: barcode taken")

// pgUniqueViolation is the Postgres error code for a unique constraint hit.
const pgUniqueViolation = "23505"

// Repository persists stakes and pairs every settlement transition with
// its balance movement in a single transaction per stake.
type Repository struct {
	db     *sql.DB
	wallet *wallet.Repository
}

func NewRepository(db *sql.DB, wallet *wallet.Repository) *Repository {
	return &Repository{db: db, wallet: wallet}
}

// Place deducts the stake amount and inserts the PENDING stake in one
// transaction, so a failed insert never leaves money taken.
func (r *Repository) Place(ctx context.Context, s models.Stake) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := sqlutil.Run(ctx, r.db, func(tx *sql.Tx) error {
		var err error
		balance, err = r.wallet.Adjust(ctx, tx, s.UserID, s.Amount.Neg(), models.AdjustReasonStake, s.Barcode)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO stakes (id, user_id, number, amount, round_label, barcode, status, bonus, placed_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			s.ID, s.UserID, s.Number, s.Amount, s.RoundLabel, s.Barcode, string(s.Status), s.Bonus, s.PlacedAt,
		)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
				// The barcode is the only contended unique key; ids are v4
				// uuids minted per call.
				return ErrBarcodeTaken
			}
			return fmt.Errorf("failed to insert stake: %w", err)
		}
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}

// ListPending returns every stake for the round label that is still
// PENDING. By the time settlement calls this the set is closed: the stake
// cutoff ran out long before the deadline, so nothing can join it.
func (r *Repository) ListPending(ctx context.Context, roundLabel string) ([]models.Stake, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, number, amount, round_label, barcode, status, bonus, placed_at
		 FROM stakes WHERE round_label = $1 AND status = $2 ORDER BY placed_at`,
		roundLabel, string(models.StakeStatusPending),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending stakes: %w", err)
	}
	defer rows.Close()

	var stakes []models.Stake
	for rows.Next() {
		var s models.Stake
		var status string
		if err := rows.Scan(&s.ID, &s.UserID, &s.Number, &s.Amount, &s.RoundLabel, &s.Barcode, &status, &s.Bonus, &s.PlacedAt); err != nil {
			return nil, fmt.Errorf("failed to scan stake: %w", err)
		}
		s.Status = models.StakeStatus(status)
		stakes = append(stakes, s)
	}
	return stakes, rows.Err()
}

// SettleWon flips a PENDING stake to WON and credits the payout in the
// same transaction. The conditional update makes the payout exactly-once:
// a stake that already left PENDING credits nothing.
func (r *Repository) SettleWon(ctx context.Context, stakeID uuid.UUID, bonus int64, payout decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := sqlutil.Run(ctx, r.db, func(tx *sql.Tx) error {
		var userID, barcode string
		err := tx.QueryRowContext(ctx,
			`UPDATE stakes SET status = $1, bonus = $2 WHERE id = $3 AND status = $4 RETURNING user_id, barcode`,
			string(models.StakeStatusWon), bonus, stakeID, string(models.StakeStatusPending),
		).Scan(&userID, &barcode)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrAlreadySettled
		}
		if err != nil {
			return fmt.Errorf("failed to mark stake won: %w", err)
		}
		balance, err = r.wallet.Adjust(ctx, tx, userID, payout, models.AdjustReasonPayout, barcode)
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}

// SettleLost flips a PENDING stake to LOST, recording the round's bonus
// for audit symmetry with winners.
func (r *Repository) SettleLost(ctx context.Context, stakeID uuid.UUID, bonus int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE stakes SET status = $1, bonus = $2 WHERE id = $3 AND status = $4`,
		string(models.StakeStatusLost), bonus, stakeID, string(models.StakeStatusPending),
	)
	if err != nil {
		return fmt.Errorf("failed to mark stake lost: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrAlreadySettled
	}
	return nil
}

// GetByBarcode looks a stake up by its ticket barcode.
func (r *Repository) GetByBarcode(ctx context.Context, barcode string) (*models.Stake, error) {
	var s models.Stake
	var status string
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, number, amount, round_label, barcode, status, bonus, placed_at
		 FROM stakes WHERE barcode = $1`,
		barcode,
	).Scan(&s.ID, &s.UserID, &s.Number, &s.Amount, &s.RoundLabel, &s.Barcode, &status, &s.Bonus, &s.PlacedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStakeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stake: %w", err)
	}
	s.Status = models.StakeStatus(status)
	return &s, nil
}

// Claim transitions a WON stake to CLAIMED.
func (r *Repository) Claim(ctx context.Context, barcode string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE stakes SET status = $1 WHERE barcode = $2 AND status = $3`,
		string(models.StakeStatusClaimed), barcode, string(models.StakeStatusWon),
	)
	if err != nil {
		return fmt.Errorf("failed to claim stake: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotClaimable
	}
	return nil
}

// Cancel refunds a still-PENDING stake and marks it CANCELLED, one
// transaction for both.
func (r *Repository) Cancel(ctx context.Context, barcode, userID string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := sqlutil.Run(ctx, r.db, func(tx *sql.Tx) error {
		var amount decimal.Decimal
		err := tx.QueryRowContext(ctx,
			`UPDATE stakes SET status = $1 WHERE barcode = $2 AND user_id = $3 AND status = $4 RETURNING amount`,
			string(models.StakeStatusCancelled), barcode, userID, string(models.StakeStatusPending),
		).Scan(&amount)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrAlreadySettled
		}
		if err != nil {
			return fmt.Errorf("failed to cancel stake: %w", err)
		}
		balance, err = r.wallet.Adjust(ctx, tx, userID, amount, models.AdjustReasonRefund, barcode)
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}
