package wallet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/openmatka/engine/internal/models"
	"github.com/shopspring/decimal"
)

// ErrInsufficientFunds is returned when a deduction would take a balance
// below zero.
var ErrInsufficientFunds = errors.New("wallet: insufficient funds")

// ErrUserNotFound is returned when the user has no wallet row.
var ErrUserNotFound = errors.New("wallet: user not found")

// Repository owns the user balance ledger. The settlement engine and the
// bet-placement path are its only legitimate callers for mutations.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// querier is satisfied by both *sql.DB and *sql.Tx so Adjust can join a
// caller's unit of work.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Balance returns the user's current balance.
func (r *Repository) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := r.db.QueryRowContext(ctx,
		`SELECT balance FROM users WHERE id = $1`, userID,
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, ErrUserNotFound
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

// Adjust applies a reasoned delta to the user's balance and writes the
// matching ledger row in the same statement batch. Pass the surrounding
// *sql.Tx so the mutation commits or rolls back with the caller's work.
func (r *Repository) Adjust(ctx context.Context, q querier, userID string, delta decimal.Decimal, reason models.AdjustReason, reference string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := q.QueryRowContext(ctx,
		`UPDATE users SET balance = balance + $1 WHERE id = $2 AND balance + $1 >= 0 RETURNING balance`,
		delta, userID,
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		// Either no such user or the deduction overdraws; disambiguate.
		var exists bool
		if chkErr := q.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, userID,
		).Scan(&exists); chkErr != nil {
			return decimal.Zero, fmt.Errorf("failed to check user: %w", chkErr)
		}
		if !exists {
			return decimal.Zero, ErrUserNotFound
		}
		return decimal.Zero, ErrInsufficientFunds
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to adjust balance: %w", err)
	}

	if _, err := q.ExecContext(ctx,
		`INSERT INTO wallet_ledger (user_id, delta, balance_after, reason, reference) VALUES ($1, $2, $3, $4, $5)`,
		userID, delta, balance, string(reason), reference,
	); err != nil {
		return decimal.Zero, fmt.Errorf("failed to write ledger entry: %w", err)
	}

	return balance, nil
}

// AdjustTx runs a single reasoned adjustment in its own transaction.
func (r *Repository) AdjustTx(ctx context.Context, userID string, delta decimal.Decimal, reason models.AdjustReason, reference string) (decimal.Decimal, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return decimal.Zero, err
	}
	balance, err := r.Adjust(ctx, tx, userID, delta, reason, reference)
	if err != nil {
		_ = tx.Rollback()
		return decimal.Zero, err
	}
	return balance, tx.Commit()
}
