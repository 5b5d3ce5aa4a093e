package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/openmatka/engine/internal/dbconfig"
	"github.com/shopspring/decimal"
)

// stuckStake is a pending stake whose round has already ended. These
// exist only after a crash between the round boundary and the sweep.
type stuckStake struct {
	ID         string
	UserID     string
	Number     int
	Amount     decimal.Decimal
	RoundLabel string
	Barcode    string
}

func main() {
	var (
		minAge = flag.Duration("min-age", 10*time.Minute, "only touch stakes older than this")
		payout = flag.Int64("payout", 160, "payout multiplier for reconciled winners")
		dryRun = flag.Bool("dry-run", false, "report without writing")
	)
	flag.Parse()

	cfg := dbconfig.NewConfigFromEnv()
	pool, err := pgxpool.New(context.Background(), cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	ctx := context.Background()

	rows, err := pool.Query(ctx, `
        SELECT id, user_id, number, amount, round_label, barcode
        FROM stakes
        WHERE status = 'PENDING' AND placed_at < now() - $1::interval
        ORDER BY placed_at
    `, minAge.String())
	if err != nil {
		fmt.Fprintf(os.Stderr, "query stuck stakes: %v\n", err)
		os.Exit(1)
	}

	stuck, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (stuckStake, error) {
		var s stuckStake
		err := row.Scan(&s.ID, &s.UserID, &s.Number, &s.Amount, &s.RoundLabel, &s.Barcode)
		return s, err
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "scan stuck stakes: %v\n", err)
		os.Exit(1)
	}

	var (
		total    = len(stuck)
		won      int
		lost     int
		refunded int
		errs     int
	)

	for _, s := range stuck {
		// A persisted result means the draw happened and only the sweep
		// was lost; settle against it. No result means the round never
		// resolved, so the stake is refunded.
		var number int
		var bonus int64
		err := pool.QueryRow(ctx, `
            SELECT number, bonus FROM results
            WHERE round_label = $1 ORDER BY created_at DESC LIMIT 1
        `, s.RoundLabel).Scan(&number, &bonus)
		switch {
		case err == nil:
			if *dryRun {
				fmt.Printf("would settle %s (round %s, number %d vs %d)\n", s.Barcode, s.RoundLabel, s.Number, number)
				continue
			}
			if s.Number == number {
				amount := s.Amount.Mul(decimal.NewFromInt(*payout)).Mul(decimal.NewFromInt(bonus))
				if err := settleWinner(ctx, pool, s, bonus, amount); err != nil {
					fmt.Fprintf(os.Stderr, "error settling winner %s: %v\n", s.Barcode, err)
					errs++
					continue
				}
				won++
			} else {
				if err := settleLoser(ctx, pool, s, bonus); err != nil {
					fmt.Fprintf(os.Stderr, "error settling loser %s: %v\n", s.Barcode, err)
					errs++
					continue
				}
				lost++
			}
		case err == pgx.ErrNoRows:
			if *dryRun {
				fmt.Printf("would refund %s (round %s has no result)\n", s.Barcode, s.RoundLabel)
				continue
			}
			if err := refund(ctx, pool, s); err != nil {
				fmt.Fprintf(os.Stderr, "error refunding %s: %v\n", s.Barcode, err)
				errs++
				continue
			}
			refunded++
		default:
			fmt.Fprintf(os.Stderr, "error loading result for round %s: %v\n", s.RoundLabel, err)
			errs++
		}
	}

	fmt.Printf("reconcile: %d stuck, %d won, %d lost, %d refunded, %d errors\n",
		total, won, lost, refunded, errs)
	if errs > 0 {
		os.Exit(1)
	}
}

func settleWinner(ctx context.Context, pool *pgxpool.Pool, s stuckStake, bonus int64, amount decimal.Decimal) error {
	return inTx(ctx, pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
            UPDATE stakes SET status = 'WON', bonus = $2
            WHERE id = $1 AND status = 'PENDING'
        `, s.ID, bonus)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil // settled concurrently
		}
		return credit(ctx, tx, s.UserID, amount, "PAYOUT", s.Barcode)
	})
}

func settleLoser(ctx context.Context, pool *pgxpool.Pool, s stuckStake, bonus int64) error {
	_, err := pool.Exec(ctx, `
        UPDATE stakes SET status = 'LOST', bonus = $2
        WHERE id = $1 AND status = 'PENDING'
    `, s.ID, bonus)
	return err
}

func refund(ctx context.Context, pool *pgxpool.Pool, s stuckStake) error {
	return inTx(ctx, pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
            UPDATE stakes SET status = 'CANCELLED'
            WHERE id = $1 AND status = 'PENDING'
        `, s.ID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		return credit(ctx, tx, s.UserID, s.Amount, "REFUND", s.Barcode)
	})
}

func credit(ctx context.Context, tx pgx.Tx, userID string, amount decimal.Decimal, reason, reference string) error {
	var balance decimal.Decimal
	err := tx.QueryRow(ctx, `
        UPDATE users SET balance = balance + $1 WHERE id = $2
        RETURNING balance
    `, amount, userID).Scan(&balance)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
        INSERT INTO wallet_ledger (user_id, delta, reason, reference, balance_after)
        VALUES ($1, $2, $3, $4, $5)
    `, userID, amount, reason, reference, balance)
	return err
}

func inTx(ctx context.Context, pool *pgxpool.Pool, fn func(tx pgx.Tx) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}
