package result

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/openmatka/engine/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/sqlc-dev/pqtype"
)

// Repository stores settled round results. Rows are append-only; nothing
// updates or deletes them.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// pgUndefinedColumn is the Postgres error code for a missing column.
const pgUndefinedColumn = "42703"

// Insert persists one result row for the round. The metadata column is
// optional in deployed schemas; when it is absent the insert degrades to
// the narrower write instead of failing the settlement.
func (r *Repository) Insert(ctx context.Context, res models.Result) error {
	meta := pqtype.NullRawMessage{RawMessage: res.Metadata, Valid: len(res.Metadata) > 0}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO results (round_label, number, bonus, metadata) VALUES ($1, $2, $3, $4)`,
		res.RoundLabel, res.Number, res.Bonus, meta,
	)
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pgUndefinedColumn {
		log.Warn().
			Str("round", res.RoundLabel).
			Msg("results.metadata column missing, falling back to narrow insert")
		_, err = r.db.ExecContext(ctx,
			`INSERT INTO results (round_label, number, bonus) VALUES ($1, $2, $3)`,
			res.RoundLabel, res.Number, res.Bonus,
		)
	}
	if err != nil {
		return fmt.Errorf("failed to insert result: %w", err)
	}
	return nil
}

// GetByLabel returns the result for a round label, if one was persisted.
func (r *Repository) GetByLabel(ctx context.Context, label string) (*models.Result, error) {
	var res models.Result
	var meta pqtype.NullRawMessage
	err := r.db.QueryRowContext(ctx,
		`SELECT round_label, number, bonus, metadata, created_at FROM results WHERE round_label = $1 ORDER BY created_at DESC LIMIT 1`,
		label,
	).Scan(&res.RoundLabel, &res.Number, &res.Bonus, &meta, &res.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get result: %w", err)
	}
	if meta.Valid {
		res.Metadata = meta.RawMessage
	}
	return &res, nil
}

// Recent returns the latest settled results, newest first.
func (r *Repository) Recent(ctx context.Context, limit int) ([]models.Result, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT round_label, number, bonus, created_at FROM results ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	defer rows.Close()

	var results []models.Result
	for rows.Next() {
		var res models.Result
		if err := rows.Scan(&res.RoundLabel, &res.Number, &res.Bonus, &res.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, res)
	}
	return results, rows.Err()
}
