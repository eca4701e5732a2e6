package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// AddRating records a rater's helpfulness vote on a note, replacing any
// earlier vote by the same rater. Returns ErrNotFound when the note does
// not exist.
func (db *DB) AddRating(ctx context.Context, noteID, raterID uuid.UUID, helpfulness float64) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO note_ratings (note_id, rater_id, helpfulness)
		VALUES ($1, $2, $3)
		ON CONFLICT (note_id, rater_id)
		DO UPDATE SET helpfulness = EXCLUDED.helpfulness
	`, noteID, raterID, helpfulness)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return fmt.Errorf("storage: add rating for note %s: %w", noteID, ErrNotFound)
		}
		return fmt.Errorf("storage: add rating: %w", err)
	}
	return nil
}

// NoteRatings returns the helpfulness values for a note in insertion order.
// Returns ErrNotFound when the note does not exist; a note with no ratings
// yields an empty slice.
func (db *DB) NoteRatings(ctx context.Context, noteID uuid.UUID) ([]float64, error) {
	var exists bool
	err := db.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM notes WHERE id = $1)`, noteID,
	).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("storage: note ratings: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("storage: note ratings %s: %w", noteID, ErrNotFound)
	}

	rows, err := db.pool.Query(ctx,
		`SELECT helpfulness FROM note_ratings WHERE note_id = $1 ORDER BY id`, noteID)
	if err != nil {
		return nil, fmt.Errorf("storage: note ratings: %w", err)
	}
	defer rows.Close()

	var ratings []float64
	for rows.Next() {
		var r float64
		if err := rows.Scan(&r); err != nil {
			return nil, fmt.Errorf("storage: scan rating: %w", err)
		}
		ratings = append(ratings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: note ratings: %w", err)
	}
	return ratings, nil
}

// GlobalMeanHelpfulness returns the mean helpfulness across all ratings of
// published notes, or the neutral 0.5 when nothing has been rated yet. It
// feeds the scorer prior.
func (db *DB) GlobalMeanHelpfulness(ctx context.Context) (float64, error) {
	var mean float64
	err := db.pool.QueryRow(ctx, `
		SELECT COALESCE(AVG(r.helpfulness), 0.5)
		FROM note_ratings r
		JOIN notes n ON n.id = r.note_id
		WHERE n.status = $1
	`, NoteStatusPublished).Scan(&mean)
	if err != nil {
		return 0, fmt.Errorf("storage: global mean helpfulness: %w", err)
	}
	return mean, nil
}
