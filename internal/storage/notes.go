package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Note statuses. Only published notes participate in scoring and tier
// detection.
const (
	NoteStatusPending   = "pending"
	NoteStatusPublished = "published"
	NoteStatusRetracted = "retracted"
)

// NoteScore is the persisted scoring state of one note.
type NoteScore struct {
	NoteID   uuid.UUID  `json:"note_id"`
	Score    *float64   `json:"score,omitempty"`
	Tier     *string    `json:"tier,omitempty"`
	ScoredAt *time.Time `json:"scored_at,omitempty"`
}

// CountPublishedNotes returns the number of published notes. The count
// drives tier detection.
func (db *DB) CountPublishedNotes(ctx context.Context) (int64, error) {
	var n int64
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM notes WHERE status = $1`, NoteStatusPublished,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storage: count published notes: %w", err)
	}
	return n, nil
}

// CreateNote inserts a note and returns its ID. Exposed for seeding and
// operational tooling; the authoring workflow itself lives outside this
// system.
func (db *DB) CreateNote(ctx context.Context, content, status string) (uuid.UUID, error) {
	var id uuid.UUID
	err := db.pool.QueryRow(ctx, `
		INSERT INTO notes (content, status)
		VALUES ($1, $2)
		RETURNING id
	`, content, status).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("storage: create note: %w", err)
	}
	return id, nil
}

// NotesNeedingScores lists published notes that were never scored or have
// ratings newer than their last score, stalest first.
func (db *DB) NotesNeedingScores(ctx context.Context, limit int) ([]uuid.UUID, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT n.id
		FROM notes n
		WHERE n.status = $1
		  AND (n.scored_at IS NULL OR EXISTS (
		      SELECT 1 FROM note_ratings r
		      WHERE r.note_id = n.id AND r.created_at > n.scored_at))
		ORDER BY n.scored_at ASC NULLS FIRST, n.created_at
		LIMIT $2
	`, NoteStatusPublished, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: notes needing scores: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("storage: scan note id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: notes needing scores: %w", err)
	}
	return ids, nil
}

// UpdateNoteScore writes a computed score back to its note. metadataJSON
// lands in the score_metadata JSONB column. Returns ErrNotFound for an
// unknown note.
func (db *DB) UpdateNoteScore(ctx context.Context, noteID uuid.UUID, score float64, tier string, metadataJSON []byte) error {
	tag, err := db.pool.Exec(ctx, `
		UPDATE notes
		SET score = $2, score_tier = $3, score_metadata = $4,
		    scored_at = now(), updated_at = now()
		WHERE id = $1
	`, noteID, score, tier, metadataJSON)
	if err != nil {
		return fmt.Errorf("storage: update note score: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: update note score %s: %w", noteID, ErrNotFound)
	}
	return nil
}

// GetNoteScore reads back the persisted scoring state of a note.
func (db *DB) GetNoteScore(ctx context.Context, noteID uuid.UUID) (NoteScore, error) {
	s := NoteScore{NoteID: noteID}
	err := db.pool.QueryRow(ctx,
		`SELECT score, score_tier, scored_at FROM notes WHERE id = $1`, noteID,
	).Scan(&s.Score, &s.Tier, &s.ScoredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return NoteScore{}, fmt.Errorf("storage: get note score %s: %w", noteID, ErrNotFound)
	}
	if err != nil {
		return NoteScore{}, fmt.Errorf("storage: get note score: %w", err)
	}
	return s, nil
}
