package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// liteTimeLayout matches strftime('%Y-%m-%d %H:%M:%f','now'), which every
// timestamp in the embedded schema is written with so text comparisons stay
// consistent.
const liteTimeLayout = "2006-01-02 15:04:05.999"

const liteSchema = `
CREATE TABLE IF NOT EXISTS notes (
    id TEXT PRIMARY KEY,
    content TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    score REAL,
    score_tier TEXT,
    score_metadata TEXT,
    scored_at TEXT,
    created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%d %H:%M:%f','now')),
    updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%d %H:%M:%f','now'))
);

CREATE TABLE IF NOT EXISTS note_ratings (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    note_id TEXT NOT NULL REFERENCES notes(id) ON DELETE CASCADE,
    rater_id TEXT NOT NULL,
    helpfulness REAL NOT NULL,
    created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%d %H:%M:%f','now')),
    UNIQUE (note_id, rater_id)
);

CREATE INDEX IF NOT EXISTS idx_notes_status ON notes (status);
CREATE INDEX IF NOT EXISTS idx_note_ratings_note ON note_ratings (note_id);
`

// Lite is the embedded fallback store. It carries the same corpus and
// rating queries as DB on a single-file SQLite database, for development
// and deployments without Postgres.
type Lite struct {
	conn   *sql.DB
	logger *slog.Logger
}

// OpenLite opens or creates the SQLite database at path. Pass ":memory:"
// for an ephemeral store.
func OpenLite(path string, logger *slog.Logger) (*Lite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("storage: create sqlite directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}

	// SQLite allows one writer at a time; a single connection avoids
	// SQLITE_BUSY churn under the worker pool.
	conn.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("storage: set pragma: %w", err)
		}
	}

	logger.Info("storage: sqlite store opened", "path", path)
	return &Lite{conn: conn, logger: logger}, nil
}

// Migrate creates the schema. Safe to call on every startup.
func (db *Lite) Migrate(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, liteSchema); err != nil {
		return fmt.Errorf("storage: migrate sqlite: %w", err)
	}
	return nil
}

// Close closes the database.
func (db *Lite) Close() error {
	return db.conn.Close()
}

// CountPublishedNotes returns the number of published notes.
func (db *Lite) CountPublishedNotes(ctx context.Context) (int64, error) {
	var n int64
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notes WHERE status = ?`, NoteStatusPublished,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storage: count published notes: %w", err)
	}
	return n, nil
}

// CreateNote inserts a note and returns its ID.
func (db *Lite) CreateNote(ctx context.Context, content, status string) (uuid.UUID, error) {
	id := uuid.New()
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO notes (id, content, status) VALUES (?, ?, ?)`,
		id, content, status)
	if err != nil {
		return uuid.Nil, fmt.Errorf("storage: create note: %w", err)
	}
	return id, nil
}

// AddRating records a rater's helpfulness vote on a note, replacing any
// earlier vote by the same rater. Returns ErrNotFound when the note does
// not exist.
func (db *Lite) AddRating(ctx context.Context, noteID, raterID uuid.UUID, helpfulness float64) error {
	if err := db.requireNote(ctx, noteID, "add rating"); err != nil {
		return err
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO note_ratings (note_id, rater_id, helpfulness)
		VALUES (?, ?, ?)
		ON CONFLICT (note_id, rater_id)
		DO UPDATE SET helpfulness = excluded.helpfulness
	`, noteID, raterID, helpfulness)
	if err != nil {
		return fmt.Errorf("storage: add rating: %w", err)
	}
	return nil
}

// NoteRatings returns the helpfulness values for a note in insertion order.
// Returns ErrNotFound when the note does not exist.
func (db *Lite) NoteRatings(ctx context.Context, noteID uuid.UUID) ([]float64, error) {
	if err := db.requireNote(ctx, noteID, "note ratings"); err != nil {
		return nil, err
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT helpfulness FROM note_ratings WHERE note_id = ? ORDER BY id`, noteID)
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
// published notes, or the neutral 0.5 when nothing has been rated yet.
func (db *Lite) GlobalMeanHelpfulness(ctx context.Context) (float64, error) {
	var mean float64
	err := db.conn.QueryRowContext(ctx, `
		SELECT COALESCE(AVG(r.helpfulness), 0.5)
		FROM note_ratings r
		JOIN notes n ON n.id = r.note_id
		WHERE n.status = ?
	`, NoteStatusPublished).Scan(&mean)
	if err != nil {
		return 0, fmt.Errorf("storage: global mean helpfulness: %w", err)
	}
	return mean, nil
}

// NotesNeedingScores lists published notes that were never scored or have
// ratings newer than their last score, stalest first.
func (db *Lite) NotesNeedingScores(ctx context.Context, limit int) ([]uuid.UUID, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT n.id
		FROM notes n
		WHERE n.status = ?
		  AND (n.scored_at IS NULL OR EXISTS (
		      SELECT 1 FROM note_ratings r
		      WHERE r.note_id = n.id AND r.created_at > n.scored_at))
		ORDER BY n.scored_at ASC NULLS FIRST, n.created_at
		LIMIT ?
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

// UpdateNoteScore writes a computed score back to its note. Returns
// ErrNotFound for an unknown note.
func (db *Lite) UpdateNoteScore(ctx context.Context, noteID uuid.UUID, score float64, tier string, metadataJSON []byte) error {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE notes
		SET score = ?, score_tier = ?, score_metadata = ?,
		    scored_at = strftime('%Y-%m-%d %H:%M:%f','now'),
		    updated_at = strftime('%Y-%m-%d %H:%M:%f','now')
		WHERE id = ?
	`, score, tier, string(metadataJSON), noteID)
	if err != nil {
		return fmt.Errorf("storage: update note score: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: update note score: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("storage: update note score %s: %w", noteID, ErrNotFound)
	}
	return nil
}

// GetNoteScore reads back the persisted scoring state of a note.
func (db *Lite) GetNoteScore(ctx context.Context, noteID uuid.UUID) (NoteScore, error) {
	s := NoteScore{NoteID: noteID}
	var scoredAt sql.NullString
	err := db.conn.QueryRowContext(ctx,
		`SELECT score, score_tier, scored_at FROM notes WHERE id = ?`, noteID,
	).Scan(&s.Score, &s.Tier, &scoredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return NoteScore{}, fmt.Errorf("storage: get note score %s: %w", noteID, ErrNotFound)
	}
	if err != nil {
		return NoteScore{}, fmt.Errorf("storage: get note score: %w", err)
	}
	if scoredAt.Valid {
		t, err := time.Parse(liteTimeLayout, scoredAt.String)
		if err != nil {
			return NoteScore{}, fmt.Errorf("storage: parse scored_at: %w", err)
		}
		s.ScoredAt = &t
	}
	return s, nil
}

func (db *Lite) requireNote(ctx context.Context, noteID uuid.UUID, op string) error {
	var exists bool
	err := db.conn.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM notes WHERE id = ?)`, noteID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("storage: %s: %w", op, err)
	}
	if !exists {
		return fmt.Errorf("storage: %s %s: %w", op, noteID, ErrNotFound)
	}
	return nil
}
