package storage_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opennotes-ai/opennotes-sub009/internal/storage"
	"github.com/opennotes-ai/opennotes-sub009/internal/testutil"
)

// testDB holds a shared test database connection for all tests in this package.
var testDB *storage.DB

func TestMain(m *testing.M) {
	tc := testutil.MustStartPostgres()

	var err error
	testDB, err = tc.NewTestDB(context.Background(), testutil.TestLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create test DB: %v\n", err)
		tc.Terminate()
		os.Exit(1)
	}

	code := m.Run()

	testDB.Close()
	tc.Terminate()
	os.Exit(code)
}

func TestCountPublishedNotes(t *testing.T) {
	ctx := context.Background()

	before, err := testDB.CountPublishedNotes(ctx)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := testDB.CreateNote(ctx, "published note", storage.NoteStatusPublished)
		require.NoError(t, err)
	}
	_, err = testDB.CreateNote(ctx, "pending note", storage.NoteStatusPending)
	require.NoError(t, err)
	_, err = testDB.CreateNote(ctx, "retracted note", storage.NoteStatusRetracted)
	require.NoError(t, err)

	after, err := testDB.CountPublishedNotes(ctx)
	require.NoError(t, err)
	assert.Equal(t, before+3, after)
}

func TestRatingsRoundTrip(t *testing.T) {
	ctx := context.Background()

	noteID, err := testDB.CreateNote(ctx, "rated note", storage.NoteStatusPublished)
	require.NoError(t, err)

	raters := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for i, raterID := range raters {
		require.NoError(t, testDB.AddRating(ctx, noteID, raterID, float64(i)*0.3))
	}

	ratings, err := testDB.NoteRatings(ctx, noteID)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0.3, 0.6}, ratings)

	// Re-rating replaces the earlier vote in place.
	require.NoError(t, testDB.AddRating(ctx, noteID, raters[0], 0.9))

	ratings, err = testDB.NoteRatings(ctx, noteID)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.9, 0.3, 0.6}, ratings)
}

func TestRatingsUnknownNote(t *testing.T) {
	ctx := context.Background()

	_, err := testDB.NoteRatings(ctx, uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// The foreign key violation maps to ErrNotFound.
	err = testDB.AddRating(ctx, uuid.New(), uuid.New(), 0.5)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestGlobalMeanHelpfulness(t *testing.T) {
	ctx := context.Background()

	published, err := testDB.CreateNote(ctx, "published for mean", storage.NoteStatusPublished)
	require.NoError(t, err)
	require.NoError(t, testDB.AddRating(ctx, published, uuid.New(), 0.4))
	require.NoError(t, testDB.AddRating(ctx, published, uuid.New(), 0.6))

	mean, err := testDB.GlobalMeanHelpfulness(ctx)
	require.NoError(t, err)
	assert.Greater(t, mean, 0.0)
	assert.Less(t, mean, 1.0)
}

func TestScoreWriteBack(t *testing.T) {
	ctx := context.Background()

	noteID, err := testDB.CreateNote(ctx, "scored note", storage.NoteStatusPublished)
	require.NoError(t, err)

	meta, err := json.Marshal(map[string]any{
		"confidence":    "provisional",
		"ratings_count": 3,
	})
	require.NoError(t, err)

	require.NoError(t, testDB.UpdateNoteScore(ctx, noteID, 0.68, "basic", meta))

	got, err := testDB.GetNoteScore(ctx, noteID)
	require.NoError(t, err)
	require.NotNil(t, got.Score)
	assert.InDelta(t, 0.68, *got.Score, 1e-9)
	require.NotNil(t, got.Tier)
	assert.Equal(t, "basic", *got.Tier)
	require.NotNil(t, got.ScoredAt)
}

func TestScoreWriteBackUnknownNote(t *testing.T) {
	ctx := context.Background()

	err := testDB.UpdateNoteScore(ctx, uuid.New(), 0.5, "minimal", []byte(`{}`))
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = testDB.GetNoteScore(ctx, uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestNotesNeedingScores(t *testing.T) {
	ctx := context.Background()

	fresh, err := testDB.CreateNote(ctx, "never scored", storage.NoteStatusPublished)
	require.NoError(t, err)
	scored, err := testDB.CreateNote(ctx, "already scored", storage.NoteStatusPublished)
	require.NoError(t, err)

	require.NoError(t, testDB.UpdateNoteScore(ctx, scored, 0.5, "minimal", []byte(`{}`)))

	ids, err := testDB.NotesNeedingScores(ctx, 1000)
	require.NoError(t, err)
	assert.Contains(t, ids, fresh)
	assert.NotContains(t, ids, scored)

	// A rating newer than scored_at puts the note back in the queue.
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, testDB.AddRating(ctx, scored, uuid.New(), 0.9))

	ids, err = testDB.NotesNeedingScores(ctx, 1000)
	require.NoError(t, err)
	assert.Contains(t, ids, scored)

	require.NoError(t, testDB.UpdateNoteScore(ctx, scored, 0.7, "minimal", []byte(`{}`)))

	ids, err = testDB.NotesNeedingScores(ctx, 1000)
	require.NoError(t, err)
	assert.NotContains(t, ids, scored)
}
