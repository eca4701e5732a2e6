// Package scorerun executes batch scoring passes over the note corpus: it
// detects the tier once, refreshes the scorer prior from the system-wide
// mean, scores every stale note through the fallback runner with a bounded
// worker pool, and writes the results back.
package scorerun

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/opennotes-ai/opennotes-sub009/internal/storage"
	"github.com/opennotes-ai/opennotes-sub009/scoring"
	"github.com/opennotes-ai/opennotes-sub009/tiers"
)

var meter = otel.GetMeterProvider().Meter("opennotes/scorerun")

const (
	// DefaultWorkers bounds concurrent scoring goroutines. The write-back
	// path shares the storage pool, so more workers rarely help.
	DefaultWorkers = 4

	// DefaultBatchSize caps how many stale notes one run picks up.
	DefaultBatchSize = 500
)

// Run statuses.
const (
	StatusHealthy          = "healthy"
	StatusNeedsAttention   = "needs_attention"
	StatusInsufficientData = "insufficient_data"
)

// Store is the persistence surface a run needs. Both the Postgres and the
// embedded SQLite store satisfy it.
type Store interface {
	CountPublishedNotes(ctx context.Context) (int64, error)
	GlobalMeanHelpfulness(ctx context.Context) (float64, error)
	NotesNeedingScores(ctx context.Context, limit int) ([]uuid.UUID, error)
	NoteRatings(ctx context.Context, noteID uuid.UUID) ([]float64, error)
	UpdateNoteScore(ctx context.Context, noteID uuid.UUID, score float64, tier string, metadataJSON []byte) error
}

// Report summarizes one batch scoring run.
type Report struct {
	RunID        uuid.UUID     `json:"run_id"`
	Tier         string        `json:"tier"`
	NoteCount    int64         `json:"note_count"`
	Queued       int           `json:"queued"`
	Scored       int           `json:"scored"`
	Failed       int           `json:"failed"`
	Sanitization scoring.Stats `json:"sanitization"`
	Status       string        `json:"status"`
	Advisories   []string      `json:"advisories"`
	StartedAt    time.Time     `json:"started_at"`
	CompletedAt  time.Time     `json:"completed_at"`
}

// Runner executes batch scoring runs. Construct once and reuse; each Run is
// independent.
type Runner struct {
	store      Store
	logger     *slog.Logger
	workers    int
	batchSize  int
	timeout    time.Duration
	scorerOpts []scoring.Option
	override   *tiers.Tier
}

// RunnerOption configures a Runner at construction.
type RunnerOption func(*Runner)

// WithWorkers sets the worker pool size. Non-positive values are ignored.
func WithWorkers(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithBatchSize caps how many notes one run scores. Non-positive values are
// ignored.
func WithBatchSize(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithScorerTimeout sets the per-attempt timeout handed to each worker's
// tier manager.
func WithScorerTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithScorerOptions forwards options to every worker's scorer.
func WithScorerOptions(opts ...scoring.Option) RunnerOption {
	return func(r *Runner) { r.scorerOpts = append(r.scorerOpts, opts...) }
}

// WithTierOverride pins every run to tier t instead of detecting one.
func WithTierOverride(t tiers.Tier) RunnerOption {
	return func(r *Runner) { r.override = &t }
}

// New builds a Runner over store.
func New(store Store, logger *slog.Logger, opts ...RunnerOption) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		store:     store,
		logger:    logger,
		workers:   DefaultWorkers,
		batchSize: DefaultBatchSize,
		timeout:   tiers.DefaultScorerTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run scores every note needing a refresh and reports the outcome. A
// canceled context aborts the run; notes already written stay written.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	startedAt := time.Now().UTC()
	runID := uuid.New()
	logger := r.logger.With("run_id", runID)

	mgrOpts := []tiers.ManagerOption{
		tiers.WithScorerTimeout(r.timeout),
		tiers.WithLogger(logger),
	}
	if r.override != nil {
		mgrOpts = append(mgrOpts, tiers.WithTierOverride(*r.override))
	}
	manager := tiers.NewManager(r.store.CountPublishedNotes, mgrOpts...)

	tier, err := manager.DetectTier(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("scorerun: detect tier: %w", err)
	}
	noteCount, err := manager.NoteCount(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("scorerun: note count: %w", err)
	}

	prior, err := r.store.GlobalMeanHelpfulness(ctx)
	if err != nil {
		return nil, fmt.Errorf("scorerun: global mean helpfulness: %w", err)
	}

	ids, err := r.store.NotesNeedingScores(ctx, r.batchSize)
	if err != nil {
		return nil, fmt.Errorf("scorerun: queue notes: %w", err)
	}

	logger.Info("scorerun: batch started",
		"tier", tier.String(), "note_count", noteCount, "queued", len(ids), "workers", r.workers)

	// Fixed pool, one manager and one scorer per worker. Managers and
	// scorers are single-owner, so the stats counters need no locks; the
	// per-worker results get summed after the pool drains.
	type workerResult struct {
		scored int
		failed int
		stats  scoring.Stats
	}
	perWorker := make([]workerResult, r.workers)
	jobs := make(chan uuid.UUID)

	var wg sync.WaitGroup
	for w := 0; w < r.workers; w++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			res := &perWorker[slot]

			wm := tiers.NewManager(nil,
				tiers.WithTierOverride(tier),
				tiers.WithScorerTimeout(r.timeout),
				tiers.WithLogger(logger),
			)
			scorer := scoring.NewBayesianScorer(r.scorerOpts...)
			scorer.UpdatePriorFromSystemAverage(prior)

			for noteID := range jobs {
				if err := r.scoreNote(ctx, wm, scorer, tier, noteID); err != nil {
					res.failed++
					logger.Warn("scorerun: note failed", "note_id", noteID, "error", err)
					continue
				}
				res.scored++
			}
			res.stats = scorer.ClampingStatistics()
		}(w)
	}

feed:
	for _, id := range ids {
		select {
		case jobs <- id:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("scorerun: run aborted: %w", err)
	}

	report := &Report{
		RunID:       runID,
		Tier:        tier.String(),
		NoteCount:   noteCount,
		Queued:      len(ids),
		Advisories:  tiers.Warnings(noteCount, tier),
		StartedAt:   startedAt,
		CompletedAt: time.Now().UTC(),
	}
	for _, res := range perWorker {
		report.Scored += res.scored
		report.Failed += res.failed
		report.Sanitization.ClampingCount += res.stats.ClampingCount
		report.Sanitization.ZeroRatingCount += res.stats.ZeroRatingCount
	}
	report.Status = runStatus(noteCount, report.Failed)

	if counter, err := meter.Int64Counter("opennotes.scorerun.notes"); err == nil {
		counter.Add(ctx, int64(report.Scored), otelmetric.WithAttributes(attribute.String("result", "scored")))
		counter.Add(ctx, int64(report.Failed), otelmetric.WithAttributes(attribute.String("result", "failed")))
	}

	logger.Info("scorerun: batch finished",
		"tier", report.Tier, "scored", report.Scored, "failed", report.Failed,
		"status", report.Status, "elapsed", report.CompletedAt.Sub(report.StartedAt))
	return report, nil
}

// scoreNote scores one note through the fallback runner and writes the
// result back under the storage retry policy.
func (r *Runner) scoreNote(ctx context.Context, m *tiers.Manager, scorer *scoring.BayesianScorer, target tiers.Tier, noteID uuid.UUID) error {
	ratings, err := r.store.NoteRatings(ctx, noteID)
	if err != nil {
		return fmt.Errorf("scorerun: load ratings: %w", err)
	}

	type result struct {
		score float64
		md    scoring.Metadata
		tier  tiers.Tier
	}
	res, err := tiers.RunWithFallbackFrom(ctx, m, target, func(ctx context.Context, t tiers.Tier) (result, error) {
		// CalculateScore moves the sanitization counters; ScoreMetadata
		// fills in the confidence qualifiers without moving them again.
		score := scorer.CalculateScore(ratings)
		_, md := scorer.ScoreMetadata(ratings)
		return result{score: score, md: md, tier: t}, nil
	})
	if err != nil {
		return err
	}

	payload, err := json.Marshal(res.md)
	if err != nil {
		return fmt.Errorf("scorerun: marshal metadata: %w", err)
	}
	err = storage.WithRetry(ctx, storage.DefaultMaxRetries, storage.DefaultBaseDelay, func() error {
		return r.store.UpdateNoteScore(ctx, noteID, res.score, res.tier.String(), payload)
	})
	if err != nil {
		return fmt.Errorf("scorerun: write back: %w", err)
	}
	return nil
}

func runStatus(noteCount int64, failed int) string {
	switch {
	case noteCount == 0:
		return StatusInsufficientData
	case failed > 0:
		return StatusNeedsAttention
	default:
		return StatusHealthy
	}
}
