// Package opennotes is the public API for embedding the OpenNotes adaptive
// scoring engine.
//
// Host applications import this package to score community note ratings at
// whatever scoring tier the corpus size supports:
//
//	engine, err := opennotes.New(
//	    opennotes.WithVersion(version),
//	    opennotes.WithLogger(logger),
//	    opennotes.WithScorerRunner("matrix_factorization", myMFScorer),
//	)
//	if err != nil { ... }
//	defer engine.Close()
//	result, err := engine.ScoreNote(ctx, noteID)
//
// The import graph enforces a strict no-cycle rule: opennotes (root) imports
// internal/*, tiers, and scoring, but none of them ever import the root.
// Public types (ScoreResult, BatchReport) are standalone structs; the
// conversion helpers live here because this is the only file that sees both
// sides of the boundary.
package opennotes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/opennotes-ai/opennotes-sub009/internal/config"
	"github.com/opennotes-ai/opennotes-sub009/internal/corpus"
	"github.com/opennotes-ai/opennotes-sub009/internal/scorerun"
	"github.com/opennotes-ai/opennotes-sub009/internal/storage"
	"github.com/opennotes-ai/opennotes-sub009/internal/telemetry"
	"github.com/opennotes-ai/opennotes-sub009/migrations"
	"github.com/opennotes-ai/opennotes-sub009/scoring"
	"github.com/opennotes-ai/opennotes-sub009/tiers"
)

var tracer = otel.Tracer("opennotes/engine")

var (
	// ErrNoRatingSource is returned by rating-driven operations when the
	// engine was built without a store or WithRatingSource.
	ErrNoRatingSource = errors.New("opennotes: no rating source configured")

	// ErrNoStore is returned by RunBatch when the engine has no bundled
	// store to write scores back to.
	ErrNoStore = errors.New("opennotes: no store configured")
)

// Engine scores note ratings at an adaptively detected tier. Construct with
// New(), release resources with Close(). Engine has no public fields; all
// configuration goes through New() options.
type Engine struct {
	cfg          config.Config
	logger       *slog.Logger
	version      string
	db           *storage.DB   // nil unless a Postgres URL is configured
	lite         *storage.Lite // nil unless a SQLite path is configured
	counter      *corpus.CachedCounter
	ratings      RatingSource
	registry     *scoring.Registry
	runner       *scorerun.Runner // nil without a store
	timeout      time.Duration
	override     *tiers.Tier
	otelShutdown telemetry.Shutdown

	// The facade scorer is shared across callers, so unlike the batch
	// workers it takes a mutex around every use.
	mu     sync.Mutex
	scorer *scoring.BayesianScorer
}

// New initialises the scoring engine. It loads configuration, opens the
// configured store (Postgres when OPENNOTES_DATABASE_URL is set, embedded
// SQLite when OPENNOTES_SQLITE_PATH is set), runs migrations, and wires the
// tier manager, scorer registry, and batch runner. It does NOT start any
// goroutines; scoring happens on the caller's goroutine.
func New(opts ...Option) (*Engine, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	// Load configuration (env vars), then apply option overrides.
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.sqlitePath != "" {
		cfg.SQLitePath = o.sqlitePath
	}
	if o.scorerTimeout > 0 {
		cfg.ScorerTimeout = o.scorerTimeout
	}
	if o.noteCountTTL > 0 {
		cfg.NoteCountTTL = o.noteCountTTL
	}
	if o.workers > 0 {
		cfg.Workers = o.workers
	}
	if o.batchSize > 0 {
		cfg.BatchSize = o.batchSize
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("opennotes starting", "version", version)

	// Initialize OpenTelemetry. The tiers and scorerun packages pick up
	// the global providers.
	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	// Resolve the tier override. The option wins over the env var.
	override := o.tierOverride
	if override == nil && cfg.TierOverride != "" {
		t, err := tiers.ParseTier(cfg.TierOverride)
		if err != nil {
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("tier override: %w", err)
		}
		override = &t
	}

	e := &Engine{
		cfg:          cfg,
		logger:       logger,
		version:      version,
		timeout:      cfg.ScorerTimeout,
		override:     override,
		otelShutdown: otelShutdown,
	}

	// Open the configured store. Postgres wins when both are set; with
	// neither, the engine runs on injected collaborators alone.
	var runStore scorerun.Store
	switch {
	case cfg.DatabaseURL != "":
		db, err := storage.New(context.Background(), cfg.DatabaseURL, logger)
		if err != nil {
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("storage: %w", err)
		}
		if err := db.RunMigrations(context.Background(), migrations.FS); err != nil {
			db.Close()
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("migrations: %w", err)
		}
		e.db = db
		runStore = db
	case cfg.SQLitePath != "":
		lite, err := storage.OpenLite(cfg.SQLitePath, logger)
		if err != nil {
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("storage: %w", err)
		}
		if err := lite.Migrate(context.Background()); err != nil {
			_ = lite.Close()
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("migrations: %w", err)
		}
		e.lite = lite
		runStore = lite
	default:
		logger.Info("no store configured, expecting injected collaborators")
	}

	// Injected collaborators take priority over the bundled store.
	upstream := o.counter
	if upstream == nil {
		switch {
		case e.db != nil:
			upstream = e.db
		case e.lite != nil:
			upstream = e.lite
		}
	}
	e.ratings = o.ratings
	if e.ratings == nil {
		switch {
		case e.db != nil:
			e.ratings = e.db
		case e.lite != nil:
			e.ratings = e.lite
		}
	}

	// Without an override the tier comes from the corpus size, so some
	// counter must exist.
	if upstream == nil && override == nil {
		if err := e.closeStores(); err != nil {
			logger.Error("store close error", "error", err)
		}
		_ = otelShutdown(context.Background())
		return nil, errors.New("opennotes: no corpus size source: set OPENNOTES_DATABASE_URL or OPENNOTES_SQLITE_PATH, or use WithNoteCounter / WithTierOverride")
	}
	if upstream != nil {
		e.counter = corpus.NewCachedCounter(upstream.CountPublishedNotes, cfg.NoteCountTTL, logger)
	}

	// The facade scorer. Config-derived options first, caller options
	// after so they win.
	scorerOpts := append([]scoring.Option{
		scoring.WithPriorWeight(cfg.PriorWeight),
		scoring.WithPriorMean(cfg.PriorMean),
		scoring.WithMinRatingsForConfidence(cfg.MinRatingsForConfidence),
	}, o.scorerOpts...)
	e.scorer = scoring.NewBayesianScorer(scorerOpts...)

	// Register the built-in algorithms, then the caller's runners so they
	// can replace built-ins by name.
	e.registry = scoring.NewRegistry()
	e.registry.Register(tiers.ScorerBayesianAverage, func(_ context.Context, ratings []float64) (float64, error) {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.scorer.CalculateScore(ratings), nil
	})
	e.registry.Register(tiers.ScorerWeightedAverage, func(_ context.Context, ratings []float64) (float64, error) {
		return scoring.WeightedAverage(ratings), nil
	})
	for name, fn := range o.runners {
		e.registry.Register(name, fn)
	}

	if runStore != nil {
		runnerOpts := []scorerun.RunnerOption{
			scorerun.WithWorkers(cfg.Workers),
			scorerun.WithBatchSize(cfg.BatchSize),
			scorerun.WithScorerTimeout(cfg.ScorerTimeout),
			scorerun.WithScorerOptions(scorerOpts...),
		}
		if override != nil {
			runnerOpts = append(runnerOpts, scorerun.WithTierOverride(*override))
		}
		e.runner = scorerun.New(runStore, logger, runnerOpts...)
	}

	// Seed the prior from the observed corpus before the first score.
	// Non-fatal: a fresh corpus keeps the configured prior.
	if cfg.SyncPrior && e.ratings != nil {
		if err := e.RefreshPriorFromSystemAverage(context.Background()); err != nil {
			logger.Warn("prior sync skipped", "error", err)
		}
	}

	return e, nil
}

// Manager builds a fresh tier manager wired to the engine's cached corpus
// counter. Each caller gets its own manager; managers are single-owner.
func (e *Engine) Manager(opts ...tiers.ManagerOption) *tiers.Manager {
	var count tiers.CountFunc
	if e.counter != nil {
		count = e.counter.CountPublishedNotes
	}
	base := []tiers.ManagerOption{
		tiers.WithScorerTimeout(e.timeout),
		tiers.WithLogger(e.logger),
	}
	if e.override != nil {
		base = append(base, tiers.WithTierOverride(*e.override))
	}
	return tiers.NewManager(count, append(base, opts...)...)
}

// ScoreRatings aggregates a slice of helpfulness ratings at the detected
// tier, falling back through lower tiers when an attempt fails or times
// out. The ratings need not belong to a stored note.
func (e *Engine) ScoreRatings(ctx context.Context, ratings []float64) (*ScoreResult, error) {
	ctx, span := tracer.Start(ctx, "opennotes.score_ratings")
	defer span.End()
	span.SetAttributes(attribute.Int("rating_count", len(ratings)))

	mgr := e.Manager()
	target, err := mgr.DetectTier(ctx, false)
	if err != nil {
		return nil, err
	}
	return e.scoreAt(ctx, mgr, target, ratings)
}

// ScoreNote fetches a note's ratings from the rating source and scores them
// like ScoreRatings. It never writes the score back; batch runs persist.
func (e *Engine) ScoreNote(ctx context.Context, noteID uuid.UUID) (*ScoreResult, error) {
	ctx, span := tracer.Start(ctx, "opennotes.score_note")
	defer span.End()
	span.SetAttributes(attribute.String("note_id", noteID.String()))

	if e.ratings == nil {
		return nil, ErrNoRatingSource
	}
	ratings, err := e.ratings.NoteRatings(ctx, noteID)
	if err != nil {
		return nil, err
	}

	mgr := e.Manager()
	target, err := mgr.DetectTier(ctx, false)
	if err != nil {
		return nil, err
	}
	return e.scoreAt(ctx, mgr, target, ratings)
}

// outcome carries one fallback attempt's result across the generic
// RunWithFallbackFrom boundary.
type outcome struct {
	score float64
	algo  string
	tier  tiers.Tier
}

func (e *Engine) scoreAt(ctx context.Context, mgr *tiers.Manager, target tiers.Tier, ratings []float64) (*ScoreResult, error) {
	res, err := tiers.RunWithFallbackFrom(ctx, mgr, target, func(ctx context.Context, t tiers.Tier) (outcome, error) {
		cfg, err := tiers.ConfigFor(t)
		if err != nil {
			return outcome{}, err
		}
		name, run, ok := e.registry.Resolve(cfg.Scorers)
		if !ok {
			return outcome{}, fmt.Errorf("no scorer registered for chain %v", cfg.Scorers)
		}
		score, err := run(ctx, ratings)
		if err != nil {
			return outcome{}, err
		}
		return outcome{score: score, algo: name, tier: t}, nil
	})
	if err != nil {
		return nil, err
	}

	// The metadata qualifiers (confidence, clamp count, prior) always come
	// from the Bayesian scorer; the algorithm label names the runner that
	// actually produced the score.
	e.mu.Lock()
	_, md := e.scorer.ScoreMetadata(ratings)
	e.mu.Unlock()
	md.Algorithm = res.algo

	var warnings []string
	if info := mgr.Info(); info.NoteCount != nil {
		warnings = tiers.Warnings(*info.NoteCount, res.tier)
	}

	return &ScoreResult{
		Score:    res.score,
		Tier:     res.tier,
		Metadata: md,
		Warnings: warnings,
	}, nil
}

// RefreshPriorFromSystemAverage pulls the corpus-wide mean helpfulness from
// the rating source into the facade scorer's prior. Later scores see the
// new prior immediately.
func (e *Engine) RefreshPriorFromSystemAverage(ctx context.Context) error {
	if e.ratings == nil {
		return ErrNoRatingSource
	}
	avg, err := e.ratings.GlobalMeanHelpfulness(ctx)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.scorer.UpdatePriorFromSystemAverage(avg)
	e.mu.Unlock()
	e.logger.Info("prior refreshed from system average", "mean", avg)
	return nil
}

// TierInfo detects the current tier and reports its capabilities. Detection
// failures come back inside the Info rather than as an error, which keeps
// the result safe for status surfaces.
func (e *Engine) TierInfo(ctx context.Context) tiers.Info {
	mgr := e.Manager()
	if _, err := mgr.DetectTier(ctx, false); err != nil {
		info := mgr.Info()
		info.Error = err.Error()
		return info
	}
	return mgr.Info()
}

// RunBatch scores every stored note whose ratings changed since it was last
// scored and writes the results back. Requires a bundled store.
func (e *Engine) RunBatch(ctx context.Context) (*BatchReport, error) {
	ctx, span := tracer.Start(ctx, "opennotes.run_batch")
	defer span.End()

	if e.runner == nil {
		return nil, ErrNoStore
	}
	report, err := e.runner.Run(ctx)
	if err != nil {
		return nil, err
	}
	e.counter.Invalidate()
	return toBatchReport(report), nil
}

// InvalidateNoteCount drops the cached corpus size so the next detection
// re-queries the counter.
func (e *Engine) InvalidateNoteCount() {
	if e.counter != nil {
		e.counter.Invalidate()
	}
}

// Close releases the store and flushes telemetry.
func (e *Engine) Close() error {
	err := e.closeStores()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if shutdownErr := e.otelShutdown(ctx); shutdownErr != nil {
		e.logger.Error("telemetry shutdown error", "error", shutdownErr)
	}

	e.logger.Info("opennotes stopped")
	return err
}

func (e *Engine) closeStores() error {
	if e.db != nil {
		e.db.Close()
		e.db = nil
	}
	if e.lite != nil {
		lite := e.lite
		e.lite = nil
		return lite.Close()
	}
	return nil
}

func toBatchReport(r *scorerun.Report) *BatchReport {
	return &BatchReport{
		RunID:        r.RunID,
		Tier:         r.Tier,
		NoteCount:    r.NoteCount,
		Queued:       r.Queued,
		Scored:       r.Scored,
		Failed:       r.Failed,
		Sanitization: r.Sanitization,
		Status:       r.Status,
		Advisories:   r.Advisories,
		StartedAt:    r.StartedAt,
		CompletedAt:  r.CompletedAt,
	}
}
