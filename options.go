package opennotes

import (
	"log/slog"
	"time"

	"github.com/opennotes-ai/opennotes-sub009/scoring"
	"github.com/opennotes-ai/opennotes-sub009/tiers"
)

// Option configures an Engine.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported; callers use the With* functions.
type resolvedOptions struct {
	logger        *slog.Logger
	version       string
	databaseURL   string
	sqlitePath    string
	scorerTimeout time.Duration
	noteCountTTL  time.Duration
	tierOverride  *tiers.Tier
	counter       NoteCounter
	ratings       RatingSource
	scorerOpts    []scoring.Option
	runners       map[string]scoring.Runner
	workers       int
	batchSize     int
}

// WithLogger sets the structured logger for the Engine.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in telemetry and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithDatabaseURL overrides the Postgres connection string from config
// (OPENNOTES_DATABASE_URL env var).
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithSQLitePath overrides the embedded store path from config
// (OPENNOTES_SQLITE_PATH env var). Ignored when a Postgres URL is set.
func WithSQLitePath(path string) Option {
	return func(o *resolvedOptions) { o.sqlitePath = path }
}

// WithScorerTimeout overrides the per-attempt scorer timeout from config
// (OPENNOTES_SCORER_TIMEOUT env var).
func WithScorerTimeout(d time.Duration) Option {
	return func(o *resolvedOptions) { o.scorerTimeout = d }
}

// WithNoteCountTTL overrides how long the cached corpus size stays fresh
// (OPENNOTES_NOTE_COUNT_TTL env var).
func WithNoteCountTTL(d time.Duration) Option {
	return func(o *resolvedOptions) { o.noteCountTTL = d }
}

// WithTierOverride pins every detection to tier t. The note count accessor
// is never consulted, so corpus-size advisories are unavailable.
func WithTierOverride(t tiers.Tier) Option {
	return func(o *resolvedOptions) { o.tierOverride = &t }
}

// WithNoteCounter replaces the store-backed corpus size source. Required
// when neither OPENNOTES_DATABASE_URL nor OPENNOTES_SQLITE_PATH is set.
func WithNoteCounter(c NoteCounter) Option {
	return func(o *resolvedOptions) { o.counter = c }
}

// WithRatingSource replaces the store-backed ratings source. Without one,
// ScoreNote and RefreshPriorFromSystemAverage return ErrNoRatingSource.
func WithRatingSource(r RatingSource) Option {
	return func(o *resolvedOptions) { o.ratings = r }
}

// WithScorerOptions forwards options to the engine's Bayesian scorer,
// applied after the config-derived ones so they win.
func WithScorerOptions(opts ...scoring.Option) Option {
	return func(o *resolvedOptions) { o.scorerOpts = append(o.scorerOpts, opts...) }
}

// WithScorerRunner registers a scoring algorithm under name, typically one
// of the higher-tier identifiers from the tier table (matrix_factorization,
// clustering, reputation_weighted). Registering a built-in name replaces
// the built-in. Tiers whose chains name nothing registered fall through to
// the Bayesian tail.
func WithScorerRunner(name string, fn scoring.Runner) Option {
	return func(o *resolvedOptions) {
		if o.runners == nil {
			o.runners = make(map[string]scoring.Runner)
		}
		o.runners[name] = fn
	}
}

// WithWorkers overrides the batch run worker count (OPENNOTES_WORKERS env
// var).
func WithWorkers(n int) Option {
	return func(o *resolvedOptions) { o.workers = n }
}

// WithBatchSize overrides how many stale notes one batch run picks up
// (OPENNOTES_BATCH_SIZE env var).
func WithBatchSize(n int) Option {
	return func(o *resolvedOptions) { o.batchSize = n }
}
