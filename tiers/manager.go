package tiers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var meter = otel.GetMeterProvider().Meter("opennotes/tiers")

// DefaultScorerTimeout bounds a single scorer attempt in the fallback
// runner when the manager is not configured otherwise.
const DefaultScorerTimeout = 30 * time.Second

// CountFunc reports the number of published notes in the corpus. The count
// is non-negative; failures are transient and surface from DetectTier.
type CountFunc func(ctx context.Context) (int64, error)

// Manager owns tier detection state for one logical scoring workflow: the
// detected tier, a cached note count, and the scorer timeout policy.
//
// A Manager is single-owner and not safe for concurrent use. It is cheap to
// construct; build one per request or per worker and let workers aggregate
// afterward.
type Manager struct {
	count    CountFunc
	override *Tier
	timeout  time.Duration
	logger   *slog.Logger

	current     *Tier  // nil until first successful detection
	cachedCount *int64 // nil until first fetch or after invalidation
}

// ManagerOption configures a Manager at construction.
type ManagerOption func(*Manager)

// WithTierOverride pins the manager to t. Detection returns t without ever
// consulting the note count accessor.
func WithTierOverride(t Tier) ManagerOption {
	return func(m *Manager) { m.override = &t }
}

// WithScorerTimeout sets the per-attempt timeout used by RunWithFallback.
func WithScorerTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithLogger sets the manager's logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager builds a manager around a note count accessor. count may be nil
// when an override pins the tier and nothing asks for the corpus size.
func NewManager(count CountFunc, opts ...ManagerOption) *Manager {
	m := &Manager{
		count:   count,
		timeout: DefaultScorerTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// DetectTier resolves the tier for the current corpus size and moves the
// manager to the detected state. With an override set the accessor is never
// called. forceRefresh bypasses the cached note count.
func (m *Manager) DetectTier(ctx context.Context, forceRefresh bool) (Tier, error) {
	if m.override != nil {
		m.setTier(ctx, *m.override, 0, true)
		return *m.override, nil
	}

	n, err := m.NoteCount(ctx, !forceRefresh)
	if err != nil {
		return 0, fmt.Errorf("tiers: detect tier: %w", err)
	}

	t := ForNoteCount(n)
	m.setTier(ctx, t, n, false)
	return t, nil
}

func (m *Manager) setTier(ctx context.Context, t Tier, noteCount int64, overridden bool) {
	prev := m.current
	m.current = &t

	switch {
	case prev == nil:
		m.logger.Info("tiers: tier detected",
			"tier", t.String(), "note_count", noteCount, "override", overridden)
		if counter, err := meter.Int64Counter("opennotes.tier.detections"); err == nil {
			counter.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("tier", t.String())))
		}
	case *prev != t:
		m.logger.Info("tiers: tier transition",
			"from", prev.String(), "to", t.String(), "note_count", noteCount)
		if counter, err := meter.Int64Counter("opennotes.tier.transitions"); err == nil {
			counter.Add(ctx, 1, otelmetric.WithAttributes(
				attribute.String("from", prev.String()),
				attribute.String("to", t.String()),
			))
		}
	}
}

// NoteCount returns the corpus size, from cache when useCache is true and a
// cached value exists. A fresh fetch always repopulates the cache.
func (m *Manager) NoteCount(ctx context.Context, useCache bool) (int64, error) {
	if useCache && m.cachedCount != nil {
		return *m.cachedCount, nil
	}
	if m.count == nil {
		return 0, fmt.Errorf("tiers: note count: no accessor configured")
	}
	n, err := m.count(ctx)
	if err != nil {
		return 0, fmt.Errorf("tiers: note count: %w", err)
	}
	m.cachedCount = &n
	return n, nil
}

// InvalidateNoteCount drops the cached corpus size. The next NoteCount or
// DetectTier call re-queries the accessor.
func (m *Manager) InvalidateNoteCount() {
	m.cachedCount = nil
}

// CurrentTier returns the detected tier, if any.
func (m *Manager) CurrentTier() (Tier, bool) {
	if m.current == nil {
		return 0, false
	}
	return *m.current, true
}

// CurrentConfig returns the capability config of the detected tier, or
// ErrNotDetected when DetectTier has not succeeded yet.
func (m *Manager) CurrentConfig() (Config, error) {
	if m.current == nil {
		return Config{}, ErrNotDetected
	}
	return ConfigFor(*m.current)
}

// ScorerTimeout reports the per-attempt timeout used by the fallback runner.
func (m *Manager) ScorerTimeout() time.Duration {
	return m.timeout
}

// Info is a diagnostic snapshot of a manager's tier state. It is always
// well-formed: before detection it carries Detected=false and an Error text
// instead of failing, which keeps it safe for status surfaces.
type Info struct {
	Detected             bool     `json:"detected"`
	Tier                 string   `json:"tier,omitempty"`
	MinNotes             int64    `json:"min_notes"`
	MaxNotes             *int64   `json:"max_notes,omitempty"`
	Description          string   `json:"description,omitempty"`
	Scorers              []string `json:"scorers,omitempty"`
	RequiresFullPipeline bool     `json:"requires_full_pipeline"`
	EnableClustering     bool     `json:"enable_clustering"`
	ConfidenceWarnings   bool     `json:"confidence_warnings"`
	NoteCount            *int64   `json:"note_count,omitempty"`
	Override             bool     `json:"override"`
	Error                string   `json:"error,omitempty"`
}

// Info reports the detected tier's capabilities plus the manager's cached
// state.
func (m *Manager) Info() Info {
	if m.current == nil {
		return Info{
			Override:  m.override != nil,
			NoteCount: m.cachedCount,
			Error:     "tier not detected yet, call DetectTier first",
		}
	}
	return m.InfoFor(*m.current)
}

// InfoFor reports tier t's capabilities regardless of detection state.
func (m *Manager) InfoFor(t Tier) Info {
	cfg, err := ConfigFor(t)
	if err != nil {
		return Info{
			Override:  m.override != nil,
			NoteCount: m.cachedCount,
			Error:     err.Error(),
		}
	}
	return Info{
		Detected:             m.current != nil,
		Tier:                 t.String(),
		MinNotes:             cfg.MinNotes,
		MaxNotes:             cfg.MaxNotes,
		Description:          cfg.Description,
		Scorers:              cfg.Scorers,
		RequiresFullPipeline: cfg.RequiresFullPipeline,
		EnableClustering:     cfg.EnableClustering,
		ConfidenceWarnings:   cfg.ConfidenceWarnings,
		NoteCount:            m.cachedCount,
		Override:             m.override != nil,
	}
}
