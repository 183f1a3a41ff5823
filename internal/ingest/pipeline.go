// Package ingest pulls raw quotes from ranked sources, validates them, and
// installs canonical snapshots into the rate cache.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"gold-rate-alerts/internal/fetcher"
	"gold-rate-alerts/internal/metrics"
	"gold-rate-alerts/internal/rates"
)

var (
	// ErrAllSourcesExhausted indicates every ranked source failed for a
	// city. The prior snapshot is retained and may be marked stale.
	ErrAllSourcesExhausted = errors.New("ingest: all sources exhausted")
	// ErrImplausibleValue indicates a quote failed sanity bounds and was
	// treated like a source failure.
	ErrImplausibleValue = errors.New("ingest: implausible value")
)

// Result classifies the outcome of one city's ingestion.
type Result string

const (
	ResultFresh  Result = "fresh"
	ResultStale  Result = "stale"
	ResultFailed Result = "failed"
)

// Outcome reports what happened for one city in one cycle.
type Outcome struct {
	City   string
	Result Result
	Source string
	Err    error
}

// History persists accepted snapshots for audit and export. A nil History
// disables persistence.
type History interface {
	InsertSnapshot(ctx context.Context, snap rates.Snapshot) error
}

// Options tune pipeline validation.
type Options struct {
	// MaxJumpPct rejects a quote whose base rate moved more than this
	// percentage from the prior snapshot in a single cycle.
	MaxJumpPct decimal.Decimal
	// StaleAfter is the snapshot age beyond which a failed cycle flags the
	// retained snapshot as stale.
	StaleAfter time.Duration
	// SourceTimeout bounds each individual provider attempt.
	SourceTimeout time.Duration
}

// Pipeline runs ranked-source ingestion for a set of cities.
type Pipeline struct {
	providers []fetcher.Provider
	cache     *rates.Cache
	history   History
	opts      Options
	logger    zerolog.Logger
}

// New constructs a pipeline. Providers are tried in the order given; the
// first quote passing sanity bounds wins and sources are never blended.
func New(providers []fetcher.Provider, cache *rates.Cache, history History, opts Options, logger zerolog.Logger) *Pipeline {
	if opts.SourceTimeout <= 0 {
		opts.SourceTimeout = 10 * time.Second
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = time.Hour
	}
	return &Pipeline{
		providers: providers,
		cache:     cache,
		history:   history,
		opts:      opts,
		logger:    logger.With().Str("component", "ingest").Logger(),
	}
}

// Ingest runs one cycle for a single city. On success both the gold and
// silver snapshots are replaced atomically per key; on exhaustion the prior
// snapshots stay in place and are flagged stale once old enough. Failures
// are reported in the Outcome, never panicked or propagated as job faults.
func (p *Pipeline) Ingest(ctx context.Context, city string, cycle uint64) Outcome {
	var lastErr error

	for _, provider := range p.providers {
		quote, err := p.tryProvider(ctx, provider, city)
		if err != nil {
			lastErr = err
			reason := "unavailable"
			if errors.Is(err, ErrImplausibleValue) {
				reason = "implausible"
			}
			metrics.SourceRejections.WithLabelValues(provider.Name(), reason).Inc()
			p.logger.Warn().Err(err).Str("city", city).Str("source", provider.Name()).Msg("source rejected")
			continue
		}

		p.commit(ctx, quote, cycle)
		metrics.IngestCycles.WithLabelValues(city, string(ResultFresh)).Inc()
		return Outcome{City: city, Result: ResultFresh, Source: provider.Name()}
	}

	out := Outcome{City: city, Result: ResultFailed, Err: fmt.Errorf("%w: %v", ErrAllSourcesExhausted, lastErr)}
	now := time.Now().UTC()
	for _, metal := range []rates.Metal{rates.Gold, rates.Silver} {
		if p.cache.MarkStale(rates.Key{City: city, Metal: metal}, now, p.opts.StaleAfter) {
			out.Result = ResultStale
		}
	}
	metrics.IngestCycles.WithLabelValues(city, string(out.Result)).Inc()
	return out
}

// IngestAll runs one cycle across every city. One city failing never blocks
// the others.
func (p *Pipeline) IngestAll(ctx context.Context, cities []string, cycle uint64) []Outcome {
	outcomes := make([]Outcome, 0, len(cities))
	for _, city := range cities {
		if ctx.Err() != nil {
			break
		}
		outcome := p.Ingest(ctx, city, cycle)
		if outcome.Err != nil {
			p.logger.Error().Err(outcome.Err).Str("city", city).Msg("city ingestion failed")
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

func (p *Pipeline) tryProvider(ctx context.Context, provider fetcher.Provider, city string) (fetcher.Quote, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, p.opts.SourceTimeout)
	defer cancel()

	quote, err := provider.Fetch(attemptCtx, city)
	if err != nil {
		return fetcher.Quote{}, err
	}
	if err := p.checkBounds(city, quote); err != nil {
		return fetcher.Quote{}, err
	}
	return quote, nil
}

// checkBounds rejects non-positive rates and order-of-magnitude moves
// relative to the prior snapshot.
func (p *Pipeline) checkBounds(city string, quote fetcher.Quote) error {
	if !quote.Gold24K.IsPositive() {
		return fmt.Errorf("%w: gold rate %s not positive", ErrImplausibleValue, quote.Gold24K)
	}
	if quote.Silver.IsNegative() {
		return fmt.Errorf("%w: silver rate %s negative", ErrImplausibleValue, quote.Silver)
	}
	if p.opts.MaxJumpPct.IsZero() {
		return nil
	}

	prior, ok := p.cache.Latest(rates.Key{City: city, Metal: rates.Gold})
	if !ok || prior.Base.IsZero() {
		return nil
	}

	jump := quote.Gold24K.Sub(prior.Base).Abs().Div(prior.Base).Mul(decimal.NewFromInt(100))
	if jump.GreaterThan(p.opts.MaxJumpPct) {
		return fmt.Errorf("%w: gold moved %s%% against prior %s", ErrImplausibleValue, jump.StringFixed(1), prior.Base)
	}
	return nil
}

// commit builds snapshots from an accepted quote and replaces them in the
// cache. Nothing is written if ctx was already cancelled, so an abandoned
// run never commits a partial cycle.
func (p *Pipeline) commit(ctx context.Context, quote fetcher.Quote, cycle uint64) {
	if ctx.Err() != nil {
		return
	}

	gold := rates.NewSnapshot(quote.City, rates.Gold, quote.Gold24K, quote.AsOf)
	gold.USDPerOz = quote.GoldUSDOz
	gold.USDINR = quote.USDINR
	gold.Source = quote.Source
	gold.Cycle = cycle
	p.cache.Replace(gold)
	p.persist(ctx, gold)

	if quote.Silver.IsPositive() {
		silver := rates.NewSnapshot(quote.City, rates.Silver, quote.Silver, quote.AsOf)
		silver.USDINR = quote.USDINR
		silver.Source = quote.Source
		silver.Cycle = cycle
		p.cache.Replace(silver)
		p.persist(ctx, silver)
	}
}

func (p *Pipeline) persist(ctx context.Context, snap rates.Snapshot) {
	if p.history == nil {
		return
	}
	if err := p.history.InsertSnapshot(ctx, snap); err != nil {
		p.logger.Error().Err(err).Str("city", snap.City).Str("metal", string(snap.Metal)).Msg("failed to persist snapshot")
	}
}
