package market

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Market enricher: warm-up, then bounded polling until a pair on the
// requested venue appears
// ---------------------------------------------------------------------------

var (
	ErrVenueNotMatched = errors.New("enricher: no pair on requested venue")
	ErrUnavailable     = errors.New("enricher: market data unavailable")
)

// PairSource returns the pairs known for a token.
type PairSource interface {
	TokenPairs(ctx context.Context, chain, mint string) ([]Pair, error)
}

// EnricherConfig controls polling.
type EnricherConfig struct {
	Chain        string        `yaml:"chain"`
	VenueFilter  string        `yaml:"venue_filter"`
	WarmUp       time.Duration `yaml:"warm_up"`
	MaxTries     int           `yaml:"max_tries"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
	PumpSuffixes []string      `yaml:"pump_suffixes"`
}

// DefaultEnricherConfig returns defaults for Solana / Raydium.
func DefaultEnricherConfig() EnricherConfig {
	return EnricherConfig{
		Chain:        "solana",
		VenueFilter:  "raydium",
		WarmUp:       30 * time.Second,
		MaxTries:     10,
		RetryDelay:   5 * time.Second,
		PumpSuffixes: []string{"pump", "fun"},
	}
}

// EnrichOptions are per-call overrides.
type EnrichOptions struct {
	VenueFilter    string // empty = configured venue
	SkipVenueCheck bool   // take the first pair regardless of venue
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enricher builds market snapshots for freshly listed tokens.
type Enricher struct {
	config EnricherConfig
	source PairSource
	sleep  SleepFunc

	attempts  atomic.Int64
	enriched  atomic.Int64
	exhausted atomic.Int64
}

// EnricherOption customizes an Enricher.
type EnricherOption func(*Enricher)

// WithSleep replaces the warm-up and retry waits.
func WithSleep(fn SleepFunc) EnricherOption {
	return func(e *Enricher) { e.sleep = fn }
}

// NewEnricher creates an enricher; zero config fields take defaults.
func NewEnricher(config EnricherConfig, source PairSource, opts ...EnricherOption) *Enricher {
	d := DefaultEnricherConfig()
	if config.Chain == "" {
		config.Chain = d.Chain
	}
	if config.VenueFilter == "" {
		config.VenueFilter = d.VenueFilter
	}
	if config.MaxTries <= 0 {
		config.MaxTries = d.MaxTries
	}
	if config.PumpSuffixes == nil {
		config.PumpSuffixes = d.PumpSuffixes
	}

	e := &Enricher{config: config, source: source, sleep: sleepCtx}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Chain returns the configured chain id.
func (e *Enricher) Chain() string {
	return e.config.Chain
}

// Enrich waits out the warm-up period, then polls up to MaxTries times with
// a fixed RetryDelay between attempts.
func (e *Enricher) Enrich(ctx context.Context, mint string, opts EnrichOptions) (Snapshot, error) {
	venue := opts.VenueFilter
	if venue == "" {
		venue = e.config.VenueFilter
	}

	if e.config.WarmUp > 0 {
		log.Debug().Str("mint", mint).Dur("warm_up", e.config.WarmUp).Msg("enricher: waiting for aggregator to index")
		if err := e.sleep(ctx, e.config.WarmUp); err != nil {
			return Snapshot{}, err
		}
	}

	var lastErr error
	for attempt := 1; attempt <= e.config.MaxTries; attempt++ {
		e.attempts.Add(1)

		snap, err := e.attempt(ctx, mint, venue, opts.SkipVenueCheck)
		if err == nil {
			e.enriched.Add(1)
			log.Info().
				Str("mint", mint).
				Str("venue", snap.VenueMatched).
				Int("pairs", snap.PairsAvailable).
				Int("attempt", attempt).
				Msg("enricher: snapshot ready")
			return snap, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return Snapshot{}, ctx.Err()
		}
		log.Debug().
			Err(err).
			Str("mint", mint).
			Int("attempt", attempt).
			Int("max_tries", e.config.MaxTries).
			Msg("enricher: attempt failed")

		if attempt == e.config.MaxTries {
			break
		}
		if err := e.sleep(ctx, e.config.RetryDelay); err != nil {
			return Snapshot{}, err
		}
	}

	e.exhausted.Add(1)
	return Snapshot{}, fmt.Errorf("%w after %d attempts: %w", ErrUnavailable, e.config.MaxTries, lastErr)
}

func (e *Enricher) attempt(ctx context.Context, mint, venue string, skipVenueCheck bool) (Snapshot, error) {
	pairs, err := e.source.TokenPairs(ctx, e.config.Chain, mint)
	if err != nil {
		return Snapshot{}, err
	}
	if len(pairs) == 0 {
		return Snapshot{}, ErrNoPairs
	}

	if skipVenueCheck {
		return snapshotFromPair(mint, pairs[0], len(pairs), e.config.PumpSuffixes), nil
	}
	for _, p := range pairs {
		if p.DexID == venue {
			return snapshotFromPair(mint, p, len(pairs), e.config.PumpSuffixes), nil
		}
	}
	return Snapshot{}, fmt.Errorf("%w: %s (%d pairs)", ErrVenueNotMatched, venue, len(pairs))
}

// EnricherStats returns enricher statistics.
type EnricherStats struct {
	Attempts  int64 `json:"attempts"`
	Enriched  int64 `json:"enriched"`
	Exhausted int64 `json:"exhausted"`
}

func (e *Enricher) Stats() EnricherStats {
	return EnricherStats{
		Attempts:  e.attempts.Load(),
		Enriched:  e.enriched.Load(),
		Exhausted: e.exhausted.Load(),
	}
}
