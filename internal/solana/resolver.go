package solana

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Transaction resolver: signature -> (wrapped SOL mint, new token mint)
// ---------------------------------------------------------------------------

// Account positions of the coin and pc mints in the initialize2 instruction.
const (
	coinMintIndex = 8
	pcMintIndex   = 9
	minAccounts   = 10
)

var (
	ErrInstructionNotFound = errors.New("resolver: pool program instruction not found")
	ErrTooFewAccounts      = errors.New("resolver: instruction has too few accounts")
	ErrEmptyMintLeg        = errors.New("resolver: empty mint account")
	ErrResolveExhausted    = errors.New("resolver: retries exhausted")

	// ErrNoWrappedNativeLeg is permanent: a finalized pool does not change
	// its mints, so the resolver stops without retrying.
	ErrNoWrappedNativeLeg = errors.New("resolver: pool has no wrapped native leg")
)

// TransactionFetcher fetches a parsed transaction by signature.
type TransactionFetcher interface {
	GetTransaction(ctx context.Context, sig Signature) (*ParsedTransaction, error)
}

// ResolverConfig controls the retry budget and the addresses to match.
type ResolverConfig struct {
	PoolProgramID     Pubkey        `yaml:"program_id"`
	WrappedNativeMint Pubkey        `yaml:"wrapped_native_mint"`
	MaxTries          int           `yaml:"max_tries"`
	InitialDelay      time.Duration `yaml:"initial_delay"`
	BaseDelay         time.Duration `yaml:"base_delay"`
	Multiplier        float64       `yaml:"multiplier"`
	MaxDelay          time.Duration `yaml:"max_delay"`
}

// DefaultResolverConfig returns the Raydium AMM v4 defaults.
func DefaultResolverConfig() ResolverConfig {
	return ResolverConfig{
		PoolProgramID:     RaydiumAMMProgramID,
		WrappedNativeMint: WrappedSOLMint,
		MaxTries:          10,
		BaseDelay:         4 * time.Second,
		Multiplier:        1.5,
		MaxDelay:          15 * time.Second,
	}
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
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

// Resolver extracts the pool mints from a pool-creation transaction.
type Resolver struct {
	config  ResolverConfig
	fetcher TransactionFetcher
	sleep   SleepFunc
}

// ResolverOption customizes a Resolver.
type ResolverOption func(*Resolver)

// WithSleep replaces the wait between attempts.
func WithSleep(fn SleepFunc) ResolverOption {
	return func(r *Resolver) { r.sleep = fn }
}

// NewResolver creates a resolver; zero config fields take defaults.
func NewResolver(config ResolverConfig, fetcher TransactionFetcher, opts ...ResolverOption) *Resolver {
	d := DefaultResolverConfig()
	if config.PoolProgramID == "" {
		config.PoolProgramID = d.PoolProgramID
	}
	if config.WrappedNativeMint == "" {
		config.WrappedNativeMint = d.WrappedNativeMint
	}
	if config.MaxTries <= 0 {
		config.MaxTries = d.MaxTries
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = d.BaseDelay
	}
	if config.Multiplier < 1 {
		config.Multiplier = d.Multiplier
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = d.MaxDelay
	}

	r := &Resolver{config: config, fetcher: fetcher, sleep: Sleep}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// BackoffDelay returns min(base * multiplier^(attempt-1), max) for a
// 1-based attempt number.
func (r *Resolver) BackoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(r.config.BaseDelay) * math.Pow(r.config.Multiplier, float64(attempt-1))
	if d > float64(r.config.MaxDelay) {
		return r.config.MaxDelay
	}
	return time.Duration(d)
}

// Resolve fetches the transaction up to MaxTries times and extracts the two
// mints. Every failure, including a transaction that is not yet visible, is
// retried after BackoffDelay(attempt), except ErrNoWrappedNativeLeg which is
// returned at once.
func (r *Resolver) Resolve(ctx context.Context, sig Signature) (ResolvedTransaction, error) {
	if r.config.InitialDelay > 0 {
		if err := r.sleep(ctx, r.config.InitialDelay); err != nil {
			return ResolvedTransaction{}, err
		}
	}

	var lastErr error
	for attempt := 1; attempt <= r.config.MaxTries; attempt++ {
		res, err := r.attempt(ctx, sig)
		if err == nil {
			log.Info().
				Str("sig", sig.Short()).
				Str("token", string(res.TokenMint)).
				Int("attempt", attempt).
				Msg("resolver: mints extracted")
			return res, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return ResolvedTransaction{}, ctx.Err()
		}
		if errors.Is(err, ErrNoWrappedNativeLeg) {
			log.Warn().Err(err).Str("sig", sig.Short()).Msg("resolver: pool skipped")
			return ResolvedTransaction{}, err
		}

		evt := log.Warn().
			Err(err).
			Str("sig", sig.Short()).
			Int("attempt", attempt).
			Int("max_tries", r.config.MaxTries)
		if attempt == r.config.MaxTries {
			evt.Msg("resolver: final attempt failed")
			break
		}
		delay := r.BackoffDelay(attempt)
		evt.Dur("retry_in", delay).Msg("resolver: attempt failed")

		if err := r.sleep(ctx, delay); err != nil {
			return ResolvedTransaction{}, err
		}
	}

	return ResolvedTransaction{}, fmt.Errorf("%w after %d attempts: %w", ErrResolveExhausted, r.config.MaxTries, lastErr)
}

func (r *Resolver) attempt(ctx context.Context, sig Signature) (ResolvedTransaction, error) {
	tx, err := r.fetcher.GetTransaction(ctx, sig)
	if err != nil {
		return ResolvedTransaction{}, err
	}
	res, err := r.extract(tx)
	if err != nil {
		return ResolvedTransaction{}, err
	}
	res.Signature = sig
	return res, nil
}

// extract finds the pool program instruction and orders its mint accounts so
// the wrapped native mint comes first.
func (r *Resolver) extract(tx *ParsedTransaction) (ResolvedTransaction, error) {
	var ix *ParsedInstruction
	for i := range tx.Instructions() {
		cand := &tx.Transaction.Message.Instructions[i]
		if strings.EqualFold(cand.ProgramID, string(r.config.PoolProgramID)) {
			ix = cand
			break
		}
	}
	if ix == nil {
		return ResolvedTransaction{}, ErrInstructionNotFound
	}
	if len(ix.Accounts) < minAccounts {
		return ResolvedTransaction{}, fmt.Errorf("%w: %d", ErrTooFewAccounts, len(ix.Accounts))
	}

	coin, pc := Pubkey(ix.Accounts[coinMintIndex]), Pubkey(ix.Accounts[pcMintIndex])
	if coin == "" || pc == "" {
		return ResolvedTransaction{}, ErrEmptyMintLeg
	}

	native := r.config.WrappedNativeMint
	switch {
	case coin == pc:
		return ResolvedTransaction{}, fmt.Errorf("%w: both legs are %s", ErrNoWrappedNativeLeg, coin)
	case coin == native:
		return ResolvedTransaction{WrappedNativeMint: coin, TokenMint: pc}, nil
	case pc == native:
		return ResolvedTransaction{WrappedNativeMint: pc, TokenMint: coin}, nil
	default:
		return ResolvedTransaction{}, fmt.Errorf("%w: coin=%s pc=%s", ErrNoWrappedNativeLeg, coin, pc)
	}
}
