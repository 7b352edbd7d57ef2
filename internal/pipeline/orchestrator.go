package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nexus-trading/poolwatch/internal/market"
	"github.com/nexus-trading/poolwatch/internal/notify"
	"github.com/nexus-trading/poolwatch/internal/scanner"
	"github.com/nexus-trading/poolwatch/internal/solana"
)

// ---------------------------------------------------------------------------
// Orchestrator: one sequential run per detected pool, then a cooldown
// ---------------------------------------------------------------------------

// Resolver turns a signature into the pool's mint pair.
type Resolver interface {
	Resolve(ctx context.Context, sig solana.Signature) (solana.ResolvedTransaction, error)
}

// SafetyChecker decides whether a token may proceed.
type SafetyChecker interface {
	Check(ctx context.Context, mint string) scanner.Verdict
}

// Enricher builds the market snapshot.
type Enricher interface {
	Enrich(ctx context.Context, mint string, opts market.EnrichOptions) (market.Snapshot, error)
}

// Notifier delivers a formatted alert.
type Notifier interface {
	Dispatch(ctx context.Context, msg notify.Message) error
}

// Config is fixed for the orchestrator's lifetime.
type Config struct {
	Cooldown         time.Duration
	SkipVenueCheck   bool // stream runs take the first pair regardless of venue
	ScreenVenueCheck bool // manual screens require the venue too
	Links            notify.LinkConfig
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// TransitionHook observes state changes. It runs on the pipeline goroutine
// and must not block.
type TransitionHook func(Transition)

// OutcomeHook observes finished runs.
type OutcomeHook func(Outcome)

type Option func(*Orchestrator)

func WithSleep(fn SleepFunc) Option {
	return func(o *Orchestrator) { o.sleep = fn }
}

func WithTransitionHook(h TransitionHook) Option {
	return func(o *Orchestrator) { o.onTransition = append(o.onTransition, h) }
}

func WithOutcomeHook(h OutcomeHook) Option {
	return func(o *Orchestrator) { o.onOutcome = append(o.onOutcome, h) }
}

// Orchestrator drives the pipeline state machine.
type Orchestrator struct {
	config   Config
	resolver Resolver
	safety   SafetyChecker
	enricher Enricher
	notifier Notifier
	sleep    SleepFunc

	onTransition []TransitionHook
	onOutcome    []OutcomeHook

	// runMu serializes stream runs and manual screens.
	runMu sync.Mutex
	state atomic.Int32

	runs        atomic.Int64
	screens     atomic.Int64
	notified    atomic.Int64
	rejected    atomic.Int64
	unresolved  atomic.Int64
	unavailable atomic.Int64
	notifyFails atomic.Int64
	lastRunAt   atomic.Int64
}

func NewOrchestrator(config Config, resolver Resolver, safety SafetyChecker, enricher Enricher, notifier Notifier, opts ...Option) *Orchestrator {
	if config.Cooldown < 0 {
		config.Cooldown = 0
	}
	o := &Orchestrator{
		config:   config,
		resolver: resolver,
		safety:   safety,
		enricher: enricher,
		notifier: notifier,
		sleep:    solana.Sleep,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the current state.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// Run consumes events one at a time until ctx is done or events is closed.
func (o *Orchestrator) Run(ctx context.Context, events <-chan solana.PoolEvent) error {
	log.Info().Dur("cooldown", o.config.Cooldown).Msg("pipeline: worker started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("pipeline: worker stopped")
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				log.Info().Msg("pipeline: event stream closed")
				return nil
			}
			o.Process(ctx, ev)
		}
	}
}

// Process executes one full run for ev, including the cooldown when the run
// reached Notifying.
func (o *Orchestrator) Process(ctx context.Context, ev solana.PoolEvent) Outcome {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	o.runs.Add(1)
	out := Outcome{
		RunID:     uuid.New().String(),
		Trigger:   notify.TriggerStream,
		Signature: ev.Signature,
	}
	logger := log.With().Str("run_id", out.RunID).Str("signature", ev.Signature.Short()).Logger()
	start := time.Now()

	logger.Info().Uint64("slot", ev.Slot).Msg("[POOL] new pool detected")

	o.transition(out.RunID, StateResolving)
	resolved, err := o.resolver.Resolve(ctx, ev.Signature)
	if err == nil && !solana.ValidPubkey(string(resolved.TokenMint)) {
		err = fmt.Errorf("%w: %q", ErrInvalidMint, resolved.TokenMint)
	}
	if err != nil {
		out.Result = ResultUnresolved
		o.transition(out.RunID, StateRejected)
		return o.finish(ctx, logger, out, start, StateResolving, err)
	}
	out.TokenMint = string(resolved.TokenMint)
	o.transition(out.RunID, StateResolved)
	logger.Info().Str("mint", out.TokenMint).Msg("pipeline: pool resolved")

	o.runChecks(ctx, logger, &out, market.EnrichOptions{SkipVenueCheck: o.config.SkipVenueCheck})
	return o.finish(ctx, logger, out, start, o.State(), out.Err)
}

// Screen runs a manual screen for mint: safety check, enrichment and
// notification, without cooldown. The error is non-nil when no alert was
// delivered.
func (o *Orchestrator) Screen(ctx context.Context, mint string) error {
	out, err := o.ScreenOutcome(ctx, mint)
	if err != nil {
		return err
	}
	return out.Err
}

// ScreenOutcome is Screen returning the full outcome. The error reports
// invalid input only.
func (o *Orchestrator) ScreenOutcome(ctx context.Context, mint string) (Outcome, error) {
	if !solana.ValidPubkey(mint) {
		return Outcome{}, fmt.Errorf("%w: %q", ErrInvalidMint, mint)
	}

	o.runMu.Lock()
	defer o.runMu.Unlock()

	o.screens.Add(1)
	out := Outcome{
		RunID:     uuid.New().String(),
		Trigger:   notify.TriggerManual,
		TokenMint: mint,
	}
	logger := log.With().Str("run_id", out.RunID).Str("mint", mint).Logger()
	start := time.Now()
	logger.Info().Msg("[SCREEN] manual screen requested")

	opts := market.EnrichOptions{SkipVenueCheck: !o.config.ScreenVenueCheck}
	o.runChecks(ctx, logger, &out, opts)
	return o.finish(ctx, logger, out, start, o.State(), out.Err), nil
}

// runChecks executes SafetyCheck -> Enriching -> Notifying for out.TokenMint.
// It sets out.Result and, on failure, out.Err.
func (o *Orchestrator) runChecks(ctx context.Context, logger zerolog.Logger, out *Outcome, opts market.EnrichOptions) {
	o.transition(out.RunID, StateSafetyCheck)
	verdict := o.safety.Check(ctx, out.TokenMint)
	out.Verdict = &verdict
	if !verdict.Passed {
		out.Result = ResultRejected
		out.Err = &StageError{Stage: StateSafetyCheck, Err: fmt.Errorf("%w: %s", ErrRejected, verdict.Reason)}
		o.transition(out.RunID, StateRejected)
		return
	}
	o.transition(out.RunID, StateAdmitted)
	logger.Info().Bool("fail_open", verdict.FailOpen).Strs("flags", verdict.Flags).Msg("pipeline: safety check passed")

	o.transition(out.RunID, StateEnriching)
	snap, err := o.enricher.Enrich(ctx, out.TokenMint, opts)
	if err != nil {
		out.Result = ResultUnavailable
		if ctx.Err() != nil {
			out.Result = ResultCanceled
		}
		out.Err = &StageError{Stage: StateEnriching, Err: err}
		o.transition(out.RunID, StateUnavailable)
		return
	}
	out.Snapshot = &snap
	o.transition(out.RunID, StateEnriched)

	o.transition(out.RunID, StateNotifying)
	links := o.config.Links
	links.Headline = notify.Headline(out.Trigger, snap.VenueMatched)
	msg := notify.FormatSnapshot(snap, links)
	msg.Alert.RunID = out.RunID
	msg.Alert.Trigger = out.Trigger
	msg.Alert.Signature = string(out.Signature)
	msg.Alert.SafetyFlags = verdict.Flags

	if err := o.notifier.Dispatch(ctx, msg); err != nil {
		out.Result = ResultNotifyFailed
		out.Err = &StageError{Stage: StateNotifying, Err: err}
		return
	}
	out.Result = ResultNotified
}

// finish records the outcome, applies the cooldown for stream runs that
// reached Notifying and returns the machine to Idle.
func (o *Orchestrator) finish(ctx context.Context, logger zerolog.Logger, out Outcome, start time.Time, stage State, err error) Outcome {
	if err != nil {
		var se *StageError
		if !errors.As(err, &se) {
			err = &StageError{Stage: stage, Err: err}
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			out.Result = ResultCanceled
		}
		out.Err = err
		out.Reason = err.Error()
	}
	out.Duration = time.Since(start)
	o.lastRunAt.Store(time.Now().UnixMilli())
	o.count(out.Result)

	if out.Err != nil {
		logger.Warn().Err(out.Err).Str("result", string(out.Result)).Dur("duration", out.Duration).Msg("pipeline: run finished")
	} else {
		logger.Info().Str("result", string(out.Result)).Dur("duration", out.Duration).Msg("[ALERT] run finished")
	}

	for _, h := range o.onOutcome {
		h(out)
	}

	if out.Trigger == notify.TriggerStream && out.consumesCooldown() && o.config.Cooldown > 0 {
		o.transition(out.RunID, StateCooldown)
		logger.Info().Dur("cooldown", o.config.Cooldown).Msg("pipeline: cooling down")
		if err := o.sleep(ctx, o.config.Cooldown); err != nil {
			logger.Debug().Err(err).Msg("pipeline: cooldown interrupted")
		}
	}
	o.transition(out.RunID, StateIdle)
	return out
}

func (o *Orchestrator) count(r Result) {
	switch r {
	case ResultNotified:
		o.notified.Add(1)
	case ResultNotifyFailed:
		o.notifyFails.Add(1)
	case ResultRejected:
		o.rejected.Add(1)
	case ResultUnresolved:
		o.unresolved.Add(1)
	case ResultUnavailable:
		o.unavailable.Add(1)
	}
}

func (o *Orchestrator) transition(runID string, to State) {
	from := o.State()
	if from == to {
		return
	}
	if !CanTransition(from, to) {
		log.Error().Str("run_id", runID).Stringer("from", from).Stringer("to", to).Msg("pipeline: illegal transition")
	}
	o.state.Store(int32(to))

	t := Transition{RunID: runID, From: from, To: to, At: time.Now()}
	for _, h := range o.onTransition {
		h(t)
	}
}

// OrchestratorStats is a point-in-time view of pipeline counters.
type OrchestratorStats struct {
	State        string `json:"state"`
	Runs         int64  `json:"runs"`
	Screens      int64  `json:"screens"`
	Notified     int64  `json:"notified"`
	NotifyFailed int64  `json:"notify_failed"`
	Rejected     int64  `json:"rejected"`
	Unresolved   int64  `json:"unresolved"`
	Unavailable  int64  `json:"unavailable"`
	LastRunAt    int64  `json:"last_run_at_ms"`
}

func (o *Orchestrator) Stats() OrchestratorStats {
	return OrchestratorStats{
		State:        o.State().String(),
		Runs:         o.runs.Load(),
		Screens:      o.screens.Load(),
		Notified:     o.notified.Load(),
		NotifyFailed: o.notifyFails.Load(),
		Rejected:     o.rejected.Load(),
		Unresolved:   o.unresolved.Load(),
		Unavailable:  o.unavailable.Load(),
		LastRunAt:    o.lastRunAt.Load(),
	}
}
