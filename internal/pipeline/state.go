package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/nexus-trading/poolwatch/internal/market"
	"github.com/nexus-trading/poolwatch/internal/notify"
	"github.com/nexus-trading/poolwatch/internal/scanner"
	"github.com/nexus-trading/poolwatch/internal/solana"
)

// State is a step of a pipeline run.
type State int32

const (
	StateIdle State = iota
	StateResolving
	StateResolved
	StateSafetyCheck
	StateAdmitted
	StateEnriching
	StateEnriched
	StateNotifying
	StateCooldown
	StateRejected
	StateUnavailable
)

var stateNames = [...]string{
	StateIdle:        "idle",
	StateResolving:   "resolving",
	StateResolved:    "resolved",
	StateSafetyCheck: "safety_check",
	StateAdmitted:    "admitted",
	StateEnriching:   "enriching",
	StateEnriched:    "enriched",
	StateNotifying:   "notifying",
	StateCooldown:    "cooldown",
	StateRejected:    "rejected",
	StateUnavailable: "unavailable",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// allowed lists the legal successors of each state.
var allowed = map[State][]State{
	StateIdle:        {StateResolving, StateSafetyCheck},
	StateResolving:   {StateResolved, StateRejected},
	StateResolved:    {StateSafetyCheck},
	StateSafetyCheck: {StateAdmitted, StateRejected},
	StateAdmitted:    {StateEnriching},
	StateEnriching:   {StateEnriched, StateUnavailable},
	StateEnriched:    {StateNotifying},
	StateNotifying:   {StateCooldown, StateIdle},
	StateCooldown:    {StateIdle},
	StateRejected:    {StateIdle},
	StateUnavailable: {StateIdle},
}

// CanTransition reports whether from -> to is a legal step. Idle -> SafetyCheck
// is the manual-screen entry point; Notifying -> Idle ends a manual screen.
func CanTransition(from, to State) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition is emitted on every state change.
type Transition struct {
	RunID string
	From  State
	To    State
	At    time.Time
}

// Result classifies how a run ended.
type Result string

const (
	ResultUnresolved   Result = "unresolved"
	ResultRejected     Result = "rejected"
	ResultUnavailable  Result = "unavailable"
	ResultNotified     Result = "notified"
	ResultNotifyFailed Result = "notify_failed"
	ResultCanceled     Result = "canceled"
)

var (
	ErrRejected    = errors.New("pipeline: rejected by safety gate")
	ErrInvalidMint = errors.New("pipeline: invalid mint address")
)

// StageError records the state in which a run failed.
type StageError struct {
	Stage State
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline: %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Outcome is the typed result of one run.
type Outcome struct {
	RunID     string           `json:"run_id"`
	Trigger   notify.Trigger   `json:"trigger"`
	Signature solana.Signature `json:"signature,omitempty"`
	TokenMint string           `json:"token_mint,omitempty"`
	Result    Result           `json:"result"`
	Verdict   *scanner.Verdict `json:"verdict,omitempty"`
	Snapshot  *market.Snapshot `json:"snapshot,omitempty"`
	Err       error            `json:"-"`
	Reason    string           `json:"reason,omitempty"`
	Duration  time.Duration    `json:"duration_ns"`
}

// Delivered reports whether the alert reached the primary sink.
func (o Outcome) Delivered() bool {
	return o.Result == ResultNotified
}

// consumesCooldown reports whether the run reached Notifying.
func (o Outcome) consumesCooldown() bool {
	return o.Result == ResultNotified || o.Result == ResultNotifyFailed
}
