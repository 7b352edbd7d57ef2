package solana

import (
	"time"

	"github.com/mr-tron/base58"
)

// Pubkey is a Solana public key (base58 string).
type Pubkey string

// Signature is a Solana transaction signature.
type Signature string

// Well-known addresses.
const (
	WrappedSOLMint      Pubkey = "So11111111111111111111111111111111111111112"
	RaydiumAMMProgramID Pubkey = "675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8"
)

// PoolInitMarker is the log line Raydium AMM v4 emits on initialize2.
const PoolInitMarker = "Program log: initialize2: InitializeInstruction2"

const pubkeyLen = 32

// ValidPubkey reports whether s decodes to a 32-byte base58 key.
func ValidPubkey(s string) bool {
	b, err := base58.Decode(s)
	return err == nil && len(b) == pubkeyLen
}

// Short returns a log-friendly prefix of the signature.
func (s Signature) Short() string {
	if len(s) > 12 {
		return string(s[:12])
	}
	return string(s)
}

// ---------------------------------------------------------------------------
// Pipeline types
// ---------------------------------------------------------------------------

// LogEvent is one logsNotification payload.
type LogEvent struct {
	Signature Signature `json:"signature"`
	Logs      []string  `json:"logs"`
	Slot      uint64    `json:"slot"`
}

// PoolEvent is emitted when a log notification carries the pool-init marker.
type PoolEvent struct {
	Signature  Signature `json:"signature"`
	Slot       uint64    `json:"slot"`
	DetectedAt time.Time `json:"detected_at"`
}

// ResolvedTransaction holds the two mints of a newly created pool.
type ResolvedTransaction struct {
	Signature         Signature `json:"signature"`
	WrappedNativeMint Pubkey    `json:"wrapped_native_mint"`
	TokenMint         Pubkey    `json:"token_mint"`
}
