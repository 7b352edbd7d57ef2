package bus

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const SchemaVersion = "1.0.0"

// BaseEvent contains fields common to all events.
type BaseEvent struct {
	EventID       string    `json:"event_id"`
	Timestamp     time.Time `json:"ts"`
	SchemaVersion string    `json:"schema_version"`
	Producer      string    `json:"producer"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// NewBaseEvent creates a BaseEvent with a fresh id. correlationID ties the
// event to the pipeline run that produced it.
func NewBaseEvent(producer, correlationID string) BaseEvent {
	return BaseEvent{
		EventID:       uuid.New().String(),
		Timestamp:     time.Now().UTC(),
		SchemaVersion: SchemaVersion,
		Producer:      producer,
		CorrelationID: correlationID,
	}
}

// PoolAlert mirrors a delivered Telegram alert.
type PoolAlert struct {
	BaseEvent
	Trigger        string          `json:"trigger"` // stream|manual
	Signature      string          `json:"signature,omitempty"`
	TokenMint      string          `json:"token_mint"`
	TokenName      string          `json:"token_name"`
	TokenSymbol    string          `json:"token_symbol"`
	PriceUSD       decimal.Decimal `json:"price_usd"`
	MarketCapUSD   decimal.Decimal `json:"market_cap_usd"`
	LiquidityUSD   decimal.Decimal `json:"liquidity_usd"`
	Venue          string          `json:"venue"`
	PairURL        string          `json:"pair_url,omitempty"`
	PairsAvailable int             `json:"pairs_available"`
	SafetyFlags    []string        `json:"safety_flags,omitempty"`
	PumpStyle      bool            `json:"pump_style"`
}
