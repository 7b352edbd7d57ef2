package market

import (
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
)

// Snapshot is the market view of a token at the time it was enriched.
type Snapshot struct {
	TokenMint      string          `json:"token_mint"`
	TokenName      string          `json:"token_name"`
	TokenSymbol    string          `json:"token_symbol"`
	PriceUSD       decimal.Decimal `json:"price_usd"`
	MarketCapUSD   decimal.Decimal `json:"market_cap_usd"`
	LiquidityUSD   decimal.Decimal `json:"liquidity_usd"`
	PairCreatedAt  time.Time       `json:"pair_created_at,omitempty"`
	SocialCount    int             `json:"social_count"`
	PairsAvailable int             `json:"pairs_available"`
	VenueMatched   string          `json:"venue_matched"`
	PairURL        string          `json:"pair_url,omitempty"`
	PumpStyle      bool            `json:"pump_style"`
}

// HasSocials reports whether the pair lists any social links.
func (s Snapshot) HasSocials() bool {
	return s.SocialCount > 0
}

// Age renders the pair age relative to now, or "unknown" when the
// aggregator did not report a creation time.
func (s Snapshot) Age(now time.Time) string {
	if s.PairCreatedAt.IsZero() {
		return "unknown"
	}
	return humanize.RelTime(s.PairCreatedAt, now, "ago", "from now")
}

// snapshotFromPair derives a Snapshot; absent fields take their defaults.
func snapshotFromPair(mint string, p Pair, pairs int, pumpSuffixes []string) Snapshot {
	s := Snapshot{
		TokenMint:      mint,
		TokenName:      p.BaseToken.Name,
		TokenSymbol:    p.BaseToken.Symbol,
		PriceUSD:       orZero(p.PriceUsd),
		MarketCapUSD:   orZero(p.MarketCap),
		PairsAvailable: pairs,
		VenueMatched:   p.DexID,
		PairURL:        p.URL,
		PumpStyle:      IsPumpStyle(mint, pumpSuffixes),
	}
	if s.TokenName == "" {
		s.TokenName = mint
	}
	if s.TokenSymbol == "" {
		s.TokenSymbol = "N/A"
	}
	if p.Liquidity != nil {
		s.LiquidityUSD = orZero(p.Liquidity.USD)
	}
	if p.PairCreatedAt > 0 {
		s.PairCreatedAt = time.UnixMilli(p.PairCreatedAt)
	}
	if p.Info != nil {
		s.SocialCount = len(p.Info.Socials)
	}
	return s
}

func orZero(d decimal.NullDecimal) decimal.Decimal {
	if d.Valid {
		return d.Decimal
	}
	return decimal.Zero
}

// IsPumpStyle reports whether mint ends with one of the launchpad suffixes.
func IsPumpStyle(mint string, suffixes []string) bool {
	lower := strings.ToLower(mint)
	for _, s := range suffixes {
		if s != "" && strings.HasSuffix(lower, strings.ToLower(s)) {
			return true
		}
	}
	return false
}
