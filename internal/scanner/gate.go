package scanner

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Safety gate: admit or reject a mint based on its RugCheck report.
// Service failures admit the token (fail open).
// ---------------------------------------------------------------------------

// SuffixPolicy controls handling of mints with launchpad-style suffixes.
type SuffixPolicy string

const (
	SuffixOff     SuffixPolicy = "off"
	SuffixFlag    SuffixPolicy = "flag"
	SuffixExclude SuffixPolicy = "exclude"
)

// Filter names reported in Verdict.Filter and in the per-filter counters.
const (
	FilterRugged          = "rugged"
	FilterSuffix          = "suffix"
	FilterBlockName       = "block_name"
	FilterBlockSymbol     = "block_symbol"
	FilterBlockRisk       = "block_risk"
	FilterScore           = "score"
	FilterMintAuthority   = "mint_authority"
	FilterFreezeAuthority = "freeze_authority"
	FilterMutable         = "mutable"
	FilterLiquidity       = "liquidity"
	FilterLPProviders     = "lp_providers"
	FilterInsiders        = "insider_holders"
)

// GateConfig is the safety policy.
type GateConfig struct {
	Disabled              bool         `yaml:"disabled"`
	AllowRugged           bool         `yaml:"allow_rugged"`
	SuffixPolicy          SuffixPolicy `yaml:"suffix_policy"`
	Suffixes              []string     `yaml:"suffixes"`
	BlockNames            []string     `yaml:"block_names"`
	BlockSymbols          []string     `yaml:"block_symbols"`
	BlockRisks            []string     `yaml:"block_risks"`
	MaxScore              float64      `yaml:"max_score"` // 0 = no limit
	RejectMintAuthority   bool         `yaml:"reject_mint_authority"`
	RejectFreezeAuthority bool         `yaml:"reject_freeze_authority"`
	RejectMutable         bool         `yaml:"reject_mutable"`
	MinLiquidityUSD       float64      `yaml:"min_liquidity_usd"`      // 0 = no limit
	MinLPProviders        int          `yaml:"min_lp_providers"`       // 0 = no limit
	MaxInsiderHolderPct   float64      `yaml:"max_insider_holder_pct"` // 0 = no limit
}

// DefaultGateConfig rejects rugged tokens only.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		SuffixPolicy: SuffixOff,
		Suffixes:     []string{"pump", "fun"},
	}
}

// Verdict is the outcome of a safety check.
type Verdict struct {
	Passed    bool     `json:"passed"`
	Reason    string   `json:"reason,omitempty"` // reject reason if !Passed
	Filter    string   `json:"filter,omitempty"` // which filter caught it
	Flags     []string `json:"flags,omitempty"`
	FailOpen  bool     `json:"fail_open,omitempty"`
	LatencyUs int64    `json:"latency_us"`
}

// ReportFetcher fetches safety reports.
type ReportFetcher interface {
	Report(ctx context.Context, mint string) (*Report, error)
}

// Gate evaluates the safety policy against a report fetcher.
type Gate struct {
	config  GateConfig
	fetcher ReportFetcher

	totalChecked  atomic.Int64
	totalPassed   atomic.Int64
	totalRejected atomic.Int64
	totalFailOpen atomic.Int64
	totalSkipped  atomic.Int64
	filterCounts  sync.Map // filter_name -> *atomic.Int64
}

// NewGate creates a safety gate.
func NewGate(config GateConfig, fetcher ReportFetcher) *Gate {
	if config.SuffixPolicy == "" {
		config.SuffixPolicy = SuffixOff
	}
	return &Gate{config: config, fetcher: fetcher}
}

// Check returns the verdict for mint. It makes at most one report request
// and never returns an error: unavailable reports admit the token.
func (g *Gate) Check(ctx context.Context, mint string) Verdict {
	start := time.Now()
	g.totalChecked.Add(1)

	if g.config.Disabled || mint == "" {
		g.totalSkipped.Add(1)
		g.totalPassed.Add(1)
		return Verdict{Passed: true, Reason: "safety check skipped"}
	}

	report, err := g.fetcher.Report(ctx, mint)
	if err != nil {
		g.totalFailOpen.Add(1)
		g.totalPassed.Add(1)
		log.Warn().Err(err).Str("mint", mint).Msg("gate: report unavailable, admitting token")
		return Verdict{
			Passed:    true,
			Reason:    "report unavailable",
			FailOpen:  true,
			LatencyUs: time.Since(start).Microseconds(),
		}
	}

	v := g.evaluate(mint, report)
	v.LatencyUs = time.Since(start).Microseconds()
	if !v.Passed {
		g.recordReject(v.Filter)
		log.Info().
			Str("mint", mint).
			Str("filter", v.Filter).
			Str("reason", v.Reason).
			Msg("gate: token rejected")
		return v
	}

	g.totalPassed.Add(1)
	return v
}

// evaluate runs the rule chain; the first rejecting rule wins.
func (g *Gate) evaluate(mint string, r *Report) Verdict {
	c := g.config
	var flags []string

	if r.Rugged && !c.AllowRugged {
		return reject(FilterRugged, "token is flagged as rugged")
	}

	if c.SuffixPolicy != SuffixOff {
		if sfx, ok := MatchSuffix(mint, c.Suffixes); ok {
			if c.SuffixPolicy == SuffixExclude {
				return reject(FilterSuffix, fmt.Sprintf("mint ends with %q", sfx))
			}
			flags = append(flags, FilterSuffix+":"+sfx)
		}
	}

	if containsFold(c.BlockNames, r.TokenMeta.Name) {
		return reject(FilterBlockName, fmt.Sprintf("blocked name %q", r.TokenMeta.Name))
	}
	if containsFold(c.BlockSymbols, r.TokenMeta.Symbol) {
		return reject(FilterBlockSymbol, fmt.Sprintf("blocked symbol %q", r.TokenMeta.Symbol))
	}
	for _, risk := range r.Risks {
		if containsFold(c.BlockRisks, risk.Name) {
			return reject(FilterBlockRisk, fmt.Sprintf("risk %q", risk.Name))
		}
	}

	if c.MaxScore > 0 && r.Score > c.MaxScore {
		return reject(FilterScore, fmt.Sprintf("score %.0f > %.0f", r.Score, c.MaxScore))
	}
	if c.RejectMintAuthority && r.HasMintAuthority() {
		return reject(FilterMintAuthority, "mint authority not renounced")
	}
	if c.RejectFreezeAuthority && r.HasFreezeAuthority() {
		return reject(FilterFreezeAuthority, "freeze authority not renounced")
	}
	if c.RejectMutable && r.TokenMeta.Mutable {
		return reject(FilterMutable, "metadata is mutable")
	}

	if c.MinLiquidityUSD > 0 {
		min := decimal.NewFromFloat(c.MinLiquidityUSD)
		if r.TotalMarketLiquidity.LessThan(min) {
			return reject(FilterLiquidity, fmt.Sprintf("market liquidity $%s < $%s",
				r.TotalMarketLiquidity.StringFixed(0), min.StringFixed(0)))
		}
	}
	if c.MinLPProviders > 0 && r.TotalLPProviders < c.MinLPProviders {
		return reject(FilterLPProviders, fmt.Sprintf("%d LP providers < %d", r.TotalLPProviders, c.MinLPProviders))
	}
	if c.MaxInsiderHolderPct > 0 {
		if pct := r.InsiderHolderPct(); pct > c.MaxInsiderHolderPct {
			return reject(FilterInsiders, fmt.Sprintf("insiders hold %.1f%% > %.1f%%", pct, c.MaxInsiderHolderPct))
		}
	}

	return Verdict{Passed: true, Flags: flags}
}

func reject(filter, reason string) Verdict {
	return Verdict{Passed: false, Filter: filter, Reason: reason}
}

// MatchSuffix reports the first suffix mint ends with, ignoring case.
func MatchSuffix(mint string, suffixes []string) (string, bool) {
	lower := strings.ToLower(mint)
	for _, s := range suffixes {
		if s != "" && strings.HasSuffix(lower, strings.ToLower(s)) {
			return s, true
		}
	}
	return "", false
}

func containsFold(list []string, v string) bool {
	if v == "" {
		return false
	}
	for _, item := range list {
		if strings.EqualFold(strings.TrimSpace(item), strings.TrimSpace(v)) {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Stats
// ---------------------------------------------------------------------------

func (g *Gate) recordReject(filterName string) {
	g.totalRejected.Add(1)
	val, _ := g.filterCounts.LoadOrStore(filterName, &atomic.Int64{})
	val.(*atomic.Int64).Add(1)
}

// GateStats returns gate statistics.
type GateStats struct {
	TotalChecked  int64            `json:"total_checked"`
	TotalPassed   int64            `json:"total_passed"`
	TotalRejected int64            `json:"total_rejected"`
	TotalFailOpen int64            `json:"total_fail_open"`
	TotalSkipped  int64            `json:"total_skipped"`
	FilterCounts  map[string]int64 `json:"filter_counts"`
}

func (g *Gate) Stats() GateStats {
	counts := make(map[string]int64)
	g.filterCounts.Range(func(key, value any) bool {
		counts[key.(string)] = value.(*atomic.Int64).Load()
		return true
	})

	return GateStats{
		TotalChecked:  g.totalChecked.Load(),
		TotalPassed:   g.totalPassed.Load(),
		TotalRejected: g.totalRejected.Load(),
		TotalFailOpen: g.totalFailOpen.Load(),
		TotalSkipped:  g.totalSkipped.Load(),
		FilterCounts:  counts,
	}
}
