package scanner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// RugCheck client: GET /tokens/{mint}/report
// ---------------------------------------------------------------------------

// ErrEmptyReport is returned when the service answers without a usable report.
var ErrEmptyReport = errors.New("rugcheck: empty report")

// Report is the subset of a RugCheck token report the gate evaluates.
type Report struct {
	Mint            string  `json:"mint"`
	Rugged          bool    `json:"rugged"`
	Score           float64 `json:"score"`
	ScoreNormalised float64 `json:"score_normalised"`
	TokenMeta       struct {
		Name    string `json:"name"`
		Symbol  string `json:"symbol"`
		Mutable bool   `json:"mutable"`
	} `json:"tokenMeta"`
	MintAuthority        *string         `json:"mintAuthority"`
	FreezeAuthority      *string         `json:"freezeAuthority"`
	TotalMarketLiquidity decimal.Decimal `json:"totalMarketLiquidity"`
	TotalLPProviders     int             `json:"totalLPProviders"`
	Risks                []Risk          `json:"risks"`
	TopHolders           []Holder        `json:"topHolders"`
	Markets              []struct {
		Pubkey     string `json:"pubkey"`
		MarketType string `json:"marketType"`
	} `json:"markets"`
}

type Risk struct {
	Name        string `json:"name"`
	Level       string `json:"level"`
	Description string `json:"description"`
	Score       int    `json:"score"`
}

type Holder struct {
	Address string  `json:"address"`
	Pct     float64 `json:"pct"`
	Insider bool    `json:"insider"`
}

// HasMintAuthority reports whether the mint authority is still set.
func (r *Report) HasMintAuthority() bool {
	return r.MintAuthority != nil && *r.MintAuthority != ""
}

// HasFreezeAuthority reports whether the freeze authority is still set.
func (r *Report) HasFreezeAuthority() bool {
	return r.FreezeAuthority != nil && *r.FreezeAuthority != ""
}

// InsiderHolderPct sums the share of top holders flagged as insiders.
func (r *Report) InsiderHolderPct() float64 {
	total := 0.0
	for _, h := range r.TopHolders {
		if h.Insider {
			total += h.Pct
		}
	}
	return total
}

// RugCheckClient fetches token safety reports.
type RugCheckClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewRugCheckClient creates a client; timeout bounds every request.
func NewRugCheckClient(baseURL string, timeout time.Duration) *RugCheckClient {
	if baseURL == "" {
		baseURL = "https://api.rugcheck.xyz/v1"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RugCheckClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Report fetches the report for mint.
func (c *RugCheckClient) Report(ctx context.Context, mint string) (*Report, error) {
	reqURL := fmt.Sprintf("%s/tokens/%s/report", c.baseURL, url.PathEscape(mint))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("rugcheck: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rugcheck: http error: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("rugcheck: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rugcheck: status %d", resp.StatusCode)
	}

	body = bytes.TrimSpace(body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) || bytes.Equal(body, []byte("{}")) {
		return nil, ErrEmptyReport
	}

	var envelope struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &envelope) == nil && envelope.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrEmptyReport, envelope.Error)
	}

	var report Report
	if err := json.Unmarshal(body, &report); err != nil {
		return nil, fmt.Errorf("rugcheck: decode report: %w", err)
	}
	return &report, nil
}
