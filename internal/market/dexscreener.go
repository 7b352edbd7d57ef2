package market

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
// DexScreener client: GET {endpoint}/{chain}/{mint}
// ---------------------------------------------------------------------------

// ErrNoPairs is returned when the aggregator has no pairs for the token yet.
var ErrNoPairs = errors.New("dexscreener: no pairs")

type Token struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Symbol  string `json:"symbol"`
}

type Liquidity struct {
	USD   decimal.NullDecimal `json:"usd"`
	Base  decimal.NullDecimal `json:"base"`
	Quote decimal.NullDecimal `json:"quote"`
}

type Social struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

type Website struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

type PairInfo struct {
	ImageURL string    `json:"imageUrl"`
	Websites []Website `json:"websites"`
	Socials  []Social  `json:"socials"`
}

// Pair is one trading pair as reported by DexScreener.
type Pair struct {
	ChainID       string              `json:"chainId"`
	DexID         string              `json:"dexId"`
	URL           string              `json:"url"`
	PairAddress   string              `json:"pairAddress"`
	BaseToken     Token               `json:"baseToken"`
	QuoteToken    Token               `json:"quoteToken"`
	PriceNative   decimal.NullDecimal `json:"priceNative"`
	PriceUsd      decimal.NullDecimal `json:"priceUsd"`
	Liquidity     *Liquidity          `json:"liquidity"`
	FDV           decimal.NullDecimal `json:"fdv"`
	MarketCap     decimal.NullDecimal `json:"marketCap"`
	PairCreatedAt int64               `json:"pairCreatedAt"` // unix ms
	Info          *PairInfo           `json:"info"`
}

// pairsResponse is the object form some endpoints return.
type pairsResponse struct {
	Pairs []Pair `json:"pairs"`
	Pair  *Pair  `json:"pair"`
}

// DecodePairs accepts either a JSON array of pairs or an object with a
// "pairs" (or single "pair") member.
func DecodePairs(body []byte) ([]Pair, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, ErrNoPairs
	}

	switch body[0] {
	case '[':
		var pairs []Pair
		if err := json.Unmarshal(body, &pairs); err != nil {
			return nil, fmt.Errorf("dexscreener: decode pairs: %w", err)
		}
		return pairs, nil
	case '{':
		var resp pairsResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("dexscreener: decode pairs: %w", err)
		}
		if len(resp.Pairs) > 0 {
			return resp.Pairs, nil
		}
		if resp.Pair != nil {
			return []Pair{*resp.Pair}, nil
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("dexscreener: unexpected payload starting with %q", body[0])
	}
}

// DexScreenerClient queries token pairs.
type DexScreenerClient struct {
	endpoint   string
	httpClient *http.Client
}

// NewDexScreenerClient creates a client for the tokens endpoint.
func NewDexScreenerClient(endpoint string, timeout time.Duration) *DexScreenerClient {
	if endpoint == "" {
		endpoint = "https://api.dexscreener.com/tokens/v1"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &DexScreenerClient{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// TokenPairs returns all pairs for mint on chain.
func (c *DexScreenerClient) TokenPairs(ctx context.Context, chain, mint string) ([]Pair, error) {
	reqURL := fmt.Sprintf("%s/%s/%s", c.endpoint, url.PathEscape(chain), url.PathEscape(mint))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dexscreener: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dexscreener: http error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("dexscreener: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("dexscreener: read response: %w", err)
	}
	return DecodePairs(body)
}
