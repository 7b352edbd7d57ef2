package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"
)

// ---------------------------------------------------------------------------
// JSON-RPC client: one HTTP POST per call, no internal retries
// ---------------------------------------------------------------------------

// RPCConfig configures the Solana RPC client.
type RPCConfig struct {
	Endpoint string        `yaml:"rpc_endpoint"` // e.g. https://mainnet.helius-rpc.com
	APIKey   string        `yaml:"api_key"`      // appended as ?api-key= when set
	Timeout  time.Duration `yaml:"rpc_timeout"`
}

// DefaultRPCConfig returns mainnet defaults.
func DefaultRPCConfig() RPCConfig {
	return RPCConfig{
		Endpoint: "https://api.mainnet-beta.solana.com",
		Timeout:  10 * time.Second,
	}
}

// ErrTransactionNotFound is returned when getTransaction yields a null result,
// typically because the transaction has not reached the requested commitment.
var ErrTransactionNotFound = errors.New("rpc: transaction not found")

// RPCError is a JSON-RPC error object returned by the node.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCClient is a minimal Solana JSON-RPC client.
type RPCClient struct {
	config     RPCConfig
	endpoint   string
	httpClient *http.Client

	nextID atomic.Int64

	requestCount  atomic.Int64
	errorCount    atomic.Int64
	latencySum    atomic.Int64 // cumulative microseconds
	lastRequestAt atomic.Int64
}

// NewRPCClient creates an RPC client. The API key, when configured, is added
// to the endpoint query string.
func NewRPCClient(config RPCConfig) (*RPCClient, error) {
	if config.Timeout <= 0 {
		config.Timeout = DefaultRPCConfig().Timeout
	}

	u, err := url.Parse(config.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("rpc: invalid endpoint %q", config.Endpoint)
	}
	if config.APIKey != "" {
		q := u.Query()
		q.Set("api-key", config.APIKey)
		u.RawQuery = q.Encode()
	}

	return &RPCClient{
		config:     config,
		endpoint:   u.String(),
		httpClient: &http.Client{},
	}, nil
}

// Call performs a single JSON-RPC call bounded by the configured timeout.
func (c *RPCClient) Call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("rpc: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("rpc: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.errorCount.Add(1)
		return nil, fmt.Errorf("rpc: %s http error: %w", method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	c.requestCount.Add(1)
	c.latencySum.Add(time.Since(start).Microseconds())
	c.lastRequestAt.Store(time.Now().UnixMilli())
	if err != nil {
		c.errorCount.Add(1)
		return nil, fmt.Errorf("rpc: %s read response: %w", method, err)
	}

	if resp.StatusCode != http.StatusOK {
		c.errorCount.Add(1)
		return nil, fmt.Errorf("rpc: %s HTTP %d: %s", method, resp.StatusCode, truncate(respBody, 200))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		c.errorCount.Add(1)
		return nil, fmt.Errorf("rpc: %s unmarshal response: %w", method, err)
	}
	if rpcResp.Error != nil {
		c.errorCount.Add(1)
		return nil, fmt.Errorf("rpc: %s: %w", method, rpcResp.Error)
	}
	return rpcResp.Result, nil
}

// ---------------------------------------------------------------------------
// getTransaction (jsonParsed)
// ---------------------------------------------------------------------------

// ParsedInstruction is one top-level instruction of a jsonParsed
// transaction. Program-specific instructions carry raw account lists; known
// programs carry a Parsed object instead.
type ParsedInstruction struct {
	ProgramID string          `json:"programId"`
	Program   string          `json:"program,omitempty"`
	Accounts  []string        `json:"accounts,omitempty"`
	Data      string          `json:"data,omitempty"`
	Parsed    json.RawMessage `json:"parsed,omitempty"`
}

// ParsedTransaction is the subset of a getTransaction result the resolver needs.
type ParsedTransaction struct {
	Slot        uint64 `json:"slot"`
	BlockTime   *int64 `json:"blockTime"`
	Transaction struct {
		Signatures []string `json:"signatures"`
		Message    struct {
			Instructions []ParsedInstruction `json:"instructions"`
		} `json:"message"`
	} `json:"transaction"`
	Meta *struct {
		Err json.RawMessage `json:"err"`
	} `json:"meta"`
}

// Instructions returns the top-level instructions.
func (t *ParsedTransaction) Instructions() []ParsedInstruction {
	return t.Transaction.Message.Instructions
}

// GetTransaction fetches a finalized transaction in jsonParsed encoding.
// A null result is reported as ErrTransactionNotFound.
func (c *RPCClient) GetTransaction(ctx context.Context, sig Signature) (*ParsedTransaction, error) {
	result, err := c.Call(ctx, "getTransaction", []any{
		string(sig),
		map[string]any{
			"maxSupportedTransactionVersion": 0,
			"encoding":                       "jsonParsed",
			"commitment":                     "finalized",
		},
	})
	if err != nil {
		return nil, err
	}
	if len(result) == 0 || string(result) == "null" {
		return nil, ErrTransactionNotFound
	}

	var tx ParsedTransaction
	if err := json.Unmarshal(result, &tx); err != nil {
		return nil, fmt.Errorf("rpc: parse transaction: %w", err)
	}
	return &tx, nil
}

// Health checks the RPC endpoint health.
func (c *RPCClient) Health(ctx context.Context) error {
	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := c.Call(healthCtx, "getHealth", nil)
	return err
}

// RPCStats returns RPC client statistics.
type RPCStats struct {
	RequestCount  int64 `json:"request_count"`
	ErrorCount    int64 `json:"error_count"`
	AvgLatencyUs  int64 `json:"avg_latency_us"`
	LastRequestAt int64 `json:"last_request_at"`
}

func (c *RPCClient) Stats() RPCStats {
	reqCount := c.requestCount.Load()
	avgLatency := int64(0)
	if reqCount > 0 {
		avgLatency = c.latencySum.Load() / reqCount
	}
	return RPCStats{
		RequestCount:  reqCount,
		ErrorCount:    c.errorCount.Load(),
		AvgLatencyUs:  avgLatency,
		LastRequestAt: c.lastRequestAt.Load(),
	}
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
