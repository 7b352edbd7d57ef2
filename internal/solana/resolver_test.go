package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testTokenMint = "7GCihgDB8fe6KNjn2MYtkzZcRjQy3t9GHdC8uHYmW2hr"
	testUSDCMint  = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

// recordingSleep captures requested delays without waiting.
type recordingSleep struct {
	delays []time.Duration
}

func (s *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return ctx.Err()
}

type fetchFunc func(ctx context.Context, sig Signature) (*ParsedTransaction, error)

func (f fetchFunc) GetTransaction(ctx context.Context, sig Signature) (*ParsedTransaction, error) {
	return f(ctx, sig)
}

func poolTx(programID string, accounts ...string) *ParsedTransaction {
	tx := &ParsedTransaction{}
	tx.Transaction.Message.Instructions = []ParsedInstruction{
		{ProgramID: "ComputeBudget111111111111111111111111111111"},
		{ProgramID: programID, Accounts: accounts},
	}
	return tx
}

func initAccounts(coin, pc string) []string {
	accts := make([]string, 21)
	for i := range accts {
		accts[i] = "acct"
	}
	accts[coinMintIndex] = coin
	accts[pcMintIndex] = pc
	return accts
}

func newTestResolver(fetch fetchFunc, maxTries int) (*Resolver, *recordingSleep) {
	rec := &recordingSleep{}
	cfg := DefaultResolverConfig()
	cfg.MaxTries = maxTries
	return NewResolver(cfg, fetch, WithSleep(rec.sleep)), rec
}

func TestResolver_BackoffDelay(t *testing.T) {
	r := NewResolver(DefaultResolverConfig(), nil)

	assert.Equal(t, 4*time.Second, r.BackoffDelay(1))
	assert.Equal(t, 6*time.Second, r.BackoffDelay(2))
	assert.Equal(t, 9*time.Second, r.BackoffDelay(3))
	assert.Equal(t, 13500*time.Millisecond, r.BackoffDelay(4))
	assert.Equal(t, 15*time.Second, r.BackoffDelay(5))
	assert.Equal(t, 15*time.Second, r.BackoffDelay(10))
}

func TestResolver_ExtractsMintsInOrder(t *testing.T) {
	tests := []struct {
		name       string
		coin, pc   string
		wantNative Pubkey
		wantToken  Pubkey
	}{
		{"sol first", string(WrappedSOLMint), testTokenMint, WrappedSOLMint, testTokenMint},
		{"sol second", testTokenMint, string(WrappedSOLMint), WrappedSOLMint, testTokenMint},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, rec := newTestResolver(func(ctx context.Context, sig Signature) (*ParsedTransaction, error) {
				return poolTx(string(RaydiumAMMProgramID), initAccounts(tt.coin, tt.pc)...), nil
			}, 10)

			res, err := r.Resolve(context.Background(), "sig")
			require.NoError(t, err)
			assert.Equal(t, tt.wantNative, res.WrappedNativeMint)
			assert.Equal(t, tt.wantToken, res.TokenMint)
			assert.Equal(t, Signature("sig"), res.Signature)
			assert.Empty(t, rec.delays)
		})
	}
}

func TestResolver_ProgramIDMatchIsCaseInsensitive(t *testing.T) {
	r, _ := newTestResolver(func(ctx context.Context, sig Signature) (*ParsedTransaction, error) {
		return poolTx("675KPX9MHTJS2ZT1QFR1NYHUZELXFQM9H24WFSUT1MP8", initAccounts(string(WrappedSOLMint), testTokenMint)...), nil
	}, 1)

	res, err := r.Resolve(context.Background(), "sig")
	require.NoError(t, err)
	assert.Equal(t, Pubkey(testTokenMint), res.TokenMint)
}

func TestResolver_FailureCauses(t *testing.T) {
	tests := []struct {
		name string
		tx   *ParsedTransaction
		want error
	}{
		{"no matching instruction", poolTx("Other1111111111111111111111111111111111111", initAccounts("a", "b")...), ErrInstructionNotFound},
		{"too few accounts", poolTx(string(RaydiumAMMProgramID), "a", "b", "c"), ErrTooFewAccounts},
		{"empty mint leg", poolTx(string(RaydiumAMMProgramID), initAccounts("", testTokenMint)...), ErrEmptyMintLeg},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, rec := newTestResolver(func(ctx context.Context, sig Signature) (*ParsedTransaction, error) {
				return tt.tx, nil
			}, 3)

			_, err := r.Resolve(context.Background(), "sig")
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrResolveExhausted))
			assert.True(t, errors.Is(err, tt.want))
			assert.Len(t, rec.delays, 2)
		})
	}
}

func TestResolver_NoWrappedNativeLegIsPermanent(t *testing.T) {
	tests := []struct {
		name     string
		coin, pc string
	}{
		{"quote is not wrapped SOL", testUSDCMint, testTokenMint},
		{"token first, quote second", testTokenMint, testUSDCMint},
		{"identical legs", string(WrappedSOLMint), string(WrappedSOLMint)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			r, rec := newTestResolver(func(ctx context.Context, sig Signature) (*ParsedTransaction, error) {
				calls.Add(1)
				return poolTx(string(RaydiumAMMProgramID), initAccounts(tt.coin, tt.pc)...), nil
			}, 10)

			res, err := r.Resolve(context.Background(), "sig")
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrNoWrappedNativeLeg)
			assert.False(t, errors.Is(err, ErrResolveExhausted))
			assert.Empty(t, res.TokenMint)
			assert.Equal(t, int32(1), calls.Load())
			assert.Empty(t, rec.delays)
		})
	}
}

func TestResolver_FinalAttemptLogsNoRetry(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })

	r, rec := newTestResolver(func(ctx context.Context, sig Signature) (*ParsedTransaction, error) {
		return nil, ErrTransactionNotFound
	}, 2)

	_, err := r.Resolve(context.Background(), "sig")
	require.Error(t, err)
	require.Len(t, rec.delays, 1)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"retry_in"`)
	assert.NotContains(t, lines[1], `"retry_in"`)
	assert.Contains(t, lines[1], "final attempt failed")
}

func TestResolver_BoundedAttemptsAndBackoffSequence(t *testing.T) {
	var calls atomic.Int32
	r, rec := newTestResolver(func(ctx context.Context, sig Signature) (*ParsedTransaction, error) {
		calls.Add(1)
		return nil, ErrTransactionNotFound
	}, 10)

	_, err := r.Resolve(context.Background(), "sig")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransactionNotFound))
	assert.Equal(t, int32(10), calls.Load())

	require.Len(t, rec.delays, 9)
	for i, d := range rec.delays {
		assert.Equal(t, r.BackoffDelay(i+1), d, "delay after attempt %d", i+1)
	}
}

func TestResolver_RecoversAfterTransientFailures(t *testing.T) {
	var calls atomic.Int32
	r, rec := newTestResolver(func(ctx context.Context, sig Signature) (*ParsedTransaction, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("rpc: getTransaction http error: timeout")
		}
		return poolTx(string(RaydiumAMMProgramID), initAccounts(testTokenMint, string(WrappedSOLMint))...), nil
	}, 10)

	res, err := r.Resolve(context.Background(), "sig")
	require.NoError(t, err)
	assert.Equal(t, Pubkey(testTokenMint), res.TokenMint)
	assert.Equal(t, []time.Duration{4 * time.Second, 6 * time.Second}, rec.delays)
}

func TestResolver_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	r := NewResolver(DefaultResolverConfig(), fetchFunc(func(ctx context.Context, sig Signature) (*ParsedTransaction, error) {
		calls.Add(1)
		cancel()
		return nil, ErrTransactionNotFound
	}))

	_, err := r.Resolve(ctx, "sig")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), calls.Load())
}

func TestResolver_InitialDelay(t *testing.T) {
	rec := &recordingSleep{}
	cfg := DefaultResolverConfig()
	cfg.InitialDelay = 3 * time.Second
	r := NewResolver(cfg, fetchFunc(func(ctx context.Context, sig Signature) (*ParsedTransaction, error) {
		return poolTx(string(RaydiumAMMProgramID), initAccounts(string(WrappedSOLMint), testTokenMint)...), nil
	}), WithSleep(rec.sleep))

	_, err := r.Resolve(context.Background(), "sig")
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{3 * time.Second}, rec.delays)
}

// ---------------------------------------------------------------------------
// RPC client against an httptest server
// ---------------------------------------------------------------------------

func newTestRPCServer(t *testing.T, handler http.HandlerFunc) *RPCClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewRPCClient(RPCConfig{Endpoint: server.URL, APIKey: "secret", Timeout: 2 * time.Second})
	require.NoError(t, err)
	return client
}

func TestRPCClient_GetTransactionRequestShape(t *testing.T) {
	client := newTestRPCServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.URL.Query().Get("api-key"))

		var req rpcRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "getTransaction", req.Method)
		require.Len(t, req.Params, 2)
		assert.Equal(t, "sigABC", req.Params[0])
		opts := req.Params[1].(map[string]any)
		assert.Equal(t, "jsonParsed", opts["encoding"])
		assert.Equal(t, "finalized", opts["commitment"])
		assert.EqualValues(t, 0, opts["maxSupportedTransactionVersion"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result": map[string]any{
				"slot": 1,
				"transaction": map[string]any{
					"message": map[string]any{
						"instructions": []any{
							map[string]any{"programId": string(RaydiumAMMProgramID), "accounts": initAccounts(string(WrappedSOLMint), testTokenMint)},
							map[string]any{"programId": "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA", "program": "spl-token", "parsed": map[string]any{"type": "transfer"}},
						},
					},
				},
			},
		})
	})

	tx, err := client.GetTransaction(context.Background(), "sigABC")
	require.NoError(t, err)
	require.Len(t, tx.Instructions(), 2)
	assert.Equal(t, "spl-token", tx.Instructions()[1].Program)

	r := NewResolver(DefaultResolverConfig(), client)
	res, err := r.Resolve(context.Background(), "sigABC")
	require.NoError(t, err)
	assert.Equal(t, Pubkey(testTokenMint), res.TokenMint)
	assert.Equal(t, int64(2), client.Stats().RequestCount)
}

func TestRPCClient_NullResult(t *testing.T) {
	client := newTestRPCServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":null}`))
	})

	_, err := client.GetTransaction(context.Background(), "sig")
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestRPCClient_Errors(t *testing.T) {
	t.Run("rpc error object", func(t *testing.T) {
		client := newTestRPCServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32004,"message":"Block not available"}}`))
		})
		_, err := client.Call(context.Background(), "getTransaction", nil)
		var rpcErr *RPCError
		require.ErrorAs(t, err, &rpcErr)
		assert.Equal(t, -32004, rpcErr.Code)
	})

	t.Run("http status", func(t *testing.T) {
		client := newTestRPCServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		})
		_, err := client.Call(context.Background(), "getHealth", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "HTTP 429")
		assert.Equal(t, int64(1), client.Stats().ErrorCount)
	})

	t.Run("timeout", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
		}))
		t.Cleanup(server.Close)
		client, err := NewRPCClient(RPCConfig{Endpoint: server.URL, Timeout: 20 * time.Millisecond})
		require.NoError(t, err)

		_, err = client.Call(context.Background(), "getHealth", nil)
		assert.Error(t, err)
	})
}

func TestNewRPCClient_InvalidEndpoint(t *testing.T) {
	_, err := NewRPCClient(RPCConfig{Endpoint: "not a url"})
	assert.Error(t, err)
}
