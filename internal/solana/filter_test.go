package solana

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterMessage_PoolCreation(t *testing.T) {
	raw := notificationFrame("5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnb",
		"Program 675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8 invoke [1]",
		"Program log: initialize2: InitializeInstruction2 { nonce: 254, open_time: 0 }",
		"Program 675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8 success",
	)

	sig, ok := FilterMessage([]byte(raw), PoolInitMarker)
	require.True(t, ok)
	assert.Equal(t, Signature("5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnb"), sig)
}

func TestFilterMessage_Rejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"confirmation", `{"jsonrpc":"2.0","result":23784,"id":1}`},
		{"error frame", `{"jsonrpc":"2.0","error":{"code":-32602,"message":"Invalid params"},"id":1}`},
		{"malformed", `{"jsonrpc":`},
		{"not json", `hello`},
		{"swap logs", notificationFrame("sig1", "Program log: ray_log: AwDh9QUA")},
		{"empty signature", notificationFrame("", PoolInitMarker)},
		{"no logs", notificationFrame("sig1")},
		{"no params", `{"jsonrpc":"2.0","method":"logsNotification"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig, ok := FilterMessage([]byte(tt.raw), PoolInitMarker)
			assert.False(t, ok)
			assert.Empty(t, sig)
		})
	}
}

func TestParseFrame_Kinds(t *testing.T) {
	f, err := ParseFrame([]byte(`{"jsonrpc":"2.0","result":23784,"id":1}`))
	require.NoError(t, err)
	assert.Equal(t, FrameConfirmation, f.Kind)
	assert.Equal(t, int64(23784), f.SubscriptionID)

	f, err = ParseFrame([]byte(`{"jsonrpc":"2.0","error":{"code":-32602,"message":"bad"},"id":1}`))
	require.NoError(t, err)
	assert.Equal(t, FrameError, f.Kind)
	assert.Contains(t, f.Error, "bad")

	f, err = ParseFrame([]byte(notificationFrame("sigX", "a", "b")))
	require.NoError(t, err)
	assert.Equal(t, FrameNotification, f.Kind)
	assert.Equal(t, Signature("sigX"), f.Event.Signature)
	assert.Equal(t, []string{"a", "b"}, f.Event.Logs)

	f, err = ParseFrame([]byte(`[1,2`))
	assert.Error(t, err)
	assert.Equal(t, FrameMalformed, f.Kind)
}

func TestHasMarker(t *testing.T) {
	assert.True(t, HasMarker([]string{"x", "prefix " + PoolInitMarker + " suffix"}, PoolInitMarker))
	assert.False(t, HasMarker([]string{"Program log: InitializeInstruction2"}, PoolInitMarker))
	assert.False(t, HasMarker(nil, PoolInitMarker))
}

func TestValidPubkey(t *testing.T) {
	assert.True(t, ValidPubkey(string(WrappedSOLMint)))
	assert.True(t, ValidPubkey(string(RaydiumAMMProgramID)))
	assert.False(t, ValidPubkey(""))
	assert.False(t, ValidPubkey("not-base58-0OIl"))
	assert.False(t, ValidPubkey("abc"))
}
