package config

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	tmpFile, err := os.CreateTemp("", "poolwatch-config-*.yaml")
	require.NoError(t, err)
	t.Cleanup(func() { os.Remove(tmpFile.Name()) })

	_, err = tmpFile.WriteString(body)
	require.NoError(t, err)
	require.NoError(t, tmpFile.Close())
	return tmpFile.Name()
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("TEST_TG_TOKEN", "123:abc")

	path := writeTempConfig(t, `
general:
  instance_id: "test-node"
  log_level: "debug"

solana:
  ws_endpoint: "wss://mainnet.helius-rpc.com/?api-key=k"
  rpc_endpoint: "https://mainnet.helius-rpc.com"
  commitment: "confirmed"
  reconnect_delay: 2s

resolver:
  max_tries: 3
  base_delay: 100ms

safety:
  suffix_policy: exclude
  block_symbols: ["SCAM"]

notify:
  telegram:
    bot_token: "${TEST_TG_TOKEN}"
    chat_id: "-1001"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "test-node", cfg.General.InstanceID)
	assert.Equal(t, "confirmed", cfg.Solana.Commitment)
	assert.Equal(t, 2*time.Second, cfg.Solana.ReconnectDelay)
	assert.Equal(t, 3, cfg.Resolver.MaxTries)
	assert.Equal(t, 100*time.Millisecond, cfg.Resolver.BaseDelay)
	assert.Equal(t, "exclude", cfg.Safety.SuffixPolicy)
	assert.Equal(t, []string{"SCAM"}, cfg.Safety.BlockSymbols)
	assert.Equal(t, "123:abc", cfg.Notify.Telegram.BotToken)
	assert.NoError(t, cfg.Validate())
}

func TestLoadDefaults(t *testing.T) {
	path := writeTempConfig(t, "general:\n  log_format: text\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8", cfg.Solana.ProgramID)
	assert.Equal(t, "finalized", cfg.Solana.Commitment)
	assert.Equal(t, 5*time.Second, cfg.Solana.ReconnectDelay)
	assert.Equal(t, "So11111111111111111111111111111111111111112", cfg.Resolver.WrappedNativeMint)
	assert.Equal(t, 10, cfg.Resolver.MaxTries)
	assert.Equal(t, 4*time.Second, cfg.Resolver.BaseDelay)
	assert.Equal(t, 1.5, cfg.Resolver.Multiplier)
	assert.Equal(t, 15*time.Second, cfg.Resolver.MaxDelay)
	assert.False(t, cfg.Safety.Disabled)
	assert.Equal(t, "off", cfg.Safety.SuffixPolicy)
	assert.Equal(t, []string{"pump", "fun"}, cfg.Safety.Suffixes)
	assert.Equal(t, "raydium", cfg.Market.VenueFilter)
	assert.Equal(t, 30*time.Second, cfg.Market.WarmUp)
	assert.Equal(t, 10, cfg.Market.MaxTries)
	assert.Equal(t, 5*time.Second, cfg.Market.RetryDelay)
	assert.Equal(t, 60*time.Second, cfg.Pipeline.Cooldown)
	assert.Equal(t, "text", cfg.General.LogFormat)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv(EnvWSEndpoint, "wss://example/ws")
	t.Setenv(EnvRPCEndpoint, "https://example/rpc")
	t.Setenv(EnvAPIKey, "key")
	t.Setenv(EnvTelegramToken, "tok")
	t.Setenv(EnvTelegramChat, "42")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "wss://example/ws", cfg.Solana.WSEndpoint)
	assert.Equal(t, "https://example/rpc", cfg.Solana.RPCEndpoint)
	assert.Equal(t, "key", cfg.Solana.APIKey)
	assert.Equal(t, "42", cfg.Notify.Telegram.ChatID)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/poolwatch.yaml")
	assert.Error(t, err)
}

func TestValidateListsEveryMissingItem(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)

	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingConfig))
	for _, item := range []string{
		"solana.ws_endpoint",
		"solana.rpc_endpoint",
		"notify.telegram.bot_token",
		"notify.telegram.chat_id",
	} {
		assert.Contains(t, err.Error(), item)
	}
}

func TestValidateRejectsUnknownSuffixPolicy(t *testing.T) {
	cfg := &Config{}
	cfg.Solana.WSEndpoint = "wss://x"
	cfg.Solana.RPCEndpoint = "https://x"
	cfg.Notify.Telegram.BotToken = "t"
	cfg.Notify.Telegram.ChatID = "1"
	applyDefaults(cfg)
	cfg.Safety.SuffixPolicy = "sometimes"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "suffix_policy")
}

func TestLoadExplicitZeroDelaysKept(t *testing.T) {
	path := writeTempConfig(t, `
market:
  warm_up: 0s
  retry_delay: 0s
pipeline:
  cooldown: 0s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, time.Duration(0), cfg.Market.WarmUp)
	assert.Equal(t, time.Duration(0), cfg.Market.RetryDelay)
	assert.Equal(t, time.Duration(0), cfg.Pipeline.Cooldown)
	// Keys that are absent still take their defaults.
	assert.Equal(t, 4*time.Second, cfg.Resolver.BaseDelay)
	assert.Equal(t, 10, cfg.Market.MaxTries)
}

func TestValidateRejectsNegativeDelays(t *testing.T) {
	cfg := &Config{}
	cfg.Solana.WSEndpoint = "wss://x"
	cfg.Solana.RPCEndpoint = "https://x"
	cfg.Notify.Telegram.BotToken = "t"
	cfg.Notify.Telegram.ChatID = "1"
	applyDefaults(cfg)
	require.NoError(t, cfg.Validate())

	cfg.Pipeline.Cooldown = -time.Second
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline.cooldown")
}
