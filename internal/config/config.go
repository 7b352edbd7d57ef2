package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for poolwatch.
// It is loaded once at startup and handed to components by value.
type Config struct {
	General  GeneralConfig  `yaml:"general"`
	Solana   SolanaConfig   `yaml:"solana"`
	Resolver ResolverConfig `yaml:"resolver"`
	Safety   SafetyConfig   `yaml:"safety"`
	Market   MarketConfig   `yaml:"market"`
	Notify   NotifyConfig   `yaml:"notify"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

type GeneralConfig struct {
	InstanceID  string `yaml:"instance_id"`
	Environment string `yaml:"environment"` // production|staging|development
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"` // json|text
}

type SolanaConfig struct {
	WSEndpoint     string        `yaml:"ws_endpoint"`
	RPCEndpoint    string        `yaml:"rpc_endpoint"`
	APIKey         string        `yaml:"api_key"`
	ProgramID      string        `yaml:"program_id"`
	Commitment     string        `yaml:"commitment"` // processed|confirmed|finalized
	PoolMarker     string        `yaml:"pool_marker"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	EventBuffer    int           `yaml:"event_buffer"`
	RPCTimeout     time.Duration `yaml:"rpc_timeout"`
}

type ResolverConfig struct {
	WrappedNativeMint string        `yaml:"wrapped_native_mint"`
	MaxTries          int           `yaml:"max_tries"`
	InitialDelay      time.Duration `yaml:"initial_delay"`
	BaseDelay         time.Duration `yaml:"base_delay"`
	Multiplier        float64       `yaml:"multiplier"`
	MaxDelay          time.Duration `yaml:"max_delay"`
}

type SafetyConfig struct {
	Disabled              bool          `yaml:"disabled"`
	BaseURL               string        `yaml:"base_url"`
	Timeout               time.Duration `yaml:"timeout"`
	AllowRugged           bool          `yaml:"allow_rugged"`
	SuffixPolicy          string        `yaml:"suffix_policy"` // off|flag|exclude
	Suffixes              []string      `yaml:"suffixes"`
	BlockNames            []string      `yaml:"block_names"`
	BlockSymbols          []string      `yaml:"block_symbols"`
	BlockRisks            []string      `yaml:"block_risks"`
	MaxScore              float64       `yaml:"max_score"`
	RejectMintAuthority   bool          `yaml:"reject_mint_authority"`
	RejectFreezeAuthority bool          `yaml:"reject_freeze_authority"`
	RejectMutable         bool          `yaml:"reject_mutable"`
	MinLiquidityUSD       float64       `yaml:"min_liquidity_usd"`
	MinLPProviders        int           `yaml:"min_lp_providers"`
	MaxInsiderHolderPct   float64       `yaml:"max_insider_holder_pct"`
}

type MarketConfig struct {
	Endpoint       string        `yaml:"endpoint"`
	Chain          string        `yaml:"chain"`
	VenueFilter    string        `yaml:"venue_filter"`
	SkipVenueCheck bool          `yaml:"skip_venue_check"`
	WarmUp         time.Duration `yaml:"warm_up"`
	MaxTries       int           `yaml:"max_tries"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	Timeout        time.Duration `yaml:"timeout"`
	PumpSuffixes   []string      `yaml:"pump_suffixes"`
}

type NotifyConfig struct {
	Telegram        TelegramConfig `yaml:"telegram"`
	BuyLinkTemplate string         `yaml:"buy_link_template"`
	KafkaMirror     bool           `yaml:"kafka_mirror"`
}

type TelegramConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChatID    string `yaml:"chat_id"`
	ServerURL string `yaml:"server_url"`
	Commands  bool   `yaml:"commands"`
}

type PipelineConfig struct {
	Cooldown time.Duration `yaml:"cooldown"`
	// ScreenVenueCheck makes manual screens require the venue filter too.
	ScreenVenueCheck bool `yaml:"screen_venue_check"`
}

type KafkaConfig struct {
	Brokers  []string `yaml:"brokers"`
	Topic    string   `yaml:"topic"`
	ClientID string   `yaml:"client_id"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// Well-known environment variables that fill fields left empty by the file.
const (
	EnvWSEndpoint    = "HELIUS_WS_URI"
	EnvRPCEndpoint   = "HELIUS_HTTPS_URI_TX"
	EnvAPIKey        = "HELIUS_API_KEY"
	EnvTelegramToken = "TELEGRAM_BOT_TOKEN"
	EnvTelegramChat  = "TELEGRAM_CHAT_ID"
)

// ErrMissingConfig is wrapped by Validate when mandatory items are absent.
var ErrMissingConfig = errors.New("missing required configuration")

// Load reads .env (best-effort), then the YAML file at path with
// environment variables expanded. An empty path skips the file and builds
// the configuration from the environment and defaults alone.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	var explicit explicitDelays
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		expanded := []byte(os.ExpandEnv(string(data)))
		if err := yaml.Unmarshal(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
		if err := yaml.Unmarshal(expanded, &explicit); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)
	explicit.apply(cfg)

	return cfg, nil
}

// explicitDelays captures optional delays the file sets, so an explicit 0s
// disables the wait instead of falling back to the default.
type explicitDelays struct {
	Resolver struct {
		InitialDelay *time.Duration `yaml:"initial_delay"`
	} `yaml:"resolver"`
	Market struct {
		WarmUp     *time.Duration `yaml:"warm_up"`
		RetryDelay *time.Duration `yaml:"retry_delay"`
	} `yaml:"market"`
	Pipeline struct {
		Cooldown *time.Duration `yaml:"cooldown"`
	} `yaml:"pipeline"`
}

func (e explicitDelays) apply(cfg *Config) {
	set := func(dst *time.Duration, v *time.Duration) {
		if v != nil {
			*dst = *v
		}
	}
	set(&cfg.Resolver.InitialDelay, e.Resolver.InitialDelay)
	set(&cfg.Market.WarmUp, e.Market.WarmUp)
	set(&cfg.Market.RetryDelay, e.Market.RetryDelay)
	set(&cfg.Pipeline.Cooldown, e.Pipeline.Cooldown)
}

func applyEnv(cfg *Config) {
	fill := func(dst *string, key string) {
		if *dst == "" {
			*dst = os.Getenv(key)
		}
	}
	fill(&cfg.Solana.WSEndpoint, EnvWSEndpoint)
	fill(&cfg.Solana.RPCEndpoint, EnvRPCEndpoint)
	fill(&cfg.Solana.APIKey, EnvAPIKey)
	fill(&cfg.Notify.Telegram.BotToken, EnvTelegramToken)
	fill(&cfg.Notify.Telegram.ChatID, EnvTelegramChat)
}

func applyDefaults(cfg *Config) {
	if cfg.General.InstanceID == "" {
		cfg.General.InstanceID = "poolwatch-1"
	}
	if cfg.General.Environment == "" {
		cfg.General.Environment = "development"
	}
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.LogFormat == "" {
		cfg.General.LogFormat = "json"
	}

	// Solana
	if cfg.Solana.ProgramID == "" {
		cfg.Solana.ProgramID = "675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8"
	}
	if cfg.Solana.Commitment == "" {
		cfg.Solana.Commitment = "finalized"
	}
	if cfg.Solana.PoolMarker == "" {
		cfg.Solana.PoolMarker = "Program log: initialize2: InitializeInstruction2"
	}
	if cfg.Solana.ReconnectDelay == 0 {
		cfg.Solana.ReconnectDelay = 5 * time.Second
	}
	if cfg.Solana.PingInterval == 0 {
		cfg.Solana.PingInterval = 20 * time.Second
	}
	if cfg.Solana.ReadTimeout == 0 {
		cfg.Solana.ReadTimeout = 60 * time.Second
	}
	if cfg.Solana.EventBuffer == 0 {
		cfg.Solana.EventBuffer = 1024
	}
	if cfg.Solana.RPCTimeout == 0 {
		cfg.Solana.RPCTimeout = 10 * time.Second
	}

	// Resolver
	if cfg.Resolver.WrappedNativeMint == "" {
		cfg.Resolver.WrappedNativeMint = "So11111111111111111111111111111111111111112"
	}
	if cfg.Resolver.MaxTries == 0 {
		cfg.Resolver.MaxTries = 10
	}
	if cfg.Resolver.BaseDelay == 0 {
		cfg.Resolver.BaseDelay = 4 * time.Second
	}
	if cfg.Resolver.Multiplier == 0 {
		cfg.Resolver.Multiplier = 1.5
	}
	if cfg.Resolver.MaxDelay == 0 {
		cfg.Resolver.MaxDelay = 15 * time.Second
	}

	// Safety
	if cfg.Safety.BaseURL == "" {
		cfg.Safety.BaseURL = "https://api.rugcheck.xyz/v1"
	}
	if cfg.Safety.Timeout == 0 {
		cfg.Safety.Timeout = 10 * time.Second
	}
	if cfg.Safety.SuffixPolicy == "" {
		cfg.Safety.SuffixPolicy = "off"
	}
	if len(cfg.Safety.Suffixes) == 0 {
		cfg.Safety.Suffixes = []string{"pump", "fun"}
	}

	// Market
	if cfg.Market.Endpoint == "" {
		cfg.Market.Endpoint = "https://api.dexscreener.com/tokens/v1"
	}
	if cfg.Market.Chain == "" {
		cfg.Market.Chain = "solana"
	}
	if cfg.Market.VenueFilter == "" {
		cfg.Market.VenueFilter = "raydium"
	}
	if cfg.Market.WarmUp == 0 {
		cfg.Market.WarmUp = 30 * time.Second
	}
	if cfg.Market.MaxTries == 0 {
		cfg.Market.MaxTries = 10
	}
	if cfg.Market.RetryDelay == 0 {
		cfg.Market.RetryDelay = 5 * time.Second
	}
	if cfg.Market.Timeout == 0 {
		cfg.Market.Timeout = 10 * time.Second
	}
	if len(cfg.Market.PumpSuffixes) == 0 {
		cfg.Market.PumpSuffixes = []string{"pump", "fun"}
	}

	// Pipeline
	if cfg.Pipeline.Cooldown == 0 {
		cfg.Pipeline.Cooldown = 60 * time.Second
	}

	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "poolwatch.alerts"
	}
	if cfg.Kafka.ClientID == "" {
		cfg.Kafka.ClientID = cfg.General.InstanceID
	}
	if cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = ":9090"
	}
}

// Validate reports every missing mandatory item in one error so the
// operator can fix them all before the next start.
func (c *Config) Validate() error {
	var missing []string
	if c.Solana.WSEndpoint == "" {
		missing = append(missing, "solana.ws_endpoint ("+EnvWSEndpoint+")")
	}
	if c.Solana.RPCEndpoint == "" {
		missing = append(missing, "solana.rpc_endpoint ("+EnvRPCEndpoint+")")
	}
	if c.Notify.Telegram.BotToken == "" {
		missing = append(missing, "notify.telegram.bot_token ("+EnvTelegramToken+")")
	}
	if c.Notify.Telegram.ChatID == "" {
		missing = append(missing, "notify.telegram.chat_id ("+EnvTelegramChat+")")
	}
	if c.Notify.KafkaMirror && len(c.Kafka.Brokers) == 0 {
		missing = append(missing, "kafka.brokers")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingConfig, strings.Join(missing, ", "))
	}

	switch c.Safety.SuffixPolicy {
	case "off", "flag", "exclude":
	default:
		return fmt.Errorf("safety.suffix_policy: unknown value %q", c.Safety.SuffixPolicy)
	}
	if c.Resolver.MaxTries < 1 || c.Market.MaxTries < 1 {
		return fmt.Errorf("max_tries must be at least 1")
	}
	for name, d := range map[string]time.Duration{
		"resolver.initial_delay": c.Resolver.InitialDelay,
		"market.warm_up":         c.Market.WarmUp,
		"market.retry_delay":     c.Market.RetryDelay,
		"pipeline.cooldown":      c.Pipeline.Cooldown,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative, got %s", name, d)
		}
	}
	if c.Resolver.Multiplier < 1 {
		return fmt.Errorf("resolver.multiplier must be >= 1, got %v", c.Resolver.Multiplier)
	}
	return nil
}
