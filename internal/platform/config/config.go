package config

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/Prosniperv2/V2.0/internal/money"
)

// BaseChainID is the chain id of Base mainnet
const BaseChainID = 8453

// Config holds all configuration for the sniper bot
type Config struct {
	Chain         ChainConfig         `mapstructure:"chain"`
	Wallet        WalletConfig        `mapstructure:"wallet"`
	Trading       TradingConfig       `mapstructure:"trading"`
	Gas           GasConfig           `mapstructure:"gas"`
	DEX           DEXConfig           `mapstructure:"dex"`
	Discovery     DiscoveryConfig     `mapstructure:"discovery"`
	Strategy      StrategyConfig      `mapstructure:"strategy"`
	Telegram      TelegramConfig      `mapstructure:"telegram"`
	Redis         RedisConfig         `mapstructure:"redis"`
	AWS           AWSConfig           `mapstructure:"aws"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	HTTP          HTTPConfig          `mapstructure:"http"`
}

// ChainConfig holds RPC connection settings
type ChainConfig struct {
	ChainID             int64         `mapstructure:"chain_id"`
	RPCURL              string        `mapstructure:"rpc_url"`
	BackupRPCURLs       []string      `mapstructure:"backup_rpc_urls"`
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`
	CallTimeout         time.Duration `mapstructure:"call_timeout"`
}

// WalletConfig holds the trading wallet credentials
type WalletConfig struct {
	PrivateKey string `mapstructure:"private_key"`
	Address    string `mapstructure:"address"`
}

// TradingConfig holds trade sizing and execution settings.
// Amounts are ether decimal strings and parsed into wei on load.
type TradingConfig struct {
	RealTradingEnabled            bool          `mapstructure:"real_trading_enabled"`
	TradeAmountWETH               string        `mapstructure:"trade_amount_weth"`
	MinTradeAmountWETH            string        `mapstructure:"min_trade_amount_weth"`
	MinGasBalanceETH              string        `mapstructure:"min_gas_balance_eth"`
	MinUnwrapETH                  string        `mapstructure:"min_unwrap_eth"`
	SlippageTolerance             float64       `mapstructure:"slippage_tolerance"` // percent
	MaxGasPriceGwei               int64         `mapstructure:"max_gas_price_gwei"`
	MaxRetries                    int           `mapstructure:"max_retries"`
	RetryPause                    time.Duration `mapstructure:"retry_pause"`
	ReceiptTimeout                time.Duration `mapstructure:"receipt_timeout"`
	AllowUnpricedFallback         bool          `mapstructure:"allow_unpriced_fallback"`
	AcceptAnyOutputOnQuoteFailure bool          `mapstructure:"accept_any_output_on_quote_failure"`

	tradeAmount    *big.Int
	minTradeAmount *big.Int
	minGasBalance  *big.Int
	minUnwrap      *big.Int
}

// TradeAmount returns the base trade size in wei
func (t *TradingConfig) TradeAmount() *big.Int { return copyInt(t.tradeAmount) }

// MinTradeAmount returns the trade size floor in wei
func (t *TradingConfig) MinTradeAmount() *big.Int { return copyInt(t.minTradeAmount) }

// MinGasBalance returns the native balance below which WETH is unwrapped for gas
func (t *TradingConfig) MinGasBalance() *big.Int { return copyInt(t.minGasBalance) }

// MinUnwrap returns the smallest WETH withdrawal made for gas
func (t *TradingConfig) MinUnwrap() *big.Int { return copyInt(t.minUnwrap) }

// MaxGasPrice returns the gas price cap in wei
func (t *TradingConfig) MaxGasPrice() *big.Int { return money.Gwei(t.MaxGasPriceGwei) }

// GasConfig holds gas limits per transaction kind
type GasConfig struct {
	DefaultLimit  uint64        `mapstructure:"default_limit"`
	ApprovalLimit uint64        `mapstructure:"approval_limit"`
	SwapLimit     uint64        `mapstructure:"swap_limit"`
	WithdrawLimit uint64        `mapstructure:"withdraw_limit"`
	PriceCacheTTL time.Duration `mapstructure:"price_cache_ttl"`
}

// DEXConfig toggles optional DEXes. Uniswap V3 is always enabled.
type DEXConfig struct {
	EnableAerodrome bool   `mapstructure:"enable_aerodrome"`
	EnableBaseSwap  bool   `mapstructure:"enable_baseswap"`
	EnableSushiSwap bool   `mapstructure:"enable_sushiswap"`
	FallbackDEX     string `mapstructure:"fallback_dex"`
}

// Enabled reports whether a DEX id is switched on
func (d DEXConfig) Enabled(id string) bool {
	switch id {
	case DEXAerodrome:
		return d.EnableAerodrome
	case DEXBaseSwap:
		return d.EnableBaseSwap
	case DEXSushiSwap:
		return d.EnableSushiSwap
	case DEXUniswapV3:
		return true
	default:
		return false
	}
}

// DiscoveryConfig holds new-pair discovery settings
type DiscoveryConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	SeenTTL      time.Duration `mapstructure:"seen_ttl"`
	MinCodeSize  int           `mapstructure:"min_code_size"`
	Workers      int           `mapstructure:"workers"`
	QueueSize    int           `mapstructure:"queue_size"`
}

// StrategyConfig holds buy thresholds, sizing and exit rules
type StrategyConfig struct {
	MinScore           float64       `mapstructure:"min_score"`
	HighPriorityBonus  float64       `mapstructure:"high_priority_bonus"`
	MaxTokenAge        time.Duration `mapstructure:"max_token_age"`
	TradeSizePercent   float64       `mapstructure:"trade_size_percent"`
	MaxTradePercent    float64       `mapstructure:"max_trade_percent"`
	StreakStep         float64       `mapstructure:"streak_step"`
	MinSizeMultiplier  float64       `mapstructure:"min_size_multiplier"`
	MaxSizeMultiplier  float64       `mapstructure:"max_size_multiplier"`
	MaxPositions       int           `mapstructure:"max_positions"`
	MonitorInterval    time.Duration `mapstructure:"monitor_interval"`
	QuickProfitPercent float64       `mapstructure:"quick_profit_percent"`
	QuickProfitAfter   time.Duration `mapstructure:"quick_profit_after"`
	TakeProfitPercent  float64       `mapstructure:"take_profit_percent"`
	StopLossPercent    float64       `mapstructure:"stop_loss_percent"`
	MaxHold            time.Duration `mapstructure:"max_hold"`
	StaleAfter         time.Duration `mapstructure:"stale_after"`
	LossStreakPause    int           `mapstructure:"loss_streak_pause"`
	PauseDuration      time.Duration `mapstructure:"pause_duration"`
}

// TelegramConfig holds chat notification settings
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id"`
}

// Enabled reports whether Telegram credentials are present
func (t TelegramConfig) Enabled() bool {
	return t.BotToken != "" && t.ChatID != 0
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Address   string `mapstructure:"address"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// AWSConfig holds SNS trade event publishing configuration
type AWSConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Endpoint    string `mapstructure:"endpoint"`
	Region      string `mapstructure:"region"`
	SNSTopicARN string `mapstructure:"sns_topic_arn"`
}

// CacheConfig holds caching configuration
type CacheConfig struct {
	L1MaxSize  int           `mapstructure:"l1_max_size"`
	BalanceTTL time.Duration `mapstructure:"balance_ttl"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text
}

// MetricsConfig holds metrics settings
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// OTLPEndpoint, when set, also pushes metrics to an OTLP gRPC collector
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	OTLPInsecure bool   `mapstructure:"otlp_insecure"`
}

// TracingConfig holds tracing settings
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	Sampler     string  `mapstructure:"sampler"` // always, never, ratio
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// HTTPConfig holds the status server configuration
type HTTPConfig struct {
	Port int `mapstructure:"port"`
}

// legacyEnv maps config keys to the flat environment names used by existing
// deployments. Nested names (CHAIN_RPC_URL) keep working through AutomaticEnv.
var legacyEnv = map[string]string{
	"chain.chain_id":                "CHAIN_ID",
	"chain.rpc_url":                 "BASE_RPC_URL",
	"chain.backup_rpc_urls":         "BASE_RPC_BACKUP",
	"wallet.private_key":            "PRIVATE_KEY",
	"wallet.address":                "WALLET_ADDRESS",
	"trading.real_trading_enabled":  "REAL_TRADING_ENABLED",
	"trading.trade_amount_weth":     "TRADE_AMOUNT_WETH",
	"trading.min_trade_amount_weth": "MIN_TRADE_AMOUNT",
	"trading.slippage_tolerance":    "SLIPPAGE_TOLERANCE",
	"trading.max_gas_price_gwei":    "MAX_GAS_PRICE",
	"trading.max_retries":           "MAX_RETRIES",
	"dex.enable_aerodrome":          "ENABLE_AERODROME",
	"dex.enable_baseswap":           "ENABLE_BASESWAP",
	"dex.enable_sushiswap":          "ENABLE_SUSHISWAP",
	"telegram.bot_token":            "TELEGRAM_BOT_TOKEN",
	"telegram.chat_id":              "TELEGRAM_CHAT_ID",
	"observability.logging.level":   "LOG_LEVEL",
	"http.port":                     "PORT",
}

// Load loads configuration from .env, an optional YAML file and the environment
func Load(configPath string) (*Config, error) {
	// a missing .env is normal outside local development
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		if err := v.BindEnv(key, strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("failed to bind env %s: %w", env, err)
		}
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.parse(); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration or panics
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("chain.chain_id", BaseChainID)
	v.SetDefault("chain.rpc_url", "https://mainnet.base.org")
	v.SetDefault("chain.backup_rpc_urls", []string{"https://base-mainnet.public.blastapi.io"})
	v.SetDefault("chain.health_check_interval", "30s")
	v.SetDefault("chain.call_timeout", "10s")

	v.SetDefault("wallet.private_key", "")
	v.SetDefault("wallet.address", "")

	v.SetDefault("trading.real_trading_enabled", true)
	v.SetDefault("trading.trade_amount_weth", "0.000398")
	v.SetDefault("trading.min_trade_amount_weth", "0.00005")
	v.SetDefault("trading.min_gas_balance_eth", "0.0005")
	v.SetDefault("trading.min_unwrap_eth", "0.0001")
	v.SetDefault("trading.slippage_tolerance", 20)
	v.SetDefault("trading.max_gas_price_gwei", 50)
	v.SetDefault("trading.max_retries", 3)
	v.SetDefault("trading.retry_pause", "2s")
	v.SetDefault("trading.receipt_timeout", "30s")
	v.SetDefault("trading.allow_unpriced_fallback", true)
	v.SetDefault("trading.accept_any_output_on_quote_failure", true)

	v.SetDefault("gas.default_limit", 400000)
	v.SetDefault("gas.approval_limit", 100000)
	v.SetDefault("gas.swap_limit", 350000)
	v.SetDefault("gas.withdraw_limit", 50000)
	v.SetDefault("gas.price_cache_ttl", "12s")

	v.SetDefault("dex.enable_aerodrome", true)
	v.SetDefault("dex.enable_baseswap", true)
	v.SetDefault("dex.enable_sushiswap", true)
	v.SetDefault("dex.fallback_dex", DEXUniswapV3)

	v.SetDefault("discovery.enabled", true)
	v.SetDefault("discovery.poll_interval", "1s")
	v.SetDefault("discovery.seen_ttl", "48h")
	v.SetDefault("discovery.min_code_size", 100)
	v.SetDefault("discovery.workers", 4)
	v.SetDefault("discovery.queue_size", 100)

	v.SetDefault("strategy.min_score", 10)
	v.SetDefault("strategy.high_priority_bonus", 15)
	v.SetDefault("strategy.max_token_age", "30m")
	v.SetDefault("strategy.trade_size_percent", 20)
	v.SetDefault("strategy.max_trade_percent", 35)
	v.SetDefault("strategy.streak_step", 0.15)
	v.SetDefault("strategy.min_size_multiplier", 0.5)
	v.SetDefault("strategy.max_size_multiplier", 1.5)
	v.SetDefault("strategy.max_positions", 8)
	v.SetDefault("strategy.monitor_interval", "5s")
	v.SetDefault("strategy.quick_profit_percent", 10)
	v.SetDefault("strategy.quick_profit_after", "60s")
	v.SetDefault("strategy.take_profit_percent", 30)
	v.SetDefault("strategy.stop_loss_percent", 15)
	v.SetDefault("strategy.max_hold", "300s")
	v.SetDefault("strategy.stale_after", "600s")
	v.SetDefault("strategy.loss_streak_pause", 3)
	v.SetDefault("strategy.pause_duration", "5m")

	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", 0)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "sniper:")

	v.SetDefault("aws.enabled", false)
	v.SetDefault("aws.endpoint", "")
	v.SetDefault("aws.region", "us-east-1")
	v.SetDefault("aws.sns_topic_arn", "")

	v.SetDefault("cache.l1_max_size", 1000)
	v.SetDefault("cache.balance_ttl", "30s")

	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.metrics.otlp_endpoint", "")
	v.SetDefault("observability.metrics.otlp_insecure", true)
	v.SetDefault("observability.tracing.enabled", false)
	v.SetDefault("observability.tracing.endpoint", "localhost:4317")
	v.SetDefault("observability.tracing.sampler", "always")
	v.SetDefault("observability.tracing.sample_ratio", 0.1)

	v.SetDefault("http.port", 10000)
}

// parse converts string values into their typed forms
func (c *Config) parse() error {
	c.Observability.Logging.Level = strings.ToLower(c.Observability.Logging.Level)
	c.Wallet.PrivateKey = strings.TrimPrefix(strings.TrimSpace(c.Wallet.PrivateKey), "0x")
	c.Wallet.Address = strings.TrimSpace(c.Wallet.Address)

	// a single env var can carry several comma-separated backups
	var backups []string
	for _, raw := range c.Chain.BackupRPCURLs {
		for _, u := range strings.Split(raw, ",") {
			if u = strings.TrimSpace(u); u != "" && u != c.Chain.RPCURL {
				backups = append(backups, u)
			}
		}
	}
	c.Chain.BackupRPCURLs = backups

	amounts := []struct {
		name string
		raw  string
		dst  **big.Int
	}{
		{"trading.trade_amount_weth", c.Trading.TradeAmountWETH, &c.Trading.tradeAmount},
		{"trading.min_trade_amount_weth", c.Trading.MinTradeAmountWETH, &c.Trading.minTradeAmount},
		{"trading.min_gas_balance_eth", c.Trading.MinGasBalanceETH, &c.Trading.minGasBalance},
		{"trading.min_unwrap_eth", c.Trading.MinUnwrapETH, &c.Trading.minUnwrap},
	}
	for _, a := range amounts {
		wei, err := money.ParseEther(a.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", a.name, err)
		}
		*a.dst = wei
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Chain.ChainID <= 0 {
		return fmt.Errorf("chain id must be positive")
	}
	if c.Chain.RPCURL == "" {
		return fmt.Errorf("RPC URL is required")
	}

	if err := c.Wallet.validate(); err != nil {
		return err
	}

	if c.Trading.tradeAmount == nil || c.Trading.tradeAmount.Sign() <= 0 {
		return fmt.Errorf("trade amount must be positive")
	}
	if c.Trading.minTradeAmount != nil && c.Trading.minTradeAmount.Cmp(c.Trading.tradeAmount) > 0 {
		return fmt.Errorf("min trade amount %s exceeds trade amount %s",
			c.Trading.MinTradeAmountWETH, c.Trading.TradeAmountWETH)
	}
	if c.Trading.SlippageTolerance < 0 || c.Trading.SlippageTolerance >= 100 {
		return fmt.Errorf("slippage tolerance must be in [0, 100): %v", c.Trading.SlippageTolerance)
	}
	if c.Trading.MaxGasPriceGwei <= 0 {
		return fmt.Errorf("max gas price must be positive")
	}
	if c.Trading.MaxRetries <= 0 {
		return fmt.Errorf("max retries must be positive")
	}
	if c.Trading.AllowUnpricedFallback && !c.DEX.Enabled(c.DEX.FallbackDEX) {
		return fmt.Errorf("fallback DEX %q is not an enabled DEX", c.DEX.FallbackDEX)
	}

	if c.Strategy.MaxPositions <= 0 {
		return fmt.Errorf("max positions must be positive")
	}
	if c.Strategy.MinSizeMultiplier > c.Strategy.MaxSizeMultiplier {
		return fmt.Errorf("min size multiplier exceeds max size multiplier")
	}

	if c.Redis.Enabled && c.Redis.Address == "" {
		return fmt.Errorf("redis address is required when redis is enabled")
	}
	if c.AWS.Enabled {
		if c.AWS.Region == "" {
			return fmt.Errorf("AWS region is required")
		}
		if c.AWS.SNSTopicARN == "" {
			return fmt.Errorf("SNS topic ARN is required")
		}
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Observability.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Observability.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[c.Observability.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Observability.Logging.Format)
	}

	return nil
}

func (w WalletConfig) validate() error {
	if w.PrivateKey == "" {
		return fmt.Errorf("wallet private key is required")
	}
	if len(w.PrivateKey) != 64 {
		return fmt.Errorf("wallet private key must be 64 hex characters")
	}
	if _, err := hex.DecodeString(w.PrivateKey); err != nil {
		return fmt.Errorf("wallet private key is not valid hex")
	}

	if w.Address == "" {
		return nil
	}
	if !common.IsHexAddress(w.Address) {
		return fmt.Errorf("invalid wallet address: %s", w.Address)
	}

	key, err := crypto.HexToECDSA(w.PrivateKey)
	if err != nil {
		return fmt.Errorf("invalid wallet private key: %w", err)
	}
	derived := crypto.PubkeyToAddress(key.PublicKey)
	if derived != common.HexToAddress(w.Address) {
		return fmt.Errorf("wallet address %s does not match private key (derived %s)", w.Address, derived.Hex())
	}

	return nil
}

func copyInt(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
