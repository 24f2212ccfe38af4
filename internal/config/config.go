package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Default values for optional settings.
const (
	DefaultDataDir           = "data/raw"
	DefaultRunTimeout        = 30 * time.Minute
	DefaultLogLevel          = "info"
	DefaultHTTPAddr          = ":8080"
	DefaultSSHAddr           = ":2222"
	DefaultSSHHostKeyPath    = ".ssh/tsingest_ed25519"
	DefaultRetryAttempts     = 3
	DefaultRetryMultiplier   = time.Second
	DefaultRetryMin          = 4 * time.Second
	DefaultRetryMax          = 10 * time.Second
	DefaultMarketSymbol      = "BTCUSDT"
	DefaultMarketCoinID      = "bitcoin"
	DefaultMarketTimeframe   = "1h"
	DefaultMarketLookback    = 7
	DefaultMarketLimit       = 1000
	DefaultOnChainAsset      = "BTC"
	DefaultOnChainMetric     = "addresses/active_count"
	DefaultOnChainChart      = "n-unique-addresses"
	DefaultOnChainLookback   = 30
	DefaultMacroSeries       = "DTWEXBGS"
	DefaultMacroEquity       = "^GSPC"
	DefaultMacroStooq        = "^spx"
	DefaultMacroLookback     = 365
	DefaultSentimentQuery    = "bitcoin"
	DefaultSentimentLimit    = 100
	DefaultSentimentHours    = 24
	DefaultSourceTimeout     = 30 * time.Second
	DefaultMarketArtifact    = "btc_usdt"
	DefaultOnChainArtifact   = "btc_active_addresses"
	DefaultMacroArtifact     = "macro"
	DefaultSentimentArtifact = "crypto_sentiment"
)

type Config struct {
	DataDir          string        `mapstructure:"data_dir"`
	RunTimeout       time.Duration `mapstructure:"run_timeout"`
	RequireAll       bool          `mapstructure:"require_all"`
	Parallel         bool          `mapstructure:"parallel"`
	LogLevel         string        `mapstructure:"log_level"`
	SourceTimeout    time.Duration `mapstructure:"source_timeout"`
	DatabaseURL      string        `mapstructure:"database_url"`
	RedisURL         string        `mapstructure:"redis_url"`
	HTTPAddr         string        `mapstructure:"http_addr"`
	APIKey           string        `mapstructure:"api_key"`
	ScheduleInterval time.Duration `mapstructure:"schedule_interval"`

	SSH       SSHConfig       `mapstructure:"ssh"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Market    MarketConfig    `mapstructure:"market"`
	OnChain   OnChainConfig   `mapstructure:"onchain"`
	Macro     MacroConfig     `mapstructure:"macro"`
	Sentiment SentimentConfig `mapstructure:"sentiment"`

	// Credentials are read from plain environment names, never from the
	// config file.
	Credentials Credentials `mapstructure:"-"`
}

type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Multiplier  time.Duration `mapstructure:"multiplier"`
	Min         time.Duration `mapstructure:"min"`
	Max         time.Duration `mapstructure:"max"`
}

type MarketConfig struct {
	Artifact     string `mapstructure:"artifact"`
	Symbol       string `mapstructure:"symbol"`
	CoinID       string `mapstructure:"coin_id"`
	Timeframe    string `mapstructure:"timeframe"`
	LookbackDays int    `mapstructure:"lookback_days"`
	Limit        int    `mapstructure:"limit"`
}

type OnChainConfig struct {
	Artifact        string `mapstructure:"artifact"`
	Asset           string `mapstructure:"asset"`
	Metric          string `mapstructure:"metric"`
	DuneQueryID     int    `mapstructure:"dune_query_id"`
	BlockchainChart string `mapstructure:"blockchain_chart"`
	LookbackDays    int    `mapstructure:"lookback_days"`
}

// SSHConfig configures the terminal run board.
type SSHConfig struct {
	Addr           string `mapstructure:"addr"`
	HostKeyPath    string `mapstructure:"host_key_path"`
	AuthorizedKeys string `mapstructure:"authorized_keys"`
}

// TelegramConfig enables the chat bot. Reports are pushed to ChatID when it
// is set.
type TelegramConfig struct {
	Token  string `mapstructure:"token"`
	ChatID int64  `mapstructure:"chat_id"`
}

type MacroConfig struct {
	Artifact     string `mapstructure:"artifact"`
	FREDSeries   string `mapstructure:"fred_series"`
	EquitySymbol string `mapstructure:"equity_symbol"`
	StooqSymbol  string `mapstructure:"stooq_symbol"`
	LookbackDays int    `mapstructure:"lookback_days"`
}

type SentimentConfig struct {
	Artifact      string   `mapstructure:"artifact"`
	Query         string   `mapstructure:"query"`
	Subreddits    []string `mapstructure:"subreddits"`
	NewsFeeds     []string `mapstructure:"news_feeds"`
	Limit         int      `mapstructure:"limit"`
	LookbackHours int      `mapstructure:"lookback_hours"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", DefaultDataDir)
	v.SetDefault("run_timeout", DefaultRunTimeout)
	v.SetDefault("require_all", false)
	v.SetDefault("parallel", false)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("source_timeout", DefaultSourceTimeout)
	v.SetDefault("database_url", "")
	v.SetDefault("redis_url", "")
	v.SetDefault("http_addr", DefaultHTTPAddr)
	v.SetDefault("api_key", "")
	v.SetDefault("schedule_interval", 24*time.Hour)

	v.SetDefault("ssh.addr", DefaultSSHAddr)
	v.SetDefault("ssh.host_key_path", DefaultSSHHostKeyPath)
	v.SetDefault("ssh.authorized_keys", "")

	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.chat_id", 0)

	v.SetDefault("retry.max_attempts", DefaultRetryAttempts)
	v.SetDefault("retry.multiplier", DefaultRetryMultiplier)
	v.SetDefault("retry.min", DefaultRetryMin)
	v.SetDefault("retry.max", DefaultRetryMax)

	v.SetDefault("market.artifact", DefaultMarketArtifact)
	v.SetDefault("market.symbol", DefaultMarketSymbol)
	v.SetDefault("market.coin_id", DefaultMarketCoinID)
	v.SetDefault("market.timeframe", DefaultMarketTimeframe)
	v.SetDefault("market.lookback_days", DefaultMarketLookback)
	v.SetDefault("market.limit", DefaultMarketLimit)

	v.SetDefault("onchain.artifact", DefaultOnChainArtifact)
	v.SetDefault("onchain.asset", DefaultOnChainAsset)
	v.SetDefault("onchain.metric", DefaultOnChainMetric)
	v.SetDefault("onchain.dune_query_id", 0)
	v.SetDefault("onchain.blockchain_chart", DefaultOnChainChart)
	v.SetDefault("onchain.lookback_days", DefaultOnChainLookback)

	v.SetDefault("macro.artifact", DefaultMacroArtifact)
	v.SetDefault("macro.fred_series", DefaultMacroSeries)
	v.SetDefault("macro.equity_symbol", DefaultMacroEquity)
	v.SetDefault("macro.stooq_symbol", DefaultMacroStooq)
	v.SetDefault("macro.lookback_days", DefaultMacroLookback)

	v.SetDefault("sentiment.artifact", DefaultSentimentArtifact)
	v.SetDefault("sentiment.query", DefaultSentimentQuery)
	v.SetDefault("sentiment.subreddits", []string{"Bitcoin", "CryptoCurrency"})
	v.SetDefault("sentiment.news_feeds", []string{
		"https://www.coindesk.com/arc/outboundfeeds/rss/",
		"https://cointelegraph.com/rss",
	})
	v.SetDefault("sentiment.limit", DefaultSentimentLimit)
	v.SetDefault("sentiment.lookback_hours", DefaultSentimentHours)
}

// flagKeys maps CLI flag names onto config keys.
var flagKeys = map[string]string{
	"data-dir":    "data_dir",
	"timeout":     "run_timeout",
	"require-all": "require_all",
	"parallel":    "parallel",
	"log-level":   "log_level",
	"http-addr":   "http_addr",
}

// Load reads defaults, an optional YAML file and INGEST_* environment
// overrides. An empty path looks for tsingest.yaml in the working directory
// and tolerates its absence.
func Load(path string) (*Config, error) {
	return LoadWithFlags(path, nil)
}

// LoadWithFlags is Load with explicitly set command-line flags taking
// precedence over every other source.
func LoadWithFlags(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("INGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("telegram.token", "TELEGRAM_BOT_TOKEN")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("tsingest")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Credentials = LoadCredentials(os.Getenv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
