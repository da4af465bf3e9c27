package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Environment string          `mapstructure:"environment"`
	LogLevel    string          `mapstructure:"log_level"`
	Server      ServerConfig    `mapstructure:"server"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Redis       RedisConfig     `mapstructure:"redis"`
	Venues      []VenueConfig   `mapstructure:"venues"`
	Pairs       []string        `mapstructure:"pairs"`
	Arbitrage   ArbitrageConfig `mapstructure:"arbitrage"`
	Risk        RiskConfig      `mapstructure:"risk"`
	Execution   ExecutionConfig `mapstructure:"execution"`
	Telegram    TelegramConfig  `mapstructure:"telegram"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// VenueConfig describes one venue integration to register at startup.
type VenueConfig struct {
	Name     string `mapstructure:"name"`
	FeedURL  string `mapstructure:"feed_url"`
	FeeBps   int64  `mapstructure:"fee_bps"`
	Disabled bool   `mapstructure:"disabled"`
}

type ArbitrageConfig struct {
	MinProfitBps      int64   `mapstructure:"min_profit_bps"`
	MinGrossBps       int64   `mapstructure:"min_gross_bps"`
	MaxHops           int     `mapstructure:"max_hops"`
	DetectionInterval string  `mapstructure:"detection_interval"`
	FreshnessBound    string  `mapstructure:"freshness_bound"`
	OpportunityTTL    string  `mapstructure:"opportunity_ttl"`
	ExecutionCost     float64 `mapstructure:"execution_cost"`
	DefaultDepth      float64 `mapstructure:"default_depth"`
}

type RiskConfig struct {
	MaxPositionPerTrade  float64       `mapstructure:"max_position_per_trade"`
	DailyLossLimit       float64       `mapstructure:"daily_loss_limit"`
	SessionLossLimit     float64       `mapstructure:"session_loss_limit"`
	SessionLength        string        `mapstructure:"session_length"`
	VolatilityWindow     int           `mapstructure:"volatility_window"`
	CorrelationThreshold float64       `mapstructure:"correlation_threshold"`
	CorrelatedExposure   float64       `mapstructure:"correlated_exposure_cap"`
	VaRPercentile        float64       `mapstructure:"var_percentile"`
	VaRBudget            float64       `mapstructure:"var_budget"`
	CheckpointInterval   string        `mapstructure:"checkpoint_interval"`
	Breakers             BreakerConfig `mapstructure:"breakers"`
}

// BreakerConfig applies to each of the trade, session and daily tiers; the
// tier timeouts scale off the base values below.
type BreakerConfig struct {
	FailureThreshold int    `mapstructure:"failure_threshold"`
	SuccessThreshold int    `mapstructure:"success_threshold"`
	Timeout          string `mapstructure:"timeout"`
}

type ExecutionConfig struct {
	EnableBorrowExecution bool    `mapstructure:"enable_borrow_execution"`
	DryRun                bool    `mapstructure:"dry_run"`
	BorrowFeeBps          int64   `mapstructure:"borrow_fee_bps"`
	MaxRetries            int     `mapstructure:"max_retries"`
	RetryBackoff          string  `mapstructure:"retry_backoff"`
	ConfirmTimeout        string  `mapstructure:"confirm_timeout"`
	PriorityFee           int64   `mapstructure:"priority_fee"`
	PriorityFeeBump       float64 `mapstructure:"priority_fee_bump"`
	RPCURL                string  `mapstructure:"rpc_url"`
	BundleURL             string  `mapstructure:"bundle_url"`
	BundleTip             int64   `mapstructure:"bundle_tip"`
}

type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id"`
}

// Load reads configuration from ./configs/config.yaml (or the working
// directory) with environment-variable overrides. Malformed or inconsistent
// input is a startup failure, never silently ignored.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.Environment = strings.ToLower(cfg.Environment)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the control-surface invariants. It is called from Load and
// from tests that build configs by hand.
func (c *Config) Validate() error {
	if c.Arbitrage.MaxHops < 2 {
		return fmt.Errorf("arbitrage.max_hops must be at least 2, got %d", c.Arbitrage.MaxHops)
	}
	if c.Arbitrage.MinProfitBps < 0 {
		return fmt.Errorf("arbitrage.min_profit_bps must not be negative, got %d", c.Arbitrage.MinProfitBps)
	}
	if c.Risk.MaxPositionPerTrade <= 0 {
		return errors.New("risk.max_position_per_trade must be positive")
	}
	if c.Risk.DailyLossLimit <= 0 || c.Risk.SessionLossLimit <= 0 {
		return errors.New("risk loss limits must be positive")
	}
	if c.Risk.SessionLossLimit > c.Risk.DailyLossLimit {
		return errors.New("risk.session_loss_limit must not exceed risk.daily_loss_limit")
	}
	if c.Risk.Breakers.FailureThreshold <= 0 || c.Risk.Breakers.SuccessThreshold <= 0 {
		return errors.New("risk.breakers thresholds must be positive")
	}
	if c.Risk.VaRPercentile <= 0 || c.Risk.VaRPercentile >= 1 {
		return fmt.Errorf("risk.var_percentile must be in (0, 1), got %v", c.Risk.VaRPercentile)
	}
	for _, d := range []struct {
		name, val string
	}{
		{"arbitrage.detection_interval", c.Arbitrage.DetectionInterval},
		{"arbitrage.freshness_bound", c.Arbitrage.FreshnessBound},
		{"arbitrage.opportunity_ttl", c.Arbitrage.OpportunityTTL},
		{"risk.session_length", c.Risk.SessionLength},
		{"risk.checkpoint_interval", c.Risk.CheckpointInterval},
		{"risk.breakers.timeout", c.Risk.Breakers.Timeout},
		{"execution.retry_backoff", c.Execution.RetryBackoff},
		{"execution.confirm_timeout", c.Execution.ConfirmTimeout},
	} {
		if _, err := time.ParseDuration(d.val); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", d.name, err)
		}
	}
	seen := make(map[string]struct{}, len(c.Venues))
	for _, v := range c.Venues {
		if v.Name == "" {
			return errors.New("venue with empty name in config")
		}
		if _, dup := seen[v.Name]; dup {
			return fmt.Errorf("duplicate venue %q in config", v.Name)
		}
		seen[v.Name] = struct{}{}
		if v.FeeBps < 0 || v.FeeBps > 10000 {
			return fmt.Errorf("venue %s: fee_bps out of range: %d", v.Name, v.FeeBps)
		}
	}
	return nil
}

// Duration parses a pre-validated duration field.
func Duration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

func setDefaults() {
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")

	viper.SetDefault("server.port", 8080)

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.dbname", "dexarb")
	viper.SetDefault("database.sslmode", "disable")

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("pairs", []string{"SOL/USDC", "RAY/USDC", "RAY/SOL"})

	viper.SetDefault("arbitrage.min_profit_bps", 30)
	viper.SetDefault("arbitrage.min_gross_bps", 10)
	viper.SetDefault("arbitrage.max_hops", 3)
	viper.SetDefault("arbitrage.detection_interval", "500ms")
	viper.SetDefault("arbitrage.freshness_bound", "5s")
	viper.SetDefault("arbitrage.opportunity_ttl", "2s")
	viper.SetDefault("arbitrage.execution_cost", 0.01)
	viper.SetDefault("arbitrage.default_depth", 0)

	viper.SetDefault("risk.max_position_per_trade", 1000)
	viper.SetDefault("risk.daily_loss_limit", 100)
	viper.SetDefault("risk.session_loss_limit", 50)
	viper.SetDefault("risk.session_length", "4h")
	viper.SetDefault("risk.volatility_window", 20)
	viper.SetDefault("risk.correlation_threshold", 0.7)
	viper.SetDefault("risk.correlated_exposure_cap", 2000)
	viper.SetDefault("risk.var_percentile", 0.95)
	viper.SetDefault("risk.var_budget", 50)
	viper.SetDefault("risk.checkpoint_interval", "30s")
	viper.SetDefault("risk.breakers.failure_threshold", 5)
	viper.SetDefault("risk.breakers.success_threshold", 2)
	viper.SetDefault("risk.breakers.timeout", "60s")

	viper.SetDefault("execution.enable_borrow_execution", false)
	viper.SetDefault("execution.dry_run", true)
	viper.SetDefault("execution.borrow_fee_bps", 9)
	viper.SetDefault("execution.max_retries", 3)
	viper.SetDefault("execution.retry_backoff", "500ms")
	viper.SetDefault("execution.confirm_timeout", "15s")
	viper.SetDefault("execution.priority_fee", 50000)
	viper.SetDefault("execution.priority_fee_bump", 1.5)
	viper.SetDefault("execution.rpc_url", "http://localhost:8899")
	viper.SetDefault("execution.bundle_url", "")
	viper.SetDefault("execution.bundle_tip", 100000)

	viper.SetDefault("telegram.bot_token", "")
	viper.SetDefault("telegram.chat_id", 0)
}
