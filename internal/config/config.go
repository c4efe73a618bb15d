// Package config defines the top-level configuration for the funding
// arbitrage engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by FUNDARB_* environment
// variables.
type Config struct {
	General      GeneralConfig     `toml:"general"`
	Exchanges    ExchangesConfig   `toml:"exchanges"`
	Arbitrage    ArbitrageConfig   `toml:"arbitrage"`
	Risk         RiskConfig        `toml:"risk_management"`
	TradingPairs []TradingPair     `toml:"trading_pairs"`
	Redis        RedisConfig       `toml:"redis"`
	Server       ServerConfig      `toml:"server"`
	Notify       NotifyConfig      `toml:"notify"`
	LogLevel     string            `toml:"log_level"`
}

// GeneralConfig holds process-wide toggles.
type GeneralConfig struct {
	UpdateIntervalSeconds int  `toml:"update_interval_seconds"`
	DryRun                bool `toml:"dry_run"`
	// AllowOffline lets the engine start when neither venue connects.
	AllowOffline bool `toml:"allow_offline"`
}

// ExchangesConfig groups the two venue configurations.
type ExchangesConfig struct {
	Reya        ReyaConfig        `toml:"reya"`
	Hyperliquid HyperliquidConfig `toml:"hyperliquid"`
}

// ReyaConfig holds Reya Network connection parameters.
type ReyaConfig struct {
	Enabled      bool   `toml:"enabled"`
	PrivateKey   string `toml:"private_key"`
	WebsocketURL string `toml:"websocket_url"`
	RPCURL       string `toml:"rpc_url"`
	ChainID      int    `toml:"chain_id"`
	AccountID    string `toml:"account_id"`
}

// HyperliquidConfig holds Hyperliquid connection parameters.
type HyperliquidConfig struct {
	Enabled       bool   `toml:"enabled"`
	PrivateKey    string `toml:"private_key"`
	WalletAddress string `toml:"wallet_address"`
	APIURL        string `toml:"api_url"`
	Testnet       bool   `toml:"testnet"`
}

// ArbitrageConfig holds strategy thresholds.
type ArbitrageConfig struct {
	FundingRate FundingRateConfig `toml:"funding_rate"`
}

// FundingRateConfig bounds the profitable spread band and the polling cadence.
type FundingRateConfig struct {
	MinSpreadThreshold   float64 `toml:"min_spread_threshold"`
	MaxSpreadThreshold   float64 `toml:"max_spread_threshold"`
	CheckIntervalSeconds int     `toml:"check_interval_seconds"`
	FundingPeriodHours   float64 `toml:"funding_period_hours"`
}

// RiskConfig holds position-sizing limits.
type RiskConfig struct {
	MaxTotalPosition   float64 `toml:"max_total_position"`
	MaxPositionPerPair float64 `toml:"max_position_per_pair"`
	MinTradeAmount     float64 `toml:"min_trade_amount"`
}

// TradingPair maps one instrument across both venues.
type TradingPair struct {
	Symbol             string  `toml:"symbol"`
	ReyaSymbol         string  `toml:"reya_symbol"`
	HyperliquidSymbol  string  `toml:"hyperliquid_symbol"`
	Enabled            bool    `toml:"enabled"`
	MinFundingRateDiff float64 `toml:"min_funding_rate_diff"`
	MaxPosition        float64 `toml:"max_position"`
}

// RedisConfig holds the optional telemetry publisher connection. Telemetry is
// disabled when Addr is empty.
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// ServerConfig holds the optional HTTP query surface.
type ServerConfig struct {
	Enabled bool `toml:"enabled"`
	Port    int  `toml:"port"`
}

// NotifyConfig holds operator alert channels.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns the built-in configuration, matching a conservative
// dry-run deployment.
func Defaults() Config {
	return Config{
		General: GeneralConfig{
			UpdateIntervalSeconds: 60,
			DryRun:                true,
			AllowOffline:          true,
		},
		Exchanges: ExchangesConfig{
			Reya: ReyaConfig{
				Enabled:      true,
				WebsocketURL: "wss://ws.reya.network",
				RPCURL:       "https://rpc.reya.network",
				ChainID:      1729,
			},
			Hyperliquid: HyperliquidConfig{
				Enabled: true,
				APIURL:  "https://api.hyperliquid.xyz",
			},
		},
		Arbitrage: ArbitrageConfig{
			FundingRate: FundingRateConfig{
				MinSpreadThreshold:   0.5,
				MaxSpreadThreshold:   10.0,
				CheckIntervalSeconds: 60,
				FundingPeriodHours:   8,
			},
		},
		Risk: RiskConfig{
			MaxTotalPosition:   10000.0,
			MaxPositionPerPair: 2000.0,
			MinTradeAmount:     100.0,
		},
		Server:   ServerConfig{Port: 8080},
		LogLevel: "info",
	}
}

// Validate checks the configuration for inconsistencies that would make the
// engine misbehave at runtime.
func (c *Config) Validate() error {
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log_level %q", c.LogLevel)
	}

	if c.General.UpdateIntervalSeconds <= 0 {
		return fmt.Errorf("config: general.update_interval_seconds must be positive")
	}

	fr := c.Arbitrage.FundingRate
	if fr.MinSpreadThreshold < 0 {
		return fmt.Errorf("config: arbitrage.funding_rate.min_spread_threshold must be non-negative")
	}
	if fr.MaxSpreadThreshold < fr.MinSpreadThreshold {
		return fmt.Errorf("config: arbitrage.funding_rate.max_spread_threshold below min_spread_threshold")
	}
	if fr.FundingPeriodHours <= 0 {
		return fmt.Errorf("config: arbitrage.funding_rate.funding_period_hours must be positive")
	}

	if c.Risk.MinTradeAmount < 0 {
		return fmt.Errorf("config: risk_management.min_trade_amount must be non-negative")
	}
	if c.Risk.MaxTotalPosition <= 0 {
		return fmt.Errorf("config: risk_management.max_total_position must be positive")
	}

	seen := make(map[string]bool, len(c.TradingPairs))
	for i, pair := range c.TradingPairs {
		if pair.Symbol == "" {
			return fmt.Errorf("config: trading_pairs[%d]: symbol is required", i)
		}
		if seen[pair.Symbol] {
			return fmt.Errorf("config: trading_pairs[%d]: duplicate symbol %q", i, pair.Symbol)
		}
		seen[pair.Symbol] = true
		if pair.MinFundingRateDiff < 0 {
			return fmt.Errorf("config: trading_pairs[%d]: min_funding_rate_diff must be non-negative", i)
		}
		if pair.MaxPosition <= 0 {
			return fmt.Errorf("config: trading_pairs[%d]: max_position must be positive", i)
		}
	}

	if !c.General.DryRun {
		if c.Exchanges.Reya.Enabled && c.Exchanges.Reya.PrivateKey == "" {
			return fmt.Errorf("config: exchanges.reya.private_key is required for live trading")
		}
		if c.Exchanges.Reya.Enabled && c.Exchanges.Reya.AccountID == "" {
			return fmt.Errorf("config: exchanges.reya.account_id is required for live trading")
		}
		if c.Exchanges.Hyperliquid.Enabled && c.Exchanges.Hyperliquid.PrivateKey == "" {
			return fmt.Errorf("config: exchanges.hyperliquid.private_key is required for live trading")
		}
		if c.Exchanges.Hyperliquid.Enabled && c.Exchanges.Hyperliquid.WalletAddress == "" {
			return fmt.Errorf("config: exchanges.hyperliquid.wallet_address is required for live trading")
		}
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		return fmt.Errorf("config: server.port out of range")
	}

	return nil
}

// EnabledPairs returns the trading pairs the monitor should poll.
func (c *Config) EnabledPairs() []TradingPair {
	pairs := make([]TradingPair, 0, len(c.TradingPairs))
	for _, p := range c.TradingPairs {
		if p.Enabled {
			pairs = append(pairs, p)
		}
	}
	return pairs
}

// PairBySymbol looks up the configuration for a standard symbol.
func (c *Config) PairBySymbol(symbol string) (TradingPair, bool) {
	for _, p := range c.TradingPairs {
		if p.Symbol == symbol {
			return p, true
		}
	}
	return TradingPair{}, false
}
