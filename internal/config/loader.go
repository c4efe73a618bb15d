package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies FUNDARB_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known FUNDARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── General ──
	setInt(&cfg.General.UpdateIntervalSeconds, "FUNDARB_UPDATE_INTERVAL_SECONDS")
	setBool(&cfg.General.DryRun, "FUNDARB_DRY_RUN")
	setBool(&cfg.General.AllowOffline, "FUNDARB_ALLOW_OFFLINE")

	// ── Reya ──
	setBool(&cfg.Exchanges.Reya.Enabled, "FUNDARB_REYA_ENABLED")
	setStr(&cfg.Exchanges.Reya.PrivateKey, "FUNDARB_REYA_PRIVATE_KEY")
	setStr(&cfg.Exchanges.Reya.WebsocketURL, "FUNDARB_REYA_WS_URL")
	setStr(&cfg.Exchanges.Reya.RPCURL, "FUNDARB_REYA_RPC_URL")
	setInt(&cfg.Exchanges.Reya.ChainID, "FUNDARB_REYA_CHAIN_ID")
	setStr(&cfg.Exchanges.Reya.AccountID, "FUNDARB_REYA_ACCOUNT_ID")

	// ── Hyperliquid ──
	setBool(&cfg.Exchanges.Hyperliquid.Enabled, "FUNDARB_HYPERLIQUID_ENABLED")
	setStr(&cfg.Exchanges.Hyperliquid.PrivateKey, "FUNDARB_HYPERLIQUID_PRIVATE_KEY")
	setStr(&cfg.Exchanges.Hyperliquid.WalletAddress, "FUNDARB_HYPERLIQUID_WALLET_ADDRESS")
	setStr(&cfg.Exchanges.Hyperliquid.APIURL, "FUNDARB_HYPERLIQUID_API_URL")
	setBool(&cfg.Exchanges.Hyperliquid.Testnet, "FUNDARB_HYPERLIQUID_TESTNET")

	// ── Arbitrage ──
	setFloat64(&cfg.Arbitrage.FundingRate.MinSpreadThreshold, "FUNDARB_MIN_SPREAD_THRESHOLD")
	setFloat64(&cfg.Arbitrage.FundingRate.MaxSpreadThreshold, "FUNDARB_MAX_SPREAD_THRESHOLD")
	setInt(&cfg.Arbitrage.FundingRate.CheckIntervalSeconds, "FUNDARB_CHECK_INTERVAL_SECONDS")
	setFloat64(&cfg.Arbitrage.FundingRate.FundingPeriodHours, "FUNDARB_FUNDING_PERIOD_HOURS")

	// ── Risk ──
	setFloat64(&cfg.Risk.MaxTotalPosition, "FUNDARB_MAX_TOTAL_POSITION")
	setFloat64(&cfg.Risk.MaxPositionPerPair, "FUNDARB_MAX_POSITION_PER_PAIR")
	setFloat64(&cfg.Risk.MinTradeAmount, "FUNDARB_MIN_TRADE_AMOUNT")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "FUNDARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "FUNDARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FUNDARB_REDIS_DB")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "FUNDARB_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "FUNDARB_SERVER_PORT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "FUNDARB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "FUNDARB_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "FUNDARB_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "FUNDARB_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "FUNDARB_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
