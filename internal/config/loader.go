package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/alanyoungcy/poolbot/internal/domain"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies POOLBOT_* environment variable overrides, and
// returns the final Config. A missing file is not an error; the defaults and
// environment are used alone. The returned Config has NOT been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: decode %s: %w", domain.ErrConfiguration, path, err)
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known POOLBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. The
// unprefixed names used by the legacy deployment scripts (RPC_URL,
// PRIVATE_KEY, USDC_ADDRESS, FRONTEND_URL, PORT) are honoured as aliases.
func applyEnvOverrides(cfg *Config) {
	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "RPC_URL")
	setStr(&cfg.Chain.RPCURL, "POOLBOT_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "POOLBOT_CHAIN_CHAIN_ID")
	setStr(&cfg.Chain.TokenAddress, "USDC_ADDRESS")
	setStr(&cfg.Chain.TokenAddress, "POOLBOT_CHAIN_TOKEN_ADDRESS")
	setInt(&cfg.Chain.TokenDecimals, "POOLBOT_CHAIN_TOKEN_DECIMALS")
	setDuration(&cfg.Chain.ReceiptPollInterval, "POOLBOT_CHAIN_RECEIPT_POLL_INTERVAL")
	setDuration(&cfg.Chain.ConfirmTimeout, "POOLBOT_CHAIN_CONFIRM_TIMEOUT")

	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "PRIVATE_KEY")
	setStr(&cfg.Wallet.PrivateKey, "POOLBOT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "POOLBOT_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "POOLBOT_WALLET_KEY_PASSWORD")

	// ── Markets / bot / aggregator ──
	setStr(&cfg.Markets.Path, "POOLBOT_MARKETS_PATH")
	setDuration(&cfg.Bot.Interval, "POOLBOT_BOT_INTERVAL")
	setInt(&cfg.Aggregator.Concurrency, "POOLBOT_AGGREGATOR_CONCURRENCY")
	setDuration(&cfg.Aggregator.ReadTimeout, "POOLBOT_AGGREGATOR_READ_TIMEOUT")
	setDuration(&cfg.Aggregator.PollInterval, "POOLBOT_AGGREGATOR_POLL_INTERVAL")

	// ── History ──
	setStr(&cfg.History.Backend, "POOLBOT_HISTORY_BACKEND")
	setInt(&cfg.History.Capacity, "POOLBOT_HISTORY_CAPACITY")
	setStr(&cfg.History.Path, "POOLBOT_HISTORY_PATH")
	setStr(&cfg.History.S3Key, "POOLBOT_HISTORY_S3_KEY")
	setStr(&cfg.History.SQLitePath, "POOLBOT_HISTORY_SQLITE_PATH")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "POOLBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "POOLBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL")
	setStr(&cfg.Postgres.Host, "POOLBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POOLBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POOLBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POOLBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POOLBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POOLBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POOLBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POOLBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POOLBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "POOLBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "POOLBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POOLBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POOLBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POOLBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POOLBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POOLBOT_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.SnapshotTTL, "POOLBOT_REDIS_SNAPSHOT_TTL")
	setInt(&cfg.Redis.RateLimit, "POOLBOT_REDIS_RATE_LIMIT")
	setStr(&cfg.Redis.KeyPrefix, "POOLBOT_REDIS_KEY_PREFIX")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "POOLBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POOLBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "POOLBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "POOLBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POOLBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "POOLBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "POOLBOT_S3_FORCE_PATH_STYLE")
	setBool(&cfg.S3.Archive, "POOLBOT_S3_ARCHIVE")

	// ── Server ──
	setInt(&cfg.Server.Port, "PORT")
	setInt(&cfg.Server.Port, "POOLBOT_SERVER_PORT")
	appendStringSlice(&cfg.Server.CORSOrigins, "FRONTEND_URL")
	setStringSlice(&cfg.Server.CORSOrigins, "POOLBOT_SERVER_CORS_ORIGINS")
	setStringSlice(&cfg.Server.CORSOriginPatterns, "POOLBOT_SERVER_CORS_ORIGIN_PATTERNS")
	setStr(&cfg.Server.AdminAPIKey, "POOLBOT_SERVER_ADMIN_API_KEY")
	setDuration(&cfg.Server.ShutdownTimeout, "POOLBOT_SERVER_SHUTDOWN_TIMEOUT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "POOLBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POOLBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POOLBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "POOLBOT_NOTIFY_EVENTS")

	setBool(&cfg.Metrics.Enabled, "POOLBOT_METRICS_ENABLED")

	// ── Top-level ──
	setStr(&cfg.Mode, "POOLBOT_MODE")
	setStr(&cfg.LogLevel, "POOLBOT_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
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

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if cleaned := splitList(os.Getenv(key)); len(cleaned) > 0 {
		*dst = cleaned
	}
}

// appendStringSlice adds the comma separated entries of key to dst, skipping
// ones already present.
func appendStringSlice(dst *[]string, key string) {
	for _, v := range splitList(os.Getenv(key)) {
		v = strings.TrimRight(v, "/")
		dup := false
		for _, have := range *dst {
			if have == v {
				dup = true
				break
			}
		}
		if !dup {
			*dst = append(*dst, v)
		}
	}
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return cleaned
}
