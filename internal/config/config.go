// Package config defines the top-level configuration for poolbot and
// provides validation helpers.
package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/poolbot/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by POOLBOT_* environment variables.
type Config struct {
	Chain      ChainConfig      `toml:"chain"`
	Wallet     WalletConfig     `toml:"wallet"`
	Markets    MarketsConfig    `toml:"markets"`
	Bot        BotConfig        `toml:"bot"`
	Aggregator AggregatorConfig `toml:"aggregator"`
	History    HistoryConfig    `toml:"history"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Metrics    MetricsConfig    `toml:"metrics"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// ChainConfig holds the JSON-RPC endpoint and the funding token.
type ChainConfig struct {
	RPCURL       string `toml:"rpc_url"`
	ChainID      int64  `toml:"chain_id"`
	TokenAddress string `toml:"token_address"`
	// TokenDecimals of 0 means read decimals() from the token at startup.
	TokenDecimals       int      `toml:"token_decimals"`
	ReceiptPollInterval duration `toml:"receipt_poll_interval"`
	ConfirmTimeout      duration `toml:"confirm_timeout"`
}

// WalletConfig holds the bot wallet credentials.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// MarketsConfig points at the deployed market registry.
type MarketsConfig struct {
	Path string `toml:"path"`
}

// BotConfig holds the trading scheduler parameters.
type BotConfig struct {
	Interval duration `toml:"interval"`
}

// AggregatorConfig holds the market read parameters.
type AggregatorConfig struct {
	Concurrency int      `toml:"concurrency"`
	ReadTimeout duration `toml:"read_timeout"`
	// PollInterval of 0 disables background collection; passes then only run
	// on GET /api/markets.
	PollInterval duration `toml:"poll_interval"`
}

// HistoryConfig selects and configures the durable history backend.
type HistoryConfig struct {
	Backend    string `toml:"backend"` // file, s3 or sqlite
	Capacity   int    `toml:"capacity"`
	Path       string `toml:"path"`
	S3Key      string `toml:"s3_key"`
	SQLitePath string `toml:"sqlite_path"`
}

// PostgresConfig holds the trade journal / audit log database parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled     bool     `toml:"enabled"`
	Addr        string   `toml:"addr"`
	Password    string   `toml:"password"`
	DB          int      `toml:"db"`
	PoolSize    int      `toml:"pool_size"`
	MaxRetries  int      `toml:"max_retries"`
	TLSEnabled  bool     `toml:"tls_enabled"`
	SnapshotTTL duration `toml:"snapshot_ttl"`
	// RateLimit is the number of /api/markets requests allowed per client IP
	// per minute.
	RateLimit int `toml:"rate_limit"`
	// KeyPrefix namespaces keys and pub/sub channels.
	KeyPrefix string `toml:"key_prefix"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	// Archive exports the trade journal to the bucket once a day. It needs
	// postgres.
	Archive bool `toml:"archive"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// CORSOriginPatterns are anchored regular expressions matched against the
	// Origin header, e.g. `^https://[a-z0-9-]+\.vercel\.app$`.
	CORSOriginPatterns []string `toml:"cors_origin_patterns"`
	// AdminAPIKey protects POST /api/resolve. Empty disables the check.
	AdminAPIKey     string   `toml:"admin_api_key"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			RPCURL:              "http://127.0.0.1:8545",
			ChainID:             31337,
			TokenDecimals:       6,
			ReceiptPollInterval: duration{time.Second},
			ConfirmTimeout:      duration{2 * time.Minute},
		},
		Markets: MarketsConfig{
			Path: "shared/deployed.json",
		},
		Bot: BotConfig{
			Interval: duration{60 * time.Second},
		},
		Aggregator: AggregatorConfig{
			Concurrency: 8,
			ReadTimeout: duration{10 * time.Second},
		},
		History: HistoryConfig{
			Backend:    "file",
			Capacity:   500,
			Path:       "shared/history.json",
			S3Key:      "history/history.json",
			SQLitePath: "data/history.db",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "poolbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			PoolSize:    20,
			MaxRetries:  3,
			SnapshotTTL: duration{10 * time.Minute},
			RateLimit:   120,
			KeyPrefix:   "poolbot",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "poolbot-data",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Port: 3001,
			CORSOrigins: []string{
				"http://localhost:3000",
				"http://127.0.0.1:3000",
				"http://localhost:3001",
			},
			CORSOriginPatterns: []string{`^https://[a-z0-9-]+\.vercel\.app$`},
			ShutdownTimeout:    duration{10 * time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"market_resolved", "approval_failed", "history_persist_failed"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"full":    true,
	"bot":     true,
	"server":  true,
	"approve": true,
	"resolve": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validHistoryBackends = map[string]bool{
	"file":   true,
	"s3":     true,
	"sqlite": true,
}

// NeedsWallet reports whether the mode submits transactions.
func (c *Config) NeedsWallet() bool {
	switch strings.ToLower(c.Mode) {
	case "full", "bot", "approve", "resolve":
		return true
	}
	return false
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found. The error wraps
// domain.ErrConfiguration.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: full, bot, server, approve, resolve)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Chain
	if c.Chain.RPCURL == "" {
		errs = append(errs, "chain: rpc_url must not be empty")
	}
	if c.Chain.ChainID <= 0 {
		errs = append(errs, "chain: chain_id must be positive")
	}
	if !common.IsHexAddress(c.Chain.TokenAddress) {
		errs = append(errs, fmt.Sprintf("chain: token_address %q is not a hex address", c.Chain.TokenAddress))
	}
	if c.Chain.TokenDecimals < 0 || c.Chain.TokenDecimals > 36 {
		errs = append(errs, fmt.Sprintf("chain: token_decimals must be 0-36, got %d", c.Chain.TokenDecimals))
	}
	if c.Chain.ReceiptPollInterval.Duration <= 0 {
		errs = append(errs, "chain: receipt_poll_interval must be > 0")
	}
	if c.Chain.ConfirmTimeout.Duration <= 0 {
		errs = append(errs, "chain: confirm_timeout must be > 0")
	}

	// Wallet
	if c.NeedsWallet() {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	if c.Markets.Path == "" {
		errs = append(errs, "markets: path must not be empty")
	}
	if c.Bot.Interval.Duration <= 0 {
		errs = append(errs, "bot: interval must be > 0")
	}

	// Aggregator
	if c.Aggregator.Concurrency < 1 {
		errs = append(errs, "aggregator: concurrency must be >= 1")
	}
	if c.Aggregator.ReadTimeout.Duration <= 0 {
		errs = append(errs, "aggregator: read_timeout must be > 0")
	}
	if c.Aggregator.PollInterval.Duration < 0 {
		errs = append(errs, "aggregator: poll_interval must not be negative")
	}

	// History
	if !validHistoryBackends[c.History.Backend] {
		errs = append(errs, fmt.Sprintf("history: unknown backend %q (valid: file, s3, sqlite)", c.History.Backend))
	}
	if c.History.Capacity < 1 {
		errs = append(errs, "history: capacity must be >= 1")
	}
	switch c.History.Backend {
	case "file":
		if c.History.Path == "" {
			errs = append(errs, "history: path must not be empty for the file backend")
		}
	case "s3":
		if c.S3.Endpoint == "" || c.S3.Bucket == "" {
			errs = append(errs, "s3: endpoint and bucket must be set for the s3 history backend")
		}
		if c.History.S3Key == "" {
			errs = append(errs, "history: s3_key must not be empty for the s3 backend")
		}
	case "sqlite":
		if c.History.SQLitePath == "" {
			errs = append(errs, "history: sqlite_path must not be empty for the sqlite backend")
		}
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	if c.S3.Archive {
		if !c.Postgres.Enabled {
			errs = append(errs, "s3: archive requires postgres.enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must be set for archive")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.RateLimit < 0 {
			errs = append(errs, "redis: rate_limit must not be negative")
		}
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	for _, p := range c.Server.CORSOriginPatterns {
		if _, err := regexp.Compile(p); err != nil {
			errs = append(errs, fmt.Sprintf("server: invalid cors_origin_patterns entry %q: %v", p, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: config validation failed:\n  - %s", domain.ErrConfiguration, strings.Join(errs, "\n  - "))
	}
	return nil
}
