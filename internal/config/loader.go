package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies CLEARING_* environment variable overrides, and
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

// applyEnvOverrides reads well-known CLEARING_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "CLEARING_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "CLEARING_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "CLEARING_WALLET_KEY_PASSWORD")

	// ── Database ──
	setStr(&cfg.Database.DSN, "CLEARING_DATABASE_DSN")
	setStr(&cfg.Database.Host, "CLEARING_DATABASE_HOST")
	setInt(&cfg.Database.Port, "CLEARING_DATABASE_PORT")
	setStr(&cfg.Database.Database, "CLEARING_DATABASE_DATABASE")
	setStr(&cfg.Database.User, "CLEARING_DATABASE_USER")
	setStr(&cfg.Database.Password, "CLEARING_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "CLEARING_DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "CLEARING_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "CLEARING_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "CLEARING_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "CLEARING_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CLEARING_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CLEARING_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CLEARING_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "CLEARING_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "CLEARING_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "CLEARING_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "CLEARING_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "CLEARING_S3_REGION")
	setStr(&cfg.S3.Bucket, "CLEARING_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "CLEARING_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "CLEARING_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "CLEARING_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "CLEARING_S3_FORCE_PATH_STYLE")

	// ── Ledger ──
	setStringSlice(&cfg.Ledger.Tokens, "CLEARING_LEDGER_TOKENS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "CLEARING_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "CLEARING_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "CLEARING_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "CLEARING_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "CLEARING_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "CLEARING_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "CLEARING_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "CLEARING_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "CLEARING_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "CLEARING_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "CLEARING_MODE")
	setStr(&cfg.LogLevel, "CLEARING_LOG_LEVEL")
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
