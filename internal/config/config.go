// Package config loads process configuration from the environment once at
// startup. A .env file in the working directory is honoured when present.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sheikh-saqib/subscription-payments-ledger/internal/fees"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all configuration for the service. It is never mutated after Load.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Auth      AuthConfig
	Telegram  TelegramConfig
	Processor ProcessorConfig
	Fees      fees.Engine
	Kafka     KafkaConfig
	Redis     RedisConfig
	Log       LogConfig

	MinWithdrawal     decimal.Decimal
	SchedulerInterval time.Duration
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	Port            int
	WebhookURL      string
	ShutdownTimeout time.Duration
}

// DatabaseConfig selects the store. An empty URL means the in-memory store.
type DatabaseConfig struct {
	URL string
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	JWTSecret    string
	AdminUserIDs []int64
}

// IsAdmin reports whether id is one of the configured administrators.
func (a AuthConfig) IsAdmin(id int64) bool {
	for _, admin := range a.AdminUserIDs {
		if admin == id {
			return true
		}
	}
	return false
}

// TelegramConfig holds the platform bot settings.
type TelegramConfig struct {
	BotToken               string
	AdminWithdrawalGroupID int64
}

// ProcessorConfig holds the payment processor settings.
type ProcessorConfig struct {
	APIKey        string
	WebhookSecret string
	BaseURL       string
}

// KafkaConfig enables the Kafka outbox when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// RedisConfig enables the distributed sweep lock when Addr is non-empty.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string
	Format string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", 8080)
	v.SetDefault("WEBHOOK_URL", "http://localhost:8080")
	v.SetDefault("GGPIX_BASE_URL", "https://ggpixapi.com/api/v1")
	v.SetDefault("MIN_WITHDRAWAL", "50.00")
	v.SetDefault("FEE_IN_PLATFORM", "0.03")
	v.SetDefault("FEE_IN_PROFIT", "0.05")
	v.SetDefault("FEE_IN_MIN_FIXED", "0.77")
	v.SetDefault("FEE_OUT_PLATFORM", "0.02")
	v.SetDefault("FEE_OUT_PROFIT", "0.05")
	v.SetDefault("FEE_OUT_MIN_FIXED", "0.77")
	v.SetDefault("SCHEDULER_INTERVAL", "60s")
	v.SetDefault("KAFKA_TOPIC", "ledger.notifications")
	v.SetDefault("KAFKA_GROUP_ID", "ledger-notifier")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
	v.SetDefault("SHUTDOWN_TIMEOUT", "10s")
}

// Load reads the configuration.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)
	// AutomaticEnv only answers keys viper already knows about.
	for _, key := range []string{
		"DATABASE_URL", "TELEGRAM_BOT_TOKEN", "ADMIN_USER_IDS", "ADMIN_WITHDRAWAL_GROUP_ID",
		"JWT_SECRET", "GGPIX_API_KEY", "GGPIX_WEBHOOK_SECRET", "KAFKA_BROKERS",
		"REDIS_ADDR", "REDIS_PASSWORD",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	var err error
	cfg := &Config{
		Server: ServerConfig{
			Port:       v.GetInt("PORT"),
			WebhookURL: strings.TrimRight(v.GetString("WEBHOOK_URL"), "/"),
		},
		Database: DatabaseConfig{URL: v.GetString("DATABASE_URL")},
		Auth:     AuthConfig{JWTSecret: v.GetString("JWT_SECRET")},
		Telegram: TelegramConfig{
			BotToken:               v.GetString("TELEGRAM_BOT_TOKEN"),
			AdminWithdrawalGroupID: v.GetInt64("ADMIN_WITHDRAWAL_GROUP_ID"),
		},
		Processor: ProcessorConfig{
			APIKey:        v.GetString("GGPIX_API_KEY"),
			WebhookSecret: v.GetString("GGPIX_WEBHOOK_SECRET"),
			BaseURL:       strings.TrimRight(v.GetString("GGPIX_BASE_URL"), "/"),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(v.GetString("KAFKA_BROKERS")),
			Topic:   v.GetString("KAFKA_TOPIC"),
			GroupID: v.GetString("KAFKA_GROUP_ID"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		Log: LogConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
	}

	if cfg.Auth.AdminUserIDs, err = parseIDs(v.GetString("ADMIN_USER_IDS")); err != nil {
		return nil, err
	}
	if cfg.Server.ShutdownTimeout, err = duration(v, "SHUTDOWN_TIMEOUT"); err != nil {
		return nil, err
	}
	if cfg.SchedulerInterval, err = duration(v, "SCHEDULER_INTERVAL"); err != nil {
		return nil, err
	}
	if cfg.MinWithdrawal, err = money(v, "MIN_WITHDRAWAL"); err != nil {
		return nil, err
	}

	var in, out fees.Rates
	for key, dst := range map[string]*decimal.Decimal{
		"FEE_IN_PLATFORM":   &in.PlatformPct,
		"FEE_IN_PROFIT":     &in.ProfitPct,
		"FEE_IN_MIN_FIXED":  &in.MinFixed,
		"FEE_OUT_PLATFORM":  &out.PlatformPct,
		"FEE_OUT_PROFIT":    &out.ProfitPct,
		"FEE_OUT_MIN_FIXED": &out.MinFixed,
	} {
		if *dst, err = money(v, key); err != nil {
			return nil, err
		}
	}
	cfg.Fees = fees.New(in, out)

	return cfg, nil
}

func money(v *viper.Viper, key string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(v.GetString(key)))
	if err != nil {
		return decimal.Zero, fmt.Errorf("config: %s: %w", key, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("config: %s must not be negative", key)
	}
	return d, nil
}

func duration(v *viper.Viper, key string) (time.Duration, error) {
	d, err := time.ParseDuration(v.GetString(key))
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("config: %s must be positive", key)
	}
	return d, nil
}

func parseIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range splitList(raw) {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("config: ADMIN_USER_IDS: %q is not an id", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
