/**
 * @description
 * This package handles the configuration management for the wallet service. It uses
 * Viper to read configuration from environment variables and an optional .env file.
 *
 * @dependencies
 * - github.com/spf13/viper: Application configuration.
 */

package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

const (
	LedgerPostgres = "postgres"
	LedgerMemory   = "memory"
)

// Config holds all the configuration variables for the wallet service.
type Config struct {
	ServerPort                 string `mapstructure:"SERVER_PORT"`
	DatabaseURL                string `mapstructure:"DATABASE_URL"`
	LedgerBackend              string `mapstructure:"LEDGER_BACKEND"`
	RedisURL                   string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix       string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RedisFeedChannelPrefix     string `mapstructure:"REDIS_FEED_CHANNEL_PREFIX"`
	RabbitMQURL                string `mapstructure:"RABBITMQ_URL"`
	NotifyExchange             string `mapstructure:"NOTIFY_EXCHANGE"`
	NotifyQueue                string `mapstructure:"NOTIFY_QUEUE"`
	TelegramBotToken           string `mapstructure:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID             int64  `mapstructure:"TELEGRAM_CHAT_ID"`
	TelegramWebhookSecret      string `mapstructure:"TELEGRAM_WEBHOOK_SECRET"`
	TelegramAPIBaseURL         string `mapstructure:"TELEGRAM_API_BASE_URL"`
	JWKSURL                    string `mapstructure:"JWKS_URL"`
	SignupBonus                int64  `mapstructure:"SIGNUP_BONUS"`
	DepositRateLimitPerMinute  int    `mapstructure:"DEPOSIT_RATE_LIMIT_PER_MINUTE"`
	PendingDigestSchedule      string `mapstructure:"PENDING_DIGEST_SCHEDULE"`
	PendingDigestMinAgeMinutes int    `mapstructure:"PENDING_DIGEST_MIN_AGE_MINUTES"`
	LogLevel                   string `mapstructure:"LOG_LEVEL"`
	CORSAllowedOrigins         string `mapstructure:"CORS_ALLOWED_ORIGINS"`
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS on commas.
func (c Config) AllowedOrigins() []string {
	var origins []string
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

// LoadConfig reads configuration from environment variables and the optional .env
// file in path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("LEDGER_BACKEND", LedgerPostgres)
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "paygig:rate_limit")
	viper.SetDefault("REDIS_FEED_CHANNEL_PREFIX", "paygig:feed")
	viper.SetDefault("NOTIFY_EXCHANGE", "paygig.events")
	viper.SetDefault("NOTIFY_QUEUE", "paygig.admin_notifications")
	viper.SetDefault("TELEGRAM_API_BASE_URL", "https://api.telegram.org")
	viper.SetDefault("SIGNUP_BONUS", 2000)
	viper.SetDefault("DEPOSIT_RATE_LIMIT_PER_MINUTE", 5)
	viper.SetDefault("PENDING_DIGEST_SCHEDULE", "*/30 * * * *")
	viper.SetDefault("PENDING_DIGEST_MIN_AGE_MINUTES", 30)
	viper.SetDefault("LOG_LEVEL", "info")

	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("LEDGER_BACKEND")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("REDIS_FEED_CHANNEL_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("NOTIFY_EXCHANGE")
	_ = viper.BindEnv("NOTIFY_QUEUE")
	_ = viper.BindEnv("TELEGRAM_BOT_TOKEN")
	_ = viper.BindEnv("TELEGRAM_CHAT_ID")
	_ = viper.BindEnv("TELEGRAM_WEBHOOK_SECRET")
	_ = viper.BindEnv("TELEGRAM_API_BASE_URL")
	_ = viper.BindEnv("JWKS_URL")
	_ = viper.BindEnv("SIGNUP_BONUS")
	_ = viper.BindEnv("DEPOSIT_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("PENDING_DIGEST_SCHEDULE")
	_ = viper.BindEnv("PENDING_DIGEST_MIN_AGE_MINUTES")
	_ = viper.BindEnv("LOG_LEVEL")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")

	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
		err = nil
	}

	// TELEGRAM_CHAT_ID is read as a string first so a malformed value is reported
	// instead of failing the whole unmarshal.
	rawChatID := strings.TrimSpace(viper.GetString("TELEGRAM_CHAT_ID"))
	viper.Set("TELEGRAM_CHAT_ID", 0)

	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	if rawChatID != "" {
		chatID, parseErr := strconv.ParseInt(rawChatID, 10, 64)
		if parseErr != nil {
			log.Printf("level=warn component=config msg=\"invalid TELEGRAM_CHAT_ID; admin channel disabled\" value=%q err=%v", rawChatID, parseErr)
		} else {
			config.TelegramChatID = chatID
		}
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}

	config.LedgerBackend = strings.ToLower(strings.TrimSpace(config.LedgerBackend))
	if config.LedgerBackend != LedgerPostgres && config.LedgerBackend != LedgerMemory {
		log.Printf("level=warn component=config msg=\"unknown LEDGER_BACKEND; using postgres\" value=%q", config.LedgerBackend)
		config.LedgerBackend = LedgerPostgres
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RabbitMQURL = strings.TrimSpace(config.RabbitMQURL)
	config.TelegramBotToken = strings.TrimSpace(config.TelegramBotToken)
	config.TelegramWebhookSecret = strings.TrimSpace(config.TelegramWebhookSecret)
	config.PendingDigestSchedule = strings.TrimSpace(config.PendingDigestSchedule)

	if config.SignupBonus < 0 {
		log.Printf("level=warn component=config msg=\"negative signup bonus configured; coercing to zero\" bonus=%d", config.SignupBonus)
		config.SignupBonus = 0
	}
	if config.DepositRateLimitPerMinute <= 0 {
		config.DepositRateLimitPerMinute = 5
	}
	if config.PendingDigestMinAgeMinutes < 0 {
		config.PendingDigestMinAgeMinutes = 30
	}

	return
}
