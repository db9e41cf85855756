/**
 * @description
 * This package handles configuration management for the subscription-tracker.
 * It uses Viper to read settings from environment variables or an optional
 * .env file, applies defaults and validates the combinations the service needs
 * to boot (store driver, notifier transport, sweep timing).
 *
 * @dependencies
 * - github.com/spf13/viper: Configuration loading and environment binding.
 */
package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	NotifierDriverSMTP     = "smtp"
	NotifierDriverRabbitMQ = "rabbitmq"
	NotifierDriverLog      = "log"
)

// Config holds all configuration for the subscription-tracker.
type Config struct {
	ServerPort    string `mapstructure:"SERVER_PORT"`
	DatabaseURL   string `mapstructure:"DATABASE_URL"`
	StoreDriver   string `mapstructure:"STORE_DRIVER"`
	DBAutoMigrate bool   `mapstructure:"DB_AUTO_MIGRATE"`
	DBMaxConns    int32  `mapstructure:"DB_MAX_CONNS"`

	SweepInterval     time.Duration `mapstructure:"SWEEP_INTERVAL"`
	SweepSchedule     string        `mapstructure:"SWEEP_SCHEDULE"`
	SweepTimeout      time.Duration `mapstructure:"SWEEP_TIMEOUT"`
	SweepRunOnStartup bool          `mapstructure:"SWEEP_RUN_ON_STARTUP"`
	WarningWindow     time.Duration `mapstructure:"WARNING_WINDOW"`

	NotifierDriver       string `mapstructure:"NOTIFIER_DRIVER"`
	SMTPServer           string `mapstructure:"SMTP_SERVER"`
	SMTPPort             int    `mapstructure:"SMTP_PORT"`
	SMTPUsername         string `mapstructure:"SMTP_USERNAME"`
	SMTPPassword         string `mapstructure:"SMTP_PASSWORD"`
	SMTPFrom             string `mapstructure:"SMTP_FROM"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	NotificationExchange string `mapstructure:"NOTIFICATION_EXCHANGE"`

	RedisURL                string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix    string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RenewRateLimitPerMinute int    `mapstructure:"RENEW_RATE_LIMIT_PER_MINUTE"`

	ClerkJWKSURL   string `mapstructure:"CLERK_JWKS_URL"`
	InternalAPIKey string `mapstructure:"INTERNAL_API_KEY"`
}

// LoadConfig reads configuration from environment variables, falling back to
// an optional .env file in path.
func LoadConfig(path string) (*Config, error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("STORE_DRIVER", StoreDriverPostgres)
	viper.SetDefault("DB_AUTO_MIGRATE", false)
	viper.SetDefault("DB_MAX_CONNS", 20)
	viper.SetDefault("SWEEP_INTERVAL", "24h")
	viper.SetDefault("SWEEP_TIMEOUT", "1h")
	viper.SetDefault("SWEEP_RUN_ON_STARTUP", false)
	viper.SetDefault("WARNING_WINDOW", "72h")
	viper.SetDefault("NOTIFIER_DRIVER", NotifierDriverLog)
	viper.SetDefault("SMTP_PORT", 587)
	viper.SetDefault("NOTIFICATION_EXCHANGE", "subscriptions.notifications")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "subscriptions:rate_limit")
	viper.SetDefault("RENEW_RATE_LIMIT_PER_MINUTE", 10)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	for _, key := range []string{
		"SERVER_PORT", "DATABASE_URL", "STORE_DRIVER", "DB_AUTO_MIGRATE", "DB_MAX_CONNS",
		"SWEEP_INTERVAL", "SWEEP_SCHEDULE", "SWEEP_TIMEOUT", "SWEEP_RUN_ON_STARTUP", "WARNING_WINDOW",
		"NOTIFIER_DRIVER", "SMTP_SERVER", "SMTP_PORT", "SMTP_USERNAME", "SMTP_PASSWORD", "SMTP_FROM",
		"RABBITMQ_URL", "NOTIFICATION_EXCHANGE",
		"REDIS_URL", "REDIS_RATE_LIMIT_PREFIX", "RENEW_RATE_LIMIT_PER_MINUTE",
		"CLERK_JWKS_URL", "INTERNAL_API_KEY",
	} {
		_ = viper.BindEnv(key)
	}

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Railway-style PORT overrides SERVER_PORT when present.
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.StoreDriver = strings.ToLower(strings.TrimSpace(config.StoreDriver))
	config.NotifierDriver = strings.ToLower(strings.TrimSpace(config.NotifierDriver))
	config.DatabaseURL = strings.TrimSpace(config.DatabaseURL)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.SweepSchedule = strings.TrimSpace(config.SweepSchedule)
	config.InternalAPIKey = strings.TrimSpace(config.InternalAPIKey)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "subscriptions:rate_limit"
	}
	if config.DBMaxConns <= 0 {
		config.DBMaxConns = 20
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case StoreDriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=%s", StoreDriverPostgres)
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.StoreDriver)
	}

	switch c.NotifierDriver {
	case NotifierDriverSMTP:
		if strings.TrimSpace(c.SMTPServer) == "" {
			return fmt.Errorf("SMTP_SERVER is required when NOTIFIER_DRIVER=%s", NotifierDriverSMTP)
		}
		if c.SMTPPort <= 0 {
			return fmt.Errorf("SMTP_PORT must be positive, got %d", c.SMTPPort)
		}
	case NotifierDriverRabbitMQ:
		if strings.TrimSpace(c.RabbitMQURL) == "" {
			return fmt.Errorf("RABBITMQ_URL is required when NOTIFIER_DRIVER=%s", NotifierDriverRabbitMQ)
		}
	case NotifierDriverLog:
	default:
		return fmt.Errorf("unsupported NOTIFIER_DRIVER %q", c.NotifierDriver)
	}

	if c.SweepSchedule == "" && c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive, got %s", c.SweepInterval)
	}
	if c.SweepTimeout <= 0 {
		return fmt.Errorf("SWEEP_TIMEOUT must be positive, got %s", c.SweepTimeout)
	}
	if c.SweepSchedule == "" && c.SweepTimeout >= c.SweepInterval {
		return fmt.Errorf("SWEEP_TIMEOUT %s must be shorter than SWEEP_INTERVAL %s", c.SweepTimeout, c.SweepInterval)
	}
	if c.WarningWindow <= 0 {
		return fmt.Errorf("WARNING_WINDOW must be positive, got %s", c.WarningWindow)
	}
	return nil
}

// SweepSpec returns the cron spec the scheduler registers the sweep with.
func (c *Config) SweepSpec() string {
	if c.SweepSchedule != "" {
		return c.SweepSchedule
	}
	return "@every " + c.SweepInterval.String()
}
