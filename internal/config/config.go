/**
 * @description
 * This package handles configuration management for poold. It uses Viper to
 * read an optional .env file and environment variables into Config.
 *
 * @dependencies
 * - github.com/spf13/viper: Configuration management.
 */
package config

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const (
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"
)

// Config holds all the configuration variables for poold.
type Config struct {
	ServerPort               string `mapstructure:"SERVER_PORT"`
	LogPretty                bool   `mapstructure:"LOG_PRETTY"`
	LogLevel                 string `mapstructure:"LOG_LEVEL"`
	StoreBackend             string `mapstructure:"STORE_BACKEND"`
	DatabaseURL              string `mapstructure:"DATABASE_URL"`
	RedisURL                 string `mapstructure:"REDIS_URL"`
	OnboardingLockPrefix     string `mapstructure:"ONBOARDING_LOCK_PREFIX"`
	OnboardingLockTTLSeconds int    `mapstructure:"ONBOARDING_LOCK_TTL_SECONDS"`
	RabbitMQURL              string `mapstructure:"RABBITMQ_URL"`
	PaymentEventsQueue       string `mapstructure:"PAYMENT_EVENTS_QUEUE"`
	PaymentsAPIBaseURL       string `mapstructure:"PAYMENTS_API_BASE_URL"`
	PaymentsAPIKey           string `mapstructure:"PAYMENTS_API_KEY"`
	SessionTokenSecret       string `mapstructure:"SESSION_TOKEN_SECRET"`
	SessionTokenIssuer       string `mapstructure:"SESSION_TOKEN_ISSUER"`
	SessionTokenTTLMinutes   int    `mapstructure:"SESSION_TOKEN_TTL_MINUTES"`
	FederatedJWKSURL         string `mapstructure:"FEDERATED_JWKS_URL"`
	FederatedAudience        string `mapstructure:"FEDERATED_AUDIENCE"`
	FederatedIssuer          string `mapstructure:"FEDERATED_ISSUER"`
	OrphanReportSchedule     string `mapstructure:"ORPHAN_REPORT_SCHEDULE"`
	RateLimitPerMinute       int    `mapstructure:"RATE_LIMIT_PER_MINUTE"`
	CORSAllowedOrigins       string `mapstructure:"CORS_ALLOWED_ORIGINS"`
}

// LoadConfig reads configuration from the optional .env file under path and
// from the environment. Environment values win.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("LOG_PRETTY", false)
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("STORE_BACKEND", StoreBackendPostgres)
	viper.SetDefault("ONBOARDING_LOCK_PREFIX", "pool:onboarding")
	viper.SetDefault("ONBOARDING_LOCK_TTL_SECONDS", 120)
	viper.SetDefault("PAYMENT_EVENTS_QUEUE", "poold.payment_status")
	viper.SetDefault("SESSION_TOKEN_ISSUER", "poold")
	viper.SetDefault("SESSION_TOKEN_TTL_MINUTES", 60*24)
	viper.SetDefault("ORPHAN_REPORT_SCHEDULE", "0 3 * * *") // Every day at 03:00.
	viper.SetDefault("RATE_LIMIT_PER_MINUTE", 120)
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "*")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("LOG_PRETTY")
	_ = viper.BindEnv("LOG_LEVEL")
	_ = viper.BindEnv("STORE_BACKEND")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("ONBOARDING_LOCK_PREFIX")
	_ = viper.BindEnv("ONBOARDING_LOCK_TTL_SECONDS")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("PAYMENT_EVENTS_QUEUE")
	_ = viper.BindEnv("PAYMENTS_API_BASE_URL")
	_ = viper.BindEnv("PAYMENTS_API_KEY")
	_ = viper.BindEnv("SESSION_TOKEN_SECRET")
	_ = viper.BindEnv("SESSION_TOKEN_ISSUER")
	_ = viper.BindEnv("SESSION_TOKEN_TTL_MINUTES")
	_ = viper.BindEnv("FEDERATED_JWKS_URL")
	_ = viper.BindEnv("FEDERATED_AUDIENCE")
	_ = viper.BindEnv("FEDERATED_ISSUER")
	_ = viper.BindEnv("ORPHAN_REPORT_SCHEDULE")
	_ = viper.BindEnv("RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")

	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn().Err(err).Str("component", "config").Msg("failed to read config file; using environment values")
		}
		err = nil
	}

	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.StoreBackend = strings.ToLower(strings.TrimSpace(config.StoreBackend))
	if config.StoreBackend != StoreBackendMemory {
		config.StoreBackend = StoreBackendPostgres
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	if config.OnboardingLockTTLSeconds <= 0 {
		log.Warn().Str("component", "config").Int("value", config.OnboardingLockTTLSeconds).Msg("non-positive onboarding lock ttl; using 120s")
		config.OnboardingLockTTLSeconds = 120
	}
	if config.SessionTokenTTLMinutes <= 0 {
		config.SessionTokenTTLMinutes = 60 * 24
	}
	if config.RateLimitPerMinute <= 0 {
		config.RateLimitPerMinute = 120
	}

	return config, nil
}

// OnboardingLockTTL returns the onboarding guard lifetime.
func (c Config) OnboardingLockTTL() time.Duration {
	return time.Duration(c.OnboardingLockTTLSeconds) * time.Second
}

// SessionTokenTTL returns the lifetime of issued session tokens.
func (c Config) SessionTokenTTL() time.Duration {
	return time.Duration(c.SessionTokenTTLMinutes) * time.Minute
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
