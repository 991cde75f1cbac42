// Package config loads runtime configuration from the environment via
// viper, applying the same defaults-plus-AutomaticEnv shape used elsewhere
// in the pack's services.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds every runtime knob the matching core and its ambient
// surfaces (logging, metrics, health) need.
type Config struct {
	DatabaseURL string
	Symbols     []string

	PerSymbolQueueCapacity int
	ExpirationTickSeconds  int
	SlippageCushion        float64
	DBMaxRetries           int
	DBRetryBaseMS          int
	DBRetryMaxMS           int

	LogLevel string

	DBMaxOpenConns        int
	DBMaxIdleConns        int
	DBConnMaxLifetimeSecs int

	MetricsPort     int
	HealthcheckPort int
}

// Load reads configuration from the environment, applying defaults for
// anything unset, and validates values that cannot be coerced directly.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("DATABASE_URL", "postgres://localhost:5432/matchcore?sslmode=disable")
	v.SetDefault("SYMBOLS", "")
	v.SetDefault("PER_SYMBOL_QUEUE_CAPACITY", 1024)
	v.SetDefault("EXPIRATION_TICK_SECONDS", 1)
	v.SetDefault("MARKET_ORDER_SLIPPAGE_CUSHION", 1.10)
	v.SetDefault("DB_MAX_RETRIES", 5)
	v.SetDefault("DB_RETRY_BASE_MS", 50)
	v.SetDefault("DB_RETRY_MAX_MS", 1500)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_OPEN_CONNS", 50)
	v.SetDefault("DB_MAX_IDLE_CONNS", 10)
	v.SetDefault("DB_CONN_MAX_LIFETIME_SECONDS", 3600)
	v.SetDefault("METRICS_PORT", 9090)
	v.SetDefault("HEALTHCHECK_PORT", 8080)

	logLevel := v.GetString("LOG_LEVEL")
	if !isValidLogLevel(logLevel) {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %q, must be one of: debug, info, warn, error", logLevel)
	}

	cushion := v.GetFloat64("MARKET_ORDER_SLIPPAGE_CUSHION")
	if cushion <= 1.0 {
		return nil, fmt.Errorf("invalid MARKET_ORDER_SLIPPAGE_CUSHION: %v, must be greater than 1.0", cushion)
	}

	return &Config{
		DatabaseURL:            v.GetString("DATABASE_URL"),
		Symbols:                splitSymbols(v.GetString("SYMBOLS")),
		PerSymbolQueueCapacity: v.GetInt("PER_SYMBOL_QUEUE_CAPACITY"),
		ExpirationTickSeconds:  v.GetInt("EXPIRATION_TICK_SECONDS"),
		SlippageCushion:        cushion,
		DBMaxRetries:           v.GetInt("DB_MAX_RETRIES"),
		DBRetryBaseMS:          v.GetInt("DB_RETRY_BASE_MS"),
		DBRetryMaxMS:           v.GetInt("DB_RETRY_MAX_MS"),
		LogLevel:               logLevel,
		DBMaxOpenConns:         v.GetInt("DB_MAX_OPEN_CONNS"),
		DBMaxIdleConns:         v.GetInt("DB_MAX_IDLE_CONNS"),
		DBConnMaxLifetimeSecs:  v.GetInt("DB_CONN_MAX_LIFETIME_SECONDS"),
		MetricsPort:            v.GetInt("METRICS_PORT"),
		HealthcheckPort:        v.GetInt("HEALTHCHECK_PORT"),
	}, nil
}

func splitSymbols(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}
