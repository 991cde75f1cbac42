package config

import (
	"os"
	"strconv"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

var validLogLevels = []string{"debug", "info", "warn", "error"}

var allEnvKeys = []string{
	"DATABASE_URL", "SYMBOLS", "PER_SYMBOL_QUEUE_CAPACITY",
	"EXPIRATION_TICK_SECONDS", "MARKET_ORDER_SLIPPAGE_CUSHION",
	"DB_MAX_RETRIES", "DB_RETRY_BASE_MS", "DB_RETRY_MAX_MS", "LOG_LEVEL",
	"DB_MAX_OPEN_CONNS", "DB_MAX_IDLE_CONNS", "DB_CONN_MAX_LIFETIME_SECONDS",
	"METRICS_PORT", "HEALTHCHECK_PORT",
}

func unsetAllConfigEnv() {
	for _, key := range allEnvKeys {
		os.Unsetenv(key)
	}
}

// TestProperty_ValidLogLevelAlwaysAccepted checks that every sampled member
// of validLogLevels round-trips through Load unchanged.
func TestProperty_ValidLogLevelAlwaysAccepted(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		unsetAllConfigEnv()
		defer unsetAllConfigEnv()

		level := rapid.SampledFrom(validLogLevels).Draw(t, "logLevel")
		os.Setenv("LOG_LEVEL", level)

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() returned error for valid LOG_LEVEL %q: %v", level, err)
		}
		if cfg.LogLevel != level {
			t.Fatalf("LogLevel = %q, want %q", cfg.LogLevel, level)
		}
	})
}

// TestProperty_InvalidLogLevelReturnsError checks that any string outside
// validLogLevels is rejected.
func TestProperty_InvalidLogLevelReturnsError(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		unsetAllConfigEnv()
		defer unsetAllConfigEnv()

		invalidLevel := rapid.StringMatching(`[a-z]{1,20}`).Filter(func(s string) bool {
			for _, v := range validLogLevels {
				if s == v {
					return false
				}
			}
			return s != ""
		}).Draw(t, "invalidLevel")

		os.Setenv("LOG_LEVEL", invalidLevel)

		_, err := Load()
		if err == nil {
			t.Fatalf("Load() should return error for invalid LOG_LEVEL %q", invalidLevel)
		}
	})
}

// TestProperty_SlippageCushionAboveOneAccepted checks that any cushion
// strictly greater than 1.0 passes validation.
func TestProperty_SlippageCushionAboveOneAccepted(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		unsetAllConfigEnv()
		defer unsetAllConfigEnv()

		cushion := rapid.Float64Range(1.01, 5.0).Draw(t, "cushion")
		os.Setenv("MARKET_ORDER_SLIPPAGE_CUSHION", strconv.FormatFloat(cushion, 'f', -1, 64))

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() returned error for cushion %v: %v", cushion, err)
		}
		if cfg.SlippageCushion <= 1.0 {
			t.Fatalf("SlippageCushion = %v, want > 1.0", cfg.SlippageCushion)
		}
	})
}

// TestProperty_SlippageCushionAtOrBelowOneRejected checks that any cushion
// less than or equal to 1.0 is rejected.
func TestProperty_SlippageCushionAtOrBelowOneRejected(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		unsetAllConfigEnv()
		defer unsetAllConfigEnv()

		cushion := rapid.Float64Range(-5.0, 1.0).Draw(t, "cushion")
		os.Setenv("MARKET_ORDER_SLIPPAGE_CUSHION", strconv.FormatFloat(cushion, 'f', -1, 64))

		_, err := Load()
		if err == nil {
			t.Fatalf("Load() should return error for cushion %v", cushion)
		}
	})
}

// TestProperty_SplitSymbolsNeverReturnsEmptyEntries checks that whatever
// comma-separated, whitespace-padded garbage is fed in, splitSymbols never
// yields an empty string in the result.
func TestProperty_SplitSymbolsNeverReturnsEmptyEntries(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		raw := rapid.StringMatching(`[ ,A-Z]{0,30}`).Draw(t, "raw")
		for _, s := range splitSymbols(raw) {
			if strings.TrimSpace(s) == "" {
				t.Fatalf("splitSymbols(%q) produced an empty entry: %v", raw, splitSymbols(raw))
			}
		}
	})
}
