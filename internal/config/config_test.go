package config

import (
	"os"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DATABASE_URL", "SYMBOLS", "PER_SYMBOL_QUEUE_CAPACITY",
		"EXPIRATION_TICK_SECONDS", "MARKET_ORDER_SLIPPAGE_CUSHION",
		"DB_MAX_RETRIES", "DB_RETRY_BASE_MS", "DB_RETRY_MAX_MS", "LOG_LEVEL",
		"DB_MAX_OPEN_CONNS", "DB_MAX_IDLE_CONNS", "DB_CONN_MAX_LIFETIME_SECONDS",
		"METRICS_PORT", "HEALTHCHECK_PORT",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.PerSymbolQueueCapacity != 1024 {
		t.Errorf("PerSymbolQueueCapacity = %d, want 1024", cfg.PerSymbolQueueCapacity)
	}
	if cfg.ExpirationTickSeconds != 1 {
		t.Errorf("ExpirationTickSeconds = %d, want 1", cfg.ExpirationTickSeconds)
	}
	if cfg.SlippageCushion != 1.10 {
		t.Errorf("SlippageCushion = %v, want 1.10", cfg.SlippageCushion)
	}
	if cfg.DBMaxRetries != 5 {
		t.Errorf("DBMaxRetries = %d, want 5", cfg.DBMaxRetries)
	}
	if cfg.DBRetryBaseMS != 50 {
		t.Errorf("DBRetryBaseMS = %d, want 50", cfg.DBRetryBaseMS)
	}
	if cfg.DBRetryMaxMS != 1500 {
		t.Errorf("DBRetryMaxMS = %d, want 1500", cfg.DBRetryMaxMS)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if cfg.DBMaxOpenConns != 50 {
		t.Errorf("DBMaxOpenConns = %d, want 50", cfg.DBMaxOpenConns)
	}
	if cfg.MetricsPort != 9090 {
		t.Errorf("MetricsPort = %d, want 9090", cfg.MetricsPort)
	}
	if cfg.HealthcheckPort != 8080 {
		t.Errorf("HealthcheckPort = %d, want 8080", cfg.HealthcheckPort)
	}
	if len(cfg.Symbols) != 0 {
		t.Errorf("Symbols = %v, want empty", cfg.Symbols)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://user:pass@db:5432/matchcore")
	t.Setenv("SYMBOLS", "AAPL, MSFT ,GOOG")
	t.Setenv("PER_SYMBOL_QUEUE_CAPACITY", "256")
	t.Setenv("EXPIRATION_TICK_SECONDS", "5")
	t.Setenv("MARKET_ORDER_SLIPPAGE_CUSHION", "1.25")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DatabaseURL != "postgres://user:pass@db:5432/matchcore" {
		t.Errorf("DatabaseURL = %q", cfg.DatabaseURL)
	}
	want := []string{"AAPL", "MSFT", "GOOG"}
	if len(cfg.Symbols) != len(want) {
		t.Fatalf("Symbols = %v, want %v", cfg.Symbols, want)
	}
	for i, s := range want {
		if cfg.Symbols[i] != s {
			t.Errorf("Symbols[%d] = %q, want %q", i, cfg.Symbols[i], s)
		}
	}
	if cfg.PerSymbolQueueCapacity != 256 {
		t.Errorf("PerSymbolQueueCapacity = %d, want 256", cfg.PerSymbolQueueCapacity)
	}
	if cfg.ExpirationTickSeconds != 5 {
		t.Errorf("ExpirationTickSeconds = %d, want 5", cfg.ExpirationTickSeconds)
	}
	if cfg.SlippageCushion != 1.25 {
		t.Errorf("SlippageCushion = %v, want 1.25", cfg.SlippageCushion)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
}

func TestLoad_InvalidLogLevel(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOG_LEVEL", "verbose")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for invalid LOG_LEVEL")
	}
}

func TestLoad_InvalidSlippageCushion(t *testing.T) {
	clearEnv(t)
	t.Setenv("MARKET_ORDER_SLIPPAGE_CUSHION", "1.0")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for slippage cushion <= 1.0")
	}
}

func TestSplitSymbols_Empty(t *testing.T) {
	if got := splitSymbols(""); got != nil {
		t.Errorf("splitSymbols(\"\") = %v, want nil", got)
	}
}

func TestSplitSymbols_TrimsAndDropsEmpty(t *testing.T) {
	got := splitSymbols(" AAPL ,, MSFT")
	want := []string{"AAPL", "MSFT"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
