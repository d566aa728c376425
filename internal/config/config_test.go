package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
)

var configKeys = []string{
	"SERVER_PORT", "PORT", "LEDGER_BACKEND", "SIGNUP_BONUS", "TELEGRAM_CHAT_ID",
	"DEPOSIT_RATE_LIMIT_PER_MINUTE", "PENDING_DIGEST_SCHEDULE", "CORS_ALLOWED_ORIGINS",
}

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	for _, key := range configKeys {
		unsetEnvWithCleanup(t, key)
	}

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.ServerPort)
	}
	if cfg.LedgerBackend != LedgerPostgres {
		t.Fatalf("expected postgres ledger by default, got %q", cfg.LedgerBackend)
	}
	if cfg.SignupBonus != 2000 {
		t.Fatalf("expected default signup bonus 2000, got %d", cfg.SignupBonus)
	}
	if cfg.DepositRateLimitPerMinute != 5 {
		t.Fatalf("expected default deposit limit 5, got %d", cfg.DepositRateLimitPerMinute)
	}
	if cfg.PendingDigestSchedule != "*/30 * * * *" {
		t.Fatalf("unexpected digest schedule %q", cfg.PendingDigestSchedule)
	}
	if got := cfg.AllowedOrigins(); len(got) != 1 || got[0] != "*" {
		t.Fatalf("expected wildcard origins, got %v", got)
	}
}

func TestLoadConfig_PortOverridesServerPort(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "SERVER_PORT", "9000")
	setEnvWithCleanup(t, "PORT", "7000")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "7000" {
		t.Fatalf("expected PORT to win, got %q", cfg.ServerPort)
	}
}

func TestLoadConfig_CoercesInvalidValues(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "SIGNUP_BONUS", "-50")
	setEnvWithCleanup(t, "LEDGER_BACKEND", "sqlite")
	setEnvWithCleanup(t, "DEPOSIT_RATE_LIMIT_PER_MINUTE", "0")
	setEnvWithCleanup(t, "TELEGRAM_CHAT_ID", "not-a-number")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.SignupBonus != 0 {
		t.Fatalf("expected negative bonus coerced to 0, got %d", cfg.SignupBonus)
	}
	if cfg.LedgerBackend != LedgerPostgres {
		t.Fatalf("expected unknown backend to fall back to postgres, got %q", cfg.LedgerBackend)
	}
	if cfg.DepositRateLimitPerMinute != 5 {
		t.Fatalf("expected non-positive limit to fall back to 5, got %d", cfg.DepositRateLimitPerMinute)
	}
	if cfg.TelegramChatID != 0 {
		t.Fatalf("expected malformed chat id to be ignored, got %d", cfg.TelegramChatID)
	}
}

func TestLoadConfig_ReadsDotEnvFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	for _, key := range configKeys {
		unsetEnvWithCleanup(t, key)
	}

	dir := t.TempDir()
	content := "TELEGRAM_CHAT_ID=-1001234567890\nLEDGER_BACKEND=memory\nCORS_ALLOWED_ORIGINS=https://app.paygig.ng, http://localhost:3000\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.TelegramChatID != -1001234567890 {
		t.Fatalf("unexpected chat id %d", cfg.TelegramChatID)
	}
	if cfg.LedgerBackend != LedgerMemory {
		t.Fatalf("expected memory ledger, got %q", cfg.LedgerBackend)
	}
	origins := cfg.AllowedOrigins()
	if len(origins) != 2 || origins[1] != "http://localhost:3000" {
		t.Fatalf("unexpected origins %v", origins)
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
		}
	})
}
