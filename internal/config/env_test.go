package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeEnvFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	return path
}

func TestLoadEnvCredentials(t *testing.T) {
	// Registered so the values set by LoadEnv are restored after the test.
	t.Setenv("HL_WALLET_ADDRESS", "")
	t.Setenv("HL_PRIVATE_KEY", "")
	t.Setenv("HL_VAULT_ADDRESS", "")
	os.Unsetenv("HL_WALLET_ADDRESS")
	os.Unsetenv("HL_PRIVATE_KEY")
	os.Unsetenv("HL_VAULT_ADDRESS")

	path := writeEnvFile(t, ""+
		"# signing wallet\n"+
		"HL_WALLET_ADDRESS=0xabc\n"+
		"export HL_PRIVATE_KEY=\"0xdeadbeef\"\n"+
		"HL_VAULT_ADDRESS='0xdef' # optional\n")
	if err := LoadEnv(path); err != nil {
		t.Fatalf("load env: %v", err)
	}
	if got := os.Getenv("HL_WALLET_ADDRESS"); got != "0xabc" {
		t.Fatalf("HL_WALLET_ADDRESS expected 0xabc, got %q", got)
	}
	if got := os.Getenv("HL_PRIVATE_KEY"); got != "0xdeadbeef" {
		t.Fatalf("HL_PRIVATE_KEY expected 0xdeadbeef, got %q", got)
	}
	if got := os.Getenv("HL_VAULT_ADDRESS"); got != "0xdef" {
		t.Fatalf("HL_VAULT_ADDRESS expected 0xdef, got %q", got)
	}
}

func TestLoadEnvMissingFile(t *testing.T) {
	if err := LoadEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("expected missing file to be ignored, got %v", err)
	}
}

func TestLoadEnvKeepsProcessEnvironment(t *testing.T) {
	t.Setenv("HL_TRADE_LOG_DSN", "postgres://from-process")
	path := writeEnvFile(t, "HL_TRADE_LOG_DSN=postgres://from-file\n")
	if err := LoadEnv(path); err != nil {
		t.Fatalf("load env: %v", err)
	}
	if got := os.Getenv("HL_TRADE_LOG_DSN"); got != "postgres://from-process" {
		t.Fatalf("expected process value to win, got %q", got)
	}
}

func TestLoadEnvFeedsConfigOverrides(t *testing.T) {
	t.Setenv("HL_TELEGRAM_TOKEN", "")
	t.Setenv("HL_TELEGRAM_CHAT_ID", "")
	os.Unsetenv("HL_TELEGRAM_TOKEN")
	os.Unsetenv("HL_TELEGRAM_CHAT_ID")

	path := writeEnvFile(t, "HL_TELEGRAM_TOKEN=tok\nHL_TELEGRAM_CHAT_ID=42\n")
	if err := LoadEnv(path); err != nil {
		t.Fatalf("load env: %v", err)
	}
	cfg := Default()
	if cfg.Telegram.Token != "tok" || cfg.Telegram.ChatID != "42" {
		t.Fatalf("expected telegram overrides from env, got %+v", cfg.Telegram)
	}
}

func TestLoadEnvMalformedFile(t *testing.T) {
	path := writeEnvFile(t, "HL_BROKEN='unterminated\n")
	if err := LoadEnv(path); err == nil {
		t.Fatalf("expected parse error for unterminated quote")
	}
}
