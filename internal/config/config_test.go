package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("PORT", "")
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("PAYMENT_SWEEP_INTERVAL_SECONDS", "0")
	t.Setenv("CORS_ALLOWED_ORIGINS", "")
	t.Setenv("TRUSTED_PROXIES", "")

	cfg := Load()
	if cfg.Port != "8080" || cfg.StoreDriver != "postgres" || cfg.PaymentGateway != "sandbox" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.PaymentSweepInterval != 0 {
		t.Fatalf("sweep should be disabled, got %s", cfg.PaymentSweepInterval)
	}
	if cfg.JWTTTL != time.Hour {
		t.Fatalf("expected 1h token ttl, got %s", cfg.JWTTTL)
	}
	if len(cfg.CORSOrigins) != 0 || len(cfg.TrustedProxies) != 0 {
		t.Fatalf("cors origins and trusted proxies must be opt-in: %v %v", cfg.CORSOrigins, cfg.TrustedProxies)
	}
}

func TestDotEnvDoesNotOverrideEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("PORT=9999\nRATE_LIMIT_BURST=7\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("ENV_FILE", path)
	t.Setenv("PORT", "7000")
	t.Setenv("RATE_LIMIT_BURST", "")
	os.Unsetenv("RATE_LIMIT_BURST")

	cfg := Load()
	if cfg.Port != "7000" {
		t.Fatalf("environment should win, got %s", cfg.Port)
	}
	if cfg.RateLimitBurst != 7 {
		t.Fatalf("expected burst from env file, got %d", cfg.RateLimitBurst)
	}
}

func TestReadListAndWorkerProviders(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8,192.0.2.10")
	t.Setenv("NOTIF_EMAIL_PROVIDER", "Webhook")

	cfg := Load()
	if got := cfg.CORSOrigins; len(got) != 2 || got[1] != "https://b.example" {
		t.Fatalf("unexpected origins: %v", got)
	}
	if got := cfg.TrustedProxies; len(got) != 2 || got[0] != "10.0.0.0/8" {
		t.Fatalf("unexpected trusted proxies: %v", got)
	}
	worker := LoadWorker()
	if worker.Providers["email"] != "webhook" || worker.Providers["push"] != "noop" {
		t.Fatalf("unexpected providers: %v", worker.Providers)
	}
}
