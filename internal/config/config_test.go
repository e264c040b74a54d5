package config

import (
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LOGBOOK_AUTH_SECRET", testSecret)
	t.Setenv("LOGBOOK_PG_DSN", "postgres://localhost/logbook")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.GRPCAddr != ":9090" {
		t.Fatalf("unexpected listen addresses: %q %q", cfg.HTTPAddr, cfg.GRPCAddr)
	}
	if cfg.TokenTTL != 7*24*time.Hour {
		t.Fatalf("TokenTTL = %v", cfg.TokenTTL)
	}
	if cfg.LoginMaxAttempts != 10 || cfg.LoginWindow != 15*time.Minute {
		t.Fatalf("login throttle defaults: %d / %v", cfg.LoginMaxAttempts, cfg.LoginWindow)
	}
	if cfg.SMTP.Port != 587 || cfg.MaxBodyBytes != 1<<20 || cfg.AllowOrgSignup {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoadFromOverrides(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"LOGBOOK_AUTH_SECRET":      testSecret,
		"LOGBOOK_MEMORY_STORE":     "true",
		"LOGBOOK_ALLOW_ORG_SIGNUP": "true",
		"LOGBOOK_SMTP_HOST":        "smtp.example.com",
		"LOGBOOK_SMTP_FROM":        "noreply@example.com",
		"LOGBOOK_CORS_ORIGINS":     "https://a.example,https://b.example",
		"LOGBOOK_REDIS_ADDR":       "localhost:6379",
		"LOGBOOK_LOGIN_WINDOW":     "1m",
	})
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if !cfg.MemoryStore || !cfg.AllowOrgSignup || cfg.SMTP.Host != "smtp.example.com" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example" {
		t.Fatalf("CORSOrigins = %v", cfg.CORSOrigins)
	}
	if cfg.LoginWindow != time.Minute || cfg.RedisAddr != "localhost:6379" {
		t.Fatalf("unexpected throttle config: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("memory store without DSN should validate: %v", err)
	}
}

func TestEchoSecretsOnlyWithoutMail(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{"LOGBOOK_SMTP_HOST": "smtp.example.com"})
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.EchoSecrets() || cfg.TrustProxyHeaders {
		t.Fatalf("secrets echoed or proxy trusted by default: %+v", cfg)
	}

	cfg, err = LoadFrom(map[string]string{
		"LOGBOOK_SMTP_HOST":           "smtp.example.com",
		"LOGBOOK_EXPOSE_TEMP_SECRETS": "true",
		"LOGBOOK_TRUST_PROXY_HEADERS": "true",
	})
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if !cfg.EchoSecrets() || !cfg.TrustProxyHeaders {
		t.Fatalf("explicit flags not applied: %+v", cfg)
	}

	if cfg, _ := LoadFrom(map[string]string{}); !cfg.EchoSecrets() {
		t.Fatalf("log-only mail should echo secrets")
	}
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	if _, err := LoadFrom(map[string]string{"LOGBOOK_TOKEN_TTL": "a week"}); err == nil {
		t.Fatal("expected parse error for malformed duration")
	}
}

func TestValidateReportsEverything(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"LOGBOOK_AUTH_SECRET": "short",
		"LOGBOOK_SMTP_HOST":   "smtp.example.com",
	})
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	err = cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"AUTH_SECRET must be at least 32 bytes", "PG_DSN is required", "SMTP_FROM is required"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("missing %q in %v", want, err)
		}
	}
}
