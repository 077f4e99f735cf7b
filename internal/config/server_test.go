package config

import (
	"testing"
	"time"
)

func TestLoadServerDefaults(t *testing.T) {
	cfg, err := LoadServer(nil)
	if err != nil {
		t.Fatalf("LoadServer returned error: %v", err)
	}

	if cfg.Port != defaultPort {
		t.Fatalf("expected default port %s, got %s", defaultPort, cfg.Port)
	}
	if cfg.ShutdownGracePeriod != 10*time.Second {
		t.Fatalf("unexpected shutdown grace period: %s", cfg.ShutdownGracePeriod)
	}
	if cfg.LogLevel != defaultLogLevel {
		t.Fatalf("unexpected log level: %s", cfg.LogLevel)
	}
}

func TestLoadServerEnvironment(t *testing.T) {
	t.Setenv("BMERGER_PORT", "9000")
	t.Setenv("BMERGER_RATE_LIMIT_BURST", "7")
	t.Setenv("BMERGER_WRITE_TIMEOUT", "3s")

	cfg, err := LoadServer(nil)
	if err != nil {
		t.Fatalf("LoadServer returned error: %v", err)
	}

	if cfg.Port != "9000" {
		t.Fatalf("expected overridden port, got %s", cfg.Port)
	}
	if cfg.RateLimitBurst != 7 {
		t.Fatalf("expected burst 7, got %d", cfg.RateLimitBurst)
	}
	if cfg.WriteTimeout != 3*time.Second {
		t.Fatalf("expected write timeout 3s, got %s", cfg.WriteTimeout)
	}
}

func TestLoadServerFlagsWin(t *testing.T) {
	t.Setenv("BMERGER_PORT", "9000")

	port := "9100"
	rps := 0.0
	level := "debug"
	cfg, err := LoadServer(&ServerOverrides{Port: &port, RateLimitRPS: &rps, LogLevel: &level})
	if err != nil {
		t.Fatalf("LoadServer returned error: %v", err)
	}

	if cfg.Port != "9100" {
		t.Fatalf("expected flag port, got %s", cfg.Port)
	}
	if cfg.RateLimitRPS != 0 {
		t.Fatalf("expected rate limiting disabled, got %v", cfg.RateLimitRPS)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected debug level, got %s", cfg.LogLevel)
	}
}

func TestLoadServerRejectsNegativeRate(t *testing.T) {
	t.Setenv("BMERGER_RATE_LIMIT_RPS", "-1")

	if _, err := LoadServer(nil); err == nil {
		t.Fatalf("expected error for negative rate limit")
	}
}
