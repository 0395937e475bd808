package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Addr != ":3025" {
		t.Errorf("addr = %q", cfg.Addr)
	}
	if cfg.NatsURL != "nats://localhost:4222" {
		t.Errorf("nats_url = %q", cfg.NatsURL)
	}
	if cfg.AllowedOrigin == "" {
		t.Error("allowed_origin default missing")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("log_level = %q", cfg.LogLevel)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CHATRELAY_NATS_URL", "nats://broker.internal:4222")
	t.Setenv("CHATRELAY_ADDR", ":9000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.NatsURL != "nats://broker.internal:4222" {
		t.Errorf("nats_url env override not applied: %q", cfg.NatsURL)
	}
	if cfg.Addr != ":9000" {
		t.Errorf("addr env override not applied: %q", cfg.Addr)
	}
}
