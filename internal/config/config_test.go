package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Validate(Default()); err != nil {
		t.Fatalf("baseline configuration must validate: %v", err)
	}
}

func TestDefaultValues(t *testing.T) {
	cfg := Default()

	if cfg.Medium.ScanCadence() != 200*time.Millisecond {
		t.Errorf("scan cadence = %v, want 200ms", cfg.Medium.ScanCadence())
	}
	if cfg.Medium.PollInterval() != 250*time.Millisecond {
		t.Errorf("poll interval = %v, want 250ms", cfg.Medium.PollInterval())
	}
	if cfg.Timing.RetryAttempts != 3 {
		t.Errorf("retry attempts = %d, want 3", cfg.Timing.RetryAttempts)
	}
	if cfg.Carousel.Attempts != 3 || cfg.Carousel.Backoff() != 2*time.Second {
		t.Errorf("carousel gate = %d attempts/%v backoff, want 3/2s",
			cfg.Carousel.Attempts, cfg.Carousel.Backoff())
	}
	if cfg.Timing.ReadyPoll() != time.Second {
		t.Errorf("ready poll = %v, want 1s", cfg.Timing.ReadyPoll())
	}
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "icb.yaml")

	content := `
medium:
  commandFile: /tmp/icb/cmd.txt
  responseFile: /tmp/icb/resp.txt
  pollIntervalMs: 400
timing:
  queryTimeoutSec: 8
carousel:
  module: LIF1
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Medium.CommandFile != "/tmp/icb/cmd.txt" {
		t.Errorf("command file = %q", cfg.Medium.CommandFile)
	}
	if cfg.Medium.PollIntervalMs != 400 {
		t.Errorf("poll interval = %d, want 400", cfg.Medium.PollIntervalMs)
	}
	if cfg.Timing.QueryTimeoutSec != 8 {
		t.Errorf("query timeout = %d, want 8", cfg.Timing.QueryTimeoutSec)
	}
	if cfg.Carousel.Module != "LIF1" {
		t.Errorf("carousel module = %q, want LIF1", cfg.Carousel.Module)
	}
	// Untouched fields keep their defaults.
	if cfg.Timing.ExecuteTimeoutSec != 30 {
		t.Errorf("execute timeout = %d, want default 30", cfg.Timing.ExecuteTimeoutSec)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ICB_COMMAND_FILE", "x/cmd.txt")
	t.Setenv("ICB_RESPONSE_FILE", "x/resp.txt")
	t.Setenv("ICB_POLL_INTERVAL_MS", "500")
	t.Setenv("ICB_RETRY_ATTEMPTS", "5")
	t.Setenv("ICB_API_ADDR", ":9100")
	t.Setenv("ICB_AUTH_SECRET", "sekrit")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Medium.CommandFile != "x/cmd.txt" || cfg.Medium.ResponseFile != "x/resp.txt" {
		t.Errorf("medium paths not overridden: %+v", cfg.Medium)
	}
	if cfg.Medium.PollIntervalMs != 500 {
		t.Errorf("poll interval = %d, want 500", cfg.Medium.PollIntervalMs)
	}
	if cfg.Timing.RetryAttempts != 5 {
		t.Errorf("retry attempts = %d, want 5", cfg.Timing.RetryAttempts)
	}
	if cfg.API.Addr != ":9100" {
		t.Errorf("api addr = %q, want :9100", cfg.API.Addr)
	}
	if cfg.API.AuthSecret != "sekrit" {
		t.Errorf("auth secret not taken from environment")
	}
}

func TestValidateRejectsSubCadencePolling(t *testing.T) {
	cfg := Default()
	cfg.Medium.PollIntervalMs = 100 // finer than the 200ms host scan cadence

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error for sub-cadence polling")
	}
	if !strings.Contains(err.Error(), "scan cadence") {
		t.Errorf("unexpected message: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"same files", func(c *Config) { c.Medium.ResponseFile = c.Medium.CommandFile }},
		{"empty command file", func(c *Config) { c.Medium.CommandFile = "" }},
		{"zero query timeout", func(c *Config) { c.Timing.QueryTimeoutSec = 0 }},
		{"zero retry attempts", func(c *Config) { c.Timing.RetryAttempts = 0 }},
		{"zero carousel attempts", func(c *Config) { c.Carousel.Attempts = 0 }},
		{"empty carousel module", func(c *Config) { c.Carousel.Module = "" }},
		{"zero buffer", func(c *Config) { c.Telemetry.BufferSize = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			if err := Validate(cfg); err == nil {
				t.Errorf("expected validation error")
			}
		})
	}
}
