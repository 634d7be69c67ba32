// Package config loads bridge configuration: defaults, optional YAML file,
// ICB_* environment overrides, then validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

// Config is the complete configuration for the instrument console bridge.
type Config struct {
	Medium    MediumConfig    `yaml:"medium"`
	Timing    TimingConfig    `yaml:"timing"`
	Carousel  CarouselConfig  `yaml:"carousel"`
	API       APIConfig       `yaml:"api"`
	Audit     AuditConfig     `yaml:"audit"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// MediumConfig describes the shared two-file medium and its cadences.
type MediumConfig struct {
	CommandFile  string `yaml:"commandFile"`
	ResponseFile string `yaml:"responseFile"`

	// ScanCadenceMs is the host-side scanner cadence. It is a deployment
	// constant of the host console, not tunable from this bridge; it is
	// recorded here only to validate the local poll interval against it.
	ScanCadenceMs int `yaml:"scanCadenceMs"`

	// PollIntervalMs is how often the response file is re-read while a
	// command is outstanding. Must not be finer than ScanCadenceMs.
	PollIntervalMs int `yaml:"pollIntervalMs"`

	// Watch enables fsnotify wake-ups on response file writes. Polling
	// remains the correctness mechanism; watching only trims latency.
	Watch bool `yaml:"watch"`
}

// ScanCadence returns the host scanner cadence as a duration.
func (m MediumConfig) ScanCadence() time.Duration {
	return time.Duration(m.ScanCadenceMs) * time.Millisecond
}

// PollInterval returns the response poll interval as a duration.
func (m MediumConfig) PollInterval() time.Duration {
	return time.Duration(m.PollIntervalMs) * time.Millisecond
}

// TimingConfig holds reply timeout classes and retry budgets.
type TimingConfig struct {
	QueryTimeoutSec   int `yaml:"queryTimeoutSec"`   // status reads
	ExecuteTimeoutSec int `yaml:"executeTimeoutSec"` // state-changing commands
	StartTimeoutSec   int `yaml:"startTimeoutSec"`   // start/abort acknowledgments

	// RetryAttempts bounds re-issue of flaky status queries that silently
	// drop replies under rapid repetition.
	RetryAttempts int `yaml:"retryAttempts"`

	ReadyPollMs  int `yaml:"readyPollMs"`  // coarse system state polling
	ModulePollMs int `yaml:"modulePollMs"` // per-module state polling

	StartConfirmAttempts int `yaml:"startConfirmAttempts"`
	StartConfirmDelayMs  int `yaml:"startConfirmDelayMs"`
}

// QueryTimeout returns the status read timeout.
func (t TimingConfig) QueryTimeout() time.Duration {
	return time.Duration(t.QueryTimeoutSec) * time.Second
}

// ExecuteTimeout returns the state-changing command timeout.
func (t TimingConfig) ExecuteTimeout() time.Duration {
	return time.Duration(t.ExecuteTimeoutSec) * time.Second
}

// StartTimeout returns the start/abort acknowledgment timeout.
func (t TimingConfig) StartTimeout() time.Duration {
	return time.Duration(t.StartTimeoutSec) * time.Second
}

// ReadyPoll returns the coarse readiness poll interval.
func (t TimingConfig) ReadyPoll() time.Duration {
	return time.Duration(t.ReadyPollMs) * time.Millisecond
}

// ModulePoll returns the per-module poll interval.
func (t TimingConfig) ModulePoll() time.Duration {
	return time.Duration(t.ModulePollMs) * time.Millisecond
}

// StartConfirmDelay returns the delay between run-flag confirmation polls.
func (t TimingConfig) StartConfirmDelay() time.Duration {
	return time.Duration(t.StartConfirmDelayMs) * time.Millisecond
}

// CarouselConfig gates carousel-class operations.
type CarouselConfig struct {
	// Module is the id of the subsystem owning the carousel.
	Module     string `yaml:"module"`
	Attempts   int    `yaml:"attempts"`
	BackoffSec int    `yaml:"backoffSec"`
}

// Backoff returns the fixed delay between availability polls.
func (c CarouselConfig) Backoff() time.Duration {
	return time.Duration(c.BackoffSec) * time.Second
}

// APIConfig holds the operator HTTP surface settings.
type APIConfig struct {
	Addr            string `yaml:"addr"`
	ReadTimeoutSec  int    `yaml:"readTimeoutSec"`
	WriteTimeoutSec int    `yaml:"writeTimeoutSec"`
	IdleTimeoutSec  int    `yaml:"idleTimeoutSec"`

	// AuthSecret is never read from the YAML file; it comes only from the
	// ICB_AUTH_SECRET environment variable. Empty disables auth.
	AuthSecret string `yaml:"-"`
}

// AuditConfig holds the rotating audit trail settings.
type AuditConfig struct {
	Dir        string `yaml:"dir"`
	MaxSizeMB  int    `yaml:"maxSizeMb"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

// TelemetryConfig holds the event hub settings.
type TelemetryConfig struct {
	BufferSize   int `yaml:"bufferSize"`
	HeartbeatSec int `yaml:"heartbeatSec"`
}

// Heartbeat returns the SSE heartbeat interval.
func (t TelemetryConfig) Heartbeat() time.Duration {
	return time.Duration(t.HeartbeatSec) * time.Second
}

// Load merges defaults + optional YAML file + ICB_* env overrides, then
// validates the result. An empty path skips the file stage.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Default returns the baseline deployment constants.
func Default() *Config {
	return &Config{
		Medium: MediumConfig{
			CommandFile:  "comm/command.txt",
			ResponseFile: "comm/response.txt",
			ScanCadenceMs:  200, // host console scanner cadence, fixed on the host side
			PollIntervalMs: 250,
			Watch:          true,
		},
		Timing: TimingConfig{
			QueryTimeoutSec:   5,
			ExecuteTimeoutSec: 30,
			StartTimeoutSec:   10,
			RetryAttempts:     3,
			ReadyPollMs:       1000,
			ModulePollMs:      1000,
			StartConfirmAttempts: 5,
			StartConfirmDelayMs:  500,
		},
		Carousel: CarouselConfig{
			Module:     "CE1",
			Attempts:   3,
			BackoffSec: 2,
		},
		API: APIConfig{
			Addr:            ":8000",
			ReadTimeoutSec:  30,
			WriteTimeoutSec: 30,
			IdleTimeoutSec:  120,
		},
		Audit: AuditConfig{
			Dir:        "logs",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Telemetry: TelemetryConfig{
			BufferSize:   50,
			HeartbeatSec: 15,
		},
	}
}

// loadFromFile overlays configuration from a YAML file.
func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyEnvOverrides applies ICB_* environment variable overrides.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ICB_COMMAND_FILE"); v != "" {
		cfg.Medium.CommandFile = v
	}
	if v := os.Getenv("ICB_RESPONSE_FILE"); v != "" {
		cfg.Medium.ResponseFile = v
	}
	if v := os.Getenv("ICB_POLL_INTERVAL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Medium.PollIntervalMs = ms
		}
	}
	if v := os.Getenv("ICB_RETRY_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Timing.RetryAttempts = n
		}
	}
	if v := os.Getenv("ICB_API_ADDR"); v != "" {
		cfg.API.Addr = v
	}
	if v := os.Getenv("ICB_AUDIT_DIR"); v != "" {
		cfg.Audit.Dir = v
	}
	cfg.API.AuthSecret = os.Getenv("ICB_AUTH_SECRET")
}

// Validate checks configuration bounds.
func Validate(cfg *Config) error {
	if cfg.Medium.CommandFile == "" || cfg.Medium.ResponseFile == "" {
		return fmt.Errorf("command and response file paths must be set")
	}
	if cfg.Medium.CommandFile == cfg.Medium.ResponseFile {
		return fmt.Errorf("command and response files must be distinct")
	}
	if cfg.Medium.ScanCadenceMs <= 0 {
		return fmt.Errorf("scan cadence %dms must be positive", cfg.Medium.ScanCadenceMs)
	}
	if cfg.Medium.PollIntervalMs < cfg.Medium.ScanCadenceMs {
		return fmt.Errorf("poll interval %dms is finer than the host scan cadence %dms; polling faster than the producer cannot help and busy-waits the medium",
			cfg.Medium.PollIntervalMs, cfg.Medium.ScanCadenceMs)
	}
	if cfg.Timing.QueryTimeoutSec <= 0 || cfg.Timing.ExecuteTimeoutSec <= 0 || cfg.Timing.StartTimeoutSec <= 0 {
		return fmt.Errorf("reply timeouts must be positive")
	}
	if cfg.Timing.RetryAttempts < 1 {
		return fmt.Errorf("retry attempts %d must be at least 1", cfg.Timing.RetryAttempts)
	}
	if cfg.Timing.ReadyPollMs <= 0 || cfg.Timing.ModulePollMs <= 0 {
		return fmt.Errorf("status poll intervals must be positive")
	}
	if cfg.Timing.StartConfirmAttempts < 1 || cfg.Timing.StartConfirmDelayMs <= 0 {
		return fmt.Errorf("start confirmation attempts and delay must be positive")
	}
	if cfg.Carousel.Module == "" {
		return fmt.Errorf("carousel module id must be set")
	}
	if cfg.Carousel.Attempts < 1 || cfg.Carousel.BackoffSec < 0 {
		return fmt.Errorf("carousel attempts must be at least 1 and backoff non-negative")
	}
	if cfg.Telemetry.BufferSize <= 0 {
		return fmt.Errorf("telemetry buffer size %d must be positive", cfg.Telemetry.BufferSize)
	}
	if cfg.Audit.MaxSizeMB <= 0 {
		return fmt.Errorf("audit max size %dMB must be positive", cfg.Audit.MaxSizeMB)
	}
	return nil
}
