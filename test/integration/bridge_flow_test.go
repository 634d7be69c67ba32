//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/instrument-control/icb/internal/api"
	"github.com/instrument-control/icb/internal/audit"
	"github.com/instrument-control/icb/internal/bridge"
	"github.com/instrument-control/icb/internal/channel"
	"github.com/instrument-control/icb/internal/config"
	"github.com/instrument-control/icb/internal/hostmock"
	"github.com/instrument-control/icb/internal/monitor"
	"github.com/instrument-control/icb/internal/state"
	"github.com/instrument-control/icb/internal/telemetry"
	"github.com/instrument-control/icb/internal/validate"
)

// stack is the fully wired bridge over a scripted host, the same shape
// cmd/icb assembles in production.
type stack struct {
	cfg     *config.Config
	host    *hostmock.Host
	channel *channel.Channel
	bridge  *bridge.Bridge
	monitor *monitor.Monitor
	hub     *telemetry.Hub
	audit   *audit.Logger
}

func newStack(t *testing.T, replies map[string]string) *stack {
	t.Helper()

	dir := t.TempDir()
	cfg := config.Default()
	cfg.Medium.CommandFile = filepath.Join(dir, "command.txt")
	cfg.Medium.ResponseFile = filepath.Join(dir, "response.txt")
	cfg.Medium.ScanCadenceMs = 10
	cfg.Medium.PollIntervalMs = 15
	cfg.Timing.QueryTimeoutSec = 2
	cfg.Timing.ExecuteTimeoutSec = 2
	cfg.Timing.StartTimeoutSec = 2
	cfg.Carousel.BackoffSec = 0
	cfg.Audit.Dir = filepath.Join(dir, "audit")

	host := hostmock.New(cfg.Medium.CommandFile, cfg.Medium.ResponseFile,
		cfg.Medium.ScanCadence(), hostmock.Scripted(replies))
	host.Start()

	ch, err := channel.New(cfg.Medium)
	if err != nil {
		t.Fatalf("channel.New: %v", err)
	}

	auditLogger, err := audit.NewLogger(cfg.Audit)
	if err != nil {
		t.Fatalf("audit.NewLogger: %v", err)
	}

	hub := telemetry.NewHub(cfg.Telemetry)

	br := bridge.New(ch, cfg)
	br.SetAuditLogger(auditLogger)
	br.SetTelemetryHub(hub)
	br.SetValidator(validate.New(br, cfg))

	s := &stack{
		cfg:     cfg,
		host:    host,
		channel: ch,
		bridge:  br,
		monitor: monitor.New(br, cfg),
		hub:     hub,
		audit:   auditLogger,
	}
	t.Cleanup(func() {
		s.hub.Stop()
		_ = s.audit.Close()
		_ = s.channel.Close()
		s.host.Stop()
	})
	return s
}

func healthyReplies() map[string]string {
	return map[string]string{
		"STATUS SYSTEM":     "Standby",
		"STATUS MODULE CE1": "Idle",
		"STATUS VIALS":      "10=Carousel 11=Inlet",
		"STATUS PRESSURE":   "0",
		"STATUS RUNNING":    "0",
	}
}

func TestStatusReadsEndToEnd(t *testing.T) {
	s := newStack(t, healthyReplies())
	ctx := context.Background()

	systemState, err := s.bridge.SystemState(ctx)
	if err != nil {
		t.Fatalf("SystemState: %v", err)
	}
	if systemState.String() != "Standby" {
		t.Errorf("system state = %v", systemState)
	}

	table, err := s.bridge.VialPositions(ctx)
	if err != nil {
		t.Fatalf("VialPositions: %v", err)
	}
	if len(table) != 2 {
		t.Errorf("vial table = %v", table)
	}
}

func TestReadinessOverLiveChannel(t *testing.T) {
	s := newStack(t, healthyReplies())

	ready, err := s.monitor.WaitUntilReady(context.Background(), 2*time.Second)
	if err != nil {
		t.Fatalf("WaitUntilReady: %v", err)
	}
	if !ready {
		t.Error("expected ready against a Standby host")
	}
}

func TestLoadVialGatesOverLiveChannel(t *testing.T) {
	replies := healthyReplies()
	replies["STATUS PRESSURE"] = "1" // carousel blocked
	s := newStack(t, replies)

	err := s.bridge.LoadVial(context.Background(), 10, state.VialInlet)
	if err == nil {
		t.Fatal("expected carousel gate to refuse while pressure is active")
	}
}

func TestAPIOverLiveChannel(t *testing.T) {
	s := newStack(t, healthyReplies())

	server := api.NewServer(s.bridge, s.monitor, s.hub, 5*time.Second, 5*time.Second, 30*time.Second)
	mux := http.NewServeMux()
	server.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var env struct {
		Result string                 `json:"result"`
		Data   map[string]interface{} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decoding envelope: %v", err)
	}
	if env.Result != "ok" || env.Data["systemState"] != "Standby" {
		t.Errorf("envelope = %+v", env)
	}
}
