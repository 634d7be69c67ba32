package bridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/instrument-control/icb/internal/config"
	"github.com/instrument-control/icb/internal/protocol"
	"github.com/instrument-control/icb/internal/state"
)

// MockSender is a hand-rolled channel.Sender for testing.
type MockSender struct {
	SendFunc func(ctx context.Context, payload string, expectResponse bool, timeout time.Duration) (string, error)
	Payloads []string
}

func (m *MockSender) Send(ctx context.Context, payload string, expectResponse bool, timeout time.Duration) (string, error) {
	m.Payloads = append(m.Payloads, payload)
	if m.SendFunc != nil {
		return m.SendFunc(ctx, payload, expectResponse, timeout)
	}
	return protocol.NoValue, nil
}

// MockAuditLogger records audit calls.
type MockAuditLogger struct {
	Records []AuditRecord
}

type AuditRecord struct {
	Action  string
	Payload string
	Outcome string
	Detail  string
}

func (m *MockAuditLogger) LogExchange(action, payload, outcome, detail string, latency time.Duration) {
	m.Records = append(m.Records, AuditRecord{action, payload, outcome, detail})
}

// MockPublisher records telemetry events.
type MockPublisher struct {
	Events []string
}

func (m *MockPublisher) Publish(eventType string, data map[string]interface{}) {
	m.Events = append(m.Events, eventType)
}

// MockValidator scripts validation outcomes.
type MockValidator struct {
	CarouselErr error
	VialsErr    error
	StartedErr  error

	CarouselCalls int
	VialsCalls    int
	StartedCalls  int
}

func (m *MockValidator) ValidateVialsPresent(ctx context.Context, vials []int) error {
	m.VialsCalls++
	return m.VialsErr
}

func (m *MockValidator) ValidateCarouselAvailable(ctx context.Context) error {
	m.CarouselCalls++
	return m.CarouselErr
}

func (m *MockValidator) ValidateOperationStarted(ctx context.Context) error {
	m.StartedCalls++
	return m.StartedErr
}

func newTestBridge(sender *MockSender) (*Bridge, *MockAuditLogger, *MockPublisher) {
	b := New(sender, config.Default())
	auditLog := &MockAuditLogger{}
	publisher := &MockPublisher{}
	b.SetAuditLogger(auditLog)
	b.SetTelemetryHub(publisher)
	return b, auditLog, publisher
}

func TestQuerySuccessIsAuditedAndPublished(t *testing.T) {
	sender := &MockSender{
		SendFunc: func(ctx context.Context, payload string, expectResponse bool, timeout time.Duration) (string, error) {
			return "Standby", nil
		},
	}
	b, auditLog, publisher := newTestBridge(sender)

	reply, err := b.Query(context.Background(), "STATUS SYSTEM")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != "Standby" {
		t.Errorf("reply = %q, want Standby", reply)
	}

	if len(auditLog.Records) != 1 || auditLog.Records[0].Outcome != OutcomeSuccess {
		t.Errorf("unexpected audit trail: %+v", auditLog.Records)
	}
	if len(publisher.Events) != 1 || publisher.Events[0] != "exchange" {
		t.Errorf("unexpected telemetry events: %v", publisher.Events)
	}
}

func TestQueryClassifiesHostFailureMarkers(t *testing.T) {
	sender := &MockSender{
		SendFunc: func(ctx context.Context, payload string, expectResponse bool, timeout time.Duration) (string, error) {
			return "ERROR: file not found", nil
		},
	}
	b, auditLog, _ := newTestBridge(sender)

	_, err := b.Query(context.Background(), "LOAD METHOD missing.m")

	var domainErr *protocol.DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if auditLog.Records[0].Outcome != OutcomeDomain {
		t.Errorf("outcome = %q, want %q", auditLog.Records[0].Outcome, OutcomeDomain)
	}
}

func TestQueryRetryAbsorbsSilentDrops(t *testing.T) {
	calls := 0
	sender := &MockSender{
		SendFunc: func(ctx context.Context, payload string, expectResponse bool, timeout time.Duration) (string, error) {
			calls++
			if calls < 3 {
				return "", &protocol.TimeoutError{Op: "send", Seq: calls, Timeout: timeout}
			}
			return "Idle", nil
		},
	}
	b, auditLog, _ := newTestBridge(sender)

	reply, err := b.QueryRetry(context.Background(), "STATUS MODULE CE1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != "Idle" {
		t.Errorf("reply = %q, want Idle", reply)
	}
	if calls != 3 {
		t.Errorf("attempts = %d, want 3", calls)
	}
	// A single audit record for the whole retried exchange.
	if len(auditLog.Records) != 1 || auditLog.Records[0].Outcome != OutcomeSuccess {
		t.Errorf("unexpected audit trail: %+v", auditLog.Records)
	}
}

func TestSystemStateParsing(t *testing.T) {
	sender := &MockSender{
		SendFunc: func(ctx context.Context, payload string, expectResponse bool, timeout time.Duration) (string, error) {
			return "PreRun", nil
		},
	}
	b, _, _ := newTestBridge(sender)

	got, err := b.SystemState(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != state.SystemPreRun {
		t.Errorf("state = %v, want PreRun", got)
	}
}

func TestSystemStateRejectsUnknownToken(t *testing.T) {
	sender := &MockSender{
		SendFunc: func(ctx context.Context, payload string, expectResponse bool, timeout time.Duration) (string, error) {
			return "Defrosting", nil
		},
	}
	b, _, _ := newTestBridge(sender)

	_, err := b.SystemState(context.Background())

	var protoErr *protocol.ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("expected ProtocolError for unknown state token, got %v", err)
	}
}

func TestVialPositionsEmptyTable(t *testing.T) {
	sender := &MockSender{} // replies None
	b, _, _ := newTestBridge(sender)

	table, err := b.VialPositions(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(table) != 0 {
		t.Errorf("expected empty table, got %v", table)
	}
}

func TestPressureAndRunningFlags(t *testing.T) {
	replies := map[string]string{
		"STATUS PRESSURE": "1",
		"STATUS RUNNING":  "0",
	}
	sender := &MockSender{
		SendFunc: func(ctx context.Context, payload string, expectResponse bool, timeout time.Duration) (string, error) {
			return replies[payload], nil
		},
	}
	b, _, _ := newTestBridge(sender)

	pressure, err := b.PressureActive(context.Background())
	if err != nil || !pressure {
		t.Errorf("pressure = (%v, %v), want (true, nil)", pressure, err)
	}
	running, err := b.Running(context.Background())
	if err != nil || running {
		t.Errorf("running = (%v, %v), want (false, nil)", running, err)
	}

	replies["STATUS RUNNING"] = "maybe"
	if _, err := b.Running(context.Background()); err == nil {
		t.Error("expected ProtocolError for a non-boolean flag reply")
	}
}

func TestStartMethodConfirmsRunFlag(t *testing.T) {
	sender := &MockSender{}
	b, _, publisher := newTestBridge(sender)
	validator := &MockValidator{}
	b.SetValidator(validator)

	if err := b.StartMethod(context.Background(), "anions.m"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if validator.StartedCalls != 1 {
		t.Errorf("start confirmation polls = %d, want 1", validator.StartedCalls)
	}
	if sender.Payloads[0] != "START METHOD anions.m" {
		t.Errorf("payload = %q", sender.Payloads[0])
	}

	foundStateChange := false
	for _, ev := range publisher.Events {
		if ev == "stateChanged" {
			foundStateChange = true
		}
	}
	if !foundStateChange {
		t.Error("confirmed start must publish a stateChanged event")
	}
}

func TestStartMethodSilentFailure(t *testing.T) {
	sender := &MockSender{}
	b, _, publisher := newTestBridge(sender)
	validator := &MockValidator{
		StartedErr: &protocol.InvalidStateError{Op: "start", Reason: "run flag never became true"},
	}
	b.SetValidator(validator)

	err := b.StartMethod(context.Background(), "anions.m")

	var stateErr *protocol.InvalidStateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("expected InvalidStateError, got %v", err)
	}

	foundFault := false
	for _, ev := range publisher.Events {
		if ev == "fault" {
			foundFault = true
		}
	}
	if !foundFault {
		t.Error("silent start failure must publish a fault event")
	}
}

func TestStartMethodRejectsEmptyName(t *testing.T) {
	b, _, _ := newTestBridge(&MockSender{})
	if err := b.StartMethod(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty method name")
	}
}

func TestLoadVialGatedByValidators(t *testing.T) {
	sender := &MockSender{}
	b, auditLog, _ := newTestBridge(sender)
	validator := &MockValidator{
		CarouselErr: &protocol.InvalidStateError{Op: "carousel", Reason: "module CE1 is Maintenance"},
	}
	b.SetValidator(validator)

	err := b.LoadVial(context.Background(), 10, state.VialInlet)

	var stateErr *protocol.InvalidStateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("expected InvalidStateError, got %v", err)
	}
	// The refusal must never reach the host.
	if len(sender.Payloads) != 0 {
		t.Errorf("rejected command still sent to host: %v", sender.Payloads)
	}
	if len(auditLog.Records) != 1 || auditLog.Records[0].Outcome != OutcomeRejected {
		t.Errorf("rejection must be audited: %+v", auditLog.Records)
	}
}

func TestLoadVialMissingVial(t *testing.T) {
	sender := &MockSender{}
	b, _, _ := newTestBridge(sender)
	validator := &MockValidator{
		VialsErr: protocol.NewMissingResourceError("vial", []int{10}),
	}
	b.SetValidator(validator)

	err := b.LoadVial(context.Background(), 10, state.VialInlet)

	var missingErr *protocol.MissingResourceError
	if !errors.As(err, &missingErr) {
		t.Fatalf("expected MissingResourceError, got %v", err)
	}
	if len(sender.Payloads) != 0 {
		t.Errorf("rejected command still sent to host: %v", sender.Payloads)
	}
}

func TestLoadVialHappyPath(t *testing.T) {
	sender := &MockSender{}
	b, _, _ := newTestBridge(sender)
	validator := &MockValidator{}
	b.SetValidator(validator)

	if err := b.LoadVial(context.Background(), 10, state.VialReplenishment); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if validator.CarouselCalls != 1 || validator.VialsCalls != 1 {
		t.Errorf("validators not consulted: %+v", validator)
	}
	if len(sender.Payloads) != 1 || sender.Payloads[0] != "VIAL 10 Replenishment" {
		t.Errorf("payloads = %v", sender.Payloads)
	}
}

func TestAbortRun(t *testing.T) {
	sender := &MockSender{}
	b, _, _ := newTestBridge(sender)

	if err := b.AbortRun(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sender.Payloads[0] != "ABORT RUN" {
		t.Errorf("payload = %q", sender.Payloads[0])
	}
}
