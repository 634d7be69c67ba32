package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/instrument-control/icb/internal/channel"
	"github.com/instrument-control/icb/internal/config"
	"github.com/instrument-control/icb/internal/protocol"
	"github.com/instrument-control/icb/internal/state"
	"github.com/instrument-control/icb/internal/telemetry"
	"github.com/instrument-control/icb/internal/validate"
)

// Console command vocabulary. The payloads are opaque to the channel; only
// the bridge knows which text the host console understands.
const (
	cmdSystemStatus = "STATUS SYSTEM"
	cmdModuleStatus = "STATUS MODULE" // + " {id}"
	cmdVialTable    = "STATUS VIALS"
	cmdPressure     = "STATUS PRESSURE"
	cmdRunFlag      = "STATUS RUNNING"
	cmdStartMethod  = "START METHOD" // + " {method}"
	cmdAbortRun     = "ABORT RUN"
	cmdLoadVial     = "VIAL" // "VIAL {id} {position}"
)

// Exchange outcome codes for audit and telemetry.
const (
	OutcomeSuccess  = "SUCCESS"
	OutcomeTimeout  = "TIMEOUT"
	OutcomeProtocol = "PROTOCOL_ERROR"
	OutcomeDomain   = "DOMAIN_ERROR"
	OutcomeRejected = "REJECTED" // refused by a validator before reaching the host
)

// Bridge is the orchestrator between callers and the console channel.
type Bridge struct {
	channel channel.Sender
	cfg     *config.Config

	auditLogger  AuditLogger
	telemetryHub TelemetryPublisher
	validator    Validator
}

// Compile-time assertions that Bridge serves the status ports.
var _ validate.StatusSource = (*Bridge)(nil)

// New creates a bridge over an open channel.
func New(ch channel.Sender, cfg *config.Config) *Bridge {
	return &Bridge{
		channel: ch,
		cfg:     cfg,
	}
}

// SetAuditLogger sets the audit logger.
func (b *Bridge) SetAuditLogger(logger AuditLogger) {
	b.auditLogger = logger
}

// SetTelemetryHub sets the telemetry publisher.
func (b *Bridge) SetTelemetryHub(hub TelemetryPublisher) {
	b.telemetryHub = hub
}

// SetValidator sets the state validator gating risky operations.
func (b *Bridge) SetValidator(v Validator) {
	b.validator = v
}

// Query performs one exchange that expects a value reply, classifying
// host-reported failures as DomainError.
func (b *Bridge) Query(ctx context.Context, payload string) (string, error) {
	return b.exchange(ctx, "query", payload, true, b.cfg.Timing.QueryTimeout(), 1)
}

// QueryRetry performs a status read with the configured retry budget.
// Status queries are the only exchanges that are safe to re-issue: they do
// not change instrument state, and the host is known to silently drop their
// replies under rapid repetition.
func (b *Bridge) QueryRetry(ctx context.Context, payload string) (string, error) {
	return b.exchange(ctx, "query", payload, true, b.cfg.Timing.QueryTimeout(), b.cfg.Timing.RetryAttempts)
}

// Execute performs one state-changing exchange. It is never re-issued on
// timeout: the host may have executed the command even when the reply is
// lost.
func (b *Bridge) Execute(ctx context.Context, payload string) error {
	_, err := b.exchange(ctx, "execute", payload, false, b.cfg.Timing.ExecuteTimeout(), 1)
	return err
}

// exchange is the single funnel for all console traffic: send (optionally
// with retries), classify the reply, audit, publish, record metrics.
func (b *Bridge) exchange(ctx context.Context, action, payload string, expectResponse bool, timeout time.Duration, attempts int) (string, error) {
	start := time.Now()

	var reply string
	var err error
	if attempts > 1 {
		counter := &countingSender{inner: b.channel}
		reply, err = channel.SendRetry(ctx, counter, payload, expectResponse, timeout, attempts)
		for i := 1; i < counter.calls; i++ {
			telemetry.RecordRetry()
		}
	} else {
		reply, err = b.channel.Send(ctx, payload, expectResponse, timeout)
	}

	if err == nil {
		err = protocol.Classify(reply)
	}

	latency := time.Since(start)
	outcome := classifyOutcome(err)

	b.logAudit(action, payload, outcome, errDetail(err), latency)
	telemetry.RecordExchange(outcome, latency)
	b.publish("exchange", map[string]interface{}{
		"action":  action,
		"payload": payload,
		"outcome": outcome,
		"ts":      time.Now().UTC().Format(time.RFC3339),
	})

	if err != nil {
		return "", err
	}
	return reply, nil
}

// SystemState fetches a fresh coarse acquisition state snapshot.
func (b *Bridge) SystemState(ctx context.Context) (state.SystemState, error) {
	reply, err := b.QueryRetry(ctx, cmdSystemStatus)
	if err != nil {
		return state.SystemUnknown, err
	}
	systemState, err := state.ParseSystemState(reply)
	if err != nil {
		return state.SystemUnknown, &protocol.ProtocolError{Op: "systemState", Line: reply, Reason: err.Error()}
	}
	return systemState, nil
}

// ModuleState fetches a fresh state snapshot for one module.
func (b *Bridge) ModuleState(ctx context.Context, moduleID string) (state.ModuleState, error) {
	reply, err := b.QueryRetry(ctx, cmdModuleStatus+" "+moduleID)
	if err != nil {
		return state.ModuleUnknown, err
	}
	moduleState, err := state.ParseModuleState(reply)
	if err != nil {
		return state.ModuleUnknown, &protocol.ProtocolError{Op: "moduleState", Line: reply, Reason: err.Error()}
	}
	return moduleState, nil
}

// VialPositions fetches the batched vial table in one exchange.
func (b *Bridge) VialPositions(ctx context.Context) (map[int]state.VialPosition, error) {
	reply, err := b.QueryRetry(ctx, cmdVialTable)
	if err != nil {
		return nil, err
	}
	if reply == protocol.NoValue {
		return map[int]state.VialPosition{}, nil
	}
	table, err := state.ParseVialTable(reply)
	if err != nil {
		return nil, &protocol.ProtocolError{Op: "vialPositions", Line: reply, Reason: err.Error()}
	}
	return table, nil
}

// PressureActive reports whether a pressure operation is in progress.
func (b *Bridge) PressureActive(ctx context.Context) (bool, error) {
	reply, err := b.QueryRetry(ctx, cmdPressure)
	if err != nil {
		return false, err
	}
	return parseFlag("pressureActive", reply)
}

// Running reports the host's boolean is-running flag.
func (b *Bridge) Running(ctx context.Context) (bool, error) {
	reply, err := b.QueryRetry(ctx, cmdRunFlag)
	if err != nil {
		return false, err
	}
	return parseFlag("running", reply)
}

// StartMethod starts an acquisition and confirms the run flag actually
// became true: a start can fail silently with no error reply at all.
func (b *Bridge) StartMethod(ctx context.Context, method string) error {
	if method == "" {
		return fmt.Errorf("method name must not be empty")
	}

	if _, err := b.exchange(ctx, "start", cmdStartMethod+" "+method, false, b.cfg.Timing.StartTimeout(), 1); err != nil {
		return err
	}

	if b.validator != nil {
		if err := b.validator.ValidateOperationStarted(ctx); err != nil {
			b.publish("fault", map[string]interface{}{
				"code":    "START_NOT_CONFIRMED",
				"message": err.Error(),
			})
			return err
		}
	}

	b.publish("stateChanged", map[string]interface{}{"state": "Run"})
	return nil
}

// AbortRun issues the abort command. There is no in-protocol cancellation;
// abort is itself an ordinary command through the same channel, and callers
// must re-run validation before any further state-changing call.
func (b *Bridge) AbortRun(ctx context.Context) error {
	_, err := b.exchange(ctx, "abort", cmdAbortRun, false, b.cfg.Timing.StartTimeout(), 1)
	return err
}

// LoadVial moves a vial to a position. Carousel-class operations provoke a
// blocking modal dialog on the host when issued at the wrong moment, so the
// availability and presence gates run first and a refusal never reaches the
// host.
func (b *Bridge) LoadVial(ctx context.Context, vial int, position state.VialPosition) error {
	payload := fmt.Sprintf("%s %d %s", cmdLoadVial, vial, position)

	if b.validator != nil {
		if err := b.validator.ValidateCarouselAvailable(ctx); err != nil {
			b.logAudit("loadVial", payload, OutcomeRejected, err.Error(), 0)
			return err
		}
		if err := b.validator.ValidateVialsPresent(ctx, []int{vial}); err != nil {
			b.logAudit("loadVial", payload, OutcomeRejected, err.Error(), 0)
			return err
		}
	}

	_, err := b.exchange(ctx, "loadVial", payload, false, b.cfg.Timing.ExecuteTimeout(), 1)
	return err
}

func (b *Bridge) logAudit(action, payload, outcome, detail string, latency time.Duration) {
	if b.auditLogger != nil {
		b.auditLogger.LogExchange(action, payload, outcome, detail, latency)
	}
}

func (b *Bridge) publish(eventType string, data map[string]interface{}) {
	if b.telemetryHub != nil {
		b.telemetryHub.Publish(eventType, data)
	}
}

// classifyOutcome maps an exchange error to its audit outcome code.
func classifyOutcome(err error) string {
	if err == nil {
		return OutcomeSuccess
	}

	var timeoutErr *protocol.TimeoutError
	if errors.As(err, &timeoutErr) {
		return OutcomeTimeout
	}
	var protoErr *protocol.ProtocolError
	if errors.As(err, &protoErr) {
		return OutcomeProtocol
	}
	var domainErr *protocol.DomainError
	if errors.As(err, &domainErr) {
		return OutcomeDomain
	}
	return OutcomeProtocol
}

func errDetail(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// countingSender counts exchanges so re-issues can be reported as retries.
type countingSender struct {
	inner channel.Sender
	calls int
}

func (c *countingSender) Send(ctx context.Context, payload string, expectResponse bool, timeout time.Duration) (string, error) {
	c.calls++
	return c.inner.Send(ctx, payload, expectResponse, timeout)
}

// parseFlag parses the host's "0"/"1" boolean replies.
func parseFlag(op, reply string) (bool, error) {
	switch reply {
	case "1":
		return true, nil
	case "0":
		return false, nil
	default:
		return false, &protocol.ProtocolError{Op: op, Line: reply, Reason: "expected 0 or 1"}
	}
}
