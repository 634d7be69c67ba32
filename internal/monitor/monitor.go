// Package monitor provides the convenience wait loops layered on status
// queries: wait until the instrument is ready, wait until a set of modules
// is ready. Long physical operations are never awaited by blocking the
// channel; they are observed through these repeated short exchanges.
package monitor

import (
	"context"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/instrument-control/icb/internal/config"
	"github.com/instrument-control/icb/internal/protocol"
	"github.com/instrument-control/icb/internal/state"
)

// StatusSource is the minimal status surface the monitor needs.
type StatusSource interface {
	SystemState(ctx context.Context) (state.SystemState, error)
	ModuleState(ctx context.Context, moduleID string) (state.ModuleState, error)
}

// Monitor polls instrument status until a readiness condition holds.
type Monitor struct {
	source     StatusSource
	readyPoll  time.Duration
	modulePoll time.Duration

	// logf reports verbose progress; replaceable in tests.
	logf func(format string, args ...interface{})
}

// New creates a monitor using the configured poll intervals.
func New(source StatusSource, cfg *config.Config) *Monitor {
	return &Monitor{
		source:     source,
		readyPoll:  cfg.Timing.ReadyPoll(),
		modulePoll: cfg.Timing.ModulePoll(),
		logf:       log.Printf,
	}
}

// WaitUntilReady polls the coarse system state until it is Standby or
// PreRun. Non-readiness at the deadline is an expected condition callers
// branch on, so it is reported as (false, nil) rather than an error; the
// error return carries only transport failures.
func (m *Monitor) WaitUntilReady(ctx context.Context, timeout time.Duration) (bool, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(m.readyPoll)
	defer ticker.Stop()

	for {
		systemState, err := m.source.SystemState(ctx)
		if err != nil {
			return false, err
		}
		if systemState.Ready() {
			return true, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline.C:
			return false, nil
		case <-ticker.C:
		}
	}
}

// WaitUntilModulesReady polls every module in ids until all are Idle. A
// module in NotReady is a transient expected to clear on its own; a module
// in Error stays there until an operator or external reset, which may happen
// while we wait, so polling continues until the deadline either way. The
// deadline surfaces as a TimeoutError naming the modules still pending.
func (m *Monitor) WaitUntilModulesReady(ctx context.Context, ids []string, timeout time.Duration, verbose bool) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(m.modulePoll)
	defer ticker.Stop()

	for {
		pending, err := m.pendingModules(ctx, ids)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			return nil
		}
		if verbose {
			m.logf("waiting for modules: %s", formatPending(pending))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return &protocol.TimeoutError{
				Op:      "waitUntilModulesReady(" + formatPending(pending) + ")",
				Timeout: timeout,
			}
		case <-ticker.C:
		}
	}
}

// pendingModules returns the modules not yet Idle, keyed by id.
func (m *Monitor) pendingModules(ctx context.Context, ids []string) (map[string]state.ModuleState, error) {
	pending := make(map[string]state.ModuleState)
	for _, id := range ids {
		moduleState, err := m.source.ModuleState(ctx, id)
		if err != nil {
			return nil, err
		}
		if moduleState != state.ModuleIdle {
			pending[id] = moduleState
		}
	}
	return pending, nil
}

func formatPending(pending map[string]state.ModuleState) string {
	parts := make([]string, 0, len(pending))
	for id, st := range pending {
		parts = append(parts, id+"="+st.String())
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}
