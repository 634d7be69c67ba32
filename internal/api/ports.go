// Ports (interfaces) for the API server's dependencies.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/instrument-control/icb/internal/bridge"
	"github.com/instrument-control/icb/internal/monitor"
	"github.com/instrument-control/icb/internal/state"
	"github.com/instrument-control/icb/internal/telemetry"
)

// BridgePort defines the minimal interface the API needs from the bridge.
type BridgePort interface {
	SystemState(ctx context.Context) (state.SystemState, error)
	ModuleState(ctx context.Context, moduleID string) (state.ModuleState, error)
	VialPositions(ctx context.Context) (map[int]state.VialPosition, error)
	Running(ctx context.Context) (bool, error)
	Query(ctx context.Context, payload string) (string, error)
	Execute(ctx context.Context, payload string) error
	StartMethod(ctx context.Context, method string) error
	AbortRun(ctx context.Context) error
	LoadVial(ctx context.Context, vial int, position state.VialPosition) error
}

// MonitorPort defines the readiness waits the API exposes.
type MonitorPort interface {
	WaitUntilReady(ctx context.Context, timeout time.Duration) (bool, error)
}

// TelemetryPort defines the minimal interface the API needs from the telemetry hub.
type TelemetryPort interface {
	Subscribe(ctx context.Context, w http.ResponseWriter, r *http.Request) error
}

// Compile-time assertions for port conformance
var _ BridgePort = (*bridge.Bridge)(nil)
var _ MonitorPort = (*monitor.Monitor)(nil)
var _ TelemetryPort = (*telemetry.Hub)(nil)
