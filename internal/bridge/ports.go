// Package bridge routes high-level instrument operations through the
// console channel, with validation before every state-changing command.
package bridge

import (
	"context"
	"time"

	"github.com/instrument-control/icb/internal/audit"
	"github.com/instrument-control/icb/internal/telemetry"
	"github.com/instrument-control/icb/internal/validate"
)

// AuditLogger records console exchanges and validation decisions.
type AuditLogger interface {
	LogExchange(action, payload, outcome, detail string, latency time.Duration)
}

// TelemetryPublisher fans out bridge events to subscribers.
type TelemetryPublisher interface {
	Publish(eventType string, data map[string]interface{})
}

// Validator gates state-changing operations on live instrument status.
type Validator interface {
	ValidateVialsPresent(ctx context.Context, vials []int) error
	ValidateCarouselAvailable(ctx context.Context) error
	ValidateOperationStarted(ctx context.Context) error
}

// Compile-time assertions for port conformance
var _ AuditLogger = (*audit.Logger)(nil)
var _ TelemetryPublisher = (*telemetry.Hub)(nil)
var _ Validator = (*validate.Validator)(nil)
