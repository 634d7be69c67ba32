// Package validate gates state-changing commands on instrument status.
//
// The host application answers an ill-timed command not with an error reply
// but with a blocking modal dialog that freezes the whole channel. The
// validators here exist to query status first and refuse the command on this
// side, rather than trying to recover from a blocked host afterwards.
package validate

import (
	"context"
	"fmt"
	"time"

	"github.com/instrument-control/icb/internal/config"
	"github.com/instrument-control/icb/internal/protocol"
	"github.com/instrument-control/icb/internal/state"
)

// StatusSource is the minimal status surface the validators need. It is
// implemented by the bridge; every call is a fresh exchange, never a cached
// snapshot.
type StatusSource interface {
	SystemState(ctx context.Context) (state.SystemState, error)
	ModuleState(ctx context.Context, moduleID string) (state.ModuleState, error)
	VialPositions(ctx context.Context) (map[int]state.VialPosition, error)
	PressureActive(ctx context.Context) (bool, error)
	Running(ctx context.Context) (bool, error)
}

// Validator checks preconditions against live instrument status.
type Validator struct {
	source StatusSource

	carouselModule   string
	carouselAttempts int
	carouselBackoff  time.Duration

	startAttempts int
	startDelay    time.Duration

	// sleep is replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a validator using the configured retry budgets.
func New(source StatusSource, cfg *config.Config) *Validator {
	return &Validator{
		source:           source,
		carouselModule:   cfg.Carousel.Module,
		carouselAttempts: cfg.Carousel.Attempts,
		carouselBackoff:  cfg.Carousel.Backoff(),
		startAttempts:    cfg.Timing.StartConfirmAttempts,
		startDelay:       cfg.Timing.StartConfirmDelay(),
		sleep:            sleepFor,
	}
}

// ValidateVialPresent checks that a single vial is physically in the system.
func (v *Validator) ValidateVialPresent(ctx context.Context, vial int) error {
	return v.ValidateVialsPresent(ctx, []int{vial})
}

// ValidateVialsPresent issues one batched vial status query and checks every
// id against it. The returned MissingResourceError enumerates the complete
// missing set, never just the first id: the caller gets the whole picture
// from a single round trip.
func (v *Validator) ValidateVialsPresent(ctx context.Context, vials []int) error {
	if len(vials) == 0 {
		return nil
	}

	positions, err := v.source.VialPositions(ctx)
	if err != nil {
		return fmt.Errorf("vial status query failed: %w", err)
	}

	var missing []int
	for _, vial := range vials {
		pos, ok := positions[vial]
		if !ok || !pos.InSystem() {
			missing = append(missing, vial)
		}
	}

	if len(missing) > 0 {
		return protocol.NewMissingResourceError("vial", missing)
	}
	return nil
}

// ValidateCarouselAvailable checks that carousel-class operations are safe:
// the owning module must be Idle or Run and no pressure operation may be
// active. The pressure condition is not visible from the coarse system
// state, which is why this needs the finer queries. On failure it retries
// with a fixed backoff, then reports InvalidStateError.
func (v *Validator) ValidateCarouselAvailable(ctx context.Context) error {
	var reason string

	for attempt := 1; ; attempt++ {
		reason = v.carouselCheck(ctx)
		if reason == "" {
			return nil
		}

		if attempt >= v.carouselAttempts {
			return &protocol.InvalidStateError{
				Op:     "carousel",
				Reason: fmt.Sprintf("%s after %d attempts", reason, v.carouselAttempts),
			}
		}
		if err := v.sleep(ctx, v.carouselBackoff); err != nil {
			return err
		}
	}
}

// carouselCheck performs one availability poll. It returns an empty string
// when the carousel is available, otherwise a reason.
func (v *Validator) carouselCheck(ctx context.Context) string {
	moduleState, err := v.source.ModuleState(ctx, v.carouselModule)
	if err != nil {
		return fmt.Sprintf("module %s status unavailable: %v", v.carouselModule, err)
	}
	if !moduleState.Operational() {
		return fmt.Sprintf("module %s is %s", v.carouselModule, moduleState)
	}

	pressureActive, err := v.source.PressureActive(ctx)
	if err != nil {
		return fmt.Sprintf("pressure status unavailable: %v", err)
	}
	if pressureActive {
		return "a pressure operation is active"
	}

	return ""
}

// ValidateOperationStarted polls the run flag shortly after a start command
// was issued. A start can fail silently, with no error reply at all; the
// only evidence is a run flag that never becomes true.
func (v *Validator) ValidateOperationStarted(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		running, err := v.source.Running(ctx)
		if err == nil && running {
			return nil
		}

		if attempt >= v.startAttempts {
			return &protocol.InvalidStateError{
				Op:     "start",
				Reason: fmt.Sprintf("run flag never became true after %d polls", v.startAttempts),
			}
		}
		if err := v.sleep(ctx, v.startDelay); err != nil {
			return err
		}
	}
}

// sleepFor sleeps for d or until the context is cancelled.
func sleepFor(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
