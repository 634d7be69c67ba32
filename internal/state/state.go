// Package state models the read-only status snapshots reported by the host
// console: the coarse acquisition state of the instrument, the finer
// per-module state, and vial locations.
//
// Snapshots are fetched on demand and never cached: the host changes them
// asynchronously through operator action and run progression.
package state

import (
	"fmt"
	"strconv"
	"strings"
)

// SystemState is the coarse acquisition state of the instrument as a whole.
type SystemState int

const (
	SystemUnknown SystemState = iota
	SystemStandby
	SystemPreRun
	SystemRun
	SystemPostRun
	SystemError
	SystemAbort
)

var systemStateNames = map[SystemState]string{
	SystemStandby: "Standby",
	SystemPreRun:  "PreRun",
	SystemRun:     "Run",
	SystemPostRun: "PostRun",
	SystemError:   "Error",
	SystemAbort:   "Abort",
}

func (s SystemState) String() string {
	if name, ok := systemStateNames[s]; ok {
		return name
	}
	return "Unknown"
}

// Ready reports whether the instrument will accept a new acquisition.
func (s SystemState) Ready() bool {
	return s == SystemStandby || s == SystemPreRun
}

// ParseSystemState parses a host reply token into a SystemState.
func ParseSystemState(token string) (SystemState, error) {
	for st, name := range systemStateNames {
		if strings.EqualFold(strings.TrimSpace(token), name) {
			return st, nil
		}
	}
	return SystemUnknown, fmt.Errorf("unknown system state token %q", token)
}

// ModuleState is the finer per-subsystem state. It is independent of
// SystemState: a module can be NotReady while the overall state is PreRun.
//
// Transitions as observed from the host: Idle <-> Run is the normal cycle;
// Idle/Run -> NotReady is a transient that clears on its own; any state ->
// Error is terminal until an operator or external reset; any state ->
// Maintenance blocks all operations until explicitly exited.
type ModuleState int

const (
	ModuleUnknown ModuleState = iota
	ModuleIdle
	ModuleRun
	ModuleNotReady
	ModuleError
	ModuleMaintenance
)

var moduleStateNames = map[ModuleState]string{
	ModuleIdle:        "Idle",
	ModuleRun:         "Run",
	ModuleNotReady:    "NotReady",
	ModuleError:       "Error",
	ModuleMaintenance: "Maintenance",
}

func (m ModuleState) String() string {
	if name, ok := moduleStateNames[m]; ok {
		return name
	}
	return "Unknown"
}

// Operational reports whether the module accepts carousel-class operations.
// Pressure activity is a separate query and must be checked in addition.
func (m ModuleState) Operational() bool {
	return m == ModuleIdle || m == ModuleRun
}

// ParseModuleState parses a host reply token into a ModuleState.
func ParseModuleState(token string) (ModuleState, error) {
	for st, name := range moduleStateNames {
		if strings.EqualFold(strings.TrimSpace(token), name) {
			return st, nil
		}
	}
	return ModuleUnknown, fmt.Errorf("unknown module state token %q", token)
}

// VialPosition locates a vial within the instrument.
type VialPosition int

const (
	VialUnknown VialPosition = iota
	VialCarousel
	VialInlet
	VialOutlet
	VialReplenishment
	VialOutOfSystem
)

var vialPositionNames = map[VialPosition]string{
	VialCarousel:      "Carousel",
	VialInlet:         "Inlet",
	VialOutlet:        "Outlet",
	VialReplenishment: "Replenishment",
	VialOutOfSystem:   "OutOfSystem",
}

func (v VialPosition) String() string {
	if name, ok := vialPositionNames[v]; ok {
		return name
	}
	return "Unknown"
}

// InSystem reports whether the vial is physically present in the instrument.
func (v VialPosition) InSystem() bool {
	return v != VialUnknown && v != VialOutOfSystem
}

// ParseVialPosition parses a host reply token into a VialPosition.
func ParseVialPosition(token string) (VialPosition, error) {
	for pos, name := range vialPositionNames {
		if strings.EqualFold(strings.TrimSpace(token), name) {
			return pos, nil
		}
	}
	return VialUnknown, fmt.Errorf("unknown vial position token %q", token)
}

// ParseVialTable parses a batched vial status reply of the form
// "10=Carousel 11=Inlet 48=OutOfSystem" into a position map.
func ParseVialTable(payload string) (map[int]VialPosition, error) {
	table := make(map[int]VialPosition)

	for _, field := range strings.Fields(payload) {
		idToken, posToken, found := strings.Cut(field, "=")
		if !found {
			return nil, fmt.Errorf("vial table entry %q is not id=position", field)
		}
		id, err := strconv.Atoi(idToken)
		if err != nil {
			return nil, fmt.Errorf("vial table entry %q has a non-numeric id", field)
		}
		pos, err := ParseVialPosition(posToken)
		if err != nil {
			return nil, fmt.Errorf("vial table entry %q: %w", field, err)
		}
		table[id] = pos
	}

	return table, nil
}
