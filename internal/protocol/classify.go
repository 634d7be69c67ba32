package protocol

import "strings"

// Reply classification
// ====================
//
// A reply payload is classified into exactly one of:
//
//   - Success: a well-formed expected value (including the "None" sentinel)
//   - DomainError: the payload matches a known host-reported failure marker
//   - Ambiguous: no payload arrived at all
//
// Ambiguous never reaches this table: the absence of a reply surfaces as a
// TimeoutError from the channel, and is indistinguishable between "host is
// slow" and "host is blocked on an operator dialog".
//
// The marker tables are matched deterministically, first category wins,
// case-insensitive substring match. Unknown payloads are Success: the host
// console echoes arbitrary expression values, so only known failure markers
// may be treated as failures.

// FailureMap groups the host failure markers for one reply category.
type FailureMap struct {
	Missing   []string // resource does not exist (file, method, vial)
	Reference []string // payload names something the host cannot resolve
	Execution []string // command was understood but failed to execute
}

// HostFailureMarkers is the deterministic marker table for the embedded
// console. Extend by adding tokens to a category; never add heuristics.
var HostFailureMarkers = FailureMap{
	Missing: []string{
		"FILE NOT FOUND",
		"NO SUCH FILE",
		"CANNOT OPEN",
		"METHOD NOT FOUND",
		"DOES NOT EXIST",
	},
	Reference: []string{
		"INVALID REFERENCE",
		"UNDEFINED SYMBOL",
		"UNDEFINED VARIABLE",
		"NOT A COMMAND",
		"UNKNOWN COMMAND",
	},
	Execution: []string{
		"ERROR:",
		"EXECUTION FAILED",
		"COMMAND FAILED",
		"ABORTED",
	},
}

// Classify inspects a reply payload and returns a *DomainError if it matches
// a known host failure marker, or nil if the payload is a success value.
func Classify(payload string) error {
	upper := strings.ToUpper(payload)

	for _, marker := range HostFailureMarkers.Missing {
		if strings.Contains(upper, marker) {
			return &DomainError{Marker: marker, Payload: payload}
		}
	}
	for _, marker := range HostFailureMarkers.Reference {
		if strings.Contains(upper, marker) {
			return &DomainError{Marker: marker, Payload: payload}
		}
	}
	for _, marker := range HostFailureMarkers.Execution {
		if strings.Contains(upper, marker) {
			return &DomainError{Marker: marker, Payload: payload}
		}
	}

	return nil
}
