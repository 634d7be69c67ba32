package protocol

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// TimeoutError indicates that no matching response arrived before the
// deadline. It deliberately conflates a slow host with a host blocked
// behind an operator-facing modal dialog: the medium exposes no signal
// that would tell the two apart.
type TimeoutError struct {
	Op      string
	Seq     int
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	if e.Seq > 0 {
		return fmt.Sprintf("%s: no response for sequence %d within %s "+
			"(the host may be busy or blocked behind a modal dialog that requires manual dismissal)",
			e.Op, e.Seq, e.Timeout)
	}
	return fmt.Sprintf("%s: timed out after %s", e.Op, e.Timeout)
}

// ProtocolError indicates a line that claimed the outstanding sequence
// number but did not parse as the expected shape.
type ProtocolError struct {
	Op     string
	Line   string
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: malformed response %q: %s", e.Op, e.Line, e.Reason)
}

// DomainError indicates the host executed the command and explicitly
// reported a failure in its reply payload.
type DomainError struct {
	Marker  string // matched failure token
	Payload string // full host reply
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("host reported failure (%s): %s", e.Marker, e.Payload)
}

// InvalidStateError indicates a precondition on instrument or module state
// was not satisfied, after any configured retries.
type InvalidStateError struct {
	Op     string
	Reason string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s: precondition not satisfied: %s", e.Op, e.Reason)
}

// MissingResourceError enumerates the complete set of required resource ids
// that are absent. It is never raised for only the first missing id.
type MissingResourceError struct {
	Kind string // resource kind, e.g. "vial"
	IDs  []int  // sorted ascending
}

func (e *MissingResourceError) Error() string {
	ids := make([]string, 0, len(e.IDs))
	for _, id := range e.IDs {
		ids = append(ids, fmt.Sprintf("%d", id))
	}
	return fmt.Sprintf("missing %s(s): %s", e.Kind, strings.Join(ids, ", "))
}

// NewMissingResourceError builds a MissingResourceError with a sorted,
// de-duplicated id set.
func NewMissingResourceError(kind string, ids []int) *MissingResourceError {
	seen := make(map[int]bool, len(ids))
	uniq := make([]int, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			uniq = append(uniq, id)
		}
	}
	sort.Ints(uniq)
	return &MissingResourceError{Kind: kind, IDs: uniq}
}
