// Package protocol defines the wire grammar for the host console medium
// and the classification of host replies.
//
// Every exchange is a single command line and a single response line:
//
//	command:  "{seq} {payload}"
//	response: "{seq} {payload}"
//
// Sequence numbers are cyclic in 1..256 (0 is never used) and correlate a
// response to its originating command. A response whose payload carries no
// value uses the sentinel "None".
package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// MinSeq and MaxSeq bound the cyclic sequence number range.
	// The counter wraps MaxSeq -> MinSeq and never takes the value 0.
	MinSeq = 1
	MaxSeq = 256

	// NoValue is the response payload sentinel for commands that
	// produce no value.
	NoValue = "None"
)

// NextSeq returns the sequence number following seq, wrapping MaxSeq -> MinSeq.
// A zero (unallocated) counter advances to MinSeq.
func NextSeq(seq int) int {
	if seq >= MaxSeq || seq < MinSeq {
		return MinSeq
	}
	return seq + 1
}

// FormatCommand renders the wire line for a command.
func FormatCommand(seq int, payload string) (string, error) {
	if seq < MinSeq || seq > MaxSeq {
		return "", fmt.Errorf("sequence number %d outside range [%d, %d]", seq, MinSeq, MaxSeq)
	}
	if strings.ContainsAny(payload, "\r\n") {
		return "", fmt.Errorf("command payload must be a single line")
	}
	return fmt.Sprintf("%d %s", seq, payload), nil
}

// Response is one parsed response line from the medium.
type Response struct {
	Seq     int
	Payload string
}

// HasValue reports whether the response carries a value payload.
func (r Response) HasValue() bool {
	return r.Payload != NoValue
}

// ParseResponse parses a response line against the strict grammar.
// Lines not matching "{seq} {payload}" with seq in 1..256 are rejected;
// the caller decides whether a rejected line is stale noise or a
// ProtocolError for the outstanding sequence number.
func ParseResponse(line string) (Response, error) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return Response{}, fmt.Errorf("empty response line")
	}

	token, rest, found := strings.Cut(line, " ")
	if !found {
		return Response{}, fmt.Errorf("response line %q has no payload", line)
	}

	seq, err := strconv.Atoi(token)
	if err != nil {
		return Response{}, fmt.Errorf("response line %q has a non-numeric sequence token", line)
	}
	if seq < MinSeq || seq > MaxSeq {
		return Response{}, fmt.Errorf("response sequence %d outside range [%d, %d]", seq, MinSeq, MaxSeq)
	}
	if rest == "" {
		return Response{}, fmt.Errorf("response line %q has an empty payload", line)
	}

	return Response{Seq: seq, Payload: rest}, nil
}

// LeadingSeq extracts only the leading sequence token of a line, without
// validating the payload. It is used to decide whether a malformed line
// claims the outstanding sequence number (ProtocolError) or belongs to a
// stale exchange (discard).
func LeadingSeq(line string) (int, bool) {
	line = strings.TrimRight(line, "\r\n")
	token, _, _ := strings.Cut(line, " ")
	seq, err := strconv.Atoi(token)
	if err != nil || seq < MinSeq || seq > MaxSeq {
		return 0, false
	}
	return seq, true
}
