package channel

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/instrument-control/icb/internal/protocol"
)

// waitForResponse polls the response slot until a line carrying seq appears,
// the timeout elapses, or the context is cancelled. The poll interval is
// deliberately no finer than the host scanner's own cadence; the fsnotify
// kick only shortens the wait when the host happens to answer early.
//
// Responses carrying any other sequence number are stale leftovers from a
// previous exchange and are discarded without being surfaced to the caller.
func (c *Channel) waitForResponse(ctx context.Context, seq int, timeout time.Duration) (protocol.Response, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	var kick <-chan struct{}
	if c.kick != nil {
		kick = c.kick
	}

	for {
		select {
		case <-ctx.Done():
			return protocol.Response{}, ctx.Err()
		case <-deadline.C:
			return protocol.Response{}, &protocol.TimeoutError{Op: "send", Seq: seq, Timeout: timeout}
		case <-ticker.C:
		case <-kick:
		}

		resp, ok, err := c.readResponse(seq)
		if err != nil {
			return protocol.Response{}, err
		}
		if ok {
			return resp, nil
		}
	}
}

// readResponse reads the response slot once. It returns ok=false when the
// slot is empty, unreadable, or holds a line for another sequence number.
// A malformed line that claims seq is a ProtocolError.
func (c *Channel) readResponse(seq int) (protocol.Response, bool, error) {
	data, err := os.ReadFile(c.responseFile)
	if err != nil {
		// Not written yet, or momentarily unavailable; try again next tick.
		return protocol.Response{}, false, nil
	}

	line := firstLine(string(data))
	if line == "" {
		return protocol.Response{}, false, nil
	}

	resp, perr := protocol.ParseResponse(line)
	if perr != nil {
		if lead, ok := protocol.LeadingSeq(line); ok && lead == seq {
			return protocol.Response{}, false, &protocol.ProtocolError{
				Op:     "send",
				Line:   line,
				Reason: perr.Error(),
			}
		}
		// Garbage that does not claim our sequence number: stale noise,
		// possibly a partial write still in progress. Ignore.
		return protocol.Response{}, false, nil
	}

	if resp.Seq != seq {
		return protocol.Response{}, false, nil
	}
	return resp, true, nil
}

// firstLine returns the first non-empty line of the slot contents.
func firstLine(contents string) string {
	for _, line := range strings.Split(contents, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) != "" {
			return line
		}
	}
	return ""
}
