package channel

import (
	"context"
	"errors"
	"time"

	"github.com/instrument-control/icb/internal/protocol"
)

// SendRetry re-issues a full exchange up to attempts times. Some status
// queries, issued in tight repetition, silently drop their reply even though
// the channel is otherwise healthy; re-issuing masks that at the cost of
// latency. Intermediate timeouts are not reported to the caller; only after
// the whole budget is exhausted does the terminal TimeoutError surface.
// Non-timeout errors abort the budget immediately.
func SendRetry(ctx context.Context, sender Sender, payload string, expectResponse bool, timeout time.Duration, attempts int) (string, error) {
	if attempts < 1 {
		attempts = 1
	}

	var last error
	for attempt := 0; attempt < attempts; attempt++ {
		reply, err := sender.Send(ctx, payload, expectResponse, timeout)
		if err == nil {
			return reply, nil
		}

		var timeoutErr *protocol.TimeoutError
		if !errors.As(err, &timeoutErr) {
			return "", err
		}
		last = err

		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	return "", last
}
