// Package channel implements the command/response exchange over the shared
// two-file medium behind the host console.
//
// The medium holds exactly one command slot and one response slot. The host
// side scans the command file on a fixed cadence, executes the payload as a
// native console command, and writes the response file. This side writes one
// command at a time, tagged with a cyclic sequence number, and waits for a
// response line carrying the same number.
package channel

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/instrument-control/icb/internal/config"
	"github.com/instrument-control/icb/internal/protocol"
)

// Sender is the minimal exchange contract consumed by higher layers.
type Sender interface {
	// Send writes payload as the single outstanding command and waits up
	// to timeout for the matching response. When expectResponse is false,
	// any syntactically valid acknowledgment for the sequence number is
	// success and the returned payload may be the "None" sentinel.
	Send(ctx context.Context, payload string, expectResponse bool, timeout time.Duration) (string, error)
}

// Channel is the single-slot command channel. All mutable exchange state
// (the sequence counter, the watcher) lives inside the instance; there is
// no ambient package state. Concurrent callers are serialized by the
// internal mutex so one caller can never consume the response correlated
// with another caller's request.
type Channel struct {
	mu  sync.Mutex
	seq int // last allocated sequence number, 0 before the first send

	commandFile  string
	responseFile string
	pollInterval time.Duration

	watcher *fsnotify.Watcher // nil when watching is disabled or unavailable
	kick    chan struct{}     // coalesced response-file write notifications
	closed  chan struct{}
}

// Compile-time assertion that Channel implements Sender.
var _ Sender = (*Channel)(nil)

// New creates a channel over the configured medium. The parent directories
// of both files are created if absent. When cfg.Watch is set, response file
// writes wake the waiter early; failure to establish the watcher silently
// degrades to pure polling.
func New(cfg config.MediumConfig) (*Channel, error) {
	for _, p := range []string{cfg.CommandFile, cfg.ResponseFile} {
		if dir := filepath.Dir(p); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create medium directory %s: %w", dir, err)
			}
		}
	}

	c := &Channel{
		commandFile:  cfg.CommandFile,
		responseFile: cfg.ResponseFile,
		pollInterval: cfg.PollInterval(),
		closed:       make(chan struct{}),
	}

	if cfg.Watch {
		if watcher, err := fsnotify.NewWatcher(); err == nil {
			if err := watcher.Add(filepath.Dir(cfg.ResponseFile)); err == nil {
				c.watcher = watcher
				c.kick = make(chan struct{}, 1)
				go c.forwardEvents()
			} else {
				watcher.Close()
			}
		}
	}

	return c, nil
}

// Send implements Sender. After a successful exchange the channel slot is
// free for the next command. After a timeout the slot is equally free: the
// next call allocates a fresh sequence number and any late reply to the old
// one is discarded as mismatched.
func (c *Channel) Send(ctx context.Context, payload string, expectResponse bool, timeout time.Duration) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	seq := protocol.NextSeq(c.seq)
	c.seq = seq

	line, err := protocol.FormatCommand(seq, payload)
	if err != nil {
		return "", fmt.Errorf("cannot send command: %w", err)
	}

	// The command slot holds at most one unconsumed command; overwrite
	// whatever is there, including a stale request the host never read.
	if err := os.WriteFile(c.commandFile, []byte(line+"\n"), 0644); err != nil {
		return "", fmt.Errorf("failed to write command slot: %w", err)
	}

	resp, err := c.waitForResponse(ctx, seq, timeout)
	if err != nil {
		return "", err
	}

	_ = expectResponse // an acknowledgment with the "None" sentinel is a valid reply either way
	return resp.Payload, nil
}

// Seq returns the last allocated sequence number. Intended for tests.
func (c *Channel) Seq() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Close releases the watcher resources. The channel must not be used after
// Close returns.
func (c *Channel) Close() error {
	close(c.closed)
	if c.watcher != nil {
		return c.watcher.Close()
	}
	return nil
}

// forwardEvents coalesces watcher events for the response file into the
// kick channel. Draining here keeps the watcher goroutine from blocking
// while no exchange is outstanding.
func (c *Channel) forwardEvents() {
	for {
		select {
		case <-c.closed:
			return
		case ev, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if ev.Name != c.responseFile {
				continue
			}
			if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) {
				continue
			}
			select {
			case c.kick <- struct{}{}:
			default:
			}
		case _, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}
