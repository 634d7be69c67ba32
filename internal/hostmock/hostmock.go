// Package hostmock emulates the host-side console scanner for tests and
// demos: a goroutine that scans the command file on a fixed cadence,
// executes the payload through a scripted handler, and writes the response
// file. It reproduces the external collaborator's observable behavior only;
// no host application semantics live here.
package hostmock

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/instrument-control/icb/internal/protocol"
)

// Handler executes one scanned payload. Returning respond=false simulates
// the host silently dropping the reply; the command still counts as
// consumed. An empty reply is written as the "None" sentinel.
type Handler func(payload string) (reply string, respond bool)

// Host is a scripted stand-in for the instrument application's embedded
// console scanner.
type Host struct {
	commandFile  string
	responseFile string
	cadence      time.Duration
	handler      Handler

	mu        sync.Mutex
	lastLine  string // last consumed command line
	scanned   int
	responded int

	stop chan struct{}
	done chan struct{}
}

// New creates a host scanner over the given medium files.
func New(commandFile, responseFile string, cadence time.Duration, handler Handler) *Host {
	return &Host{
		commandFile:  commandFile,
		responseFile: responseFile,
		cadence:      cadence,
		handler:      handler,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start launches the scan loop.
func (h *Host) Start() {
	go h.scanLoop()
}

// Stop terminates the scan loop and waits for it to finish.
func (h *Host) Stop() {
	close(h.stop)
	<-h.done
}

// Scanned returns how many commands the host has consumed.
func (h *Host) Scanned() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.scanned
}

// Responded returns how many responses the host has written.
func (h *Host) Responded() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.responded
}

func (h *Host) scanLoop() {
	defer close(h.done)

	ticker := time.NewTicker(h.cadence)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			h.scanOnce()
		}
	}
}

// scanOnce consumes the command slot if it holds a new, well-formed command
// line, and writes the handler's reply to the response slot.
func (h *Host) scanOnce() {
	data, err := os.ReadFile(h.commandFile)
	if err != nil {
		return
	}

	line := firstLine(string(data))
	if line == "" {
		return
	}

	h.mu.Lock()
	if line == h.lastLine {
		h.mu.Unlock()
		return
	}
	h.lastLine = line
	h.mu.Unlock()

	// The command grammar is the response grammar: "{seq} {payload}".
	cmd, err := protocol.ParseResponse(line)
	if err != nil {
		return
	}

	h.mu.Lock()
	h.scanned++
	h.mu.Unlock()

	reply, respond := h.handler(cmd.Payload)
	if !respond {
		return
	}
	if reply == "" {
		reply = protocol.NoValue
	}

	respLine := fmt.Sprintf("%d %s\n", cmd.Seq, reply)
	if err := os.WriteFile(h.responseFile, []byte(respLine), 0644); err != nil {
		return
	}

	h.mu.Lock()
	h.responded++
	h.mu.Unlock()
}

func firstLine(contents string) string {
	for i := 0; i < len(contents); i++ {
		if contents[i] == '\n' {
			line := contents[:i]
			if len(line) > 0 && line[len(line)-1] == '\r' {
				line = line[:len(line)-1]
			}
			return line
		}
	}
	return contents
}

// Scripted returns a handler answering from a fixed payload->reply table.
// Unknown payloads are answered with an unknown-command failure marker, the
// way the real console reports unresolvable input.
func Scripted(replies map[string]string) Handler {
	return func(payload string) (string, bool) {
		if reply, ok := replies[payload]; ok {
			return reply, true
		}
		return "UNKNOWN COMMAND: " + payload, true
	}
}

// Flaky wraps a handler so the first drops occurrences of each payload are
// consumed without a response, reproducing the silently-dropped-reply
// pattern seen on rapid repeated status queries.
func Flaky(drops int, inner Handler) Handler {
	var mu sync.Mutex
	seen := make(map[string]int)

	return func(payload string) (string, bool) {
		mu.Lock()
		seen[payload]++
		n := seen[payload]
		mu.Unlock()

		if n <= drops {
			return "", false
		}
		return inner(payload)
	}
}

// Silent returns a handler that never responds.
func Silent() Handler {
	return func(string) (string, bool) {
		return "", false
	}
}
