// Package device provides a line-oriented serial link to auxiliary lab
// peripherals (fraction collectors, autosampler accessories) that sit next
// to the instrument but are not reachable through the console bridge.
package device

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

// Options configure a serial connection.
type Options struct {
	// Address is prepended to every command, typically a bus address
	// like "@01". Empty means no addressing.
	Address string
	// Terminator ends every command line. Defaults to "\r\n".
	Terminator string
	// BaudRate defaults to 9600.
	BaudRate int
	// ReadTimeout bounds a single reply wait. Defaults to 2s.
	ReadTimeout time.Duration
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.Terminator == "" {
		out.Terminator = "\r\n"
	}
	if out.BaudRate == 0 {
		out.BaudRate = 9600
	}
	if out.ReadTimeout == 0 {
		out.ReadTimeout = 2 * time.Second
	}
	return out
}

// Conn is a command/reply connection to a peripheral. A single command is
// in flight at a time.
type Conn struct {
	mu     sync.Mutex
	rw     io.ReadWriteCloser
	reader *bufio.Reader
	opts   Options
}

// Open opens the named serial port and wraps it in a Conn.
func Open(portName string, opts Options) (*Conn, error) {
	o := opts.withDefaults()

	port, err := serial.Open(portName, &serial.Mode{BaudRate: o.BaudRate})
	if err != nil {
		return nil, fmt.Errorf("opening serial port %s: %w", portName, err)
	}
	if err := port.SetReadTimeout(o.ReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("configuring serial port %s: %w", portName, err)
	}

	return NewConn(port, opts), nil
}

// NewConn wraps an existing stream in a Conn. Used by Open and by tests.
func NewConn(rw io.ReadWriteCloser, opts Options) *Conn {
	return &Conn{
		rw:     rw,
		reader: bufio.NewReader(rw),
		opts:   opts.withDefaults(),
	}
}

// SendCommand writes one command line and reads one reply line. The reply
// is returned with the terminator and any echoed address prefix stripped.
func (c *Conn) SendCommand(text string) (string, error) {
	if strings.ContainsAny(text, "\r\n") {
		return "", fmt.Errorf("command must be a single line: %q", text)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	line := text
	if c.opts.Address != "" {
		line = c.opts.Address + " " + line
	}
	if _, err := io.WriteString(c.rw, line+c.opts.Terminator); err != nil {
		return "", fmt.Errorf("writing command: %w", err)
	}

	reply, err := c.reader.ReadString('\n')
	if err != nil && reply == "" {
		return "", fmt.Errorf("reading reply: %w", err)
	}

	reply = strings.TrimRight(reply, "\r\n")
	if c.opts.Address != "" {
		reply = strings.TrimPrefix(reply, c.opts.Address+" ")
	}
	return reply, nil
}

// Close closes the underlying stream.
func (c *Conn) Close() error {
	return c.rw.Close()
}
