// Package audit writes the append-only JSONL trail of every console
// exchange and validation decision.
package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/xid"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/instrument-control/icb/internal/config"
)

// Entry is a single audit record.
type Entry struct {
	Timestamp time.Time `json:"ts"`
	ID        string    `json:"id"`
	Action    string    `json:"action"`
	Payload   string    `json:"payload,omitempty"`
	Outcome   string    `json:"outcome"`
	Detail    string    `json:"detail,omitempty"`
	LatencyMs int64     `json:"latencyMs"`
}

// Logger appends audit entries to a size-rotated JSONL file.
type Logger struct {
	mu     sync.Mutex
	writer io.WriteCloser
	path   string
}

// NewLogger creates an audit logger rotating at the configured size.
func NewLogger(cfg config.AuditConfig) (*Logger, error) {
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	path := filepath.Join(cfg.Dir, "audit.jsonl")
	return &Logger{
		writer: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		},
		path: path,
	}, nil
}

// LogExchange records one console exchange or validation decision.
func (l *Logger) LogExchange(action, payload, outcome, detail string, latency time.Duration) {
	entry := Entry{
		Timestamp: time.Now().UTC(),
		ID:        xid.New().String(),
		Action:    action,
		Payload:   payload,
		Outcome:   outcome,
		Detail:    detail,
		LatencyMs: latency.Milliseconds(),
	}
	l.writeEntry(entry)
}

// writeEntry appends one JSON line. Failures are reported to stderr; the
// audit trail must never take the bridge down.
func (l *Logger) writeEntry(entry Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal audit entry: %v\n", err)
		return
	}
	if _, err := l.writer.Write(append(data, '\n')); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write audit entry: %v\n", err)
	}
}

// Path returns the audit file path.
func (l *Logger) Path() string {
	return l.path
}

// Close closes the underlying writer.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writer.Close()
}
