package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/instrument-control/icb/internal/config"
)

func newTestLogger(t *testing.T) *Logger {
	t.Helper()
	logger, err := NewLogger(config.AuditConfig{
		Dir:        t.TempDir(),
		MaxSizeMB:  1,
		MaxBackups: 1,
		MaxAgeDays: 1,
	})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	t.Cleanup(func() { logger.Close() })
	return logger
}

func TestLogExchangeWritesJSONLines(t *testing.T) {
	logger := newTestLogger(t)

	logger.LogExchange("query", "STATUS SYSTEM", "SUCCESS", "", 120*time.Millisecond)
	logger.LogExchange("execute", "START METHOD", "TIMEOUT", "no response", 5*time.Second)

	file, err := os.Open(logger.Path())
	if err != nil {
		t.Fatalf("failed to open audit file: %v", err)
	}
	defer file.Close()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Fatalf("line is not valid JSON: %v", err)
		}
		entries = append(entries, entry)
	}

	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	first := entries[0]
	if first.Action != "query" || first.Payload != "STATUS SYSTEM" || first.Outcome != "SUCCESS" {
		t.Errorf("unexpected first entry: %+v", first)
	}
	if first.LatencyMs != 120 {
		t.Errorf("latency = %dms, want 120", first.LatencyMs)
	}
	if first.ID == "" || first.Timestamp.IsZero() {
		t.Errorf("entry must carry an id and timestamp: %+v", first)
	}

	second := entries[1]
	if second.Outcome != "TIMEOUT" || second.Detail != "no response" {
		t.Errorf("unexpected second entry: %+v", second)
	}
	if second.ID == first.ID {
		t.Error("entry ids must be unique")
	}
}
