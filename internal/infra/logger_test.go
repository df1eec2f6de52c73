package infra

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLoggerStampsService(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "production", "worker")
	logger.Debug().Msg("hidden")
	logger.Info().Str("job_id", "j1").Msg("worker: result sent")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line (debug suppressed), got %d: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["service"] != "worker" || entry["job_id"] != "j1" || entry["level"] != "info" {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestLoggerDevelopmentConsole(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "development", "api")
	logger.Debug().Msg("api: debug line")

	out := buf.String()
	if !strings.Contains(out, "api: debug line") || !strings.Contains(out, "service=") {
		t.Fatalf("unexpected console output %q", out)
	}
	if strings.HasPrefix(strings.TrimSpace(out), "{") {
		t.Fatalf("development output should not be JSON: %q", out)
	}
}
