package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestSetupJSONWithComponent(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	Setup(&buf, "warn", "json", false)
	For("session").Info("dropped")
	For("session").Warn("stale result", slog.Uint64("generation", 4))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected only the warning, got %q", buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec["component"] != "session" || rec["msg"] != "stale result" {
		t.Fatalf("unexpected record %v", rec)
	}
}

func TestDebugFlagWins(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	Setup(&buf, "error", "text", true)
	slog.Debug("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Fatalf("debug flag did not lower the level: %q", buf.String())
	}
	if ParseLevel("nonsense") != slog.LevelInfo {
		t.Fatalf("unknown level should be info")
	}
}
