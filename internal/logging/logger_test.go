package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"wotnode-gateway/internal/config"
)

func TestNewWithWriter_ProdIsJSON(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.Default()
	cfg.AppEnv = "prod"

	logger := NewWithWriter(&buf, cfg, "1.2.3", "wotnode-gateway")
	logger.Info("hello", "port", 1025)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if rec["msg"] != "hello" {
		t.Errorf("msg = %v, want hello", rec["msg"])
	}
	if rec["app"] != "wotnode-gateway" || rec["version"] != "1.2.3" || rec["env"] != "prod" {
		t.Errorf("missing app attributes: %v", rec)
	}
	if rec["port"] != float64(1025) {
		t.Errorf("port = %v, want 1025", rec["port"])
	}
}

func TestNewWithWriter_DevIsTint(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.Default()
	cfg.LogFile = "set" // disables colour codes

	logger := NewWithWriter(&buf, cfg, "dev", "wotnode-gateway")
	logger.Info("hello", "op", "send")

	out := buf.String()
	if json.Valid(buf.Bytes()) {
		t.Fatalf("dev output should not be JSON: %s", out)
	}
	if !strings.Contains(out, "hello") || !strings.Contains(out, "op=send") {
		t.Errorf("unexpected dev output: %q", out)
	}
}

func TestNewWithWriter_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.Default()
	cfg.LogLevel = slog.LevelWarn

	logger := NewWithWriter(&buf, cfg, "1.0.0", "wotnode-gateway")
	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("info written at warn level: %s", buf.String())
	}
	logger.Warn("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Errorf("warn not written: %s", buf.String())
	}
}
