package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestSetupRenamesCoreKeys(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	logger := setup(&buf, " arbiterd ", "test")
	logger.Info("cycle confirmed", slog.Uint64("cycle", 3))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	for key, want := range map[string]any{
		"message":  "cycle confirmed",
		"severity": "INFO",
		"service":  "arbiterd",
		"env":      "test",
		"cycle":    float64(3),
	} {
		if line[key] != want {
			t.Fatalf("%s = %v, want %v", key, line[key], want)
		}
	}
	if _, ok := line["timestamp"]; !ok {
		t.Fatalf("timestamp missing: %v", line)
	}
}

func TestSetupRedactsCredentials(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	logger := setup(&buf, "arbiterd", "")
	logger.Info("rpc configured",
		slog.String("AuthToken", "4f1c"),
		slog.String("archive_dsn", "postgres://u:p@db/arbiter"),
		slog.String("jwt_secret", ""),
		slog.String("miner", "repm1abc"))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if line["AuthToken"] != RedactedValue || line["archive_dsn"] != RedactedValue {
		t.Fatalf("credentials leaked: %v", line)
	}
	if line["jwt_secret"] != "" || line["miner"] != "repm1abc" {
		t.Fatalf("unexpected rewrite: %v", line)
	}
	if _, ok := line["env"]; ok {
		t.Fatalf("empty env should be omitted: %v", line)
	}
}

func TestDebugOnlyInDevelopment(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	setup(&buf, "minerd", "prod").Debug("arbiter event")
	if buf.Len() != 0 {
		t.Fatalf("debug line emitted in prod: %s", buf.String())
	}
	setup(&buf, "minerd", "dev").Debug("arbiter event")
	if buf.Len() == 0 {
		t.Fatalf("debug line suppressed in dev")
	}
}
