package logger

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitWritesOperationalAndAuditLogs(t *testing.T) {
	dir := t.TempDir()
	appLog := filepath.Join(dir, "logs", "app.log")
	auditLog := filepath.Join(dir, "audit", "audit.log")

	err := Init(Config{
		Level:       "debug",
		Format:      "text",
		OutputPaths: []string{appLog},
		Audit:       AuditConfig{Enabled: true, Path: auditLog},
	})
	if err != nil {
		t.Fatalf("init logger: %v", err)
	}
	t.Cleanup(func() {
		_ = Sync()
		_ = Init(Config{OutputPaths: []string{"stderr"}})
	})

	Named("agent").Debug("收到事件", slog.String("event_id", "evt-1"))
	Audit().Info("交易已提交", slog.String("tx_hash", "0xabc"))
	if err := Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	appContent, err := os.ReadFile(appLog)
	if err != nil {
		t.Fatalf("read app log: %v", err)
	}
	if !strings.Contains(string(appContent), "component=agent") || !strings.Contains(string(appContent), "event_id=evt-1") {
		t.Fatalf("unexpected app log: %s", appContent)
	}

	auditContent, err := os.ReadFile(auditLog)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(auditContent))), &record); err != nil {
		t.Fatalf("audit log is not JSON: %v (%s)", err, auditContent)
	}
	if record["stream"] != "audit" || record["tx_hash"] != "0xabc" {
		t.Fatalf("unexpected audit record: %+v", record)
	}
}

func TestInitRejectsAuditWithoutPath(t *testing.T) {
	if err := Init(Config{Audit: AuditConfig{Enabled: true}}); err == nil {
		t.Fatalf("expected error when audit path is missing")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for input, want := range cases {
		if got := parseLevel(input); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}
