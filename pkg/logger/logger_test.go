package logger

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func resetForTest(t *testing.T) {
	t.Helper()
	mu.Lock()
	defaultLogger, auditLogger, initialised, closers = nil, nil, false, nil
	mu.Unlock()
	t.Cleanup(func() {
		_ = Sync()
		mu.Lock()
		defaultLogger, auditLogger, initialised = nil, nil, false
		mu.Unlock()
	})
}

func TestInitWritesToFileAndAudit(t *testing.T) {
	resetForTest(t)
	dir := t.TempDir()
	appLog := filepath.Join(dir, "app", "bridge.log")
	auditLog := filepath.Join(dir, "audit", "audit.log")

	if err := Init(Config{
		Level:       "debug",
		Format:      "text",
		OutputPaths: []string{appLog},
		Audit:       AuditConfig{Enabled: true, Path: auditLog},
	}); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := Init(Config{}); err == nil {
		t.Fatal("expected second init to fail")
	}

	Named("wallet").Debug("probe", slog.String("account", "0xabc"))
	Audit().Info("session_connected", slog.String("account", "0xabc"))
	if err := Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	content, err := os.ReadFile(appLog)
	if err != nil {
		t.Fatalf("read app log: %v", err)
	}
	if !strings.Contains(string(content), "component=wallet") {
		t.Fatalf("component attribute missing: %s", content)
	}
	audit, err := os.ReadFile(auditLog)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	if !strings.Contains(string(audit), "session_connected") {
		t.Fatalf("audit entry missing: %s", audit)
	}
}

func TestAuditRequiresPath(t *testing.T) {
	resetForTest(t)
	if err := Init(Config{Audit: AuditConfig{Enabled: true}}); err == nil {
		t.Fatal("expected error for empty audit path")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
