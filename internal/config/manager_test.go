package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
telegram:
  token: "123:abc"
  staging_chat_id: -1001234567890
logging:
  level: debug
  console: true
jobstore:
  driver: file
  path: ./data/jobs.json
transfer:
  pace: 5s
quota:
  free_limit: 10
  premium_limit: 500
creds:
  master_key: "supersecret"
`)

	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("Token = %q", cfg.Telegram.Token)
	}
	if cfg.Telegram.StagingChatID != -1001234567890 {
		t.Fatalf("StagingChatID = %d", cfg.Telegram.StagingChatID)
	}
	if cfg.Quota.PremiumLimit != 500 {
		t.Fatalf("PremiumLimit = %d", cfg.Quota.PremiumLimit)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get should return the committed config")
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
telegram:
  token: "123:abc"
  not_a_field: true
`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationOrDefault("transfer.pace", "", 5*time.Second)
	if err != nil || d != 5*time.Second {
		t.Fatalf("empty: d=%v err=%v", d, err)
	}
	d, err = ParseDurationOrDefault("transfer.pace", "250ms", 5*time.Second)
	if err != nil || d != 250*time.Millisecond {
		t.Fatalf("override: d=%v err=%v", d, err)
	}
	if _, err := ParseDurationField("transfer.pace", "soon"); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}
