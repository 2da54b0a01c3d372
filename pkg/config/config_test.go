package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileYieldsZeroConfig(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing file must not error: %v", err)
	}
	if cfg.Account.Identity != "" || cfg.Server.Port != 0 {
		t.Fatalf("expected zero config, got %+v", cfg)
	}
}

func TestLoadParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "skymirror.yaml")
	data := `
server:
  address: "0.0.0.0"
  port: 9000
  db_path: "/var/cache/sm"
account:
  identity: "did.plc.me"
remote:
  index_url: "http://index.local"
  rps: 5
retention:
  enabled: true
  cron: "0 3 * * *"
  max_stream_entries: 500
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9000 || cfg.Account.Identity != "did.plc.me" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if !cfg.Retention.Enabled || cfg.Retention.MaxStreamEntries != 500 {
		t.Fatalf("retention section not parsed: %+v", cfg.Retention)
	}
	if cfg.Remote.RPS != 5 {
		t.Fatalf("remote section not parsed: %+v", cfg.Remote)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("server: ["), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("malformed yaml must error")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("SKYMIRROR_IDENTITY", "did.plc.env")
	t.Setenv("SKYMIRROR_PORT", "7777")
	cfg := &Config{}
	cfg.Account.Identity = "did.plc.file"
	ApplyEnvOverrides(cfg)
	if cfg.Account.Identity != "did.plc.env" {
		t.Fatalf("env must win over file: %q", cfg.Account.Identity)
	}
	if cfg.Server.Port != 7777 {
		t.Fatalf("port override not applied: %d", cfg.Server.Port)
	}
}

func TestAddrDefaults(t *testing.T) {
	cfg := &Config{}
	if got := cfg.Addr(); got != "127.0.0.1:8321" {
		t.Fatalf("unexpected default addr: %q", got)
	}
	cfg.Server.Address = "0.0.0.0"
	cfg.Server.Port = 9000
	if got := cfg.Addr(); got != "0.0.0.0:9000" {
		t.Fatalf("unexpected addr: %q", got)
	}
}
