package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFromYAML(t *testing.T) {
	cfg, err := FromYAML([]byte(`
server:
  addr: ":9090"
auth:
  agent_token: sekret
  token_ttl: 2h
backup:
  dir: /var/backups/planline
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Server.BasePath != "/api" {
		t.Fatalf("base_path default = %q", cfg.Server.BasePath)
	}
	if cfg.Auth.AgentToken != "sekret" {
		t.Fatalf("agent_token = %q", cfg.Auth.AgentToken)
	}
	if cfg.TokenTTL() != 2*time.Hour {
		t.Fatalf("token ttl = %v", cfg.TokenTTL())
	}
	if cfg.Backup.Dir != "/var/backups/planline" {
		t.Fatalf("backup dir = %q", cfg.Backup.Dir)
	}
}

func TestFromYAMLRejectsBadTTL(t *testing.T) {
	if _, err := FromYAML([]byte("auth:\n  token_ttl: soon\n")); err == nil {
		t.Fatalf("bad ttl accepted")
	}
}

func TestGenerateDefaultRoundTrips(t *testing.T) {
	cfg, err := FromYAML([]byte(GenerateDefault()))
	if err != nil {
		t.Fatalf("template does not parse: %v", err)
	}
	if cfg.Server.Addr != ":8787" || cfg.TokenTTL() != 24*time.Hour {
		t.Fatalf("template defaults = %+v", cfg)
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadOptional(dir)
	if err != nil {
		t.Fatalf("load with no file: %v", err)
	}
	if cfg.Server.Addr != ":8787" {
		t.Fatalf("defaults not used: %+v", cfg)
	}

	if err := os.WriteFile(filepath.Join(dir, "planline.yml"), []byte("server:\n  addr: \":7000\"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err = LoadOptional(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":7000" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}

	if _, err := Load(t.TempDir()); err == nil {
		t.Fatalf("Load with no file did not error")
	}
}
