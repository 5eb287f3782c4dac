package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
port: "9090"
auth:
  signing_key: s3cret
scheduler:
  tick: 30s
facility:
  retries: 5
lock:
  backend: Redis
redis:
  addr: redis:6379
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != "9090" {
		t.Fatalf("Port = %q, want 9090", cfg.Port)
	}
	if cfg.Scheduler.Tick != 30*time.Second {
		t.Fatalf("Scheduler.Tick = %s, want 30s", cfg.Scheduler.Tick)
	}
	if cfg.Facility.Retries != 5 {
		t.Fatalf("Facility.Retries = %d, want 5", cfg.Facility.Retries)
	}
	if cfg.Lock.Backend != LockRedis {
		t.Fatalf("Lock.Backend = %q, want %q", cfg.Lock.Backend, LockRedis)
	}
	if cfg.Redis.Addr != "redis:6379" {
		t.Fatalf("Redis.Addr = %q", cfg.Redis.Addr)
	}
	// untouched keys keep their defaults
	if cfg.ConfigDB.TTL != time.Hour {
		t.Fatalf("ConfigDB.TTL = %s, want 1h", cfg.ConfigDB.TTL)
	}
	if cfg.DBPath != "cadences.db" {
		t.Fatalf("DBPath = %q, want default", cfg.DBPath)
	}
}

func TestLoad_MissingSigningKeyFails(t *testing.T) {
	path := writeConfig(t, `port: "8080"`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for missing auth.signing_key")
	}
}

func TestLoad_RejectsUnknownLockBackend(t *testing.T) {
	path := writeConfig(t, `
auth:
  signing_key: k
lock:
  backend: etcd
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown lock backend")
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	path := writeConfig(t, `
auth:
  signing_key: k
`)
	t.Setenv("CADENCE_FACILITY_TOKEN", "from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Facility.Token != "from-env" {
		t.Fatalf("Facility.Token = %q, want from-env", cfg.Facility.Token)
	}
}
