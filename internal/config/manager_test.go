package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./tasks.db
  busy_timeout: 5s
server:
  enabled: true
  addr: 127.0.0.1:0
  rate_per_min: 3
cron:
  enabled: true
  spec: "0 0 * * *"
backfill:
  timezone: America/New_York
  max_catch_up: 100
  enforce_end_date: true
`)
	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.BusyTimeout != "5s" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if !cfg.Server.Enabled || cfg.Server.RatePerMin != 3 {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if cfg.Backfill.Timezone != "America/New_York" || cfg.Backfill.MaxCatchUp != 100 || !cfg.Backfill.EnforceEndDate {
		t.Fatalf("backfill = %+v", cfg.Backfill)
	}
	if m.Get() != cfg {
		t.Fatal("Get must return the committed config")
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{
  "logging": {"level": "info", "console": true},
  "storage": {"driver": "memory"},
  "cron": {"enabled": false},
  "backfill": {"timezone": "UTC"}
}`)
	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != "memory" || cfg.Backfill.Timezone != "UTC" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
storage:
  driver: sqlite
  pathh: ./typo.db
`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("misspelled key must be rejected")
	}
}

func TestLoadRejectsTrailingData(t *testing.T) {
	path := writeConfig(t, "config.json", `{"storage":{"driver":"memory"}}{"extra":1}`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("trailing data must be rejected")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := NewManager(filepath.Join(t.TempDir(), "absent.yaml")).Load(); err == nil {
		t.Fatal("missing file must error")
	}
}

func TestSubscribePublish(t *testing.T) {
	m := NewManager("unused")
	ch := m.Subscribe(1)
	cfg := &Config{}
	m.publish(cfg)
	select {
	case got := <-ch:
		if got != cfg {
			t.Fatal("wrong config delivered")
		}
	default:
		t.Fatal("nothing delivered")
	}

	// A full buffer drops the stale entry in favor of the newest.
	stale, fresh := &Config{}, &Config{}
	m.publish(stale)
	m.publish(fresh)
	if got := <-ch; got != fresh {
		t.Fatal("expected the newest config after overflow")
	}

	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("unsubscribed channel must be closed")
	}
	// Publishing after unsubscribe must not panic.
	m.publish(cfg)
}

func TestParseDurationField(t *testing.T) {
	if _, err := ParseDurationField("x", "nope"); err == nil {
		t.Fatal("garbage duration must error")
	}
	d, err := ParseDurationOrDefault("x", "", 42)
	if err != nil || d != 42 {
		t.Fatalf("default not applied: %v %v", d, err)
	}
	d, err = ParseDurationOrDefault("x", "1m", 42)
	if err != nil || d.Minutes() != 1 {
		t.Fatalf("explicit value ignored: %v %v", d, err)
	}
}
