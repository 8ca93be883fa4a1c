package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/railcomm/trdp-pd/pkg/pd"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "demo.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadConfigDecodesDurationsAndIPs(t *testing.T) {
	path := writeTempConfig(t, `
session:
  own_ip: 10.0.0.1
  scheduler: indexed
publish_com_id: 42
publish_dest_ip: 239.1.1.1
publish_interval: 250ms
subscribe_com_id: 42
subscribe_from: 10.0.0.2
subscribe_timeout: 1s
`)

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}

	if cfg.PublishInterval != 250*time.Millisecond {
		t.Errorf("PublishInterval = %v, want 250ms", cfg.PublishInterval)
	}
	if cfg.SubscribeTimeo != time.Second {
		t.Errorf("SubscribeTimeo = %v, want 1s", cfg.SubscribeTimeo)
	}
	if cfg.Session.OwnIP.String() != "10.0.0.1" {
		t.Errorf("OwnIP = %v, want 10.0.0.1", cfg.Session.OwnIP)
	}
	if cfg.SubscribeFrom.String() != "10.0.0.2" {
		t.Errorf("SubscribeFrom = %v, want 10.0.0.2", cfg.SubscribeFrom)
	}
	if cfg.Session.Scheduler != pd.SchedulerIndexed {
		t.Errorf("Scheduler = %v, want SchedulerIndexed", cfg.Session.Scheduler)
	}
}

func TestLoadConfigRejectsBadIP(t *testing.T) {
	path := writeTempConfig(t, `
session:
  own_ip: "not-an-ip"
`)
	if _, err := loadConfig(path); err == nil {
		t.Fatal("expected error decoding an invalid IP address")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := loadConfig("/nonexistent/path/demo.yaml"); err == nil {
		t.Fatal("expected error for a missing config file")
	}
}
