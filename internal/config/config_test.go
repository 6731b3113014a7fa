package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"firestige.xyz/wirecat/internal/core"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wirecat.yml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
wirecat:
  capture:
    device: "eth1"
    source: "afpacket"
    snap_len: 1518
    poll_timeout: "250ms"
    bpf: "udp port 53"
    autostart: true
  reassembly:
    timeout: "10s"
    max_groups: 16
  sinks:
    nats:
      enabled: true
      url: "nats://nats:4222"
      subject: "lab.packets"
  log:
    level: "debug"
    format: "json"
  metrics:
    enabled: true
    listen: "0.0.0.0:9090"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Capture.Device != "eth1" {
		t.Errorf("Expected device eth1, got %s", cfg.Capture.Device)
	}
	if cfg.Capture.Source != "afpacket" {
		t.Errorf("Expected source afpacket, got %s", cfg.Capture.Source)
	}
	if cfg.Capture.SnapLen != 1518 {
		t.Errorf("Expected snap_len 1518, got %d", cfg.Capture.SnapLen)
	}
	if got := cfg.Capture.PollTimeoutDuration(); got != 250*time.Millisecond {
		t.Errorf("Expected poll timeout 250ms, got %v", got)
	}
	if !cfg.Capture.Autostart {
		t.Error("Expected autostart true")
	}
	if got := cfg.Reassembly.TimeoutDuration(); got != 10*time.Second {
		t.Errorf("Expected reassembly timeout 10s, got %v", got)
	}
	if cfg.Reassembly.MaxGroups != 16 {
		t.Errorf("Expected max_groups 16, got %d", cfg.Reassembly.MaxGroups)
	}
	// Default retained for fields not in the file
	if cfg.Reassembly.MaxFragments != 8192 {
		t.Errorf("Expected default max_fragments 8192, got %d", cfg.Reassembly.MaxFragments)
	}
	if cfg.Sinks.NATS.Subject != "lab.packets" {
		t.Errorf("Expected NATS subject lab.packets, got %s", cfg.Sinks.NATS.Subject)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Expected debug/json log, got %s/%s", cfg.Log.Level, cfg.Log.Format)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Expected default metrics path, got %s", cfg.Metrics.Path)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Failed to load defaults: %v", err)
	}

	if cfg.Capture.Source != "pcap" {
		t.Errorf("Expected default source pcap, got %s", cfg.Capture.Source)
	}
	if cfg.Capture.SnapLen != 65535 {
		t.Errorf("Expected default snap_len 65535, got %d", cfg.Capture.SnapLen)
	}
	if got := cfg.Capture.PollTimeoutDuration(); got != 100*time.Millisecond {
		t.Errorf("Expected default poll timeout 100ms, got %v", got)
	}
	if cfg.Reassembly.MaxGroups != 1024 {
		t.Errorf("Expected default max_groups 1024, got %d", cfg.Reassembly.MaxGroups)
	}
	if !cfg.API.Enabled {
		t.Error("Expected API enabled by default")
	}
	if cfg.Log.Outputs.Console.Stream != "stdout" {
		t.Errorf("Expected console stream stdout, got %q", cfg.Log.Outputs.Console.Stream)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("WIRECAT_CAPTURE_DEVICE", "lo")
	t.Setenv("WIRECAT_LOG_LEVEL", "warn")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Capture.Device != "lo" {
		t.Errorf("Expected device from env lo, got %s", cfg.Capture.Device)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Expected log level from env warn, got %s", cfg.Log.Level)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"log level", "wirecat:\n  log:\n    level: \"loud\"\n"},
		{"log format", "wirecat:\n  log:\n    format: \"xml\"\n"},
		{"console stream", "wirecat:\n  log:\n    outputs:\n      console:\n        stream: \"tty\"\n"},
		{"source", "wirecat:\n  capture:\n    source: \"xdp\"\n"},
		{"poll timeout", "wirecat:\n  capture:\n    poll_timeout: \"soon\"\n"},
		{"reassembly timeout", "wirecat:\n  reassembly:\n    timeout: \"-1s\"\n"},
		{"nats without subject", "wirecat:\n  sinks:\n    nats:\n      enabled: true\n      subject: \"\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !errors.Is(err, core.ErrConfigInvalid) {
				t.Errorf("Expected ErrConfigInvalid, got %v", err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestLoadExampleConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "wirecat.yml"))
	if err != nil {
		t.Fatalf("example config does not load: %v", err)
	}
	if cfg.Capture.PollTimeoutDuration() != 100*time.Millisecond {
		t.Errorf("poll timeout = %v", cfg.Capture.PollTimeoutDuration())
	}
	if cfg.Reassembly.TimeoutDuration() != 30*time.Second {
		t.Errorf("reassembly timeout = %v", cfg.Reassembly.TimeoutDuration())
	}
	if !cfg.API.Enabled || cfg.API.Listen != "127.0.0.1:8640" {
		t.Errorf("api = %+v", cfg.API)
	}
	if cfg.Sinks.NATS.Subject != "wirecat.packets" {
		t.Errorf("nats subject = %q", cfg.Sinks.NATS.Subject)
	}
}
