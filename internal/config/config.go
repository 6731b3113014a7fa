// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"firestige.xyz/wirecat/internal/core"
)

// GlobalConfig represents the top-level configuration.
// Maps to the `wirecat:` root key in YAML.
type GlobalConfig struct {
	Capture    CaptureConfig    `mapstructure:"capture"`
	Reassembly ReassemblyConfig `mapstructure:"reassembly"`
	Sinks      SinksConfig      `mapstructure:"sinks"`
	Export     ExportConfig     `mapstructure:"export"`
	API        APIConfig        `mapstructure:"api"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Log        LogConfig        `mapstructure:"log"`
}

// ─── Capture ───

// CaptureConfig selects and tunes the capture source.
type CaptureConfig struct {
	Device       string `mapstructure:"device"`         // eth0; empty = first device found
	Source       string `mapstructure:"source"`         // pcap | afpacket
	SnapLen      int    `mapstructure:"snap_len"`       // Snapshot length (default 65535)
	BufferSizeMB int    `mapstructure:"buffer_size_mb"` // afpacket ring size
	PollTimeout  string `mapstructure:"poll_timeout"`   // e.g. "100ms", bounds pause/resume latency
	Promiscuous  bool   `mapstructure:"promiscuous"`
	BPF          string `mapstructure:"bpf"`       // kernel-side pre-filter, e.g. "udp port 53"
	Autostart    bool   `mapstructure:"autostart"` // start capturing as soon as the session opens
}

// PollTimeoutDuration returns the parsed poll timeout.
func (c CaptureConfig) PollTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.PollTimeout)
	return d
}

// ─── Reassembly ───

// ReassemblyConfig controls IP fragment group retention.
type ReassemblyConfig struct {
	Timeout      string `mapstructure:"timeout"`
	MaxGroups    int    `mapstructure:"max_groups"`
	MaxFragments int    `mapstructure:"max_fragments"`
}

// TimeoutDuration returns the parsed group idle timeout.
func (c ReassemblyConfig) TimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.Timeout)
	return d
}

// ─── Sinks ───

// SinksConfig enables the packet view sinks.
type SinksConfig struct {
	Console ConsoleSinkConfig `mapstructure:"console"`
	NATS    NATSSinkConfig    `mapstructure:"nats"`
}

// ConsoleSinkConfig configures the one-line-per-packet console view.
type ConsoleSinkConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// NATSSinkConfig configures publishing of packet summaries to NATS.
type NATSSinkConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

// ─── Export ───

// ExportConfig configures where saved capture logs go.
type ExportConfig struct {
	Dir string `mapstructure:"dir"`
}

// ─── Control API ───

// APIConfig configures the HTTP control API.
type APIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level"`  // debug / info / warn / error
	Format  string           `mapstructure:"format"` // json / text
	Outputs LogOutputsConfig `mapstructure:"outputs"`
}

// LogOutputsConfig contains structured log output destinations.
type LogOutputsConfig struct {
	Console ConsoleOutputConfig `mapstructure:"console"`
	File    FileOutputConfig    `mapstructure:"file"`
}

// ConsoleOutputConfig selects the terminal stream logs go to.
type ConsoleOutputConfig struct {
	Stream string `mapstructure:"stream"` // stdout / stderr / none
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`  // MB
	MaxAgeDays int  `mapstructure:"max_age_days"` // Days
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `wirecat: ...`.
type configRoot struct {
	Wirecat GlobalConfig `mapstructure:"wirecat"`
}

// Load loads configuration from file. An empty path yields the defaults,
// still subject to environment overrides.
// The YAML file uses `wirecat:` as root key; env vars use the WIRECAT_ prefix (e.g., WIRECAT_LOG_LEVEL).
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// The `wirecat.` key prefix maps to `WIRECAT_` in env vars via the key replacer
	// (e.g., key "wirecat.capture.device" → env "WIRECAT_CAPTURE_DEVICE").
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Wirecat

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for configuration.
// All keys use "wirecat." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Capture defaults
	v.SetDefault("wirecat.capture.device", "")
	v.SetDefault("wirecat.capture.source", "pcap")
	v.SetDefault("wirecat.capture.snap_len", 65535)
	v.SetDefault("wirecat.capture.buffer_size_mb", 8)
	v.SetDefault("wirecat.capture.poll_timeout", "100ms")
	v.SetDefault("wirecat.capture.promiscuous", true)
	v.SetDefault("wirecat.capture.bpf", "")
	v.SetDefault("wirecat.capture.autostart", false)

	// Reassembly defaults
	v.SetDefault("wirecat.reassembly.timeout", "30s")
	v.SetDefault("wirecat.reassembly.max_groups", 1024)
	v.SetDefault("wirecat.reassembly.max_fragments", 8192)

	// Sink defaults
	v.SetDefault("wirecat.sinks.console.enabled", false)
	v.SetDefault("wirecat.sinks.nats.enabled", false)
	v.SetDefault("wirecat.sinks.nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("wirecat.sinks.nats.subject", "wirecat.packets")

	// Export defaults
	v.SetDefault("wirecat.export.dir", ".")

	// API defaults
	v.SetDefault("wirecat.api.enabled", true)
	v.SetDefault("wirecat.api.listen", "127.0.0.1:8640")

	// Metrics defaults
	v.SetDefault("wirecat.metrics.enabled", false)
	v.SetDefault("wirecat.metrics.listen", ":9091")
	v.SetDefault("wirecat.metrics.path", "/metrics")

	// Log defaults
	v.SetDefault("wirecat.log.level", "info")
	v.SetDefault("wirecat.log.format", "text")
	v.SetDefault("wirecat.log.outputs.console.stream", "stdout")
	v.SetDefault("wirecat.log.outputs.file.enabled", false)
	v.SetDefault("wirecat.log.outputs.file.path", "/var/log/wirecat/wirecat.log")
	v.SetDefault("wirecat.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("wirecat.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("wirecat.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("wirecat.log.outputs.file.rotation.compress", true)
}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("%w: invalid log level: %s (must be debug/info/warn/error)", core.ErrConfigInvalid, cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("%w: invalid log format: %s (must be json/text)", core.ErrConfigInvalid, cfg.Log.Format)
	}

	switch cfg.Log.Outputs.Console.Stream {
	case "stdout", "stderr", "none":
	default:
		return fmt.Errorf("%w: invalid log.outputs.console.stream: %q (must be stdout/stderr/none)", core.ErrConfigInvalid, cfg.Log.Outputs.Console.Stream)
	}

	// ── Capture validation ──
	if cfg.Capture.Source != "pcap" && cfg.Capture.Source != "afpacket" {
		return fmt.Errorf("%w: invalid capture.source: %s (must be pcap/afpacket)", core.ErrConfigInvalid, cfg.Capture.Source)
	}
	if cfg.Capture.SnapLen <= 0 || cfg.Capture.SnapLen > 262144 {
		cfg.Capture.SnapLen = 65535
	}
	if cfg.Capture.BufferSizeMB <= 0 {
		cfg.Capture.BufferSizeMB = 8
	}
	if d, err := time.ParseDuration(cfg.Capture.PollTimeout); err != nil || d <= 0 {
		return fmt.Errorf("%w: invalid capture.poll_timeout: %q", core.ErrConfigInvalid, cfg.Capture.PollTimeout)
	}

	// ── Reassembly validation ──
	if d, err := time.ParseDuration(cfg.Reassembly.Timeout); err != nil || d <= 0 {
		return fmt.Errorf("%w: invalid reassembly.timeout: %q", core.ErrConfigInvalid, cfg.Reassembly.Timeout)
	}
	if cfg.Reassembly.MaxGroups <= 0 {
		cfg.Reassembly.MaxGroups = 1024
	}
	if cfg.Reassembly.MaxFragments <= 0 {
		cfg.Reassembly.MaxFragments = 8192
	}

	// ── Sink validation ──
	if cfg.Sinks.NATS.Enabled {
		if cfg.Sinks.NATS.URL == "" {
			return fmt.Errorf("%w: sinks.nats.url is required when sinks.nats.enabled=true", core.ErrConfigInvalid)
		}
		if cfg.Sinks.NATS.Subject == "" {
			return fmt.Errorf("%w: sinks.nats.subject is required when sinks.nats.enabled=true", core.ErrConfigInvalid)
		}
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Export.Dir == "" {
		cfg.Export.Dir = "."
	}

	return nil
}
