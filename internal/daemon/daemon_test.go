package daemon

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"firestige.xyz/wirecat/internal/capture/capturetest"
	"firestige.xyz/wirecat/internal/testutil"
)

func writeConfig(t *testing.T, dir, level string) string {
	t.Helper()
	configPath := filepath.Join(dir, "wirecat.yml")
	configContent := `
wirecat:
  capture:
    poll_timeout: 5ms
    autostart: true
  export:
    dir: ` + dir + `
  api:
    enabled: true
    listen: 127.0.0.1:0
  metrics:
    enabled: false
  log:
    level: ` + level + `
    format: text
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return configPath
}

func TestDaemon_StartStopIntegration(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := writeConfig(t, tmpDir, "debug")
	pidFile := filepath.Join(tmpDir, "wirecat.pid")

	src := capturetest.NewSource()
	d, err := New(configPath, pidFile, WithSource(src))
	if err != nil {
		t.Fatalf("failed to create daemon: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("failed to start daemon: %v", err)
	}

	if _, err := os.Stat(pidFile); os.IsNotExist(err) {
		t.Errorf("PID file was not created: %s", pidFile)
	}

	runDone := make(chan error, 1)
	go func() {
		runDone <- d.Run()
	}()

	src.Handle.Push(testutil.UDPFrame("10.0.0.1", "10.0.0.2", 1, 2, nil))
	deadline := time.Now().Add(2 * time.Second)
	for d.Session().PacketCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	resp, err := http.Get("http://" + d.APIAddr() + "/api/v1/capture/state")
	if err != nil {
		t.Fatalf("state request failed: %v", err)
	}
	var state struct {
		Device  string `json:"device"`
		State   string `json:"state"`
		Packets int    `json:"packets"`
	}
	err = json.NewDecoder(resp.Body).Decode(&state)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if state.Device != "test0" || state.State != "start" || state.Packets != 1 {
		t.Errorf("unexpected state: %+v", state)
	}

	d.TriggerShutdown()

	select {
	case err := <-runDone:
		if err != nil {
			t.Errorf("daemon.Run() returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop within timeout")
	}

	if _, err := os.Stat(pidFile); !os.IsNotExist(err) {
		t.Errorf("PID file was not removed after shutdown: %s", pidFile)
	}
	if !src.Handle.Closed() {
		t.Error("capture handle was not closed after shutdown")
	}

	// second Stop is a no-op
	d.Stop()
}

func TestDaemon_RunReturnsDeviceError(t *testing.T) {
	tmpDir := t.TempDir()
	src := capturetest.NewSource()
	d, err := New(writeConfig(t, tmpDir, "info"), "", WithSource(src))
	if err != nil {
		t.Fatalf("failed to create daemon: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("failed to start daemon: %v", err)
	}

	wantErr := errors.New("link down")
	src.Handle.Fail(wantErr)

	select {
	case err := <-runAsync(d):
		if !errors.Is(err, wantErr) {
			t.Errorf("Run() = %v, want %v", err, wantErr)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop after device failure")
	}
}

func TestDaemon_StartFailsWithoutDevice(t *testing.T) {
	tmpDir := t.TempDir()
	src := capturetest.NewSource()
	src.OpenErr = errors.New("permission denied")

	d, err := New(writeConfig(t, tmpDir, "info"), filepath.Join(tmpDir, "wirecat.pid"), WithSource(src))
	if err != nil {
		t.Fatalf("failed to create daemon: %v", err)
	}
	if err := d.Start(); err == nil {
		t.Fatal("Start() succeeded without a device")
	}
	if _, err := os.Stat(filepath.Join(tmpDir, "wirecat.pid")); !os.IsNotExist(err) {
		t.Error("PID file left behind after failed start")
	}
}

func TestDaemon_Reload(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := writeConfig(t, tmpDir, "info")
	d, err := New(configPath, "", WithSource(capturetest.NewSource()))
	if err != nil {
		t.Fatalf("failed to create daemon: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("failed to start daemon: %v", err)
	}
	defer d.Stop()

	writeConfig(t, tmpDir, "warn")
	if err := d.Reload(); err != nil {
		t.Fatalf("Reload() error: %v", err)
	}
	if d.config.Log.Level != "warn" {
		t.Errorf("log level = %s, want warn", d.config.Log.Level)
	}

	if err := os.WriteFile(configPath, []byte("wirecat:\n  log:\n    level: loud\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := d.Reload(); err == nil {
		t.Error("Reload() accepted an invalid config")
	}
	if d.config.Log.Level != "warn" {
		t.Errorf("log level changed by failed reload: %s", d.config.Log.Level)
	}
}

func runAsync(d *Daemon) <-chan error {
	ch := make(chan error, 1)
	go func() { ch <- d.Run() }()
	return ch
}
