// Package daemon runs wirecat as a long-lived capture service.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"firestige.xyz/wirecat/internal/api"
	"firestige.xyz/wirecat/internal/capture"
	"firestige.xyz/wirecat/internal/config"
	logpkg "firestige.xyz/wirecat/internal/log"
	"firestige.xyz/wirecat/internal/metrics"
	"firestige.xyz/wirecat/internal/session"
	"firestige.xyz/wirecat/internal/sink"
	"firestige.xyz/wirecat/internal/sink/console"
	natssink "firestige.xyz/wirecat/internal/sink/nats"
)

// Daemon owns one capture session plus the servers that control and observe it.
type Daemon struct {
	config     *config.GlobalConfig
	configPath string
	pidFile    string
	source     capture.Source // nil selects config.Capture.Source

	session       *session.Session
	apiServer     *api.Server     // nil if api disabled
	metricsServer *metrics.Server // nil if metrics disabled
	natsSink      *natssink.Sink  // nil if nats sink disabled

	ctx          context.Context
	cancel       context.CancelFunc
	shutdownChan chan struct{}
	sigChan      chan os.Signal
	stopOnce     sync.Once
}

// Option customizes a Daemon.
type Option func(*Daemon)

// WithSource overrides the capture source named in the config.
func WithSource(src capture.Source) Option {
	return func(d *Daemon) { d.source = src }
}

// New loads the config at configPath and prepares a daemon.
func New(configPath, pidFile string, opts ...Option) (*Daemon, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	d := &Daemon{
		config:       cfg,
		configPath:   configPath,
		pidFile:      pidFile,
		shutdownChan: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d, nil
}

// Start brings up logging, metrics, the capture session and the control API.
func (d *Daemon) Start() error {
	if err := d.initLogging(); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	slog.Info("starting wirecat daemon", "config", d.configPath, "source", d.config.Capture.Source)

	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	if err := d.startMetrics(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	if err := d.openSession(); err != nil {
		d.Stop()
		return err
	}

	if d.config.API.Enabled {
		d.apiServer = api.NewServer(d.config.API.Listen, d.session)
		if err := d.apiServer.Start(d.ctx); err != nil {
			d.Stop()
			return fmt.Errorf("failed to start control API: %w", err)
		}
	}

	slog.Info("daemon started", "device", d.session.Device(), "state", d.session.State())
	return nil
}

func (d *Daemon) openSession() error {
	var sinks []sink.Sink
	if d.config.Sinks.Console.Enabled {
		sinks = append(sinks, console.NewSink(os.Stdout))
	}
	if nc := d.config.Sinks.NATS; nc.Enabled {
		s, err := natssink.NewSink(nc.URL, nc.Subject)
		if err != nil {
			// Non-fatal: capture still works without the feed
			slog.Error("nats sink disabled", "error", err)
		} else {
			d.natsSink = s
			sinks = append(sinks, s)
		}
	}

	s, err := session.Open(d.ctx, session.Options{
		Capture:    d.config.Capture,
		Reassembly: d.config.Reassembly,
		ExportDir:  d.config.Export.Dir,
		Source:     d.source,
		Sinks:      sinks,
	})
	if err != nil {
		return fmt.Errorf("failed to open capture session: %w", err)
	}
	d.session = s
	return nil
}

// Session returns the running capture session.
func (d *Daemon) Session() *session.Session { return d.session }

// APIAddr returns the control API address, or "" when the API is disabled.
func (d *Daemon) APIAddr() string {
	if d.apiServer == nil {
		return ""
	}
	return d.apiServer.Addr()
}

// Stop shuts every component down. Safe to call more than once.
func (d *Daemon) Stop() {
	d.stopOnce.Do(d.stop)
}

func (d *Daemon) stop() {
	slog.Info("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 1. No new API calls
	if d.apiServer != nil {
		if err := d.apiServer.Stop(shutdownCtx); err != nil {
			slog.Error("error stopping control API", "error", err)
		}
	}

	// 2. Stop capturing, which releases the device
	if d.session != nil {
		if err := d.session.Close(); err != nil {
			slog.Error("error closing capture session", "error", err)
		}
	}

	// 3. Flush the feed
	if d.natsSink != nil {
		if err := d.natsSink.Close(); err != nil {
			slog.Error("error closing nats sink", "error", err)
		}
	}

	if d.metricsServer != nil {
		if err := d.metricsServer.Stop(shutdownCtx); err != nil {
			slog.Error("error stopping metrics server", "error", err)
		}
	}

	d.cancel()

	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}

	if err := d.removePIDFile(); err != nil {
		slog.Error("error removing PID file", "error", err)
	}

	slog.Info("daemon stopped")
}

// Run blocks until shutdown. SIGTERM/SIGINT or TriggerShutdown stop the
// daemon, SIGHUP reloads the config, and a failed capture device stops the
// daemon and returns its error.
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	slog.Info("daemon running, waiting for signals")

	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				slog.Info("received shutdown signal", "signal", sig)
				d.Stop()
				return nil

			case syscall.SIGHUP:
				if err := d.Reload(); err != nil {
					slog.Error("failed to reload config", "error", err)
				}
			}

		case <-d.shutdownChan:
			slog.Info("shutdown triggered")
			d.Stop()
			return nil

		case <-d.session.Done():
			err := d.session.Err()
			d.Stop()
			return err

		case <-d.ctx.Done():
			d.Stop()
			return d.ctx.Err()
		}
	}
}

// Reload re-reads the config file. Logging is applied in place; capture,
// sink and listener settings need a restart and are only reported.
func (d *Daemon) Reload() error {
	slog.Info("reloading configuration", "path", d.configPath)

	newConfig, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("failed to load new config: %w", err)
	}

	old := d.config
	d.config = newConfig
	if err := d.initLogging(); err != nil {
		d.config = old
		return fmt.Errorf("failed to reinitialize logging: %w", err)
	}

	var requiresRestart []string
	if newConfig.Capture != old.Capture {
		requiresRestart = append(requiresRestart, "capture")
	}
	if newConfig.Reassembly != old.Reassembly {
		requiresRestart = append(requiresRestart, "reassembly")
	}
	if newConfig.Sinks != old.Sinks {
		requiresRestart = append(requiresRestart, "sinks")
	}
	if newConfig.API != old.API {
		requiresRestart = append(requiresRestart, "api")
	}
	if newConfig.Metrics != old.Metrics {
		requiresRestart = append(requiresRestart, "metrics")
	}

	slog.Info("configuration reloaded", "log_level", newConfig.Log.Level, "requires_restart", requiresRestart)
	return nil
}

// TriggerShutdown asks Run to stop the daemon.
func (d *Daemon) TriggerShutdown() {
	select {
	case d.shutdownChan <- struct{}{}:
	default:
	}
}

func (d *Daemon) initLogging() error {
	return logpkg.Init(d.config.Log)
}

func (d *Daemon) startMetrics() error {
	if !d.config.Metrics.Enabled {
		slog.Debug("metrics server disabled")
		return nil
	}

	d.metricsServer = metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path)
	return d.metricsServer.Start(d.ctx)
}

func (d *Daemon) writePIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	pid := os.Getpid()
	if err := os.WriteFile(d.pidFile, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", d.pidFile, err)
	}

	slog.Debug("PID file written", "path", d.pidFile, "pid", pid)
	return nil
}

func (d *Daemon) removePIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file %s: %w", d.pidFile, err)
	}
	return nil
}
