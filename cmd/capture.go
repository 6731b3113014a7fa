package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"

	"firestige.xyz/wirecat/internal/config"
	"firestige.xyz/wirecat/internal/core"
	"firestige.xyz/wirecat/internal/filter"
	logpkg "firestige.xyz/wirecat/internal/log"
	"firestige.xyz/wirecat/internal/session"
	"firestige.xyz/wirecat/internal/sink"
	"firestige.xyz/wirecat/internal/sink/console"
	natssink "firestige.xyz/wirecat/internal/sink/nats"
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture and list packets in the foreground",
	Long: `Open a capture device and print one line per accepted packet until
interrupted. Logs go to stderr so the listing on stdout stays clean.

The --filter expression only narrows what is printed; every accepted packet
is still numbered and kept, and --save writes all of them.

Examples:
  wirecat capture -i eth0
  wirecat capture -i eth0 -f '-p tcp -dport 443' -n 100
  wirecat capture -i eth0 -w /tmp/`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runCaptureCommand(); err != nil {
			exitWithError("capture failed", err)
		}
	},
}

var (
	captureDevice string
	captureSource string
	captureBPF    string
	captureFilter string
	captureCount  int64
	captureSave   string
)

func init() {
	captureCmd.Flags().StringVarP(&captureDevice, "device", "i", "",
		"device to capture on (default: first device found)")
	captureCmd.Flags().StringVar(&captureSource, "source", "",
		"capture source (pcap, afpacket)")
	captureCmd.Flags().StringVar(&captureBPF, "bpf", "",
		"kernel-side BPF pre-filter, e.g. 'udp port 53'")
	captureCmd.Flags().StringVarP(&captureFilter, "filter", "f", "",
		"display filter, e.g. '-p tcp -dport 80' ('-h' for help)")
	captureCmd.Flags().Int64VarP(&captureCount, "count", "n", 0,
		"exit after printing this many packets (0 = unlimited)")
	captureCmd.Flags().StringVarP(&captureSave, "save", "w", "",
		"save the capture log on exit (file path or directory)")
}

func runCaptureCommand() error {
	rule, err := filter.Compile(captureFilter)
	if errors.Is(err, core.ErrHelp) {
		fmt.Print(filter.Help())
		return nil
	}
	if err != nil {
		return err
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if captureDevice != "" {
		cfg.Capture.Device = captureDevice
	}
	if captureSource != "" {
		cfg.Capture.Source = captureSource
	}
	if captureBPF != "" {
		cfg.Capture.BPF = captureBPF
	}
	cfg.Capture.Autostart = true

	// Keep stdout for the packet listing.
	if cfg.Log.Outputs.Console.Stream == "stdout" {
		cfg.Log.Outputs.Console.Stream = "stderr"
	}
	if err := logpkg.Init(cfg.Log); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sinks := []sink.Sink{newCaptureView(console.NewSink(os.Stdout), rule, captureCount, cancel)}
	if nc := cfg.Sinks.NATS; nc.Enabled {
		s, err := natssink.NewSink(nc.URL, nc.Subject)
		if err != nil {
			return err
		}
		defer s.Close()
		sinks = append(sinks, s)
	}

	s, err := session.Open(ctx, session.Options{
		Capture:    cfg.Capture,
		Reassembly: cfg.Reassembly,
		ExportDir:  cfg.Export.Dir,
		Sinks:      sinks,
	})
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
	case <-s.Done():
	}
	s.Stop()

	if captureSave != "" {
		path, err := s.Save(captureSave)
		if err != nil {
			s.Close()
			return err
		}
		fmt.Fprintf(os.Stderr, "Saved %d packets to %s\n", s.PacketCount(), path)
	}

	err = s.Close()
	slog.Debug("capture finished", "packets", s.PacketCount())
	return err
}

// captureView prints packets matching rule and cancels once limit are shown.
type captureView struct {
	out    sink.Sink
	rule   *filter.Rule
	limit  int64
	shown  atomic.Int64
	cancel context.CancelFunc
}

func newCaptureView(out sink.Sink, rule *filter.Rule, limit int64, cancel context.CancelFunc) *captureView {
	return &captureView{out: out, rule: rule, limit: limit, cancel: cancel}
}

func (v *captureView) OnPacketAccepted(pkt *core.DecodedPacket) {
	if !v.rule.Matches(pkt) {
		return
	}
	n := v.shown.Add(1)
	if v.limit > 0 && n > v.limit {
		return
	}
	v.out.OnPacketAccepted(pkt)
	if v.limit > 0 && n == v.limit {
		v.cancel()
	}
}

func (v *captureView) OnClear() {
	v.shown.Store(0)
	v.out.OnClear()
}
