// Package session owns one live capture: the open handle, the dispatcher,
// the packet store, the reassembler and the view sinks. The CLI and the
// control API drive captures only through a Session.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"

	"firestige.xyz/wirecat/internal/capture"
	"firestige.xyz/wirecat/internal/config"
	"firestige.xyz/wirecat/internal/core"
	"firestige.xyz/wirecat/internal/core/decoder"
	"firestige.xyz/wirecat/internal/core/reassembly"
	"firestige.xyz/wirecat/internal/export"
	"firestige.xyz/wirecat/internal/filter"
	"firestige.xyz/wirecat/internal/sink"
	"firestige.xyz/wirecat/internal/store"
)

// Options configure Open.
type Options struct {
	Capture    config.CaptureConfig
	Reassembly config.ReassemblyConfig
	ExportDir  string

	// Source overrides the source named by Capture.Source.
	Source capture.Source
	Sinks  []sink.Sink
}

// Session is a running capture.
type Session struct {
	device      string
	exportDir   string
	store       *store.Store
	dispatcher  *decoder.Dispatcher
	reassembler *reassembly.Reassembler
	loop        *capture.Loop

	cancel    context.CancelFunc
	done      chan struct{}
	err       error // set before done is closed
	closeOnce sync.Once
	saveMu    sync.Mutex // serializes pause/restore around exports
}

// Open opens the capture device and starts the capture loop in the
// background. The loop starts in StateInit unless Capture.Autostart is set.
// Device failures are returned wrapping core.ErrDeviceOpen.
func Open(ctx context.Context, opts Options) (*Session, error) {
	src := opts.Source
	if src == nil {
		var err error
		if src, err = capture.NewSource(opts.Capture.Source); err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrDeviceOpen, err)
		}
	}

	device := opts.Capture.Device
	if device == "" {
		devices, err := src.ListDevices()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrDeviceOpen, err)
		}
		if len(devices) == 0 {
			return nil, fmt.Errorf("%w: no capture devices found", core.ErrDeviceOpen)
		}
		device = devices[0].Name
	}

	handle, err := src.Open(device, capture.Options{
		SnapLen:      opts.Capture.SnapLen,
		Timeout:      opts.Capture.PollTimeoutDuration(),
		Promiscuous:  opts.Capture.Promiscuous,
		BufferSizeMB: opts.Capture.BufferSizeMB,
		BPF:          opts.Capture.BPF,
	})
	if err != nil {
		if !errors.Is(err, core.ErrDeviceOpen) {
			err = fmt.Errorf("%w: %s: %v", core.ErrDeviceOpen, device, err)
		}
		return nil, err
	}

	s := &Session{
		device:     device,
		exportDir:  opts.ExportDir,
		store:      store.New(),
		dispatcher: decoder.NewDispatcher(),
		reassembler: reassembly.NewReassembler(reassembly.Config{
			Timeout:      opts.Reassembly.TimeoutDuration(),
			MaxGroups:    opts.Reassembly.MaxGroups,
			MaxFragments: opts.Reassembly.MaxFragments,
		}),
		done: make(chan struct{}),
	}
	s.loop = capture.NewLoop(device, handle, s.dispatcher, s.store, sink.Multi(opts.Sinks))
	if opts.Capture.Autostart {
		s.loop.SetState(capture.StateStart)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go func() {
		s.err = s.loop.Run(runCtx)
		if s.err != nil {
			slog.Error("capture session ended", "device", device, "error", s.err)
		}
		close(s.done)
	}()

	slog.Info("capture session opened", "device", device, "autostart", opts.Capture.Autostart)
	return s, nil
}

// Device returns the name of the captured device.
func (s *Session) Device() string { return s.device }

// Store returns the session's packet store.
func (s *Session) Store() *store.Store { return s.store }

// Reassembler returns the session's fragment reassembler.
func (s *Session) Reassembler() *reassembly.Reassembler { return s.reassembler }

// PacketCount returns the number of stored packets.
func (s *Session) PacketCount() int { return s.store.Len() }

// FragmentGroups summarizes the fragment groups retained by the reassembler.
func (s *Session) FragmentGroups() []reassembly.GroupInfo { return s.reassembler.Groups() }

// State returns the capture state.
func (s *Session) State() capture.State { return s.loop.State() }

// Start resumes decoding and storing frames.
func (s *Session) Start() { s.loop.SetState(capture.StateStart) }

// Stop pauses capture; frames are still read and discarded.
func (s *Session) Stop() { s.loop.SetState(capture.StateStop) }

// Clear drops all stored packets and fragment groups and restarts numbering.
func (s *Session) Clear() {
	s.loop.Clear()
	s.reassembler.Reset()
}

// Packets returns the stored packets matching the filter expression.
// An empty expression returns everything. Malformed expressions return an
// error wrapping core.ErrSyntax, "-h" returns core.ErrHelp.
func (s *Session) Packets(expr string) ([]*core.DecodedPacket, error) {
	rule, err := filter.Compile(expr)
	if err != nil {
		return nil, err
	}
	return filter.Apply(rule, s.store.Snapshot()), nil
}

// Packet returns the stored packet with sequence number seq.
func (s *Session) Packet(seq uint64) (*core.DecodedPacket, error) {
	return s.store.Get(seq)
}

// Reassemble rebuilds the datagram that the packet seq is a fragment of,
// using every packet stored so far.
func (s *Session) Reassemble(seq uint64) (*reassembly.Result, error) {
	pkt, err := s.store.Get(seq)
	if err != nil {
		return nil, err
	}
	return s.reassembler.Reassemble(pkt, s.store.Snapshot())
}

// Export writes the text export of every stored packet to w. Capture is
// paused while the snapshot is written and restored afterwards.
func (s *Session) Export(w io.Writer) error {
	defer s.pause()()
	return export.Write(w, s.store.Snapshot())
}

// Save writes the text export to path, or to a timestamped file in the
// export directory when path is empty. It returns the file written.
func (s *Session) Save(path string) (string, error) {
	if path == "" {
		path = s.exportDir
	}
	defer s.pause()()

	snapshot := s.store.Snapshot()
	written, err := export.SaveFile(path, snapshot)
	if err != nil {
		return "", err
	}
	slog.Info("capture saved", "path", written, "packets", len(snapshot))
	return written, nil
}

// SaveInExportDir is Save restricted to the export directory. name must be
// a relative path that stays inside it; empty picks a timestamped file.
func (s *Session) SaveInExportDir(name string) (string, error) {
	if name == "" {
		return s.Save("")
	}
	if !filepath.IsLocal(name) {
		return "", fmt.Errorf("%w: %q", core.ErrExportPath, name)
	}
	dir := s.exportDir
	if dir == "" {
		dir = "."
	}
	return s.Save(filepath.Join(dir, name))
}

// pause stops capture and returns a func restoring the previous state.
func (s *Session) pause() func() {
	s.saveMu.Lock()
	prev := s.loop.SetState(capture.StateStop)
	return func() {
		s.loop.SetState(prev)
		s.saveMu.Unlock()
	}
}

// Done is closed when the capture loop has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the error that ended the capture loop, once Done is closed.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Close stops the capture loop and waits for it to release the device.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
		slog.Info("capture session closed", "device", s.device, "packets", s.store.Len())
	})
	return s.Err()
}
