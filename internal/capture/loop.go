package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"firestige.xyz/wirecat/internal/core"
	"firestige.xyz/wirecat/internal/core/decoder"
	"firestige.xyz/wirecat/internal/metrics"
	"firestige.xyz/wirecat/internal/sink"
	"firestige.xyz/wirecat/internal/store"
)

// State is the capture control flag.
type State int32

const (
	StateInit  State = iota // opened, not yet started
	StateStart              // frames are decoded and stored
	StateStop               // paused, frames are read and discarded
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateStart:
		return "start"
	case StateStop:
		return "stop"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ParseState parses the String form of a State.
func ParseState(s string) (State, error) {
	switch s {
	case "init":
		return StateInit, nil
	case "start":
		return StateStart, nil
	case "stop":
		return StateStop, nil
	}
	return StateInit, fmt.Errorf("unknown capture state %q", s)
}

// Loop polls a handle and hands every frame received while started to the
// dispatcher, then to the store and sink. It is the store's only writer.
type Loop struct {
	device     string
	handle     Handle
	dispatcher *decoder.Dispatcher
	store      *store.Store
	sink       sink.Sink

	state atomic.Int32
	mu    sync.Mutex // held while a frame is published and during Clear
}

// NewLoop creates a loop in StateInit. The loop owns handle and closes it
// when Run returns.
func NewLoop(device string, handle Handle, d *decoder.Dispatcher, st *store.Store, s sink.Sink) *Loop {
	if s == nil {
		s = sink.Multi{}
	}
	return &Loop{
		device:     device,
		handle:     handle,
		dispatcher: d,
		store:      st,
		sink:       s,
	}
}

// State returns the current control flag.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// SetState changes the control flag and returns the previous one. The loop
// observes the change on its next poll.
func (l *Loop) SetState(s State) State {
	prev := State(l.state.Swap(int32(s)))
	metrics.CaptureState.Set(float64(s))
	if prev != s {
		slog.Info("capture state changed", "device", l.device, "from", prev, "to", s)
	}
	return prev
}

// Run polls until ctx is cancelled or the device fails. Per-frame decode
// failures are logged and skipped; a device read error ends Run with that
// error. Cancellation is observed between polls, so Run returns within one
// poll timeout.
func (l *Loop) Run(ctx context.Context) error {
	defer func() {
		if err := l.handle.Close(); err != nil {
			slog.Warn("capture handle close failed", "device", l.device, "error", err)
		}
		slog.Info("capture loop stopped", "device", l.device)
	}()

	slog.Info("capture loop started", "device", l.device, "state", l.State())
	frames := metrics.CaptureFramesTotal.WithLabelValues(l.device)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		frame, err := l.handle.PollNext()
		switch {
		case err == nil:
		case errors.Is(err, core.ErrPollTimeout):
			continue
		case errors.Is(err, core.ErrCaptureClosed):
			return nil
		default:
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("capture on %s: %w", l.device, err)
		}
		frames.Inc()

		if l.State() != StateStart {
			metrics.CaptureDropsTotal.WithLabelValues(metrics.DropNotCapturing).Inc()
			continue
		}
		l.process(frame)
	}
}

// Clear empties the store, restarts sequence numbering and notifies the
// sink. A frame being published concurrently either lands before the clear
// or is numbered from 1 after it.
func (l *Loop) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.store.Clear()
	l.dispatcher.Reset()
	l.sink.OnClear()
	slog.Info("capture cleared", "device", l.device)
}

// process decodes one frame and publishes the packet.
func (l *Loop) process(frame core.RawFrame) {
	l.mu.Lock()
	defer l.mu.Unlock()

	start := time.Now()
	pkt, err := l.dispatcher.Decode(frame)
	metrics.DecodeLatencySeconds.Observe(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, core.ErrUnknownNetwork) {
			metrics.CaptureDropsTotal.WithLabelValues(metrics.DropUnknownNetwork).Inc()
			slog.Debug("frame skipped", "device", l.device, "error", err)
			return
		}
		metrics.CaptureDropsTotal.WithLabelValues(metrics.DropDecodeError).Inc()
		slog.Warn("frame dropped", "device", l.device, "caplen", frame.CaptureLen, "error", err)
		return
	}

	l.store.Append(pkt)
	metrics.PacketsAcceptedTotal.WithLabelValues(pkt.NetworkKind.String()).Inc()
	l.sink.OnPacketAccepted(pkt)
}
