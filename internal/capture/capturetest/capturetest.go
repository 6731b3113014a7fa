// Package capturetest provides an in-memory capture source for tests.
package capturetest

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"firestige.xyz/wirecat/internal/capture"
	"firestige.xyz/wirecat/internal/core"
)

// Source hands out a single Handle.
type Source struct {
	Devices []capture.Device
	Handle  *Handle
	OpenErr error

	mu     sync.Mutex
	opened []string
	opts   capture.Options
}

// NewSource returns a source with one device named "test0".
func NewSource() *Source {
	return &Source{
		Devices: []capture.Device{{Name: "test0", Description: "in-memory test device", IPv4: []string{"192.0.2.1/24"}}},
		Handle:  NewHandle(5 * time.Millisecond),
	}
}

func (s *Source) ListDevices() ([]capture.Device, error) {
	return s.Devices, nil
}

func (s *Source) Open(device string, opts capture.Options) (capture.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.OpenErr != nil {
		return nil, fmt.Errorf("%w: %s: %v", core.ErrDeviceOpen, device, s.OpenErr)
	}
	s.opened = append(s.opened, device)
	s.opts = opts
	return s.Handle, nil
}

// Opened returns the devices opened so far and the last options used.
func (s *Source) Opened() ([]string, capture.Options) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.opened...), s.opts
}

// Handle replays pushed frames. PollNext waits up to timeout for a frame.
type Handle struct {
	timeout time.Duration
	frames  chan core.RawFrame
	errs    chan error
	closed  chan struct{}
	once    sync.Once
	polls   atomic.Int64
}

// NewHandle creates a handle with the given poll timeout.
func NewHandle(timeout time.Duration) *Handle {
	return &Handle{
		timeout: timeout,
		frames:  make(chan core.RawFrame, 4096),
		errs:    make(chan error, 1),
		closed:  make(chan struct{}),
	}
}

// Push queues frames, timestamped now.
func (h *Handle) Push(frames ...[]byte) {
	for _, f := range frames {
		h.frames <- core.RawFrame{
			Data:       f,
			Timestamp:  time.Now(),
			CaptureLen: uint32(len(f)),
			OrigLen:    uint32(len(f)),
		}
	}
}

// Fail makes the next PollNext without a queued frame return err.
func (h *Handle) Fail(err error) {
	h.errs <- err
}

// Pending returns the number of queued frames.
func (h *Handle) Pending() int { return len(h.frames) }

// Polls returns how many times PollNext was called.
func (h *Handle) Polls() int64 { return h.polls.Load() }

// Closed reports whether Close was called.
func (h *Handle) Closed() bool {
	select {
	case <-h.closed:
		return true
	default:
		return false
	}
}

func (h *Handle) PollNext() (core.RawFrame, error) {
	h.polls.Add(1)
	if h.Closed() {
		return core.RawFrame{}, core.ErrCaptureClosed
	}
	select {
	case f := <-h.frames:
		return f, nil
	default:
	}

	t := time.NewTimer(h.timeout)
	defer t.Stop()
	select {
	case f := <-h.frames:
		return f, nil
	case err := <-h.errs:
		return core.RawFrame{}, err
	case <-h.closed:
		return core.RawFrame{}, core.ErrCaptureClosed
	case <-t.C:
		return core.RawFrame{}, core.ErrPollTimeout
	}
}

func (h *Handle) Stats() (capture.Stats, error) {
	return capture.Stats{Received: uint64(h.polls.Load())}, nil
}

func (h *Handle) Close() error {
	h.once.Do(func() { close(h.closed) })
	return nil
}
