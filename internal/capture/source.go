// Package capture reads frames from a live device and feeds them through the
// dispatcher into the packet store.
package capture

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"firestige.xyz/wirecat/internal/core"
)

// Device describes a capturable network interface.
type Device struct {
	Name        string
	Description string
	IPv4        []string // address/prefix
	IPv6        []string
	Flags       uint32
}

// Options control how a device is opened.
type Options struct {
	SnapLen      int
	Timeout      time.Duration // bound on a single PollNext call
	Promiscuous  bool
	BufferSizeMB int    // ring size, afpacket only
	BPF          string // kernel-side pre-filter expression
}

// Stats are the handle's cumulative counters.
type Stats struct {
	Received uint64
	Dropped  uint64
}

// Source enumerates devices and opens capture handles on them.
type Source interface {
	ListDevices() ([]Device, error)
	Open(device string, opts Options) (Handle, error)
}

// Handle is an open capture on one device. PollNext returns
// core.ErrPollTimeout when no frame arrived within Options.Timeout and
// core.ErrCaptureClosed once the handle is closed. Frame data may be reused by
// the next PollNext call.
type Handle interface {
	PollNext() (core.RawFrame, error)
	Stats() (Stats, error)
	Close() error
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]func() Source)
)

// Register makes a source available under name. Sources register themselves
// from init.
func Register(name string, ctor func() Source) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = ctor
}

// NewSource returns the source registered under name.
func NewSource(name string) (Source, error) {
	registryMu.RLock()
	ctor, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown capture source %q (available: %v)", name, Sources())
	}
	return ctor(), nil
}

// Sources lists the registered source names.
func Sources() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
