// Package store holds accepted packets for the lifetime of a session.
package store

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"firestige.xyz/wirecat/internal/core"
	"firestige.xyz/wirecat/internal/metrics"
)

// Store is an append-only sequence of decoded packets. The capture loop is the
// only writer; readers take snapshots without holding the lock while they
// iterate. Stored packets are never mutated.
type Store struct {
	mu      sync.Mutex
	packets []*core.DecodedPacket
	length  atomic.Int64 // published length
}

// New creates an empty store.
func New() *Store {
	return &Store{}
}

// Append adds pkt to the end of the store.
func (s *Store) Append(pkt *core.DecodedPacket) {
	s.mu.Lock()
	s.packets = append(s.packets, pkt)
	s.length.Store(int64(len(s.packets)))
	s.mu.Unlock()
	metrics.StorePackets.Inc()
}

// Len returns the number of published packets.
func (s *Store) Len() int {
	return int(s.length.Load())
}

// Snapshot returns the packets published so far. The returned slice shares
// elements with the store and must not be modified.
func (s *Store) Snapshot() []*core.DecodedPacket {
	n := s.length.Load()
	s.mu.Lock()
	packets := s.packets
	s.mu.Unlock()
	if int(n) > len(packets) {
		// Cleared between the two loads.
		n = int64(len(packets))
	}
	return packets[:n:n]
}

// Get returns the packet with sequence number seq.
func (s *Store) Get(seq uint64) (*core.DecodedPacket, error) {
	snap := s.Snapshot()
	i := sort.Search(len(snap), func(i int) bool { return snap[i].Seq >= seq })
	if i < len(snap) && snap[i].Seq == seq {
		return snap[i], nil
	}
	return nil, fmt.Errorf("packet %d: %w", seq, core.ErrPacketNotFound)
}

// Clear drops every packet. Snapshots taken earlier stay valid.
func (s *Store) Clear() {
	s.mu.Lock()
	s.packets = nil
	s.length.Store(0)
	s.mu.Unlock()
	metrics.StorePackets.Set(0)
}
