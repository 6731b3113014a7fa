// Package reassembly rebuilds fragmented IPv4 datagrams from stored packets.
package reassembly

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"firestige.xyz/wirecat/internal/core"
	"firestige.xyz/wirecat/internal/metrics"
)

// Limits from RFC 791.
const (
	ipv4MaxSize       = 65535 // Maximum IPv4 datagram size
	ipv4MaxFragOffset = 8183  // Maximum valid fragment offset (in 8-byte units)
	ipv4HeaderLen     = 20
)

// Config contains configuration for IP reassembly.
type Config struct {
	Timeout      time.Duration // idle time before a group is evicted (default 30s)
	MaxGroups    int           // groups retained at once (default 1024)
	MaxFragments int           // fragments per group (default 8192)
}

// Status is the outcome of a reassembly attempt.
type Status int

const (
	StatusIncomplete Status = iota
	StatusComplete
)

func (s Status) String() string {
	if s == StatusComplete {
		return "complete"
	}
	return "incomplete"
}

// Result describes a fragment group after a reassembly attempt.
type Result struct {
	Status       Status
	Key          GroupKey
	Fragments    int
	TotalLength  int   // payload length, -1 while the final fragment is missing
	MissingBytes int   // bytes known to be missing inside [0, TotalLength)
	Gaps         []Gap // uncovered ranges
	Inconsistent bool  // overlapping fragments disagreed

	// Set when Status is StatusComplete.
	Header   core.IPv4Header // synthesized header of the whole datagram
	Payload  []byte
	Datagram []byte // Header on the wire followed by Payload
}

// Reassembler keeps fragment groups keyed by GroupKey. Groups live in a TTL
// cache so incomplete ones are dropped after Config.Timeout without access,
// and the oldest group is evicted when MaxGroups is reached.
type Reassembler struct {
	mu     sync.Mutex
	groups *cache.Cache
	config Config
}

// NewReassembler creates a new IP fragment reassembler.
func NewReassembler(cfg Config) *Reassembler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxGroups <= 0 {
		cfg.MaxGroups = 1024
	}
	if cfg.MaxFragments <= 0 {
		cfg.MaxFragments = 8192
	}

	c := cache.New(cfg.Timeout, cfg.Timeout/2)
	c.OnEvicted(func(key string, _ interface{}) {
		metrics.ReassemblyActiveGroups.Dec()
		slog.Debug("fragment group evicted", "group", key)
	})

	return &Reassembler{groups: c, config: cfg}
}

// Reassemble collects every stored fragment sharing pkt's group key and
// rebuilds the datagram if the group is whole. It returns core.ErrNotIPv4 for
// non-IPv4 packets and core.ErrNotFragmented when pkt was never fragmented.
// An incomplete group returns a Result describing what is missing together
// with core.ErrIncompleteGroup.
func (r *Reassembler) Reassemble(pkt *core.DecodedPacket, stored []*core.DecodedPacket) (*Result, error) {
	ip, ok := pkt.IPv4()
	if !ok {
		return nil, fmt.Errorf("packet %d is %s: %w", pkt.Seq, pkt.NetworkKind, core.ErrNotIPv4)
	}
	if ip.DontFragment() || !ip.IsFragment() {
		return nil, fmt.Errorf("packet %d: %w", pkt.Seq, core.ErrNotFragmented)
	}

	key := keyOf(ip)
	g := r.group(key)

	g.mu.Lock()
	defer g.mu.Unlock()

	limited := false
	add := func(p *core.DecodedPacket, pip *core.IPv4Header) {
		if len(g.fragments) >= r.config.MaxFragments && !g.seen[p.Seq] {
			limited = true
			return
		}
		frag, declared, err := extract(p, pip)
		if err != nil {
			slog.Debug("fragment skipped", "seq", p.Seq, "group", key, "error", err)
			return
		}
		frag.seq = p.Seq
		g.insert(pip, declared, frag)
	}

	add(pkt, ip)
	for _, p := range stored {
		if p == nil || p == pkt {
			continue
		}
		pip, ok := p.IPv4()
		if !ok || !pip.IsFragment() || keyOf(pip) != key {
			continue
		}
		add(p, pip)
	}
	g.lastTouched = time.Now()

	res := &Result{
		Key:         key,
		Fragments:   len(g.fragments),
		TotalLength: g.total,
	}

	if !g.isComplete() {
		res.Gaps = g.gaps()
		res.MissingBytes = g.missingBytes(res.Gaps)
		res.Inconsistent = g.inconsistent
		metrics.ReassemblyResultsTotal.WithLabelValues("incomplete").Inc()
		if limited {
			return res, fmt.Errorf("group %s holds %d fragments: %w", key, len(g.fragments), core.ErrReassemblyLimit)
		}
		return res, fmt.Errorf("group %s missing %d bytes: %w", key, res.MissingBytes, core.ErrIncompleteGroup)
	}

	if g.total > ipv4MaxSize-ipv4HeaderLen {
		return res, fmt.Errorf("reassembled size %d exceeds IPv4 maximum: %w", g.total, core.ErrReassemblyLimit)
	}

	res.Status = StatusComplete
	res.Payload = g.build()
	res.Inconsistent = g.inconsistent
	res.Header, res.Datagram = synthesize(g.header, res.Payload)
	if !g.complete {
		g.complete = true
		slog.Info("datagram reassembled", "group", key, "fragments", len(g.fragments), "bytes", g.total)
	}
	metrics.ReassemblyResultsTotal.WithLabelValues("complete").Inc()
	return res, nil
}

// group returns the group for key, creating it and evicting the least
// recently used group if the cache is full. Every call refreshes the TTL.
func (r *Reassembler) group(key GroupKey) *group {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key.String()
	if v, ok := r.groups.Get(k); ok {
		g := v.(*group)
		r.groups.SetDefault(k, g)
		return g
	}

	if r.groups.ItemCount() >= r.config.MaxGroups {
		r.evictOldest()
	}

	g := newGroup(key)
	r.groups.SetDefault(k, g)
	metrics.ReassemblyActiveGroups.Inc()
	return g
}

// evictOldest deletes the group closest to expiry. Must be called with r.mu held.
func (r *Reassembler) evictOldest() {
	var (
		oldestKey string
		oldestExp int64
	)
	for k, item := range r.groups.Items() {
		if oldestKey == "" || item.Expiration < oldestExp {
			oldestKey, oldestExp = k, item.Expiration
		}
	}
	if oldestKey != "" {
		r.groups.Delete(oldestKey)
	}
}

// GroupInfo summarizes one retained fragment group.
type GroupInfo struct {
	Key          GroupKey
	Fragments    int
	TotalLength  int
	Complete     bool
	Inconsistent bool
	LastTouched  time.Time
}

// Groups returns a summary of every retained group.
func (r *Reassembler) Groups() []GroupInfo {
	items := r.groups.Items()
	out := make([]GroupInfo, 0, len(items))
	for _, item := range items {
		g := item.Object.(*group)
		g.mu.Lock()
		out = append(out, GroupInfo{
			Key:          g.key,
			Fragments:    len(g.fragments),
			TotalLength:  g.total,
			Complete:     g.complete,
			Inconsistent: g.inconsistent,
			LastTouched:  g.lastTouched,
		})
		g.mu.Unlock()
	}
	return out
}

// Reset drops every group.
func (r *Reassembler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	// Flush does not run the eviction callback.
	metrics.ReassemblyActiveGroups.Sub(float64(r.groups.ItemCount()))
	r.groups.Flush()
}

// extract returns the fragment carried by p and its declared payload length.
// The payload is bounded by both the declared total length and the captured bytes.
func extract(p *core.DecodedPacket, ip *core.IPv4Header) (*fragment, int, error) {
	declared := int(ip.TotalLength) - ip.HeaderLen
	if declared < 1 {
		return nil, 0, fmt.Errorf("fragment payload length %d", declared)
	}
	if ip.FragOffset > ipv4MaxFragOffset {
		return nil, 0, fmt.Errorf("fragment offset too large: %d", ip.FragOffset)
	}
	if end := ip.FragmentByteOffset() + declared; end > ipv4MaxSize {
		return nil, 0, fmt.Errorf("fragment would exceed max IP size: end=%d", end)
	}

	start := p.Ethernet.HeaderLen + ip.HeaderLen
	end := p.Ethernet.HeaderLen + int(ip.TotalLength)
	if end > len(p.Raw) {
		end = len(p.Raw)
	}
	if start > end {
		start = end
	}

	return &fragment{
		offset:  ip.FragmentByteOffset(),
		payload: p.Raw[start:end],
		more:    ip.MoreFragments(),
	}, declared, nil
}

// synthesize builds a 20-byte IPv4 header for the whole datagram: original
// addresses, identification and protocol, fragmentation fields cleared, total
// length and checksum recomputed.
func synthesize(orig *core.IPv4Header, payload []byte) (core.IPv4Header, []byte) {
	h := core.IPv4Header{
		Version:     4,
		HeaderLen:   ipv4HeaderLen,
		TOS:         orig.TOS,
		TotalLength: uint16(ipv4HeaderLen + len(payload)),
		ID:          orig.ID,
		TTL:         orig.TTL,
		Protocol:    orig.Protocol,
		SrcIP:       orig.SrcIP,
		DstIP:       orig.DstIP,
	}

	out := make([]byte, ipv4HeaderLen+len(payload))
	out[0] = 0x45
	out[1] = h.TOS
	binary.BigEndian.PutUint16(out[2:4], h.TotalLength)
	binary.BigEndian.PutUint16(out[4:6], h.ID)
	out[8] = h.TTL
	out[9] = h.Protocol
	src, dst := h.SrcIP.As4(), h.DstIP.As4()
	copy(out[12:16], src[:])
	copy(out[16:20], dst[:])
	h.Checksum = checksum(out[:ipv4HeaderLen])
	binary.BigEndian.PutUint16(out[10:12], h.Checksum)
	copy(out[ipv4HeaderLen:], payload)

	return h, out
}

// checksum computes the Internet checksum (RFC 1071).
func checksum(b []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(b); i += 2 {
		sum += uint32(b[i])<<8 | uint32(b[i+1])
	}
	if len(b)%2 == 1 {
		sum += uint32(b[len(b)-1]) << 8
	}
	for sum > 0xFFFF {
		sum = (sum >> 16) + (sum & 0xFFFF)
	}
	return ^uint16(sum)
}
