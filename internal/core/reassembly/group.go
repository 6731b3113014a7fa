package reassembly

import (
	"bytes"
	"fmt"
	"net/netip"
	"sort"
	"sync"
	"time"

	"firestige.xyz/wirecat/internal/core"
)

// GroupKey identifies the fragments of one original IPv4 datagram.
type GroupKey struct {
	Src      netip.Addr
	Dst      netip.Addr
	ID       uint16
	Protocol uint8
}

func (k GroupKey) String() string {
	return fmt.Sprintf("%s>%s/id=%d/proto=%d", k.Src, k.Dst, k.ID, k.Protocol)
}

func keyOf(ip *core.IPv4Header) GroupKey {
	return GroupKey{Src: ip.SrcIP, Dst: ip.DstIP, ID: ip.ID, Protocol: ip.Protocol}
}

// fragment is one received fragment's payload and position.
type fragment struct {
	seq     uint64 // sequence number of the carrying packet
	offset  int    // in bytes (fragOffset * 8)
	payload []byte // captured payload bytes after the IP header
	more    bool   // MF flag
}

func (f *fragment) end() int { return f.offset + len(f.payload) }

// Gap is a missing byte range [Start, End) of the reassembled payload.
// End is -1 when the final fragment has not been seen yet.
type Gap struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// group is the working set of fragments sharing one GroupKey.
type group struct {
	mu           sync.Mutex
	key          GroupKey
	fragments    []*fragment      // ascending seq, later entries win on overlap
	seen         map[uint64]bool  // packet sequence numbers already inserted
	header       *core.IPv4Header // latest zero-offset fragment's header, else lowest seq
	headerSeq    uint64
	total        int // payload length, -1 until the final fragment arrives
	totalSeq     uint64
	hasFirst     bool
	inconsistent bool
	complete     bool
	lastTouched  time.Time
}

func newGroup(key GroupKey) *group {
	return &group{
		key:   key,
		seen:  make(map[uint64]bool),
		total: -1,
	}
}

// insert adds a fragment. Fragments are kept in capture order so the
// packet captured last wins every overlap, whichever packet the caller asked
// about and in whatever order fragments arrive here. Re-inserting the same
// packet, or a fragment with the same offset, length and content, leaves the
// group unchanged. A fragment with the same offset and length but different
// content replaces an earlier-captured one and marks the group inconsistent.
// Must be called with g.mu held.
func (g *group) insert(ip *core.IPv4Header, declaredLen int, frag *fragment) {
	if frag.seq != 0 {
		if g.seen[frag.seq] {
			return
		}
		g.seen[frag.seq] = true
	}

	first := frag.offset == 0
	switch {
	case g.header == nil,
		first && (!g.hasFirst || frag.seq > g.headerSeq),
		!first && !g.hasFirst && frag.seq < g.headerSeq:
		g.header, g.headerSeq = ip, frag.seq
	}
	if first {
		g.hasFirst = true
	}
	if !frag.more {
		// The declared length fixes the datagram size even if the capture cut the fragment short.
		end := frag.offset + declaredLen
		if g.total >= 0 && g.total != end {
			g.inconsistent = true
		}
		if g.total < 0 || frag.seq >= g.totalSeq {
			g.total, g.totalSeq = end, frag.seq
		}
	}

	for i, existing := range g.fragments {
		if existing.offset != frag.offset || len(existing.payload) != len(frag.payload) {
			continue
		}
		if bytes.Equal(existing.payload, frag.payload) && existing.more == frag.more {
			return
		}
		g.inconsistent = true
		if frag.seq > existing.seq {
			g.fragments = append(g.fragments[:i], g.fragments[i+1:]...)
			break
		}
		return
	}

	i := sort.Search(len(g.fragments), func(i int) bool { return g.fragments[i].seq > frag.seq })
	g.fragments = append(g.fragments, nil)
	copy(g.fragments[i+1:], g.fragments[i:])
	g.fragments[i] = frag
}

// gaps returns the uncovered ranges of [0, total). Must be called with g.mu held.
func (g *group) gaps() []Gap {
	sorted := make([]*fragment, len(g.fragments))
	copy(sorted, g.fragments)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].offset < sorted[j].offset })

	var gaps []Gap
	covered := 0
	for _, f := range sorted {
		if g.total >= 0 && covered >= g.total {
			break
		}
		if f.offset > covered {
			gaps = append(gaps, Gap{Start: covered, End: f.offset})
		}
		if f.end() > covered {
			covered = f.end()
		}
	}

	switch {
	case g.total < 0:
		gaps = append(gaps, Gap{Start: covered, End: -1})
	case covered < g.total:
		gaps = append(gaps, Gap{Start: covered, End: g.total})
	}
	return gaps
}

// isComplete reports whether both ends were seen and [0, total) has no gaps.
// Must be called with g.mu held.
func (g *group) isComplete() bool {
	return g.hasFirst && g.total >= 0 && len(g.gaps()) == 0
}

// build lays the fragments into one buffer in capture order. Bytes written
// by a later-captured fragment win; differing overlap marks the group
// inconsistent. Must be called with g.mu held.
func (g *group) build() []byte {
	out := make([]byte, g.total)
	written := make([]bool, g.total)

	for _, f := range g.fragments {
		for i, b := range f.payload {
			pos := f.offset + i
			if pos >= g.total {
				// Data past the final fragment's end.
				g.inconsistent = true
				break
			}
			if written[pos] && out[pos] != b {
				g.inconsistent = true
			}
			out[pos] = b
			written[pos] = true
		}
	}
	return out
}

func (g *group) missingBytes(gaps []Gap) int {
	missing := 0
	for _, gap := range gaps {
		if gap.End >= 0 {
			missing += gap.End - gap.Start
		}
	}
	return missing
}
