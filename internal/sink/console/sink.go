// Package console prints one summary line per packet.
package console

import (
	"fmt"
	"io"
	"sync"

	"firestige.xyz/wirecat/internal/core"
	"firestige.xyz/wirecat/internal/sink"
)

const (
	Name       = "console"
	timeLayout = "15:04:05.000000"
	lineFormat = "%-6v %-15v %-39v %-39v %-8v %-6v %v\n"
)

// Sink writes packet summaries to w.
type Sink struct {
	mu         sync.Mutex
	w          io.Writer
	wroteTitle bool
}

// NewSink creates a console sink writing to w.
func NewSink(w io.Writer) *Sink {
	return &Sink{w: w}
}

func (s *Sink) OnPacketAccepted(pkt *core.DecodedPacket) {
	sum := sink.Summarize(pkt)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.wroteTitle {
		fmt.Fprintf(s.w, lineFormat, "No.", "Time", "Source", "Destination", "Protocol", "Length", "Info")
		s.wroteTitle = true
	}
	fmt.Fprintf(s.w, lineFormat, sum.No, sum.Time.Format(timeLayout), sum.Source, sum.Dest, sum.Protocol, sum.Length, sum.Info)
}

func (s *Sink) OnClear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.w, "-- cleared --")
	s.wroteTitle = false
}
