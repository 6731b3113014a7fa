// Package sink defines the packet view interface and the per-packet summary
// that every view renders.
package sink

import (
	"fmt"
	"net"
	"strings"
	"time"

	"firestige.xyz/wirecat/internal/core"
)

// Sink receives every accepted packet in sequence order. Calls come from the
// capture loop goroutine and must not block for long.
type Sink interface {
	OnPacketAccepted(pkt *core.DecodedPacket)
	OnClear()
}

// Multi fans out to several sinks in order.
type Multi []Sink

func (m Multi) OnPacketAccepted(pkt *core.DecodedPacket) {
	for _, s := range m {
		s.OnPacketAccepted(pkt)
	}
}

func (m Multi) OnClear() {
	for _, s := range m {
		s.OnClear()
	}
}

// Func adapts a function to a Sink that ignores OnClear.
type Func func(pkt *core.DecodedPacket)

func (f Func) OnPacketAccepted(pkt *core.DecodedPacket) { f(pkt) }
func (f Func) OnClear()                                 {}

// Summary is the one-line view of a packet.
type Summary struct {
	No       uint64    `json:"no"`
	Time     time.Time `json:"time"`
	Source   string    `json:"source"`
	Dest     string    `json:"destination"`
	Protocol string    `json:"protocol"`
	Length   int       `json:"length"`
	Info     string    `json:"info"`
}

// Summarize builds the Summary of pkt.
func Summarize(pkt *core.DecodedPacket) Summary {
	return Summary{
		No:       pkt.Seq,
		Time:     pkt.Timestamp,
		Source:   pkt.SrcAddr(),
		Dest:     pkt.DstAddr(),
		Protocol: pkt.Protocol(),
		Length:   pkt.Length,
		Info:     Info(pkt),
	}
}

var tcpFlagNames = []struct {
	bit  uint8
	name string
}{
	{core.TCPFlagSYN, "SYN"},
	{core.TCPFlagFIN, "FIN"},
	{core.TCPFlagRST, "RST"},
	{core.TCPFlagPSH, "PSH"},
	{core.TCPFlagACK, "ACK"},
	{core.TCPFlagURG, "URG"},
	{core.TCPFlagECE, "ECE"},
	{core.TCPFlagCWR, "CWR"},
}

// Info renders the protocol-specific detail column.
func Info(pkt *core.DecodedPacket) string {
	var b strings.Builder

	switch h := pkt.Transport.(type) {
	case *core.TCPHeader:
		var flags []string
		for _, f := range tcpFlagNames {
			if h.Flags&f.bit != 0 {
				flags = append(flags, f.name)
			}
		}
		fmt.Fprintf(&b, "%d → %d [%s] Seq=%d Ack=%d Win=%d",
			h.SrcPort, h.DstPort, strings.Join(flags, ", "), h.SeqNum, h.AckNum, h.Window)
	case *core.UDPHeader:
		fmt.Fprintf(&b, "%d → %d Len=%d", h.SrcPort, h.DstPort, h.Length)
	case *core.ICMPHeader:
		fmt.Fprintf(&b, "%s id=%d seq=%d", icmpTypeName(pkt, h.Type), h.ID(), h.Seq())
	case *core.IGMPHeader:
		fmt.Fprintf(&b, "type=0x%02x group=%s", h.Type, h.GroupAddress)
	case nil:
		switch h := pkt.Network.(type) {
		case *core.ARPHeader:
			arpInfo(&b, h)
		case *core.IPv4Header:
			if h.IsFragment() {
				fmt.Fprintf(&b, "Fragmented IP protocol (proto=%d, off=%d, ID=%04x)", h.Protocol, h.FragmentByteOffset(), h.ID)
			} else {
				fmt.Fprintf(&b, "IP protocol %d", h.Protocol)
			}
		case *core.IPv6Header:
			fmt.Fprintf(&b, "Next header %d", h.NextHeader)
		}
	}

	if ip, ok := pkt.IPv4(); ok && ip.IsFragment() && pkt.Transport != nil {
		fmt.Fprintf(&b, " [fragment ID=%04x]", ip.ID)
	}
	return b.String()
}

func arpInfo(b *strings.Builder, h *core.ARPHeader) {
	switch h.Operation {
	case 1:
		fmt.Fprintf(b, "Who has %s? Tell %s", h.TargetAddr(), h.SenderAddr())
	case 2:
		fmt.Fprintf(b, "%s is at %s", h.SenderAddr(), net.HardwareAddr(h.SenderHW))
	default:
		fmt.Fprintf(b, "ARP opcode %d", h.Operation)
	}
}

func icmpTypeName(pkt *core.DecodedPacket, t uint8) string {
	if pkt.NetworkKind == core.NetworkIPv6 {
		switch t {
		case 128:
			return "Echo (ping) request"
		case 129:
			return "Echo (ping) reply"
		}
		return fmt.Sprintf("ICMPv6 type %d", t)
	}
	switch t {
	case 0:
		return "Echo (ping) reply"
	case 3:
		return "Destination unreachable"
	case 8:
		return "Echo (ping) request"
	case 11:
		return "Time exceeded"
	}
	return fmt.Sprintf("ICMP type %d", t)
}
