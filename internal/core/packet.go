// Package core defines core data structures with zero external dependencies.
package core

import (
	"time"
)

// NetworkKind identifies the network-layer protocol of a frame.
type NetworkKind uint8

const (
	NetworkUnknown NetworkKind = iota
	NetworkIPv4
	NetworkIPv6
	NetworkARP
)

func (k NetworkKind) String() string {
	switch k {
	case NetworkIPv4:
		return "IPv4"
	case NetworkIPv6:
		return "IPv6"
	case NetworkARP:
		return "ARP"
	default:
		return "Unknown"
	}
}

// TransportKind identifies the transport-layer protocol of a packet.
type TransportKind uint8

const (
	TransportNotApplicable TransportKind = iota // ARP and unknown network
	TransportUnknown
	TransportTCP
	TransportUDP
	TransportICMP
	TransportIGMP
)

func (k TransportKind) String() string {
	switch k {
	case TransportTCP:
		return "TCP"
	case TransportUDP:
		return "UDP"
	case TransportICMP:
		return "ICMP"
	case TransportIGMP:
		return "IGMP"
	case TransportUnknown:
		return "Unknown"
	default:
		return "N/A"
	}
}

// RawFrame is a frame as handed over by the capture source. Data is only valid
// for the duration of one dispatch call.
type RawFrame struct {
	Data       []byte
	Timestamp  time.Time
	CaptureLen uint32 // Actual captured length
	OrigLen    uint32 // Original frame length on the wire
}

// DecodedPacket is the result of L2-L4 decoding of one frame. It is never
// mutated once appended to the packet store.
type DecodedPacket struct {
	Seq           uint64 // 1-based, assigned by the dispatcher
	Timestamp     time.Time
	Length        int // wire-declared length, see Dispatcher.Decode
	Ethernet      EthernetHeader
	NetworkKind   NetworkKind
	Network       NetworkHeader
	TransportKind TransportKind
	Transport     TransportHeader // nil unless NetworkKind is IPv4 or IPv6
	Raw           []byte          // owned copy of the captured frame
}

// IPv4 returns the IPv4 header if the packet carries one.
func (p *DecodedPacket) IPv4() (*IPv4Header, bool) {
	h, ok := p.Network.(*IPv4Header)
	return h, ok
}

// SrcAddr returns the network-layer source address in text form, or "".
func (p *DecodedPacket) SrcAddr() string {
	switch h := p.Network.(type) {
	case *IPv4Header:
		return h.SrcIP.String()
	case *IPv6Header:
		return h.SrcIP.String()
	case *ARPHeader:
		if a := h.SenderAddr(); a.IsValid() {
			return a.String()
		}
	}
	return ""
}

// DstAddr returns the network-layer destination address in text form, or "".
func (p *DecodedPacket) DstAddr() string {
	switch h := p.Network.(type) {
	case *IPv4Header:
		return h.DstIP.String()
	case *IPv6Header:
		return h.DstIP.String()
	case *ARPHeader:
		if a := h.TargetAddr(); a.IsValid() {
			return a.String()
		}
	}
	return ""
}

// Ports returns the transport ports. ok is false when the transport header
// has no port fields.
func (p *DecodedPacket) Ports() (src, dst uint16, ok bool) {
	switch h := p.Transport.(type) {
	case *TCPHeader:
		return h.SrcPort, h.DstPort, true
	case *UDPHeader:
		return h.SrcPort, h.DstPort, true
	}
	return 0, 0, false
}

// Protocol returns the most specific protocol name: the transport kind when
// one applies, otherwise the network kind.
func (p *DecodedPacket) Protocol() string {
	if p.TransportKind == TransportNotApplicable {
		return p.NetworkKind.String()
	}
	return p.TransportKind.String()
}
