// Package core defines core types with zero external dependencies.
package core

import "net/netip"

// EthernetHeader represents L2 Ethernet frame header.
type EthernetHeader struct {
	DstMAC    [6]byte
	SrcMAC    [6]byte
	EtherType uint16   // 0x0800=IPv4, 0x86DD=IPv6, 0x0806=ARP
	VLANs     []uint16 // 0~2 VLAN IDs (QinQ scenarios have 2)
	HeaderLen int      // 14 plus 4 per VLAN tag
}

// NetworkHeader is one of *ARPHeader, *IPv4Header or *IPv6Header.
type NetworkHeader interface {
	networkKind() NetworkKind
}

// TransportHeader is one of *TCPHeader, *UDPHeader, *ICMPHeader or *IGMPHeader.
type TransportHeader interface {
	transportKind() TransportKind
}

// ARPHeader represents an ARP packet. Address fields keep the wire length
// announced by HardwareSize / ProtocolSize.
type ARPHeader struct {
	HardwareType uint16
	ProtocolType uint16
	HardwareSize uint8
	ProtocolSize uint8
	Operation    uint16 // 1=request, 2=reply
	SenderHW     []byte
	SenderProto  []byte
	TargetHW     []byte
	TargetProto  []byte
}

// SenderAddr returns the sender protocol address, invalid if it is not IPv4/IPv6 sized.
func (h *ARPHeader) SenderAddr() netip.Addr {
	addr, _ := netip.AddrFromSlice(h.SenderProto)
	return addr
}

// TargetAddr returns the target protocol address, invalid if it is not IPv4/IPv6 sized.
func (h *ARPHeader) TargetAddr() netip.Addr {
	addr, _ := netip.AddrFromSlice(h.TargetProto)
	return addr
}

func (*ARPHeader) networkKind() NetworkKind { return NetworkARP }

// IPv4 flag bits as they appear in the 3-bit flags field.
const (
	IPv4DontFragment  uint8 = 0x2
	IPv4MoreFragments uint8 = 0x1
)

// IPv4Header represents L3 IPv4 header.
type IPv4Header struct {
	Version     uint8
	HeaderLen   int // IHL * 4
	TOS         uint8
	TotalLength uint16
	ID          uint16
	Flags       uint8
	FragOffset  uint16 // in 8-byte units
	TTL         uint8
	Protocol    uint8
	Checksum    uint16
	SrcIP       netip.Addr
	DstIP       netip.Addr
	Options     []byte
}

// DontFragment reports whether the DF bit is set.
func (h *IPv4Header) DontFragment() bool { return h.Flags&IPv4DontFragment != 0 }

// MoreFragments reports whether the MF bit is set.
func (h *IPv4Header) MoreFragments() bool { return h.Flags&IPv4MoreFragments != 0 }

// FragmentByteOffset returns the fragment offset in bytes.
func (h *IPv4Header) FragmentByteOffset() int { return int(h.FragOffset) * 8 }

// IsFragment reports whether the datagram is one piece of a larger one.
func (h *IPv4Header) IsFragment() bool { return h.MoreFragments() || h.FragOffset != 0 }

func (*IPv4Header) networkKind() NetworkKind { return NetworkIPv4 }

// IPv6Header represents the fixed L3 IPv6 header.
type IPv6Header struct {
	Version       uint8
	TrafficClass  uint8
	FlowLabel     uint32
	PayloadLength uint16
	NextHeader    uint8
	HopLimit      uint8
	SrcIP         netip.Addr
	DstIP         netip.Addr
}

func (*IPv6Header) networkKind() NetworkKind { return NetworkIPv6 }

// TCP flag bits (byte 13 of the header).
const (
	TCPFlagFIN uint8 = 1 << iota
	TCPFlagSYN
	TCPFlagRST
	TCPFlagPSH
	TCPFlagACK
	TCPFlagURG
	TCPFlagECE
	TCPFlagCWR
)

// TCPHeader represents L4 TCP header.
type TCPHeader struct {
	SrcPort   uint16
	DstPort   uint16
	SeqNum    uint32
	AckNum    uint32
	HeaderLen int // data offset * 4
	Flags     uint8
	Window    uint16
	Checksum  uint16
	Urgent    uint16
	Options   []byte
}

func (*TCPHeader) transportKind() TransportKind { return TransportTCP }

// UDPHeader represents L4 UDP header.
type UDPHeader struct {
	SrcPort  uint16
	DstPort  uint16
	Length   uint16
	Checksum uint16
}

func (*UDPHeader) transportKind() TransportKind { return TransportUDP }

// ICMPHeader represents the fixed part of an ICMP message.
type ICMPHeader struct {
	Type     uint8
	Code     uint8
	Checksum uint16
	Rest     uint32 // identifier/sequence for echo, unused or pointer otherwise
}

// ID returns the echo identifier.
func (h *ICMPHeader) ID() uint16 { return uint16(h.Rest >> 16) }

// Seq returns the echo sequence number.
func (h *ICMPHeader) Seq() uint16 { return uint16(h.Rest) }

func (*ICMPHeader) transportKind() TransportKind { return TransportICMP }

// IGMPHeader represents an IGMPv1/v2 message (and the common prefix of v3 queries).
type IGMPHeader struct {
	Type         uint8
	MaxRespTime  uint8
	Checksum     uint16
	GroupAddress netip.Addr
}

func (*IGMPHeader) transportKind() TransportKind { return TransportIGMP }
