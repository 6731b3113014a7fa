// Package testutil builds wire frames for tests with gopacket's serializers,
// so decoders are checked against an independent encoder.
package testutil

import (
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var (
	SrcMAC = net.HardwareAddr{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}
	DstMAC = net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
)

// Serialize serializes layers with lengths and checksums fixed up.
func Serialize(ls ...gopacket.SerializableLayer) []byte {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func ethernet(t layers.EthernetType) *layers.Ethernet {
	return &layers.Ethernet{SrcMAC: SrcMAC, DstMAC: DstMAC, EthernetType: t}
}

// IPv4 returns an IPv4 layer with common defaults.
func IPv4(src, dst string, proto layers.IPProtocol) *layers.IPv4 {
	return &layers.IPv4{
		Version:  4,
		TTL:      64,
		Id:       0x1234,
		Protocol: proto,
		SrcIP:    net.ParseIP(src).To4(),
		DstIP:    net.ParseIP(dst).To4(),
	}
}

// TCPFrame builds Ethernet/IPv4/TCP with the given ports and payload.
func TCPFrame(src, dst string, sport, dport uint16, payload []byte) []byte {
	ip := IPv4(src, dst, layers.IPProtocolTCP)
	ip.Flags = layers.IPv4DontFragment
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(sport),
		DstPort: layers.TCPPort(dport),
		Seq:     1000,
		Ack:     2000,
		ACK:     true,
		PSH:     true,
		Window:  65535,
	}
	_ = tcp.SetNetworkLayerForChecksum(ip)
	return Serialize(ethernet(layers.EthernetTypeIPv4), ip, tcp, gopacket.Payload(payload))
}

// UDPFrame builds Ethernet/IPv4/UDP with the given ports and payload.
func UDPFrame(src, dst string, sport, dport uint16, payload []byte) []byte {
	ip := IPv4(src, dst, layers.IPProtocolUDP)
	udp := &layers.UDP{SrcPort: layers.UDPPort(sport), DstPort: layers.UDPPort(dport)}
	_ = udp.SetNetworkLayerForChecksum(ip)
	return Serialize(ethernet(layers.EthernetTypeIPv4), ip, udp, gopacket.Payload(payload))
}

// ICMPFrame builds an Ethernet/IPv4/ICMP echo request.
func ICMPFrame(src, dst string, id, seq uint16) []byte {
	ip := IPv4(src, dst, layers.IPProtocolICMPv4)
	icmp := &layers.ICMPv4{
		TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0),
		Id:       id,
		Seq:      seq,
	}
	return Serialize(ethernet(layers.EthernetTypeIPv4), ip, icmp, gopacket.Payload([]byte("ping")))
}

// IPv6UDPFrame builds Ethernet/IPv6/UDP.
func IPv6UDPFrame(src, dst string, sport, dport uint16, payload []byte) []byte {
	ip := &layers.IPv6{
		Version:    6,
		HopLimit:   64,
		NextHeader: layers.IPProtocolUDP,
		SrcIP:      net.ParseIP(src),
		DstIP:      net.ParseIP(dst),
	}
	udp := &layers.UDP{SrcPort: layers.UDPPort(sport), DstPort: layers.UDPPort(dport)}
	_ = udp.SetNetworkLayerForChecksum(ip)
	return Serialize(ethernet(layers.EthernetTypeIPv6), ip, udp, gopacket.Payload(payload))
}

// ARPFrame builds an Ethernet/ARP request.
func ARPFrame(senderIP, targetIP string) []byte {
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   SrcMAC,
		SourceProtAddress: net.ParseIP(senderIP).To4(),
		DstHwAddress:      net.HardwareAddr{0, 0, 0, 0, 0, 0},
		DstProtAddress:    net.ParseIP(targetIP).To4(),
	}
	return Serialize(ethernet(layers.EthernetTypeARP), arp)
}

// UnknownFrame builds an Ethernet frame with an ethertype nobody decodes (LLDP).
func UnknownFrame() []byte {
	return Serialize(ethernet(layers.EthernetTypeLinkLayerDiscovery), gopacket.Payload(make([]byte, 46)))
}

// IPv4Fragment builds one Ethernet/IPv4 fragment. offset is in bytes and must
// be a multiple of 8.
func IPv4Fragment(src, dst string, proto layers.IPProtocol, id uint16, offset int, more bool, payload []byte) []byte {
	ip := IPv4(src, dst, proto)
	ip.Id = id
	ip.FragOffset = uint16(offset / 8)
	if more {
		ip.Flags = layers.IPv4MoreFragments
	}
	return Serialize(ethernet(layers.EthernetTypeIPv4), ip, gopacket.Payload(payload))
}

// Pattern returns n bytes of a repeating, position-dependent pattern.
func Pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}
