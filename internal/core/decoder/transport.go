package decoder

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"firestige.xyz/wirecat/internal/core"
)

const (
	udpHeaderLen    = 8
	tcpHeaderMinLen = 20
	icmpHeaderLen   = 8
	igmpHeaderLen   = 8

	// Protocol numbers
	protocolICMP   = 1
	protocolIGMP   = 2
	protocolTCP    = 6
	protocolUDP    = 17
	protocolICMPv6 = 58
)

// decodeTransport decodes the transport header selected by protocol.
// Unsupported protocols yield TransportUnknown with a nil header.
func decodeTransport(data []byte, offset int, protocol uint8) (core.TransportKind, core.TransportHeader, error) {
	switch protocol {
	case protocolTCP:
		h, _, err := decodeTCP(data, offset)
		if err != nil {
			return core.TransportUnknown, nil, err
		}
		return core.TransportTCP, h, nil
	case protocolUDP:
		h, _, err := decodeUDP(data, offset)
		if err != nil {
			return core.TransportUnknown, nil, err
		}
		return core.TransportUDP, h, nil
	case protocolICMP, protocolICMPv6:
		h, _, err := decodeICMP(data, offset)
		if err != nil {
			return core.TransportUnknown, nil, err
		}
		return core.TransportICMP, h, nil
	case protocolIGMP:
		h, _, err := decodeIGMP(data, offset)
		if err != nil {
			return core.TransportUnknown, nil, err
		}
		return core.TransportIGMP, h, nil
	default:
		return core.TransportUnknown, nil, nil
	}
}

// decodeUDP decodes UDP header.
func decodeUDP(data []byte, offset int) (*core.UDPHeader, int, error) {
	if offset < 0 || len(data)-offset < udpHeaderLen {
		return nil, 0, fmt.Errorf("udp: %w", core.ErrTruncatedHeader)
	}
	b := data[offset:]

	return &core.UDPHeader{
		SrcPort:  binary.BigEndian.Uint16(b[0:2]),
		DstPort:  binary.BigEndian.Uint16(b[2:4]),
		Length:   binary.BigEndian.Uint16(b[4:6]), // includes header and data
		Checksum: binary.BigEndian.Uint16(b[6:8]),
	}, udpHeaderLen, nil
}

// decodeTCP decodes TCP header including options.
func decodeTCP(data []byte, offset int) (*core.TCPHeader, int, error) {
	if offset < 0 || len(data)-offset < tcpHeaderMinLen {
		return nil, 0, fmt.Errorf("tcp: %w", core.ErrTruncatedHeader)
	}
	b := data[offset:]

	// Data offset is in 32-bit words, upper 4 bits of byte 12
	headerLen := int(b[12]>>4) * 4
	if headerLen < tcpHeaderMinLen || len(b) < headerLen {
		return nil, 0, fmt.Errorf("tcp: data offset %d: %w", headerLen, core.ErrTruncatedHeader)
	}

	tcp := &core.TCPHeader{
		SrcPort:   binary.BigEndian.Uint16(b[0:2]),
		DstPort:   binary.BigEndian.Uint16(b[2:4]),
		SeqNum:    binary.BigEndian.Uint32(b[4:8]),
		AckNum:    binary.BigEndian.Uint32(b[8:12]),
		HeaderLen: headerLen,
		Flags:     b[13], // CWR ECE URG ACK PSH RST SYN FIN
		Window:    binary.BigEndian.Uint16(b[14:16]),
		Checksum:  binary.BigEndian.Uint16(b[16:18]),
		Urgent:    binary.BigEndian.Uint16(b[18:20]),
	}
	if headerLen > tcpHeaderMinLen {
		tcp.Options = cloneBytes(b[tcpHeaderMinLen:headerLen])
	}

	return tcp, headerLen, nil
}

// decodeICMP decodes the fixed 8-byte ICMP header (ICMPv4 and ICMPv6 share it).
func decodeICMP(data []byte, offset int) (*core.ICMPHeader, int, error) {
	if offset < 0 || len(data)-offset < icmpHeaderLen {
		return nil, 0, fmt.Errorf("icmp: %w", core.ErrTruncatedHeader)
	}
	b := data[offset:]

	return &core.ICMPHeader{
		Type:     b[0],
		Code:     b[1],
		Checksum: binary.BigEndian.Uint16(b[2:4]),
		Rest:     binary.BigEndian.Uint32(b[4:8]),
	}, icmpHeaderLen, nil
}

// decodeIGMP decodes the 8-byte IGMP header.
func decodeIGMP(data []byte, offset int) (*core.IGMPHeader, int, error) {
	if offset < 0 || len(data)-offset < igmpHeaderLen {
		return nil, 0, fmt.Errorf("igmp: %w", core.ErrTruncatedHeader)
	}
	b := data[offset:]

	return &core.IGMPHeader{
		Type:         b[0],
		MaxRespTime:  b[1],
		Checksum:     binary.BigEndian.Uint16(b[2:4]),
		GroupAddress: netip.AddrFrom4([4]byte(b[4:8])),
	}, igmpHeaderLen, nil
}
