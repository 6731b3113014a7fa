package decoder

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"firestige.xyz/wirecat/internal/core"
)

const (
	ipv4HeaderMinLen = 20
	ipv6HeaderLen    = 40
)

// decodeIPv4 decodes an IPv4 header at offset. The header length comes from
// the IHL field and must be at least 20 bytes.
func decodeIPv4(data []byte, offset int) (*core.IPv4Header, int, error) {
	if offset < 0 || len(data)-offset < ipv4HeaderMinLen {
		return nil, 0, fmt.Errorf("ipv4: %w", core.ErrTruncatedHeader)
	}
	b := data[offset:]

	// IHL is in 32-bit words
	headerLen := int(b[0]&0x0F) * 4
	if headerLen < ipv4HeaderMinLen {
		return nil, 0, fmt.Errorf("ipv4: header length %d below minimum: %w", headerLen, core.ErrTruncatedHeader)
	}
	if len(b) < headerLen {
		return nil, 0, fmt.Errorf("ipv4: %w", core.ErrTruncatedHeader)
	}

	// Flags (3 bits) + Fragment Offset (13 bits) at offset 6
	flagsOffset := binary.BigEndian.Uint16(b[6:8])

	ip := &core.IPv4Header{
		Version:     b[0] >> 4,
		HeaderLen:   headerLen,
		TOS:         b[1],
		TotalLength: binary.BigEndian.Uint16(b[2:4]),
		ID:          binary.BigEndian.Uint16(b[4:6]),
		Flags:       uint8(flagsOffset >> 13),
		FragOffset:  flagsOffset & 0x1FFF,
		TTL:         b[8],
		Protocol:    b[9],
		Checksum:    binary.BigEndian.Uint16(b[10:12]),
		SrcIP:       netip.AddrFrom4([4]byte(b[12:16])),
		DstIP:       netip.AddrFrom4([4]byte(b[16:20])),
	}
	if headerLen > ipv4HeaderMinLen {
		ip.Options = cloneBytes(b[ipv4HeaderMinLen:headerLen])
	}

	return ip, headerLen, nil
}

// decodeIPv6 decodes the fixed 40-byte IPv6 header at offset. Extension
// headers are not walked; NextHeader is reported as found.
func decodeIPv6(data []byte, offset int) (*core.IPv6Header, int, error) {
	if offset < 0 || len(data)-offset < ipv6HeaderLen {
		return nil, 0, fmt.Errorf("ipv6: %w", core.ErrTruncatedHeader)
	}
	b := data[offset:]

	// Version (4) + Traffic Class (8) + Flow Label (20)
	vtf := binary.BigEndian.Uint32(b[0:4])

	ip := &core.IPv6Header{
		Version:       uint8(vtf >> 28),
		TrafficClass:  uint8(vtf >> 20),
		FlowLabel:     vtf & 0x000FFFFF,
		PayloadLength: binary.BigEndian.Uint16(b[4:6]),
		NextHeader:    b[6],
		HopLimit:      b[7],
		SrcIP:         netip.AddrFrom16([16]byte(b[8:24])),
		DstIP:         netip.AddrFrom16([16]byte(b[24:40])),
	}

	return ip, ipv6HeaderLen, nil
}
