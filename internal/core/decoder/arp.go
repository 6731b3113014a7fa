package decoder

import (
	"encoding/binary"
	"fmt"

	"firestige.xyz/wirecat/internal/core"
)

// arpFixedLen is the ARP header up to the variable length addresses.
const arpFixedLen = 8

// decodeARP decodes an ARP packet at offset. The address section length is
// taken from the hardware/protocol size fields (28 bytes for Ethernet/IPv4).
func decodeARP(data []byte, offset int) (*core.ARPHeader, int, error) {
	if offset < 0 || len(data)-offset < arpFixedLen {
		return nil, 0, fmt.Errorf("arp: %w", core.ErrTruncatedHeader)
	}
	b := data[offset:]

	h := &core.ARPHeader{
		HardwareType: binary.BigEndian.Uint16(b[0:2]),
		ProtocolType: binary.BigEndian.Uint16(b[2:4]),
		HardwareSize: b[4],
		ProtocolSize: b[5],
		Operation:    binary.BigEndian.Uint16(b[6:8]),
	}

	hl, pl := int(h.HardwareSize), int(h.ProtocolSize)
	total := arpFixedLen + 2*hl + 2*pl
	if len(b) < total {
		return nil, 0, fmt.Errorf("arp: %w", core.ErrTruncatedHeader)
	}

	pos := arpFixedLen
	h.SenderHW = cloneBytes(b[pos : pos+hl])
	pos += hl
	h.SenderProto = cloneBytes(b[pos : pos+pl])
	pos += pl
	h.TargetHW = cloneBytes(b[pos : pos+hl])
	pos += hl
	h.TargetProto = cloneBytes(b[pos : pos+pl])

	return h, total, nil
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
