// Package decoder implements L2-L4 protocol stack decoding.
package decoder

import (
	"encoding/binary"
	"fmt"

	"firestige.xyz/wirecat/internal/core"
)

const (
	// Ethernet constants
	ethernetHeaderLen = 14
	vlanHeaderLen     = 4

	// EtherType values
	etherTypeIPv4 = 0x0800
	etherTypeARP  = 0x0806
	etherTypeIPv6 = 0x86DD
	etherTypeVLAN = 0x8100
	etherTypeQinQ = 0x88A8
)

// decodeEthernet decodes the Ethernet header at offset, walking VLAN tags.
// Returns the header and the number of bytes consumed.
func decodeEthernet(data []byte, offset int) (core.EthernetHeader, int, error) {
	if offset < 0 || len(data)-offset < ethernetHeaderLen {
		return core.EthernetHeader{}, 0, fmt.Errorf("ethernet: %w", core.ErrTruncatedHeader)
	}
	b := data[offset:]

	eth := core.EthernetHeader{}
	copy(eth.DstMAC[:], b[0:6])
	copy(eth.SrcMAC[:], b[6:12])

	etherType := binary.BigEndian.Uint16(b[12:14])
	n := ethernetHeaderLen

	// VLAN tags can be nested (QinQ)
	for etherType == etherTypeVLAN || etherType == etherTypeQinQ {
		if len(b) < n+vlanHeaderLen {
			return eth, 0, fmt.Errorf("ethernet vlan: %w", core.ErrTruncatedHeader)
		}
		// 2 bytes TCI + 2 bytes EtherType, VLAN ID is the lower 12 bits
		tci := binary.BigEndian.Uint16(b[n : n+2])
		eth.VLANs = append(eth.VLANs, tci&0x0FFF)
		etherType = binary.BigEndian.Uint16(b[n+2 : n+4])
		n += vlanHeaderLen
	}

	eth.EtherType = etherType
	eth.HeaderLen = n
	return eth, n, nil
}
