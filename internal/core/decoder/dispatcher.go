package decoder

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"firestige.xyz/wirecat/internal/core"
)

// Decoder decodes raw frames into structured packets.
type Decoder interface {
	Decode(raw core.RawFrame) (*core.DecodedPacket, error)
}

// Dispatcher drives the header decoders layer by layer and numbers every
// frame whose network layer is resolved. The counter is shared by the whole
// capture session.
type Dispatcher struct {
	seq atomic.Uint64
}

// NewDispatcher creates a dispatcher whose first packet gets sequence number 1.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Decode decodes one frame. On success the packet owns a copy of the frame
// and carries the next sequence number. Frames with an unknown ethertype
// return core.ErrUnknownNetwork, frames shorter than a header they claim to
// contain return core.ErrTruncatedHeader; neither advances the counter.
func (d *Dispatcher) Decode(raw core.RawFrame) (*core.DecodedPacket, error) {
	data := raw.Data
	if raw.CaptureLen > 0 && int(raw.CaptureLen) < len(data) {
		data = data[:raw.CaptureLen]
	}

	eth, ethLen, err := decodeEthernet(data, 0)
	if err != nil {
		return nil, err
	}

	pkt := &core.DecodedPacket{
		Timestamp:     raw.Timestamp,
		Ethernet:      eth,
		TransportKind: core.TransportNotApplicable,
	}
	if pkt.Timestamp.IsZero() {
		pkt.Timestamp = time.Now()
	}

	switch eth.EtherType {
	case etherTypeIPv4:
		err = d.dispatchIPv4(data, ethLen, pkt)
	case etherTypeIPv6:
		err = d.dispatchIPv6(data, ethLen, pkt)
	case etherTypeARP:
		err = d.dispatchARP(data, ethLen, pkt)
	default:
		return nil, fmt.Errorf("ethertype 0x%04x: %w", eth.EtherType, core.ErrUnknownNetwork)
	}
	if err != nil {
		return nil, err
	}

	pkt.Raw = make([]byte, len(data))
	copy(pkt.Raw, data)
	pkt.Seq = d.seq.Add(1)
	return pkt, nil
}

// dispatchIPv4 decodes the IPv4 header and its transport header. The packet
// length is the Ethernet header plus the wire-declared total length, and the
// transport decoder only sees bytes inside that declared length.
func (d *Dispatcher) dispatchIPv4(data []byte, offset int, pkt *core.DecodedPacket) error {
	ip, ipLen, err := decodeIPv4(data, offset)
	if err != nil {
		return err
	}
	if int(ip.TotalLength) < ipLen {
		return fmt.Errorf("ipv4: total length %d shorter than header %d: %w",
			ip.TotalLength, ipLen, core.ErrTruncatedHeader)
	}

	pkt.NetworkKind = core.NetworkIPv4
	pkt.Network = ip
	pkt.Length = offset + int(ip.TotalLength)

	// Non-first fragments carry no transport header.
	if ip.FragOffset != 0 {
		pkt.TransportKind = transportKindOf(ip.Protocol)
		return nil
	}

	bounded := clamp(data, offset+int(ip.TotalLength))
	kind, th, err := decodeTransport(bounded, offset+ipLen, ip.Protocol)
	if errors.Is(err, core.ErrTruncatedHeader) && ip.MoreFragments() && len(bounded) == pkt.Length {
		// A fully captured first fragment may still split the transport
		// header. Keep it for reassembly without a decoded header.
		pkt.TransportKind = transportKindOf(ip.Protocol)
		return nil
	}
	pkt.TransportKind, pkt.Transport = kind, th
	return err
}

// dispatchIPv6 decodes the fixed IPv6 header and its transport header.
func (d *Dispatcher) dispatchIPv6(data []byte, offset int, pkt *core.DecodedPacket) error {
	ip, ipLen, err := decodeIPv6(data, offset)
	if err != nil {
		return err
	}

	pkt.NetworkKind = core.NetworkIPv6
	pkt.Network = ip
	pkt.Length = offset + ipLen + int(ip.PayloadLength)

	bounded := clamp(data, pkt.Length)
	pkt.TransportKind, pkt.Transport, err = decodeTransport(bounded, offset+ipLen, ip.NextHeader)
	return err
}

// dispatchARP decodes the ARP header; ARP has no transport layer.
func (d *Dispatcher) dispatchARP(data []byte, offset int, pkt *core.DecodedPacket) error {
	arp, arpLen, err := decodeARP(data, offset)
	if err != nil {
		return err
	}

	pkt.NetworkKind = core.NetworkARP
	pkt.Network = arp
	pkt.Length = offset + arpLen
	return nil
}

// Count returns the number of sequence numbers handed out so far.
func (d *Dispatcher) Count() uint64 {
	return d.seq.Load()
}

// Reset restarts numbering at 1. Used when the session is cleared.
func (d *Dispatcher) Reset() {
	d.seq.Store(0)
}

// clamp limits data to the declared end, never extending past the buffer.
func clamp(data []byte, end int) []byte {
	if end < len(data) {
		return data[:end]
	}
	return data
}

func transportKindOf(protocol uint8) core.TransportKind {
	switch protocol {
	case protocolTCP:
		return core.TransportTCP
	case protocolUDP:
		return core.TransportUDP
	case protocolICMP, protocolICMPv6:
		return core.TransportICMP
	case protocolIGMP:
		return core.TransportIGMP
	default:
		return core.TransportUnknown
	}
}
