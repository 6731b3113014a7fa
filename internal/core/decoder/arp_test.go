package decoder

import (
	"errors"
	"testing"

	"firestige.xyz/wirecat/internal/core"
)

func TestDecodeARP(t *testing.T) {
	data := []byte{
		0x00, 0x01, // Hardware type: Ethernet
		0x08, 0x00, // Protocol type: IPv4
		0x06,       // Hardware size
		0x04,       // Protocol size
		0x00, 0x02, // Opcode: reply
		0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF, // Sender MAC
		192, 168, 1, 1, // Sender IP
		0x00, 0x11, 0x22, 0x33, 0x44, 0x55, // Target MAC
		192, 168, 1, 2, // Target IP
	}

	arp, n, err := decodeARP(data, 0)
	if err != nil {
		t.Fatalf("decodeARP failed: %v", err)
	}
	if n != 28 {
		t.Errorf("Expected 28 bytes consumed, got %d", n)
	}
	if arp.HardwareType != 1 || arp.ProtocolType != 0x0800 || arp.Operation != 2 {
		t.Errorf("Unexpected hw type/proto type/op: %d/0x%04x/%d", arp.HardwareType, arp.ProtocolType, arp.Operation)
	}
	if arp.SenderAddr().String() != "192.168.1.1" || arp.TargetAddr().String() != "192.168.1.2" {
		t.Errorf("Unexpected addresses %v -> %v", arp.SenderAddr(), arp.TargetAddr())
	}
	if len(arp.SenderHW) != 6 || arp.SenderHW[0] != 0xAA {
		t.Errorf("Unexpected sender MAC %x", arp.SenderHW)
	}
}

func TestDecodeARPTruncated(t *testing.T) {
	data := []byte{0x00, 0x01, 0x08, 0x00, 0x06, 0x04, 0x00, 0x01, 0xAA, 0xBB}

	_, _, err := decodeARP(data, 0)
	if !errors.Is(err, core.ErrTruncatedHeader) {
		t.Errorf("Expected ErrTruncatedHeader, got %v", err)
	}
}
