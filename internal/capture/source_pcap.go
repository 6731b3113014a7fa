package capture

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/google/gopacket/pcap"

	"firestige.xyz/wirecat/internal/core"
)

func init() {
	Register("pcap", func() Source { return pcapSource{} })
}

// pcapSource captures through libpcap.
type pcapSource struct{}

func (pcapSource) ListDevices() ([]Device, error) {
	return listPcapDevices()
}

func (pcapSource) Open(device string, opts Options) (Handle, error) {
	h, err := pcap.OpenLive(device, int32(opts.SnapLen), opts.Promiscuous, opts.Timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", core.ErrDeviceOpen, device, err)
	}

	if opts.BPF != "" {
		if err := h.SetBPFFilter(opts.BPF); err != nil {
			h.Close()
			return nil, fmt.Errorf("%w: bpf %q: %v", core.ErrDeviceOpen, opts.BPF, err)
		}
		slog.Debug("BPF filter applied", "device", device, "filter", opts.BPF)
	}

	slog.Info("pcap capture opened", "device", device, "snap_len", opts.SnapLen, "timeout", opts.Timeout)
	return &pcapHandle{handle: h}, nil
}

type pcapHandle struct {
	handle *pcap.Handle
}

func (h *pcapHandle) PollNext() (core.RawFrame, error) {
	data, ci, err := h.handle.ReadPacketData()
	switch {
	case err == nil:
	case errors.Is(err, pcap.NextErrorTimeoutExpired):
		return core.RawFrame{}, core.ErrPollTimeout
	case errors.Is(err, io.EOF), errors.Is(err, pcap.NextErrorNoMorePackets):
		return core.RawFrame{}, core.ErrCaptureClosed
	default:
		return core.RawFrame{}, fmt.Errorf("pcap read: %w", err)
	}

	return core.RawFrame{
		Data:       data,
		Timestamp:  ci.Timestamp,
		CaptureLen: uint32(ci.CaptureLength),
		OrigLen:    uint32(ci.Length),
	}, nil
}

func (h *pcapHandle) Stats() (Stats, error) {
	s, err := h.handle.Stats()
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Received: uint64(s.PacketsReceived),
		Dropped:  uint64(s.PacketsDropped + s.PacketsIfDropped),
	}, nil
}

func (h *pcapHandle) Close() error {
	h.handle.Close()
	return nil
}

// listPcapDevices enumerates devices with libpcap.
func listPcapDevices() ([]Device, error) {
	ifs, err := pcap.FindAllDevs()
	if err != nil {
		return nil, fmt.Errorf("find devices: %w", err)
	}

	devices := make([]Device, 0, len(ifs))
	for _, dev := range ifs {
		d := Device{Name: dev.Name, Description: dev.Description, Flags: dev.Flags}
		for _, addr := range dev.Addresses {
			ones, _ := net.IPMask(addr.Netmask).Size()
			s := fmt.Sprintf("%s/%d", addr.IP, ones)
			if addr.IP.To4() != nil {
				d.IPv4 = append(d.IPv4, s)
			} else if addr.IP != nil {
				d.IPv6 = append(d.IPv6, s)
			}
		}
		devices = append(devices, d)
	}
	return devices, nil
}
