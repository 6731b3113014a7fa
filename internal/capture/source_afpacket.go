//go:build linux

package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/gopacket/afpacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"golang.org/x/net/bpf"

	"firestige.xyz/wirecat/internal/core"
)

func init() {
	Register("afpacket", func() Source { return afpacketSource{} })
}

// afpacketSource captures through a TPACKET_V3 memory-mapped ring.
// Device enumeration still goes through libpcap.
type afpacketSource struct{}

func (afpacketSource) ListDevices() ([]Device, error) {
	return listPcapDevices()
}

func (afpacketSource) Open(device string, opts Options) (Handle, error) {
	ring, err := computeRing(opts.BufferSizeMB, opts.SnapLen, os.Getpagesize())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", core.ErrDeviceOpen, device, err)
	}

	tp, err := afpacket.NewTPacket(
		afpacket.OptInterface(device),
		afpacket.OptFrameSize(ring.frameSize),
		afpacket.OptBlockSize(ring.blockSize),
		afpacket.OptNumBlocks(ring.numBlocks),
		afpacket.OptPollTimeout(opts.Timeout),
		afpacket.SocketRaw,
		afpacket.TPacketVersion3,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", core.ErrDeviceOpen, device, err)
	}

	if opts.BPF != "" {
		if err := applyBPF(tp, opts.SnapLen, opts.BPF); err != nil {
			tp.Close()
			return nil, fmt.Errorf("%w: %s: %v", core.ErrDeviceOpen, device, err)
		}
		slog.Debug("BPF filter applied", "device", device, "filter", opts.BPF)
	}

	if err := tp.InitSocketStats(); err != nil {
		slog.Warn("failed to init socket stats", "device", device, "error", err)
	}

	slog.Info("afpacket capture opened", "device", device, "ring", ring.String(), "timeout", opts.Timeout)
	return &afpacketHandle{tp: tp}, nil
}

// applyBPF compiles expr with libpcap and installs it on the socket.
func applyBPF(tp *afpacket.TPacket, snapLen int, expr string) error {
	insns, err := pcap.CompileBPFFilter(layers.LinkTypeEthernet, snapLen, expr)
	if err != nil {
		return fmt.Errorf("compile BPF filter %q: %w", expr, err)
	}

	// pcap.BPFInstruction and bpf.RawInstruction share layout: Code->Op, Jt, Jf, K.
	raw := make([]bpf.RawInstruction, len(insns))
	for i, insn := range insns {
		raw[i] = bpf.RawInstruction{
			Op: insn.Code,
			Jt: insn.Jt,
			Jf: insn.Jf,
			K:  insn.K,
		}
	}

	if err := tp.SetBPF(raw); err != nil {
		return fmt.Errorf("set BPF: %w", err)
	}
	return nil
}

type afpacketHandle struct {
	tp *afpacket.TPacket
}

// PollNext reads the next frame without copying. The data is only valid until
// the next call; the dispatcher copies what it keeps.
func (h *afpacketHandle) PollNext() (core.RawFrame, error) {
	data, ci, err := h.tp.ZeroCopyReadPacketData()
	switch {
	case err == nil:
	case errors.Is(err, afpacket.ErrTimeout):
		return core.RawFrame{}, core.ErrPollTimeout
	default:
		return core.RawFrame{}, fmt.Errorf("afpacket read: %w", err)
	}

	return core.RawFrame{
		Data:       data,
		Timestamp:  ci.Timestamp,
		CaptureLen: uint32(ci.CaptureLength),
		OrigLen:    uint32(ci.Length),
	}, nil
}

func (h *afpacketHandle) Stats() (Stats, error) {
	_, v3, err := h.tp.SocketStats()
	if err != nil {
		return Stats{}, err
	}
	return Stats{Received: uint64(v3.Packets()), Dropped: uint64(v3.Drops())}, nil
}

// Close releases the ring. It must not run concurrently with PollNext; the
// loop closes the handle itself once it stops polling.
func (h *afpacketHandle) Close() error {
	h.tp.Close()
	return nil
}
