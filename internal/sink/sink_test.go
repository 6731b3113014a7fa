package sink

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/wirecat/internal/core"
	"firestige.xyz/wirecat/internal/core/decoder"
	"firestige.xyz/wirecat/internal/testutil"
)

func decode(t *testing.T, frame []byte) *core.DecodedPacket {
	t.Helper()
	pkt, err := decoder.NewDispatcher().Decode(core.RawFrame{Data: frame, CaptureLen: uint32(len(frame))})
	require.NoError(t, err)
	return pkt
}

func TestInfo(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
		want  string
	}{
		{"tcp", testutil.TCPFrame("10.0.0.1", "10.0.0.2", 40000, 80, nil), "40000 → 80 [PSH, ACK] Seq=1000 Ack=2000 Win=65535"},
		{"udp", testutil.UDPFrame("10.0.0.1", "10.0.0.2", 5353, 53, []byte("abcd")), "5353 → 53 Len=12"},
		{"icmp", testutil.ICMPFrame("10.0.0.1", "10.0.0.2", 7, 3), "Echo (ping) request id=7 seq=3"},
		{"arp", testutil.ARPFrame("10.0.0.1", "10.0.0.254"), "Who has 10.0.0.254? Tell 10.0.0.1"},
		{"fragment", testutil.IPv4Fragment("10.0.0.1", "10.0.0.2", 17, 0x0abc, 1480, false, testutil.Pattern(16)),
			"Fragmented IP protocol (proto=17, off=1480, ID=0abc)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Info(decode(t, tt.frame)))
		})
	}
}

func TestSummarize(t *testing.T) {
	pkt := decode(t, testutil.UDPFrame("10.0.0.1", "10.0.0.2", 1, 2, nil))
	sum := Summarize(pkt)
	assert.Equal(t, uint64(1), sum.No)
	assert.Equal(t, "10.0.0.1", sum.Source)
	assert.Equal(t, "10.0.0.2", sum.Dest)
	assert.Equal(t, "UDP", sum.Protocol)
	assert.Equal(t, pkt.Length, sum.Length)
}

type recorder struct {
	accepted []uint64
	cleared  int
}

func (r *recorder) OnPacketAccepted(pkt *core.DecodedPacket) { r.accepted = append(r.accepted, pkt.Seq) }
func (r *recorder) OnClear()                                 { r.cleared++ }

func TestMulti(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	var seen []uint64
	m := Multi{a, b, Func(func(pkt *core.DecodedPacket) { seen = append(seen, pkt.Seq) })}

	m.OnPacketAccepted(&core.DecodedPacket{Seq: 1})
	m.OnPacketAccepted(&core.DecodedPacket{Seq: 2})
	m.OnClear()

	assert.Equal(t, []uint64{1, 2}, a.accepted)
	assert.Equal(t, []uint64{1, 2}, b.accepted)
	assert.Equal(t, []uint64{1, 2}, seen)
	assert.Equal(t, 1, a.cleared)
	assert.Equal(t, 1, b.cleared)
}
