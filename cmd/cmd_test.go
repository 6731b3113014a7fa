package cmd

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/wirecat/internal/capture"
	"firestige.xyz/wirecat/internal/core"
	"firestige.xyz/wirecat/internal/filter"
	"firestige.xyz/wirecat/internal/sink"
)

func TestJoinFilterArgs(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{nil, ""},
		{[]string{"--", "-p", "tcp"}, "-p tcp"},
		{[]string{"-c", "47 45"}, `-c "47 45"`},
		{[]string{"-s", ""}, `-s ""`},
	}
	for _, tt := range tests {
		got := joinFilterArgs(tt.args)
		assert.Equal(t, tt.want, got)
		assert.True(t, filter.Check(got), got)
	}

	rule, err := filter.Compile(joinFilterArgs([]string{"-c", "47 45"}))
	require.NoError(t, err)
	assert.Equal(t, `-c "47 45"`, rule.String())
}

func TestRenderDevices(t *testing.T) {
	var buf bytes.Buffer
	renderDevices(&buf, []capture.Device{
		{Name: "eth0", Description: "uplink", IPv4: []string{"10.0.0.1/24"}, IPv6: []string{"fe80::1/64"}},
		{Name: "lo"},
	})
	out := buf.String()
	for _, want := range []string{"NAME", "eth0", "uplink", "10.0.0.1/24", "fe80::1/64", "lo"} {
		assert.Contains(t, out, want)
	}
}

func TestRenderPackets(t *testing.T) {
	var buf bytes.Buffer
	renderPackets(&buf, []byte(`{"count":1,"packets":[{"no":7,"source":"10.0.0.1","destination":"10.0.0.2","protocol":"UDP","length":42,"info":"1 → 2 Len=8"}]}`))
	out := buf.String()
	assert.Contains(t, out, "10.0.0.2")
	assert.Contains(t, out, "Len=8")
	assert.Contains(t, out, "7")

	buf.Reset()
	renderPackets(&buf, []byte(`{"help":"usage"}`))
	assert.Equal(t, "usage", buf.String())
}

type recordingSink struct {
	accepted []uint64
	cleared  int
}

func (r *recordingSink) OnPacketAccepted(pkt *core.DecodedPacket) { r.accepted = append(r.accepted, pkt.Seq) }
func (r *recordingSink) OnClear()                                 { r.cleared++ }

var _ sink.Sink = (*recordingSink)(nil)

func TestCaptureViewFilterAndLimit(t *testing.T) {
	rule, err := filter.Compile("-p arp")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := &recordingSink{}
	v := newCaptureView(out, rule, 2, cancel)

	arp := func(seq uint64) *core.DecodedPacket {
		return &core.DecodedPacket{Seq: seq, NetworkKind: core.NetworkARP, TransportKind: core.TransportNotApplicable}
	}
	v.OnPacketAccepted(arp(1))
	v.OnPacketAccepted(&core.DecodedPacket{Seq: 2, NetworkKind: core.NetworkIPv4, TransportKind: core.TransportUDP})
	assert.NoError(t, ctx.Err())
	v.OnPacketAccepted(arp(3))
	v.OnPacketAccepted(arp(4))

	assert.Equal(t, []uint64{1, 3}, out.accepted)
	assert.Error(t, ctx.Err())

	v.OnClear()
	assert.Equal(t, 1, out.cleared)
}
