package console

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/wirecat/internal/core"
	"firestige.xyz/wirecat/internal/core/decoder"
	"firestige.xyz/wirecat/internal/testutil"
)

func TestSinkLines(t *testing.T) {
	var buf bytes.Buffer
	s := NewSink(&buf)
	d := decoder.NewDispatcher()

	frame := testutil.TCPFrame("10.0.0.1", "10.0.0.2", 40000, 443, nil)
	pkt, err := d.Decode(core.RawFrame{Data: frame, CaptureLen: uint32(len(frame)), Timestamp: time.Now()})
	require.NoError(t, err)

	s.OnPacketAccepted(pkt)
	s.OnPacketAccepted(pkt)
	s.OnClear()
	s.OnPacketAccepted(pkt)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 6)
	assert.True(t, strings.HasPrefix(lines[0], "No."))
	assert.Contains(t, lines[1], "10.0.0.1")
	assert.Contains(t, lines[1], "TCP")
	assert.Contains(t, lines[1], "40000 → 443")
	assert.Equal(t, "-- cleared --", lines[3])
	assert.True(t, strings.HasPrefix(lines[4], "No."), "title is repeated after a clear")
}
