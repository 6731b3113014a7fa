package filter

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/wirecat/internal/core"
	"firestige.xyz/wirecat/internal/core/decoder"
	"firestige.xyz/wirecat/internal/testutil"
)

func TestCompile(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr error
	}{
		{"empty", "", nil},
		{"whitespace", "   ", nil},
		{"protocol and port", "-p tcp -dport 80", nil},
		{"all flags", "-p udp -s 10.0.0.1 -d 10.0.0.2 -sport 53 -dport 5353 -c abc", nil},
		{"quoted content", `-c "GET / HTTP"`, nil},
		{"empty value", `-p ""`, nil},
		{"repeated flag", "-p tcp -p udp", nil},
		{"help", "-h", core.ErrHelp},
		{"dangling flag", "-p", core.ErrSyntax},
		{"dangling after pair", "-p tcp -dport", core.ErrSyntax},
		{"unknown flag", "-x foo", core.ErrSyntax},
		{"bare value", "tcp", core.ErrSyntax},
		{"help combined", "-h -p tcp", core.ErrSyntax},
		{"non-numeric port", "-sport http", core.ErrSyntax},
		{"port out of range", "-dport 70000", core.ErrSyntax},
		{"negative port", "-dport -1", core.ErrSyntax},
		{"unterminated quote", `-c "abc`, core.ErrSyntax},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule, err := Compile(tt.text)
			if tt.wantErr == nil {
				require.NoError(t, err)
				assert.NotNil(t, rule)
				return
			}
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			assert.Nil(t, rule)
		})
	}
}

func TestCheck(t *testing.T) {
	assert.True(t, Check("-p tcp -dport 80"))
	assert.True(t, Check("-h"))
	assert.False(t, Check("-p"))
	assert.False(t, Check("-x foo"))
}

func TestHelp(t *testing.T) {
	for _, flag := range []string{"-h", "-p", "-s", "-d", "-sport", "-dport", "-c"} {
		assert.Contains(t, Help(), flag)
	}
}

func decode(t *testing.T, d *decoder.Dispatcher, frame []byte) *core.DecodedPacket {
	t.Helper()
	pkt, err := d.Decode(core.RawFrame{Data: frame, CaptureLen: uint32(len(frame))})
	require.NoError(t, err)
	return pkt
}

func TestMatches(t *testing.T) {
	d := decoder.NewDispatcher()
	tcp := decode(t, d, testutil.TCPFrame("192.168.1.10", "93.184.216.34", 51000, 80, []byte("GET /index.html")))
	udp := decode(t, d, testutil.UDPFrame("192.168.1.10", "8.8.8.8", 5353, 53, []byte("dns")))
	icmp := decode(t, d, testutil.ICMPFrame("192.168.1.10", "8.8.8.8", 1, 1))
	arp := decode(t, d, testutil.ARPFrame("192.168.1.10", "192.168.1.1"))
	v6 := decode(t, d, testutil.IPv6UDPFrame("2001:db8::1", "2001:db8::2", 1000, 2000, nil))

	tests := []struct {
		name string
		text string
		pkt  *core.DecodedPacket
		want bool
	}{
		{"empty rule tcp", "", tcp, true},
		{"empty rule arp", "", arp, true},
		{"protocol", "-p tcp", tcp, true},
		{"protocol case", "-p TCP", tcp, true},
		{"protocol mismatch", "-p udp", tcp, false},
		{"protocol icmp", "-p icmp", icmp, true},
		{"protocol arp", "-p arp", arp, true},
		{"protocol v6 udp", "-p udp", v6, true},
		{"source", "-s 192.168.1.10", tcp, true},
		{"source mismatch", "-s 192.168.1.11", tcp, false},
		{"destination", "-d 8.8.8.8", udp, true},
		{"destination v6", "-d 2001:db8::2", v6, true},
		{"arp source", "-s 192.168.1.10", arp, true},
		{"dport", "-p tcp -dport 80", tcp, true},
		{"dport mismatch", "-p tcp -dport 443", tcp, false},
		{"sport udp", "-sport 5353", udp, true},
		{"port without transport header", "-sport 0", icmp, false},
		{"port on arp", "-dport 0", arp, false},
		{"content", "-c GET", tcp, true},
		{"content hex column", `-c "47 45"`, tcp, true},
		{"content case sensitive", "-c get", tcp, false},
		{"empty protocol", `-p ""`, tcp, false},
		{"empty content", `-c ""`, tcp, false},
		{"empty port", `-dport ""`, tcp, false},
		{"last flag wins", "-p udp -p tcp", tcp, true},
		{"and semantics", "-p tcp -s 192.168.1.10 -d 8.8.8.8", tcp, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule, err := Compile(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.want, rule.Matches(tt.pkt))
		})
	}
}

// A UDP packet never matches a port constraint that only a TCP packet could
// satisfy, and an absent transport header is non-matching rather than an error.
func TestMatchesAbsentField(t *testing.T) {
	d := decoder.NewDispatcher()
	udp := decode(t, d, testutil.UDPFrame("10.0.0.1", "10.0.0.2", 5000, 6000, nil))
	frag := decode(t, d, testutil.IPv4Fragment("10.0.0.1", "10.0.0.2", 6, 9, 1400, false, testutil.Pattern(64)))

	rule, err := Compile("-p tcp -sport 5000")
	require.NoError(t, err)
	assert.False(t, rule.Matches(udp))

	rule, err = Compile("-sport 5000")
	require.NoError(t, err)
	assert.True(t, rule.Matches(udp))

	// Non-first fragment: protocol known, ports absent.
	rule, err = Compile("-p tcp")
	require.NoError(t, err)
	assert.True(t, rule.Matches(frag))

	rule, err = Compile("-p tcp -dport 0")
	require.NoError(t, err)
	assert.False(t, rule.Matches(frag))
}

func TestApply(t *testing.T) {
	d := decoder.NewDispatcher()
	snapshot := []*core.DecodedPacket{
		decode(t, d, testutil.TCPFrame("10.0.0.1", "10.0.0.2", 1, 80, nil)),
		decode(t, d, testutil.UDPFrame("10.0.0.1", "10.0.0.2", 1, 53, nil)),
		decode(t, d, testutil.TCPFrame("10.0.0.1", "10.0.0.2", 1, 443, nil)),
	}

	rule, err := Compile("-p tcp")
	require.NoError(t, err)
	got := Apply(rule, snapshot)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(1), got[0].Seq)
	assert.Equal(t, uint64(3), got[1].Seq)

	assert.Len(t, Apply(nil, snapshot), 3)
}

func TestRuleString(t *testing.T) {
	rule, err := Compile("-dport 80 -p tcp")
	require.NoError(t, err)
	assert.Equal(t, `-p "tcp" -dport "80"`, rule.String())
	assert.False(t, rule.Empty())

	empty, err := Compile("")
	require.NoError(t, err)
	assert.True(t, empty.Empty())
}
