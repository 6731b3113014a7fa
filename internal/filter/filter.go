// Package filter compiles and evaluates the packet filter language:
//
//	-p <proto> -s <addr> -d <addr> -sport <port> -dport <port> -c <substring>
//
// Flags are optional, order-independent and ANDed together. A rule with no
// flags matches every packet. "-h" on its own asks for the usage text.
package filter

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mattn/go-shellwords"

	"firestige.xyz/wirecat/internal/core"
	"firestige.xyz/wirecat/internal/export"
)

const helpText = `<-options>	<filter rule>
-h	help
-p	protocol
-s	source IP address
-d	destination IP address
-sport	source port
-dport	destination port
-c	packet content
`

// Help returns the usage text of the filter language.
func Help() string {
	return helpText
}

type field int

const (
	fieldProtocol field = iota
	fieldSource
	fieldDestination
	fieldSrcPort
	fieldDstPort
	fieldContent
	numFields
)

var flags = map[string]field{
	"-p":     fieldProtocol,
	"-s":     fieldSource,
	"-d":     fieldDestination,
	"-sport": fieldSrcPort,
	"-dport": fieldDstPort,
	"-c":     fieldContent,
}

var flagNames = [numFields]string{"-p", "-s", "-d", "-sport", "-dport", "-c"}

// constraint is one optional field of a rule.
type constraint struct {
	set   bool
	value string
	port  uint16 // parsed value for port fields
}

// Rule is a compiled filter expression. The zero Rule matches everything.
type Rule struct {
	fields [numFields]constraint
}

// Compile parses text into a Rule. It returns an error wrapping
// core.ErrSyntax for malformed input and core.ErrHelp when text is "-h".
func Compile(text string) (*Rule, error) {
	tokens, err := shellwords.Parse(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrSyntax, err)
	}

	if len(tokens) == 1 && tokens[0] == "-h" {
		return nil, core.ErrHelp
	}

	rule := &Rule{}
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		f, ok := flags[tok]
		if !ok {
			if strings.HasPrefix(tok, "-") {
				return nil, fmt.Errorf("%w: unknown flag %q", core.ErrSyntax, tok)
			}
			return nil, fmt.Errorf("%w: value %q without a flag", core.ErrSyntax, tok)
		}
		if i+1 >= len(tokens) {
			return nil, fmt.Errorf("%w: flag %s needs a value", core.ErrSyntax, tok)
		}
		i++
		value := tokens[i]

		c := constraint{set: true, value: value}
		if (f == fieldSrcPort || f == fieldDstPort) && value != "" {
			port, err := strconv.ParseUint(value, 10, 16)
			if err != nil {
				return nil, fmt.Errorf("%w: bad port %q for %s", core.ErrSyntax, value, tok)
			}
			c.port = uint16(port)
		}
		// Repeated flags: the last one wins.
		rule.fields[f] = c
	}
	return rule, nil
}

// Check reports whether text is a valid filter expression, including "-h".
func Check(text string) bool {
	_, err := Compile(text)
	return err == nil || errors.Is(err, core.ErrHelp)
}

// Empty reports whether the rule has no constraints.
func (r *Rule) Empty() bool {
	for _, c := range r.fields {
		if c.set {
			return false
		}
	}
	return true
}

// Matches reports whether pkt satisfies every constraint of the rule.
func (r *Rule) Matches(pkt *core.DecodedPacket) bool {
	for f := field(0); f < numFields; f++ {
		c := r.fields[f]
		if !c.set {
			continue
		}
		// An empty value matches nothing.
		if c.value == "" || !c.matches(f, pkt) {
			return false
		}
	}
	return true
}

func (c constraint) matches(f field, pkt *core.DecodedPacket) bool {
	switch f {
	case fieldProtocol:
		return strings.EqualFold(c.value, pkt.Protocol())
	case fieldSource:
		return pkt.SrcAddr() == c.value
	case fieldDestination:
		return pkt.DstAddr() == c.value
	case fieldSrcPort:
		sport, _, ok := pkt.Ports()
		return ok && sport == c.port
	case fieldDstPort:
		_, dport, ok := pkt.Ports()
		return ok && dport == c.port
	case fieldContent:
		return strings.Contains(export.Dump(pkt.Raw), c.value)
	}
	return false
}

// String renders the rule back into filter syntax.
func (r *Rule) String() string {
	var parts []string
	for f := field(0); f < numFields; f++ {
		c := r.fields[f]
		if !c.set {
			continue
		}
		parts = append(parts, flagNames[f], strconv.Quote(c.value))
	}
	return strings.Join(parts, " ")
}

// Apply returns the packets of snapshot matched by rule, in order. A nil rule
// matches everything.
func Apply(rule *Rule, snapshot []*core.DecodedPacket) []*core.DecodedPacket {
	out := make([]*core.DecodedPacket, 0, len(snapshot))
	for _, pkt := range snapshot {
		if rule == nil || rule.Matches(pkt) {
			out = append(out, pkt)
		}
	}
	return out
}
