// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors. Callers match them with errors.Is; producers wrap them with
// the layer or operation that failed.
var (
	// Packet decoding errors
	ErrTruncatedHeader = errors.New("wirecat: truncated header")
	ErrUnknownNetwork  = errors.New("wirecat: unknown network protocol")

	// Capture errors
	ErrDeviceOpen    = errors.New("wirecat: device open failure")
	ErrPollTimeout   = errors.New("wirecat: poll timeout")
	ErrCaptureClosed = errors.New("wirecat: capture closed")

	// Filter errors
	ErrSyntax = errors.New("wirecat: filter syntax error")
	ErrHelp   = errors.New("wirecat: filter help requested")

	// IP reassembly outcomes
	ErrNotIPv4         = errors.New("wirecat: not an IPv4 packet")
	ErrNotFragmented   = errors.New("wirecat: not a fragmented packet")
	ErrIncompleteGroup = errors.New("wirecat: fragment group incomplete")
	ErrReassemblyLimit = errors.New("wirecat: fragment reassembly limit exceeded")

	// Store errors
	ErrPacketNotFound = errors.New("wirecat: packet not found")

	// Configuration errors
	ErrConfigInvalid = errors.New("wirecat: invalid configuration")

	// Export errors
	ErrExportPath = errors.New("wirecat: export path outside export directory")
)
