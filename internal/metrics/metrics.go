// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CaptureFramesTotal counts frames returned by the capture handle, per device
	CaptureFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wirecat_capture_frames_total",
			Help: "Total number of frames polled from the capture handle",
		},
		[]string{"device"},
	)

	// CaptureDropsTotal counts frames not accepted, by reason
	CaptureDropsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wirecat_capture_drops_total",
			Help: "Total number of frames dropped before reaching the store",
		},
		[]string{"reason"},
	)

	// PacketsAcceptedTotal counts decoded packets by network kind
	PacketsAcceptedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wirecat_packets_accepted_total",
			Help: "Total number of packets decoded and stored",
		},
		[]string{"network"},
	)

	// DecodeLatencySeconds measures the dispatcher decode time per frame
	DecodeLatencySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wirecat_decode_latency_seconds",
			Help:    "Latency of decoding one frame in seconds",
			Buckets: prometheus.ExponentialBuckets(0.000001, 2, 20), // 1µs to ~1s
		},
	)

	// CaptureState tracks the capture state flag (0=init, 1=start, 2=stop)
	CaptureState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wirecat_capture_state",
			Help: "Current capture state (0=init, 1=start, 2=stop)",
		},
	)

	// StorePackets tracks the number of packets held by the store
	StorePackets = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wirecat_store_packets",
			Help: "Number of packets currently held in the packet store",
		},
	)

	// ReassemblyActiveGroups tracks fragment groups retained for reassembly
	ReassemblyActiveGroups = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wirecat_reassembly_active_groups",
			Help: "Number of IPv4 fragment groups retained for reassembly",
		},
	)

	// ReassemblyResultsTotal counts reassembly attempts by result
	ReassemblyResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wirecat_reassembly_results_total",
			Help: "Total number of reassembly attempts by result",
		},
		[]string{"result"},
	)

	// SinkErrorsTotal counts view sink delivery errors
	SinkErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wirecat_sink_errors_total",
			Help: "Total number of view sink delivery errors",
		},
		[]string{"sink"},
	)
)

// Drop reasons for CaptureDropsTotal.
const (
	DropUnknownNetwork = "unknown_network"
	DropDecodeError    = "decode_error"
	DropNotCapturing   = "not_capturing"
)
