// Package nats publishes packet summaries to a NATS subject as JSON.
package nats

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"firestige.xyz/wirecat/internal/core"
	"firestige.xyz/wirecat/internal/metrics"
	"firestige.xyz/wirecat/internal/sink"
)

const Name = "nats"

// ClearSuffix is appended to the subject for clear notifications.
const ClearSuffix = ".clear"

type publisher interface {
	Publish(subject string, data []byte) error
}

// Sink publishes a sink.Summary per accepted packet.
type Sink struct {
	nc      *nats.Conn
	pub     publisher
	subject string
}

// NewSink connects to the NATS server at url.
func NewSink(url, subject string) (*Sink, error) {
	nc, err := nats.Connect(url, nats.Name("wirecat"))
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	slog.Info("connected to NATS server", "url", url, "subject", subject)
	return &Sink{nc: nc, pub: nc, subject: subject}, nil
}

func (s *Sink) OnPacketAccepted(pkt *core.DecodedPacket) {
	data, err := json.Marshal(sink.Summarize(pkt))
	if err != nil {
		metrics.SinkErrorsTotal.WithLabelValues(Name).Inc()
		slog.Warn("nats sink: marshal failed", "seq", pkt.Seq, "error", err)
		return
	}
	if err := s.pub.Publish(s.subject, data); err != nil {
		metrics.SinkErrorsTotal.WithLabelValues(Name).Inc()
		slog.Warn("nats sink: publish failed", "seq", pkt.Seq, "error", err)
	}
}

func (s *Sink) OnClear() {
	if err := s.pub.Publish(s.subject+ClearSuffix, nil); err != nil {
		metrics.SinkErrorsTotal.WithLabelValues(Name).Inc()
		slog.Warn("nats sink: publish clear failed", "error", err)
	}
}

// Close drains and closes the NATS connection.
func (s *Sink) Close() error {
	if s.nc == nil {
		return nil
	}
	if err := s.nc.Drain(); err != nil {
		return fmt.Errorf("drain nats: %w", err)
	}
	slog.Info("NATS connection drained and closed")
	return nil
}
