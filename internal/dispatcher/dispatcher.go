// Package dispatcher implements the inbound-stream dispatcher: it
// filters messages addressed to this agent, extracts the JSON routing
// metadata, decodes the probe payload, selects the target instance by
// source-IP prefix policy, and forwards the batch onto that instance's
// send queue with a non-blocking enqueue. Grounded on the teacher's
// flow-enricher Kafka consumer loop shape (poll, decode, route, commit).
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"

	"github.com/malbeclabs/saimiris/internal/bus"
	"github.com/malbeclabs/saimiris/internal/metrics"
	"github.com/malbeclabs/saimiris/internal/probe"
	"github.com/malbeclabs/saimiris/internal/sender"
)

// ProbeSource is the subset of bus.ProbeConsumer the dispatcher uses.
type ProbeSource interface {
	Poll(ctx context.Context) ([]bus.InboundMessage, error)
	CommitOffsets(ctx context.Context) error
}

// Instance is the dispatcher's view of one configured caracat instance:
// its routing prefixes and its send queue.
type Instance struct {
	ID         uint16
	IPv4Prefix *net.IPNet
	IPv6Prefix *net.IPNet
	Queue      chan<- sender.Job
}

// HasPrefixes reports whether this instance is prefix-scoped (as
// opposed to the configuration's default, catch-all instance).
func (inst Instance) HasPrefixes() bool {
	return inst.IPv4Prefix != nil || inst.IPv6Prefix != nil
}

func (inst Instance) contains(ip net.IP) bool {
	if inst.IPv4Prefix != nil && inst.IPv4Prefix.Contains(ip) {
		return true
	}
	if inst.IPv6Prefix != nil && inst.IPv6Prefix.Contains(ip) {
		return true
	}
	return false
}

type metadata struct {
	SrcIP            *string `json:"src_ip,omitempty"`
	MeasurementID    *string `json:"measurement_id,omitempty"`
	EndOfMeasurement *bool   `json:"end_of_measurement,omitempty"`
}

// Dispatcher consumes the inbound probe stream and routes each message.
type Dispatcher struct {
	agentID   string
	instances []Instance
	source    ProbeSource
	logger    *slog.Logger

	stats   Statistics
	metrics *metrics.Dispatcher
}

type Option func(*Dispatcher)

func WithLogger(logger *slog.Logger) Option { return func(d *Dispatcher) { d.logger = logger } }

// WithMetrics exposes the dispatcher's routing outcomes as Prometheus
// metrics in addition to the in-process Statistics snapshot.
func WithMetrics(m *metrics.Dispatcher) Option { return func(d *Dispatcher) { d.metrics = m } }

// New builds a Dispatcher. instances is in configuration order, which
// determines prefix-match and default-instance precedence.
func New(agentID string, instances []Instance, source ProbeSource, opts ...Option) *Dispatcher {
	d := &Dispatcher{agentID: agentID, instances: instances, source: source}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return d
}

// Run polls and routes messages until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		messages, err := d.source.Poll(ctx)
		if err != nil {
			d.logger.Warn("poll failed", "error", err)
		}
		for _, msg := range messages {
			d.process(msg)
		}
		if err := d.source.CommitOffsets(ctx); err != nil {
			d.logger.Warn("commit offsets failed", "error", err)
		}
	}
}

func (d *Dispatcher) process(msg bus.InboundMessage) {
	raw, ok := msg.Headers[d.agentID]
	if !ok {
		d.stats.incDiscardedNotForUs()
		if d.metrics != nil {
			d.metrics.DiscardedNotForUs.Inc()
		}
		return
	}

	var meta metadata
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		d.logger.Warn("malformed routing metadata", "error", err)
		d.stats.incDiscardedMalformed()
		if d.metrics != nil {
			d.metrics.DiscardedMalformed.Inc()
		}
		return
	}

	probes, err := probe.DecodeProbes(msg.Value)
	if err != nil {
		d.logger.Warn("malformed probe payload", "error", err)
		d.stats.incDiscardedMalformed()
		if d.metrics != nil {
			d.metrics.DiscardedMalformed.Inc()
		}
		return
	}

	endOfMeasurement := meta.EndOfMeasurement != nil && *meta.EndOfMeasurement
	if len(probes) == 0 && !endOfMeasurement {
		d.stats.incDiscardedEmpty()
		if d.metrics != nil {
			d.metrics.DiscardedEmpty.Inc()
		}
		return
	}

	measurementID := ""
	if meta.MeasurementID != nil {
		measurementID = *meta.MeasurementID
	}

	inst, sourceAddr, err := d.determineTargetSender(meta.SrcIP)
	if err != nil {
		d.logger.Warn("no target instance for batch", "src_ip", metaString(meta.SrcIP), "error", err)
		d.stats.incRejectedNoTarget()
		if d.metrics != nil {
			d.metrics.RejectedNoTarget.Inc()
		}
		return
	}

	if len(probes) > 0 {
		d.enqueue(inst, sender.Job{MeasurementID: measurementID, SourceAddr: sourceAddr, Probes: probes})
	}
	if endOfMeasurement {
		d.enqueue(inst, sender.Job{MeasurementID: measurementID, EndOfMeasurement: true})
	}
}

// determineTargetSender implements the spec's routing rule: a present
// src_ip selects the first instance whose IPv4 or IPv6 prefix contains
// it; otherwise (absent, or no prefix matched) the first instance with
// no prefixes configured is the default. No match is a rejection.
func (d *Dispatcher) determineTargetSender(srcIP *string) (Instance, net.IP, error) {
	if srcIP != nil && *srcIP != "" {
		ip := net.ParseIP(*srcIP)
		if ip == nil {
			return Instance{}, nil, fmt.Errorf("dispatcher: invalid src_ip %q", *srcIP)
		}
		for _, inst := range d.instances {
			if inst.contains(ip) {
				return inst, ip, nil
			}
		}
	}
	for _, inst := range d.instances {
		if !inst.HasPrefixes() {
			return inst, nil, nil
		}
	}
	return Instance{}, nil, fmt.Errorf("dispatcher: no instance matches src_ip %q and no default instance is configured", metaString(srcIP))
}

func (d *Dispatcher) enqueue(inst Instance, job sender.Job) {
	select {
	case inst.Queue <- job:
		d.stats.incEnqueued()
		if d.metrics != nil {
			d.metrics.Enqueued.Inc()
		}
	default:
		d.logger.Warn("send queue full, dropping batch", "instance_id", inst.ID)
		d.stats.incDroppedQueueFull()
		if d.metrics != nil {
			d.metrics.DroppedQueueFull.Inc()
		}
	}
}

func metaString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Statistics returns a snapshot of the dispatcher's routing counters.
func (d *Dispatcher) Statistics() Statistics { return d.stats.Snapshot() }
