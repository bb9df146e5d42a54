// Package receiver implements the per-interface receive loop: it reads
// captured packets off a live pcap handle, decodes ICMP/ICMPv6 replies,
// validates each reply's quoted probe against every caracat instance
// bound to the interface, and forwards validated replies to the
// reply-batching producer. Grounded on the teacher's flow-enricher pcap
// consumer, adapted from offline-file replay to a live capture loop.
package receiver

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcap"

	"github.com/malbeclabs/saimiris/internal/metrics"
	"github.com/malbeclabs/saimiris/internal/probe"
)

const readTimeout = 200 * time.Millisecond

// pcapHandle is the subset of *pcap.Handle the receive loop uses,
// narrowed to allow a fake in tests.
type pcapHandle interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
	Stats() (*pcap.Stats, error)
	Close()
}

// ReplySink receives accepted replies for encoding, coalescing and
// publishing by the producer package.
type ReplySink interface {
	Enqueue(r probe.Reply)
}

// Receiver runs one interface's receive loop.
type Receiver struct {
	iface          string
	handle         pcapHandle
	instanceIDs    []uint16
	integrityCheck bool
	sink           ReplySink
	logger         *slog.Logger

	stats         Statistics
	metrics       *metrics.Receiver
	uniqueSources map[string]struct{}
}

type Option func(*Receiver)

func WithLogger(logger *slog.Logger) Option { return func(r *Receiver) { r.logger = logger } }

// WithMetrics exposes the receive loop's counters as Prometheus
// metrics in addition to the in-process Statistics snapshot.
func WithMetrics(m *metrics.Receiver) Option { return func(r *Receiver) { r.metrics = m } }

// withHandle injects a fake pcap handle for tests.
func withHandle(h pcapHandle) Option { return func(r *Receiver) { r.handle = h } }

// New opens a live, promiscuous pcap capture on iface filtered to the
// protocols this agent's probes can elicit replies for, bound to the
// given set of instance_ids that may legitimately receive on it.
// integrityCheckEnabled resolves the interface's integrity_check
// policy across every instance bound to it: if any one of them
// disables the check, the whole interface accepts replies
// unvalidated, since a shared receive loop has no way to hold a
// stricter instance to its own policy once a looser one accepts
// everything.
func New(iface string, instanceIDs []uint16, integrityCheckEnabled bool, sink ReplySink, opts ...Option) (*Receiver, error) {
	r := &Receiver{
		iface:          iface,
		instanceIDs:    instanceIDs,
		integrityCheck: integrityCheckEnabled,
		sink:           sink,
		uniqueSources:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	if r.handle != nil {
		return r, nil
	}

	handle, err := pcap.OpenLive(iface, 65535, true, readTimeout)
	if err != nil {
		return nil, fmt.Errorf("receiver: open live capture on %s: %w", iface, err)
	}
	if err := handle.SetBPFFilter("icmp or icmp6"); err != nil {
		handle.Close()
		return nil, fmt.Errorf("receiver: set bpf filter: %w", err)
	}
	r.handle = handle
	return r, nil
}

// Run reads packets until ctx is done, decoding and validating each
// one and forwarding validated replies to the sink.
func (r *Receiver) Run(ctx context.Context) error {
	defer r.handle.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		data, ci, err := r.handle.ReadPacketData()
		if err != nil {
			if err == pcap.NextErrorTimeoutExpired {
				continue
			}
			r.stats.incReceivedError()
			if r.metrics != nil {
				r.metrics.ReceivedError.Inc()
			}
			r.logger.Warn("pcap read error", "interface", r.iface, "error", err)
			continue
		}

		d, err := decodePacket(data, r.handle.LinkType(), uint64(ci.Timestamp.UnixNano()))
		if err != nil {
			r.stats.incReceivedError()
			if r.metrics != nil {
				r.metrics.ReceivedError.Inc()
			}
			r.logger.Debug("decode error", "interface", r.iface, "error", err)
			continue
		}
		if d == nil {
			continue
		}

		if !r.validatesAnyBoundInstance(d) {
			r.stats.incReceivedInvalid()
			if r.metrics != nil {
				r.metrics.ReceivedInvalid.Inc()
			}
			continue
		}

		r.stats.incReceived()
		if r.metrics != nil {
			r.metrics.Received.Inc()
		}
		r.trackUniqueSource(d.reply.ReplySrcAddr.String())
		if r.sink != nil {
			r.sink.Enqueue(d.reply)
		}
	}
}

// validatesAnyBoundInstance reports whether the reply's quoted probe
// checksum validates against any instance_id bound to this interface,
// per the spec's "integrity check against any bound instance_id" rule.
func (r *Receiver) validatesAnyBoundInstance(d *decoded) bool {
	if !r.integrityCheck {
		return true
	}
	if !d.hasChecksum {
		return false
	}
	for _, id := range r.instanceIDs {
		if probe.ValidatesChecksum(d.checksum, id, d.reply.Probe.DstAddr, d.reply.Probe.SrcPort, d.reply.Probe.DstPort, d.reply.Probe.TTL) {
			return true
		}
	}
	return false
}

// maxTrackedSources bounds the unique-source approximation's memory
// use; beyond this the count stops growing but receive counters keep
// accumulating normally.
const maxTrackedSources = 100_000

func (r *Receiver) trackUniqueSource(addr string) {
	if len(r.uniqueSources) >= maxTrackedSources {
		return
	}
	r.uniqueSources[addr] = struct{}{}
}

// Statistics returns a snapshot of the receive loop's counters.
func (r *Receiver) Statistics() Statistics { return r.stats.Snapshot() }

// UniqueSourceCount returns the approximate number of distinct reply
// source addresses observed, capped at maxTrackedSources.
func (r *Receiver) UniqueSourceCount() int { return len(r.uniqueSources) }

// PcapStatistics returns the underlying capture's received/dropped
// counters, as reported by libpcap itself.
func (r *Receiver) PcapStatistics() (*pcap.Stats, error) {
	return r.handle.Stats()
}
