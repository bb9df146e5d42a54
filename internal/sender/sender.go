// Package sender implements the per-instance send loop: it consumes
// probes off an instance's queue, filters by TTL, stamps the
// instance-keyed checksum, repeats each probe `packets` times, paces
// itself with a rate limiter, and reports per-measurement progress to
// the gateway. Grounded on the original implementation's agent/sender.rs
// send loop.
package sender

import (
	"context"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/malbeclabs/saimiris/internal/config"
	"github.com/malbeclabs/saimiris/internal/metrics"
	"github.com/malbeclabs/saimiris/internal/probe"
	"github.com/malbeclabs/saimiris/internal/ratelimit"
)

// Job is one dispatcher-originated batch of probes queued for
// transmission by a particular instance, annotated with the
// measurement it belongs to and the local source address it should be
// sent from. Progress is reported once per Job, not once per probe.
type Job struct {
	MeasurementID string
	SourceAddr    net.IP
	Probes        []probe.Probe
	// EndOfMeasurement marks the sentinel job a dispatcher emits once a
	// measurement's probes have all been enqueued, so Run can report a
	// final is_complete status without guessing from queue closure.
	EndOfMeasurement bool
}

// ProgressReporter reports a measurement's sent-probe progress to the
// control plane. internal/gateway.ProgressReporter satisfies this.
type ProgressReporter interface {
	ReportMeasurementStatus(ctx context.Context, agentID, measurementID string, sentProbes uint64, isComplete bool) error
}

// Sender runs one caracat instance's send loop.
type Sender struct {
	agentID        string
	instanceID     uint16
	iface          string
	dryRun         bool
	minTTL, maxTTL *uint8
	packets        uint64
	batchSize      uint64

	limiter  *ratelimit.Limiter
	reporter ProgressReporter
	handles  *handleCache
	logger   *slog.Logger

	stats   Statistics
	metrics *metrics.Sender

	mu           sync.Mutex
	measurements map[string]*measurementCounters
}

type Option func(*Sender)

func WithLogger(logger *slog.Logger) Option { return func(s *Sender) { s.logger = logger } }

// WithMetrics exposes the send loop's counters as Prometheus metrics
// in addition to the in-process Statistics snapshot.
func WithMetrics(m *metrics.Sender) Option { return func(s *Sender) { s.metrics = m } }

// New builds a Sender for one caracat instance.
func New(agentID string, cfg config.CaracatConfig, limiter *ratelimit.Limiter, reporter ProgressReporter, opts ...Option) *Sender {
	s := &Sender{
		agentID:      agentID,
		instanceID:   cfg.InstanceID,
		iface:        cfg.Interface,
		dryRun:       cfg.DryRun,
		minTTL:       cfg.MinTTL,
		maxTTL:       cfg.MaxTTL,
		packets:      cfg.Packets,
		batchSize:    cfg.BatchSize,
		limiter:      limiter,
		reporter:     reporter,
		handles:      newHandleCache(cfg.Interface),
		measurements: make(map[string]*measurementCounters),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	if s.packets == 0 {
		s.packets = 1
	}
	if s.batchSize == 0 {
		s.batchSize = 1
	}
	return s
}

// Run consumes jobs until in is closed or ctx is done, sending each
// probe in a job's batch packets times, rate-limited every batch_size
// successful sends. It reports progress to the gateway once per batch (and once
// more, final, on a measurement's end-of-measurement sentinel), and
// closes cached handles on exit.
func (s *Sender) Run(ctx context.Context, in <-chan Job) error {
	defer s.handles.closeAll()

	sinceLimit := uint64(0)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case job, ok := <-in:
			if !ok {
				return nil
			}
			if job.EndOfMeasurement {
				s.reportProgress(ctx, job.MeasurementID, true)
				continue
			}

			for _, p := range job.Probes {
				s.stats.incRead()
				if s.metrics != nil {
					s.metrics.Read.Inc()
				}
				if !s.withinTTLRange(p.TTL) {
					continue
				}

				for i := uint64(0); i < s.packets; i++ {
					if err := s.sendOne(ctx, job.SourceAddr, p); err != nil {
						s.stats.incFailed()
						if s.metrics != nil {
							s.metrics.Failed.Inc()
						}
						s.logger.Warn("send failed", "instance_id", s.instanceID, "dst", p.DstAddr, "error", err)
					} else {
						s.stats.incSent()
						if s.metrics != nil {
							s.metrics.Sent.Inc()
						}
						s.trackSent(job.MeasurementID)

						sinceLimit++
						if sinceLimit >= s.batchSize {
							sinceLimit = 0
							if s.limiter != nil {
								s.limiter.Wait()
							}
						}
					}
				}
			}
			s.reportProgress(ctx, job.MeasurementID, false)
		}
	}
}

func (s *Sender) withinTTLRange(ttl uint8) bool {
	if s.minTTL != nil && ttl < *s.minTTL {
		s.stats.incFilteredLowTTL()
		if s.metrics != nil {
			s.metrics.FilteredLowTTL.Inc()
		}
		return false
	}
	if s.maxTTL != nil && ttl > *s.maxTTL {
		s.stats.incFilteredHighTTL()
		if s.metrics != nil {
			s.metrics.FilteredHighTTL.Inc()
		}
		return false
	}
	return true
}

func (s *Sender) sendOne(ctx context.Context, sourceAddr net.IP, p probe.Probe) error {
	if err := p.Validate(); err != nil {
		return err
	}
	checksum := probe.Checksum(s.instanceID, p.DstAddr, p.SrcPort, p.DstPort, p.TTL)

	if s.dryRun {
		return nil
	}

	source := effectiveSourceAddr(sourceAddr, p)
	payload, protocolNumber, err := buildPayload(p, source, checksum)
	if err != nil {
		return err
	}
	handle, err := s.handles.get(ctx, source)
	if err != nil {
		return err
	}
	return handle.Send(p.DstAddr, p.TTL, protocolNumber, payload)
}

// effectiveSourceAddr resolves the address a probe should be sent
// from. A dispatcher-selected instance with no configured prefixes
// (the "default" instance) routes jobs with no explicit source
// address; the sender then lets the bound interface's routing pick
// the egress address by using the unspecified address for the probe's
// family.
func effectiveSourceAddr(sourceAddr net.IP, p probe.Probe) net.IP {
	if sourceAddr != nil {
		return sourceAddr
	}
	if p.DstAddr.To4() != nil {
		return net.IPv4zero
	}
	return net.IPv6unspecified
}

func (s *Sender) trackSent(measurementID string) {
	if measurementID == "" {
		return
	}
	s.mu.Lock()
	m, ok := s.measurements[measurementID]
	if !ok {
		m = &measurementCounters{}
		s.measurements[measurementID] = m
	}
	m.sent++
	s.mu.Unlock()
}

func (s *Sender) reportProgress(ctx context.Context, measurementID string, isComplete bool) {
	if measurementID == "" || s.reporter == nil {
		return
	}
	s.mu.Lock()
	m, ok := s.measurements[measurementID]
	var sent uint64
	if ok {
		sent = m.sent
	}
	if isComplete {
		delete(s.measurements, measurementID)
	}
	s.mu.Unlock()

	if err := s.reporter.ReportMeasurementStatus(ctx, s.agentID, measurementID, sent, isComplete); err != nil {
		s.logger.Warn("report measurement status failed", "measurement_id", measurementID, "error", err)
	}
}

// Statistics returns a snapshot of the send loop's lifetime counters.
func (s *Sender) Statistics() Statistics { return s.stats.Snapshot() }
