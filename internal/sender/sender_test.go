package sender

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/saimiris/internal/config"
	"github.com/malbeclabs/saimiris/internal/probe"
)

type reportedStatus struct {
	sentProbes uint64
	isComplete bool
}

type fakeReporter struct {
	lastSent     uint64
	lastComplete bool
	calls        int
	history      []reportedStatus
}

func (f *fakeReporter) ReportMeasurementStatus(ctx context.Context, agentID, measurementID string, sentProbes uint64, isComplete bool) error {
	f.calls++
	f.lastSent = sentProbes
	f.lastComplete = isComplete
	f.history = append(f.history, reportedStatus{sentProbes: sentProbes, isComplete: isComplete})
	return nil
}

func newTestSender(t *testing.T, minTTL, maxTTL *uint8, reporter ProgressReporter) *Sender {
	t.Helper()
	cfg := config.CaracatConfig{
		InstanceID: 1,
		Interface:  "eth0",
		DryRun:     true,
		MinTTL:     minTTL,
		MaxTTL:     maxTTL,
		Packets:    2,
		BatchSize:  100,
	}
	return New("agent-1", cfg, nil, reporter)
}

func ttlPtr(v uint8) *uint8 { return &v }

func TestSender_FiltersLowTTL(t *testing.T) {
	r := require.New(t)
	s := newTestSender(t, ttlPtr(5), nil, nil)

	in := make(chan Job, 1)
	in <- Job{Probes: []probe.Probe{{DstAddr: net.ParseIP("8.8.8.8"), TTL: 1, Protocol: probe.ProtocolUDP}}}
	close(in)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r.NoError(s.Run(ctx, in))

	stats := s.Statistics()
	r.EqualValues(1, stats.FilteredLowTTL)
	r.EqualValues(0, stats.Sent)
}

func TestSender_FiltersHighTTL(t *testing.T) {
	r := require.New(t)
	s := newTestSender(t, nil, ttlPtr(10), nil)

	in := make(chan Job, 1)
	in <- Job{Probes: []probe.Probe{{DstAddr: net.ParseIP("8.8.8.8"), TTL: 20, Protocol: probe.ProtocolUDP}}}
	close(in)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r.NoError(s.Run(ctx, in))

	stats := s.Statistics()
	r.EqualValues(1, stats.FilteredHighTTL)
	r.EqualValues(0, stats.Sent)
}

func TestSender_RepeatsPerPacketsCount(t *testing.T) {
	r := require.New(t)
	s := newTestSender(t, nil, nil, nil)

	in := make(chan Job, 1)
	in <- Job{Probes: []probe.Probe{{DstAddr: net.ParseIP("8.8.8.8"), TTL: 5, Protocol: probe.ProtocolUDP}}}
	close(in)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r.NoError(s.Run(ctx, in))

	stats := s.Statistics()
	r.EqualValues(2, stats.Sent, "packets=2 should send each probe twice")
}

func TestSender_ReportsProgressOnceEndOfMeasurement(t *testing.T) {
	r := require.New(t)
	reporter := &fakeReporter{}
	s := newTestSender(t, nil, nil, reporter)

	in := make(chan Job, 2)
	in <- Job{MeasurementID: "m1", Probes: []probe.Probe{{DstAddr: net.ParseIP("8.8.8.8"), TTL: 5, Protocol: probe.ProtocolUDP}}}
	in <- Job{MeasurementID: "m1", EndOfMeasurement: true}
	close(in)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r.NoError(s.Run(ctx, in))

	r.Equal(2, reporter.calls, "one report for the batch, one final report for the end-of-measurement sentinel")
	r.True(reporter.lastComplete)
	r.EqualValues(2, reporter.lastSent, "packets=2 sends per probe should be reflected in reported progress")
}

func batchOfProbes(n int) []probe.Probe {
	probes := make([]probe.Probe, n)
	for i := range probes {
		probes[i] = probe.Probe{DstAddr: net.ParseIP("8.8.8.8"), TTL: 5, Protocol: probe.ProtocolUDP}
	}
	return probes
}

func TestSender_ReportsOncePerBatchAcrossMultipleBatches(t *testing.T) {
	r := require.New(t)
	reporter := &fakeReporter{}
	cfg := config.CaracatConfig{
		InstanceID: 1,
		Interface:  "eth0",
		DryRun:     true,
		Packets:    1,
		BatchSize:  100,
	}
	s := New("agent-1", cfg, nil, reporter)

	in := make(chan Job, 4)
	in <- Job{MeasurementID: "m1", Probes: batchOfProbes(10)}
	in <- Job{MeasurementID: "m1", Probes: batchOfProbes(10)}
	in <- Job{MeasurementID: "m1", Probes: batchOfProbes(10)}
	in <- Job{MeasurementID: "m1", EndOfMeasurement: true}
	close(in)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r.NoError(s.Run(ctx, in))

	r.Equal(4, reporter.calls, "exactly one POST per batch, plus one final POST for the end-of-measurement sentinel")
	r.Equal([]reportedStatus{
		{sentProbes: 10, isComplete: false},
		{sentProbes: 20, isComplete: false},
		{sentProbes: 30, isComplete: false},
		{sentProbes: 30, isComplete: true},
	}, reporter.history)
}

func TestSender_RejectsProtocolAddressMismatch(t *testing.T) {
	r := require.New(t)
	s := newTestSender(t, nil, nil, nil)

	in := make(chan Job, 1)
	in <- Job{Probes: []probe.Probe{{DstAddr: net.ParseIP("8.8.8.8"), TTL: 5, Protocol: probe.ProtocolICMPv6}}}
	close(in)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r.NoError(s.Run(ctx, in))

	stats := s.Statistics()
	r.EqualValues(2, stats.Failed, "icmpv6 probe with an ipv4 destination must fail validation both repetitions")
}
