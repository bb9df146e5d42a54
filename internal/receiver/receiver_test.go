package receiver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcap"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/saimiris/internal/probe"
)

type fakeHandle struct {
	packets [][]byte
	idx     int
	closed  bool
}

func (f *fakeHandle) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	if f.idx >= len(f.packets) {
		return nil, gopacket.CaptureInfo{}, pcap.NextErrorTimeoutExpired
	}
	data := f.packets[f.idx]
	f.idx++
	return data, gopacket.CaptureInfo{Timestamp: time.Unix(0, 0), CaptureLength: len(data), Length: len(data)}, nil
}

func (f *fakeHandle) LinkType() layers.LinkType { return layers.LinkTypeIPv4 }
func (f *fakeHandle) Stats() (*pcap.Stats, error) { return &pcap.Stats{}, nil }
func (f *fakeHandle) Close()                      { f.closed = true }

type fakeSink struct {
	replies []probe.Reply
}

func (f *fakeSink) Enqueue(r probe.Reply) { f.replies = append(f.replies, r) }

func TestReceiver_Run_ForwardsValidatedReply(t *testing.T) {
	r := require.New(t)

	dst := net.ParseIP("8.8.8.8")
	srcPort, dstPort, ttl := uint16(12345), uint16(33434), uint8(5)
	checksum := probe.Checksum(7, dst.To16(), srcPort, dstPort, ttl)
	quoted := buildQuotedUDP(t, dst, srcPort, dstPort, ttl, checksum)
	pkt := buildTimeExceeded(t, quoted)

	handle := &fakeHandle{packets: [][]byte{pkt}}
	sink := &fakeSink{}

	recv, err := New("eth0", []uint16{7}, true, sink, withHandle(handle))
	r.NoError(err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err = recv.Run(ctx)
	r.ErrorIs(err, context.DeadlineExceeded)

	r.Len(sink.replies, 1)
	stats := recv.Statistics()
	r.EqualValues(1, stats.Received)
	r.EqualValues(0, stats.ReceivedInvalid)
	r.True(handle.closed)
}

func TestReceiver_Run_RejectsWrongInstanceID(t *testing.T) {
	r := require.New(t)

	dst := net.ParseIP("8.8.8.8")
	srcPort, dstPort, ttl := uint16(1), uint16(2), uint8(3)
	checksum := probe.Checksum(7, dst.To16(), srcPort, dstPort, ttl)
	quoted := buildQuotedUDP(t, dst, srcPort, dstPort, ttl, checksum)
	pkt := buildTimeExceeded(t, quoted)

	handle := &fakeHandle{packets: [][]byte{pkt}}
	sink := &fakeSink{}

	recv, err := New("eth0", []uint16{99}, true, sink, withHandle(handle))
	r.NoError(err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = recv.Run(ctx)

	r.Len(sink.replies, 0)
	stats := recv.Statistics()
	r.EqualValues(1, stats.ReceivedInvalid)
}

func TestReceiver_Run_AcceptsAllRepliesWhenIntegrityCheckDisabled(t *testing.T) {
	r := require.New(t)

	dst := net.ParseIP("8.8.8.8")
	srcPort, dstPort, ttl := uint16(1), uint16(2), uint8(3)
	checksum := probe.Checksum(7, dst.To16(), srcPort, dstPort, ttl)
	quoted := buildQuotedUDP(t, dst, srcPort, dstPort, ttl, checksum)
	pkt := buildTimeExceeded(t, quoted)

	handle := &fakeHandle{packets: [][]byte{pkt}}
	sink := &fakeSink{}

	// instance_id 99 doesn't match the checksum's instance_id 7, but with
	// the check disabled the reply is forwarded anyway.
	recv, err := New("eth0", []uint16{99}, false, sink, withHandle(handle))
	r.NoError(err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = recv.Run(ctx)

	r.Len(sink.replies, 1)
	stats := recv.Statistics()
	r.EqualValues(1, stats.Received)
	r.EqualValues(0, stats.ReceivedInvalid)
}
