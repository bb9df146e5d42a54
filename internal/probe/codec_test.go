package probe

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCodec_ProbeRoundTrip(t *testing.T) {
	r := require.New(t)

	probes := []Probe{
		{DstAddr: net.ParseIP("192.0.2.1"), SrcPort: 24000, DstPort: 33434, TTL: 5, Protocol: ProtocolUDP},
		{DstAddr: net.ParseIP("2001:db8::1"), SrcPort: 1, DstPort: 2, TTL: 64, Protocol: ProtocolICMPv6},
		{DstAddr: net.ParseIP("198.51.100.7"), SrcPort: 0, DstPort: 0, TTL: 1, Protocol: ProtocolICMP},
	}

	encoded := EncodeProbes(probes)
	decoded, err := DecodeProbes(encoded)
	r.NoError(err)
	r.Len(decoded, len(probes))
	for i, p := range probes {
		r.True(p.DstAddr.Equal(decoded[i].DstAddr), "probe %d dst_addr", i)
		r.Equal(p.SrcPort, decoded[i].SrcPort)
		r.Equal(p.DstPort, decoded[i].DstPort)
		r.Equal(p.TTL, decoded[i].TTL)
		r.Equal(p.Protocol, decoded[i].Protocol)
	}
}

func TestCodec_DecodeProbes_EmptyInput(t *testing.T) {
	r := require.New(t)
	decoded, err := DecodeProbes(nil)
	r.NoError(err)
	r.Empty(decoded)
}

func TestCodec_DecodeProbes_RejectsTCP(t *testing.T) {
	r := require.New(t)
	body := encodeProbeBody(Probe{DstAddr: net.ParseIP("192.0.2.1"), Protocol: ProtocolUDP})
	body[21] = uint8(protocolTCP)
	data := appendRecord(nil, tagProbe, body)

	_, err := DecodeProbes(data)
	r.Error(err)
	var decErr *DecodeError
	r.ErrorAs(err, &decErr)
	r.Equal(0, decErr.Offset)
}

func TestCodec_DecodeProbes_SkipsUnknownTag(t *testing.T) {
	r := require.New(t)
	data := appendRecord(nil, 0xEE, []byte("future extension"))
	data = appendRecord(data, tagProbe, encodeProbeBody(Probe{DstAddr: net.ParseIP("192.0.2.1"), Protocol: ProtocolUDP}))

	decoded, err := DecodeProbes(data)
	r.NoError(err)
	r.Len(decoded, 1)
}

func TestCodec_ReplyRoundTrip(t *testing.T) {
	r := require.New(t)

	replies := []Reply{
		{
			CaptureTimestampNS: 123456789,
			ReplySrcAddr:       net.ParseIP("203.0.113.9"),
			ReplyDstAddr:       net.ParseIP("192.0.2.1"),
			ReplyID:            42,
			ReplySize:          84,
			ReplyTTL:           250,
			ReplyProtocol:      ProtocolICMP,
			ReplyICMPType:      11,
			ReplyICMPCode:      0,
			MPLSLabels: []MPLSLabel{
				{Label: 16001, Experimental: 0, BottomOfStack: true, TTL: 64},
				{Label: 16002, Experimental: 1, BottomOfStack: false, TTL: 63},
			},
			Probe: QuotedProbe{
				SrcAddr:  net.ParseIP("192.0.2.1"),
				DstAddr:  net.ParseIP("203.0.113.1"),
				ID:       7,
				Size:     52,
				TTL:      5,
				Protocol: ProtocolUDP,
				SrcPort:  24000,
				DstPort:  33434,
			},
			RTTNanos: 15_000_000,
		},
		{
			CaptureTimestampNS: 2,
			ReplySrcAddr:       net.ParseIP("2001:db8::1"),
			ReplyDstAddr:       net.ParseIP("2001:db8::2"),
			Probe: QuotedProbe{
				SrcAddr:  net.ParseIP("2001:db8::2"),
				DstAddr:  net.ParseIP("2001:db8::3"),
				Protocol: ProtocolICMPv6,
			},
		},
	}

	encoded := EncodeReplies(replies)
	decoded, err := DecodeReplies(encoded)
	r.NoError(err)
	r.Len(decoded, len(replies))
	for i, rep := range replies {
		r.Equal(rep.CaptureTimestampNS, decoded[i].CaptureTimestampNS)
		r.True(rep.ReplySrcAddr.Equal(decoded[i].ReplySrcAddr))
		r.Equal(rep.MPLSLabels, decoded[i].MPLSLabels)
		r.Equal(rep.Probe.Protocol, decoded[i].Probe.Protocol)
		r.Equal(rep.RTTNanos, decoded[i].RTTNanos)
	}
}

func TestCodec_DecodeReplies_TruncatedRecordIsMalformed(t *testing.T) {
	r := require.New(t)
	data := []byte{tagReply, 0x00, 0x00, 0x00, 0x10} // declares 16 bytes, supplies none
	_, err := DecodeReplies(data)
	r.Error(err)
}

func TestCodec_DecodeReplies_EOFBetweenRecordsIsNotAnError(t *testing.T) {
	r := require.New(t)
	full := appendRecord(nil, tagReply, encodeReplyBody(Reply{
		ReplySrcAddr: net.ParseIP("192.0.2.1"),
		ReplyDstAddr: net.ParseIP("192.0.2.2"),
		Probe:        QuotedProbe{SrcAddr: net.ParseIP("192.0.2.2"), DstAddr: net.ParseIP("192.0.2.1")},
	}))
	// A dangling partial header after one complete record is a streamed
	// concatenation boundary, not an error.
	data := append(full, tagReply, 0x00)

	decoded, err := DecodeReplies(data)
	r.NoError(err)
	r.Len(decoded, 1)
}

func TestProbe_Validate(t *testing.T) {
	r := require.New(t)

	r.NoError(Probe{DstAddr: net.ParseIP("192.0.2.1"), Protocol: ProtocolICMP}.Validate())
	r.NoError(Probe{DstAddr: net.ParseIP("2001:db8::1"), Protocol: ProtocolICMPv6}.Validate())
	r.Error(Probe{DstAddr: net.ParseIP("2001:db8::1"), Protocol: ProtocolICMP}.Validate())
	r.Error(Probe{DstAddr: net.ParseIP("192.0.2.1"), Protocol: ProtocolICMPv6}.Validate())
}

func TestChecksum_Deterministic(t *testing.T) {
	r := require.New(t)
	dst := net.ParseIP("192.0.2.1").To16()

	a := Checksum(7, dst, 24000, 33434, 5)
	b := Checksum(7, dst, 24000, 33434, 5)
	r.Equal(a, b)

	c := Checksum(8, dst, 24000, 33434, 5)
	r.NotEqual(a, c, "different instance ids should (almost always) diverge")
	r.True(ValidatesChecksum(a, 7, dst, 24000, 33434, 5))
	r.False(ValidatesChecksum(a, 8, dst, 24000, 33434, 5))
}
