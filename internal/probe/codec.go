package probe

import (
	"encoding/binary"
	"fmt"
	"net"
)

// Wire framing: each record is `u8 tag | u32 big-endian length | payload`.
// Unknown tags are skipped using the length prefix, so a stream can mix
// probe and reply records (and future record kinds) without breaking
// older decoders.
const (
	tagProbe uint8 = 0x01
	tagReply uint8 = 0x02
)

const recordHeaderLen = 1 + 4 // tag + u32 length

const probeBodyLen = 16 + 2 + 2 + 1 + 1 // dst_addr + src_port + dst_port + ttl + protocol

const mplsLabelLen = 4 + 1 + 1 + 1 // label + exp + s_bit + ttl

// DecodeError reports the byte offset of the first malformed record.
type DecodeError struct {
	Offset int
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("probe: malformed record at offset %d: %v", e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func putIP(dst []byte, ip net.IP) {
	if v4 := ip.To4(); v4 != nil {
		copy(dst, v4.To16())
		return
	}
	copy(dst, ip.To16())
}

func getIP(src []byte) net.IP {
	ip := net.IP(append([]byte(nil), src...))
	if v4 := ip.To4(); v4 != nil {
		return v4
	}
	return ip
}

// EncodeProbes encodes a sequence of probes as concatenated framed
// records.
func EncodeProbes(probes []Probe) []byte {
	buf := make([]byte, 0, len(probes)*(recordHeaderLen+probeBodyLen))
	for _, p := range probes {
		buf = appendRecord(buf, tagProbe, encodeProbeBody(p))
	}
	return buf
}

func encodeProbeBody(p Probe) []byte {
	body := make([]byte, probeBodyLen)
	putIP(body[0:16], p.DstAddr)
	binary.BigEndian.PutUint16(body[16:18], p.SrcPort)
	binary.BigEndian.PutUint16(body[18:20], p.DstPort)
	body[20] = p.TTL
	body[21] = uint8(p.Protocol)
	return body
}

func decodeProbeBody(body []byte) (Probe, error) {
	if len(body) != probeBodyLen {
		return Probe{}, fmt.Errorf("probe record: expected %d bytes, got %d", probeBodyLen, len(body))
	}
	proto := Protocol(body[21])
	if proto == protocolTCP {
		return Probe{}, fmt.Errorf("probe record: tcp protocol is not supported")
	}
	return Probe{
		DstAddr:  getIP(body[0:16]),
		SrcPort:  binary.BigEndian.Uint16(body[16:18]),
		DstPort:  binary.BigEndian.Uint16(body[18:20]),
		TTL:      body[20],
		Protocol: proto,
	}, nil
}

// DecodeProbes decodes a sequence of probe records, skipping any records
// tagged as a different kind. An empty input yields an empty, non-nil
// sequence. Returns a *DecodeError carrying the offset of the first
// malformed record.
func DecodeProbes(data []byte) ([]Probe, error) {
	probes := make([]Probe, 0)
	err := walkRecords(data, func(offset int, tag uint8, body []byte) error {
		if tag != tagProbe {
			return nil
		}
		p, err := decodeProbeBody(body)
		if err != nil {
			return err
		}
		probes = append(probes, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return probes, nil
}

// EncodeReplies encodes a sequence of replies as concatenated framed
// records.
func EncodeReplies(replies []Reply) []byte {
	buf := make([]byte, 0, len(replies)*64)
	for _, r := range replies {
		buf = appendRecord(buf, tagReply, encodeReplyBody(r))
	}
	return buf
}

func encodeReplyBody(r Reply) []byte {
	fixedLen := 8 + 16 + 16 + 2 + 2 + 1 + 1 + 1 + 1 + 2 + 16 + 16 + 2 + 2 + 1 + 1 + 2 + 2 + 8
	body := make([]byte, fixedLen+len(r.MPLSLabels)*mplsLabelLen)
	i := 0

	binary.BigEndian.PutUint64(body[i:], r.CaptureTimestampNS)
	i += 8
	putIP(body[i:i+16], r.ReplySrcAddr)
	i += 16
	putIP(body[i:i+16], r.ReplyDstAddr)
	i += 16
	binary.BigEndian.PutUint16(body[i:], r.ReplyID)
	i += 2
	binary.BigEndian.PutUint16(body[i:], r.ReplySize)
	i += 2
	body[i] = r.ReplyTTL
	i++
	body[i] = uint8(r.ReplyProtocol)
	i++
	body[i] = r.ReplyICMPType
	i++
	body[i] = r.ReplyICMPCode
	i++

	binary.BigEndian.PutUint16(body[i:], uint16(len(r.MPLSLabels)))
	i += 2
	for _, l := range r.MPLSLabels {
		binary.BigEndian.PutUint32(body[i:], l.Label)
		i += 4
		body[i] = l.Experimental
		i++
		if l.BottomOfStack {
			body[i] = 1
		}
		i++
		body[i] = l.TTL
		i++
	}

	putIP(body[i:i+16], r.Probe.SrcAddr)
	i += 16
	putIP(body[i:i+16], r.Probe.DstAddr)
	i += 16
	binary.BigEndian.PutUint16(body[i:], r.Probe.ID)
	i += 2
	binary.BigEndian.PutUint16(body[i:], r.Probe.Size)
	i += 2
	body[i] = r.Probe.TTL
	i++
	body[i] = uint8(r.Probe.Protocol)
	i++
	binary.BigEndian.PutUint16(body[i:], r.Probe.SrcPort)
	i += 2
	binary.BigEndian.PutUint16(body[i:], r.Probe.DstPort)
	i += 2

	binary.BigEndian.PutUint64(body[i:], r.RTTNanos)
	i += 8

	return body[:i]
}

func decodeReplyBody(body []byte) (Reply, error) {
	const minFixed = 8 + 16 + 16 + 2 + 2 + 1 + 1 + 1 + 1 + 2
	if len(body) < minFixed {
		return Reply{}, fmt.Errorf("reply record: too short (%d bytes)", len(body))
	}
	var r Reply
	i := 0

	r.CaptureTimestampNS = binary.BigEndian.Uint64(body[i:])
	i += 8
	r.ReplySrcAddr = getIP(body[i : i+16])
	i += 16
	r.ReplyDstAddr = getIP(body[i : i+16])
	i += 16
	r.ReplyID = binary.BigEndian.Uint16(body[i:])
	i += 2
	r.ReplySize = binary.BigEndian.Uint16(body[i:])
	i += 2
	r.ReplyTTL = body[i]
	i++
	r.ReplyProtocol = Protocol(body[i])
	i++
	r.ReplyICMPType = body[i]
	i++
	r.ReplyICMPCode = body[i]
	i++

	numLabels := int(binary.BigEndian.Uint16(body[i:]))
	i += 2
	if len(body) < i+numLabels*mplsLabelLen {
		return Reply{}, fmt.Errorf("reply record: truncated mpls label stack (want %d labels)", numLabels)
	}
	if numLabels > 0 {
		r.MPLSLabels = make([]MPLSLabel, numLabels)
	}
	for n := 0; n < numLabels; n++ {
		r.MPLSLabels[n] = MPLSLabel{
			Label:         binary.BigEndian.Uint32(body[i:]),
			Experimental:  body[i+4],
			BottomOfStack: body[i+5] != 0,
			TTL:           body[i+6],
		}
		i += mplsLabelLen
	}

	const probeFixed = 16 + 16 + 2 + 2 + 1 + 1 + 2 + 2
	if len(body) < i+probeFixed+8 {
		return Reply{}, fmt.Errorf("reply record: truncated quoted probe / rtt")
	}
	r.Probe.SrcAddr = getIP(body[i : i+16])
	i += 16
	r.Probe.DstAddr = getIP(body[i : i+16])
	i += 16
	r.Probe.ID = binary.BigEndian.Uint16(body[i:])
	i += 2
	r.Probe.Size = binary.BigEndian.Uint16(body[i:])
	i += 2
	r.Probe.TTL = body[i]
	i++
	r.Probe.Protocol = Protocol(body[i])
	i++
	r.Probe.SrcPort = binary.BigEndian.Uint16(body[i:])
	i += 2
	r.Probe.DstPort = binary.BigEndian.Uint16(body[i:])
	i += 2

	r.RTTNanos = binary.BigEndian.Uint64(body[i:])
	i += 8

	if i != len(body) {
		return Reply{}, fmt.Errorf("reply record: %d trailing bytes", len(body)-i)
	}
	return r, nil
}

// DecodeReplies decodes a sequence of reply records, skipping any
// records tagged as a different kind.
func DecodeReplies(data []byte) ([]Reply, error) {
	replies := make([]Reply, 0)
	err := walkRecords(data, func(offset int, tag uint8, body []byte) error {
		if tag != tagReply {
			return nil
		}
		r, err := decodeReplyBody(body)
		if err != nil {
			return err
		}
		replies = append(replies, r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return replies, nil
}

func appendRecord(buf []byte, tag uint8, body []byte) []byte {
	hdr := make([]byte, recordHeaderLen)
	hdr[0] = tag
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(body)))
	buf = append(buf, hdr...)
	buf = append(buf, body...)
	return buf
}

// walkRecords iterates the length-delimited records in data, invoking fn
// with each record's starting offset, tag and body. EOF between records
// is not an error: a dangling partial header or body at the tail is
// treated as the end of a streamed concatenation, not a malformed
// record, as long as at least one full record has already been read
// from this point — a non-empty input that contains no complete record
// at all is still reported as malformed.
func walkRecords(data []byte, fn func(offset int, tag uint8, body []byte) error) error {
	offset := 0
	for offset < len(data) {
		remaining := len(data) - offset
		if remaining < recordHeaderLen {
			if offset == 0 {
				return &DecodeError{Offset: offset, Err: fmt.Errorf("truncated record header: %d bytes", remaining)}
			}
			break
		}
		tag := data[offset]
		length := binary.BigEndian.Uint32(data[offset+1 : offset+recordHeaderLen])
		bodyStart := offset + recordHeaderLen
		bodyEnd := bodyStart + int(length)
		if bodyEnd > len(data) {
			if offset == 0 {
				return &DecodeError{Offset: offset, Err: fmt.Errorf("truncated record: declared length %d exceeds remaining %d bytes", length, len(data)-bodyStart)}
			}
			break
		}
		if err := fn(offset, tag, data[bodyStart:bodyEnd]); err != nil {
			return &DecodeError{Offset: offset, Err: err}
		}
		offset = bodyEnd
	}
	return nil
}
