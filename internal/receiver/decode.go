package receiver

import (
	"encoding/binary"
	"fmt"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"

	"github.com/malbeclabs/saimiris/internal/probe"
)

// decoded is one parsed reply, plus whatever checksum bytes the quoting
// router preserved from the original probe's body (absent when the
// router only quoted the minimum 8 bytes required by RFC 792).
type decoded struct {
	reply       probe.Reply
	checksum    uint16
	hasChecksum bool
}

// decodePacket parses one captured packet into a Reply. It returns
// (nil, nil) for packets that carry no ICMP payload relevant to active
// measurement (link-layer noise, unrelated traffic).
func decodePacket(data []byte, linkType layers.LinkType, captureTimestampNS uint64) (*decoded, error) {
	pkt := gopacket.NewPacket(data, linkType, gopacket.DecodeOptions{Lazy: true, NoCopy: true})

	if icmpLayer := pkt.Layer(layers.LayerTypeICMPv4); icmpLayer != nil {
		return decodeICMPv4(pkt, icmpLayer.(*layers.ICMPv4), captureTimestampNS)
	}
	if icmpLayer := pkt.Layer(layers.LayerTypeICMPv6); icmpLayer != nil {
		return decodeICMPv6(pkt, icmpLayer.(*layers.ICMPv6), captureTimestampNS)
	}
	return nil, nil
}

func decodeICMPv4(pkt gopacket.Packet, icmp *layers.ICMPv4, captureTimestampNS uint64) (*decoded, error) {
	ipLayer := pkt.Layer(layers.LayerTypeIPv4)
	if ipLayer == nil {
		return nil, fmt.Errorf("receiver: icmpv4 packet missing ip layer")
	}
	ip := ipLayer.(*layers.IPv4)

	r := probe.Reply{
		CaptureTimestampNS: captureTimestampNS,
		ReplySrcAddr:       ip.SrcIP,
		ReplyDstAddr:       ip.DstIP,
		ReplyTTL:           ip.TTL,
		ReplyProtocol:      probe.ProtocolICMP,
		ReplyICMPType:      icmp.TypeCode.Type(),
		ReplyICMPCode:      icmp.TypeCode.Code(),
		ReplyID:            icmp.Id,
		ReplySize:          uint16(len(pkt.Data())),
	}

	switch icmp.TypeCode.Type() {
	case layers.ICMPv4TypeTimeExceeded, layers.ICMPv4TypeDestinationUnreachable:
		quoted, checksum, hasChecksum, err := decodeQuotedIPv4(icmp.LayerPayload())
		if err != nil {
			return nil, err
		}
		r.Probe = quoted
		return &decoded{reply: r, checksum: checksum, hasChecksum: hasChecksum}, nil
	case layers.ICMPv4TypeEchoReply:
		r.Probe = probe.QuotedProbe{
			SrcPort:  icmp.Id,
			DstPort:  icmp.Seq,
			Protocol: probe.ProtocolICMP,
			DstAddr:  ip.SrcIP.To16(),
			TTL:      ip.TTL,
		}
		checksum, hasChecksum := extractChecksumMarker(icmp.LayerPayload())
		return &decoded{reply: r, checksum: checksum, hasChecksum: hasChecksum}, nil
	default:
		return nil, nil
	}
}

func decodeICMPv6(pkt gopacket.Packet, icmp *layers.ICMPv6, captureTimestampNS uint64) (*decoded, error) {
	ipLayer := pkt.Layer(layers.LayerTypeIPv6)
	if ipLayer == nil {
		return nil, fmt.Errorf("receiver: icmpv6 packet missing ip layer")
	}
	ip := ipLayer.(*layers.IPv6)

	r := probe.Reply{
		CaptureTimestampNS: captureTimestampNS,
		ReplySrcAddr:       ip.SrcIP,
		ReplyDstAddr:       ip.DstIP,
		ReplyTTL:           ip.HopLimit,
		ReplyProtocol:      probe.ProtocolICMPv6,
		ReplyICMPType:      icmp.TypeCode.Type(),
		ReplyICMPCode:      icmp.TypeCode.Code(),
		ReplySize:          uint16(len(pkt.Data())),
	}

	switch icmp.TypeCode.Type() {
	case layers.ICMPv6TypeTimeExceeded, layers.ICMPv6TypeDestinationUnreachable:
		quoted, checksum, hasChecksum, err := decodeQuotedIPv6(icmp.LayerPayload())
		if err != nil {
			return nil, err
		}
		r.Probe = quoted
		return &decoded{reply: r, checksum: checksum, hasChecksum: hasChecksum}, nil
	case layers.ICMPv6TypeEchoReply:
		if echoLayer := pkt.Layer(layers.LayerTypeICMPv6Echo); echoLayer != nil {
			echo := echoLayer.(*layers.ICMPv6Echo)
			r.Probe = probe.QuotedProbe{
				SrcPort:  echo.Identifier,
				DstPort:  echo.SeqNumber,
				Protocol: probe.ProtocolICMPv6,
				DstAddr:  ip.SrcIP,
				TTL:      ip.HopLimit,
			}
		}
		checksum, hasChecksum := extractChecksumMarker(icmp.LayerPayload())
		return &decoded{reply: r, checksum: checksum, hasChecksum: hasChecksum}, nil
	default:
		return nil, nil
	}
}

// decodeQuotedIPv4 decodes the original probe's IPv4 header and L4
// header quoted back by an intermediate router inside an ICMP error.
func decodeQuotedIPv4(quoted []byte) (probe.QuotedProbe, uint16, bool, error) {
	pkt := gopacket.NewPacket(quoted, layers.LayerTypeIPv4, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	ipLayer := pkt.Layer(layers.LayerTypeIPv4)
	if ipLayer == nil {
		return probe.QuotedProbe{}, 0, false, fmt.Errorf("receiver: no quoted ipv4 header")
	}
	ip := ipLayer.(*layers.IPv4)

	q := probe.QuotedProbe{DstAddr: ip.DstIP.To16(), TTL: ip.TTL}
	var payload []byte
	if udpLayer := pkt.Layer(layers.LayerTypeUDP); udpLayer != nil {
		udp := udpLayer.(*layers.UDP)
		q.SrcPort = uint16(udp.SrcPort)
		q.DstPort = uint16(udp.DstPort)
		q.Protocol = probe.ProtocolUDP
		payload = udp.LayerPayload()
	} else if icmpLayer := pkt.Layer(layers.LayerTypeICMPv4); icmpLayer != nil {
		icmp := icmpLayer.(*layers.ICMPv4)
		q.SrcPort = icmp.Id
		q.DstPort = icmp.Seq
		q.Protocol = probe.ProtocolICMP
		payload = icmp.LayerPayload()
	}
	checksum, hasChecksum := extractChecksumMarker(payload)
	return q, checksum, hasChecksum, nil
}

func decodeQuotedIPv6(quoted []byte) (probe.QuotedProbe, uint16, bool, error) {
	pkt := gopacket.NewPacket(quoted, layers.LayerTypeIPv6, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	ipLayer := pkt.Layer(layers.LayerTypeIPv6)
	if ipLayer == nil {
		return probe.QuotedProbe{}, 0, false, fmt.Errorf("receiver: no quoted ipv6 header")
	}
	ip := ipLayer.(*layers.IPv6)

	q := probe.QuotedProbe{DstAddr: ip.DstIP, TTL: ip.HopLimit}
	var payload []byte
	if udpLayer := pkt.Layer(layers.LayerTypeUDP); udpLayer != nil {
		udp := udpLayer.(*layers.UDP)
		q.SrcPort = uint16(udp.SrcPort)
		q.DstPort = uint16(udp.DstPort)
		q.Protocol = probe.ProtocolUDP
		payload = udp.LayerPayload()
	} else if icmpLayer := pkt.Layer(layers.LayerTypeICMPv6); icmpLayer != nil {
		icmp := icmpLayer.(*layers.ICMPv6)
		if echoLayer := pkt.Layer(layers.LayerTypeICMPv6Echo); echoLayer != nil {
			echo := echoLayer.(*layers.ICMPv6Echo)
			q.SrcPort = echo.Identifier
			q.DstPort = echo.SeqNumber
		}
		q.Protocol = probe.ProtocolICMPv6
		payload = icmp.LayerPayload()
	}
	checksum, hasChecksum := extractChecksumMarker(payload)
	return q, checksum, hasChecksum, nil
}

// extractChecksumMarker reads the 2-byte checksum body saimiris stamps
// after a probe's L4 header, when the quoting router preserved enough
// of the original datagram to include it.
func extractChecksumMarker(payload []byte) (uint16, bool) {
	if len(payload) < 2 {
		return 0, false
	}
	return binary.BigEndian.Uint16(payload[:2]), true
}
