package sender

import (
	"fmt"
	"net"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"

	"github.com/malbeclabs/saimiris/internal/probe"
	"github.com/malbeclabs/saimiris/internal/rawconn"
)

// buildPayload serializes the L4 header (and the checksum-carrying
// body used as the probe's identifier) for one probe, returning the
// bytes to hand to a raw-injection Handle plus the IP protocol number
// to stamp in the IP header.
func buildPayload(p probe.Probe, source net.IP, checksum uint16) ([]byte, int, error) {
	switch p.Protocol {
	case probe.ProtocolUDP:
		return buildUDP(p, source, checksum)
	case probe.ProtocolICMP:
		return buildICMPv4(p, checksum)
	case probe.ProtocolICMPv6:
		return buildICMPv6(p, source, checksum)
	default:
		return nil, 0, fmt.Errorf("sender: unsupported protocol %s", p.Protocol)
	}
}

func buildUDP(p probe.Probe, source net.IP, checksum uint16) ([]byte, int, error) {
	ip := &layers.IPv4{
		SrcIP:    source.To4(),
		DstIP:    p.DstAddr.To4(),
		Protocol: layers.IPProtocolUDP,
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(p.SrcPort),
		DstPort: layers.UDPPort(p.DstPort),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, 0, fmt.Errorf("sender: set network layer for checksum: %w", err)
	}

	body := checksumBody(checksum)
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, udp, gopacket.Payload(body)); err != nil {
		return nil, 0, fmt.Errorf("sender: serialize udp: %w", err)
	}
	return buf.Bytes(), rawconn.ProtocolUDP, nil
}

func buildICMPv4(p probe.Probe, checksum uint16) ([]byte, int, error) {
	icmp := &layers.ICMPv4{
		TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0),
		Id:       p.SrcPort,
		Seq:      p.DstPort,
	}
	body := checksumBody(checksum)
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, icmp, gopacket.Payload(body)); err != nil {
		return nil, 0, fmt.Errorf("sender: serialize icmpv4: %w", err)
	}
	return buf.Bytes(), rawconn.ProtocolICMP, nil
}

func buildICMPv6(p probe.Probe, source net.IP, checksum uint16) ([]byte, int, error) {
	ip := &layers.IPv6{
		SrcIP:      source,
		DstIP:      p.DstAddr,
		NextHeader: layers.IPProtocolICMPv6,
	}
	icmp := &layers.ICMPv6{
		TypeCode: layers.CreateICMPv6TypeCode(layers.ICMPv6TypeEchoRequest, 0),
	}
	if err := icmp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, 0, fmt.Errorf("sender: set network layer for checksum: %w", err)
	}
	echo := &layers.ICMPv6Echo{Identifier: p.SrcPort, SeqNumber: p.DstPort}

	body := checksumBody(checksum)
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, icmp, echo, gopacket.Payload(body)); err != nil {
		return nil, 0, fmt.Errorf("sender: serialize icmpv6: %w", err)
	}
	return buf.Bytes(), rawconn.ProtocolICMPv6, nil
}

// checksumBody carries the instance-keyed integrity checksum in the
// probe's wire body so the receive loop can validate a reply's quoted
// probe without needing shared state beyond the instance_id.
func checksumBody(checksum uint16) []byte {
	return []byte{byte(checksum >> 8), byte(checksum)}
}
