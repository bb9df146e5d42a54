// Package probe implements the binary encode/decode of probe and reply
// records exchanged between the dispatcher, the send loop, the receive
// loop and the reply-batching producer.
package probe

import (
	"fmt"
	"net"
)

// Protocol identifies the layer-4 protocol of a probe or a reply.
type Protocol uint8

const (
	ProtocolUDP Protocol = iota
	ProtocolICMP
	ProtocolICMPv6
	// protocolTCP is recognized on the wire but rejected on decode: TCP
	// probing is not supported by this agent.
	protocolTCP
)

func (p Protocol) String() string {
	switch p {
	case ProtocolUDP:
		return "udp"
	case ProtocolICMP:
		return "icmp"
	case ProtocolICMPv6:
		return "icmpv6"
	case protocolTCP:
		return "tcp"
	default:
		return fmt.Sprintf("protocol(%d)", uint8(p))
	}
}

// ParseProtocol parses a case-insensitive protocol name as used by the
// probe CSV format.
func ParseProtocol(s string) (Protocol, error) {
	switch lower(s) {
	case "udp":
		return ProtocolUDP, nil
	case "icmp":
		return ProtocolICMP, nil
	case "icmpv6":
		return ProtocolICMPv6, nil
	default:
		return 0, fmt.Errorf("unsupported protocol %q", s)
	}
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// Probe is one packet to emit.
type Probe struct {
	DstAddr  net.IP
	SrcPort  uint16
	DstPort  uint16
	TTL      uint8
	Protocol Protocol
}

// Validate checks the protocol/address-family invariant: ICMP requires an
// IPv4 destination and ICMPv6 requires an IPv6 destination.
func (p Probe) Validate() error {
	if p.DstAddr == nil {
		return fmt.Errorf("probe: dst_addr is required")
	}
	isV4 := p.DstAddr.To4() != nil
	switch p.Protocol {
	case ProtocolICMP:
		if !isV4 {
			return fmt.Errorf("probe: icmp requires an ipv4 destination, got %s", p.DstAddr)
		}
	case ProtocolICMPv6:
		if isV4 {
			return fmt.Errorf("probe: icmpv6 requires an ipv6 destination, got %s", p.DstAddr)
		}
	case ProtocolUDP:
		// no family constraint
	default:
		return fmt.Errorf("probe: unsupported protocol %s", p.Protocol)
	}
	return nil
}

// MPLSLabel is one label of a reply's MPLS label stack.
type MPLSLabel struct {
	Label          uint32
	Experimental   uint8
	BottomOfStack  bool
	TTL            uint8
}

// QuotedProbe carries the probe fields recovered from an ICMP error's
// quoted payload.
type QuotedProbe struct {
	SrcAddr  net.IP
	DstAddr  net.IP
	ID       uint16
	Size     uint16
	TTL      uint8
	Protocol Protocol
	SrcPort  uint16
	DstPort  uint16
}

// Reply is one captured packet.
type Reply struct {
	CaptureTimestampNS uint64

	ReplySrcAddr  net.IP
	ReplyDstAddr  net.IP
	ReplyID       uint16
	ReplySize     uint16
	ReplyTTL      uint8
	ReplyProtocol Protocol
	ReplyICMPType uint8
	ReplyICMPCode uint8

	MPLSLabels []MPLSLabel

	Probe QuotedProbe

	RTTNanos uint64
}
