// Package clientcli implements the client-side parsing used by the
// `saimiris client` subcommand: the probe CSV format and the
// agent-list specification. Grounded on the teacher's
// controlplane/internet-latency-collector CSV handling style
// (encoding/csv, trimmed fields, explicit per-row error wrapping).
package clientcli

import (
	"encoding/csv"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/malbeclabs/saimiris/internal/probe"
)

// ParseProbeCSV reads headerless rows of
// dst_addr,src_port,dst_port,ttl,protocol into probes. Fields are
// trimmed; protocol is case-insensitive udp|icmp|icmpv6.
func ParseProbeCSV(r io.Reader) ([]probe.Probe, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 5
	reader.TrimLeadingSpace = true

	var probes []probe.Probe
	row := 0
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("clientcli: probe csv row %d: %w", row, err)
		}
		row++

		p, err := parseProbeRow(rec)
		if err != nil {
			return nil, fmt.Errorf("clientcli: probe csv row %d: %w", row, err)
		}
		probes = append(probes, p)
	}
	return probes, nil
}

func parseProbeRow(rec []string) (probe.Probe, error) {
	dstAddr := net.ParseIP(strings.TrimSpace(rec[0]))
	if dstAddr == nil {
		return probe.Probe{}, fmt.Errorf("invalid dst_addr %q", rec[0])
	}

	srcPort, err := parsePort(rec[1], "src_port")
	if err != nil {
		return probe.Probe{}, err
	}
	dstPort, err := parsePort(rec[2], "dst_port")
	if err != nil {
		return probe.Probe{}, err
	}

	ttl, err := strconv.ParseUint(strings.TrimSpace(rec[3]), 10, 8)
	if err != nil {
		return probe.Probe{}, fmt.Errorf("invalid ttl %q: %w", rec[3], err)
	}

	proto, err := probe.ParseProtocol(strings.TrimSpace(rec[4]))
	if err != nil {
		return probe.Probe{}, fmt.Errorf("invalid protocol: %w", err)
	}

	p := probe.Probe{
		DstAddr:  dstAddr,
		SrcPort:  uint16(srcPort),
		DstPort:  uint16(dstPort),
		TTL:      uint8(ttl),
		Protocol: proto,
	}
	if err := p.Validate(); err != nil {
		return probe.Probe{}, err
	}
	return p, nil
}

func parsePort(s, field string) (uint64, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, s, err)
	}
	return v, nil
}
