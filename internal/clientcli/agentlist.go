package clientcli

import (
	"fmt"
	"net"
	"strings"
)

// ClientAgent is one target agent the client tool addresses probes to.
type ClientAgent struct {
	Name string
	Addr net.IP
}

// ParseAgentList parses a comma-separated agent_name:ip_address list,
// e.g. "a1:[2001:db8::1],a2:192.168.1.1". IPv6 addresses must be
// bracketed to disambiguate the name/address separator from the
// address's own colons. Order is preserved.
func ParseAgentList(s string) ([]ClientAgent, error) {
	parts := strings.Split(s, ",")
	agents := make([]ClientAgent, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		agent, err := parseAgentSpec(part)
		if err != nil {
			return nil, fmt.Errorf("clientcli: agent spec %q: %w", part, err)
		}
		agents = append(agents, agent)
	}
	if len(agents) == 0 {
		return nil, fmt.Errorf("clientcli: agent list is empty")
	}
	return agents, nil
}

func parseAgentSpec(spec string) (ClientAgent, error) {
	name, addrPart, ok := strings.Cut(spec, ":")
	if !ok {
		return ClientAgent{}, fmt.Errorf("missing ':' separator")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return ClientAgent{}, fmt.Errorf("empty agent name")
	}

	addrStr := strings.TrimSpace(addrPart)
	if strings.HasPrefix(addrStr, "[") {
		closing := strings.Index(addrStr, "]")
		if closing < 0 {
			return ClientAgent{}, fmt.Errorf("unterminated '[' in bracketed address %q", addrStr)
		}
		addrStr = addrStr[1:closing]
	}
	if addrStr == "" {
		return ClientAgent{}, fmt.Errorf("empty address")
	}

	addr := net.ParseIP(addrStr)
	if addr == nil {
		return ClientAgent{}, fmt.Errorf("invalid address %q", addrStr)
	}
	return ClientAgent{Name: name, Addr: addr}, nil
}
