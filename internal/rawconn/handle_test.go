package rawconn

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNew_RejectsWhenUnprivileged(t *testing.T) {
	r := require.New(t)
	// Opening a raw ICMP socket requires CAP_NET_RAW; under an
	// unprivileged test runner this must fail cleanly rather than hang
	// or panic, and must respect the timeout bound.
	ctx := context.Background()
	_, err := New(ctx, net.ParseIP("127.0.0.1"), "", 2*time.Second)
	if err == nil {
		t.Skip("test runner has CAP_NET_RAW; nothing to assert")
	}
	r.Error(err)
}

func TestProtocolConstants(t *testing.T) {
	r := require.New(t)
	r.Equal(1, ProtocolICMP)
	r.Equal(17, ProtocolUDP)
	r.Equal(58, ProtocolICMPv6)
}
