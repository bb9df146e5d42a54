// Package rawconn provides raw packet injection handles bound to one
// source address on one interface, adapted from the teacher's PIM
// raw-socket send path (interface binding, IPv4 header construction,
// checksum stamping) and its TWAMP-light sender's SO_BINDTODEVICE setup.
package rawconn

import (
	"context"
	"fmt"
	"net"
	"syscall"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
	"golang.org/x/sys/unix"
)

// IP protocol numbers carried in the IPv4 header / next-header field.
const (
	ProtocolICMP   = 1
	ProtocolUDP    = 17
	ProtocolICMPv6 = 58
)

// Handle is a cached raw-injection handle bound to one source address on
// one interface. The send loop opens one handle per distinct source
// address it observes and caches it for the instance's lifetime.
type Handle struct {
	source net.IP
	iface  string
	v4     *ipv4.RawConn
	v6     *ipv6.PacketConn
}

// New opens a raw-injection handle for sourceIP on iface, bounded by
// timeout. IPv4 and IPv6 sources are distinguished by address parse, as
// the spec requires.
func New(ctx context.Context, sourceIP net.IP, iface string, timeout time.Duration) (*Handle, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		h   *Handle
		err error
	}
	done := make(chan result, 1)
	go func() {
		if v4 := sourceIP.To4(); v4 != nil {
			h, err := newIPv4Handle(v4, iface)
			done <- result{h, err}
			return
		}
		h, err := newIPv6Handle(sourceIP, iface)
		done <- result{h, err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("rawconn: opening handle for %s on %s: %w", sourceIP, iface, ctx.Err())
	case res := <-done:
		return res.h, res.err
	}
}

func newIPv4Handle(sourceIP net.IP, iface string) (*Handle, error) {
	packetConn, err := net.ListenPacket("ip4:icmp", sourceIP.String())
	if err != nil {
		return nil, fmt.Errorf("rawconn: listen ip4 on %s: %w", sourceIP, err)
	}
	if err := bindToDevice(packetConn, iface); err != nil {
		packetConn.Close()
		return nil, err
	}
	raw, err := ipv4.NewRawConn(packetConn)
	if err != nil {
		packetConn.Close()
		return nil, fmt.Errorf("rawconn: new raw conn: %w", err)
	}
	return &Handle{source: sourceIP, iface: iface, v4: raw}, nil
}

func newIPv6Handle(sourceIP net.IP, iface string) (*Handle, error) {
	packetConn, err := net.ListenPacket("ip6:ipv6-icmp", sourceIP.String())
	if err != nil {
		return nil, fmt.Errorf("rawconn: listen ip6 on %s: %w", sourceIP, err)
	}
	if err := bindToDevice(packetConn, iface); err != nil {
		packetConn.Close()
		return nil, err
	}
	pc := ipv6.NewPacketConn(packetConn)
	if err := pc.SetControlMessage(ipv6.FlagHopLimit, true); err != nil {
		packetConn.Close()
		return nil, fmt.Errorf("rawconn: set control message: %w", err)
	}
	return &Handle{source: sourceIP, iface: iface, v6: pc}, nil
}

// syscallConner is implemented by *net.IPConn, satisfied via the
// standard syscall.Conn interface.
type syscallConner interface {
	SyscallConn() (syscall.RawConn, error)
}

func bindToDevice(pc net.PacketConn, iface string) error {
	if iface == "" {
		return nil
	}
	sc, ok := pc.(syscallConner)
	if !ok {
		return fmt.Errorf("rawconn: connection does not support SO_BINDTODEVICE")
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return fmt.Errorf("rawconn: syscall conn: %w", err)
	}
	var setErr error
	err = raw.Control(func(fd uintptr) {
		setErr = unix.SetsockoptString(int(fd), unix.SOL_SOCKET, unix.SO_BINDTODEVICE, iface)
	})
	if err != nil {
		return fmt.Errorf("rawconn: control: %w", err)
	}
	if setErr != nil {
		return fmt.Errorf("rawconn: SO_BINDTODEVICE(%q): %w", iface, setErr)
	}
	return nil
}

// Send transmits one raw packet: dstAddr and ttl become the IP header's
// destination and hop limit; protocol is the IP protocol number carried
// in the header (ICMP, ICMPv6 or UDP); payload is everything after the
// IP header (the L4 header plus the probe's checksum-stamped body).
func (h *Handle) Send(dstAddr net.IP, ttl uint8, protocol int, payload []byte) error {
	if h.v4 != nil {
		return h.sendIPv4(dstAddr, ttl, protocol, payload)
	}
	return h.sendIPv6(dstAddr, ttl, protocol, payload)
}

func (h *Handle) sendIPv4(dstAddr net.IP, ttl uint8, protocol int, payload []byte) error {
	iph := &ipv4.Header{
		Version:  4,
		Len:      ipv4.HeaderLen,
		TOS:      0,
		TotalLen: ipv4.HeaderLen + len(payload),
		TTL:      int(ttl),
		Protocol: protocol,
		Dst:      dstAddr.To4(),
		Src:      h.source.To4(),
	}
	return h.v4.WriteTo(iph, payload, nil)
}

func (h *Handle) sendIPv6(dstAddr net.IP, ttl uint8, protocol int, payload []byte) error {
	cm := &ipv6.ControlMessage{HopLimit: int(ttl)}
	_, err := h.v6.WriteTo(payload, cm, &net.IPAddr{IP: dstAddr})
	return err
}

// Close releases the handle's underlying socket.
func (h *Handle) Close() error {
	if h.v4 != nil {
		return h.v4.Close()
	}
	if h.v6 != nil {
		return h.v6.Close()
	}
	return nil
}
