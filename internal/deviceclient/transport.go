package deviceclient

import (
	"net"
	"time"

	"github.com/malbeclabs/ipbus-deviceclient/internal/status"
)

// statusTransport implements status.Transport over the actor's own
// socket and inbound-datagram channel. It is only ever used from
// inside the actor's run loop, synchronously, while no other read of
// udpIn is in progress.
type statusTransport struct {
	c *Client
}

func (t *statusTransport) Send(payload []byte) error {
	_, err := t.c.sock.WriteToUDP(payload, t.c.statusAddr)
	if err != nil {
		t.c.metrics.emitWriteSocketError()
	}
	return err
}

func (t *statusTransport) Recv(timeout time.Duration) ([]byte, bool) {
	timer := t.c.clock.NewTimer(timeout)
	defer timer.Stop()
	select {
	case b := <-t.c.udpIn:
		return b, true
	case <-timer.Chan():
		return nil, false
	case <-t.c.ctx.Done():
		return nil, false
	}
}

var _ status.Transport = (*statusTransport)(nil)

// sendResend writes the 4-byte 0xDEADBEEF "please retransmit" request
// to the resend port.
func (c *Client) sendResend() error {
	_, err := c.sock.WriteToUDP([]byte{0xDE, 0xAD, 0xBE, 0xEF}, c.resendAddr)
	if err != nil {
		c.metrics.emitWriteSocketError()
	}
	return err
}

func (c *Client) sendControl(b []byte) error {
	_, err := c.sock.WriteToUDP(b, c.controlAddr)
	if err != nil {
		c.metrics.emitWriteSocketError()
	}
	return err
}

func udpAddrFor(ip uint32, port uint16) *net.UDPAddr {
	return &net.UDPAddr{IP: ipv4FromUint32(ip), Port: int(port)}
}

func ipv4FromUint32(ip uint32) net.IP {
	return net.IPv4(byte(ip>>24), byte(ip>>16), byte(ip>>8), byte(ip))
}

func uint32FromIPv4(ip net.IP) uint32 {
	ip4 := ip.To4()
	if ip4 == nil {
		return 0
	}
	return uint32(ip4[0])<<24 | uint32(ip4[1])<<16 | uint32(ip4[2])<<8 | uint32(ip4[3])
}
