package wire

import (
	"net"
	"time"

	"golang.org/x/net/ipv4"
)

// PacketConn is the minimal UDP transport seam a device-client actor
// needs: send/receive datagrams and cancel a blocked read via a
// deadline. *Socket implements it against a real kernel socket; tests
// inject a fake instead, the same seam the actor's upstream model uses
// for its own UDPService collaborator.
type PacketConn interface {
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)
	ReadFrom(buf []byte) (n int, addr *net.UDPAddr, err error)
	SetReadDeadline(t time.Time) error
	LocalAddr() *net.UDPAddr
	Close() error
}

// Socket wraps a real UDP socket in an ipv4.PacketConn. The actor binds
// one Socket per target and uses it for all three logical endpoints
// (control, status, resend), distinguished only by destination port.
type Socket struct {
	raw *net.UDPConn
	pc  *ipv4.PacketConn
}

// ListenSocket opens an ephemeral UDP socket bound to bindIP (empty
// string binds all interfaces).
func ListenSocket(bindIP string) (*Socket, error) {
	addr := &net.UDPAddr{IP: net.ParseIP(bindIP), Port: 0}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, err
	}
	return NewSocket(conn), nil
}

// NewSocket wraps an already-open UDP connection.
func NewSocket(conn *net.UDPConn) *Socket {
	return &Socket{raw: conn, pc: ipv4.NewPacketConn(conn)}
}

func (s *Socket) WriteToUDP(b []byte, addr *net.UDPAddr) (int, error) {
	return s.pc.WriteTo(b, nil, addr)
}

func (s *Socket) ReadFrom(buf []byte) (int, *net.UDPAddr, error) {
	n, _, src, err := s.pc.ReadFrom(buf)
	if err != nil {
		return n, nil, err
	}
	udpAddr, _ := src.(*net.UDPAddr)
	return n, udpAddr, nil
}

func (s *Socket) SetReadDeadline(t time.Time) error {
	return s.raw.SetReadDeadline(t)
}

func (s *Socket) LocalAddr() *net.UDPAddr {
	addr, _ := s.raw.LocalAddr().(*net.UDPAddr)
	return addr
}

func (s *Socket) Close() error {
	return s.raw.Close()
}
