package deviceclient

import (
	"net"
	"sync"
	"time"
)

// fakeSocket is a scripted wire.PacketConn: WriteToUDP records outgoing
// datagrams by destination port, and ReadFrom delivers datagrams pushed
// onto inbound via deliver. It exists to make the actor's socket
// suspension point observable to tests per spec §9.
type fakeSocket struct {
	inbound   chan []byte
	closeCh   chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	sent     []sentDatagram
	deadline time.Time
}

type sentDatagram struct {
	Port int
	Data []byte
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		inbound: make(chan []byte, 16),
		closeCh: make(chan struct{}),
	}
}

func (f *fakeSocket) WriteToUDP(b []byte, addr *net.UDPAddr) (int, error) {
	cp := append([]byte(nil), b...)
	f.mu.Lock()
	f.sent = append(f.sent, sentDatagram{Port: addr.Port, Data: cp})
	f.mu.Unlock()
	return len(b), nil
}

type fakeTimeoutErr struct{}

func (fakeTimeoutErr) Error() string   { return "fakesocket: i/o timeout" }
func (fakeTimeoutErr) Timeout() bool   { return true }
func (fakeTimeoutErr) Temporary() bool { return true }

func (f *fakeSocket) ReadFrom(buf []byte) (int, *net.UDPAddr, error) {
	f.mu.Lock()
	d := f.deadline
	f.mu.Unlock()

	var timeoutCh <-chan time.Time
	if !d.IsZero() {
		timeoutCh = time.After(time.Until(d))
	}

	select {
	case b, ok := <-f.inbound:
		if !ok {
			return 0, nil, net.ErrClosed
		}
		n := copy(buf, b)
		return n, nil, nil
	case <-f.closeCh:
		return 0, nil, net.ErrClosed
	case <-timeoutCh:
		return 0, nil, fakeTimeoutErr{}
	}
}

func (f *fakeSocket) SetReadDeadline(t time.Time) error {
	f.mu.Lock()
	f.deadline = t
	f.mu.Unlock()
	return nil
}

func (f *fakeSocket) LocalAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9}
}

func (f *fakeSocket) Close() error {
	f.closeOnce.Do(func() { close(f.closeCh) })
	return nil
}

// deliver injects an inbound datagram, as if it had arrived on the
// socket from the target.
func (f *fakeSocket) deliver(b []byte) {
	f.inbound <- append([]byte(nil), b...)
}

// sentTo returns a copy of every datagram written to the given
// destination port, in send order.
func (f *fakeSocket) sentTo(port int) []sentDatagram {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentDatagram
	for _, s := range f.sent {
		if s.Port == port {
			out = append(out, s)
		}
	}
	return out
}
