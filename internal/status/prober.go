// Package status implements the synchronous status-port probe a device
// client uses to learn a target's next-expected packet id during
// recovery, and on the first request to a target whose next id is not
// yet known.
package status

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/ipbus-deviceclient/internal/wire"
)

// ErrTimeout is returned once Attempts sends have all gone unanswered.
var ErrTimeout = errors.New("status: target did not respond within attempt budget")

// ErrMalformed is returned when a reply arrived but its layout did not
// match the fixed status-reply shape.
var ErrMalformed = errors.New("status: reply did not match expected layout")

const requestWord uint32 = 0x200000F1

// replyMinLen is 4 (echoed word) + 4 (ignored word) + 4 (NrBuffers) + 1
// (0x20) + 2 (NextId) + 1 (0xF0).
const replyMinLen = 16

// BuildRequest returns the 64-byte status probe datagram: sixteen
// repetitions of the big-endian word 0x200000F1.
func BuildRequest() []byte {
	req := make([]byte, 64)
	for i := 0; i < 16; i++ {
		binary.BigEndian.PutUint32(req[i*4:i*4+4], requestWord)
	}
	return req
}

// Outcome is the parsed content of a successful status reply.
type Outcome struct {
	NrBuffers      uint32
	NextExpectedID wire.ID
}

// Transport is the send/receive seam the prober needs: one outgoing
// datagram per attempt, and a receive with a per-attempt timeout. The
// device client implements this over the actor's shared socket and
// inbound-datagram channel; tests implement it directly.
type Transport interface {
	Send(payload []byte) error
	Recv(timeout time.Duration) (b []byte, ok bool)
}

// Prober issues a status-port probe/retry cycle per spec §4.2.
type Prober struct {
	transport Transport
	clock     clockwork.Clock
	attempts  int
	timeout   time.Duration
	metrics   *Metrics
}

// NewProber constructs a Prober. attempts must be >= 1; it is the total
// number of sends, inclusive of the first (N_status_attempts in the
// wire-level spec).
func NewProber(transport Transport, clock clockwork.Clock, attempts int, timeout time.Duration, metrics *Metrics) *Prober {
	if attempts < 1 {
		attempts = 1
	}
	if metrics == nil {
		metrics = NewMetrics("unknown")
	}
	return &Prober{
		transport: transport,
		clock:     clock,
		attempts:  attempts,
		timeout:   timeout,
		metrics:   metrics,
	}
}

// Probe sends the status request, retrying up to attempts times, and
// returns the parsed outcome or ErrTimeout/ErrMalformed.
func (p *Prober) Probe() (Outcome, error) {
	req := BuildRequest()

	for attempt := 0; attempt < p.attempts; attempt++ {
		if err := p.transport.Send(req); err != nil {
			p.metrics.emitOutcome("send_error")
			continue
		}
		b, ok := p.transport.Recv(p.timeout)
		if !ok {
			continue
		}
		out, err := parseReply(b)
		if err != nil {
			p.metrics.emitOutcome("malformed")
			return Outcome{}, ErrMalformed
		}
		p.metrics.emitOutcome("success")
		return out, nil
	}

	p.metrics.emitOutcome("timeout")
	return Outcome{}, ErrTimeout
}

func parseReply(b []byte) (Outcome, error) {
	if len(b) < replyMinLen {
		return Outcome{}, ErrMalformed
	}
	if binary.BigEndian.Uint32(b[0:4]) != requestWord {
		return Outcome{}, ErrMalformed
	}
	nrBuffers := binary.BigEndian.Uint32(b[8:12])
	if b[12] != 0x20 {
		return Outcome{}, ErrMalformed
	}
	nextID := binary.BigEndian.Uint16(b[13:15])
	if b[15] != 0xF0 {
		return Outcome{}, ErrMalformed
	}
	return Outcome{NrBuffers: nrBuffers, NextExpectedID: wire.ID(nextID)}, nil
}
