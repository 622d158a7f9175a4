// Package deviceclient implements the single-flight engine that
// mediates all IPbus traffic to one hardware target: a FIFO queue of
// pending requests, at most one packet in flight, response
// demultiplexing, and the timeout/recovery state machine that decides
// between resending a request, asking for a reply to be resent, or
// giving up.
package deviceclient

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/ipbus-deviceclient/internal/protocol"
	"github.com/malbeclabs/ipbus-deviceclient/internal/retry"
	"github.com/malbeclabs/ipbus-deviceclient/internal/status"
	"github.com/malbeclabs/ipbus-deviceclient/internal/wire"
)

// sessionState names the three states of the engine's state machine.
// Recovering is transient: it only exists for the duration of
// handleTimeout and is never observable between events.
type sessionState uint8

const (
	stateIdle sessionState = iota
	stateAwaiting
	stateRecovering
)

func (s sessionState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateAwaiting:
		return "awaiting"
	case stateRecovering:
		return "recovering"
	default:
		return "unknown"
	}
}

type enqueueMsg struct {
	reqBytes []byte
	handler  protocol.Handler
}

// inFlightRecord is the one outstanding request an actor may hold, per
// spec §3.
type inFlightRecord struct {
	modifiedHeader   [4]byte
	modifiedPacket   []byte
	originalHeader   [4]byte
	sendTimestamp    time.Time
	retryCount       int
	handler          protocol.Handler
	stampedID        wire.ID
	isV2             bool
}

// Client is the per-target actor. Exactly one exists for each
// (ipv4, port) pair for the lifetime of the process; see the registry
// package for how that invariant is enforced.
type Client struct {
	targetIPv4 uint32
	targetPort uint16

	controlAddr *net.UDPAddr
	statusAddr  *net.UDPAddr
	resendAddr  *net.UDPAddr

	sock  wire.PacketConn
	clock clockwork.Clock
	log   *slog.Logger

	cfg     Config
	metrics *Metrics
	prober  *status.Prober

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	inbox chan enqueueMsg
	udpIn chan []byte

	// Throttles repeated socket-error warnings in readLoop so a
	// persistently unreachable target doesn't flood the log. Touched
	// only from readLoop, its own single goroutine.
	readErrWarnEvery time.Duration
	readErrWarnLast  time.Time

	// Session state. Touched only from the run-loop goroutine; no lock
	// is needed because the actor processes exactly one event at a time.
	state        sessionState
	ipbusVersion wire.Version
	nextID       wire.ID
	inFlight     *inFlightRecord
	queue        []enqueueMsg
}

// NewClient opens the actor's socket and starts its goroutines. ctx
// governs the actor's lifetime; cancelling it stops the goroutines and
// drops the queue. Only Close releases the socket.
func NewClient(ctx context.Context, cfg Config, targetIPv4 uint32, targetPort uint16) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	sock := cfg.Conn
	if sock == nil {
		s, err := wire.ListenSocket(cfg.BindIP)
		if err != nil {
			return nil, fmt.Errorf("deviceclient: open socket for target %s: %w", targetLabel(targetIPv4, targetPort), err)
		}
		sock = s
	}

	runCtx, cancel := context.WithCancel(ctx)
	label := targetLabel(targetIPv4, targetPort)

	c := &Client{
		targetIPv4:       targetIPv4,
		targetPort:       targetPort,
		controlAddr:      udpAddrFor(targetIPv4, targetPort),
		statusAddr:       udpAddrFor(targetIPv4, targetPort+1),
		resendAddr:       udpAddrFor(targetIPv4, targetPort+2),
		sock:             sock,
		clock:            cfg.Clock,
		log:              cfg.Logger.With("target", label),
		cfg:              cfg,
		metrics:          NewMetrics(label),
		ctx:              runCtx,
		cancel:           cancel,
		inbox:            make(chan enqueueMsg, cfg.InboxCapacity),
		udpIn:            make(chan []byte, 8),
		readErrWarnEvery: 5 * time.Second,
		state:            stateIdle,
		ipbusVersion:     wire.VersionUnknown,
		nextID:           wire.IDNotSet,
	}
	c.prober = status.NewProber(&statusTransport{c: c}, cfg.Clock, cfg.NStatusAttempts, cfg.TResponse, status.NewMetrics(label))

	c.wg.Add(2)
	go c.readLoop()
	go c.run()

	return c, nil
}

func targetLabel(ip uint32, port uint16) string {
	return fmt.Sprintf("%s:%d", ipv4FromUint32(ip), port)
}

// Enqueue submits a request for this actor to service. It returns
// immediately; handler is invoked at most once, asynchronously, with
// the result. If the actor is closed before the request completes,
// handler is never invoked.
func (c *Client) Enqueue(reqBytes []byte, handler protocol.Handler) {
	c.metrics.emitEnqueued()
	select {
	case c.inbox <- enqueueMsg{reqBytes: reqBytes, handler: handler}:
	case <-c.ctx.Done():
	}
}

// Close releases the actor's socket and stops its goroutines. In-flight
// requesters receive no further notification; this is best-effort
// shutdown per spec §5.
func (c *Client) Close() error {
	c.cancel()
	err := c.sock.Close()
	c.wg.Wait()
	return err
}

// readLoop continuously reads datagrams off the shared socket and
// forwards them to the run loop. It never mutates session state
// directly, matching the actor's "no locks" requirement.
func (c *Client) readLoop() {
	defer c.wg.Done()
	buf := make([]byte, 2048)

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		if err := c.sock.SetReadDeadline(time.Now().Add(500 * time.Millisecond)); err != nil {
			select {
			case <-c.ctx.Done():
				return
			default:
			}
			c.warnThrottled("set read deadline failed", err)
			continue
		}

		n, _, err := c.sock.ReadFrom(buf)
		if err != nil {
			select {
			case <-c.ctx.Done():
				return
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			c.warnThrottled("socket read error", err)
			continue
		}

		cp := make([]byte, n)
		copy(cp, buf[:n])
		select {
		case c.udpIn <- cp:
		case <-c.ctx.Done():
			return
		}
	}
}

// warnThrottled logs msg at Warn level at most once per readErrWarnEvery,
// so a persistently unreachable target doesn't flood the log with
// identical socket errors. Only called from readLoop.
func (c *Client) warnThrottled(msg string, err error) {
	now := time.Now()
	if c.readErrWarnLast.IsZero() || now.Sub(c.readErrWarnLast) >= c.readErrWarnEvery {
		c.readErrWarnLast = now
		c.log.Warn(msg, "error", err)
	}
}

// run is the actor's single-threaded event loop: it processes exactly
// one of {enqueue, inbound datagram, timer fire, shutdown} per
// iteration, per spec §5.
func (c *Client) run() {
	defer c.wg.Done()

	timer := c.clock.NewTimer(24 * time.Hour)
	defer timer.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case msg := <-c.inbox:
			c.handleEnqueue(msg)
		case b := <-c.udpIn:
			c.handleReply(b)
		case <-timer.Chan():
			c.handleTimeout()
		}

		if c.state == stateAwaiting && c.inFlight != nil {
			timer.Reset(c.cfg.TResponse - c.clock.Since(c.inFlight.sendTimestamp))
		}
	}
}

func (c *Client) handleEnqueue(msg enqueueMsg) {
	c.queue = append(c.queue, msg)
	c.metrics.setQueueDepth(len(c.queue))
	if c.state == stateIdle && c.inFlight == nil {
		c.dispatchNext()
	}
}

func (c *Client) dispatchNext() {
	if len(c.queue) == 0 {
		return
	}
	head := c.queue[0]
	c.queue = c.queue[1:]
	c.metrics.setQueueDepth(len(c.queue))
	c.serviceHead(head)
}

// serviceHead implements spec §4.4.1: stamp an id, send, and arm the
// in-flight record, falling back to a one-shot status probe when the
// target's next id is not yet known.
func (c *Client) serviceHead(msg enqueueMsg) {
	var origHeader [4]byte
	copy(origHeader[:], msg.reqBytes)

	ver, out, stamped, err := wire.RewriteID(msg.reqBytes, c.nextID)
	if err != nil {
		out, stamped, err = c.bootstrapNextID(msg.reqBytes)
		if err != nil {
			c.ipbusVersion = wire.VersionUnknown
			c.nextID = wire.IDNotSet
			c.deliver(msg.handler, bootstrapErrorCode(err), nil)
			return
		}
		ver = wire.VersionV2_0
	}

	if sendErr := c.sendControl(out); sendErr != nil {
		c.log.Warn("control send failed", "error", sendErr)
	}

	var modHeader [4]byte
	copy(modHeader[:], out)

	c.inFlight = &inFlightRecord{
		modifiedHeader: modHeader,
		modifiedPacket: out,
		originalHeader: origHeader,
		sendTimestamp:  c.clock.Now(),
		retryCount:     0,
		handler:        msg.handler,
		stampedID:      stamped,
		isV2:           ver == wire.VersionV2_0,
	}
	if ver == wire.VersionV2_0 {
		c.ipbusVersion = wire.VersionV2_0
		c.nextID = wire.IncrementID(stamped)
	}
	c.state = stateAwaiting
}

// bootstrapNextID handles the one documented RewriteID failure: we know
// the request is v2.0 but don't yet know this target's next id. It
// learns the id via a synchronous status probe and retries the rewrite
// once.
func (c *Client) bootstrapNextID(reqBytes []byte) ([]byte, wire.ID, error) {
	outcome, err := c.prober.Probe()
	if err != nil {
		return nil, wire.IDNotSet, err
	}
	_, out, stamped, err := wire.RewriteID(reqBytes, outcome.NextExpectedID)
	if err != nil {
		return nil, wire.IDNotSet, err
	}
	return out, stamped, nil
}

func bootstrapErrorCode(err error) protocol.ErrorCode {
	switch err {
	case status.ErrTimeout:
		return protocol.StatusTimeout
	default:
		return protocol.MalformedStatus
	}
}

// handleReply implements spec §4.4.2.
func (c *Client) handleReply(b []byte) {
	if c.state != stateAwaiting || c.inFlight == nil {
		return
	}

	in := c.inFlight
	var payload []byte
	if in.isV2 {
		body := b
		if len(body) >= 4 {
			body = body[4:]
		} else {
			body = nil
		}
		payload = make([]byte, 0, len(in.originalHeader)+len(body))
		payload = append(payload, in.originalHeader[:]...)
		payload = append(payload, body...)
	} else {
		payload = append([]byte(nil), b...)
	}

	c.deliver(in.handler, protocol.Success, payload)
	c.inFlight = nil
	c.state = stateIdle
	c.dispatchNext()
}

// handleTimeout implements spec §4.3/§4.4: recovery for a v2 in-flight
// request, or an immediate give-up for legacy/unknown-version traffic
// (the recovery policy is only defined for v2 per spec §4.3, and the
// legacy branch is documented as otherwise unexercised).
func (c *Client) handleTimeout() {
	if c.state != stateAwaiting || c.inFlight == nil {
		return
	}

	in := c.inFlight
	if !in.isV2 || in.retryCount >= maxRetries {
		c.giveUp()
		return
	}

	c.state = stateRecovering
	outcome, probeErr := c.prober.Probe()
	decision := retry.Decide(in.stampedID, outcome, probeErr)

	switch decision.Action {
	case retry.ResendRequest:
		c.metrics.emitRetry("request_lost")
		if err := c.sendControl(in.modifiedPacket); err != nil {
			c.log.Warn("retry control send failed", "error", err)
		}
		in.retryCount++
		in.sendTimestamp = c.clock.Now()
		c.state = stateAwaiting
	case retry.ResendReply:
		c.metrics.emitRetry("reply_lost")
		if err := c.sendResend(); err != nil {
			c.log.Warn("resend request failed", "error", err)
		}
		in.retryCount++
		in.sendTimestamp = c.clock.Now()
		c.state = stateAwaiting
	case retry.Fail:
		c.deliver(in.handler, decision.ErrorCode, nil)
		c.inFlight = nil
		c.state = stateIdle
		// Queue is deliberately not drained here; see spec §9's open
		// question on give-up behaviour.
	}
}

func (c *Client) giveUp() {
	c.deliver(c.inFlight.handler, protocol.ControlTimeout, nil)
	c.inFlight = nil
	c.state = stateIdle
}

func (c *Client) deliver(handler protocol.Handler, code protocol.ErrorCode, payload []byte) {
	c.metrics.emitCompleted(uint16(code))
	resp := protocol.Response{
		Tag:          protocol.ResponseTag,
		TargetIPv4:   c.targetIPv4,
		TargetPort:   c.targetPort,
		ErrorCode:    code,
		PayloadBytes: payload,
	}
	go handler(resp)
}
