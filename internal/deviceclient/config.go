package deviceclient

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/ipbus-deviceclient/internal/wire"
)

const (
	defaultResponseTimeout = 1000 * time.Millisecond
	defaultStatusAttempts  = 2
	defaultInboxCapacity   = 4096
	// maxRetries is hard-coded per spec: up to 3 status-assisted retries
	// before a control timeout is reported.
	maxRetries = 3
)

// Config configures a single target actor. Logger and Clock default to
// slog.Default() and the real clock when left nil; Conn defaults
// to a freshly-opened ephemeral UDP socket bound to BindIP.
type Config struct {
	// BindIP is the local address the actor's socket binds to. Empty
	// binds all interfaces.
	BindIP string

	// TResponse is the per-send timeout for both the control and status
	// channels (spec §6, T_response).
	TResponse time.Duration

	// NStatusAttempts bounds how many times the status prober (and, by
	// extension, the synchronous "learn next_id" bootstrap) will send
	// before giving up (spec §6, N_status_attempts).
	NStatusAttempts int

	// InboxCapacity bounds the actor's enqueue mailbox. Enqueue blocks
	// once it is full; this is a deliberate backpressure valve rather
	// than an unbounded queue.
	InboxCapacity int

	Clock  clockwork.Clock
	Logger *slog.Logger

	// Conn overrides the actor's transport. Left nil in production; tests
	// inject a fake wire.PacketConn here to make the three suspension
	// points (mailbox, socket, timer) observable per spec §9.
	Conn wire.PacketConn
}

// Validate fills in defaults for zero-valued fields and rejects
// out-of-range configuration.
func (c *Config) Validate() error {
	if c.TResponse == 0 {
		c.TResponse = defaultResponseTimeout
	}
	if c.TResponse < 0 {
		return fmt.Errorf("deviceclient: TResponse must be positive, got %s", c.TResponse)
	}
	if c.NStatusAttempts == 0 {
		c.NStatusAttempts = defaultStatusAttempts
	}
	if c.NStatusAttempts < 1 {
		return fmt.Errorf("deviceclient: NStatusAttempts must be >= 1, got %d", c.NStatusAttempts)
	}
	if c.InboxCapacity == 0 {
		c.InboxCapacity = defaultInboxCapacity
	}
	if c.InboxCapacity < 1 {
		return fmt.Errorf("deviceclient: InboxCapacity must be >= 1, got %d", c.InboxCapacity)
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}
