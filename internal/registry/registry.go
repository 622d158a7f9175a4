// Package registry implements the external collaborator spec §6 assumes
// but does not define: a concurrent map from (ipv4, udp_port) to the
// single device-client actor that owns that target, with idempotent,
// side-effecting get-or-create semantics. Exactly one Client is ever
// created per target for the lifetime of the process.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/malbeclabs/ipbus-deviceclient/internal/deviceclient"
	"github.com/malbeclabs/ipbus-deviceclient/internal/protocol"
)

// Target identifies a device-client actor by the pair spec §3 keys
// it on: IPv4 address and UDP control port.
type Target struct {
	IPv4 uint32
	Port uint16
}

func (t Target) String() string {
	ip := net.IPv4(byte(t.IPv4>>24), byte(t.IPv4>>16), byte(t.IPv4>>8), byte(t.IPv4))
	return fmt.Sprintf("%s:%d", ip, t.Port)
}

// ParseTarget parses an "ip:port" string (the form command-line flags
// and config files use) into a Target.
func ParseTarget(s string) (Target, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Target{}, fmt.Errorf("registry: invalid target %q: %w", s, err)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return Target{}, fmt.Errorf("registry: invalid target %q: not an IP address", s)
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return Target{}, fmt.Errorf("registry: invalid target %q: not an IPv4 address", s)
	}
	var port uint
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil || port == 0 || port > 0xFFFF {
		return Target{}, fmt.Errorf("registry: invalid target %q: bad port", s)
	}
	ipv4 := uint32(ip4[0])<<24 | uint32(ip4[1])<<16 | uint32(ip4[2])<<8 | uint32(ip4[3])
	return Target{IPv4: ipv4, Port: uint16(port)}, nil
}

// Registry is a get-or-create map of target actors, grounded on the
// sessions-keyed-by-identity pattern of internal/liveness/manager.go's
// Manager. It is safe for concurrent use.
type Registry struct {
	mu  sync.Mutex
	cfg deviceclient.Config
	log *slog.Logger

	ctx     context.Context
	clients map[Target]*deviceclient.Client
}

// New returns an empty Registry. ctx governs the lifetime of every
// actor it creates; cancelling it tears down every actor at once.
// cfg is cloned per actor (each gets its own socket, logger and
// metrics label).
func New(ctx context.Context, cfg deviceclient.Config, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		cfg:     cfg,
		log:     log,
		ctx:     ctx,
		clients: make(map[Target]*deviceclient.Client),
	}
}

// GetOrCreate returns the actor for target, creating and starting it on
// first use. Concurrent callers racing on the same target observe the
// same *deviceclient.Client; only one socket is ever opened for it.
func (r *Registry) GetOrCreate(ipv4 uint32, port uint16) (*deviceclient.Client, error) {
	target := Target{IPv4: ipv4, Port: port}

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[target]; ok {
		return c, nil
	}

	c, err := deviceclient.NewClient(r.ctx, r.cfg, ipv4, port)
	if err != nil {
		return nil, fmt.Errorf("registry: start actor for target %s: %w", target, err)
	}
	r.log.Info("started device-client actor", "target", target)
	r.clients[target] = c
	return c, nil
}

// Enqueue resolves the actor for (ipv4, port), starting it if necessary,
// and submits request to it. It is the public API's enqueue operation
// from spec §4.5.
func (r *Registry) Enqueue(ipv4 uint32, port uint16, request []byte, handler protocol.Handler) error {
	c, err := r.GetOrCreate(ipv4, port)
	if err != nil {
		return err
	}
	c.Enqueue(request, handler)
	return nil
}

// Close releases every actor this registry has created. Best-effort:
// it records but does not abort on individual close errors.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for target, c := range r.clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("registry: close actor for target %s: %w", target, err)
		}
	}
	return firstErr
}

// Len reports how many actors this registry currently owns. Intended
// for metrics/diagnostics, not control flow.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}
