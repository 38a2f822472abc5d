// Package manager owns the peer registry and decides which connections
// live.
//
// Two streams feed it: peers resolved by discovery (dial candidates) and
// raw TCP accepts from the listener. Either way a connection only enters
// the registry after a completed handshake and a trust-store decision (only
// the dialer verifies the HMAC response; an acceptor admits the peer once
// it has answered the challenge), and
// the registry never holds more than one entry per peer identity — when a
// simultaneous dial/accept pair produces two connections for the same peer,
// the deterministic UUID-order rule closes one of them.
package manager

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"go.klb.dev/cursedboard/internal/discovery"
	"go.klb.dev/cursedboard/internal/identity"
	"go.klb.dev/cursedboard/internal/peer"
	"go.klb.dev/cursedboard/internal/protocol"
	"go.klb.dev/cursedboard/internal/trust"
)

const (
	// outboundQueue bounds each peer's edit queue. When a peer is not
	// draining, the newest edit is dropped for that peer (and logged);
	// edits already queued keep their order.
	outboundQueue = 16

	eventBuffer = 32
)

// State is a registry entry's lifecycle stage.
type State int

const (
	StateConnecting State = iota
	StateConnected
)

func (s State) String() string {
	if s == StateConnecting {
		return "connecting"
	}
	return "connected"
}

type role int

const (
	roleOutbound role = iota
	roleInbound
)

type entry struct {
	state    State
	role     role
	addr     string
	name     string
	outbound chan peer.Edit
	conn     *peer.Conn // nil while a dial is still handshaking
}

// PeerStatus is a snapshot of one registry entry for the control surface.
type PeerStatus struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Addr  string    `json:"addr"`
	State string    `json:"state"`
}

// Manager owns the registry and lifts every connection's events into a
// single inbound stream.
type Manager struct {
	inst  identity.Instance
	psk   string
	trust *trust.Store
	log   *slog.Logger

	mu    sync.Mutex
	peers map[uuid.UUID]*entry

	out  chan peer.Event
	done chan struct{}

	pairMu    sync.Mutex
	pairUntil time.Time

	// forget clears a peer from discovery's seen-set after disconnect so
	// the next mDNS re-resolution can trigger a redial.
	forget func(uuid.UUID)
}

// New creates a Manager around the given identity, PSK, and trust store.
func New(inst identity.Instance, psk string, ts *trust.Store) *Manager {
	return &Manager{
		inst:  inst,
		psk:   psk,
		trust: ts,
		log:   slog.With("subsystem", "manager"),
		peers: make(map[uuid.UUID]*entry),
		out:   make(chan peer.Event, eventBuffer),
		done:  make(chan struct{}),
	}
}

// SetForget installs the discovery seen-set hook. Call before Run.
func (m *Manager) SetForget(f func(uuid.UUID)) { m.forget = f }

// Events returns the single inbound event stream: Connected, Clipboard,
// and Disconnected across all peers.
func (m *Manager) Events() <-chan peer.Event { return m.out }

// Instance returns the identity the manager announces.
func (m *Manager) Instance() identity.Instance { return m.inst }

// EnablePairing opens a pairing window: until it expires, group and
// trust-store gates are bypassed and new peers are trusted on handshake.
func (m *Manager) EnablePairing(d time.Duration) {
	m.pairMu.Lock()
	m.pairUntil = time.Now().Add(d)
	m.pairMu.Unlock()
	m.log.Info("pairing mode enabled", "window", d)
}

// PairingActive reports whether a pairing window is open.
func (m *Manager) PairingActive() bool {
	m.pairMu.Lock()
	defer m.pairMu.Unlock()
	return time.Now().Before(m.pairUntil)
}

// Run serves the listener and the discovery stream until ctx is cancelled,
// then closes every live connection.
func (m *Manager) Run(ctx context.Context, ln net.Listener, discovered <-chan discovery.Peer) error {
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
					m.log.Error("accept failed", "err", err)
				}
				return
			}
			go m.handleInbound(c)
		}
	}()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case p, ok := <-discovered:
				if !ok {
					return
				}
				m.HandleDiscovered(ctx, p)
			}
		}
	}()

	<-ctx.Done()
	_ = ln.Close()
	m.closeAll()
	close(m.done)
	return nil
}

// HandleDiscovered applies the dial decision to one discovered peer.
func (m *Manager) HandleDiscovered(ctx context.Context, p discovery.Peer) {
	if p.ID == m.inst.ID {
		m.log.Debug("ignoring self-discovery")
		return
	}

	pairing := m.PairingActive()
	if p.Group != m.inst.Group && !pairing {
		m.log.Debug("ignoring peer, group mismatch",
			"peer", p.ID, "theirs", p.Group, "ours", m.inst.Group)
		return
	}
	if !m.trust.Empty() && !m.trust.IsTrusted(p.ID) && !pairing {
		m.log.Debug("ignoring peer, not trusted and not pairing", "peer", p.ID)
		return
	}

	m.mu.Lock()
	if _, ok := m.peers[p.ID]; ok {
		m.mu.Unlock()
		return
	}
	m.peers[p.ID] = &entry{state: StateConnecting, addr: p.Addr, name: p.Name}
	m.mu.Unlock()

	go m.dial(ctx, p)
}

func (m *Manager) dial(ctx context.Context, p discovery.Peer) {
	log := m.log.With("peer", p.ID, "addr", p.Addr)

	c, err := peer.Dial(ctx, p.Addr)
	if err != nil {
		log.Warn("dial failed", "err", err)
		m.removePlaceholder(p.ID)
		return
	}

	if err := c.HandshakeOutbound(m.inst.ID, m.inst.DeviceName, m.psk); err != nil {
		if errors.Is(err, protocol.ErrAuthFailed) {
			log.Info("handshake rejected", "err", err)
		} else {
			log.Warn("handshake failed", "err", err)
		}
		_ = c.Close()
		m.removePlaceholder(p.ID)
		return
	}

	m.admit(c, roleOutbound)
}

func (m *Manager) handleInbound(raw net.Conn) {
	log := m.log.With("addr", raw.RemoteAddr().String())
	log.Debug("incoming connection")

	c := peer.Accept(raw)
	if err := c.HandshakeInbound(m.inst.ID, m.inst.DeviceName, m.psk); err != nil {
		if errors.Is(err, protocol.ErrAuthFailed) {
			log.Info("handshake rejected", "err", err)
		} else {
			log.Warn("handshake failed", "err", err)
		}
		_ = c.Close()
		return
	}

	m.admit(c, roleInbound)
}

// admit installs a handshaken connection into the registry, applying the
// self check, the trust gate, and the dedup rule, then starts its task.
func (m *Manager) admit(c *peer.Conn, r role) {
	id := c.RemoteID()
	log := m.log.With("peer", id, "name", c.RemoteName())

	if id == m.inst.ID {
		log.Debug("closing self-connection")
		_ = c.Close()
		m.removePlaceholder(id)
		return
	}

	if !m.trust.Admit(id, c.RemoteName(), m.PairingActive()) {
		log.Info("closing connection from untrusted peer")
		_ = c.Close()
		m.removePlaceholder(id)
		return
	}

	e := &entry{
		state:    StateConnected,
		role:     r,
		addr:     c.RemoteAddr().String(),
		name:     c.RemoteName(),
		outbound: make(chan peer.Edit, outboundQueue),
		conn:     c,
	}

	var evicted *peer.Conn
	m.mu.Lock()
	existing := m.peers[id]
	switch {
	case existing == nil:
		m.peers[id] = e

	case existing.conn == nil:
		// Our own dial's placeholder. An outbound admit upgrades it; an
		// inbound admit racing the dial is resolved by the dedup rule —
		// the losing side is turned away here (inbound loses) or when the
		// dial's handshake completes (outbound loses, below).
		if r == roleInbound && m.winnerRole(id) != roleInbound {
			m.mu.Unlock()
			log.Debug("closing duplicate connection", "kept", "outbound")
			_ = c.Close()
			return
		}
		m.peers[id] = e

	default:
		// Second live connection for the same peer: keep the one whose
		// direction the UUID order elects, close the other.
		winner := m.winnerRole(id)
		if r == winner && existing.role != winner {
			evicted = existing.conn
			m.peers[id] = e
		} else {
			m.mu.Unlock()
			log.Debug("closing duplicate connection", "kept", existing.role.String())
			_ = c.Close()
			return
		}
	}
	m.mu.Unlock()

	if evicted != nil {
		log.Debug("closing duplicate connection", "kept", r.String())
		_ = evicted.Close()
	}

	log.Info("peer connected", "addr", e.addr, "direction", r.String())
	go m.serve(id, e)
}

// serve runs the connection task and owns the entry's removal. The
// Disconnected event of a connection that lost a dedup race after starting
// is dropped, so the consumer never sees a Disconnected for a peer that is
// still connected.
func (m *Manager) serve(id uuid.UUID, e *entry) {
	events := make(chan peer.Event, 8)
	go func() {
		e.conn.Serve(events, e.outbound)
		close(events)
	}()

	for ev := range events {
		if ev.Kind == peer.EventDisconnected {
			m.mu.Lock()
			replaced := m.peers[id] != e
			if !replaced {
				delete(m.peers, id)
			}
			m.mu.Unlock()
			if replaced {
				continue
			}
			if m.forget != nil {
				m.forget(id)
			}
		}
		m.emit(ev)
	}
}

func (m *Manager) emit(ev peer.Event) {
	select {
	case m.out <- ev:
	case <-m.done:
	}
}

// winnerRole returns the direction that survives a dial/accept race with
// the given peer: the connection whose remote identity compares greater
// than ours is the one we accepted.
func (m *Manager) winnerRole(remote uuid.UUID) role {
	if bytes.Compare(remote[:], m.inst.ID[:]) > 0 {
		return roleInbound
	}
	return roleOutbound
}

// removePlaceholder drops a Connecting entry that never produced a live
// connection. Entries already upgraded by a racing accept are left alone.
func (m *Manager) removePlaceholder(id uuid.UUID) {
	m.mu.Lock()
	if e, ok := m.peers[id]; ok && e.state == StateConnecting && e.conn == nil {
		delete(m.peers, id)
	}
	m.mu.Unlock()
}

// Broadcast enqueues a local clipboard edit to every connected peer. Each
// peer's queue is bounded; a full queue drops this edit for that peer.
func (m *Manager) Broadcast(edit peer.Edit) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.peers {
		if e.state != StateConnected {
			continue
		}
		select {
		case e.outbound <- edit:
		default:
			m.log.Warn("peer not draining, dropping edit", "peer", id)
		}
	}
}

// Peers returns a snapshot of the registry.
func (m *Manager) Peers() []PeerStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PeerStatus, 0, len(m.peers))
	for id, e := range m.peers {
		out = append(out, PeerStatus{ID: id, Name: e.name, Addr: e.addr, State: e.state.String()})
	}
	return out
}

func (m *Manager) closeAll() {
	m.mu.Lock()
	conns := make([]*peer.Conn, 0, len(m.peers))
	for _, e := range m.peers {
		if e.conn != nil {
			conns = append(conns, e.conn)
		}
	}
	m.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

func (r role) String() string {
	if r == roleInbound {
		return "inbound"
	}
	return "outbound"
}
