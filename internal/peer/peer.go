// Package peer runs a single authenticated connection to another
// cursedboard instance.
//
// Both handshake directions share one state machine; the role only decides
// which side sends its Hello first and which side issues the challenge:
//
//	Outbound                                   Inbound
//	 ── Hello(our id, our name) ──────────────▶
//	                            ◀────── Hello(their id, their name) ──
//	 ── Auth(challenge, ·) ───────────────────▶
//	                            ◀────────── Auth(·, hmac response) ──
//
// Only the dialer verifies the response; the acceptor enters the steady
// state as soon as it has answered, and learns of a key mismatch when the
// dialer hangs up. In the steady state inbound
// frames are lifted into the shared event stream while queued local edits
// are written out, until an I/O error ends the connection.
package peer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"go.klb.dev/cursedboard/internal/protocol"
)

const (
	// handshakeTimeout bounds the whole handshake, every read included.
	handshakeTimeout = 5 * time.Second

	// pingInterval is how long a connection may sit idle before a Ping is
	// sent; a connection silent for two intervals is considered dead.
	pingInterval = 15 * time.Second
)

// Edit is one local clipboard change queued for a peer. Timestamp is the
// local wall clock at detection time, in unix milliseconds.
type Edit struct {
	Content   string
	Timestamp uint64
}

// EventKind discriminates Event.
type EventKind int

const (
	EventConnected EventKind = iota
	EventClipboard
	EventDisconnected
)

// Event is one occurrence lifted out of a connection into the single
// inbound stream consumed by the clipboard side.
type Event struct {
	Kind EventKind

	// Connected / Disconnected
	ID   uuid.UUID
	Name string

	// Clipboard
	Content   string
	Timestamp uint64
}

// Conn is one live TCP session with a peer.
type Conn struct {
	pc  *protocol.Conn
	log *slog.Logger

	remoteID   uuid.UUID
	remoteName string

	lastFrame atomic.Int64 // unix nanos of the most recent inbound frame
}

// Dial opens a TCP connection to addr. The handshake is a separate step.
func Dial(ctx context.Context, addr string) (*Conn, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return Accept(c), nil
}

// Accept wraps an already-established connection (either direction).
func Accept(c net.Conn) *Conn {
	return &Conn{
		pc:  protocol.NewConn(c),
		log: slog.With("addr", c.RemoteAddr().String()),
	}
}

// RemoteID returns the peer's identity. Valid only after a handshake.
func (c *Conn) RemoteID() uuid.UUID { return c.remoteID }

// RemoteName returns the peer's display name. Valid only after a handshake.
func (c *Conn) RemoteName() string { return c.remoteName }

// RemoteAddr returns the remote network address.
func (c *Conn) RemoteAddr() net.Addr { return c.pc.RemoteAddr() }

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.pc.Close() }

// HandshakeOutbound runs the dialer's side of the handshake: announce,
// learn the peer, challenge, verify.
func (c *Conn) HandshakeOutbound(ourID uuid.UUID, ourName, psk string) error {
	c.pc.SetDeadline(time.Now().Add(handshakeTimeout))
	defer c.pc.SetDeadline(time.Time{})

	if err := c.pc.WriteMsg(protocol.NewHello(ourID, ourName)); err != nil {
		return err
	}
	if err := c.readHello(); err != nil {
		return err
	}

	challenge := protocol.GenerateChallenge()
	if err := c.pc.WriteMsg(protocol.NewAuthChallenge(challenge)); err != nil {
		return err
	}

	reply, err := c.pc.ReadMsg()
	if err != nil {
		return err
	}
	if reply.Type != protocol.TypeAuth {
		return fmt.Errorf("%w: expected auth, got %s", protocol.ErrAuthFailed, reply.Type)
	}
	if !protocol.VerifyAuthResponse(psk, challenge, reply.Response) {
		return protocol.ErrAuthFailed
	}
	return nil
}

// HandshakeInbound runs the acceptor's side: learn the peer, announce,
// answer the challenge.
func (c *Conn) HandshakeInbound(ourID uuid.UUID, ourName, psk string) error {
	c.pc.SetDeadline(time.Now().Add(handshakeTimeout))
	defer c.pc.SetDeadline(time.Time{})

	if err := c.readHello(); err != nil {
		return err
	}
	if err := c.pc.WriteMsg(protocol.NewHello(ourID, ourName)); err != nil {
		return err
	}

	m, err := c.pc.ReadMsg()
	if err != nil {
		return err
	}
	if m.Type != protocol.TypeAuth || len(m.Challenge) != protocol.ChallengeSize {
		return fmt.Errorf("%w: expected challenge, got %s", protocol.ErrAuthFailed, m.Type)
	}
	var challenge [protocol.ChallengeSize]byte
	copy(challenge[:], m.Challenge)

	response := protocol.ComputeAuthResponse(psk, challenge)
	return c.pc.WriteMsg(protocol.NewAuthResponse(response))
}

func (c *Conn) readHello() error {
	m, err := c.pc.ReadMsg()
	if err != nil {
		return err
	}
	if m.Type != protocol.TypeHello {
		return fmt.Errorf("%w: expected hello, got %s", protocol.ErrAuthFailed, m.Type)
	}
	c.remoteID = m.ID
	c.remoteName = m.Name
	c.log = slog.With("peer", m.ID, "name", m.Name)
	return nil
}

// Serve runs the steady state until the connection dies. Inbound clipboard
// frames are emitted on events; edits pulled from outbound are written to
// the peer. On exit the socket is closed and a Disconnected event is
// emitted, always.
func (c *Conn) Serve(events chan<- Event, outbound <-chan Edit) {
	defer c.pc.Close()

	events <- Event{Kind: EventConnected, ID: c.remoteID, Name: c.remoteName}
	defer func() {
		events <- Event{Kind: EventDisconnected, ID: c.remoteID}
	}()

	c.lastFrame.Store(time.Now().UnixNano())
	done := make(chan struct{})
	defer close(done)

	// Writer: local edits queued by the manager.
	go func() {
		for {
			select {
			case <-done:
				return
			case e, ok := <-outbound:
				if !ok {
					c.pc.Close()
					return
				}
				if err := c.pc.WriteMsg(protocol.NewClipboard(e.Content, e.Timestamp)); err != nil {
					c.log.Warn("clipboard write failed", "err", err)
					c.pc.Close()
					return
				}
			}
		}
	}()

	// Pinger: probe an idle connection, fail a silent one.
	go func() {
		t := time.NewTicker(pingInterval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				idle := time.Since(time.Unix(0, c.lastFrame.Load()))
				if idle >= 2*pingInterval {
					c.log.Warn("peer silent, closing", "idle", idle)
					c.pc.Close()
					return
				}
				if idle >= pingInterval {
					if err := c.pc.WriteMsg(&protocol.Message{Type: protocol.TypePing}); err != nil {
						c.pc.Close()
						return
					}
				}
			}
		}
	}()

	// Reader.
	for {
		m, err := c.pc.ReadMsg()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
				c.log.Info("peer disconnected")
			default:
				c.log.Warn("connection failed", "err", err)
			}
			return
		}
		c.lastFrame.Store(time.Now().UnixNano())

		switch m.Type {
		case protocol.TypeClipboard:
			c.log.Debug("clipboard received", "bytes", len(m.Content), "timestamp", m.Timestamp)
			events <- Event{Kind: EventClipboard, Content: m.Content, Timestamp: m.Timestamp}

		case protocol.TypePing:
			if err := c.pc.WriteMsg(&protocol.Message{Type: protocol.TypePong}); err != nil {
				c.log.Warn("pong failed", "err", err)
				return
			}

		case protocol.TypePong:
			// lastFrame already updated

		default:
			// Spurious control frame after the handshake. Tolerated.
			c.log.Debug("ignoring unexpected message", "type", m.Type)
		}
	}
}
