package protocol

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

const (
	// MaxFrameSize is the largest frame body we will read or write (16 MiB).
	MaxFrameSize = 16 * 1024 * 1024

	writeDeadline = 5 * time.Second
)

// Conn wraps a net.Conn with buffered length-prefixed framing.
// Writes are serialised so that messages from concurrent senders (edits,
// pings, pong replies) never interleave on the wire.
type Conn struct {
	conn net.Conn
	br   *bufio.Reader

	wmu sync.Mutex
}

// NewConn wraps conn.
func NewConn(conn net.Conn) *Conn {
	return &Conn{
		conn: conn,
		br:   bufio.NewReaderSize(conn, 64*1024),
	}
}

// SetReadDeadline sets or clears the read deadline.
func (c *Conn) SetReadDeadline(d time.Duration) {
	if d == 0 {
		_ = c.conn.SetReadDeadline(time.Time{})
	} else {
		_ = c.conn.SetReadDeadline(time.Now().Add(d))
	}
}

// SetDeadline sets or clears an absolute deadline on both reads and writes.
// The handshake uses this to bound its total duration.
func (c *Conn) SetDeadline(t time.Time) {
	_ = c.conn.SetDeadline(t)
}

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.conn.Close() }

// RemoteAddr returns the remote network address.
func (c *Conn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// WriteMsg serialises msg, prepends the length word, and writes the frame
// in a single Write call.
func (c *Conn) WriteMsg(msg *Message) error {
	body, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	if len(body) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrInvalidLength, len(body))
	}

	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(body)))
	copy(frame[4:], body)

	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	_, err = c.conn.Write(frame)
	_ = c.conn.SetWriteDeadline(time.Time{})
	return err
}

// ReadMsg reads one frame and deserialises it into a Message.
//
// A clean EOF before any length bytes is returned as io.EOF (normal close).
// A partial length word or a body shorter than declared is ErrInvalidLength.
// The declared length is checked against MaxFrameSize before the body is
// allocated.
func (c *Conn) ReadMsg() (*Message, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(c.br, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: short length prefix", ErrInvalidLength)
		}
		return nil, err
	}

	n := binary.BigEndian.Uint32(hdr[:])
	if n == 0 || n > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidLength, n)
	}

	body := make([]byte, n)
	if rn, err := io.ReadFull(c.br, body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: body truncated at %d of %d bytes", ErrInvalidLength, rn, n)
		}
		return nil, err
	}

	return Decode(body)
}
