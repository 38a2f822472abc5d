// Package protocol defines the cursedboard wire protocol.
//
// Every frame on the wire is a length-prefixed JSON record:
//
//	<u32 big-endian length><body[length]>
//
// The body is a single tag-discriminated envelope; the "type" field selects
// one of five message variants. Binary fields (the auth challenge and
// response) are base64-encoded by encoding/json.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Type identifies the kind of message.
type Type string

const (
	TypeHello     Type = "HELLO"
	TypeAuth      Type = "AUTH"
	TypeClipboard Type = "CLIPBOARD"
	TypePing      Type = "PING"
	TypePong      Type = "PONG"
)

// Errors surfaced by the protocol layer.
var (
	// ErrInvalidLength covers truncated frames and frames whose declared
	// length exceeds MaxFrameSize.
	ErrInvalidLength = errors.New("invalid message length")
	// ErrInvalidFormat covers bodies that do not decode as a known message.
	ErrInvalidFormat = errors.New("invalid message format")
	// ErrAuthFailed covers PSK mismatches and out-of-order handshake frames.
	ErrAuthFailed = errors.New("authentication failed")
)

// Message is the top-level wire envelope.
type Message struct {
	// Always present
	Type Type `json:"type"`

	// HELLO — identity announcement, exchanged once per connection
	ID   uuid.UUID `json:"id,omitzero"`
	Name string    `json:"name,omitempty"`

	// AUTH — exactly one of the two fields is non-zero: a fresh challenge
	// (response zeroed) or a response to a previously received challenge
	// (challenge zeroed). The handshake state machine distinguishes by
	// context, not by inspection.
	Challenge []byte `json:"challenge,omitempty"`
	Response  []byte `json:"response,omitempty"`

	// CLIPBOARD — a clipboard edit with its detection timestamp (unix ms)
	Content   string `json:"content,omitempty"`
	Timestamp uint64 `json:"timestamp,omitempty"`
}

// NewHello builds the identity announcement sent once per connection.
func NewHello(id uuid.UUID, name string) *Message {
	return &Message{Type: TypeHello, ID: id, Name: name}
}

// NewAuthChallenge builds the first auth leg carrying a fresh challenge.
func NewAuthChallenge(challenge [ChallengeSize]byte) *Message {
	return &Message{Type: TypeAuth, Challenge: challenge[:]}
}

// NewAuthResponse builds the second auth leg carrying the HMAC response.
func NewAuthResponse(response [ChallengeSize]byte) *Message {
	return &Message{Type: TypeAuth, Response: response[:]}
}

// NewClipboard builds a clipboard edit message.
func NewClipboard(content string, timestamp uint64) *Message {
	return &Message{Type: TypeClipboard, Content: content, Timestamp: timestamp}
}

// Encode serialises the message body without the length prefix.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Decode deserialises a message body and validates its shape.
func Decode(b []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Message) validate() error {
	switch m.Type {
	case TypeHello:
		if m.ID == uuid.Nil {
			return fmt.Errorf("%w: hello without id", ErrInvalidFormat)
		}
	case TypeAuth:
		if len(m.Challenge) != 0 && len(m.Challenge) != ChallengeSize {
			return fmt.Errorf("%w: challenge is %d bytes", ErrInvalidFormat, len(m.Challenge))
		}
		if len(m.Response) != 0 && len(m.Response) != ChallengeSize {
			return fmt.Errorf("%w: response is %d bytes", ErrInvalidFormat, len(m.Response))
		}
	case TypeClipboard, TypePing, TypePong:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidFormat, m.Type)
	}
	return nil
}
