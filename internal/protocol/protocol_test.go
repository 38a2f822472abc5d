package protocol

import (
	"encoding/binary"
	"io"
	"net"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipePair(t *testing.T) (*Conn, *Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return NewConn(a), NewConn(b)
}

func TestMessageRoundTrip(t *testing.T) {
	challenge := GenerateChallenge()
	response := ComputeAuthResponse("secret", challenge)

	msgs := []*Message{
		NewHello(uuid.New(), "desk"),
		NewAuthChallenge(challenge),
		NewAuthResponse(response),
		NewClipboard("hello", 12345),
		{Type: TypePing},
		{Type: TypePong},
	}

	ca, cb := pipePair(t)
	for _, want := range msgs {
		go func() {
			assert.NoError(t, ca.WriteMsg(want))
		}()
		got, err := cb.ReadMsg()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestReadRejectsOversizedFrame(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], MaxFrameSize+1)
	go a.Write(hdr[:])

	_, err := NewConn(b).ReadMsg()
	assert.ErrorIs(t, err, ErrInvalidLength)
}

func TestReadRejectsZeroLengthFrame(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	go a.Write([]byte{0, 0, 0, 0})

	_, err := NewConn(b).ReadMsg()
	assert.ErrorIs(t, err, ErrInvalidLength)
}

func TestReadTruncatedBody(t *testing.T) {
	// A peer declares 5 bytes, sends 3, and goes away.
	a, b := net.Pipe()
	defer b.Close()

	go func() {
		var hdr [4]byte
		binary.BigEndian.PutUint32(hdr[:], 5)
		_, _ = a.Write(append(hdr[:], 'a', 'b', 'c'))
		_ = a.Close()
	}()

	_, err := NewConn(b).ReadMsg()
	assert.ErrorIs(t, err, ErrInvalidLength)
}

func TestReadTruncatedLengthPrefix(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()

	go func() {
		_, _ = a.Write([]byte{0, 0})
		_ = a.Close()
	}()

	_, err := NewConn(b).ReadMsg()
	assert.ErrorIs(t, err, ErrInvalidLength)
}

func TestReadCleanEOF(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	_ = a.Close()

	_, err := NewConn(b).ReadMsg()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"NOPE"}`))
	assert.ErrorIs(t, err, ErrInvalidFormat)

	_, err = Decode([]byte(`not json`))
	assert.ErrorIs(t, err, ErrInvalidFormat)
}

func TestDecodeRejectsBadAuthSizes(t *testing.T) {
	_, err := Decode([]byte(`{"type":"AUTH","challenge":"c2hvcnQ="}`))
	assert.ErrorIs(t, err, ErrInvalidFormat)
}

func TestDecodeRejectsHelloWithoutID(t *testing.T) {
	_, err := Decode([]byte(`{"type":"HELLO","name":"x"}`))
	assert.ErrorIs(t, err, ErrInvalidFormat)
}

func TestAuthRoundTrip(t *testing.T) {
	challenge := GenerateChallenge()
	response := ComputeAuthResponse("secret", challenge)

	assert.True(t, VerifyAuthResponse("secret", challenge, response[:]))
	assert.False(t, VerifyAuthResponse("wrong", challenge, response[:]))

	wrong := ComputeAuthResponse("wrong", challenge)
	assert.False(t, VerifyAuthResponse("secret", challenge, wrong[:]))
}

func TestVerifyRejectsTamperedResponse(t *testing.T) {
	challenge := GenerateChallenge()
	response := ComputeAuthResponse("secret", challenge)

	// Flipping any single byte must fail, first and last included — the
	// comparison accumulates over the whole value rather than returning at
	// the first difference.
	for _, i := range []int{0, ChallengeSize / 2, ChallengeSize - 1} {
		tampered := response
		tampered[i] ^= 0x01
		assert.False(t, VerifyAuthResponse("secret", challenge, tampered[:]))
	}

	assert.False(t, VerifyAuthResponse("secret", challenge, nil))
	assert.False(t, VerifyAuthResponse("secret", challenge, response[:16]))
}

func TestChallengesAreUnique(t *testing.T) {
	a := GenerateChallenge()
	b := GenerateChallenge()
	assert.NotEqual(t, a, b)
}

func TestWriteDeadlineClears(t *testing.T) {
	ca, cb := pipePair(t)

	done := make(chan error, 1)
	go func() {
		done <- ca.WriteMsg(&Message{Type: TypePing})
	}()
	_, err := cb.ReadMsg()
	require.NoError(t, err)
	require.NoError(t, <-done)

	// A second exchange after the deadline was cleared must still work.
	go func() {
		done <- ca.WriteMsg(&Message{Type: TypePong})
	}()
	m, err := cb.ReadMsg()
	require.NoError(t, err)
	assert.Equal(t, TypePong, m.Type)
	require.NoError(t, <-done)
}
