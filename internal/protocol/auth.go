package protocol

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
)

// ChallengeSize is the size of auth challenges and responses in bytes.
const ChallengeSize = 32

// GenerateChallenge draws a fresh 32-byte challenge from the system CSPRNG.
// Challenges must never be reused across handshakes.
func GenerateChallenge() [ChallengeSize]byte {
	var c [ChallengeSize]byte
	rand.Read(c[:])
	return c
}

// ComputeAuthResponse returns HMAC-SHA256(psk, challenge).
func ComputeAuthResponse(psk string, challenge [ChallengeSize]byte) [ChallengeSize]byte {
	mac := hmac.New(sha256.New, []byte(psk))
	mac.Write(challenge[:])
	var r [ChallengeSize]byte
	copy(r[:], mac.Sum(nil))
	return r
}

// VerifyAuthResponse recomputes the expected response and compares in
// constant time.
func VerifyAuthResponse(psk string, challenge [ChallengeSize]byte, response []byte) bool {
	expected := ComputeAuthResponse(psk, challenge)
	return subtle.ConstantTimeCompare(expected[:], response) == 1
}
