package core

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// RoomIDLength is the number of characters in a room identifier.
const RoomIDLength = 8

const roomAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RoomID is a short human-shareable room token, e.g. "ABCD1234".
// Identifiers are generated locally; uniqueness is probabilistic.
type RoomID string

// NewRoomID generates a random room identifier
func NewRoomID() RoomID {
	var b strings.Builder
	b.Grow(RoomIDLength)
	max := big.NewInt(int64(len(roomAlphabet)))
	for i := 0; i < RoomIDLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails when the OS entropy source is broken
			panic(fmt.Sprintf("core: reading random room id: %v", err))
		}
		b.WriteByte(roomAlphabet[n.Int64()])
	}
	return RoomID(b.String())
}

// ParseRoomID validates a user-supplied room identifier.
// Surrounding whitespace is ignored and letters are upper-cased.
func ParseRoomID(s string) (RoomID, error) {
	raw := strings.TrimSpace(s)
	if len(raw) != RoomIDLength {
		return "", &InvalidRoomIDError{Input: s, Reason: fmt.Sprintf("must be %d characters", RoomIDLength)}
	}
	// checked before upper-casing: unicode case mapping turns some non-ASCII
	// letters such as 'ı' into ASCII ones
	b := []byte(raw)
	for i, c := range b {
		if 'a' <= c && c <= 'z' {
			c -= 'a' - 'A'
			b[i] = c
		}
		if strings.IndexByte(roomAlphabet, c) < 0 {
			return "", &InvalidRoomIDError{Input: s, Reason: "only letters A-Z and digits 0-9 are allowed"}
		}
	}
	return RoomID(b), nil
}

// Valid reports whether r is a well-formed room identifier.
func (r RoomID) Valid() bool {
	parsed, err := ParseRoomID(string(r))
	return err == nil && parsed == r
}

func (r RoomID) String() string {
	return string(r)
}

// InvalidRoomIDError is an input-validation failure for room identifiers.
type InvalidRoomIDError struct {
	Input  string
	Reason string
}

func (e *InvalidRoomIDError) Error() string {
	return fmt.Sprintf("invalid room id %q: %s", e.Input, e.Reason)
}
