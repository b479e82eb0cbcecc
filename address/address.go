// Package address implements the 256-bit overlay addresses used to identify
// peers independently of their transport location.
//
// An Address is an opaque bit-string. It may be a random value or a public
// key; nothing in the routing or messaging layers depends on which. The
// all-zero Address is reserved as the sentinel for router control traffic and
// is never a valid delivery destination.
//
// Example:
//
//	a, err := address.Random()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println("overlay address:", a)
package address

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

// Size is the length of an Address in bytes.
const Size = 32

var (
	// ErrInvalidLength indicates a byte slice that is not exactly Size bytes.
	ErrInvalidLength = errors.New("invalid address length")

	// ErrInvalidHex indicates a string that is not a hex encoded address.
	ErrInvalidHex = errors.New("invalid address encoding")
)

// Address is a fixed-size overlay network identifier. Equality is byte-wise,
// so Address values can be compared with == and used as map keys.
type Address [Size]byte

// Sentinel is the reserved all-zero Address that marks router control traffic.
var Sentinel Address

// Random returns a fresh random Address drawn from crypto/rand.
// The result is never the Sentinel.
func Random() (Address, error) {
	var a Address
	for {
		if _, err := rand.Read(a[:]); err != nil {
			return Sentinel, fmt.Errorf("failed to generate address: %w", err)
		}
		if !a.IsSentinel() {
			return a, nil
		}
	}
}

// MustRandom is like Random but panics on failure. Intended for tests and
// program initialization.
func MustRandom() Address {
	a, err := Random()
	if err != nil {
		panic(err)
	}
	return a
}

// FromBytes copies b into a new Address. b must be exactly Size bytes.
func FromBytes(b []byte) (Address, error) {
	var a Address
	if len(b) != Size {
		return a, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidLength, len(b), Size)
	}
	copy(a[:], b)
	return a, nil
}

// FromHex parses the 64 character hexadecimal form produced by String.
func FromHex(s string) (Address, error) {
	if len(s) != Size*2 {
		return Sentinel, fmt.Errorf("%w: got %d characters, want %d", ErrInvalidHex, len(s), Size*2)
	}
	data, err := hex.DecodeString(s)
	if err != nil {
		return Sentinel, fmt.Errorf("%w: %v", ErrInvalidHex, err)
	}
	return FromBytes(data)
}

// Bytes returns a copy of the address bytes.
func (a Address) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, a[:])
	return b
}

// Equal reports whether a and other hold the same bytes.
func (a Address) Equal(other Address) bool {
	return a == other
}

// IsSentinel reports whether a is the reserved all-zero control address.
func (a Address) IsSentinel() bool {
	return a == Sentinel
}

// String returns the lowercase hexadecimal form of the address.
func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

// Short returns the first eight bytes in hex, for log fields.
func (a Address) Short() string {
	return hex.EncodeToString(a[:8])
}
