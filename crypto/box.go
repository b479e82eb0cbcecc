package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/box"

	"github.com/opd-ai/rendezvous/address"
	"github.com/opd-ai/rendezvous/limits"
)

// NonceSize is the length of the random nonce prefixed to sealed data.
const NonceSize = limits.NonceSize

// Overhead is the number of bytes Seal adds to a plaintext.
const Overhead = limits.SealOverhead

var (
	// ErrShortCiphertext indicates sealed data shorter than Overhead.
	ErrShortCiphertext = errors.New("sealed data too short")

	// ErrOpenFailed indicates sealed data failed authentication.
	ErrOpenFailed = errors.New("sealed data failed authentication")
)

// Seal encrypts message for recipient, authenticated by senderKey. The
// result is nonce || box.
func Seal(message []byte, recipient address.Address, senderKey *[32]byte) ([]byte, error) {
	var nonce [NonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	peer := [32]byte(recipient)
	out := make([]byte, NonceSize, Overhead+len(message))
	copy(out, nonce[:])
	return box.Seal(out, message, &nonce, &peer, senderKey), nil
}

// Open verifies and decrypts data sealed by sender for the owner of
// recipientKey.
func Open(sealed []byte, sender address.Address, recipientKey *[32]byte) ([]byte, error) {
	if len(sealed) < Overhead {
		return nil, ErrShortCiphertext
	}

	var nonce [NonceSize]byte
	copy(nonce[:], sealed[:NonceSize])
	peer := [32]byte(sender)

	plain, ok := box.Open(nil, sealed[NonceSize:], &nonce, &peer, recipientKey)
	if !ok {
		return nil, ErrOpenFailed
	}
	return plain, nil
}
