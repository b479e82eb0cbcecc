package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"

	"github.com/opd-ai/rendezvous/address"
)

// ErrZeroKey indicates an all-zero secret key.
var ErrZeroKey = errors.New("invalid secret key: all zeros")

// KeyPair is a NaCl crypto_box key pair.
type KeyPair struct {
	Public  [32]byte
	Private [32]byte
}

// GenerateKeyPair creates a new random key pair whose public key is never
// the sentinel address.
func GenerateKeyPair() (*KeyPair, error) {
	for {
		publicKey, privateKey, err := box.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate key pair: %w", err)
		}
		if isZeroKey(*publicKey) {
			continue
		}
		return &KeyPair{Public: *publicKey, Private: *privateKey}, nil
	}
}

// FromSecretKey rebuilds a key pair from its private half.
func FromSecretKey(secretKey [32]byte) (*KeyPair, error) {
	if isZeroKey(secretKey) {
		return nil, ErrZeroKey
	}

	pub, err := curve25519.X25519(secretKey[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("derive public key: %w", err)
	}

	kp := &KeyPair{Private: secretKey}
	copy(kp.Public[:], pub)
	return kp, nil
}

// Address returns the public key as an overlay address.
func (kp *KeyPair) Address() address.Address {
	return address.Address(kp.Public)
}

// Wipe zeroes the private key.
func (kp *KeyPair) Wipe() {
	for i := range kp.Private {
		kp.Private[i] = 0
	}
}

func isZeroKey(key [32]byte) bool {
	var acc byte
	for _, b := range key {
		acc |= b
	}
	return acc == 0
}
