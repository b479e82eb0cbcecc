// Package crypto provides the NaCl primitives used to run the overlay with
// encrypted payloads.
//
// A peer's overlay address can be its Curve25519 public key. Two peers that
// know each other's addresses can then exchange crypto_box sealed datagrams
// without any handshake: Seal authenticates the sender and encrypts for the
// receiver, Open verifies and decrypts.
//
// Example:
//
//	keys, err := crypto.GenerateKeyPair()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println("Address:", keys.Address())
package crypto
