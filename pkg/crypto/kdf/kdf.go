// Package kdf derives the per-session symmetric key K from an ECDH shared
// secret via HKDF-SHA-256, per spec section 4.2.
package kdf

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Info is the fixed HKDF info string mandated by the handshake design.
var Info = []byte("handshake data")

// KeySize is the derived session key length in bytes (256 bits).
const KeySize = 32

// Derive runs HKDF-SHA-256 over sharedSecret with an empty salt and the
// fixed info string, producing the 32-byte session key K.
func Derive(sharedSecret []byte) ([]byte, error) {
	if len(sharedSecret) == 0 {
		return nil, errors.New("kdf: shared secret required")
	}

	reader := hkdf.New(sha256.New, sharedSecret, nil, Info)
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("kdf: derive key: %w", err)
	}
	return key, nil
}
