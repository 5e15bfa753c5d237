// Package aead implements the symmetric channel primitive (C1): AES-256-GCM
// encryption with a fresh random 96-bit nonce per call and authenticated
// (but unencrypted) associated data.
package aead

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
)

// NonceSize is the GCM standard nonce size in bytes (96 bits).
const NonceSize = 12

// KeySize is the required symmetric key size for AES-256 (32 bytes).
const KeySize = 32

// ErrAuthFailed is returned when the AEAD tag fails to verify, i.e. the
// ciphertext or associated data was tampered with.
var ErrAuthFailed = errors.New("aead: authentication failed")

// Encrypt seals plaintext under key with a fresh random nonce, authenticating
// aad alongside it. Returns the nonce and ciphertext (tag appended).
func Encrypt(key, plaintext, aad []byte) (nonce, ciphertext []byte, err error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("aead: generate nonce: %w", err)
	}

	ciphertext = gcm.Seal(nil, nonce, plaintext, aad)
	return nonce, ciphertext, nil
}

// Decrypt opens ciphertext under key/nonce, authenticating aad. Returns
// ErrAuthFailed on any tag mismatch.
func Decrypt(key, nonce, ciphertext, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("aead: nonce must be %d bytes, got %d", NonceSize, len(nonce))
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("aead: key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aead: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("aead: new gcm: %w", err)
	}
	return gcm, nil
}
