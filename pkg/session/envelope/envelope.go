// Package envelope implements the message envelope (C4): wrapping and
// unwrapping request/response payloads over a session's symmetric channel,
// with the associated_data's canonical JSON serving as AEAD aad.
package envelope

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/exampleorg/docrepo/pkg/apierr"
	"github.com/exampleorg/docrepo/pkg/crypto/aead"
)

// AssociatedData is authenticated but not encrypted. Its JSON encoding via
// encoding/json is canonical by construction: a fixed struct with declared
// field order marshals identically on every call, so encrypt and decrypt
// sides never disagree on the aad bytes (spec section 4.4's "byte-identical
// on encrypt and decrypt" requirement).
type AssociatedData struct {
	MsgID     uint64 `json:"msg_id"`
	SessionID uint64 `json:"session_id"`
}

// EncryptedData carries the hex-encoded nonce and ciphertext.
type EncryptedData struct {
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// Envelope is the full wire message: {associated_data, encrypted_data}.
type Envelope struct {
	AssociatedData AssociatedData `json:"associated_data"`
	EncryptedData  EncryptedData  `json:"encrypted_data"`
}

// Wrap encrypts plaintext under key, tagging it with the canonical JSON of
// {msgID, sessionID} as aad.
func Wrap(key []byte, msgID, sessionID uint64, plaintext []byte) (Envelope, error) {
	ad := AssociatedData{MsgID: msgID, SessionID: sessionID}
	aad, err := json.Marshal(ad)
	if err != nil {
		return Envelope{}, fmt.Errorf("envelope: marshal associated_data: %w", err)
	}

	nonce, ciphertext, err := aead.Encrypt(key, plaintext, aad)
	if err != nil {
		return Envelope{}, fmt.Errorf("envelope: encrypt: %w", err)
	}

	return Envelope{
		AssociatedData: ad,
		EncryptedData: EncryptedData{
			Nonce:      hex.EncodeToString(nonce),
			Ciphertext: hex.EncodeToString(ciphertext),
		},
	}, nil
}

// Unwrap authenticates and decrypts env under key, returning the plaintext.
// A tag mismatch yields apierr.AuthFail.
func Unwrap(key []byte, env Envelope) ([]byte, error) {
	aad, err := json.Marshal(env.AssociatedData)
	if err != nil {
		return nil, fmt.Errorf("envelope: marshal associated_data: %w", err)
	}

	nonce, err := hex.DecodeString(env.EncryptedData.Nonce)
	if err != nil {
		return nil, apierr.New(apierr.BadRequest, "invalid nonce encoding")
	}
	ciphertext, err := hex.DecodeString(env.EncryptedData.Ciphertext)
	if err != nil {
		return nil, apierr.New(apierr.BadRequest, "invalid ciphertext encoding")
	}

	plaintext, err := aead.Decrypt(key, nonce, ciphertext, aad)
	if err != nil {
		return nil, apierr.New(apierr.AuthFail, err.Error())
	}
	return plaintext, nil
}
