// Package sign wraps ECDSA-P256-SHA256 signing and verification, plus the
// password-derived long-term keypair required by the handshake's
// authentication step.
package sign

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
)

// MinPasswordBytes is the minimum accepted password length before deriving
// a long-term private key from it. Password-derived keys are inherently
// weak (see SPEC_FULL.md open questions); this is the one guard the client
// side can enforce.
const MinPasswordBytes = 12

// KeyPair holds ECDSA key material. Public is PEM-encoded SubjectPublicKeyInfo;
// Private is the raw big-endian scalar (D).
type KeyPair struct {
	Public  []byte
	Private []byte
}

// Scheme exposes signing and verification primitives.
type Scheme interface {
	Name() string
	GenerateKeyPair() (KeyPair, error)
	Sign(privateKey, message []byte) ([]byte, error)
	Verify(publicKeyPEM, message, signature []byte) error
}

// ECDSAP256 implements Scheme over NIST P-256 with SHA-256 digests.
type ECDSAP256 struct{}

// New constructs the ECDSA-P256-SHA256 scheme.
func New() *ECDSAP256 {
	return &ECDSAP256{}
}

func (s *ECDSAP256) Name() string {
	return "ECDSA-P256-SHA256"
}

// GenerateKeyPair produces a fresh long-term or ephemeral ECDSA keypair.
func (s *ECDSAP256) GenerateKeyPair() (KeyPair, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return KeyPair{}, fmt.Errorf("sign: generate keypair: %w", err)
	}
	return marshalKeyPair(priv)
}

// Sign computes an ECDSA-SHA256 signature over message using the provided
// raw private scalar.
func (s *ECDSAP256) Sign(privateKey, message []byte) ([]byte, error) {
	priv, err := privateFromScalar(privateKey)
	if err != nil {
		return nil, err
	}
	digest := sha256.Sum256(message)
	sig, err := ecdsa.SignASN1(rand.Reader, priv, digest[:])
	if err != nil {
		return nil, fmt.Errorf("sign: sign: %w", err)
	}
	return sig, nil
}

// Verify checks an ECDSA-SHA256 signature against a PEM-encoded public key.
func (s *ECDSAP256) Verify(publicKeyPEM, message, signature []byte) error {
	pub, err := ParsePublicKeyPEM(publicKeyPEM)
	if err != nil {
		return err
	}
	digest := sha256.Sum256(message)
	if !ecdsa.VerifyASN1(pub, digest[:], signature) {
		return errors.New("sign: signature verification failed")
	}
	return nil
}

// DeriveFromPassword implements the spec's password-derived long-term key:
// k = int(password_bytes, big-endian) mod n, then scalar -> EC private key.
func DeriveFromPassword(password []byte) (KeyPair, error) {
	if len(password) < MinPasswordBytes {
		return KeyPair{}, fmt.Errorf("sign: password must be at least %d bytes", MinPasswordBytes)
	}
	curve := elliptic.P256()
	n := curve.Params().N

	k := new(big.Int).SetBytes(password)
	k.Mod(k, n)
	if k.Sign() == 0 {
		// Zero scalar is not a valid private key; nudge deterministically.
		k.SetInt64(1)
	}

	priv := new(ecdsa.PrivateKey)
	priv.PublicKey.Curve = curve
	priv.D = k
	priv.PublicKey.X, priv.PublicKey.Y = curve.ScalarBaseMult(k.Bytes())

	return marshalKeyPair(priv)
}

// KeyPairFromPrivateScalar rebuilds a KeyPair (deriving the public half)
// from a raw private scalar, for loading a long-term key back out of
// storage (spec section 1: "server public key is distributed out-of-band").
func KeyPairFromPrivateScalar(scalar []byte) (KeyPair, error) {
	priv, err := privateFromScalar(scalar)
	if err != nil {
		return KeyPair{}, err
	}
	return marshalKeyPair(priv)
}

// ParsePublicKeyPEM decodes a PEM-encoded SubjectPublicKeyInfo into an
// ecdsa.PublicKey.
func ParsePublicKeyPEM(pemBytes []byte) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("sign: invalid PEM public key")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("sign: parse public key: %w", err)
	}
	ecPub, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("sign: public key is not EC")
	}
	return ecPub, nil
}

func marshalKeyPair(priv *ecdsa.PrivateKey) (KeyPair, error) {
	derPub, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return KeyPair{}, fmt.Errorf("sign: marshal public key: %w", err)
	}
	pemPub := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: derPub})

	privBytes := make([]byte, 32)
	priv.D.FillBytes(privBytes)

	return KeyPair{Public: pemPub, Private: privBytes}, nil
}

func privateFromScalar(scalar []byte) (*ecdsa.PrivateKey, error) {
	if len(scalar) == 0 {
		return nil, errors.New("sign: private key scalar required")
	}
	curve := elliptic.P256()
	priv := new(ecdsa.PrivateKey)
	priv.PublicKey.Curve = curve
	priv.D = new(big.Int).SetBytes(scalar)
	priv.PublicKey.X, priv.PublicKey.Y = curve.ScalarBaseMult(priv.D.Bytes())
	return priv, nil
}
