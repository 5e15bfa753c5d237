// Package ecdh wraps NIST P-256 Diffie-Hellman key exchange behind the
// same Suite-shaped interface the rest of the crypto stack uses.
package ecdh

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

// KeyPair bundles the raw encoded public/private key material.
type KeyPair struct {
	Public  []byte
	Private []byte
}

// Suite describes the operations a Diffie-Hellman provider must expose.
type Suite interface {
	Name() string
	GenerateKeyPair() (KeyPair, error)
	// Exchange computes the shared secret between a local private key
	// and a peer's public key.
	Exchange(privateKey, peerPublicKey []byte) (sharedSecret []byte, err error)
}

// P256 implements Suite over the NIST P-256 curve.
type P256 struct {
	curve ecdh.Curve
}

// New constructs a P-256 ECDH suite instance.
func New() *P256 {
	return &P256{curve: ecdh.P256()}
}

func (p *P256) Name() string {
	return "P-256"
}

// GenerateKeyPair produces a fresh ephemeral (or long-term) P-256 keypair.
func (p *P256) GenerateKeyPair() (KeyPair, error) {
	priv, err := p.curve.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, fmt.Errorf("ecdh: generate keypair: %w", err)
	}
	return KeyPair{
		Public:  priv.PublicKey().Bytes(),
		Private: priv.Bytes(),
	}, nil
}

// Exchange computes the ECDH shared secret given a local private key and a
// peer's public key, both in the uncompressed point / scalar encoding used
// by crypto/ecdh.
func (p *P256) Exchange(privateKey, peerPublicKey []byte) ([]byte, error) {
	priv, err := p.curve.NewPrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("ecdh: parse private key: %w", err)
	}
	peer, err := p.curve.NewPublicKey(peerPublicKey)
	if err != nil {
		return nil, fmt.Errorf("ecdh: parse peer public key: %w", err)
	}
	shared, err := priv.ECDH(peer)
	if err != nil {
		return nil, fmt.Errorf("ecdh: exchange: %w", err)
	}
	return shared, nil
}

// PublicKeyToPEM encodes a raw P-256 public key (crypto/ecdh's uncompressed
// point encoding) as a PEM SubjectPublicKeyInfo block, the wire form every
// EC public key uses in the handshake (spec section 4.2/6.3).
func PublicKeyToPEM(rawPoint []byte) ([]byte, error) {
	x, y := elliptic.Unmarshal(elliptic.P256(), rawPoint)
	if x == nil {
		return nil, errors.New("ecdh: invalid uncompressed point encoding")
	}
	pub := &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("ecdh: marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// PublicKeyFromPEM decodes a PEM SubjectPublicKeyInfo block back into the
// raw uncompressed point encoding crypto/ecdh expects.
func PublicKeyFromPEM(pemBytes []byte) ([]byte, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("ecdh: invalid PEM public key")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("ecdh: parse public key: %w", err)
	}
	ecPub, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("ecdh: public key is not EC")
	}
	return elliptic.Marshal(elliptic.P256(), ecPub.X, ecPub.Y), nil
}

// PrivateFromScalar builds a P-256 private key from a raw scalar, as used by
// the password-derived long-term keypair (see pkg/crypto/sign).
func (p *P256) PrivateFromScalar(scalar []byte) (KeyPair, error) {
	priv, err := p.curve.NewPrivateKey(scalar)
	if err != nil {
		return KeyPair{}, fmt.Errorf("ecdh: scalar to private key: %w", err)
	}
	return KeyPair{
		Public:  priv.PublicKey().Bytes(),
		Private: priv.Bytes(),
	}, nil
}
