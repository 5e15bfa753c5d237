// Package handshake implements the handshake engine (C2): organization
// bootstrap and authenticated session creation. It replaces the teacher's
// multi-message transcript-and-confirmation handshake with the spec's
// single-round design — one request and one server-signed response on each
// flow; the session-creation request is additionally client-signed.
package handshake

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/exampleorg/docrepo/pkg/apierr"
	"github.com/exampleorg/docrepo/pkg/crypto/ecdh"
	"github.com/exampleorg/docrepo/pkg/crypto/kdf"
	"github.com/exampleorg/docrepo/pkg/crypto/sign"
	"github.com/exampleorg/docrepo/pkg/org"
	"github.com/exampleorg/docrepo/pkg/session/registry"
)

// SignedEnvelope is the handshake wire shape of spec section 6.2: the
// associated_data as a JSON-encoded string, signed verbatim (the signature
// covers exactly those bytes, not a re-marshaling of them).
type SignedEnvelope struct {
	AssociatedData string `json:"associated_data"`
	Signature      string `json:"signature"`
}

// CreateOrgRequest is the plaintext payload of POST /auth/organization.
type CreateOrgRequest struct {
	Organization string `json:"organization"`
	Username     string `json:"username"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	PublicKeyPEM string `json:"public_key"`
}

// sessionAssociatedData is the associated_data object signed by the client
// on POST /auth/session.
type sessionAssociatedData struct {
	Organization               string `json:"organization"`
	Username                   string `json:"username"`
	ClientEphemeralPublicKey   string `json:"client_ephemeral_public_key"`
}

// sessionResponseData is the associated_data object signed by the server
// in the auth/session response.
type sessionResponseData struct {
	SessionID              uint64 `json:"session_id"`
	ServerEphemeralPublicKey string `json:"server_ephemeral_public_key"`
}

// Config bundles the collaborators the handshake engine needs.
type Config struct {
	Scheme        sign.Scheme
	ECDHSuite     ecdh.Suite
	ServerKeyPair sign.KeyPair
	Orgs          *org.Store
	Sessions      *registry.Registry
	Delta         time.Duration
}

// Engine runs the organization-bootstrap and session-creation flows.
type Engine struct {
	cfg Config
}

// New constructs a handshake engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Scheme == nil {
		return nil, errors.New("handshake: signature scheme required")
	}
	if cfg.ECDHSuite == nil {
		return nil, errors.New("handshake: ecdh suite required")
	}
	if len(cfg.ServerKeyPair.Private) == 0 {
		return nil, errors.New("handshake: server signing key required")
	}
	if cfg.Orgs == nil || cfg.Sessions == nil {
		return nil, errors.New("handshake: organization store and session registry required")
	}
	if cfg.Delta <= 0 {
		cfg.Delta = time.Hour
	}
	return &Engine{cfg: cfg}, nil
}

// CreateOrganization implements spec section 4.2's create_org: persists the
// organization with its creator and managers role, then signs the echoed
// payload with the server's long-term key so the client can detect
// substitution.
func (e *Engine) CreateOrganization(req CreateOrgRequest, now time.Time) (SignedEnvelope, error) {
	if req.Organization == "" || req.Username == "" || req.PublicKeyPEM == "" {
		return SignedEnvelope{}, apierr.New(apierr.BadRequest, "organization, username, and public_key are required")
	}

	creator := org.Subject{
		Username:     req.Username,
		Name:         req.Name,
		Email:        req.Email,
		PublicKeyPEM: []byte(req.PublicKeyPEM),
		State:        org.SubjectActive,
	}
	if _, err := e.cfg.Orgs.CreateOrganization(req.Organization, creator, now); err != nil {
		return SignedEnvelope{}, err
	}

	return e.sign(req)
}

// CreateSession implements spec section 4.2's session-creation flow: it
// verifies the client's long-term-key signature over associated_data,
// performs an ephemeral ECDH exchange, derives K via HKDF, allocates a
// session, and returns a server-signed response.
func (e *Engine) CreateSession(signed SignedEnvelope, now time.Time) (SignedEnvelope, error) {
	var ad sessionAssociatedData
	if err := json.Unmarshal([]byte(signed.AssociatedData), &ad); err != nil {
		return SignedEnvelope{}, apierr.New(apierr.BadRequest, "malformed associated_data")
	}

	o, err := e.cfg.Orgs.Get(ad.Organization)
	if err != nil {
		return SignedEnvelope{}, err
	}
	subject, err := o.Subject(ad.Username)
	if err != nil {
		return SignedEnvelope{}, err
	}
	if subject.State != org.SubjectActive {
		return SignedEnvelope{}, apierr.New(apierr.SubjectInactive, fmt.Sprintf("subject %q is suspended", ad.Username))
	}

	sigBytes, err := hex.DecodeString(signed.Signature)
	if err != nil {
		return SignedEnvelope{}, apierr.New(apierr.BadRequest, "malformed signature")
	}
	if err := e.cfg.Scheme.Verify(subject.PublicKeyPEM, []byte(signed.AssociatedData), sigBytes); err != nil {
		return SignedEnvelope{}, apierr.New(apierr.AuthFail, "handshake signature verification failed")
	}

	clientEphemeralPoint, err := ecdh.PublicKeyFromPEM([]byte(ad.ClientEphemeralPublicKey))
	if err != nil {
		return SignedEnvelope{}, apierr.New(apierr.BadRequest, "malformed client ephemeral public key")
	}

	serverEphemeral, err := e.cfg.ECDHSuite.GenerateKeyPair()
	if err != nil {
		return SignedEnvelope{}, fmt.Errorf("handshake: generate server ephemeral keypair: %w", err)
	}
	shared, err := e.cfg.ECDHSuite.Exchange(serverEphemeral.Private, clientEphemeralPoint)
	if err != nil {
		return SignedEnvelope{}, apierr.New(apierr.BadRequest, "ecdh exchange failed")
	}
	key, err := kdf.Derive(shared)
	if err != nil {
		return SignedEnvelope{}, fmt.Errorf("handshake: derive session key: %w", err)
	}

	sess := e.cfg.Sessions.Put(registry.Config{
		Organization: ad.Organization,
		Username:     ad.Username,
		Key:          key,
		Delta:        e.cfg.Delta,
		CreatedAt:    now,
	})

	serverEphemeralPEM, err := ecdh.PublicKeyToPEM(serverEphemeral.Public)
	if err != nil {
		return SignedEnvelope{}, fmt.Errorf("handshake: encode server ephemeral public key: %w", err)
	}

	return e.sign(sessionResponseData{
		SessionID:                sess.ID,
		ServerEphemeralPublicKey: string(serverEphemeralPEM),
	})
}

func (e *Engine) sign(payload any) (SignedEnvelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return SignedEnvelope{}, fmt.Errorf("handshake: marshal payload: %w", err)
	}
	sig, err := e.cfg.Scheme.Sign(e.cfg.ServerKeyPair.Private, data)
	if err != nil {
		return SignedEnvelope{}, fmt.Errorf("handshake: sign payload: %w", err)
	}
	return SignedEnvelope{
		AssociatedData: string(data),
		Signature:      hex.EncodeToString(sig),
	}, nil
}
