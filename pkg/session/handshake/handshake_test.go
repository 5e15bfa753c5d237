package handshake

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"testing"
	"time"

	"github.com/exampleorg/docrepo/pkg/crypto/ecdh"
	"github.com/exampleorg/docrepo/pkg/crypto/kdf"
	"github.com/exampleorg/docrepo/pkg/crypto/sign"
	"github.com/exampleorg/docrepo/pkg/org"
	"github.com/exampleorg/docrepo/pkg/session/registry"
)

func newTestEngine(t *testing.T) (*Engine, sign.KeyPair) {
	t.Helper()
	scheme := sign.New()
	serverKeys, err := scheme.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate server keypair: %v", err)
	}
	eng, err := New(Config{
		Scheme:        scheme,
		ECDHSuite:     ecdh.New(),
		ServerKeyPair: serverKeys,
		Orgs:          org.NewStore(),
		Sessions:      registry.New(),
		Delta:         time.Hour,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return eng, serverKeys
}

func TestCreateOrganizationEchoesAndSigns(t *testing.T) {
	eng, serverKeys := newTestEngine(t)
	scheme := sign.New()

	clientLongTerm, err := sign.DeriveFromPassword([]byte("correct horse battery staple"))
	if err != nil {
		t.Fatalf("derive password key: %v", err)
	}

	req := CreateOrgRequest{
		Organization: "acme",
		Username:     "alice",
		Name:         "Alice",
		Email:        "alice@example.com",
		PublicKeyPEM: string(clientLongTerm.Public),
	}

	resp, err := eng.CreateOrganization(req, time.Now())
	if err != nil {
		t.Fatalf("create organization: %v", err)
	}

	sig, err := hex.DecodeString(resp.Signature)
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	if err := scheme.Verify(serverKeys.Public, []byte(resp.AssociatedData), sig); err != nil {
		t.Fatalf("server signature did not verify: %v", err)
	}

	var echoed CreateOrgRequest
	if err := json.Unmarshal([]byte(resp.AssociatedData), &echoed); err != nil {
		t.Fatalf("unmarshal echoed payload: %v", err)
	}
	if echoed != req {
		t.Fatalf("echoed payload mismatch: got %+v want %+v", echoed, req)
	}

	if _, err := eng.CreateOrganization(req, time.Now()); err == nil {
		t.Fatal("expected conflict creating the same organization twice")
	}
}

func TestCreateSessionRoundTrip(t *testing.T) {
	eng, _ := newTestEngine(t)
	scheme := sign.New()
	suite := ecdh.New()

	password := []byte("correct horse battery staple")
	clientLongTerm, err := sign.DeriveFromPassword(password)
	if err != nil {
		t.Fatalf("derive password key: %v", err)
	}

	if _, err := eng.CreateOrganization(CreateOrgRequest{
		Organization: "acme",
		Username:     "alice",
		Name:         "Alice",
		Email:        "alice@example.com",
		PublicKeyPEM: string(clientLongTerm.Public),
	}, time.Now()); err != nil {
		t.Fatalf("create organization: %v", err)
	}

	clientEphemeral, err := suite.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate client ephemeral: %v", err)
	}
	clientEphemeralPEM, err := ecdh.PublicKeyToPEM(clientEphemeral.Public)
	if err != nil {
		t.Fatalf("encode client ephemeral: %v", err)
	}

	ad := sessionAssociatedData{
		Organization:             "acme",
		Username:                 "alice",
		ClientEphemeralPublicKey: string(clientEphemeralPEM),
	}
	adBytes, err := json.Marshal(ad)
	if err != nil {
		t.Fatalf("marshal associated_data: %v", err)
	}
	sig, err := scheme.Sign(clientLongTerm.Private, adBytes)
	if err != nil {
		t.Fatalf("sign associated_data: %v", err)
	}

	resp, err := eng.CreateSession(SignedEnvelope{
		AssociatedData: string(adBytes),
		Signature:      hex.EncodeToString(sig),
	}, time.Now())
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	var respData sessionResponseData
	if err := json.Unmarshal([]byte(resp.AssociatedData), &respData); err != nil {
		t.Fatalf("unmarshal response associated_data: %v", err)
	}
	if respData.SessionID == 0 {
		t.Fatal("expected a nonzero session id")
	}

	serverEphemeralPoint, err := ecdh.PublicKeyFromPEM([]byte(respData.ServerEphemeralPublicKey))
	if err != nil {
		t.Fatalf("decode server ephemeral: %v", err)
	}
	shared, err := suite.Exchange(clientEphemeral.Private, serverEphemeralPoint)
	if err != nil {
		t.Fatalf("client-side exchange: %v", err)
	}

	sess, err := eng.cfg.Sessions.Get(respData.SessionID)
	if err != nil {
		t.Fatalf("load created session: %v", err)
	}
	clientKey, err := kdf.Derive(shared)
	if err != nil {
		t.Fatalf("derive client key: %v", err)
	}
	if !bytes.Equal(sess.Key, clientKey) {
		t.Fatal("client-derived key does not match server-stored session key")
	}
}

func TestCreateSessionRejectsBadSignature(t *testing.T) {
	eng, _ := newTestEngine(t)
	scheme := sign.New()
	suite := ecdh.New()

	clientLongTerm, err := sign.DeriveFromPassword([]byte("correct horse battery staple"))
	if err != nil {
		t.Fatalf("derive password key: %v", err)
	}
	if _, err := eng.CreateOrganization(CreateOrgRequest{
		Organization: "acme",
		Username:     "alice",
		PublicKeyPEM: string(clientLongTerm.Public),
	}, time.Now()); err != nil {
		t.Fatalf("create organization: %v", err)
	}

	clientEphemeral, err := suite.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate client ephemeral: %v", err)
	}
	clientEphemeralPEM, _ := ecdh.PublicKeyToPEM(clientEphemeral.Public)

	ad := sessionAssociatedData{
		Organization:             "acme",
		Username:                 "alice",
		ClientEphemeralPublicKey: string(clientEphemeralPEM),
	}
	adBytes, _ := json.Marshal(ad)

	otherKeys, err := scheme.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate unrelated keypair: %v", err)
	}
	badSig, err := scheme.Sign(otherKeys.Private, adBytes)
	if err != nil {
		t.Fatalf("sign with unrelated key: %v", err)
	}

	if _, err := eng.CreateSession(SignedEnvelope{
		AssociatedData: string(adBytes),
		Signature:      hex.EncodeToString(badSig),
	}, time.Now()); err == nil {
		t.Fatal("expected signature verification failure")
	}
	if eng.cfg.Sessions.Count() != 0 {
		t.Fatal("no session should have been created for a bad signature")
	}
}
