package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/exampleorg/docrepo/internal/platform/logging"
	"github.com/exampleorg/docrepo/pkg/crypto/aead"
	"github.com/exampleorg/docrepo/pkg/crypto/ecdh"
	"github.com/exampleorg/docrepo/pkg/crypto/kdf"
	"github.com/exampleorg/docrepo/pkg/crypto/sign"
	"github.com/exampleorg/docrepo/pkg/session/envelope"
	"github.com/exampleorg/docrepo/pkg/session/handshake"
)

// sessionState is the client's persisted session record (spec section 6.4:
// a `~/.sio/`-equivalent session file holding session_id, organization,
// username, derived_key, msg_id, and assumed roles).
type sessionState struct {
	SessionID    uint64 `json:"session_id"`
	Organization string `json:"organization"`
	Username     string `json:"username"`
	DerivedKey   string `json:"derived_key"`
	MsgID        uint64 `json:"msg_id"`
	Roles        []string `json:"roles"`
}

func main() {
	var (
		serverURL = flag.String("server", "http://localhost:8443", "server base URL")
		org       = flag.String("organization", "acme", "organization to create/join")
		username  = flag.String("username", "alice", "subject username")
		password  = flag.String("password", "correct horse battery staple!!", "password the long-term identity key is derived from")
		document  = flag.String("document", "hello.txt", "document name to upload")
		content   = flag.String("content", "hello from the document-repository client", "document plaintext")
	)
	flag.Parse()

	logger, cleanup, err := logging.Global(logging.Config{
		ServiceName: "docrepo-client",
		Environment: "dev",
		Level:       "info",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = cleanup(ctx)
	}()

	client := &http.Client{Timeout: 10 * time.Second}
	scheme := sign.New()
	suite := ecdh.New()

	longTerm, err := sign.DeriveFromPassword([]byte(*password))
	if err != nil {
		logger.Fatal("derive long-term key", zap.Error(err))
	}

	if err := createOrganization(client, *serverURL, scheme, longTerm, *org, *username); err != nil {
		logger.Warn("create_org (may already exist)", zap.Error(err))
	}

	sess, err := createSession(client, *serverURL, scheme, suite, longTerm, *org, *username)
	if err != nil {
		logger.Fatal("create_session", zap.Error(err))
	}
	logger.Info("session established", zap.Uint64("session_id", sess.SessionID))

	if err := call(client, *serverURL, scheme, longTerm, &sess, "/api/v1/sessions/roles", http.MethodPost, map[string]any{"role": "managers"}, nil); err != nil {
		logger.Fatal("assume_role", zap.Error(err))
	}
	sess.Roles = append(sess.Roles, "managers")
	logger.Info("assumed role managers")

	plaintext := []byte(*content)
	docKey := make([]byte, aead.KeySize)
	if _, err := io.ReadFull(rand.Reader, docKey); err != nil {
		logger.Fatal("generate document key", zap.Error(err))
	}
	sum := sha256.Sum256(plaintext)
	fileHandle := hex.EncodeToString(sum[:])
	nonce, ciphertext, err := aead.Encrypt(docKey, plaintext, []byte(fileHandle))
	if err != nil {
		logger.Fatal("encrypt document", zap.Error(err))
	}
	blob := append(nonce, ciphertext...)

	addDocReq := map[string]any{
		"encryption_file": base64.StdEncoding.EncodeToString(blob),
		"file_handle":     fileHandle,
		"name":            *document,
		"key":             hex.EncodeToString(docKey),
		"alg":             "AES-256-GCM",
	}
	if err := call(client, *serverURL, scheme, longTerm, &sess, "/api/v1/organizations/documents", http.MethodPost, addDocReq, nil); err != nil {
		logger.Fatal("add_doc", zap.Error(err))
	}
	logger.Info("document uploaded", zap.String("name", *document), zap.String("file_handle", fileHandle))

	var metadata map[string]any
	if err := call(client, *serverURL, scheme, longTerm, &sess, "/api/v1/organizations/documents/metadata", http.MethodGet, map[string]any{"document_name": *document}, &metadata); err != nil {
		logger.Fatal("document metadata", zap.Error(err))
	}
	fmt.Printf("Document metadata: %+v\n", metadata)

	fetched, err := fetchFile(client, *serverURL, scheme, fileHandle)
	if err != nil {
		logger.Fatal("fetch file", zap.Error(err))
	}
	recoveredNonce, recoveredCiphertext := fetched[:aead.NonceSize], fetched[aead.NonceSize:]
	recoveredPlaintext, err := aead.Decrypt(docKey, recoveredNonce, recoveredCiphertext, []byte(fileHandle))
	if err != nil {
		logger.Fatal("decrypt fetched file", zap.Error(err))
	}
	fmt.Printf("Fetched and decrypted document content: %s\n", string(recoveredPlaintext))

	if err := saveSessionState(sess); err != nil {
		logger.Warn("persist session state", zap.Error(err))
	}
}

// saveSessionState writes the session record to ~/.sio/session.json (spec
// section 6.4's client-side persisted state), so a later invocation could
// resume the session instead of re-running the handshake.
func saveSessionState(sess sessionState) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	dir := home + "/.sio"
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(dir+"/session.json", data, 0o600)
}

func createOrganization(client *http.Client, baseURL string, scheme sign.Scheme, longTerm sign.KeyPair, org, username string) error {
	req := handshake.CreateOrgRequest{
		Organization: org,
		Username:     username,
		Name:         username,
		Email:        username + "@example.com",
		PublicKeyPEM: string(longTerm.Public),
	}
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(req); err != nil {
		return err
	}
	resp, err := client.Post(baseURL+"/api/v1/auth/organization", "application/json", buf)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("create_org status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

func createSession(client *http.Client, baseURL string, scheme sign.Scheme, suite ecdh.Suite, longTerm sign.KeyPair, org, username string) (sessionState, error) {
	ephemeral, err := suite.GenerateKeyPair()
	if err != nil {
		return sessionState{}, err
	}
	ephemeralPEM, err := ecdh.PublicKeyToPEM(ephemeral.Public)
	if err != nil {
		return sessionState{}, err
	}

	associatedData, err := json.Marshal(map[string]string{
		"organization":                org,
		"username":                    username,
		"client_ephemeral_public_key": string(ephemeralPEM),
	})
	if err != nil {
		return sessionState{}, err
	}
	sig, err := scheme.Sign(longTerm.Private, associatedData)
	if err != nil {
		return sessionState{}, err
	}

	reqEnv := handshake.SignedEnvelope{AssociatedData: string(associatedData), Signature: hex.EncodeToString(sig)}
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(reqEnv); err != nil {
		return sessionState{}, err
	}
	resp, err := client.Post(baseURL+"/api/v1/auth/session", "application/json", buf)
	if err != nil {
		return sessionState{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return sessionState{}, fmt.Errorf("create_session status %d: %s", resp.StatusCode, string(body))
	}

	var respEnv handshake.SignedEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&respEnv); err != nil {
		return sessionState{}, err
	}

	var respData struct {
		SessionID                uint64 `json:"session_id"`
		ServerEphemeralPublicKey string `json:"server_ephemeral_public_key"`
	}
	if err := json.Unmarshal([]byte(respEnv.AssociatedData), &respData); err != nil {
		return sessionState{}, err
	}

	serverEphemeralPoint, err := ecdh.PublicKeyFromPEM([]byte(respData.ServerEphemeralPublicKey))
	if err != nil {
		return sessionState{}, err
	}
	shared, err := suite.Exchange(ephemeral.Private, serverEphemeralPoint)
	if err != nil {
		return sessionState{}, err
	}
	key, err := kdf.Derive(shared)
	if err != nil {
		return sessionState{}, err
	}

	return sessionState{
		SessionID:    respData.SessionID,
		Organization: org,
		Username:     username,
		DerivedKey:   hex.EncodeToString(key),
		MsgID:        0,
	}, nil
}

// call performs one authenticated operation: encrypts payload under the
// session's derived key with the next msg_id, posts the envelope, and
// decrypts+unmarshals the response into out (if non-nil).
func call(client *http.Client, baseURL string, scheme sign.Scheme, longTerm sign.KeyPair, sess *sessionState, path, method string, payload any, out any) error {
	key, err := hex.DecodeString(sess.DerivedKey)
	if err != nil {
		return err
	}
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	sess.MsgID++
	env, err := envelope.Wrap(key, sess.MsgID, sess.SessionID, plaintext)
	if err != nil {
		return err
	}

	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(env); err != nil {
		return err
	}
	req, err := http.NewRequest(method, baseURL+path, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var respEnv envelope.Envelope
	if err := json.NewDecoder(resp.Body).Decode(&respEnv); err != nil {
		return err
	}
	respPlaintext, err := envelope.Unwrap(key, respEnv)
	if err != nil {
		return err
	}
	sess.MsgID = respEnv.AssociatedData.MsgID

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s %s status %d: %s", method, path, resp.StatusCode, string(respPlaintext))
	}
	if out != nil {
		return json.Unmarshal(respPlaintext, out)
	}
	return nil
}

func fetchFile(client *http.Client, baseURL string, scheme sign.Scheme, fileHandle string) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(map[string]string{"file_handle": fileHandle}); err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodGet, baseURL+"/api/v1/files/", buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("get file status %d: %s", resp.StatusCode, string(body))
	}

	var env handshake.SignedEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, err
	}
	var payload struct {
		FileHandle  string `json:"file_handle"`
		FileContent string `json:"file_content"`
	}
	if err := json.Unmarshal([]byte(env.AssociatedData), &payload); err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(payload.FileContent)
}
