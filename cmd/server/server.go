package main

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"reflect"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/exampleorg/docrepo/internal/platform/metrics"
	"github.com/exampleorg/docrepo/internal/platform/policy"
	"github.com/exampleorg/docrepo/internal/platform/tracing"
	"github.com/exampleorg/docrepo/pkg/apierr"
	"github.com/exampleorg/docrepo/pkg/crypto/sign"
	"github.com/exampleorg/docrepo/pkg/org"
	"github.com/exampleorg/docrepo/pkg/session/envelope"
	"github.com/exampleorg/docrepo/pkg/session/handshake"
	"github.com/exampleorg/docrepo/pkg/session/registry"
)

var tracer = tracing.Tracer("docrepo-server")

// operationRequests and operationFailures count authenticated operations by
// name and outcome. Both are backed by a no-op instrument until main wires a
// real OTLP meter provider, so they're safe to record into unconditionally.
var (
	operationRequests = mustInt64Counter("docrepo.operation.requests", "authenticated operations handled, by operation and outcome")
	operationFailures = mustInt64Counter("docrepo.operation.failures", "authenticated operations that returned an error, by operation and error kind")
)

func mustInt64Counter(name, description string) metric.Int64Counter {
	counter, err := metrics.Meter("docrepo-server").Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		// The otel SDK only rejects malformed instrument names; ours are
		// fixed string literals, so this path is unreachable in practice.
		panic(err)
	}
	return counter
}

// Config wires runtime parameters for the document-repository server.
type Config struct {
	Address string
	Delta   time.Duration
	Logger  *zap.Logger
}

// Server hosts the HTTP interface for the handshake and the RBAC/document
// operation set.
type Server struct {
	cfg Config

	logger *zap.Logger

	orgs     *org.Store
	sessions *registry.Registry
	blobs    org.BlobStore
	scheme   sign.Scheme

	serverKeyPair sign.KeyPair
	handshakes    *handshake.Engine
	policyEngine  *policy.Engine

	httpSrv *http.Server
}

// New constructs the server and wires every HTTP route under /api/v1.
func New(cfg Config, orgs *org.Store, sessions *registry.Registry, blobs org.BlobStore, scheme sign.Scheme, serverKeyPair sign.KeyPair, handshakes *handshake.Engine, policyEngine *policy.Engine) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Address == "" {
		cfg.Address = ":8443"
	}

	s := &Server{
		cfg:           cfg,
		logger:        cfg.Logger,
		orgs:          orgs,
		sessions:      sessions,
		blobs:         blobs,
		scheme:        scheme,
		serverKeyPair: serverKeyPair,
		handshakes:    handshakes,
		policyEngine:  policyEngine,
	}

	router := mux.NewRouter()
	api := router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/auth/organization", s.handleCreateOrganization).Methods(http.MethodPost)
	api.HandleFunc("/auth/session", s.handleCreateSession).Methods(http.MethodPost)
	api.HandleFunc("/organizations/", s.handleListOrganizations).Methods(http.MethodGet)
	api.HandleFunc("/files/", s.handleGetFile).Methods(http.MethodGet)

	api.HandleFunc("/sessions/roles", s.authenticated(s.opAssumeRole)).Methods(http.MethodPost)
	api.HandleFunc("/sessions/roles", s.authenticated(s.opDropRole)).Methods(http.MethodDelete)
	api.HandleFunc("/sessions/roles", s.authenticated(s.opListSessionRoles)).Methods(http.MethodGet)

	api.HandleFunc("/organizations/subjects/state", s.authenticated(s.opSubjectStates)).Methods(http.MethodGet)
	api.HandleFunc("/organizations/subjects", s.authenticated(s.opNewSubject)).Methods(http.MethodPost)
	api.HandleFunc("/organizations/subjects/state", s.authenticated(s.opSetSubjectState)).Methods(http.MethodPut)

	api.HandleFunc("/organizations/roles", s.authenticated(s.opNewRole)).Methods(http.MethodPost)
	api.HandleFunc("/organizations/roles/suspend", s.authenticated(s.opSuspendRole)).Methods(http.MethodPut)
	api.HandleFunc("/organizations/roles/reactivate", s.authenticated(s.opReactivateRole)).Methods(http.MethodPut)
	api.HandleFunc("/organizations/roles/permissions", s.authenticated(s.opAddRolePermission)).Methods(http.MethodPost)
	api.HandleFunc("/organizations/roles/permissions", s.authenticated(s.opRemoveRolePermission)).Methods(http.MethodDelete)
	api.HandleFunc("/organizations/roles/subjects", s.authenticated(s.opAddRoleSubject)).Methods(http.MethodPost)
	api.HandleFunc("/organizations/roles/subjects", s.authenticated(s.opRemoveRoleSubject)).Methods(http.MethodDelete)
	api.HandleFunc("/organizations/roles/subjects", s.authenticated(s.opRoleMembers)).Methods(http.MethodGet)
	api.HandleFunc("/organizations/subjects/roles", s.authenticated(s.opSubjectRoles)).Methods(http.MethodGet)
	api.HandleFunc("/organizations/roles/permissions", s.authenticated(s.opRolePermissions)).Methods(http.MethodGet)
	api.HandleFunc("/organizations/permissions/roles", s.authenticated(s.opPermissionRoles)).Methods(http.MethodGet)

	api.HandleFunc("/organizations/documents", s.authenticated(s.opListDocuments)).Methods(http.MethodGet)
	api.HandleFunc("/organizations/documents", s.authenticated(s.opNewDocument)).Methods(http.MethodPost)
	api.HandleFunc("/organizations/documents/metadata", s.authenticated(s.opDocumentMetadata)).Methods(http.MethodGet)
	api.HandleFunc("/organizations/documents/", s.authenticated(s.opDeleteDocument)).Methods(http.MethodDelete)
	api.HandleFunc("/organizations/documents/acl", s.authenticated(s.opACLDocument)).Methods(http.MethodPost)

	s.httpSrv = &http.Server{
		Addr:         cfg.Address,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	return s.httpSrv.ListenAndServe()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// --- handshake & unauthenticated endpoints ---

func (s *Server) handleCreateOrganization(w http.ResponseWriter, r *http.Request) {
	var req handshake.CreateOrgRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorPlain(w, apierr.New(apierr.BadRequest, "malformed request body"))
		return
	}
	resp, err := s.handshakes.CreateOrganization(req, time.Now())
	if err != nil {
		s.logger.Warn("create_org failed", zap.Error(err))
		writeErrorPlain(w, apierr.AsError(err))
		return
	}
	writeJSON(w, resp, http.StatusOK)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req handshake.SignedEnvelope
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorPlain(w, apierr.New(apierr.BadRequest, "malformed request body"))
		return
	}
	resp, err := s.handshakes.CreateSession(req, time.Now())
	if err != nil {
		s.logger.Warn("auth/session failed", zap.Error(err))
		writeErrorPlain(w, apierr.AsError(err))
		return
	}
	writeJSON(w, resp, http.StatusOK)
}

func (s *Server) handleListOrganizations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"organizations": s.orgs.List()}, http.StatusOK)
}

type fileRequest struct {
	FileHandle string `json:"file_handle"`
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	var req fileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorPlain(w, apierr.New(apierr.BadRequest, "malformed request body"))
		return
	}
	blob, err := s.blobs.Get(req.FileHandle)
	if err != nil {
		writeErrorPlain(w, apierr.AsError(err))
		return
	}
	payload := map[string]any{
		"file_handle":  req.FileHandle,
		"file_content": base64.StdEncoding.EncodeToString(blob),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		writeErrorPlain(w, apierr.New(apierr.BadRequest, "unable to encode response"))
		return
	}
	sig, err := s.scheme.Sign(s.serverKeyPair.Private, data)
	if err != nil {
		writeErrorPlain(w, apierr.New(apierr.BadRequest, "unable to sign response"))
		return
	}
	writeJSON(w, handshake.SignedEnvelope{AssociatedData: string(data), Signature: hex.EncodeToString(sig)}, http.StatusOK)
}

// --- authenticated envelope plumbing ---

// opFunc handles one authenticated operation: the decrypted request
// plaintext in, the response plaintext (marshaled to JSON) out.
type opFunc func(ctx context.Context, sess *registry.Session, o *org.Organization, body []byte) (any, error)

// authenticated wraps an op behind the C4 message envelope: it identifies
// the session, holds its lock for the entire span (spec section 9), checks
// expiry/replay, decrypts, runs the op, and encrypts the response.
func (s *Server) authenticated(op opFunc) http.HandlerFunc {
	opName := operationName(op)
	opAttr := attribute.String("docrepo.operation", opName)
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), opName)
		defer span.End()

		fail := func(w http.ResponseWriter, err error, writeFn func()) {
			span.SetStatus(codes.Error, err.Error())
			operationRequests.Add(ctx, 1, metric.WithAttributes(opAttr, attribute.String("docrepo.outcome", "error")))
			operationFailures.Add(ctx, 1, metric.WithAttributes(opAttr,
				attribute.String("docrepo.error_kind", string(apierr.AsError(err).Kind))))
			writeFn()
		}

		var env envelope.Envelope
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			err = apierr.New(apierr.BadRequest, "malformed envelope")
			fail(w, err, func() { writeErrorPlain(w, apierr.AsError(err)) })
			return
		}

		sess, err := s.sessions.Get(env.AssociatedData.SessionID)
		if err != nil {
			fail(w, err, func() { writeErrorPlain(w, apierr.AsError(err)) })
			return
		}
		span.SetAttributes(attribute.Int64("docrepo.session_id", int64(sess.ID)))

		sess.Lock()
		defer sess.Unlock()

		now := time.Now()
		if err := sess.Accept(now, env.AssociatedData.MsgID); err != nil {
			fail(w, err, func() { s.writeSessionError(w, sess, err) })
			return
		}

		plaintext, err := envelope.Unwrap(sess.Key, env)
		if err != nil {
			fail(w, err, func() { s.writeSessionError(w, sess, err) })
			return
		}

		o, err := s.orgs.Get(sess.Organization)
		if err != nil {
			fail(w, err, func() { s.writeSessionError(w, sess, err) })
			return
		}

		result, opErr := op(ctx, sess, o, plaintext)
		if opErr != nil {
			fail(w, opErr, func() { s.writeSessionError(w, sess, opErr) })
			return
		}

		respBytes, err := json.Marshal(result)
		if err != nil {
			fail(w, err, func() { s.writeSessionError(w, sess, err) })
			return
		}
		respMsgID := sess.NextResponseMsgID()
		respEnv, err := envelope.Wrap(sess.Key, respMsgID, sess.ID, respBytes)
		if err != nil {
			fail(w, err, func() { s.writeSessionError(w, sess, err) })
			return
		}

		operationRequests.Add(ctx, 1, metric.WithAttributes(opAttr, attribute.String("docrepo.outcome", "ok")))
		writeJSON(w, respEnv, statusFor(nil))
	}
}

// operationName derives a span/log label from an opFunc's underlying
// method value, mirroring internal/platform/compliance's CheckFunc.Name().
func operationName(op opFunc) string {
	val := reflect.ValueOf(op)
	if fn := runtime.FuncForPC(val.Pointer()); fn != nil {
		return fn.Name()
	}
	return "op"
}

// writeSessionError encrypts the error body under the session's key
// whenever the key is known, per spec section 4.4/7. Errors raised before a
// session (and thus a key) is identified — a malformed envelope
// (BAD_REQUEST) or SESSION_UNKNOWN — are written in plaintext by the caller
// and never reach here.
func (s *Server) writeSessionError(w http.ResponseWriter, sess *registry.Session, err error) {
	apiErr := apierr.AsError(err)
	body, marshalErr := json.Marshal(apierr.Body{Error: apiErr.Kind, Detail: apiErr.Detail})
	if marshalErr != nil {
		writeErrorPlain(w, apiErr)
		return
	}
	msgID := sess.NextResponseMsgID()
	env, wrapErr := envelope.Wrap(sess.Key, msgID, sess.ID, body)
	if wrapErr != nil {
		writeErrorPlain(w, apiErr)
		return
	}
	writeJSON(w, env, statusFor(apiErr))
}

func statusFor(err *apierr.Error) int {
	if err == nil {
		return http.StatusOK
	}
	return err.Kind.HTTPStatus()
}

func writeErrorPlain(w http.ResponseWriter, err *apierr.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Kind.HTTPStatus())
	_ = json.NewEncoder(w).Encode(apierr.Body{Error: err.Kind, Detail: err.Detail})
}

func writeJSON(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func parseDateDDMMYYYY(s string) (time.Time, error) {
	return time.Parse("02-01-2006", s)
}
