// Package apierr defines the error-kind taxonomy of spec section 7 and
// maps each kind to an HTTP status and a detail string, mirroring the
// teacher gateway's writeJSON/http.Error convention.
package apierr

import "net/http"

// Kind enumerates the fatal error conditions the core can raise.
type Kind string

const (
	AuthFail            Kind = "AUTH_FAIL"
	Replay              Kind = "REPLAY"
	SessionUnknown      Kind = "SESSION_UNKNOWN"
	SessionExpired      Kind = "SESSION_EXPIRED"
	SubjectInactive     Kind = "SUBJECT_INACTIVE"
	RoleNotAssumed      Kind = "ROLE_NOT_ASSUMED"
	PermissionDenied    Kind = "PERMISSION_DENIED"
	ACLDenied           Kind = "ACL_DENIED"
	NotFound            Kind = "NOT_FOUND"
	Conflict            Kind = "CONFLICT"
	InvariantViolation  Kind = "INVARIANT_VIOLATION"
	IntegrityFail       Kind = "INTEGRITY_FAIL"
	BadRequest          Kind = "BAD_REQUEST"
	UnsupportedAlg      Kind = "UNSUPPORTED_ALG"
	DocGone             Kind = "DOC_GONE"
)

// Error wraps a Kind with a human-readable detail, the unit every
// component aborts with.
type Error struct {
	Kind   Kind
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Detail
}

// New constructs an Error of the given kind.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// HTTPStatus maps an error kind to the status code the transport must use.
// SESSION_UNKNOWN and SESSION_EXPIRED and REPLAY and AUTH_FAIL all surface
// as 499 per spec section 7; PERMISSION_DENIED/ACL_DENIED surface as 403
// (still envelope-wrapped per section 6.3); the rest map to conventional
// REST statuses.
func (k Kind) HTTPStatus() int {
	switch k {
	case PermissionDenied, ACLDenied:
		return http.StatusForbidden
	case AuthFail, Replay, SessionUnknown, SessionExpired, SubjectInactive, DocGone:
		return 499
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case InvariantViolation, BadRequest, UnsupportedAlg, RoleNotAssumed:
		return http.StatusBadRequest
	case IntegrityFail:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// Body is the JSON shape carried in an encrypted (or, for SESSION_UNKNOWN
// without a recoverable key, plaintext) error response.
type Body struct {
	Error  Kind   `json:"error"`
	Detail string `json:"detail"`
}

// AsError extracts an *Error from err, wrapping it as an internal failure
// if it is not already one.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	if apiErr, ok := err.(*Error); ok {
		return apiErr
	}
	return &Error{Kind: "INTERNAL", Detail: err.Error()}
}
