package errors

import "errors"

var (
	// ErrUnauthorized covers every authentication failure on the
	// handshake: bad signature, expiry, wrong token type, malformed token.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidToken is the client-facing flavor of ErrUnauthorized.
	ErrInvalidToken = errors.New("invalid token")

	// ErrServerMisconfigured signals a missing signing secret. It is kept
	// distinct from ErrInvalidToken so operators can tell an outage from a
	// client sending garbage.
	ErrServerMisconfigured = errors.New("server misconfigured")

	ErrNotAParticipant      = errors.New("not a participant")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrRateLimited          = errors.New("rate limited")
	ErrValidation           = errors.New("invalid payload")

	ErrWorkerPanic = errors.New("worker panic")
)

// Wire error codes. The protocol distinguishes failures by code, never by
// message text alone.
const (
	CodeUnauthorized  = "UNAUTHORIZED"
	CodeMisconfigured = "MISCONFIGURED"
	CodeForbidden     = "FORBIDDEN"
	CodeNotFound      = "NOT_FOUND"
	CodeRateLimited   = "RATE_LIMITED"
	CodeValidation    = "VALIDATION_ERROR"
	CodeInternal      = "INTERNAL"
)

// CodeOf maps a domain error to its wire code. Unknown errors map to
// CodeInternal: they are reported to the originating connection with the
// underlying message text but never crash the process.
func CodeOf(err error) string {
	switch {
	case errors.Is(err, ErrServerMisconfigured):
		return CodeMisconfigured
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrInvalidToken):
		return CodeUnauthorized
	case errors.Is(err, ErrNotAParticipant):
		return CodeForbidden
	case errors.Is(err, ErrConversationNotFound), errors.Is(err, ErrMessageNotFound):
		return CodeNotFound
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, ErrValidation):
		return CodeValidation
	default:
		return CodeInternal
	}
}
