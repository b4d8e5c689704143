package session

import "fmt"

// Kind is the stable classification of a session failure. The HTTP layer maps
// each kind to one status code.
type Kind string

const (
	// KindNotFound means the chat does not exist.
	KindNotFound Kind = "not_found"
	// KindContextNotFound means retrieval found nothing relevant to the question.
	KindContextNotFound Kind = "context_not_found"
	// KindForbidden means the caller neither owns the chat nor is an admin.
	KindForbidden Kind = "forbidden"
	// KindRetrievalFailed means the embedder or the index failed.
	KindRetrievalFailed Kind = "retrieval_failed"
	// KindUpstreamFailed means the answer service errored or timed out.
	KindUpstreamFailed Kind = "upstream_failed"
	// KindMalformedUpstream means the answer service replied without an answer.
	KindMalformedUpstream Kind = "malformed_upstream"
	// KindInvalid means the request itself was unusable.
	KindInvalid Kind = "invalid"
	// KindInternal means persistence failed.
	KindInternal Kind = "internal"
)

// Error is the typed failure returned by every Service operation.
type Error struct {
	// Kind classifies the failure.
	Kind Kind
	// Message is safe to show to end users.
	Message string
	// Detail carries operator diagnostics such as the upstream status and
	// body. It is logged, never sent to end users.
	Detail string
	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("session: %s: %s (%s)", e.Kind, e.Message, e.Detail)
	}
	return fmt.Sprintf("session: %s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, msg string, cause error) *Error {
	e := &Error{Kind: kind, Message: msg, Err: cause}
	if cause != nil {
		e.Detail = cause.Error()
	}
	return e
}
