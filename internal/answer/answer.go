// Package answer is the boundary to the text-generation service. Given a
// question and the retrieved context, an Answerer returns a natural-language
// answer. Two backends are provided: HTTPClient calls an external answer
// service, ModelAnswerer calls an eino chat model directly.
package answer

import (
	"context"
	"errors"
	"fmt"
)

// ErrMalformedResponse is returned when the answer backend replied
// successfully but without a usable answer.
var ErrMalformedResponse = errors.New("answer: malformed response")

// Answerer generates an answer to question from document.
// Implementations must be safe for concurrent use.
type Answerer interface {
	// Answer returns the generated answer. Failures are reported as
	// *UpstreamError or an error wrapping ErrMalformedResponse.
	Answer(ctx context.Context, question, document string) (string, error)
}

// UpstreamError reports a failed call to the answer backend: a non-2xx
// status, a transport failure, or a timeout.
type UpstreamError struct {
	// Status is the HTTP status code, or 0 when no response was received.
	Status int
	// Body is the (possibly truncated) response body for diagnostics.
	Body string
	// Err is the underlying transport or model error, if any.
	Err error
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("answer: upstream returned %d: %s", e.Status, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("answer: upstream call failed: %v", e.Err)
	default:
		return "answer: upstream call failed"
	}
}

// Unwrap returns the underlying error so errors.Is sees context.DeadlineExceeded.
func (e *UpstreamError) Unwrap() error { return e.Err }
