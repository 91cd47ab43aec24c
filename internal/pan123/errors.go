// Package pan123 implements a client for the 123pan Open Platform file API:
// token lifecycle, envelope-code retry policy, and the upload/list/mkdir/
// move/delete/download primitives the rest of the system builds on.
package pan123

import (
	"errors"
	"fmt"
)

// Sentinel errors for envelope/transport classification.
// Use errors.Is(err, pan123.ErrNotFound) to check.
var (
	ErrNotFound   = errors.New("pan123: not found")
	ErrBadRequest = errors.New("pan123: bad request")
	ErrAuth       = errors.New("pan123: authentication failed")
	ErrTransport  = errors.New("pan123: transport error")
	ErrInternal   = errors.New("pan123: internal error")
)

// APIError wraps a non-zero, non-retryable envelope code with the message
// the upstream returned. It always unwraps to nil unless the code maps to
// one of the sentinels above (see classifyCode).
type APIError struct {
	Code    int
	Message string
	Err     error // sentinel, for errors.Is(); nil for unclassified upstream codes
}

func (e *APIError) Error() string {
	return fmt.Sprintf("pan123: upstream error %d: %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// downloadNotFoundCode is the upstream code for "file not found" returned
// by the download-info endpoint specifically — remapped to ErrNotFound by
// the caller rather than classified here, since it only applies to that one
// endpoint (see Client.GetDownloadURL).
const downloadNotFoundCode = 5066

// duplicateNameCode is the upstream mkdir response for an existing name in
// the same parent — handled by the namespace engine's reconciliation path,
// not treated as a terminal error here.
const duplicateNameCode = 1

// rateLimitedCode triggers a retry at the session layer.
const rateLimitedCode = 429

// unauthorizedCode forces a token refresh and one retry.
const unauthorizedCode = 401

// classifyCode maps an upstream envelope code to a sentinel, for error kinds
// that have a clear cross-cutting meaning regardless of which endpoint
// returned them. Unrecognized non-zero codes classify as nil (APIError is
// still returned, just without a sentinel to match against).
func classifyCode(code int) error {
	if code == unauthorizedCode {
		return ErrAuth
	}

	return nil
}
