package httpcodec

import (
	"errors"
	"fmt"
)

// ErrIncomplete is returned by Framer.Finish when the peer closed the
// connection before the response was complete.
var ErrIncomplete = errors.New("response ended before framing was complete")

// ErrTooLarge is wrapped by the ProtocolError a Framer returns once a
// response grows past its size limit.
var ErrTooLarge = errors.New("response too large")

// ProtocolError reports a malformed status line, malformed headers, a bad
// chunk size line, an oversized response or a premature close.
type ProtocolError struct {
	// Reason describes what was wrong with the response.
	Reason string
	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("http protocol error: %s: %v", e.Reason, e.Err)
	}
	return "http protocol error: " + e.Reason
}

// Unwrap returns the underlying cause.
func (e *ProtocolError) Unwrap() error {
	return e.Err
}
