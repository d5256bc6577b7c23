package proxy

import "fmt"

// InvalidInputError marks a failure caused by malformed input from the
// peer: an unparsable HTTP handshake request, a handshake that fails
// RFC 6455 validation, or a WebSocket frame with an unknown opcode or a
// declared payload length above 2^63-1.
//
// Every other failure (I/O errors, upstream dial failures, a peer
// hanging up mid-frame) surfaces as a plain wrapped error instead; it
// doesn't need its own type, any error that isn't an *InvalidInputError
// falls into that bucket.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return "invalid input: " + e.Reason
}

func invalidInput(format string, args ...any) error {
	return &InvalidInputError{Reason: fmt.Sprintf(format, args...)}
}
