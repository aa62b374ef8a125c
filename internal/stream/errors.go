package stream

import "errors"

// Connect errors.
var (
	// ErrUnreachable is returned when the camera cannot be reached (socket/DNS failure).
	ErrUnreachable = errors.New("camera unreachable")

	// ErrBadStatus is returned when the camera answers with a non-2xx status.
	ErrBadStatus = errors.New("unexpected http status")

	// ErrMissingBoundary is returned when a multipart stream advertises no boundary token.
	ErrMissingBoundary = errors.New("multipart stream has no boundary")
)

// Stream errors.
var (
	// ErrDisconnected is returned when the underlying socket is closed.
	ErrDisconnected = errors.New("stream disconnected")

	// ErrTimeout is returned when no bytes arrive within the read deadline.
	ErrTimeout = errors.New("stream read timeout")

	// ErrFrameTooLarge is returned when a frame would exceed the accumulation
	// buffer capacity before the next boundary is found. The offending bytes are
	// discarded and the parser resynchronizes at the next boundary.
	ErrFrameTooLarge = errors.New("frame exceeds buffer capacity")
)
