package usbip

import "errors"

var (
	// ErrWouldBlock indicates no progress is currently possible; it is a
	// status, not a failure, and callers should simply poll again later.
	ErrWouldBlock = errors.New("usbip: would block")

	// ErrConnectionClosed is returned internally when the peer has sent EOF.
	// It never escapes the bus: the bus recovers by returning to Reset.
	ErrConnectionClosed = errors.New("usbip: connection closed")

	// ErrInvalidEndpoint is returned by Read/Write/AllocEndpoint when the
	// operation names an endpoint or direction that doesn't exist, or
	// already exists where a new one was requested.
	ErrInvalidEndpoint = errors.New("usbip: invalid endpoint")

	// ErrEndpointOverflow is returned by AllocEndpoint once 16 endpoint
	// indices are already in use.
	ErrEndpointOverflow = errors.New("usbip: endpoint overflow")

	// ErrBufferOverflow is returned by Read when the caller's buffer is
	// smaller than the next queued chunk.
	ErrBufferOverflow = errors.New("usbip: buffer overflow")

	// ErrInvalidCommand is returned when a URB frame carries an unknown or
	// unsupported command code. The connection is dropped.
	ErrInvalidCommand = errors.New("usbip: invalid command")

	// ErrPacketTooShort names a header read that returned fewer bytes than
	// the frame requires. The bus itself never returns it: an incomplete
	// frame stays buffered in the socket handler and the step reports
	// ErrWouldBlock until the rest arrives.
	ErrPacketTooShort = errors.New("usbip: packet too short")
)
