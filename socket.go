package usbip

import (
	"errors"
	"io"
	"log"
	"net"
	"time"
)

// socketHandler owns the TCP listener and, at most, one connected stream,
// per spec.md §3 ("at most one connected stream"). It implements the
// non-blocking accept/read loop the original socket handler drives with
// set_nonblocking + WouldBlock matching; Go has no socket-level
// non-blocking flag, so every read is bounded with SetReadDeadline
// instead (see DESIGN.md).
type socketHandler struct {
	listener net.Listener
	conn     net.Conn

	// pending accumulates bytes read off conn that don't yet form a
	// complete frame. A single TCP read is never assumed to carry a
	// whole frame (spec.md §9's framing-robustness fix).
	pending []byte
}

func newSocketHandler(addr string) (*socketHandler, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &socketHandler{listener: l}, nil
}

// acceptIfIdle accepts one new connection if none is currently open. It
// waits at most about a millisecond: the listener itself is wrapped with
// a short accept deadline when the concrete type supports it
// (*net.TCPListener always does). The deadline lies just ahead rather
// than at time.Now(), because Go fails an accept whose deadline has
// already passed without trying it.
func (h *socketHandler) acceptIfIdle() {
	if h.conn != nil {
		return
	}
	if tl, ok := h.listener.(*net.TCPListener); ok {
		tl.SetDeadline(time.Now().Add(time.Millisecond))
	}
	conn, err := h.listener.Accept()
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return
		}
		return
	}
	log.Printf("usbip: new connection from %s", conn.RemoteAddr())
	h.conn = conn
	h.pending = nil
}

// fill reads whatever is currently available off the connection into
// pending, waiting at most about a millisecond, and reports whether the
// peer closed the connection.
func (h *socketHandler) fill() error {
	if h.conn == nil {
		return ErrConnectionClosed
	}
	h.conn.SetReadDeadline(time.Now().Add(time.Millisecond))
	buf := make([]byte, 4096)
	for {
		n, err := h.conn.Read(buf)
		if n > 0 {
			h.pending = append(h.pending, buf[:n]...)
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return nil
			}
			if errors.Is(err, io.EOF) {
				return ErrConnectionClosed
			}
			return ErrConnectionClosed
		}
		if n == 0 {
			return nil
		}
	}
}

// take returns the first n bytes of pending and advances past them, or
// reports ErrWouldBlock if fewer than n bytes are currently buffered.
func (h *socketHandler) take(n int) ([]byte, error) {
	if len(h.pending) < n {
		return nil, ErrWouldBlock
	}
	out := h.pending[:n]
	h.pending = h.pending[n:]
	return out, nil
}

// peek returns the first n bytes of pending without consuming them, or
// reports ErrWouldBlock if fewer than n bytes are currently buffered.
func (h *socketHandler) peek(n int) ([]byte, error) {
	if len(h.pending) < n {
		return nil, ErrWouldBlock
	}
	return h.pending[:n], nil
}

// write sends b to the current connection. Per spec.md §5, a write that
// would block the local kernel's receive buffer is allowed to briefly
// block poll(); the single client is always the local host kernel.
func (h *socketHandler) write(b []byte) error {
	if h.conn == nil {
		return ErrConnectionClosed
	}
	h.conn.SetWriteDeadline(time.Time{})
	_, err := h.conn.Write(b)
	return err
}

// drop closes the current connection and clears buffered state, the Go
// analogue of the original handler setting `connection = None` on
// disconnect.
func (h *socketHandler) drop() {
	if h.conn != nil {
		h.conn.Close()
	}
	h.conn = nil
	h.pending = nil
}

func (h *socketHandler) connected() bool {
	return h.conn != nil
}
