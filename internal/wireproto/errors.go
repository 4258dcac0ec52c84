package wireproto

import "errors"

var (
	// ErrHandshakeRejected is returned when a peer's handshake does not
	// match the expected wire format (spec.md §4.2, §7).
	ErrHandshakeRejected = errors.New("wireproto: handshake rejected")
	// ErrFraming is returned when a message length prefix is impossible or
	// exceeds the configured maximum (spec.md §4.2, §7 FramingError).
	ErrFraming = errors.New("wireproto: framing error")
)
