package peerconn

import "errors"

var (
	// ErrHandshakeInfoHashMismatch is returned when the remote peer's
	// handshake carries a different info hash than the one we dialed for
	// (spec.md §4.3 step 2).
	ErrHandshakeInfoHashMismatch = errors.New("peerconn: handshake info hash mismatch")
	// ErrProtocolViolation is returned when the peer sends a Bitfield
	// message anywhere but as its first post-handshake message (spec.md
	// §4.3: "Must be the first post-handshake message ... if received
	// later, fail ProtocolViolation").
	ErrProtocolViolation = errors.New("peerconn: protocol violation")
	// ErrDeadTimeout is returned when no bytes have arrived from the peer
	// for longer than the configured dead timeout (spec.md §4.3).
	ErrDeadTimeout = errors.New("peerconn: dead timeout")
)
