package wireproto

import (
	"bytes"
	"fmt"
)

// Pstr is the literal protocol string every BitTorrent peer connection
// opens with (spec.md §4.2, §6).
const Pstr = "BitTorrent protocol"

const handshakeLen = 49 + len(Pstr) // pstrlen byte + pstr + 8 reserved + 20 info_hash + 20 peer_id

// Handshake is the fixed 68-byte opening message of every peer connection.
type Handshake struct {
	InfoHash [20]byte
	PeerID   [20]byte
	Reserved [8]byte
}

// NewHandshake builds an outbound handshake with zeroed reserved bytes
// (spec.md §4.3 step 1: "reserved bytes zero").
func NewHandshake(infoHash, peerID [20]byte) Handshake {
	return Handshake{InfoHash: infoHash, PeerID: peerID}
}

// Serialize encodes the handshake to its 68-byte wire form.
func (h Handshake) Serialize() []byte {
	buf := make([]byte, handshakeLen)
	buf[0] = byte(len(Pstr))
	cursor := 1
	cursor += copy(buf[cursor:], Pstr)
	cursor += copy(buf[cursor:], h.Reserved[:])
	cursor += copy(buf[cursor:], h.InfoHash[:])
	copy(buf[cursor:], h.PeerID[:])
	return buf
}

// ParseHandshake validates and decodes a 68-byte handshake buffer,
// failing with ErrHandshakeRejected on any structural mismatch (wrong
// pstrlen or pstr; spec.md §4.2).
func ParseHandshake(buf []byte) (Handshake, error) {
	if len(buf) != handshakeLen {
		return Handshake{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrHandshakeRejected, handshakeLen, len(buf))
	}
	pstrlen := int(buf[0])
	if pstrlen != len(Pstr) {
		return Handshake{}, fmt.Errorf("%w: unexpected pstrlen %d", ErrHandshakeRejected, pstrlen)
	}
	if !bytes.Equal(buf[1:1+pstrlen], []byte(Pstr)) {
		return Handshake{}, fmt.Errorf("%w: unexpected pstr %q", ErrHandshakeRejected, buf[1:1+pstrlen])
	}
	var h Handshake
	cursor := 1 + pstrlen
	copy(h.Reserved[:], buf[cursor:cursor+8])
	cursor += 8
	copy(h.InfoHash[:], buf[cursor:cursor+20])
	cursor += 20
	copy(h.PeerID[:], buf[cursor:cursor+20])
	return h, nil
}
