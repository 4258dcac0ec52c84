package wireproto

import "encoding/binary"

// MessageID identifies a message-mode frame's payload shape (spec.md §4.2).
type MessageID uint8

const (
	MsgChoke         MessageID = 0
	MsgUnchoke       MessageID = 1
	MsgInterested    MessageID = 2
	MsgNotInterested MessageID = 3
	MsgHave          MessageID = 4
	MsgBitfield      MessageID = 5
	MsgRequest       MessageID = 6
	MsgPiece         MessageID = 7
	MsgCancel        MessageID = 8
	MsgPort          MessageID = 9
)

func (id MessageID) String() string {
	switch id {
	case MsgChoke:
		return "choke"
	case MsgUnchoke:
		return "unchoke"
	case MsgInterested:
		return "interested"
	case MsgNotInterested:
		return "not-interested"
	case MsgHave:
		return "have"
	case MsgBitfield:
		return "bitfield"
	case MsgRequest:
		return "request"
	case MsgPiece:
		return "piece"
	case MsgCancel:
		return "cancel"
	case MsgPort:
		return "port"
	default:
		return "unknown"
	}
}

// FrameKind tags which alternative a Frame holds.
type FrameKind int

const (
	// FrameHandshake is yielded exactly once, when the framer is in
	// handshake mode and a full 68-byte handshake has arrived.
	FrameHandshake FrameKind = iota
	// FrameKeepAlive is yielded for a zero-length message-mode frame.
	FrameKeepAlive
	// FrameMessage is yielded for every other message-mode frame, known or
	// unknown id alike (unknown ids are yielded with their raw payload so
	// callers can log and discard them, per spec.md §4.2).
	FrameMessage
)

// Frame is one decoded unit yielded by the Framer.
type Frame struct {
	Kind      FrameKind
	Handshake Handshake
	ID        MessageID
	Payload   []byte
}

// Serialize encodes a message-mode frame (choke/unchoke/.../port) to its
// 4-byte-length-prefixed wire form. The id byte is always written, so a
// nil payload yields a 5-byte frame; the keep-alive comes from
// SerializeKeepAlive.
func Serialize(id MessageID, payload []byte) []byte {
	length := uint32(len(payload) + 1)
	buf := make([]byte, 4+length)
	binary.BigEndian.PutUint32(buf[0:4], length)
	buf[4] = byte(id)
	copy(buf[5:], payload)
	return buf
}

// SerializeKeepAlive encodes the zero-length keep-alive message.
func SerializeKeepAlive() []byte {
	return make([]byte, 4)
}
