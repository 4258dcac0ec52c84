package wireproto

import (
	"encoding/binary"
	"fmt"
)

// MaxFrameLength bounds the message-mode length prefix L. A peer sending a
// larger L is almost certainly not speaking the protocol; tear the
// connection down rather than allocate an attacker-controlled buffer
// (spec.md §4.2: "L exceeds a configured maximum of 2^17 + 13 bytes").
const MaxFrameLength = 1<<17 + 13

type mode int

const (
	modeHandshake mode = iota
	modeMessage
)

// Framer incrementally parses a duplex peer-wire byte stream into discrete
// Frames. It buffers partial frames across calls to Feed: a single
// underlying socket read may deliver zero, one, or many messages, and may
// split a message at an arbitrary byte boundary (spec.md §4.2 invariant).
//
// A Framer is not safe for concurrent use; each peer session owns exactly
// one.
type Framer struct {
	mode mode
	buf  []byte
}

// NewFramer returns a Framer positioned in handshake mode.
func NewFramer() *Framer {
	return &Framer{mode: modeHandshake}
}

// Feed appends newly-read bytes to the framer's internal buffer and
// extracts as many complete frames as are now available. It returns an
// error and stops as soon as a frame is malformed; the caller should tear
// down the connection on error and discard the Framer.
func (f *Framer) Feed(data []byte) ([]Frame, error) {
	f.buf = append(f.buf, data...)

	var frames []Frame
	for {
		frame, consumed, ok, err := f.tryParseOne()
		if err != nil {
			return frames, err
		}
		if !ok {
			return frames, nil
		}
		frames = append(frames, frame)
		f.buf = f.buf[consumed:]
	}
}

func (f *Framer) tryParseOne() (Frame, int, bool, error) {
	switch f.mode {
	case modeHandshake:
		return f.tryParseHandshake()
	default:
		return f.tryParseMessage()
	}
}

func (f *Framer) tryParseHandshake() (Frame, int, bool, error) {
	if len(f.buf) < handshakeLen {
		return Frame{}, 0, false, nil
	}
	hs, err := ParseHandshake(f.buf[:handshakeLen])
	if err != nil {
		return Frame{}, 0, false, err
	}
	f.mode = modeMessage
	return Frame{Kind: FrameHandshake, Handshake: hs}, handshakeLen, true, nil
}

func (f *Framer) tryParseMessage() (Frame, int, bool, error) {
	if len(f.buf) < 4 {
		return Frame{}, 0, false, nil
	}
	length := binary.BigEndian.Uint32(f.buf[0:4])
	if length > MaxFrameLength {
		return Frame{}, 0, false, fmt.Errorf("%w: length prefix %d exceeds maximum %d", ErrFraming, length, MaxFrameLength)
	}
	total := 4 + int(length)
	if len(f.buf) < total {
		return Frame{}, 0, false, nil
	}
	if length == 0 {
		return Frame{Kind: FrameKeepAlive}, total, true, nil
	}
	id := MessageID(f.buf[4])
	payload := f.buf[5:total]
	// Copy the payload out: the next Feed call may reslice/overwrite buf.
	owned := make([]byte, len(payload))
	copy(owned, payload)
	return Frame{Kind: FrameMessage, ID: id, Payload: owned}, total, true, nil
}
