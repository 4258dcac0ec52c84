// Package peerconn implements the per-connection peer session state
// machine (spec.md §4.3, C3): handshake, choke/interest bookkeeping, the
// bounded outstanding-request window, and the reaction rules that turn
// framed wire messages into scheduler calls and outbound messages.
//
// This is a deliberate generalization of the teacher's pieceProgress /
// startDownloadWorker loop (_examples/StupidAfCoder-GoRent/torrent/torrent.go)
// away from a single monolithic function driven by a shared work channel,
// and towards an explicit per-connection object the runtime (C7) can pool
// with an errgroup, matching SPEC_FULL.md §11's "one goroutine per peer
// connection" model.
package peerconn

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"goleech/internal/bitfield"
	"goleech/internal/piece"
	"goleech/internal/wireproto"
)

// Scheduler is the subset of the scheduler (C5) a peer session needs. The
// session holds no other reference into the scheduler's state; per
// spec.md §4.5/§7 the scheduler is the sole authority over piece
// assignment and completion bookkeeping.
type Scheduler interface {
	// NextPieceFor returns a freshly assigned piece handle the peer (whose
	// advertised availability is have) can usefully work on, or ok=false
	// if nothing is available right now.
	NextPieceFor(have bitfield.Bitfield) (h *piece.Handle, ok bool)
	// PieceCompleted reports that h's buffer is fully written. On
	// successful digest verification it returns the next assignment (if
	// any) for this peer and a nil error. On piece.ErrDigestMismatch it
	// returns the same handle, reset, for the caller to retry.
	PieceCompleted(have bitfield.Bitfield, h *piece.Handle) (next *piece.Handle, err error)
	// PeerDropped releases h's assignment back to the pool. Called once,
	// from the session's shutdown path, if a piece was assigned.
	PeerDropped(h *piece.Handle)
}

// Config holds the tunables of a peer session (SPEC_FULL.md §10.3).
type Config struct {
	BlockSize         int
	RequestWindow     int
	DeadTimeout       time.Duration
	KeepAliveInterval time.Duration
	DialTimeout       time.Duration
	HandshakeTimeout  time.Duration
}

// DefaultConfig matches spec.md §4.3's defaults (W=10, 16 KiB blocks,
// production-leaning 90s dead timeout).
func DefaultConfig() Config {
	return Config{
		BlockSize:         16 * 1024,
		RequestWindow:     10,
		DeadTimeout:       90 * time.Second,
		KeepAliveInterval: 90 * time.Second,
		DialTimeout:       5 * time.Second,
		HandshakeTimeout:  5 * time.Second,
	}
}

type pendingRequest struct {
	begin  int
	length int
}

// Session is one live peer connection and its protocol state (spec.md §3
// "Peer session").
type Session struct {
	conn   net.Conn
	framer *wireproto.Framer
	sched  Scheduler
	store  *piece.Store
	cfg    Config
	log    *slog.Logger

	infoHash [20]byte
	ourID    [20]byte

	RemoteAddr   string
	RemotePeerID [20]byte

	remoteBitfield bitfield.Bitfield
	numPieces      int
	messagesSeen   int

	amChoking      bool
	amInterested   bool
	peerChoking    bool
	peerInterested bool

	assigned *piece.Handle
	window   []pendingRequest

	lastInbound time.Time
}

// Dial opens a TCP connection to addr, completes the handshake, and
// returns a Session ready for Run. It fails with
// ErrHandshakeInfoHashMismatch if the peer echoes a different info hash
// (spec.md §4.3 steps 1-2).
func Dial(ctx context.Context, addr string, infoHash, ourID [20]byte, numPieces int, sched Scheduler, store *piece.Store, cfg Config, log *slog.Logger) (*Session, error) {
	if log == nil {
		log = slog.Default()
	}
	dialer := net.Dialer{Timeout: cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("peerconn: dial %s: %w", addr, err)
	}

	s := &Session{
		conn:           conn,
		framer:         wireproto.NewFramer(),
		sched:          sched,
		store:          store,
		cfg:            cfg,
		log:            log.With("component", "peerconn", "peer", addr),
		infoHash:       infoHash,
		ourID:          ourID,
		RemoteAddr:     addr,
		numPieces:      numPieces,
		remoteBitfield: bitfield.New(numPieces),
		amChoking:      true,
		peerChoking:    true,
	}

	if err := s.handshake(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Session) handshake() error {
	s.conn.SetDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	defer s.conn.SetDeadline(time.Time{})

	out := wireproto.NewHandshake(s.infoHash, s.ourID)
	if _, err := s.conn.Write(out.Serialize()); err != nil {
		return fmt.Errorf("peerconn: send handshake: %w", err)
	}

	buf := make([]byte, 256)
	for {
		n, err := s.conn.Read(buf)
		if err != nil {
			return fmt.Errorf("peerconn: read handshake: %w", err)
		}
		frames, ferr := s.framer.Feed(buf[:n])
		if ferr != nil {
			return fmt.Errorf("peerconn: handshake framing: %w", ferr)
		}
		for _, f := range frames {
			if f.Kind != wireproto.FrameHandshake {
				continue
			}
			if f.Handshake.InfoHash != s.infoHash {
				return fmt.Errorf("%w: got %x", ErrHandshakeInfoHashMismatch, f.Handshake.InfoHash)
			}
			s.RemotePeerID = f.Handshake.PeerID
			s.lastInbound = time.Now()
			return nil
		}
	}
}

// Run drives the session until the connection ends, the context is
// cancelled, or a fatal protocol/timeout error occurs. It always releases
// any assigned piece back to the scheduler before returning (spec.md §5
// "Cancellation").
func (s *Session) Run(ctx context.Context) error {
	defer s.conn.Close()

	// A leecher gains nothing from choking uploads it never serves, and
	// matches the teacher's unconditional opening Unchoke
	// (_examples/StupidAfCoder-GoRent/torrent/torrent.go startDownloadWorker).
	if err := s.send(wireproto.MsgUnchoke, nil); err != nil {
		return err
	}
	s.amChoking = false

	const pollInterval = 1 * time.Second
	buf := make([]byte, 32*1024)

	for {
		select {
		case <-ctx.Done():
			s.releaseAssignment()
			return ctx.Err()
		default:
		}

		s.conn.SetReadDeadline(time.Now().Add(pollInterval))
		n, err := s.conn.Read(buf)
		if n > 0 {
			frames, ferr := s.framer.Feed(buf[:n])
			for _, fr := range frames {
				if herr := s.handleFrame(fr); herr != nil {
					s.releaseAssignment()
					return herr
				}
			}
			if ferr != nil {
				s.releaseAssignment()
				return fmt.Errorf("peerconn: %w", ferr)
			}
			if err := s.runEmissions(); err != nil {
				s.releaseAssignment()
				return err
			}
		}
		if err != nil && !isTimeout(err) {
			s.releaseAssignment()
			return fmt.Errorf("peerconn: read: %w", err)
		}

		now := time.Now()
		if now.Sub(s.lastInbound) > s.cfg.DeadTimeout {
			s.releaseAssignment()
			return ErrDeadTimeout
		}
		if now.Sub(s.lastInbound) > s.cfg.KeepAliveInterval {
			if err := s.sendKeepAlive(); err != nil {
				s.releaseAssignment()
				return err
			}
		}
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func (s *Session) releaseAssignment() {
	if s.assigned != nil {
		s.sched.PeerDropped(s.assigned)
		s.assigned = nil
	}
}

func (s *Session) handleFrame(f wireproto.Frame) error {
	switch f.Kind {
	case wireproto.FrameKeepAlive:
		s.lastInbound = time.Now()
		return nil
	case wireproto.FrameMessage:
		return s.handleMessage(f.ID, f.Payload)
	default:
		return nil
	}
}

func (s *Session) handleMessage(id wireproto.MessageID, payload []byte) error {
	s.lastInbound = time.Now()
	defer func() { s.messagesSeen++ }()

	switch id {
	case wireproto.MsgChoke:
		s.peerChoking = true
		s.window = nil
		if s.assigned != nil {
			s.assigned.ClearInflight()
		}
	case wireproto.MsgUnchoke:
		s.peerChoking = false
	case wireproto.MsgInterested:
		s.peerInterested = true
	case wireproto.MsgNotInterested:
		s.peerInterested = false
	case wireproto.MsgHave:
		if len(payload) != 4 {
			return fmt.Errorf("%w: have payload length %d", ErrProtocolViolation, len(payload))
		}
		index := int(binary.BigEndian.Uint32(payload))
		s.remoteBitfield.Set(index)
	case wireproto.MsgBitfield:
		if s.messagesSeen > 0 {
			return fmt.Errorf("%w: bitfield received after other messages", ErrProtocolViolation)
		}
		n := len(payload)
		if n > len(s.remoteBitfield) {
			n = len(s.remoteBitfield)
		}
		copy(s.remoteBitfield, payload[:n])
	case wireproto.MsgRequest, wireproto.MsgCancel, wireproto.MsgPort:
		// Acknowledged only: this is a leecher, it serves no blocks.
	case wireproto.MsgPiece:
		return s.handlePiece(payload)
	default:
		s.log.Debug("ignoring unknown message", "id", uint8(id))
	}
	return nil
}

func (s *Session) handlePiece(payload []byte) error {
	if len(payload) < 8 {
		return fmt.Errorf("%w: piece payload too short", ErrProtocolViolation)
	}
	index := int(binary.BigEndian.Uint32(payload[0:4]))
	begin := int(binary.BigEndian.Uint32(payload[4:8]))
	block := payload[8:]

	if s.assigned == nil || s.assigned.Index != index {
		s.log.Debug("discarding piece for unassigned index", "index", index)
		return nil
	}

	matched := false
	for i, req := range s.window {
		if req.begin == begin && req.length == len(block) {
			s.window = append(s.window[:i], s.window[i+1:]...)
			matched = true
			break
		}
	}
	if !matched {
		s.log.Debug("discarding unmatched piece block", "index", index, "begin", begin)
		return nil
	}

	if err := s.store.AcceptBlock(s.assigned, begin, block); err != nil {
		return fmt.Errorf("peerconn: accept block: %w", err)
	}

	if !s.assigned.Completed() {
		return nil
	}

	next, err := s.sched.PieceCompleted(s.remoteBitfield, s.assigned)
	if err != nil && !errors.Is(err, piece.ErrDigestMismatch) {
		return fmt.Errorf("peerconn: piece completed: %w", err)
	}
	if errors.Is(err, piece.ErrDigestMismatch) {
		// Same handle, reset by the store; keep the assignment for retry.
		s.assigned = next
		s.window = nil
		return nil
	}
	s.assigned = next
	s.window = nil
	return nil
}

func (s *Session) runEmissions() error {
	if s.assigned == nil {
		if h, ok := s.sched.NextPieceFor(s.remoteBitfield); ok {
			s.assigned = h
			if !s.amInterested {
				s.amInterested = true
				if err := s.send(wireproto.MsgInterested, nil); err != nil {
					return err
				}
			}
		}
	}

	for !s.peerChoking && s.assigned != nil && !s.assigned.Completed() && len(s.window) < s.cfg.RequestWindow {
		off, ok := s.assigned.NextBlockOffset(s.cfg.BlockSize)
		if !ok {
			break
		}
		length := s.cfg.BlockSize
		if s.assigned.Length-off < length {
			length = s.assigned.Length - off
		}
		if err := s.sendRequest(s.assigned.Index, off, length); err != nil {
			return err
		}
		s.assigned.MarkInflight(off)
		s.window = append(s.window, pendingRequest{begin: off, length: length})
	}
	return nil
}

func (s *Session) sendRequest(index, begin, length int) error {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:4], uint32(index))
	binary.BigEndian.PutUint32(payload[4:8], uint32(begin))
	binary.BigEndian.PutUint32(payload[8:12], uint32(length))
	return s.send(wireproto.MsgRequest, payload)
}

func (s *Session) sendKeepAlive() error {
	s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, err := s.conn.Write(wireproto.SerializeKeepAlive())
	return err
}

func (s *Session) send(id wireproto.MessageID, payload []byte) error {
	s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, err := s.conn.Write(wireproto.Serialize(id, payload))
	if err != nil {
		return fmt.Errorf("peerconn: send %s: %w", id, err)
	}
	return nil
}
