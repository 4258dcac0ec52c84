package peerconn

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goleech/internal/bitfield"
	"goleech/internal/piece"
	"goleech/internal/wireproto"
)

type fakeScheduler struct {
	handle   *piece.Handle
	assigned bool
}

func (f *fakeScheduler) NextPieceFor(have bitfield.Bitfield) (*piece.Handle, bool) {
	if f.assigned || f.handle == nil {
		return nil, false
	}
	f.assigned = true
	return f.handle, true
}

func (f *fakeScheduler) PieceCompleted(have bitfield.Bitfield, h *piece.Handle) (*piece.Handle, error) {
	f.assigned = false
	return nil, nil
}

func (f *fakeScheduler) PeerDropped(h *piece.Handle) {
	f.assigned = false
}

// listenerPair starts a loopback listener and returns its address plus a
// channel that yields the accepted server-side connection.
func listenerPair(t *testing.T) (addr string, accepted <-chan net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	ch := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			ch <- c
		}
	}()
	return ln.Addr().String(), ch
}

func readRawFrame(t *testing.T, r io.Reader) (id wireproto.MessageID, payload []byte, keepAlive bool) {
	t.Helper()
	var lenBuf [4]byte
	_, err := io.ReadFull(r, lenBuf[:])
	require.NoError(t, err)
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length == 0 {
		return 0, nil, true
	}
	body := make([]byte, length)
	_, err = io.ReadFull(r, body)
	require.NoError(t, err)
	return wireproto.MessageID(body[0]), body[1:], false
}

func TestDialRejectsInfoHashMismatch(t *testing.T) {
	addr, accepted := listenerPair(t)
	infoHash := [20]byte{1, 2, 3}
	wrongHash := [20]byte{9, 9, 9}
	ourID := [20]byte{4, 5, 6}

	dialErr := make(chan error, 1)
	go func() {
		_, err := Dial(context.Background(), addr, infoHash, ourID, 16, &fakeScheduler{}, nil, DefaultConfig(), nil)
		dialErr <- err
	}()

	server := <-accepted
	defer server.Close()

	buf := make([]byte, 68)
	_, err := io.ReadFull(server, buf)
	require.NoError(t, err)

	reply := wireproto.NewHandshake(wrongHash, [20]byte{7, 7, 7}).Serialize()
	_, err = server.Write(reply)
	require.NoError(t, err)

	err = <-dialErr
	require.ErrorIs(t, err, ErrHandshakeInfoHashMismatch)
}

// TestRequestWindowBound reproduces spec.md §8 scenario 5: after Unchoke,
// a peer with an incomplete assigned piece emits exactly W=10 Requests,
// then exactly one more after a correctly-matched Piece reply.
func TestRequestWindowBound(t *testing.T) {
	addr, accepted := listenerPair(t)
	infoHash := [20]byte{1, 2, 3}
	ourID := [20]byte{4, 5, 6}

	const blockSize = 16 * 1024
	const numBlocks = 11
	store, err := piece.NewStore(t.TempDir(), nil)
	require.NoError(t, err)
	handle := store.BeginPiece(0, numBlocks*blockSize, [20]byte{})
	sched := &fakeScheduler{handle: handle}

	sessCh := make(chan *Session, 1)
	dialErr := make(chan error, 1)
	go func() {
		sess, err := Dial(context.Background(), addr, infoHash, ourID, 4, sched, store, DefaultConfig(), nil)
		if err != nil {
			dialErr <- err
			return
		}
		sessCh <- sess
	}()

	server := <-accepted
	defer server.Close()

	hsBuf := make([]byte, 68)
	_, err = io.ReadFull(server, hsBuf)
	require.NoError(t, err)
	_, err = server.Write(wireproto.NewHandshake(infoHash, [20]byte{7, 7, 7}).Serialize())
	require.NoError(t, err)

	var sess *Session
	select {
	case sess = <-sessCh:
	case err := <-dialErr:
		t.Fatalf("dial failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sess.Run(ctx)

	// Drain the session's opening Unchoke, then unchoke it from our side.
	id, _, _ := readRawFrame(t, server)
	require.Equal(t, wireproto.MsgUnchoke, id)

	_, err = server.Write(wireproto.Serialize(wireproto.MsgUnchoke, nil))
	require.NoError(t, err)

	// First: Interested, then exactly 10 Requests.
	id, _, _ = readRawFrame(t, server)
	require.Equal(t, wireproto.MsgInterested, id)

	var begins []int
	for i := 0; i < 10; i++ {
		id, payload, _ := readRawFrame(t, server)
		require.Equal(t, wireproto.MsgRequest, id)
		require.Len(t, payload, 12)
		begins = append(begins, int(binary.BigEndian.Uint32(payload[4:8])))
	}
	for i, b := range begins {
		require.Equal(t, i*blockSize, b)
	}

	// Reply to the first request; exactly one new Request should follow.
	block := make([]byte, blockSize)
	piecePayload := make([]byte, 8+blockSize)
	binary.BigEndian.PutUint32(piecePayload[0:4], 0)
	binary.BigEndian.PutUint32(piecePayload[4:8], 0)
	copy(piecePayload[8:], block)
	_, err = server.Write(wireproto.Serialize(wireproto.MsgPiece, piecePayload))
	require.NoError(t, err)

	id, payload, _ := readRawFrame(t, server)
	require.Equal(t, wireproto.MsgRequest, id)
	require.Equal(t, 10*blockSize, int(binary.BigEndian.Uint32(payload[4:8])))
}
