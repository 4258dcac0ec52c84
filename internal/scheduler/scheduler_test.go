package scheduler

import (
	"crypto/sha1"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"goleech/internal/bitfield"
	"goleech/internal/piece"
)

type recordingNotifier struct {
	verified []int
	failed   []int
	done     bool
}

func (r *recordingNotifier) PieceVerified(index int)      { r.verified = append(r.verified, index) }
func (r *recordingNotifier) PieceFailed(index int, _ int) { r.failed = append(r.failed, index) }
func (r *recordingNotifier) Done()                        { r.done = true }

func testPieces(n int) (pieceLen func(int) int, digest func(int) [20]byte) {
	data := make([][]byte, n)
	lens := make([]int, n)
	digests := make([][20]byte, n)
	for i := range data {
		data[i] = []byte(fmt.Sprintf("piece-bytes-%d", i))
		lens[i] = len(data[i])
		digests[i] = sha1.Sum(data[i])
	}
	return func(i int) int { return lens[i] }, func(i int) [20]byte { return digests[i] }
}

func TestNextPieceForSequentialTieBreak(t *testing.T) {
	store, err := piece.NewStore(t.TempDir(), nil)
	require.NoError(t, err)
	pieceLen, digest := testPieces(3)
	s := New(store, 3, pieceLen, digest, 3, nil, nil, nil)

	have := bitfield.New(3)
	have.Set(0)
	have.Set(1)
	have.Set(2)

	h, ok := s.NextPieceFor(have)
	require.True(t, ok)
	require.Equal(t, 0, h.Index)

	h2, ok := s.NextPieceFor(have)
	require.True(t, ok)
	require.Equal(t, 1, h2.Index)
}

func TestNextPieceForRespectsPeerBitfield(t *testing.T) {
	store, err := piece.NewStore(t.TempDir(), nil)
	require.NoError(t, err)
	pieceLen, digest := testPieces(3)
	s := New(store, 3, pieceLen, digest, 3, nil, nil, nil)

	have := bitfield.New(3)
	have.Set(2)

	h, ok := s.NextPieceFor(have)
	require.True(t, ok)
	require.Equal(t, 2, h.Index)
}

// TestPieceCompletedDigestMismatchRetry reproduces spec.md §8 scenario 6:
// a digest mismatch resets the piece and keeps it assigned for the same
// peer, and after maxRetries failures the piece is released and the
// caller is told to blacklist the peer.
func TestPieceCompletedDigestMismatchRetry(t *testing.T) {
	store, err := piece.NewStore(t.TempDir(), nil)
	require.NoError(t, err)
	expected := sha1.Sum([]byte("correct-bytes"))
	pieceLen := func(int) int { return len("correct-bytes") }
	digest := func(int) [20]byte { return expected }

	notifier := &recordingNotifier{}
	s := New(store, 1, pieceLen, digest, 2, nil, notifier, nil)

	have := bitfield.New(1)
	have.Set(0)

	h, ok := s.NextPieceFor(have)
	require.True(t, ok)

	require.NoError(t, store.AcceptBlock(h, 0, []byte("wrong-bytes!!")))
	next, err := s.PieceCompleted(have, h)
	require.ErrorIs(t, err, piece.ErrDigestMismatch)
	require.Same(t, h, next)
	require.Equal(t, []int{0}, notifier.failed)

	// Second failure hits maxRetries=2: piece released, peer blacklisted.
	require.NoError(t, store.AcceptBlock(h, 0, []byte("wrong-bytes!!")))
	next, err = s.PieceCompleted(have, h)
	require.ErrorIs(t, err, ErrPeerBlacklisted)
	require.Nil(t, next)

	// Released piece is available again to a fresh peer.
	h2, ok := s.NextPieceFor(have)
	require.True(t, ok)
	require.Equal(t, 0, h2.Index)
	require.NoError(t, store.AcceptBlock(h2, 0, []byte("correct-bytes")))
	next, err = s.PieceCompleted(have, h2)
	require.NoError(t, err)
	require.Nil(t, next)
	require.True(t, s.IsDone())
	require.True(t, notifier.done)
}

func TestPieceCompletedRejectsOutOfRangeIndex(t *testing.T) {
	store, err := piece.NewStore(t.TempDir(), nil)
	require.NoError(t, err)
	pieceLen, digest := testPieces(1)
	s := New(store, 1, pieceLen, digest, 3, nil, nil, nil)

	bogus := store.BeginPiece(5, 4, [20]byte{})
	_, err = s.PieceCompleted(bitfield.New(1), bogus)
	require.ErrorIs(t, err, ErrNoSuchPiece)
}

// TestPieceCompletedGivesUpAfterGlobalRetryBudget reproduces a piece that
// keeps failing digest verification no matter which peer serves it: once
// the cross-peer retry budget is exhausted the piece is retired entirely
// and ErrPieceUnrecoverable is returned instead of cycling forever.
func TestPieceCompletedGivesUpAfterGlobalRetryBudget(t *testing.T) {
	store, err := piece.NewStore(t.TempDir(), nil)
	require.NoError(t, err)
	expected := sha1.Sum([]byte("correct-bytes"))
	pieceLen := func(int) int { return len("correct-bytes") }
	digest := func(int) [20]byte { return expected }

	notifier := &recordingNotifier{}
	const maxRetries = 1
	s := New(store, 1, pieceLen, digest, maxRetries, nil, notifier, nil)

	have := bitfield.New(1)
	have.Set(0)

	var lastErr error
	for i := 0; i < maxRetries*globalRetryFactor; i++ {
		h, ok := s.NextPieceFor(have)
		require.True(t, ok)
		require.NoError(t, store.AcceptBlock(h, 0, []byte("wrong-bytes!!")))
		_, lastErr = s.PieceCompleted(have, h)
	}
	require.ErrorIs(t, lastErr, ErrPieceUnrecoverable)
	require.True(t, s.HasPermanentFailures())
	require.Equal(t, 1, s.PermanentFailureCount())

	_, ok := s.NextPieceFor(have)
	require.False(t, ok, "permanently failed piece must not be reassigned")
}

func TestPeerDroppedReleasesAssignment(t *testing.T) {
	store, err := piece.NewStore(t.TempDir(), nil)
	require.NoError(t, err)
	pieceLen, digest := testPieces(1)
	s := New(store, 1, pieceLen, digest, 3, nil, nil, nil)

	have := bitfield.New(1)
	have.Set(0)

	h, ok := s.NextPieceFor(have)
	require.True(t, ok)
	s.PeerDropped(h)

	h2, ok := s.NextPieceFor(have)
	require.True(t, ok)
	require.Equal(t, 0, h2.Index)
}
