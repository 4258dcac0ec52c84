package piece

import (
	"crypto/sha1"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := NewStore(dir, nil)
	require.NoError(t, err)
	return s
}

// TestAcceptBlockAndFinalize reproduces the "block coverage" testable
// property from spec.md §8: a piece finalizes only once every block has
// been written, and the resulting digest matches.
func TestAcceptBlockAndFinalize(t *testing.T) {
	s := newTestStore(t)
	data := []byte("0123456789abcdef")
	digest := sha1.Sum(data)

	h := s.BeginPiece(0, len(data), digest)
	require.False(t, h.Completed())

	require.NoError(t, s.AcceptBlock(h, 8, data[8:]))
	require.False(t, h.Completed())

	require.NoError(t, s.AcceptBlock(h, 0, data[:8]))
	require.True(t, h.Completed())

	require.NoError(t, s.Finalize(h))

	persisted, err := os.ReadFile(filepath.Join(s.root, tmpDirName, "00000000.piece"))
	require.NoError(t, err)
	require.Equal(t, data, persisted)
}

func TestAcceptBlockOutOfRange(t *testing.T) {
	s := newTestStore(t)
	h := s.BeginPiece(0, 16, [20]byte{})
	err := s.AcceptBlock(h, 10, make([]byte, 10))
	require.ErrorIs(t, err, ErrOutOfRangeBlock)
}

// TestFinalizeDigestMismatchAllowsRetry reproduces spec.md §8 scenario 6:
// a digest mismatch discards the buffer but leaves the handle usable for
// a fresh attempt, which succeeds once the correct bytes are supplied.
func TestFinalizeDigestMismatchAllowsRetry(t *testing.T) {
	s := newTestStore(t)
	good := []byte("the-real-piece-bytes")
	digest := sha1.Sum(good)

	h := s.BeginPiece(0, len(good), digest)
	require.NoError(t, s.AcceptBlock(h, 0, []byte("corrupted-garbage!!!")[:len(good)]))
	require.True(t, h.Completed())

	err := s.Finalize(h)
	require.ErrorIs(t, err, ErrDigestMismatch)

	// Handle survives for retry: buffer was reset, so it reports incomplete.
	require.False(t, h.Completed())
	require.NoError(t, s.AcceptBlock(h, 0, good))
	require.NoError(t, s.Finalize(h))
}

func TestAcceptBlockAfterFinalizeRejected(t *testing.T) {
	s := newTestStore(t)
	data := []byte("abc")
	digest := sha1.Sum(data)
	h := s.BeginPiece(0, len(data), digest)
	require.NoError(t, s.AcceptBlock(h, 0, data))
	require.NoError(t, s.Finalize(h))

	err := s.AcceptBlock(h, 0, data)
	require.ErrorIs(t, err, ErrAlreadyFinalized)
}

func TestNextBlockOffset(t *testing.T) {
	h := &Handle{Length: 48, completed: map[int]int{}, inflight: map[int]struct{}{}}
	off, ok := h.NextBlockOffset(16)
	require.True(t, ok)
	require.Equal(t, 0, off)

	h.MarkInflight(0)
	off, ok = h.NextBlockOffset(16)
	require.True(t, ok)
	require.Equal(t, 16, off)

	h.completed[0] = 16
	h.completed[16] = 16
	h.completed[32] = 16
	_, ok = h.NextBlockOffset(16)
	require.False(t, ok)
}

func TestAssembleFinal(t *testing.T) {
	s := newTestStore(t)
	parts := [][]byte{[]byte("hello "), []byte("world"), []byte("!")}
	for i, p := range parts {
		digest := sha1.Sum(p)
		h := s.BeginPiece(i, len(p), digest)
		require.NoError(t, s.AcceptBlock(h, 0, p))
		require.NoError(t, s.Finalize(h))
	}

	out := filepath.Join(t.TempDir(), "final.bin")
	require.NoError(t, s.AssembleFinal(len(parts), out))

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "hello world!", string(got))
}

func TestScanCompleted(t *testing.T) {
	s := newTestStore(t)
	data := []byte("persisted-piece")
	digest := sha1.Sum(data)
	h := s.BeginPiece(2, len(data), digest)
	require.NoError(t, s.AcceptBlock(h, 0, data))
	require.NoError(t, s.Finalize(h))

	lens := map[int]int{0: 4, 1: 4, 2: len(data)}
	digests := map[int][20]byte{2: digest}
	done, err := s.ScanCompleted(3, func(i int) int { return lens[i] }, func(i int) [20]byte { return digests[i] })
	require.NoError(t, err)
	require.Equal(t, map[int]bool{2: true}, done)
}
