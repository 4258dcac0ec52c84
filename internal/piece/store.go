// Package piece implements the piece store (spec.md §4.4, C4): the
// in-memory buffer and block bookkeeping for a piece under assembly, its
// digest verification, and persistence to the on-disk temporary area.
package piece

import (
	"crypto/sha1"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

const tmpDirName = "tmp"

// indexWidth is the fixed zero-padded width piece files are named with, so
// that lexicographic directory listing order matches numeric piece order
// (spec.md §6).
const indexWidth = 8

// Handle is a piece under assembly. It is owned exclusively by whichever
// peer session the scheduler assigned it to (spec.md §3 Piece lifecycle).
type Handle struct {
	Index          int
	Length         int
	ExpectedDigest [20]byte

	buf       []byte
	completed map[int]int // offset -> length written at that offset
	inflight  map[int]struct{}
	finalized bool
}

// Completed reports whether every byte of the piece has been written.
func (h *Handle) Completed() bool {
	covered := 0
	for _, n := range h.completed {
		covered += n
	}
	return covered >= h.Length
}

// MarkInflight records that a block starting at begin has been requested
// but not yet served.
func (h *Handle) MarkInflight(begin int) {
	h.inflight[begin] = struct{}{}
}

// ClearInflight drops every in-flight marker (used on Choke: spec.md §4.3
// "drop all outstanding requests from the window").
func (h *Handle) ClearInflight() {
	h.inflight = make(map[int]struct{})
}

// IsInflight reports whether a block at begin is currently outstanding.
func (h *Handle) IsInflight(begin int) bool {
	_, ok := h.inflight[begin]
	return ok
}

// IsDone reports whether a block at begin has already been written.
func (h *Handle) IsDone(begin int) bool {
	_, ok := h.completed[begin]
	return ok
}

// NextBlockOffset returns the smallest byte offset that is neither
// completed nor in-flight, scanning in blockLen-sized steps (spec.md §4.3
// emission rule). ok is false once every offset is accounted for.
func (h *Handle) NextBlockOffset(blockLen int) (offset int, ok bool) {
	for off := 0; off < h.Length; off += blockLen {
		if h.IsDone(off) || h.IsInflight(off) {
			continue
		}
		return off, true
	}
	return 0, false
}

// Store owns the per-piece buffers during assembly and the on-disk
// temporary area they are persisted to.
type Store struct {
	root string
	log  *slog.Logger
}

// NewStore creates a Store rooted at downloadRoot/tmp, creating the
// directory if needed.
func NewStore(downloadRoot string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	tmpDir := filepath.Join(downloadRoot, tmpDirName)
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("piece: create tmp dir: %w", err)
	}
	return &Store{root: downloadRoot, log: log.With("component", "piece")}, nil
}

// BeginPiece allocates a fresh buffer for index, sized to length, with
// empty completed/in-flight sets (spec.md §4.4).
func (s *Store) BeginPiece(index, length int, expectedDigest [20]byte) *Handle {
	return &Handle{
		Index:          index,
		Length:         length,
		ExpectedDigest: expectedDigest,
		buf:            make([]byte, length),
		completed:      make(map[int]int),
		inflight:       make(map[int]struct{}),
	}
}

// AcceptBlock copies data into h's buffer at begin, recording begin as
// completed. It fails with ErrOutOfRangeBlock if the write would run past
// the piece's expected length (spec.md §4.4).
func (s *Store) AcceptBlock(h *Handle, begin int, data []byte) error {
	if h.finalized {
		return fmt.Errorf("%w: piece %d", ErrAlreadyFinalized, h.Index)
	}
	if begin < 0 || begin+len(data) > h.Length {
		return fmt.Errorf("%w: piece %d begin %d len %d exceeds length %d",
			ErrOutOfRangeBlock, h.Index, begin, len(data), h.Length)
	}
	copy(h.buf[begin:], data)
	h.completed[begin] = len(data)
	delete(h.inflight, begin)
	return nil
}

// Finalize verifies that every byte of h's buffer is accounted for and
// that its SHA-1 digest matches, then persists it to
// <root>/tmp/<index>.piece and drops the in-memory buffer. On a digest
// mismatch the buffer contents are discarded but h itself (and its
// assignment) survives so the caller can retry (spec.md §4.4, §7
// DigestMismatch).
func (s *Store) Finalize(h *Handle) error {
	if !h.Completed() {
		return fmt.Errorf("piece: finalize called on incomplete piece %d", h.Index)
	}

	sum := sha1.Sum(h.buf)
	if sum != h.ExpectedDigest {
		s.log.Warn("piece failed digest verification", "index", h.Index)
		h.buf = make([]byte, h.Length)
		h.completed = make(map[int]int)
		h.inflight = make(map[int]struct{})
		return fmt.Errorf("%w: piece %d", ErrDigestMismatch, h.Index)
	}

	path := s.pathFor(h.Index)
	if err := os.WriteFile(path, h.buf, 0o644); err != nil {
		return fmt.Errorf("piece: write %s: %w", path, err)
	}
	h.buf = nil
	h.finalized = true
	s.log.Debug("piece verified and persisted", "index", h.Index, "path", path)
	return nil
}

func (s *Store) pathFor(index int) string {
	return filepath.Join(s.root, tmpDirName, fmt.Sprintf("%0*d.piece", indexWidth, index))
}

// ScanCompleted inspects the temporary directory for already-persisted
// piece files from a previous run and returns the set of indices found,
// verified against expectedLength/expectedDigest so a partially-written or
// corrupted leftover file is not mistaken for a completed piece (spec.md
// §6 "Persisted state"; §4.5 invariant about the completion bitmap at
// startup).
func (s *Store) ScanCompleted(n int, pieceLen func(index int) int, digest func(index int) [20]byte) (map[int]bool, error) {
	done := make(map[int]bool, n)
	for i := 0; i < n; i++ {
		path := s.pathFor(i)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("piece: scan %s: %w", path, err)
		}
		if len(data) != pieceLen(i) {
			continue
		}
		if sha1.Sum(data) != digest(i) {
			continue
		}
		done[i] = true
	}
	return done, nil
}

// AssembleFinal concatenates all n temporary piece files, in ascending
// index order, into outPath (spec.md §4.4 assemble_final).
func (s *Store) AssembleFinal(n int, outPath string) error {
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	sort.Ints(indices)

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("piece: create output %s: %w", outPath, err)
	}
	defer out.Close()

	for _, i := range indices {
		path := s.pathFor(i)
		in, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("piece: open %s: %w", path, err)
		}
		_, copyErr := io.Copy(out, in)
		in.Close()
		if copyErr != nil {
			return fmt.Errorf("piece: assemble %s: %w", path, copyErr)
		}
	}
	s.log.Info("assembled final file", "path", outPath, "pieces", n)
	return nil
}
