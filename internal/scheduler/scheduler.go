// Package scheduler implements the global piece coordinator (spec.md
// §4.5, C5): the completion bitmap, the assigned-piece set, sequential
// tie-break piece selection, and digest-mismatch retry bookkeeping.
//
// The teacher (_examples/StupidAfCoder-GoRent/torrent/torrent.go) folds
// this into an unbuffered Go channel (workQueue) that peer workers pull
// from and push back to on failure. That channel-of-work model doesn't
// give us a place to enforce "at most K retries then blacklist the peer"
// or an O(1) is_done check, so this is reified as its own lock-protected
// object per SPEC_FULL.md §5's "scheduler and piece store are logically
// single-owner" requirement, in the manner of the other example repos'
// mutex-guarded coordinators.
package scheduler

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"goleech/internal/bitfield"
	"goleech/internal/piece"
)

// ErrPeerBlacklisted is returned by PieceCompleted once a piece has
// failed digest verification maxRetries times. The caller (a peer
// session) should treat this as fatal and close the connection (spec.md
// §7: "after K, release piece and blacklist the peer").
var ErrPeerBlacklisted = errors.New("scheduler: peer blacklisted after repeated digest mismatches")

// ErrPieceUnrecoverable is returned by PieceCompleted once a piece has
// failed digest verification maxGlobalRetries times in total, across
// however many different peers were handed it in turn. The piece is
// retired from assignment entirely at that point: spec.md's per-peer
// retry budget (K=3) bounds a single peer's misbehavior, but says
// nothing about a piece whose bytes are simply never obtainable from
// the swarm. Without this second, persistent counter a bad piece would
// cycle through peers forever and Run would never return. The engine
// surfaces this as exit code 4, distinct from "all peers failed."
var ErrPieceUnrecoverable = errors.New("scheduler: piece unrecoverable after repeated verification failures across peers")

// globalRetryFactor sets maxGlobalRetries = maxRetries * globalRetryFactor:
// enough distinct peers must have failed the same piece before it's
// given up on entirely.
const globalRetryFactor = 3

// Notifier receives scheduler-level progress events. Implementations
// must not block or re-enter the scheduler (SPEC_FULL.md §12).
type Notifier interface {
	PieceVerified(index int)
	PieceFailed(index int, attempt int)
	Done()
}

// noopNotifier discards all events.
type noopNotifier struct{}

func (noopNotifier) PieceVerified(int)    {}
func (noopNotifier) PieceFailed(int, int) {}
func (noopNotifier) Done()                {}

// Scheduler is the single authoritative owner of piece assignment and
// completion state for one torrent (spec.md §4.5).
type Scheduler struct {
	mu sync.Mutex

	store      *piece.Store
	pieceLen   func(index int) int
	digest     func(index int) [20]byte
	numPieces  int
	maxRetries int
	notifier   Notifier
	log        *slog.Logger

	completion        []bool
	remaining         int
	assigned          map[int]bool
	retries           map[int]int
	globalAttempts    map[int]int
	permanentlyFailed map[int]bool
	maxGlobalRetries  int
}

// New creates a Scheduler for a torrent of numPieces pieces. alreadyDone
// is the set of indices the piece store found already persisted on disk
// from a previous run (spec.md §6); they are marked complete up front.
func New(store *piece.Store, numPieces int, pieceLen func(int) int, digest func(int) [20]byte, maxRetries int, alreadyDone map[int]bool, notifier Notifier, log *slog.Logger) *Scheduler {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Scheduler{
		store:             store,
		pieceLen:          pieceLen,
		digest:            digest,
		numPieces:         numPieces,
		maxRetries:        maxRetries,
		maxGlobalRetries:  maxRetries * globalRetryFactor,
		notifier:          notifier,
		log:               log.With("component", "scheduler"),
		completion:        make([]bool, numPieces),
		assigned:          make(map[int]bool),
		retries:           make(map[int]int),
		globalAttempts:    make(map[int]int),
		permanentlyFailed: make(map[int]bool),
	}
	s.remaining = numPieces
	for i := range s.completion {
		if alreadyDone[i] {
			s.completion[i] = true
			s.remaining--
		}
	}
	return s
}

// NextPieceFor returns the lowest-indexed piece that is neither complete
// nor assigned and that have advertises (spec.md §4.5 "Tie-break:
// sequential").
func (s *Scheduler) NextPieceFor(have bitfield.Bitfield) (*piece.Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextPieceForLocked(have)
}

func (s *Scheduler) nextPieceForLocked(have bitfield.Bitfield) (*piece.Handle, bool) {
	for i := 0; i < s.numPieces; i++ {
		if s.completion[i] || s.assigned[i] || s.permanentlyFailed[i] {
			continue
		}
		if !have.Has(i) {
			continue
		}
		s.assigned[i] = true
		h := s.store.BeginPiece(i, s.pieceLen(i), s.digest(i))
		return h, true
	}
	return nil, false
}

// PieceCompleted finalizes h through the piece store. On success it
// marks the piece done and immediately tries to hand the same peer its
// next piece. On digest mismatch it resets h for retry, up to
// maxRetries attempts, after which the piece is released to the general
// pool and ErrPeerBlacklisted is returned (spec.md §4.5, §7).
func (s *Scheduler) PieceCompleted(have bitfield.Bitfield, h *piece.Handle) (*piece.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h.Index < 0 || h.Index >= s.numPieces {
		return nil, fmt.Errorf("%w: %d", ErrNoSuchPiece, h.Index)
	}

	err := s.store.Finalize(h)
	if err != nil {
		if !errors.Is(err, piece.ErrDigestMismatch) {
			return nil, fmt.Errorf("scheduler: finalize piece %d: %w", h.Index, err)
		}

		s.retries[h.Index]++
		attempt := s.retries[h.Index]
		s.globalAttempts[h.Index]++
		s.notifier.PieceFailed(h.Index, attempt)

		if s.globalAttempts[h.Index] >= s.maxGlobalRetries {
			s.log.Error("piece unrecoverable after repeated failures across peers, giving up", "index", h.Index, "total_attempts", s.globalAttempts[h.Index])
			s.permanentlyFailed[h.Index] = true
			delete(s.assigned, h.Index)
			delete(s.retries, h.Index)
			return nil, ErrPieceUnrecoverable
		}

		if attempt >= s.maxRetries {
			s.log.Warn("piece exceeded per-peer retry budget, releasing and blacklisting peer", "index", h.Index, "attempts", attempt)
			delete(s.assigned, h.Index)
			delete(s.retries, h.Index)
			return nil, ErrPeerBlacklisted
		}
		return h, piece.ErrDigestMismatch
	}

	s.completion[h.Index] = true
	s.remaining--
	delete(s.assigned, h.Index)
	delete(s.retries, h.Index)
	s.notifier.PieceVerified(h.Index)
	if s.remaining == 0 {
		s.notifier.Done()
	}

	next, ok := s.nextPieceForLocked(have)
	if !ok {
		return nil, nil
	}
	return next, nil
}

// PeerDropped releases h's assignment so another peer session can pick
// it up; the in-flight buffer is discarded along with h (spec.md §4.5).
func (s *Scheduler) PeerDropped(h *piece.Handle) {
	if h == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.assigned, h.Index)
}

// IsDone reports whether every piece has been verified and persisted.
func (s *Scheduler) IsDone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remaining == 0
}

// CompletedCount returns how many pieces have verified so far, for
// progress reporting.
func (s *Scheduler) CompletedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.numPieces - s.remaining
}

// HasPermanentFailures reports whether any piece was given up on after
// exceeding the global retry budget (see ErrPieceUnrecoverable).
func (s *Scheduler) HasPermanentFailures() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.permanentlyFailed) > 0
}

// PermanentFailureCount returns how many pieces were permanently given up on.
func (s *Scheduler) PermanentFailureCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.permanentlyFailed)
}
