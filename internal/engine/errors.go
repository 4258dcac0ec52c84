package engine

import "errors"

var (
	// ErrAllPeersFailed is returned by Run when no peer from the tracker's
	// list (across all re-announce attempts) could ever be reached (spec.md
	// §6 "CLI surface" exit code 3).
	ErrAllPeersFailed = errors.New("engine: all peers failed")

	// ErrTrackerUnreachable is returned by Run when the initial announce
	// itself fails (network error, a body that does not decode as a
	// bencoded dictionary, or a tracker "failure reason"; the HTTP status
	// code is not checked) before any peer pool work begins (spec.md §6
	// "CLI surface" exit code 2).
	ErrTrackerUnreachable = errors.New("engine: initial tracker announce failed")

	// ErrVerificationFailed is returned by Run when at least one piece
	// was given up on after exceeding its global digest-mismatch retry
	// budget across every peer that was handed it (spec.md §6 "CLI
	// surface" exit code 4).
	ErrVerificationFailed = errors.New("engine: piece verification failed beyond retry budget")
)
