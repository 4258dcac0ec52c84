package piece

import "errors"

var (
	// ErrOutOfRangeBlock is returned when a block write would run past the
	// end of the piece's buffer (spec.md §4.4, §7).
	ErrOutOfRangeBlock = errors.New("piece: block out of range")
	// ErrDigestMismatch is returned by Finalize when the assembled buffer's
	// SHA-1 does not match the expected digest (spec.md §4.4, §7).
	ErrDigestMismatch = errors.New("piece: digest mismatch")
	// ErrAlreadyFinalized is returned when a write is attempted against a
	// piece that has already finalized successfully (spec.md §4.4
	// invariant: "once finalize returns Ok for index i, no further writes
	// to piece i are accepted").
	ErrAlreadyFinalized = errors.New("piece: already finalized")
)
