package scheduler

import "errors"

// ErrNoSuchPiece is returned when a caller references a piece index
// outside [0, N).
var ErrNoSuchPiece = errors.New("scheduler: no such piece index")
