package engine

import (
	"log/slog"
	"time"

	"goleech/internal/progress"
)

// Config holds every tunable of a torrent run (SPEC_FULL.md §10.3,
// generalizing the teacher's module-level BLOCKSIZE/MAXBACKLOG constants
// into an explicit record threaded through the constructor).
type Config struct {
	MaxPeers      int
	BlockSize     int
	RequestWindow int

	DeadTimeout       time.Duration
	KeepAliveInterval time.Duration

	PortRangeLow  int
	PortRangeHigh int

	DownloadRoot string

	TrackerMinBackoff   time.Duration
	MaxAnnounceAttempts int

	MaxDigestRetries int

	// Progress, if non-nil, receives typed progress events as the
	// torrent proceeds (SPEC_FULL.md §12). A nil Progress simply means
	// nobody is listening.
	Progress *progress.Sink
	Logger   *slog.Logger
}

// DefaultConfig matches spec.md's stated defaults: MAX_PEERS=50, 16 KiB
// blocks, request window 10, port range 6881-6889, production-leaning
// timeouts.
func DefaultConfig() Config {
	return Config{
		MaxPeers:            50,
		BlockSize:           16 * 1024,
		RequestWindow:       10,
		DeadTimeout:         90 * time.Second,
		KeepAliveInterval:   90 * time.Second,
		PortRangeLow:        6881,
		PortRangeHigh:       6889,
		DownloadRoot:        "./downloads",
		TrackerMinBackoff:   30 * time.Second,
		MaxAnnounceAttempts: 5,
		MaxDigestRetries:    3,
	}
}
