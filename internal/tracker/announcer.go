package tracker

import "time"

// Announcer tracks when the next tracker announce is due. It is the Go
// equivalent of coast's Torrent.can_request()/last_request bookkeeping
// (original_source/src/torrent.py), reified as its own small state machine
// instead of an inline timestamp comparison — see SPEC_FULL.md §12.
type Announcer struct {
	interval     time.Duration
	backoff      time.Duration
	minBackoff   time.Duration
	maxBackoff   time.Duration
	lastAnnounce time.Time
}

// NewAnnouncer creates an Announcer that allows an immediate first
// announce, with the given initial backoff bounds for retry after a
// TrackerFailure (spec.md §7: "re-announce after backoff (initial 30 s,
// capped at interval)").
func NewAnnouncer(minBackoff time.Duration) *Announcer {
	return &Announcer{
		interval:   60 * time.Second,
		backoff:    minBackoff,
		minBackoff: minBackoff,
	}
}

// ShouldReannounce reports whether enough time has elapsed since the last
// recorded announce to issue another one: the tracker interval after a
// success, the current backoff wait after a failure.
func (a *Announcer) ShouldReannounce(now time.Time) bool {
	if a.lastAnnounce.IsZero() {
		return true
	}
	return now.Sub(a.lastAnnounce) >= a.interval
}

// RecordSuccess stores the tracker's reported interval (floored at 60s per
// spec.md §5) and resets the failure backoff.
func (a *Announcer) RecordSuccess(now time.Time, interval time.Duration) {
	a.lastAnnounce = now
	if interval < 60*time.Second {
		interval = 60 * time.Second
	}
	a.interval = interval
	a.backoff = a.minBackoff
	a.maxBackoff = interval
}

// RecordFailure advances the backoff for the next retry attempt, doubling
// up to the last known announce interval.
func (a *Announcer) RecordFailure(now time.Time) time.Duration {
	wait := a.backoff
	a.lastAnnounce = now
	a.interval = wait
	if a.maxBackoff > 0 && a.backoff*2 > a.maxBackoff {
		a.backoff = a.maxBackoff
	} else {
		a.backoff *= 2
	}
	return wait
}
