// Package progress implements the typed progress-event stream
// (SPEC_FULL.md §12, grounded on coast/peer.py and coast/torrent.py's GUI
// event callbacks) that internal/engine publishes to, and an embedding
// program can subscribe to, without pulling in the GUI this project's
// Non-goals exclude.
package progress

// Kind identifies which event a Event carries.
type Kind int

const (
	PeerConnected Kind = iota
	PeerDropped
	PieceVerified
	PieceFailed
	Done
)

func (k Kind) String() string {
	switch k {
	case PeerConnected:
		return "peer-connected"
	case PeerDropped:
		return "peer-dropped"
	case PieceVerified:
		return "piece-verified"
	case PieceFailed:
		return "piece-failed"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// Event is one progress notification. Only the fields relevant to Kind
// are populated.
type Event struct {
	Kind Kind

	// PeerAddr is set for PeerConnected/PeerDropped.
	PeerAddr string

	// PieceIndex is set for PieceVerified/PieceFailed.
	PieceIndex int
	// Attempt is the 1-based retry count, set for PieceFailed.
	Attempt int

	// Err carries the reason for PeerDropped, if any.
	Err error
}

// Sink is a buffered fan-out point for progress events. The zero value is
// not usable; construct with NewSink. A Sink with no subscriber simply
// drops events once its buffer is full, so a slow or absent consumer
// never stalls the torrent runtime.
type Sink struct {
	ch chan Event
}

// NewSink creates a Sink with the given buffer capacity.
func NewSink(capacity int) *Sink {
	if capacity <= 0 {
		capacity = 64
	}
	return &Sink{ch: make(chan Event, capacity)}
}

// Events returns the channel subscribers should range over.
func (s *Sink) Events() <-chan Event {
	return s.ch
}

// Close closes the underlying channel. Safe to call once, after the
// runtime that owns the Sink has stopped publishing.
func (s *Sink) Close() {
	close(s.ch)
}

func (s *Sink) publish(e Event) {
	if s == nil {
		return
	}
	select {
	case s.ch <- e:
	default:
		// Buffer full: drop rather than block the torrent runtime.
	}
}

// PeerConnectedEvent publishes a PeerConnected event.
func (s *Sink) PeerConnectedEvent(addr string) { s.publish(Event{Kind: PeerConnected, PeerAddr: addr}) }

// PeerDroppedEvent publishes a PeerDropped event.
func (s *Sink) PeerDroppedEvent(addr string, err error) {
	s.publish(Event{Kind: PeerDropped, PeerAddr: addr, Err: err})
}

// PieceVerified implements scheduler.Notifier.
func (s *Sink) PieceVerified(index int) {
	s.publish(Event{Kind: PieceVerified, PieceIndex: index})
}

// PieceFailed implements scheduler.Notifier.
func (s *Sink) PieceFailed(index int, attempt int) {
	s.publish(Event{Kind: PieceFailed, PieceIndex: index, Attempt: attempt})
}

// Done implements scheduler.Notifier.
func (s *Sink) Done() {
	s.publish(Event{Kind: Done})
}
