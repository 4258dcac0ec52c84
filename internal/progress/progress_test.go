package progress

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSinkDeliversEvents(t *testing.T) {
	s := NewSink(4)
	s.PeerConnectedEvent("1.2.3.4:6881")
	s.PieceVerified(5)
	s.PieceFailed(6, 2)
	s.Done()

	got := []Event{<-s.Events(), <-s.Events(), <-s.Events(), <-s.Events()}
	require.Equal(t, PeerConnected, got[0].Kind)
	require.Equal(t, "1.2.3.4:6881", got[0].PeerAddr)
	require.Equal(t, PieceVerified, got[1].Kind)
	require.Equal(t, 5, got[1].PieceIndex)
	require.Equal(t, PieceFailed, got[2].Kind)
	require.Equal(t, 6, got[2].PieceIndex)
	require.Equal(t, 2, got[2].Attempt)
	require.Equal(t, Done, got[3].Kind)
}

func TestSinkDropsWhenFull(t *testing.T) {
	s := NewSink(1)
	s.PieceVerified(0)
	s.PieceVerified(1) // buffer full, dropped rather than blocking

	e := <-s.Events()
	require.Equal(t, 0, e.PieceIndex)
	require.Len(t, s.ch, 0)
}

func TestNilSinkIsNoop(t *testing.T) {
	var s *Sink
	require.NotPanics(t, func() {
		s.PieceVerified(1)
		s.Done()
	})
}
